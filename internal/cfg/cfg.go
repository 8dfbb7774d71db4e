package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"inventory-forecast/internal/common"
	"inventory-forecast/internal/database"
)

type Settings struct {
	DB database.Config

	SecretKey    string
	JWTAlgorithm string
	LogFile      string
	LogLevel     string

	ModelDir     string
	ModelPath    string
	EncoderPath  string
	MetadataPath string
	AliasFile    string

	Port        int
	MetricsPort int
	DataPath    string

	DatasetTable string
	DatasetCSV   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RetrainQueue  string

	DriftPValue float64
	DriftRatio  float64

	SNSRegion   string
	SNSTopicARN string

	ServiceURL   string
	ServiceToken string
	RESTTimeout  time.Duration
}

type ConfigFile struct {
	Database database.Config `yaml:"database"`

	Auth struct {
		SecretKey    string `yaml:"secretKey"`
		JWTAlgorithm string `yaml:"jwtAlgorithm"`
	} `yaml:"auth"`

	Logging struct {
		File  string `yaml:"file"`
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Model struct {
		Dir          string `yaml:"dir"`
		ModelPath    string `yaml:"modelPath"`
		EncoderPath  string `yaml:"encoderPath"`
		MetadataPath string `yaml:"metadataPath"`
		AliasFile    string `yaml:"aliasFile"`
	} `yaml:"model"`

	Server struct {
		Port        int    `yaml:"port"`
		MetricsPort int    `yaml:"metricsPort"`
		DataPath    string `yaml:"dataPath"`
	} `yaml:"server"`

	Dataset struct {
		Table string `yaml:"table"`
		CSV   string `yaml:"csv"`
	} `yaml:"dataset"`

	Retrain struct {
		RedisAddr     string `yaml:"redisAddr"`
		RedisPassword string `yaml:"redisPassword"`
		RedisDB       int    `yaml:"redisDB"`
		Queue         string `yaml:"queue"`
	} `yaml:"retrain"`

	Drift struct {
		PValue float64 `yaml:"pValue"`
		Ratio  float64 `yaml:"ratio"`
	} `yaml:"drift"`

	Alerts struct {
		SNSRegion   string `yaml:"snsRegion"`
		SNSTopicARN string `yaml:"snsTopicARN"`
	} `yaml:"alerts"`

	Service struct {
		URL         string `yaml:"url"`
		Token       string `yaml:"token"`
		RESTTimeout string `yaml:"restTimeout"`
	} `yaml:"service"`
}

const defaultRESTTimeout = 10 * time.Second

var supportedJWTAlgorithms = map[string]bool{"HS256": true, "HS384": true, "HS512": true}

func Load() (Settings, error) {
	loadDotenv()

	// YAML file first, environment variables override it
	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}

	return loadFromEnv()
}

// loadDotenv populates the environment from a .env file. Variables that are
// already set win, and a missing file is not an error.
func loadDotenv() {
	path := getEnvOrDefault(common.EnvDotenvFile, common.DefaultDotenvFile)
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("file", path).Msg("Could not parse dotenv file")
	}
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	restTimeout, err := time.ParseDuration(config.Service.RESTTimeout)
	if err != nil {
		restTimeout = defaultRESTTimeout
	}

	db := config.Database
	db.Driver = getEnvOrDefault(common.EnvDBDriver, orDefault(db.Driver, common.DefaultDBDriver))
	db.User = getEnvOrDefault(common.EnvDBUser, orDefault(db.User, common.DefaultDBUser))
	db.Password = getEnvOrDefault(common.EnvDBPassword, db.Password)
	db.Host = getEnvOrDefault(common.EnvDBHost, orDefault(db.Host, common.DefaultDBHost))
	db.Port = getEnvOrDefault(common.EnvDBPort, orDefault(db.Port, defaultDBPort(db.Driver)))
	db.Name = getEnvOrDefault(common.EnvDBName, orDefault(db.Name, common.DefaultDBName))
	db.SSLMode = getEnvOrDefault(common.EnvDBSSLMode, orDefault(db.SSLMode, common.DefaultDBSSLMode))

	settings := Settings{
		DB:            db,
		SecretKey:     getEnvOrDefault(common.EnvSecretKey, orDefault(config.Auth.SecretKey, common.DefaultSecretKey)),
		JWTAlgorithm:  getEnvOrDefault(common.EnvJWTAlgorithm, orDefault(config.Auth.JWTAlgorithm, common.DefaultJWTAlgorithm)),
		LogFile:       getEnvOrDefault(common.EnvLogFile, orDefault(config.Logging.File, common.DefaultLogFile)),
		LogLevel:      getEnvOrDefault(common.EnvLogLevel, orDefault(config.Logging.Level, common.DefaultLogLevel)),
		ModelDir:      getEnvOrDefault(common.EnvModelDir, orDefault(config.Model.Dir, common.DefaultModelDir)),
		ModelPath:     getEnvOrDefault(common.EnvModelPath, orDefault(config.Model.ModelPath, common.DefaultModelFile)),
		EncoderPath:   getEnvOrDefault(common.EnvEncoderPath, orDefault(config.Model.EncoderPath, common.DefaultEncoderFile)),
		MetadataPath:  getEnvOrDefault(common.EnvMetadataPath, orDefault(config.Model.MetadataPath, common.DefaultMetadataFile)),
		AliasFile:     getEnvOrDefault(common.EnvAliasFile, config.Model.AliasFile),
		Port:          getIntFromEnvOrConfig(common.EnvPort, config.Server.Port, common.DefaultPort),
		MetricsPort:   getIntFromEnvOrConfig(common.EnvMetricsPort, config.Server.MetricsPort, common.DefaultMetricsPort),
		DataPath:      getEnvOrDefault(common.EnvDataPath, config.Server.DataPath),
		DatasetTable:  getEnvOrDefault(common.EnvDatasetTable, orDefault(config.Dataset.Table, common.DefaultDatasetTable)),
		DatasetCSV:    getEnvOrDefault(common.EnvDatasetCSV, orDefault(config.Dataset.CSV, common.DefaultDatasetCSV)),
		RedisAddr:     getEnvOrDefault(common.EnvRedisAddr, config.Retrain.RedisAddr),
		RedisPassword: getEnvOrDefault(common.EnvRedisPassword, config.Retrain.RedisPassword),
		RedisDB:       getIntFromEnvOrConfig(common.EnvRedisDB, config.Retrain.RedisDB, 0),
		RetrainQueue:  getEnvOrDefault(common.EnvRetrainQueue, orDefault(config.Retrain.Queue, common.DefaultRetrainQueue)),
		DriftPValue:   getFloatFromEnvOrConfig(common.EnvDriftPValue, config.Drift.PValue, common.DefaultDriftPValue),
		DriftRatio:    getFloatFromEnvOrConfig(common.EnvDriftRatio, config.Drift.Ratio, common.DefaultDriftRatio),
		SNSRegion:     getEnvOrDefault(common.EnvSNSRegion, config.Alerts.SNSRegion),
		SNSTopicARN:   getEnvOrDefault(common.EnvSNSTopicARN, config.Alerts.SNSTopicARN),
		ServiceURL:    getEnvOrDefault(common.EnvServiceURL, orDefault(config.Service.URL, common.DefaultServiceURL)),
		ServiceToken:  getEnvOrDefault(common.EnvServiceToken, config.Service.Token),
		RESTTimeout:   getDurationOrDefault(common.EnvRESTTimeout, restTimeout),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

func loadFromEnv() (Settings, error) {
	driver := getEnvOrDefault(common.EnvDBDriver, common.DefaultDBDriver)

	settings := Settings{
		DB: database.Config{
			Driver:   driver,
			User:     getEnvOrDefault(common.EnvDBUser, common.DefaultDBUser),
			Password: os.Getenv(common.EnvDBPassword),
			Host:     getEnvOrDefault(common.EnvDBHost, common.DefaultDBHost),
			Port:     getEnvOrDefault(common.EnvDBPort, defaultDBPort(driver)),
			Name:     getEnvOrDefault(common.EnvDBName, common.DefaultDBName),
			SSLMode:  getEnvOrDefault(common.EnvDBSSLMode, common.DefaultDBSSLMode),
		},
		SecretKey:     getEnvOrDefault(common.EnvSecretKey, common.DefaultSecretKey),
		JWTAlgorithm:  getEnvOrDefault(common.EnvJWTAlgorithm, common.DefaultJWTAlgorithm),
		LogFile:       getEnvOrDefault(common.EnvLogFile, common.DefaultLogFile),
		LogLevel:      getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		ModelDir:      getEnvOrDefault(common.EnvModelDir, common.DefaultModelDir),
		ModelPath:     getEnvOrDefault(common.EnvModelPath, common.DefaultModelFile),
		EncoderPath:   getEnvOrDefault(common.EnvEncoderPath, common.DefaultEncoderFile),
		MetadataPath:  getEnvOrDefault(common.EnvMetadataPath, common.DefaultMetadataFile),
		AliasFile:     os.Getenv(common.EnvAliasFile), // optional
		Port:          getIntOrDefault(common.EnvPort, common.DefaultPort),
		MetricsPort:   getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		DataPath:      os.Getenv(common.EnvDataPath), // optional
		DatasetTable:  getEnvOrDefault(common.EnvDatasetTable, common.DefaultDatasetTable),
		DatasetCSV:    getEnvOrDefault(common.EnvDatasetCSV, common.DefaultDatasetCSV),
		RedisAddr:     os.Getenv(common.EnvRedisAddr), // empty disables the retrain queue
		RedisPassword: os.Getenv(common.EnvRedisPassword),
		RedisDB:       getIntOrDefault(common.EnvRedisDB, 0),
		RetrainQueue:  getEnvOrDefault(common.EnvRetrainQueue, common.DefaultRetrainQueue),
		DriftPValue:   getFloatOrDefault(common.EnvDriftPValue, common.DefaultDriftPValue),
		DriftRatio:    getFloatOrDefault(common.EnvDriftRatio, common.DefaultDriftRatio),
		SNSRegion:     os.Getenv(common.EnvSNSRegion),
		SNSTopicARN:   os.Getenv(common.EnvSNSTopicARN),
		ServiceURL:    getEnvOrDefault(common.EnvServiceURL, common.DefaultServiceURL),
		ServiceToken:  os.Getenv(common.EnvServiceToken),
		RESTTimeout:   getDurationOrDefault(common.EnvRESTTimeout, defaultRESTTimeout),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}

	return settings, nil
}

// ArtifactPaths resolves the three artifact files against ModelDir.
// Absolute paths are returned unchanged.
func (s *Settings) ArtifactPaths() (model, encoder, metadata string) {
	resolve := func(p string) string {
		if filepath.IsAbs(p) || s.ModelDir == "" {
			return p
		}
		return filepath.Join(s.ModelDir, p)
	}
	return resolve(s.ModelPath), resolve(s.EncoderPath), resolve(s.MetadataPath)
}

// RetrainQueueEnabled reports whether a Redis address is configured.
func (s *Settings) RetrainQueueEnabled() bool {
	return s.RedisAddr != ""
}

// SNSEnabled reports whether drift alerts go to SNS.
func (s *Settings) SNSEnabled() bool {
	return s.SNSTopicARN != ""
}

func defaultDBPort(driver string) string {
	if driver == database.DriverPostgres {
		return "5432"
	}
	return common.DefaultDBPort
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

// validateSettings performs validation of configuration values
func validateSettings(settings *Settings) error {
	if !database.Supported(settings.DB.Driver) {
		return fmt.Errorf("unsupported database driver %q, expected mysql or postgres", settings.DB.Driver)
	}
	if settings.DB.Host == "" || settings.DB.Name == "" {
		return fmt.Errorf("database host and name cannot be empty")
	}

	if settings.SecretKey == "" {
		return fmt.Errorf("secret key cannot be empty")
	}
	if !supportedJWTAlgorithms[settings.JWTAlgorithm] {
		return fmt.Errorf("unsupported JWT algorithm %q, expected HS256, HS384 or HS512", settings.JWTAlgorithm)
	}

	if settings.Port < common.MinPort || settings.Port > common.MaxPort {
		return fmt.Errorf("port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.Port)
	}
	if settings.MetricsPort < common.MinPort || settings.MetricsPort > common.MaxPort {
		return fmt.Errorf("metrics port must be between %d and %d, got %d", common.MinPort, common.MaxPort, settings.MetricsPort)
	}
	if settings.Port == settings.MetricsPort {
		return fmt.Errorf("port and metrics port must differ, both are %d", settings.Port)
	}

	if settings.ModelPath == "" || settings.EncoderPath == "" || settings.MetadataPath == "" {
		return fmt.Errorf("model, encoder and metadata paths cannot be empty")
	}

	if settings.RedisDB < 0 {
		return fmt.Errorf("redis DB index cannot be negative, got %d", settings.RedisDB)
	}
	if settings.RedisAddr != "" && settings.RetrainQueue == "" {
		return fmt.Errorf("retrain queue name cannot be empty when Redis is configured")
	}

	if settings.DriftPValue <= 0 || settings.DriftPValue >= 1 {
		return fmt.Errorf("drift p-value threshold must be between 0 and 1, got %f", settings.DriftPValue)
	}
	if settings.DriftRatio <= 0 || settings.DriftRatio >= 1 {
		return fmt.Errorf("drift alert ratio must be between 0 and 1, got %f", settings.DriftRatio)
	}
	if settings.SNSTopicARN != "" && settings.SNSRegion == "" {
		return fmt.Errorf("SNS region is required when an SNS topic is configured")
	}

	if settings.RESTTimeout < time.Second || settings.RESTTimeout > 5*time.Minute {
		return fmt.Errorf("REST timeout must be between 1s and 5m, got %v", settings.RESTTimeout)
	}

	return nil
}
