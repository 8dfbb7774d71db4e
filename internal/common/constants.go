package common

// Environment variable keys
const (
	EnvConfigFile    = "CONFIG_FILE"
	EnvDotenvFile    = "DOTENV_FILE"
	EnvDBDriver      = "DB_DRIVER"
	EnvDBUser        = "DB_USER"
	EnvDBPassword    = "DB_PASSWORD"
	EnvDBHost        = "DB_HOST"
	EnvDBPort        = "DB_PORT"
	EnvDBName        = "DB_NAME"
	EnvDBSSLMode     = "DB_SSLMODE"
	EnvSecretKey     = "SECRET_KEY"
	EnvJWTAlgorithm  = "JWT_ALGORITHM"
	EnvLogFile       = "LOG_FILE"
	EnvLogLevel      = "LOG_LEVEL"
	EnvModelDir      = "MODEL_DIR"
	EnvModelPath     = "MODEL_PATH"
	EnvEncoderPath   = "ENCODER_PATH"
	EnvMetadataPath  = "METADATA_PATH"
	EnvAliasFile     = "ALIAS_FILE"
	EnvPort          = "PORT"
	EnvMetricsPort   = "METRICS_PORT"
	EnvDataPath      = "DATA_PATH"
	EnvDatasetTable  = "DATASET_TABLE"
	EnvDatasetCSV    = "DATASET_CSV"
	EnvRedisAddr     = "REDIS_ADDR"
	EnvRedisPassword = "REDIS_PASSWORD"
	EnvRedisDB       = "REDIS_DB"
	EnvRetrainQueue  = "RETRAIN_QUEUE"
	EnvDriftPValue   = "DRIFT_PVALUE"
	EnvDriftRatio    = "DRIFT_RATIO"
	EnvSNSRegion     = "SNS_REGION"
	EnvSNSTopicARN   = "SNS_TOPIC_ARN"
	EnvServiceURL    = "SERVICE_URL"
	EnvServiceToken  = "SERVICE_TOKEN"
	EnvRESTTimeout   = "REST_TIMEOUT"
)

// Configuration defaults
const (
	DefaultDotenvFile   = ".env"
	DefaultDBDriver     = "mysql"
	DefaultDBUser       = "root"
	DefaultDBHost       = "localhost"
	DefaultDBPort       = "3306"
	DefaultDBName       = "epsdc_principal"
	DefaultDBSSLMode    = "disable"
	DefaultSecretKey    = "default_secret"
	DefaultJWTAlgorithm = "HS256"
	DefaultLogFile      = "ia_audit.log"
	DefaultLogLevel     = "info"
	DefaultModelDir     = "models"
	DefaultModelFile    = "modelo_cart.json"
	DefaultEncoderFile  = "encoder_etiquetas.json"
	DefaultMetadataFile = "model_metadata.json"
	DefaultPort         = 8000
	DefaultMetricsPort  = 9090
	DefaultDatasetTable = "dataset_entrenamiento"
	DefaultDatasetCSV   = "dataset_entrenamiento.csv"
	DefaultRetrainQueue = "forecast:retrain"
	DefaultDriftPValue  = 0.05
	DefaultDriftRatio   = 0.2 // alert when more than 20% of the columns drift
	DefaultServiceURL   = "http://localhost:8000"
	DefaultModelVersion = "cart_v1"
)

// Training defaults
const (
	DefaultTestSize        = 0.25
	DefaultSeed            = 42
	DefaultMaxDepth        = 6
	DefaultMinSamplesSplit = 4
	DefaultMinSamplesLeaf  = 1
)

// Dataset columns
const (
	TargetColumn         = "etiqueta"
	FallbackTargetColumn = "clase"
	StockMinimoColumn    = "stock_minimo"
)

// Roles carried in the JWT "role" claim
const (
	RoleAdmin = "admin"
)

// Validation constants
const (
	MinPort = 1024
	MaxPort = 65535
)
