package ml

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"inventory-forecast/internal/common"
	"inventory-forecast/internal/features"

	"github.com/rs/zerolog/log"
)

// ModelMetadata describes the trained model and carries its feature schema.
type ModelMetadata struct {
	Version            string             `json:"version"`
	TrainedAt          time.Time          `json:"trained_at"`
	Features           []string           `json:"features"`
	Classes            []string           `json:"classes"`
	Accuracy           float64            `json:"accuracy"`
	F1Score            float64            `json:"f1"`
	DatasetSize        int                `json:"dataset_size"`
	TrainingRows       int                `json:"training_rows"`
	TestRows           int                `json:"test_rows"`
	Params             TreeParams         `json:"params"`
	TreeDepth          int                `json:"tree_depth"`
	TreeLeaves         int                `json:"tree_leaves"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
}

// ModelBundle is everything needed to serve predictions. Bundles are never
// mutated after construction; reloading replaces the whole bundle.
type ModelBundle struct {
	Spec     features.FeatureSpec
	Aliases  *features.AliasTable
	Model    *DecisionTree
	Encoder  *LabelEncoder
	Metadata ModelMetadata
	LoadedAt time.Time
}

// Version returns the metadata version, or the historical default label.
func (b *ModelBundle) Version() string {
	if b == nil || b.Metadata.Version == "" {
		return common.DefaultModelVersion
	}
	return b.Metadata.Version
}

// Validate checks that model, encoder and schema agree with each other.
func (b *ModelBundle) Validate() error {
	if b.Model == nil || b.Model.Root == nil {
		return fmt.Errorf("bundle has no model")
	}
	if b.Encoder == nil || b.Encoder.Len() == 0 {
		return fmt.Errorf("bundle has no encoder")
	}
	if b.Model.Features != b.Spec.Len() {
		return fmt.Errorf("model expects %d features but schema lists %d", b.Model.Features, b.Spec.Len())
	}
	if b.Model.Classes != b.Encoder.Len() {
		return fmt.Errorf("model has %d classes but encoder has %d", b.Model.Classes, b.Encoder.Len())
	}
	if err := b.Model.Check(); err != nil {
		return fmt.Errorf("malformed tree: %w", err)
	}
	return nil
}

// ArtifactStore reads and writes the active model, encoder and metadata files.
type ArtifactStore struct {
	dir          string
	modelFile    string
	encoderFile  string
	metadataFile string
	aliases      *features.AliasTable
}

// NewArtifactStore creates a store rooted at dir. aliases is attached to every
// loaded bundle; nil means the built-in table.
func NewArtifactStore(dir, modelFile, encoderFile, metadataFile string, aliases *features.AliasTable) *ArtifactStore {
	if aliases == nil {
		aliases = features.DefaultAliasTable()
	}
	return &ArtifactStore{
		dir:          dir,
		modelFile:    modelFile,
		encoderFile:  encoderFile,
		metadataFile: metadataFile,
		aliases:      aliases,
	}
}

func (s *ArtifactStore) ModelPath() string    { return s.resolve(s.modelFile) }
func (s *ArtifactStore) EncoderPath() string  { return s.resolve(s.encoderFile) }
func (s *ArtifactStore) MetadataPath() string { return s.resolve(s.metadataFile) }

func (s *ArtifactStore) resolve(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

// Load reads the three artifacts and returns a validated bundle.
func (s *ArtifactStore) Load() (*ModelBundle, error) {
	var tree DecisionTree
	if err := readJSON(s.ModelPath(), &tree); err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	var enc LabelEncoder
	if err := readJSON(s.EncoderPath(), &enc); err != nil {
		return nil, fmt.Errorf("load encoder: %w", err)
	}

	var md ModelMetadata
	if err := readJSON(s.MetadataPath(), &md); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load metadata: %w", err)
		}
		log.Warn().Str("path", s.MetadataPath()).Msg("model metadata not found, using default feature schema")
		md.Features = features.DefaultFeatureNames()
	}

	spec, err := features.NewFeatureSpec(md.Features...)
	if err != nil {
		return nil, fmt.Errorf("invalid feature schema in metadata: %w", err)
	}

	bundle := &ModelBundle{
		Spec:     spec,
		Aliases:  s.aliases,
		Model:    &tree,
		Encoder:  &enc,
		Metadata: md,
		LoadedAt: time.Now(),
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	log.Info().
		Str("version", bundle.Version()).
		Str("model_path", s.ModelPath()).
		Strs("classes", enc.Classes()).
		Msg("model artifacts loaded")

	return bundle, nil
}

// Save writes the bundle. Each file is written to a temp file and renamed
// into place; metadata goes last.
func (s *ArtifactStore) Save(bundle *ModelBundle) error {
	if err := bundle.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid bundle: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	md := bundle.Metadata
	md.Features = bundle.Spec.Names()
	md.Classes = bundle.Encoder.Classes()

	if err := writeJSON(s.ModelPath(), bundle.Model); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	if err := writeJSON(s.EncoderPath(), bundle.Encoder); err != nil {
		return fmt.Errorf("save encoder: %w", err)
	}
	if err := writeJSON(s.MetadataPath(), md); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
