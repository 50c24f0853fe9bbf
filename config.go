package reconviz

import (
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// DefaultExecutableName is what this program expects to call to run the
// reconstruction stages.
const DefaultExecutableName = "colmap"

// ResultsFileName is the interchange container written into the results
// directory after a successful run.
const ResultsFileName = "reconstruction_data.json.gz"

// TimingReportFileName is the stage-timing report written next to the
// results container.
const TimingReportFileName = "stage_timings.yaml"

// Config configures a reconstruction run.
type Config struct {
	// ImageDirectory holds the source photographs.
	ImageDirectory string `yaml:"image_dir"`
	// OutputDirectory receives the pipeline's working artifacts
	// (database, sparse model, dense workspace).
	OutputDirectory string `yaml:"output_dir"`
	// ResultsDirectory receives the interchange container and reports.
	// Defaults to OutputDirectory/results.
	ResultsDirectory string `yaml:"results_dir"`
	// SingleCamera tells the feature extractor that every image shares
	// one physical camera.
	SingleCamera bool `yaml:"single_camera"`
	// StageOptions carries extra command line options per stage name,
	// passed through to the external tool verbatim.
	StageOptions map[string]map[string]string `yaml:"stage_options"`
}

// LoadConfig reads a run configuration from a yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, errors.Wrap(err, "unable to read config")
	}
	var cfg Config
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.ImageDirectory == "" {
		return errors.New("image_dir is required")
	}
	if info, err := os.Stat(c.ImageDirectory); err != nil || !info.IsDir() {
		return errors.Errorf("image_dir %q is not a directory", c.ImageDirectory)
	}
	if c.OutputDirectory == "" {
		return errors.New("output_dir is required")
	}
	if c.ResultsDirectory == "" {
		c.ResultsDirectory = filepath.Join(c.OutputDirectory, "results")
	}
	return nil
}

// DatabasePath is the feature database the external tool accumulates.
func (c *Config) DatabasePath() string { return filepath.Join(c.OutputDirectory, "database.db") }

// SparseDirectory holds the sparse model(s) produced by mapping.
func (c *Config) SparseDirectory() string { return filepath.Join(c.OutputDirectory, "sparse") }

// DenseDirectory is the dense stereo workspace.
func (c *Config) DenseDirectory() string { return filepath.Join(c.OutputDirectory, "dense") }

// ResultsPath is the interchange container location.
func (c *Config) ResultsPath() string { return filepath.Join(c.ResultsDirectory, ResultsFileName) }

// SetupDirectories creates the working directory tree for a run.
func SetupDirectories(cfg *Config, logger golog.Logger) error {
	for _, dir := range []string{
		cfg.OutputDirectory,
		cfg.SparseDirectory(),
		cfg.DenseDirectory(),
		cfg.ResultsDirectory,
	} {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			logger.Debugf("%v directory does not exist, creating it", dir)
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return errors.Wrapf(err, "issue creating directory at %v", dir)
			}
		}
	}
	return nil
}
