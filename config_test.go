package reconviz_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/reconviz/reconviz"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	imageDir := filepath.Join(tmpDir, "images")
	test.That(t, os.Mkdir(imageDir, os.ModePerm), test.ShouldBeNil)

	configPath := filepath.Join(tmpDir, "config.yaml")
	content := `image_dir: ` + imageDir + `
output_dir: ` + filepath.Join(tmpDir, "output") + `
single_camera: true
stage_options:
  feature_extractor:
    --SiftExtraction.max_num_features: "4096"
`
	test.That(t, os.WriteFile(configPath, []byte(content), 0o644), test.ShouldBeNil)

	cfg, err := reconviz.LoadConfig(configPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.ImageDirectory, test.ShouldEqual, imageDir)
	test.That(t, cfg.SingleCamera, test.ShouldBeTrue)
	test.That(t, cfg.StageOptions["feature_extractor"]["--SiftExtraction.max_num_features"], test.ShouldEqual, "4096")
	// results_dir defaults under the output directory.
	test.That(t, cfg.ResultsDirectory, test.ShouldEqual, filepath.Join(tmpDir, "output", "results"))
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	test.That(t, os.WriteFile(configPath, []byte("imag_dir: typo\n"), 0o644), test.ShouldBeNil)

	_, err := reconviz.LoadConfig(configPath)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	tmpDir := t.TempDir()
	imageDir := filepath.Join(tmpDir, "images")
	test.That(t, os.Mkdir(imageDir, os.ModePerm), test.ShouldBeNil)

	cfg := &reconviz.Config{}
	err := cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "image_dir")

	cfg = &reconviz.Config{ImageDirectory: filepath.Join(tmpDir, "missing")}
	err = cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not a directory")

	cfg = &reconviz.Config{ImageDirectory: imageDir}
	err = cfg.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "output_dir")

	cfg = &reconviz.Config{ImageDirectory: imageDir, OutputDirectory: filepath.Join(tmpDir, "out")}
	test.That(t, cfg.Validate(), test.ShouldBeNil)
	test.That(t, cfg.ResultsDirectory, test.ShouldEqual, filepath.Join(tmpDir, "out", "results"))
}

func TestSetupDirectories(t *testing.T) {
	logger := golog.NewTestLogger(t)
	cfg, tmpDir, err := testhelperArchitecture(logger)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, os.RemoveAll(tmpDir), test.ShouldBeNil)
	}()

	for _, dir := range []string{
		cfg.OutputDirectory,
		cfg.SparseDirectory(),
		cfg.DenseDirectory(),
		cfg.ResultsDirectory,
	} {
		info, err := os.Stat(dir)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.IsDir(), test.ShouldBeTrue)
	}
}
