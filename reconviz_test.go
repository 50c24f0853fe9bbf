package reconviz_test

import (
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"go.viam.com/test"
	"gopkg.in/yaml.v2"

	"github.com/reconviz/reconviz"
	"github.com/reconviz/reconviz/testhelper"
)

// The stage tests stand in an executable that always succeeds for the
// real reconstruction tool.
const testExecutableName = "true"

func testhelperArchitecture(logger golog.Logger) (*reconviz.Config, string, error) {
	return testhelper.CreateTempFolderArchitecture(logger)
}

func newTestService(t *testing.T, executable string) (reconviz.Service, *reconviz.Config) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	cfg, tmpDir, err := testhelper.CreateTempFolderArchitecture(logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, os.RemoveAll(tmpDir), test.ShouldBeNil)
	})

	svc, err := reconviz.New(context.Background(), cfg, logger, executable)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, svc.Close(), test.ShouldBeNil)
	})
	return svc, cfg
}

func TestNew(t *testing.T) {
	logger := golog.NewTestLogger(t)

	t.Run("executable not on PATH", func(t *testing.T) {
		cfg, tmpDir, err := testhelper.CreateTempFolderArchitecture(logger)
		test.That(t, err, test.ShouldBeNil)
		defer func() {
			test.That(t, os.RemoveAll(tmpDir), test.ShouldBeNil)
		}()

		_, err = reconviz.New(context.Background(), cfg, logger, "reconviz_no_such_binary")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "reconviz_no_such_binary")
	})

	t.Run("bad config", func(t *testing.T) {
		cfg := &reconviz.Config{OutputDirectory: t.TempDir()}
		_, err := reconviz.New(context.Background(), cfg, logger, testExecutableName)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "image_dir")
	})

	t.Run("success", func(t *testing.T) {
		svc, _ := newTestService(t, testExecutableName)
		test.That(t, svc, test.ShouldNotBeNil)
		test.That(t, svc.Dataset(), test.ShouldBeNil)
	})
}

func TestRunPipeline(t *testing.T) {
	svc, cfg := newTestService(t, testExecutableName)

	// The undistortion stage resolves the mapper's model directory at run
	// time; the stub executable never creates it.
	test.That(t, os.MkdirAll(filepath.Join(cfg.SparseDirectory(), "0"), os.ModePerm), test.ShouldBeNil)

	results, err := svc.RunPipeline(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(results), test.ShouldEqual, 7)

	wantOrder := []string{
		reconviz.StageFeatureExtraction,
		reconviz.StageFeatureMatching,
		reconviz.StageSparseMapping,
		reconviz.StageUndistortion,
		reconviz.StageStereoMatching,
		reconviz.StageStereoFusion,
		reconviz.StageMeshing,
	}
	for i, r := range results {
		test.That(t, r.Name, test.ShouldEqual, wantOrder[i])
		test.That(t, r.Success, test.ShouldBeTrue)
		test.That(t, r.Duration, test.ShouldBeGreaterThan, time.Duration(0))
	}
}

func TestRunPipelineStageFailure(t *testing.T) {
	svc, cfg := newTestService(t, "false")

	// A stale database from an earlier attempt is cleaned up when its
	// stage fails.
	test.That(t, os.WriteFile(cfg.DatabasePath(), []byte("stale"), 0o644), test.ShouldBeNil)

	results, err := svc.RunPipeline(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, reconviz.StageFeatureExtraction)
	test.That(t, len(results), test.ShouldEqual, 1)
	test.That(t, results[0].Success, test.ShouldBeFalse)

	_, statErr := os.Stat(cfg.DatabasePath())
	test.That(t, os.IsNotExist(statErr), test.ShouldBeTrue)
}

func TestRunPipelineUndistortionNeedsModel(t *testing.T) {
	svc, _ := newTestService(t, testExecutableName)

	// Without a mapper model on disk, argument building for the
	// undistortion stage fails before the stage runs.
	results, err := svc.RunPipeline(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, reconviz.StageUndistortion)
	test.That(t, len(results), test.ShouldEqual, 3)
}

func TestRunPipelineCancelled(t *testing.T) {
	svc, _ := newTestService(t, testExecutableName)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := svc.RunPipeline(ctx)
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, results, test.ShouldBeEmpty)
}

func TestSaveTimingReport(t *testing.T) {
	svc, cfg := newTestService(t, testExecutableName)

	path, err := svc.SaveTimingReport([]reconviz.StageResult{
		{Name: reconviz.StageFeatureExtraction, Success: true, Duration: 1500 * time.Millisecond},
		{Name: reconviz.StageFeatureMatching, Success: false, Duration: 250 * time.Millisecond},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldEqual, filepath.Join(cfg.ResultsDirectory, reconviz.TimingReportFileName))

	data, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	var report struct {
		Stages []struct {
			Name    string  `yaml:"name"`
			Success bool    `yaml:"success"`
			Seconds float64 `yaml:"seconds"`
		} `yaml:"stages"`
		Total float64 `yaml:"total_seconds"`
	}
	test.That(t, yaml.Unmarshal(data, &report), test.ShouldBeNil)
	test.That(t, len(report.Stages), test.ShouldEqual, 2)
	test.That(t, report.Stages[0].Name, test.ShouldEqual, reconviz.StageFeatureExtraction)
	test.That(t, report.Stages[0].Seconds, test.ShouldAlmostEqual, 1.5)
	test.That(t, report.Stages[1].Success, test.ShouldBeFalse)
	test.That(t, report.Total, test.ShouldAlmostEqual, 1.75)
}

// writePipelineOutputs plants the fixture artifacts a successful
// external run would have left behind.
func writePipelineOutputs(t *testing.T, cfg *reconviz.Config) {
	t.Helper()
	_, err := testhelper.WriteSparseModelFixture(cfg.SparseDirectory())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, testhelper.WriteDensePLYFixtures(cfg.DenseDirectory()), test.ShouldBeNil)
}

func TestStartResultsBuild(t *testing.T) {
	svc, cfg := newTestService(t, testExecutableName)
	writePipelineOutputs(t, cfg)

	select {
	case err := <-svc.StartResultsBuild(context.Background()):
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(10 * time.Second):
		t.Fatal("results build did not complete")
	}

	d := svc.Dataset()
	test.That(t, d, test.ShouldNotBeNil)
	test.That(t, len(d.Points), test.ShouldEqual, 3)
	test.That(t, len(d.Images), test.ShouldEqual, 2)

	_, err := os.Stat(cfg.ResultsPath())
	test.That(t, err, test.ShouldBeNil)
}

func TestStartResultsBuildWithoutOutputs(t *testing.T) {
	svc, _ := newTestService(t, testExecutableName)

	select {
	case err := <-svc.StartResultsBuild(context.Background()):
		test.That(t, err, test.ShouldNotBeNil)
	case <-time.After(10 * time.Second):
		t.Fatal("results build did not complete")
	}
}

func TestLoadResults(t *testing.T) {
	svc, cfg := newTestService(t, testExecutableName)
	writePipelineOutputs(t, cfg)

	select {
	case err := <-svc.StartResultsBuild(context.Background()):
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(10 * time.Second):
		t.Fatal("results build did not complete")
	}

	// A fresh service over the same directories picks the container up.
	logger := golog.NewTestLogger(t)
	svc2, err := reconviz.New(context.Background(), cfg, logger, testExecutableName)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, svc2.Close(), test.ShouldBeNil)
	}()
	test.That(t, svc2.Dataset(), test.ShouldBeNil)

	d, err := svc2.LoadResults(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(d.Points), test.ShouldEqual, 3)
	test.That(t, len(d.Cameras), test.ShouldEqual, 2)
	test.That(t, svc2.Dataset(), test.ShouldEqual, d)
}

func TestExportReport(t *testing.T) {
	svc, cfg := newTestService(t, testExecutableName)

	var sb strings.Builder
	err := svc.ExportReport(context.Background(), &sb)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no dataset loaded")

	writePipelineOutputs(t, cfg)
	select {
	case err := <-svc.StartResultsBuild(context.Background()):
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(10 * time.Second):
		t.Fatal("results build did not complete")
	}

	test.That(t, svc.ExportReport(context.Background(), &sb), test.ShouldBeNil)
	report := sb.String()
	test.That(t, report, test.ShouldContainSubstring, "total points: 3")
	test.That(t, report, test.ShouldContainSubstring, "total images: 2")
}

func TestRenderOverlay(t *testing.T) {
	svc, cfg := newTestService(t, testExecutableName)
	writePipelineOutputs(t, cfg)

	// The source photograph the overlay is drawn onto.
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	f, err := os.Create(filepath.Join(cfg.ImageDirectory, "view1.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, png.Encode(f, img), test.ShouldBeNil)
	test.That(t, f.Close(), test.ShouldBeNil)

	select {
	case err := <-svc.StartResultsBuild(context.Background()):
		test.That(t, err, test.ShouldBeNil)
	case <-time.After(10 * time.Second):
		t.Fatal("results build did not complete")
	}

	outPath := filepath.Join(cfg.ResultsDirectory, "overlay.png")
	test.That(t, svc.RenderOverlay(context.Background(), "view1.png", outPath, 2), test.ShouldBeNil)

	out, err := os.Open(outPath)
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, out.Close(), test.ShouldBeNil)
	}()
	decoded, err := png.Decode(out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds().Dx(), test.ShouldEqual, 640)

	// The first fixture point projects onto the principal point; its red
	// fixture color must show up there.
	r, _, _, _ := decoded.At(320, 240).RGBA()
	test.That(t, r>>8, test.ShouldBeGreaterThan, 200)

	err = svc.RenderOverlay(context.Background(), "unknown.png", outPath, 2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown.png")
}
