// Package reconviz orchestrates an external structure-from-motion and
// multi-view-stereo pipeline and turns its outputs into a portable
// reconstruction dataset that can be reported on and projected back
// into the source images.
package reconviz

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"

	"github.com/reconviz/reconviz/colmap"
	"github.com/reconviz/reconviz/dataset"
	"github.com/reconviz/reconviz/render"
)

// Service runs the reconstruction pipeline and serves its results.
type Service interface {
	// RunPipeline executes all reconstruction stages and returns
	// per-stage timing results.
	RunPipeline(ctx context.Context) ([]StageResult, error)
	// SaveTimingReport persists stage results in the results directory.
	SaveTimingReport(results []StageResult) (string, error)
	// StartResultsBuild assembles the dataset from the pipeline outputs
	// off the calling goroutine and saves the interchange container.
	// Completion is signaled once on the returned channel.
	StartResultsBuild(ctx context.Context) <-chan error
	// LoadResults reads a previously saved interchange container.
	LoadResults(ctx context.Context) (*dataset.Dataset, error)
	// Dataset returns the currently loaded dataset, or nil.
	Dataset() *dataset.Dataset
	// ExportReport writes the human-readable dataset summary.
	ExportReport(ctx context.Context, w io.Writer) error
	// RenderOverlay projects the point cloud into the named source
	// image and writes the overlay next to outPath.
	RenderOverlay(ctx context.Context, imageName, outPath string, radius float64) error
	Close() error
}

// reconService is the structure of the reconstruction service.
type reconService struct {
	cfg            *Config
	executableName string // by default: DefaultExecutableName
	logger         golog.Logger

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup

	mu sync.Mutex
	ds *dataset.Dataset
}

// New returns a new reconstruction service for the given configuration.
// The external executable must be resolvable on PATH.
func New(ctx context.Context, cfg *Config, logger golog.Logger, executableName string) (Service, error) {
	_, span := trace.StartSpan(ctx, "reconviz::New")
	defer span.End()

	if executableName == "" {
		executableName = DefaultExecutableName
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration error")
	}
	if err := SetupDirectories(cfg, logger); err != nil {
		return nil, errors.Wrap(err, "unable to setup working directories")
	}
	if _, err := exec.LookPath(executableName); err != nil {
		return nil, errors.Wrapf(err, "unable to find %q executable", executableName)
	}

	cancelCtx, cancelFunc := context.WithCancel(ctx)
	return &reconService{
		cfg:            cfg,
		executableName: executableName,
		logger:         logger,
		cancelCtx:      cancelCtx,
		cancelFunc:     cancelFunc,
	}, nil
}

// Close stops background work. Stage processes are one-shot and are
// already stopped by the time RunPipeline returns; cancellation mid-run
// kills the active stage through its context.
func (s *reconService) Close() error {
	s.cancelFunc()
	s.activeBackgroundWorkers.Wait()
	return nil
}

// StartResultsBuild builds the dataset from the pipeline output
// directories in the background. Heavy geometry I/O stays off the
// calling goroutine; the single error (or nil) on the returned channel
// signals completion.
func (s *reconService) StartResultsBuild(ctx context.Context) <-chan error {
	_, span := trace.StartSpan(ctx, "reconviz::reconService::StartResultsBuild")
	defer span.End()

	done := make(chan error, 1)
	s.activeBackgroundWorkers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		done <- s.buildResults(s.cancelCtx)
	})
	return done
}

func (s *reconService) buildResults(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d, err := colmap.BuildDataset(s.cfg.SparseDirectory(), s.cfg.DenseDirectory(), s.logger)
	if err != nil {
		return errors.Wrap(err, "building dataset from pipeline outputs")
	}
	if err := dataset.Save(d, s.cfg.ResultsPath()); err != nil {
		return errors.Wrap(err, "saving dataset container")
	}
	s.logger.Infof("reconstruction data saved to %s", s.cfg.ResultsPath())

	s.mu.Lock()
	s.ds = d
	s.mu.Unlock()
	return nil
}

// LoadResults reads the interchange container from the results
// directory and makes it the service's current dataset.
func (s *reconService) LoadResults(ctx context.Context) (*dataset.Dataset, error) {
	_, span := trace.StartSpan(ctx, "reconviz::reconService::LoadResults")
	defer span.End()

	d, err := dataset.Load(s.cfg.ResultsPath(), s.logger)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.ds = d
	s.mu.Unlock()
	return d, nil
}

func (s *reconService) Dataset() *dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ds
}

func (s *reconService) currentDataset() (*dataset.Dataset, error) {
	d := s.Dataset()
	if d == nil {
		return nil, errors.New("no dataset loaded; run the pipeline or load results first")
	}
	return d, nil
}

// ExportReport writes the dataset summary report to w.
func (s *reconService) ExportReport(ctx context.Context, w io.Writer) error {
	_, span := trace.StartSpan(ctx, "reconviz::reconService::ExportReport")
	defer span.End()

	d, err := s.currentDataset()
	if err != nil {
		return err
	}
	return dataset.WriteReport(w, d)
}

// RenderOverlay projects the dataset's point cloud into the named
// registered image and saves the overlay as a PNG at outPath.
func (s *reconService) RenderOverlay(ctx context.Context, imageName, outPath string, radius float64) error {
	_, span := trace.StartSpan(ctx, "reconviz::reconService::RenderOverlay")
	defer span.End()

	d, err := s.currentDataset()
	if err != nil {
		return err
	}
	pts, colors, err := d.ProjectImage(imageName)
	if err != nil {
		return errors.Wrapf(err, "projecting points into image %q", imageName)
	}
	s.logger.Debugf("projected %d of %d points into %q", len(pts), len(d.Points), imageName)

	img, err := render.LoadImage(filepath.Join(s.cfg.ImageDirectory, imageName))
	if err != nil {
		return err
	}
	overlay, err := render.Overlay(img, pts, colors, radius)
	if err != nil {
		return err
	}
	return render.SavePNG(outPath, overlay)
}
