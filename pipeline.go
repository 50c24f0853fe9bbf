package reconviz

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/utils/pexec"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"

	"github.com/reconviz/reconviz/colmap"
)

// Pipeline stage names, matching the external tool's subcommands. The
// stages run in this order.
const (
	StageFeatureExtraction = "feature_extractor"
	StageFeatureMatching   = "exhaustive_matcher"
	StageSparseMapping     = "mapper"
	StageUndistortion      = "image_undistorter"
	StageStereoMatching    = "patch_match_stereo"
	StageStereoFusion      = "stereo_fusion"
	StageMeshing           = "poisson_mesher"
)

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	Name     string
	Success  bool
	Duration time.Duration
}

// pipelineStage pairs a stage name with a run-time argument builder;
// some stages depend on artifacts earlier stages produce, so arguments
// cannot all be computed up front.
type pipelineStage struct {
	name string
	args func() ([]string, error)
}

func (s *reconService) pipelineStages() []pipelineStage {
	cfg := s.cfg
	staticArgs := func(args ...string) func() ([]string, error) {
		return func() ([]string, error) { return args, nil }
	}
	singleCamera := "0"
	if cfg.SingleCamera {
		singleCamera = "1"
	}
	return []pipelineStage{
		{StageFeatureExtraction, staticArgs(
			"--database_path", cfg.DatabasePath(),
			"--image_path", cfg.ImageDirectory,
			"--ImageReader.single_camera", singleCamera,
		)},
		{StageFeatureMatching, staticArgs(
			"--database_path", cfg.DatabasePath(),
		)},
		{StageSparseMapping, staticArgs(
			"--database_path", cfg.DatabasePath(),
			"--image_path", cfg.ImageDirectory,
			"--output_path", cfg.SparseDirectory(),
		)},
		{StageUndistortion, func() ([]string, error) {
			// The mapper numbers its models; undistort the latest one.
			modelDir, err := colmap.LatestModelDir(cfg.SparseDirectory())
			if err != nil {
				return nil, err
			}
			return []string{
				"--image_path", cfg.ImageDirectory,
				"--input_path", modelDir,
				"--output_path", cfg.DenseDirectory(),
				"--output_type", "COLMAP",
			}, nil
		}},
		{StageStereoMatching, staticArgs(
			"--workspace_path", cfg.DenseDirectory(),
			"--workspace_format", "COLMAP",
			"--PatchMatchStereo.geom_consistency", "true",
		)},
		{StageStereoFusion, staticArgs(
			"--workspace_path", cfg.DenseDirectory(),
			"--workspace_format", "COLMAP",
			"--input_type", "geometric",
			"--output_path", filepath.Join(cfg.DenseDirectory(), colmap.FusedPointCloudName),
		)},
		{StageMeshing, staticArgs(
			"--input_path", filepath.Join(cfg.DenseDirectory(), colmap.FusedPointCloudName),
			"--output_path", filepath.Join(cfg.DenseDirectory(), colmap.MeshedModelName),
		)},
	}
}

// RunPipeline executes every reconstruction stage in order via the
// external tool, returning per-stage timing results. The first failing
// stage stops the run; its partial output files are removed so a retry
// starts clean.
func (s *reconService) RunPipeline(ctx context.Context) ([]StageResult, error) {
	ctx, span := trace.StartSpan(ctx, "reconviz::reconService::RunPipeline")
	defer span.End()

	stages := s.pipelineStages()
	results := make([]StageResult, 0, len(stages))
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			s.cleanupPartialOutputs(stage.name)
			return results, err
		}
		args, err := stage.args()
		if err != nil {
			return results, errors.Wrapf(err, "building arguments for stage %s", stage.name)
		}
		args = append(args, s.extraStageOptions(stage.name)...)

		s.logger.Infow("running stage", "stage", stage.name)
		start := time.Now()
		err = s.runStage(ctx, stage.name, args)
		duration := time.Since(start)
		results = append(results, StageResult{Name: stage.name, Success: err == nil, Duration: duration})
		if err != nil {
			s.cleanupPartialOutputs(stage.name)
			return results, errors.Wrapf(err, "stage %s failed", stage.name)
		}
		s.logger.Infow("stage complete", "stage", stage.name, "duration", duration)
	}
	return results, nil
}

// extraStageOptions flattens the configured pass-through options for one
// stage into command line arguments, in a stable order.
func (s *reconService) extraStageOptions(stage string) []string {
	opts := s.cfg.StageOptions[stage]
	if len(opts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	args := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		args = append(args, k, opts[k])
	}
	return args
}

// runStage runs one stage of the external tool to completion.
func (s *reconService) runStage(ctx context.Context, name string, args []string) error {
	processConfig := pexec.ProcessConfig{
		ID:      "recon_" + name,
		Name:    s.executableName,
		Args:    append([]string{name}, args...),
		Log:     true,
		OneShot: true,
	}

	proc := pexec.NewProcessManager(s.logger)
	if _, err := proc.AddProcessFromConfig(ctx, processConfig); err != nil {
		return errors.Wrap(err, "problem adding stage process")
	}
	if err := proc.Start(ctx); err != nil {
		return errors.Wrap(err, "problem running stage process")
	}
	return proc.Stop()
}

// stagePartialOutputs names the files a stage may leave half-written
// when it is killed or fails.
func (s *reconService) stagePartialOutputs(stage string) []string {
	switch stage {
	case StageFeatureExtraction, StageFeatureMatching:
		return []string{s.cfg.DatabasePath()}
	case StageStereoFusion:
		return []string{filepath.Join(s.cfg.DenseDirectory(), colmap.FusedPointCloudName)}
	case StageMeshing:
		return []string{filepath.Join(s.cfg.DenseDirectory(), colmap.MeshedModelName)}
	default:
		return nil
	}
}

func (s *reconService) cleanupPartialOutputs(stage string) {
	for _, path := range s.stagePartialOutputs(stage) {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		s.logger.Debugw("removing partial stage output", "stage", stage, "path", path)
		if err := os.RemoveAll(path); err != nil {
			s.logger.Errorw("error removing partial stage output", "path", path, "error", err)
		}
	}
}

// timingReport is the on-disk shape of the stage-timing report.
type timingReport struct {
	Stages []timingReportStage `yaml:"stages"`
	Total  float64             `yaml:"total_seconds"`
}

type timingReportStage struct {
	Name    string  `yaml:"name"`
	Success bool    `yaml:"success"`
	Seconds float64 `yaml:"seconds"`
}

// SaveTimingReport persists stage results as a yaml report in the
// results directory and returns its path.
func (s *reconService) SaveTimingReport(results []StageResult) (string, error) {
	report := timingReport{Stages: make([]timingReportStage, 0, len(results))}
	for _, r := range results {
		report.Stages = append(report.Stages, timingReportStage{
			Name:    r.Name,
			Success: r.Success,
			Seconds: r.Duration.Seconds(),
		})
		report.Total += r.Duration.Seconds()
	}
	data, err := yaml.Marshal(&report)
	if err != nil {
		return "", errors.Wrap(err, "error marshaling timing report")
	}
	path := filepath.Join(s.cfg.ResultsDirectory, TimingReportFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec
		return "", errors.Wrap(err, "error writing timing report")
	}
	return path, nil
}
