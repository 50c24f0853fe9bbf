// Package main runs the reconstruction pipeline and serves reports and
// overlays from its results.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/reconviz/reconviz"
	"github.com/reconviz/reconviz/render"
)

func main() {
	goutils.ContextualMain(mainWithArgs, golog.NewDevelopmentLogger("reconviz"))
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	flags := flag.NewFlagSet("reconviz", flag.ContinueOnError)
	configPath := flags.String("config", "", "path to run configuration yaml")
	executable := flags.String("executable", reconviz.DefaultExecutableName, "reconstruction tool to invoke")
	skipPipeline := flags.Bool("skip-pipeline", false, "use existing results instead of running the pipeline")
	reportPath := flags.String("report", "", "write the dataset report to this file")
	overlayImage := flags.String("overlay", "", "registered image name to project the point cloud into")
	overlayOut := flags.String("overlay-out", "overlay.png", "output path for the overlay image")
	pointRadius := flags.Float64("point-radius", render.DefaultPointRadius, "overlay point radius in pixels")
	if err := flags.Parse(args[1:]); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("-config is required")
	}

	cfg, err := reconviz.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	svc, err := reconviz.New(ctx, cfg, logger, *executable)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(svc.Close())
	}()

	if *skipPipeline {
		if _, err := svc.LoadResults(ctx); err != nil {
			return err
		}
	} else {
		results, err := svc.RunPipeline(ctx)
		if timingPath, reportErr := svc.SaveTimingReport(results); reportErr != nil {
			logger.Errorw("error saving timing report", "error", reportErr)
		} else {
			logger.Infof("stage timings saved to %s", timingPath)
		}
		if err != nil {
			return err
		}
		select {
		case err := <-svc.StartResultsBuild(ctx):
			if err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if *reportPath != "" {
		f, err := os.Create(*reportPath) //nolint:gosec
		if err != nil {
			return err
		}
		if err := svc.ExportReport(ctx, f); err != nil {
			goutils.UncheckedError(f.Close())
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		logger.Infof("dataset report saved to %s", *reportPath)
	}

	if *overlayImage != "" {
		if err := svc.RenderOverlay(ctx, *overlayImage, *overlayOut, *pointRadius); err != nil {
			return err
		}
		logger.Infof("overlay saved to %s", *overlayOut)
	}
	return nil
}
