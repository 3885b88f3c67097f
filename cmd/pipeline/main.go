// Package main reconstructs camera poses for a dataset tree and writes a submission.
package main

import (
	"context"
	"os"

	"github.com/edaniels/golog"
	"go.viam.com/utils"

	viamsfmeval "github.com/viamrobotics/viam-sfm-eval"
)

var logger = golog.NewDevelopmentLogger("sfm_pipeline")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	ConfigFile string `flag:"0,required,usage=pipeline config yaml"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	cfg, err := viamsfmeval.ReadConfig(argsParsed.ConfigFile)
	if err != nil {
		return err
	}
	pipeline, err := viamsfmeval.New(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	result, err := pipeline.Run(ctx)
	if result != nil {
		if summaryErr := result.WriteSummary(os.Stdout); summaryErr != nil {
			logger.Warnw("error writing summary", "error", summaryErr)
		}
		if result.Report != nil {
			if _, reportErr := result.Report.WriteTo(os.Stdout); reportErr != nil {
				logger.Warnw("error writing report", "error", reportErr)
			}
		}
	}
	if err != nil {
		return err
	}
	logger.Infow("submission written", "path", result.Submission)
	return nil
}
