// Package main scores a pose submission against ground-truth labels.
package main

import (
	"context"
	"os"

	"github.com/edaniels/golog"
	"go.viam.com/utils"

	"github.com/viamrobotics/viam-sfm-eval/eval"
	"github.com/viamrobotics/viam-sfm-eval/pose"
	"github.com/viamrobotics/viam-sfm-eval/thresholds"
)

var logger = golog.NewDevelopmentLogger("sfm_evaluate")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

// Arguments for the command.
type Arguments struct {
	Submission  string `flag:"0,required,usage=submission csv"`
	GroundTruth string `flag:"1,required,usage=ground truth csv"`
	Thresholds  string `flag:"thresholds,usage=thresholds yaml (defaults to the built-in table)"`
	Verbose     bool   `flag:"verbose,usage=print per scene and per dataset scores"`
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}

	table := thresholds.Default()
	if argsParsed.Thresholds != "" {
		var err error
		if table, err = thresholds.ReadFile(argsParsed.Thresholds); err != nil {
			return err
		}
	}

	submission, err := pose.ReadCSVFile(argsParsed.Submission)
	if err != nil {
		return err
	}
	groundTruth, err := pose.ReadCSVFile(argsParsed.GroundTruth)
	if err != nil {
		return err
	}

	report, err := eval.New(table, logger).Evaluate(ctx, submission, groundTruth)
	if err != nil {
		return err
	}
	if argsParsed.Verbose {
		_, err = report.WriteTo(os.Stdout)
		return err
	}
	logger.Infow("evaluation done", "mAA", report.MAA, "duration", report.Duration)
	return nil
}
