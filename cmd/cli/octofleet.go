package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/args"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/entry"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/faults"
	"github.com/OctopusSolutionsEngineering/OctopusFleet/cmd/internal/logger"
	"go.uber.org/zap"
	"os"
	"os/signal"
	"syscall"
)

var Version = "development"

func main() {
	parseArgs, argsErrors, err := args.ParseArgs(os.Args[1:])

	logger.BuildLogger(parseArgs.Verbose)

	if errors.Is(err, flag.ErrHelp) {
		fmt.Fprintln(os.Stderr, argsErrors)
		os.Exit(faults.ExitSuccess)
	} else if err != nil {
		zap.L().Error("got error: " + err.Error())
		if argsErrors != "" {
			zap.L().Error("argsErrors:\n" + argsErrors)
		}
		os.Exit(faults.ExitConfiguration)
	}

	if parseArgs.Version {
		zap.L().Info("Version: " + Version)
		os.Exit(faults.ExitSuccess)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = entry.Entry(ctx, parseArgs)
	stop()

	if err != nil {
		errorExit(err)
	}
}

func errorExit(err error) {
	zap.L().Error(faults.Describe(err))
	_ = zap.L().Sync()
	os.Exit(faults.ExitCode(err))
}
