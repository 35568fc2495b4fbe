package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/handiism/nfse-downloader/internal/app"
	"github.com/handiism/nfse-downloader/internal/config"
	"github.com/handiism/nfse-downloader/internal/download"
	"github.com/handiism/nfse-downloader/internal/logging"
	"github.com/handiism/nfse-downloader/internal/tui"
)

func main() {
	os.Exit(run())
}

func run() int {
	configFlag := flag.String("config", "", "Path to config file (.json or .yaml)")
	flag.Parse()

	settings := config.DefaultSettings()
	if *configFlag != "" {
		var err error
		settings, err = config.Load(*configFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			return 1
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The alternate screen owns the terminal, so logs are dropped.
	logger := logging.NewWithWriter(io.Discard, settings.LogLevel)

	events := make(chan download.ProgressEvent, 64)
	a, err := app.New(ctx, settings, logger, app.WithProgress(func(event download.ProgressEvent) {
		select {
		case events <- event:
		default:
		}
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer a.Close()

	if err := tui.Run(settings, a.Runner, events); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
