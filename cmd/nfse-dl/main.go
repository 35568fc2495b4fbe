package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/handiism/nfse-downloader/internal/app"
	"github.com/handiism/nfse-downloader/internal/config"
	"github.com/handiism/nfse-downloader/internal/download"
	"github.com/handiism/nfse-downloader/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Command line flags
	var (
		taxpayersFlag = flag.String("taxpayer", "", "Taxpayer CNPJ/CPF(s) to download (comma-separated)")
		fromFlag      = flag.String("from", "", "First issue date, YYYY-MM-DD")
		toFlag        = flag.String("to", "", "Last issue date, YYYY-MM-DD")
		outputFlag    = flag.String("output", "", "Output directory (overrides config)")
		configFlag    = flag.String("config", "", "Path to config file (.json or .yaml)")
		serveFlag     = flag.String("serve", "", "Serve the report API on this address (overrides config)")
		logLevelFlag  = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
		verboseFlag   = flag.Bool("verbose", false, "Show verbose output")
	)

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

	// Apply flags
	if *outputFlag != "" {
		settings.DownloadsPath = *outputFlag
	}
	if *serveFlag != "" {
		settings.ReportAddress = *serveFlag
	}
	if *logLevelFlag != "" {
		settings.LogLevel = *logLevelFlag
	}

	reqs, err := requests(*taxpayersFlag, *fromFlag, *toFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	if len(reqs) == 0 && settings.ReportAddress == "" {
		fmt.Println("NFSe Downloader - Download and organize service invoices")
		fmt.Println()
		fmt.Println("Usage:")
		fmt.Println("  nfse-dl -taxpayer <CNPJ>[,<CNPJ>...] -from YYYY-MM-DD -to YYYY-MM-DD [options]")
		fmt.Println("  nfse-dl -serve :8080 [options]")
		fmt.Println()
		fmt.Println("For interactive mode, use: nfse-tui")
		fmt.Println()
		flag.PrintDefaults()
		return 1
	}

	logger := logging.New(settings.LogLevel)

	// Handle interrupts
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, settings, logger, app.WithProgress(func(event download.ProgressEvent) {
		printEvent(event, *verboseFlag)
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing: %v\n", err)
		return 1
	}
	defer a.Close()

	fmt.Println("NFSe Downloader")
	fmt.Println(strings.Repeat("-", 40))
	fmt.Println()

	serveErr := make(chan error, 1)
	if settings.ReportAddress != "" {
		srv := a.ReportServer(ctx)
		go func() { serveErr <- srv.ListenAndServe(ctx, settings.ReportAddress) }()
		fmt.Printf("Report API on %s\n\n", settings.ReportAddress)
	}

	failed := 0
	if len(reqs) > 0 {
		jobs := a.Runner.Run(ctx, reqs)
		failed = printSummary(ctx, a, jobs)
	}

	if settings.ReportAddress != "" {
		if err := <-serveErr; err != nil {
			fmt.Fprintf(os.Stderr, "Error serving: %v\n", err)
			return 1
		}
	}

	switch {
	case ctx.Err() != nil && settings.ReportAddress == "":
		fmt.Println("\nCancelled.")
		return 130
	case failed > 0:
		return 1
	}
	return 0
}

// requests builds one job request per taxpayer.
func requests(taxpayers, from, to string) ([]download.Request, error) {
	if strings.TrimSpace(taxpayers) == "" {
		return nil, nil
	}
	fromDate, err := time.Parse(time.DateOnly, from)
	if err != nil {
		return nil, fmt.Errorf("-from: %w", err)
	}
	toDate, err := time.Parse(time.DateOnly, to)
	if err != nil {
		return nil, fmt.Errorf("-to: %w", err)
	}

	var reqs []download.Request
	for _, id := range strings.Split(taxpayers, ",") {
		if id = strings.TrimSpace(id); id != "" {
			reqs = append(reqs, download.Request{TaxpayerID: id, From: fromDate, To: toDate})
		}
	}
	return reqs, nil
}

func printEvent(event download.ProgressEvent, verbose bool) {
	if event.Level == download.LevelVerbose && !verbose {
		return
	}

	prefix := ""
	switch event.Level {
	case download.LevelError:
		prefix = "[x] "
	case download.LevelWarning:
		prefix = "[!] "
	case download.LevelSuccess:
		prefix = "[+] "
	case download.LevelInfo:
		prefix = "[i] "
	default:
		prefix = "    "
	}

	fmt.Println(prefix + event.Message)
}

// printSummary prints every finished job, acknowledges it and returns the
// number of failed jobs. Acknowledged jobs are archived when an archive is
// configured.
func printSummary(ctx context.Context, a *app.App, jobs []*download.Job) int {
	fmt.Println()
	fmt.Println(strings.Repeat("-", 40))

	failed := 0
	for _, job := range jobs {
		snap := job.Snapshot()
		p := snap.Progress
		fmt.Printf("%s %s: %s, %d written, %d duplicates, %d conflicts, %d failed writes, %d retries\n",
			snap.TaxpayerID, snap.ID, snap.Status, p.Written, p.SkippedDuplicate, p.Conflicted, snap.FailedWrites, snap.Retries)
		if snap.Error != "" {
			fmt.Printf("   error: %s\n", snap.Error)
		}
		for _, c := range snap.Conflicts {
			line := "   conflict: " + c.Path
			if c.Quarantined != "" {
				line += " -> " + c.Quarantined
			}
			fmt.Println(line)
		}
		if snap.Status == download.StateFailed {
			failed++
		}

		if a.Settings.ReportAddress != "" {
			// Left for the report API to acknowledge.
			continue
		}
		if _, err := a.Tracker.Consume(context.WithoutCancel(ctx), snap.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Error archiving job %s: %v\n", snap.ID, err)
		}
	}
	return failed
}
