package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Karleow/SimpleSpeedtest/internal/app"
	"github.com/Karleow/SimpleSpeedtest/internal/config"
	"github.com/Karleow/SimpleSpeedtest/internal/history"
	"github.com/Karleow/SimpleSpeedtest/internal/probe"
	"github.com/Karleow/SimpleSpeedtest/internal/util"
	"github.com/Karleow/SimpleSpeedtest/internal/version"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "run":
			runCmd := flag.NewFlagSet("run", flag.ExitOnError)
			configPath := runCmd.String("config", "config.yaml", "Path to config file")
			_ = runCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && runCmd.NArg() > 0 {
				*configPath = runCmd.Arg(0)
			}
			runServer(*configPath)
			return
		case "check":
			checkCmd := flag.NewFlagSet("check", flag.ExitOnError)
			configPath := checkCmd.String("config", "config.yaml", "Path to config file")
			_ = checkCmd.Parse(os.Args[2:])
			if *configPath == "config.yaml" && checkCmd.NArg() > 0 {
				*configPath = checkCmd.Arg(0)
			}
			checkConfig(*configPath)
			return
		case "probe":
			os.Exit(runProbe(os.Args[2:]))
		case "history":
			os.Exit(showHistory(os.Args[2:]))
		case "help", "-h", "--help":
			printHelp()
			return
		case "version", "-v", "--version":
			fmt.Println(version.Version)
			return
		}
	}

	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()
	if *configPath == "config.yaml" && len(flag.Args()) > 0 {
		*configPath = flag.Arg(0)
	}
	runServer(*configPath)
}

func runServer(configPath string) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	logger := util.NewLoggerWithOptions(cfg.Logging.LogOptions())
	logger.Info("starting speedtest server", "version", version.Version, "config", configPath)

	supervisor := app.NewSupervisor(configPath, logger)
	if err := supervisor.Start(); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			logger.Info("reload requested")
			if err := supervisor.Restart(); err != nil {
				logger.Error("reload failed", "error", err)
				os.Exit(1)
			}
			continue
		}
		break
	}
	logger.Info("shutdown requested")
	supervisor.Stop()
}

func checkConfig(path string) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config invalid: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("config valid: listen %s, pool %s on %d workers, chunk %s\n",
		util.NetJoin(cfg.Server.BindAddr, cfg.Server.BindPort),
		util.FormatBytes(float64(cfg.Pool.SizeBytes)),
		cfg.Pool.Workers,
		util.FormatBytes(float64(cfg.Stream.ChunkSizeBytes)),
	)
	os.Exit(0)
}

func runProbe(args []string) int {
	cmd := flag.NewFlagSet("probe", flag.ExitOnError)
	configPath := cmd.String("config", "", "Optional config file supplying probe defaults")
	target := cmd.String("target", "", "Server base URL (default from config)")
	kindName := cmd.String("kind", "download", "Phase to run: download or upload")
	both := cmd.Bool("both", false, "Run download, then upload")
	duration := cmd.Duration("duration", 0, "Phase duration (default: first offered duration)")
	list := cmd.Bool("list", false, "List offered durations and exit")
	historyPath := cmd.String("history", "", "SQLite file to record results in")
	dataSize := cmd.String("data-size", "", "Upload data block size (default pool.size)")
	workers := cmd.Int("workers", 0, "Workers preparing upload data (default pool.workers)")
	noProgress := cmd.Bool("no-progress", false, "Disable progress bar")
	verbose := cmd.Bool("verbose", false, "Log phase details")
	_ = cmd.Parse(args)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		cfg = loaded
	}

	offered := cfg.Probe.DurationList()
	if *list {
		for _, d := range offered {
			fmt.Println(formatOffered(d))
		}
		return 0
	}
	if *duration < 0 {
		fmt.Fprintln(os.Stderr, "error: -duration must be > 0")
		return 1
	}
	phaseDuration := *duration
	if phaseDuration == 0 {
		phaseDuration = offered[0]
	}

	kinds, err := phaseKinds(*kindName, *both)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	base := cfg.Probe.Target
	if *target != "" {
		base = *target
	}
	size := cfg.Pool.SizeBytes
	if *dataSize != "" {
		parsed, err := config.ParseSize(*dataSize)
		if err != nil || parsed == 0 {
			fmt.Fprintln(os.Stderr, "error: invalid -data-size", *dataSize)
			return 1
		}
		size = int(parsed)
	}
	if *workers <= 0 {
		*workers = cfg.Pool.Workers
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := util.NewLoggerWithOptions(util.LogOptions{Level: level, Format: cfg.Logging.Format})

	var store *history.Store
	if *historyPath != "" {
		store, err = history.Open(*historyPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bar := newProgressBar(os.Stdout, *noProgress)
	client := &http.Client{}
	p := probe.New(probe.Config{
		Downloader:      &probe.HTTPDownloader{BaseURL: base, Client: client},
		Uploader:        &probe.HTTPUploader{BaseURL: base, Client: client},
		UploadSize:      cfg.Upload.RequestSizeBytes,
		ReadSize:        cfg.Stream.ChunkSizeBytes,
		SamplerInterval: cfg.Probe.SamplerInterval.Duration(),
		Progress:        bar.Update,
		Logger:          logger,
	})

	fmt.Println("=== Speed Test ===")
	fmt.Printf("Target:   %s\n", base)
	fmt.Printf("Duration: %s per phase\n", phaseDuration)
	fmt.Println()

	for _, kind := range kinds {
		if kind == probe.KindUpload && !p.Ready() {
			fmt.Printf("Preparing %s of upload data...\n", util.FormatBytes(float64(size)))
			if err := p.Prepare(ctx, size, *workers); err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
				return 1
			}
		}
		started := time.Now()
		res, err := p.RunPhase(ctx, kind, phaseDuration)
		bar.Finish()
		if err != nil && !errors.Is(err, probe.ErrPhaseFailed) {
			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}
		printResult(res)
		if store != nil {
			if err := store.Record(context.Background(), base, started, res); err != nil {
				fmt.Fprintln(os.Stderr, "warning:", err)
			}
		}
		if done, code := afterPhase(res.Outcome, ctx.Err() != nil); done {
			return code
		}
	}
	return 0
}

// afterPhase decides whether the remaining phases run. A phase cut short by
// its deadline is cancelled too, so only an interrupt or a failure stops the
// sequence.
func afterPhase(outcome probe.Outcome, interrupted bool) (stop bool, code int) {
	switch {
	case outcome == probe.OutcomeFailed:
		return true, 1
	case interrupted:
		return true, 0
	default:
		return false, 0
	}
}

func phaseKinds(name string, both bool) ([]probe.Kind, error) {
	if both {
		return []probe.Kind{probe.KindDownload, probe.KindUpload}, nil
	}
	kind, err := probe.ParseKind(name)
	if err != nil {
		return nil, err
	}
	return []probe.Kind{kind}, nil
}

func printResult(res probe.Result) {
	label := strings.ToUpper(res.Kind.String()[:1]) + res.Kind.String()[1:]
	fmt.Printf("%s: %s (%s in %s, %s)\n",
		label,
		util.FormatMbps(res.ThroughputBps),
		util.FormatBytes(float64(res.Bytes)),
		res.Elapsed.Round(time.Millisecond),
		res.Outcome,
	)
	if res.Err != nil {
		fmt.Printf("  error: %v\n", res.Err)
	}
}

func formatOffered(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dmin", int(d/time.Minute))
	}
	return d.String()
}

func showHistory(args []string) int {
	cmd := flag.NewFlagSet("history", flag.ExitOnError)
	path := cmd.String("history", "speedtest.db", "SQLite file with recorded results")
	limit := cmd.Int("n", 20, "Number of results to show")
	_ = cmd.Parse(args)
	if *path == "speedtest.db" && cmd.NArg() > 0 {
		*path = cmd.Arg(0)
	}

	store, err := history.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	defer store.Close()
	entries, err := store.Recent(context.Background(), *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Println("no results recorded")
		return 0
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tKIND\tOUTCOME\tTHROUGHPUT\tBYTES\tELAPSED\tTARGET")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.StartedAt.Format(time.DateTime),
			e.Kind,
			e.Outcome,
			util.FormatMbps(e.ThroughputBps),
			util.FormatBytes(float64(e.Bytes)),
			e.Elapsed.Round(time.Millisecond),
			e.Target,
		)
	}
	_ = tw.Flush()
	return 0
}

func printHelp() {
	fmt.Print(`speedtest - HTTP network throughput tester

Usage:
  speedtest run --config <path>     Start the server
  speedtest check --config <path>   Validate config file
  speedtest probe [flags]           Measure download/upload throughput
  speedtest history [flags]         Show recorded probe results
  speedtest help                    Show this help
  speedtest version                 Print version

Probe flags:
  -target <url>      Server base URL
  -kind <k>          download or upload
  -both              Run download then upload
  -duration <d>      Phase duration (e.g. 10s, 5m)
  -list              List offered durations
  -history <file>    Record results to a SQLite file

Signals (run):
  SIGHUP reloads the config, SIGINT/SIGTERM stop the server.
`)
}
