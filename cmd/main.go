package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"

	"github.com/jthatch/proxy-verify/internal/aggregator"
	"github.com/jthatch/proxy-verify/internal/candidate"
	"github.com/jthatch/proxy-verify/internal/config"
	"github.com/jthatch/proxy-verify/internal/dispatcher"
	"github.com/jthatch/proxy-verify/internal/events"
	"github.com/jthatch/proxy-verify/internal/metrics"
	"github.com/jthatch/proxy-verify/internal/probe"
	"github.com/jthatch/proxy-verify/internal/status"
	"github.com/jthatch/proxy-verify/internal/storage"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	inputPath := flag.String("input", "", "candidate list file or directory (overrides config)")
	outputPath := flag.String("output", "", "output path (overrides config)")
	concurrency := flag.Int("concurrency", 0, "in-flight probe limit (overrides config)")
	timeoutMs := flag.Int("timeout", 0, "per-probe timeout in ms (overrides config)")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{})
	log.SetLevel(log.InfoLevel)
	log.Infof("Starting proxy-verify v%s", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *inputPath != "" {
		cfg.Input.Path = *inputPath
	}
	if *outputPath != "" {
		cfg.Output.Path = *outputPath
	}
	if *concurrency > 0 {
		cfg.Dispatcher.Concurrency = *concurrency
	}
	if *timeoutMs > 0 {
		cfg.Verifier.TimeoutMs = *timeoutMs
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if level, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Verifier.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	// Load candidate blobs
	blobs, err := loadInput(cfg.Input.Path)
	if err != nil {
		log.Fatalf("Failed to load input: %v", err)
	}

	candidates, parseStats := candidate.Parse(blobs...)
	log.Infof("Parsed %d candidates (%d lines, %d malformed, %d duplicates)",
		len(candidates), parseStats.TotalLines, parseStats.Malformed, parseStats.Duplicates)

	if len(candidates) == 0 {
		log.Fatal("No valid proxy candidates in input, aborting before dispatch")
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	bus := events.NewBus()
	agg := aggregator.New(len(candidates), collector, bus)

	prober, err := probe.New(probe.Config{
		TargetURL:        cfg.Verifier.TargetURL,
		Timeout:          time.Duration(cfg.Verifier.TimeoutMs) * time.Millisecond,
		Policy:           probe.Policy(cfg.Verifier.TimeoutPolicy),
		BodyMatchPattern: cfg.Verifier.BodyMatchPattern,
		MaxSampleBytes:   cfg.Verifier.MaxBodySampleBytes,
	})
	if err != nil {
		log.Fatalf("Failed to initialize prober: %v", err)
	}

	disp := dispatcher.New(prober, agg, bus, cfg.Dispatcher.LaunchRatePerSecond)

	// Status API (observability only)
	var statusServer *status.Server
	if cfg.Status.Enabled {
		statusServer = status.NewServer(cfg, agg, disp, collector)
		go func() {
			if err := statusServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Status server failed: %v", err)
			}
		}()
	}

	// Console progress bar driven by the event bus
	go reportProgress(bus.Subscribe(256), len(candidates))

	// Graceful shutdown: stop issuing probes, let in-flight ones resolve
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Warnf("Received %v, draining in-flight probes", sig)
		disp.Shutdown()
	}()

	ctx := context.Background()

	queue := candidates
	if cfg.Verifier.EnableFastFilter {
		passed, dead := probe.FastConnectFilter(ctx, candidates,
			time.Duration(cfg.Verifier.FastFilterTimeoutMs)*time.Millisecond,
			cfg.Verifier.FastFilterConcurrency)
		for _, out := range dead {
			agg.Record(out)
		}
		queue = passed
	}

	progressTicker := time.NewTicker(5 * time.Second)
	defer progressTicker.Stop()
	go func() {
		for range progressTicker.C {
			snap := agg.Snapshot()
			if snap.Done {
				return
			}
			percent := float64(snap.Completed) / float64(snap.Total) * 100.0
			log.Infof("Progress: %d/%d (%.1f%%), verified=%d, state=%s",
				snap.Completed, snap.Total, percent, snap.Success, disp.State())
		}
	}()

	start := time.Now()
	disp.Run(ctx, queue, cfg.Dispatcher.Concurrency)
	result := agg.Finalize()
	bus.Close()

	log.Infof("Run complete: %d/%d verified, %d failed, mean latency %dms, took %v",
		result.Success, result.Total, result.Failure, result.MeanLatencyMs, time.Since(start))
	if result.BodyMatches > 0 {
		log.Infof("Body pattern matched on %d verified proxies", result.BodyMatches)
	}

	if result.NoSuccess {
		log.Warn("No proxies verified; skipping output write")
	} else {
		if err := persist(cfg, result); err != nil {
			log.Errorf("Failed to persist verified list: %v", err)
		}
	}

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Status server shutdown error: %v", err)
		}
	}

	log.Info("Done")
}

// loadInput reads one file, or every regular file in a directory, into blobs.
func loadInput(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("no input path configured")
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	if !info.IsDir() {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		return []string{string(data)}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("read input directory: %w", err)
	}

	blobs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		blobs = append(blobs, string(data))
	}
	return blobs, nil
}

func reportProgress(ch <-chan events.Event, total int) {
	bar := progressbar.Default(int64(total), "probing")
	for ev := range ch {
		switch ev.Type {
		case events.ProbeResolved:
			bar.Add(1)
			if ev.Outcome != nil && ev.Outcome.Succeeded {
				bar.Describe(fmt.Sprintf("probing (%s ok)", ev.Proxy))
			}
		case events.RunCompleted:
			bar.Finish()
		}
	}
}

func persist(cfg *config.Config, result *aggregator.Result) error {
	sink, err := storage.NewSink(cfg.Output.Type, cfg.Output.Path)
	if err != nil {
		return err
	}
	defer sink.Close()

	if err := sink.Save(&storage.Result{
		TargetURL:     cfg.Verifier.TargetURL,
		Total:         result.Total,
		Success:       result.Success,
		Failure:       result.Failure,
		MeanLatencyMs: result.MeanLatencyMs,
		Verified:      result.Verified,
		CompletedAt:   time.Now(),
	}); err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	log.Infof("Persisted %d verified proxies (%s sink)", result.Success, cfg.Output.Type)
	return nil
}
