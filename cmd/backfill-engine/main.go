// Command backfill-engine runs the validated market-data warehouse's daily
// backfill scheduler, and can also submit a one-off job from a manifest
// file (spec.md §6). It is grounded on services/jax-market/cmd/jax-market's
// main — config-file-plus-flags bootstrap, an HTTP server exposing
// /health, /metrics and /metrics/prometheus, and signal-driven graceful
// shutdown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketwarehouse/internal/config"
	"marketwarehouse/internal/jobrequest"
	"marketwarehouse/internal/orchestrator"
	"marketwarehouse/internal/registry"
	"marketwarehouse/internal/repository"
	"marketwarehouse/internal/scheduler"
	"marketwarehouse/libs/database"
	"marketwarehouse/libs/marketdata"
	"marketwarehouse/libs/observability"
)

var startTime = time.Now()

func main() {
	var configPath, httpPort, jobPath string
	flag.StringVar(&configPath, "config", "config/backfill-engine.json", "Path to configuration file")
	flag.StringVar(&httpPort, "port", "8096", "HTTP server port")
	flag.StringVar(&jobPath, "job", "", "Submit a one-off job from this manifest file (or '-' for stdin) and exit, instead of running the scheduler")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.ConnectWithMigrations(ctx, cfg.Database(), cfg.MigrationsPath)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Printf("database connected")

	mdClient, err := marketdata.NewClient(cfg.MarketData())
	if err != nil {
		log.Fatalf("failed to create market data client: %v", err)
	}
	defer mdClient.Close()

	repo := repository.New(db.DB)
	reg := registry.New(repo)
	metricsReg := observability.NewRegistry()
	metrics := observability.NewWarehouseMetrics(metricsReg)

	orch := orchestrator.New(repo, mdClient, reg, metrics, cfg.Orchestrator())

	if jobPath != "" {
		runOneOffJob(ctx, orch, jobPath)
		return
	}

	sched := scheduler.New(orch, cfg.Scheduler())
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth(db))
	mux.HandleFunc("/metrics", handleMetrics(metricsReg))
	mux.HandleFunc("/metrics/prometheus", handlePrometheusMetrics(metricsReg))
	mux.HandleFunc("/jobs", handleTriggerJob(sched))

	server := &http.Server{Addr: ":" + httpPort, Handler: mux}
	go func() {
		log.Printf("HTTP server listening on :%s", httpPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	log.Printf("backfill-engine started (daily at %02d:%02d UTC)", cfg.BackfillScheduleHour, cfg.BackfillScheduleMinute)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down...")
	sched.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

// runOneOffJob submits req synchronously and prints the resulting job ID,
// per spec.md §6's job-submission interface.
func runOneOffJob(ctx context.Context, orch *orchestrator.Orchestrator, jobPath string) {
	path := jobPath
	if path == "-" {
		path = ""
	}
	manifest, err := jobrequest.Read(path)
	if err != nil {
		log.Fatalf("failed to read job manifest: %v", err)
	}

	req, err := toJobRequest(manifest)
	if err != nil {
		log.Fatalf("invalid job manifest: %v", err)
	}

	jobID, err := orch.RunJob(ctx, req)
	if err != nil {
		log.Fatalf("job %s failed: %v", jobID, err)
	}
	fmt.Printf("job %s completed\n", jobID)
}

func toJobRequest(m jobrequest.Manifest) (orchestrator.JobRequest, error) {
	start, end, err := m.DateRange()
	if err != nil {
		return orchestrator.JobRequest{}, err
	}

	timeframes := make([]marketdata.Timeframe, 0, len(m.Timeframes))
	for _, tf := range m.Timeframes {
		candidate := marketdata.Timeframe(tf)
		if !marketdata.ValidTimeframes[candidate] {
			return orchestrator.JobRequest{}, fmt.Errorf("unknown timeframe %q", tf)
		}
		timeframes = append(timeframes, candidate)
	}

	return orchestrator.JobRequest{
		Symbols:    m.Symbols,
		Timeframes: timeframes,
		Start:      start,
		End:        end,
	}, nil
}

func handleHealth(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "healthy"
		code := http.StatusOK
		if err := db.HealthCheck(r.Context()); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  status,
			"service": "backfill-engine",
			"uptime":  time.Since(startTime).String(),
		})
	}
}

func handleMetrics(reg *observability.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"uptime": time.Since(startTime).String(),
		})
	}
}

func handlePrometheusMetrics(reg *observability.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		reg.WriteText(w)
	}
}

// handleTriggerJob lets an operator submit an on-demand job over HTTP
// instead of the -job flag, sharing the scheduler's single concurrency
// slot (spec.md §4.6).
func handleTriggerJob(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var manifest jobrequest.Manifest
		if err := json.NewDecoder(r.Body).Decode(&manifest); err != nil {
			http.Error(w, fmt.Sprintf("invalid manifest: %v", err), http.StatusBadRequest)
			return
		}
		req, err := toJobRequest(manifest)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		jobID, err := sched.TriggerManual(r.Context(), req)
		if err != nil {
			if err == scheduler.ErrJobAlreadyRunning {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"job_id": jobID})
	}
}
