// Command biowatchd is the wildlife camera-trap data backend's process
// entrypoint: it loads configuration, wires the connection manager, the ML
// server supervisor, and the RPC façade, then serves until a shutdown
// signal arrives.
//
// Configuration is provided via environment variables:
//   - BIOWATCH_USER_DATA_ROOT: root directory for studies, ML models, and
//     manifests (required)
//   - BIOWATCH_DEFAULT_SEQUENCE_GAP: sequence-grouping gap in seconds,
//     read and logged at startup (default: 60); the importers do not read it
//   - BIOWATCH_RPC_ADDR: address the RPC façade listens on (default:
//     127.0.0.1:8742)
//   - BIOWATCH_METRICS_ADDR: address the Prometheus handler listens on
//     (disabled if unset)
//   - LOG_LEVEL: logging verbosity (default: info)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"biowatch/internal/config"
	"biowatch/internal/logging"
	"biowatch/internal/memory"
	"biowatch/internal/mlserver"
	"biowatch/internal/rpc"
	"biowatch/internal/storedb"
	"biowatch/internal/study"
)

var _ mlserver.Spawner = spawnModelProcess

func main() {
	startTime := time.Now()

	memory.ConfigureFromEnv()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("configuration error: %v", err)
	}

	layout := study.NewLayout(cfg.UserDataRoot)

	modelManifest, err := study.OpenManifest(layout.ModelManifestPath())
	if err != nil {
		logging.Fatal("failed to open model manifest: %v", err)
	}
	envManifest, err := study.OpenManifest(layout.EnvManifestPath())
	if err != nil {
		logging.Fatal("failed to open environment manifest: %v", err)
	}

	dbManager := storedb.NewManager()
	mlSupervisor := mlserver.New(spawnModelProcess)

	h := rpc.New(dbManager, layout, modelManifest, envManifest, mlSupervisor)
	router := mux.NewRouter()
	router.HandleFunc("/health", healthCheck).Methods("GET")
	router.HandleFunc("/healthz", healthCheck).Methods("GET")
	h.Register(router)

	srv := &http.Server{
		Addr:         cfg.RPCAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logging.Error("metrics server error: %v", err)
			}
		}()
	}

	shutdownComplete := make(chan struct{})
	go handleShutdown(srv, metricsSrv, dbManager, mlSupervisor, shutdownComplete)

	logging.Info("------------------------------------------------------------")
	logging.Info("RPC façade listening on %s (startup took %s)", cfg.RPCAddr, time.Since(startTime))
	logging.Info("------------------------------------------------------------")
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error: %v", err)
	}

	<-shutdownComplete
}

func healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleShutdown(srv, metricsSrv *http.Server, dbManager *storedb.Manager, ml *mlserver.Supervisor, done chan struct{}) {
	defer close(done)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	config.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	config.LogShutdownStepComplete("Stopping ML server processes")
	for _, err := range ml.StopAll(ctx) {
		logging.Warn("ml server stop error: %v", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("RPC server shutdown error: %v", err)
	} else {
		config.LogShutdownStepComplete("RPC server stopped")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("metrics server shutdown error: %v", err)
		} else {
			config.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	if err := dbManager.CloseAll(); err != nil {
		logging.Warn("database close error: %v", err)
	} else {
		config.LogShutdownStepComplete("All study databases closed")
	}

	config.LogShutdownComplete()
}
