package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/PRBEM/IRBEM/internal/api"
	"github.com/PRBEM/IRBEM/internal/auth"
	"github.com/PRBEM/IRBEM/internal/batch"
	"github.com/PRBEM/IRBEM/internal/bounce"
	"github.com/PRBEM/IRBEM/internal/dipole"
	"github.com/PRBEM/IRBEM/internal/irbem"
	"github.com/PRBEM/IRBEM/internal/irbem/native"
	"github.com/PRBEM/IRBEM/internal/spacetime"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	authCfg, err := loadAuthConfig(logger)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	backendCfg := loadBackendConfig(logger)
	backend, err := openBackend(backendCfg)
	if err != nil {
		logger.Error("failed to open field backend", "backend", backendCfg.Kind, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	model, err := loadModel(logger)
	if err != nil {
		logger.Error("invalid field model configuration", "error", err)
		os.Exit(1)
	}

	fields, err := irbem.NewMagFields(backend, model, logger)
	if err != nil {
		logger.Error("failed to create field client", "error", err)
		os.Exit(1)
	}
	est := bounce.NewEstimator(fields, logger)
	pool := batch.NewPool(est, loadWorkers(logger), logger)

	cfg := loadServerConfig(logger)
	srv := api.NewServer(cfg, api.Services{
		Fields:    fields,
		Coords:    irbem.NewCoords(fields.Backend(), logger),
		Estimator: est,
		Pool:      pool,
	}, logger, authCfg)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "auth_enabled", authCfg.Enabled, "backend", backend.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

type backendConfig struct {
	Kind    string // "dipole" or "native"
	LibPath string
	MaxL    float64
}

func loadBackendConfig(logger *slog.Logger) backendConfig {
	cfg := backendConfig{Kind: "dipole", MaxL: dipole.DefaultMaxL}

	if v := os.Getenv("IRBEM_BACKEND"); v != "" {
		if v != "dipole" && v != "native" {
			logger.Warn("invalid IRBEM_BACKEND value, using default", "value", v, "default", cfg.Kind)
		} else {
			cfg.Kind = v
		}
	}

	cfg.LibPath = os.Getenv("IRBEM_LIB_PATH")
	if cfg.LibPath == "" {
		cfg.LibPath = "libirbem.so"
	}

	if v := os.Getenv("IRBEM_DIPOLE_MAX_L"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 1 {
			logger.Warn("invalid IRBEM_DIPOLE_MAX_L value, using default", "value", v, "default", cfg.MaxL)
		} else {
			cfg.MaxL = f
		}
	}

	logger.Info("backend config", "backend", cfg.Kind, "lib_path", cfg.LibPath, "dipole_max_l", cfg.MaxL)
	return cfg
}

func openBackend(cfg backendConfig) (irbem.Backend, error) {
	if cfg.Kind == "native" {
		return native.Open(cfg.LibPath)
	}
	return dipole.New(dipole.WithMaxL(cfg.MaxL)), nil
}

func loadModel(logger *slog.Logger) (irbem.Model, error) {
	model := irbem.DefaultModel()

	if v := os.Getenv("IRBEM_KEXT"); v != "" {
		k, err := irbem.ParseKext(v)
		if err != nil {
			return model, fmt.Errorf("IRBEM_KEXT: %w", err)
		}
		model.Kext = k
	}

	if v := os.Getenv("IRBEM_SYSAXES"); v != "" {
		c, err := spacetime.ParseCoordSystem(v)
		if err != nil {
			return model, fmt.Errorf("IRBEM_SYSAXES: %w", err)
		}
		model.Sysaxes = c
	}

	if v := os.Getenv("IRBEM_OPTIONS"); v != "" {
		o, err := irbem.ParseOptions(v)
		if err != nil {
			return model, fmt.Errorf("IRBEM_OPTIONS: %w", err)
		}
		model.Options = o
	}

	return model, model.Validate()
}

func loadWorkers(logger *slog.Logger) int {
	workers := runtime.NumCPU()
	if v := os.Getenv("IRBEM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid IRBEM_WORKERS value, using default", "value", v, "default", workers)
		} else {
			workers = n
		}
	}
	return workers
}

func loadServerConfig(logger *slog.Logger) api.Config {
	cfg := api.DefaultConfig()

	if v := os.Getenv("IRBEM_HTTP_ADDR"); v != "" {
		cfg.Addr = v
	}

	if v := os.Getenv("IRBEM_TRUST_PROXY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			logger.Warn("invalid IRBEM_TRUST_PROXY value, defaulting to false", "value", v)
		} else {
			cfg.TrustProxy = b
		}
	}

	intVars := []struct {
		name string
		dst  *int
	}{
		{"IRBEM_MAX_CONCURRENT_PER_IP", &cfg.MaxConcurrentPerIP},
		{"IRBEM_MAX_CONCURRENT_TOTAL", &cfg.MaxConcurrentTotal},
		{"IRBEM_MAX_ENERGIES", &cfg.MaxEnergies},
		{"IRBEM_MAX_RESAMPLE_COUNT", &cfg.MaxResampleCount},
		{"IRBEM_MAX_BATCH_QUERIES", &cfg.MaxBatchQueries},
	}
	for _, iv := range intVars {
		v := os.Getenv(iv.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid "+iv.name+" value, using default", "value", v, "default", *iv.dst)
			continue
		}
		*iv.dst = n
	}

	if v := os.Getenv("IRBEM_REQUEST_TIMEOUT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			logger.Warn("invalid IRBEM_REQUEST_TIMEOUT value, using default", "value", v, "default", cfg.RequestTimeout.Seconds())
		} else {
			cfg.RequestTimeout = time.Duration(n) * time.Second
		}
	}

	logger.Info("server config",
		"addr", cfg.Addr,
		"trust_proxy", cfg.TrustProxy,
		"max_concurrent_per_ip", cfg.MaxConcurrentPerIP,
		"max_concurrent_total", cfg.MaxConcurrentTotal,
		"max_energies", cfg.MaxEnergies,
		"max_resample_count", cfg.MaxResampleCount,
		"max_batch_queries", cfg.MaxBatchQueries,
		"request_timeout_seconds", cfg.RequestTimeout.Seconds(),
	)

	return cfg
}

func loadAuthConfig(logger *slog.Logger) (auth.Config, error) {
	cfg := auth.Config{}

	enabledStr := os.Getenv("IRBEM_AUTH_ENABLED")
	if enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return cfg, errors.New("IRBEM_AUTH_ENABLED must be a boolean value (true/false/1/0)")
		}
		cfg.Enabled = enabled
	}

	if cfg.Enabled {
		cfg.Token = os.Getenv("IRBEM_AUTH_TOKEN")
		if cfg.Token == "" {
			return cfg, errors.New("IRBEM_AUTH_TOKEN is required when auth is enabled")
		}
		logger.Info("auth enabled")
	}

	return cfg, nil
}
