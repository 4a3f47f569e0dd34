package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"marcutd/internal/common/fsutil"
	"marcutd/internal/config"
	"marcutd/internal/httpapi"
	"marcutd/internal/pull"
	"marcutd/internal/staging"
	"marcutd/internal/store"
	"marcutd/internal/supervisor"
)

func main() {
	defaultAddr := "127.0.0.1:8199"
	if v := os.Getenv("MARCUTD_ADDR"); v != "" {
		defaultAddr = v
	}
	configPath := flag.String("config", "", "Path to a YAML/JSON/TOML config file")
	addr := flag.String("addr", "", "Control API listen address (default "+defaultAddr+")")
	homeDir := flag.String("home-dir", "", "App container directory (default ~/.marcut)")
	modelsDir := flag.String("models-dir", "", "Model store directory (default <home>/models)")
	binaryPath := flag.String("binary", "", "Model server executable (default ollama on PATH)")
	workerPath := flag.String("worker", "", "Redaction worker executable")
	host := flag.String("host", "", "Host the model server binds (default 127.0.0.1)")
	basePort := flag.Int("base-port", 0, "First candidate port for the model server (default 11434)")
	model := flag.String("model", "", "Default model identifier")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Emit JSON logs instead of console output")
	corsEnabled := flag.Bool("cors-enabled", false, "Enable CORS on the control API")
	corsOrigins := flag.String("cors-origins", "", "Comma-separated allowed CORS origins")
	flag.Parse()

	cfg := config.Config{}
	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			bootLog := zerolog.New(os.Stderr)
			bootLog.Fatal().Err(err).Str("path", *configPath).Msg("load config")
		}
		cfg = fileCfg
	}
	cfg = config.Merge(cfg, config.Config{
		Addr:       *addr,
		HomeDir:    *homeDir,
		ModelsDir:  *modelsDir,
		BinaryPath: *binaryPath,
		WorkerPath: *workerPath,
		Host:       *host,
		BasePort:   *basePort,
		Model:      *model,
		LogLevel:   *logLevel,
		LogJSON:    *logJSON,
	})
	applyDefaults(&cfg, defaultAddr)

	log := newLogger(cfg)

	stg, err := staging.New(cfg.StagingDirs, nil, log)
	if err != nil {
		log.Fatal().Err(err).Strs("candidates", cfg.StagingDirs).Msg("no usable staging directory")
	}

	st := store.New(cfg.ModelsDir)
	makePuller := func(baseURL string, env []string) *pull.Puller {
		var cli pull.CLIRunner
		if cfg.BinaryPath != "" {
			// The exec fallback must see the same sanitized environment as
			// the server child, or it pulls into the default user store.
			cli = &pull.ExecCLI{Binary: cfg.BinaryPath, Env: env}
		}
		return pull.New(pull.NewClient(baseURL), st, cli, log)
	}
	sv, err := supervisor.New(supervisor.Config{
		BinaryPath: cfg.BinaryPath,
		Host:       cfg.Host,
		BasePort:   cfg.BasePort,
		HomeDir:    cfg.HomeDir,
		ModelsDir:  cfg.ModelsDir,
		LogPath:    filepath.Join(cfg.HomeDir, "logs", "server.log"),
		Model:      cfg.Model,
	}, st, stg, nil, makePuller, log)
	if err != nil {
		log.Fatal().Err(err).Msg("init supervisor")
	}

	baseCtx, cancelBase := context.WithCancel(context.Background())
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	if *corsEnabled {
		origins := strings.Split(*corsOrigins, ",")
		httpapi.SetCORSOptions(true, origins,
			[]string{"GET", "POST", "OPTIONS"},
			[]string{"Accept", "Content-Type"})
	}

	svc := &daemonService{sv: sv, cfg: cfg, log: log}
	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Msg("marcutd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// SIGHUP reopens the child log after external clearing or rotation.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := sv.ReopenLog(); err != nil {
				log.Warn().Err(err).Msg("reopen server log")
			} else {
				log.Info().Msg("server log reopened")
			}
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancelBase()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	sv.Close()
}

func applyDefaults(cfg *config.Config, defaultAddr string) {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir = "~/.marcut"
	}
	cfg.HomeDir = expand(cfg.HomeDir)
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = filepath.Join(cfg.HomeDir, "models")
	}
	cfg.ModelsDir = expand(cfg.ModelsDir)
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "ollama"
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.BasePort == 0 {
		cfg.BasePort = 11434
	}
	if len(cfg.StagingDirs) == 0 {
		cfg.StagingDirs = []string{filepath.Join(cfg.HomeDir, "staging"), os.TempDir()}
	}
}

func expand(path string) string {
	p, err := fsutil.ExpandHome(path)
	if err != nil {
		return path
	}
	return p
}

func newLogger(cfg config.Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && cfg.LogLevel != "" {
		level = l
	}
	var log zerolog.Logger
	if cfg.LogJSON {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return log.Level(level).With().Timestamp().Logger()
}
