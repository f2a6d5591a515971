package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFlag         string
	portFlag           int
	originFlag         string
	addrFlag           string
	hostFlag           string
	versionFlag        string
	providerFlag       string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string
	adminAddrFlag      string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFlag, "config", os.Getenv("OFFLINE_CONFIG"), "Path to YAML config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to fetch from (overrides addr and host)")
	flag.StringVar(&addrFlag, "addr", "", "Origin IP address to fetch from")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (default 8080)")
	flag.StringVar(&versionFlag, "cache-version", "", "Snapshot version to install")
	flag.StringVar(&providerFlag, "provider", "", "Cache provider: sqlite, leveldb or memory")
	flag.StringVar(&dbFilenameFlag, "db", "", "Cache DB file or directory (use 'memory' for in-memory sqlite)")
	flag.StringVar(&adminAddrFlag, "admin-addr", "", "Address for the status, install and metrics endpoints (default 127.0.0.1:9090)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	// run returns instead of exiting so that its deferred cleanup happens
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Exiting")
	}
}

func run() (err error) {
	cfg, err := offlinecache.ReadConfig(configFlag)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	store, err := cfg.OpenCache()
	if err != nil {
		return fmt.Errorf("open %s cache: %w", cfg.Provider, err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("Could not close cache")
			if err == nil {
				err = fmt.Errorf("close cache: %w", cerr)
			}
		}
	}()

	metrics := offlinecache.NewMetrics()
	workerConfig, err := cfg.WorkerConfig(store, &log.Logger, metrics)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	worker, err := offlinecache.CreateWorker(workerConfig)
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// a failed install keeps the previously active version, so keep serving
	if err := worker.Start(ctx); err != nil {
		log.Error().Err(err).Str("active", worker.ActiveVersion()).Msg("Could not start new version")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	adminLn, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		ln.Close()
		return fmt.Errorf("listen on %s: %w", cfg.AdminAddr, err)
	}

	servers := []*http.Server{
		{Handler: newRouter(worker), ReadHeaderTimeout: 10 * time.Second},
		{Handler: newAdminRouter(worker, metrics), ReadHeaderTimeout: 10 * time.Second},
	}
	listeners := []net.Listener{ln, adminLn}

	log.Info().Msgf("Serving port %v from %s (origin %s, hostname '%s')", cfg.Port, cfg.Provider, cfg.Origin, cfg.Host)
	log.Info().Msgf("Serving admin endpoints on %s", adminLn.Addr())
	serveErrs := make(chan error, len(servers))
	for i, srv := range servers {
		go func(srv *http.Server, ln net.Listener) {
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrs <- fmt.Errorf("serve %s: %w", ln.Addr(), err)
				stop()
			}
		}(srv, listeners[i])
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Could not shut down server")
			errs = append(errs, fmt.Errorf("shutdown: %w", err))
		}
	}
	for len(serveErrs) > 0 {
		errs = append(errs, <-serveErrs)
	}
	return errors.Join(errs...)
}

// applyFlags overrides the file and environment configuration with the CLI flags that were given.
func applyFlags(cfg *offlinecache.FileConfig) {
	if originFlag != "" {
		cfg.Origin = originFlag
	} else if addrFlag != "" {
		cfg.Origin = "https://" + addrFlag
		cfg.Host = hostFlag
	}
	if hostFlag != "" {
		cfg.Host = hostFlag
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if versionFlag != "" {
		cfg.Version = versionFlag
	}
	if providerFlag != "" {
		cfg.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		cfg.DB = dbFilenameFlag
	}
	if adminAddrFlag != "" {
		cfg.AdminAddr = adminAddrFlag
	}
}
