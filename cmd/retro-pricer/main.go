package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	retropricer "github.com/Jondude1/retro-pricer"
	"github.com/Jondude1/retro-pricer/cache"
	"github.com/Jondude1/retro-pricer/pricer"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	portFlag           int
	dbFilenameFlag     string
	cacheFilenameFlag  string
	providerFlag       string
	configFlag         string
	metricsFlag        string
	priceTTLFlag       time.Duration
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

type environment struct {
	Port         int    `env:"PORT"`
	AnthropicKey string `env:"ANTHROPIC_API_KEY"`
}

func init() {
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides the PORT env var, default 8080)")
	flag.StringVar(&dbFilenameFlag, "db", "pricer.db", "Price cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&cacheFilenameFlag, "cache-db", "cache.db", "Shell cache DB file or badger directory (use 'memory' for in-memory db)")
	flag.StringVar(&providerFlag, "provider", "sqlite", "Shell cache provider: sqlite, badger or memory")
	flag.StringVar(&configFlag, "config", "", "Deployment config YAML file")
	flag.StringVar(&metricsFlag, "metrics", "", "Address to serve Prometheus metrics on (e.g. ':9091')")
	flag.DurationVar(&priceTTLFlag, "price-ttl", 0, "Serve cached prices for this long (0 always fetches fresh)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	setUpLogging()

	var environ environment
	if err := env.Parse(&environ); err != nil {
		log.Fatal().Err(err).Msg("Could not read environment")
	}
	port := portFlag
	if port == 0 {
		port = environ.Port
	}
	if port == 0 {
		port = 8080
	}

	agentConfig := retropricer.Config{Logger: &log.Logger}
	provider := providerFlag
	cacheFilename := cacheFilenameFlag
	if configFlag != "" {
		deployment, err := retropricer.LoadDeployment(configFlag)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not load deployment config")
		}
		agentConfig.Version = deployment.Version
		agentConfig.Shell = deployment.Shell
		agentConfig.DynamicPrefixes = deployment.DynamicPrefixes
		if deployment.Provider != "" {
			provider = deployment.Provider
		}
		if deployment.CacheFile != "" {
			cacheFilename = deployment.CacheFile
		}
	}
	agentConfig.Store = openStore(provider, cacheFilename)

	db := pricer.OpenDB(dbFilename(dbFilenameFlag), priceTTLFlag)
	server := pricer.NewServer(pricer.Config{
		DB:           db,
		AnthropicKey: environ.AnthropicKey,
		Logger:       &log.Logger,
	})

	agent := retropricer.CreateCache(agentConfig)
	handler := agent.Middleware(server.Handler())

	if metricsFlag != "" {
		serveMetrics(agent, metricsFlag)
	}

	ctx := context.Background()
	if err := agent.Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not install shell generation")
	}
	if err := agent.Activate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not activate shell generation")
	}

	log.Info().Msgf("Serving retro pricer on port %v", port)
	err := http.ListenAndServe(fmt.Sprintf(":%d", port), handler)

	if err != nil {
		panic(err)
	}
}

func setUpLogging() {
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// log to stdout, and also to the logfile if specified
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
		With().Str("version", version).Logger()
}

func dbFilename(name string) string {
	if name == "memory" {
		return "file::memory:?cache=shared"
	}
	return name
}

func openStore(provider, filename string) cache.Store {
	switch provider {
	case "sqlite":
		return cache.NewSQLiteStore(dbFilename(filename))
	case "memory":
		return cache.NewMemStore()
	case "badger":
		dir := filename
		if dir == "memory" {
			dir = ""
		}
		store, err := cache.NewBadgerStore(dir, &log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("Could not open badger cache")
		}
		return store
	}
	log.Fatal().Msgf("Unknown cache provider '%s'", provider)
	return nil
}

func serveMetrics(agent *retropricer.OfflineCache, addr string) {
	registry := prometheus.NewRegistry()
	agent.RegisterMetrics(registry)
	go func() {
		handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
		if err := http.ListenAndServe(addr, handler); err != nil {
			log.Error().Err(err).Msg("Metrics listener failed")
		}
	}()
	log.Info().Msgf("Serving metrics on %s", addr)
}
