package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"

	resolver "github.com/always-cache/record-resolver"
	"github.com/always-cache/record-resolver/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	dbFilenameFlag     string
	providerFlag       string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "config.yaml", "Config file with the served collections")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides listen in config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Record DB file name (use 'memory' for in-memory db, overrides config)")
	flag.StringVar(&providerFlag, "provider", "", "Record store provider, 'sqlite' or 'memory' (overrides config)")
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
		With().Str("version", version).Logger()

	config, err := resolver.LoadConfig(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Str("file", configFilenameFlag).Msg("Invalid config")
	}
	if portFlag != 0 {
		config.Listen = fmt.Sprintf(":%d", portFlag)
	}
	if providerFlag != "" {
		config.Provider = providerFlag
	}
	if dbFilenameFlag != "" {
		config.Database = dbFilenameFlag
	}

	records, closeStore, err := openStore(config)
	if err != nil {
		log.Fatal().Err(err).Str("provider", config.Provider).Msg("Could not open record store")
	}

	server := resolver.NewServer(config, records, &log.Logger)
	log.Info().Msgf("Serving %d collections on %s", len(config.Collections), config.Listen)
	err = http.ListenAndServe(config.Listen, server)
	if closeErr := closeStore(); closeErr != nil {
		log.Error().Err(closeErr).Msg("Could not close record store")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

// openStore returns the configured store and the function closing it.
func openStore(config resolver.Config) (store.Store, func() error, error) {
	switch config.Provider {
	case "memory":
		return store.NewMemStore(config.Schemas()), func() error { return nil }, nil
	case "sqlite":
		// empty file name means an in-memory db
		dbFilename := config.Database
		if dbFilename == "memory" {
			dbFilename = ""
		}
		sqliteStore, err := store.NewSQLiteStore(dbFilename, config.Schemas())
		if err != nil {
			return nil, nil, err
		}
		return sqliteStore, sqliteStore.Close, nil
	}
	return nil, nil, fmt.Errorf("Unsupported provider %q", config.Provider)
}
