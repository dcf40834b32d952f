package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
)

// Settings configures the agent host process. Environment variables take
// precedence over command line flags.
type Settings struct {
	ConfigFile    string
	StatusAddress string
	LogLevel      string
	ExportURL     string
	Key           string
	DatabaseDSN   string
	RateLimit     int
	Threads       int
}

// NewSettings parses args (without the program name) and overlays the
// process environment.
func NewSettings(args []string) (*Settings, error) {
	return newSettings(args, os.Getenv)
}

func newSettings(args []string, getenv func(string) string) (*Settings, error) {
	settings := &Settings{
		ConfigFile:    "",
		StatusAddress: "localhost:8081",
		LogLevel:      "info",
		RateLimit:     2,
		Threads:       4,
	}

	flags := pflag.NewFlagSet("agent", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", settings.ConfigFile, "path to the JSON agent configuration")
	statusAddress := flags.StringP("address", "a", settings.StatusAddress, "status endpoint listen address")
	logLevel := flags.StringP("log-level", "l", settings.LogLevel, "log level")
	exportURL := flags.StringP("url", "u", settings.ExportURL, "base URL of the HTTP metrics exporter")
	key := flags.StringP("key", "k", settings.Key, "key for payload hash")
	databaseDSN := flags.StringP("database", "d", settings.DatabaseDSN, "database dsn for the postgres exporter")
	rateLimit := flags.IntP("rate-limit", "r", settings.RateLimit, "number of exporter workers")
	threads := flags.IntP("threads", "t", settings.Threads, "number of demo producer threads")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	envStrVars := map[string]*string{
		"CONFIG_FILE":    configFile,
		"STATUS_ADDRESS": statusAddress,
		"LOG_LEVEL":      logLevel,
		"EXPORT_URL":     exportURL,
		"KEY":            key,
		"DATABASE_DSN":   databaseDSN,
	}
	envIntVars := map[string]*int{
		"RATE_LIMIT": rateLimit,
		"THREADS":    threads,
	}

	for envVar, flag := range envStrVars {
		if envValue := getenv(envVar); envValue != "" {
			*flag = envValue
		}
	}
	for envVar, flag := range envIntVars {
		if envValue := getenv(envVar); envValue != "" {
			value, err := strconv.Atoi(envValue)
			if err != nil {
				return nil, fmt.Errorf("invalid %s value %q: %w", envVar, envValue, err)
			}
			*flag = value
		}
	}

	settings.ConfigFile = *configFile
	settings.StatusAddress = *statusAddress
	settings.LogLevel = *logLevel
	settings.ExportURL = *exportURL
	settings.Key = *key
	settings.DatabaseDSN = *databaseDSN
	settings.RateLimit = *rateLimit
	settings.Threads = *threads
	if settings.RateLimit < 1 {
		settings.RateLimit = 1
	}
	return settings, nil
}
