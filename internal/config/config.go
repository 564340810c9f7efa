// Package config reads the server configuration from command-line flags,
// with ARMORY_* environment variables as fallbacks.
package config

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/erazemk/armory/internal/verification"
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// ErrHelp is returned by Load when help was requested.
var ErrHelp = pflag.ErrHelp

// Config is the server configuration.
type Config struct {
	DBPath    string
	Addr      string
	AdminUser string
	LogPath   string
	Debug     bool

	Backend  string
	MongoURI string
	MongoDB  string

	RedisURL     string
	KafkaBrokers []string
	KafkaTopic   string

	PairingRules     string
	Location         *time.Location
	VerificationMode verification.Mode
	Concurrency      int
	Compensate       bool
}

type settings struct {
	timezone string
	mode     string
}

// Load parses args. getenv supplies the environment fallbacks.
func Load(args []string, getenv func(string) string) (*Config, error) {
	env := func(name, def string) string {
		if v := getenv("ARMORY_" + name); v != "" {
			return v
		}
		return def
	}
	envInt := func(name string, def int) int {
		if n, err := strconv.Atoi(getenv("ARMORY_" + name)); err == nil {
			return n
		}
		return def
	}
	envBool := func(name string) bool {
		b, _ := strconv.ParseBool(getenv("ARMORY_" + name))
		return b
	}

	var c Config
	var s settings
	fs := newFlagSet(&c, &s, env, envInt, envBool)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if help, _ := fs.GetBool("help"); help {
		return nil, ErrHelp
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if brokers := env("KAFKA_BROKERS", ""); len(c.KafkaBrokers) == 0 && brokers != "" {
		c.KafkaBrokers = strings.Split(brokers, ",")
	}

	loc, err := time.LoadLocation(s.timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", s.timezone, err)
	}
	c.Location = loc

	mode, err := verification.ParseMode(s.mode)
	if err != nil {
		return nil, err
	}
	c.VerificationMode = mode

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func newFlagSet(c *Config, s *settings, env func(string, string) string, envInt func(string, int) int, envBool func(string) bool) *pflag.FlagSet {
	fs := pflag.NewFlagSet("armory", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVarP(&c.DBPath, "db", "d", env("DB", "armory.sqlite3"), "SQLite database path")
	fs.StringVarP(&c.Addr, "addr", "a", env("ADDR", ":8080"), "listen address")
	fs.StringVarP(&c.AdminUser, "user", "u", env("USER", "Admin"), "admin username on first run")
	fs.StringVarP(&c.LogPath, "log", "l", env("LOG", ""), "log file path")
	fs.BoolVar(&c.Debug, "debug", envBool("DEBUG"), "log debug messages")

	fs.StringVar(&c.Backend, "backend", env("BACKEND", BackendSQLite), "custody storage: sqlite or mongo")
	fs.StringVar(&c.MongoURI, "mongo-uri", env("MONGO_URI", "mongodb://localhost:27017"), "MongoDB connection string")
	fs.StringVar(&c.MongoDB, "mongo-db", env("MONGO_DB", "armory"), "MongoDB database name")

	fs.StringVar(&c.RedisURL, "redis-url", env("REDIS_URL", ""), "Redis URL for the soldier directory cache")
	fs.StringSliceVar(&c.KafkaBrokers, "kafka-brokers", nil, "Kafka seed brokers for custody notifications")
	fs.StringVar(&c.KafkaTopic, "kafka-topic", env("KAFKA_TOPIC", "armory.custody"), "Kafka topic for custody notifications")

	fs.StringVar(&c.PairingRules, "pairing-rules", env("PAIRING_RULES", ""), "YAML file with pairing rules")
	fs.StringVar(&s.timezone, "timezone", env("TIMEZONE", "Local"), "timezone of verification days")
	fs.StringVar(&s.mode, "verification-mode", env("VERIFICATION_MODE", string(verification.ModeAppend)), "append or upsert")
	fs.IntVar(&c.Concurrency, "concurrency", envInt("CONCURRENCY", 8), "custody mutations in flight per batch")
	fs.BoolVar(&c.Compensate, "compensate", envBool("COMPENSATE"), "undo a batch when any item fails")

	fs.BoolP("help", "h", false, "show help")
	return fs
}

// Validate checks values that flags alone cannot constrain.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("--db is required for the sqlite backend"))
		}
	case BackendMongo:
		if c.MongoURI == "" || c.MongoDB == "" {
			errs = append(errs, errors.New("--mongo-uri and --mongo-db are required for the mongo backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("--concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.KafkaTopic == "" && len(c.KafkaBrokers) > 0 {
		errs = append(errs, errors.New("--kafka-topic is required with --kafka-brokers"))
	}
	return errors.Join(errs...)
}

// Usage writes the flag help to w.
func Usage(w io.Writer) {
	fs := newFlagSet(&Config{}, &settings{},
		func(_, def string) string { return def },
		func(_ string, def int) int { return def },
		func(string) bool { return false },
	)
	fmt.Fprint(w, "Usage: armory [flags]\n\nFlags:\n")
	fmt.Fprint(w, fs.FlagUsages())
	fmt.Fprint(w, "\nEvery flag can also be set as ARMORY_<NAME>, e.g. ARMORY_REDIS_URL.\n")
}
