package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/erazemk/armory/internal/api"
	"github.com/erazemk/armory/internal/audit"
	"github.com/erazemk/armory/internal/config"
	"github.com/erazemk/armory/internal/custody"
	"github.com/erazemk/armory/internal/db"
	"github.com/erazemk/armory/internal/directory"
	"github.com/erazemk/armory/internal/metrics"
	"github.com/erazemk/armory/internal/mongostore"
	"github.com/erazemk/armory/internal/orchestrator"
	"github.com/erazemk/armory/internal/pairing"
	"github.com/erazemk/armory/internal/split"
	"github.com/erazemk/armory/internal/store"
	"github.com/erazemk/armory/internal/verification"
)

// maintenanceInterval is how often held audit events are retried and
// expired token revocations are dropped.
const maintenanceInterval = time.Minute

// levelRouter is a slog.Handler that routes INFO/WARN to stdout and ERROR+ to stderr.
type levelRouter struct {
	min    slog.Level
	stdout slog.Handler
	stderr slog.Handler
}

func (lr *levelRouter) Enabled(_ context.Context, level slog.Level) bool {
	return level >= lr.min
}

func (lr *levelRouter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelError {
		return lr.stderr.Handle(ctx, r)
	}
	return lr.stdout.Handle(ctx, r)
}

func (lr *levelRouter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRouter{
		min:    lr.min,
		stdout: lr.stdout.WithAttrs(attrs),
		stderr: lr.stderr.WithAttrs(attrs),
	}
}

func (lr *levelRouter) WithGroup(name string) slog.Handler {
	return &levelRouter{
		min:    lr.min,
		stdout: lr.stdout.WithGroup(name),
		stderr: lr.stderr.WithGroup(name),
	}
}

// setupLogger configures structured logging. INFO/WARN go to stdout, ERROR goes
// to stderr. If logPath is non-empty, all levels are also written to that file.
// Returns a cleanup function that closes the log file (if opened).
func setupLogger(logPath string, debug bool) (func(), error) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var cleanup func()

	stdoutW := io.Writer(os.Stdout)
	stderrW := io.Writer(os.Stderr)

	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		cleanup = func() { f.Close() }
		stdoutW = io.MultiWriter(os.Stdout, f)
		stderrW = io.MultiWriter(os.Stderr, f)
	}

	handler := &levelRouter{
		min:    level,
		stdout: slog.NewTextHandler(stdoutW, opts),
		stderr: slog.NewTextHandler(stderrW, opts),
	}
	slog.SetDefault(slog.New(handler))
	return cleanup, nil
}

// backend is everything the custody services need from storage.
type backend interface {
	custody.Store
	verification.Store
	directory.Store
	audit.EventStore
	api.SoldierWriter
}

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if errors.Is(err, config.ErrHelp) {
		config.Usage(os.Stdout)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n\n", err)
		config.Usage(os.Stderr)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.LogPath, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if closeLog != nil {
		defer closeLog()
	}

	if err := run(cfg); err != nil {
		slog.Error("armory stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	logger := slog.Default()

	// Check if DB exists, auto-init if not.
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		database, password, err := initDatabase(cfg.DBPath, cfg.AdminUser)
		if err != nil {
			return fmt.Errorf("initializing database: %w", err)
		}
		database.Close()

		printInitResult(cfg.DBPath, cfg.AdminUser, password)
		fmt.Println()
	}

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.EnsureSchema(database); err != nil {
		return fmt.Errorf("ensuring database schema: %w", err)
	}
	slog.Info("database ready", "path", cfg.DBPath)

	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	var be backend = store.New(database)
	if cfg.Backend == config.BackendMongo {
		ms, client, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return err
		}
		defer client.Disconnect(context.Background())
		be = ms
		slog.Info("custody store ready", "backend", cfg.Backend, "database", cfg.MongoDB)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rules, err := pairing.LoadRules(cfg.PairingRules)
	if err != nil {
		return err
	}

	var dir directory.Directory = directory.FromStore(be)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		dir = directory.NewCached(dir, rdb, directory.WithLogger(logger))
		slog.Info("soldier directory cache enabled", "addr", opts.Addr)
	}

	notifier := audit.MultiNotifier{audit.NewSlogNotifier(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		kc, err := audit.NewKafkaClient(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kc.Close()
		kafka := audit.NewKafkaNotifier(kc, cfg.KafkaTopic)
		notifier = append(notifier, audit.NewBreakerNotifier("kafka", kafka, audit.BreakerSettings{
			ConsecutiveFailures: 5,
			Timeout:             30 * time.Second,
		}, logger))
		slog.Info("custody notifications enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	ledger := custody.New(be, custody.WithLogger(logger), custody.WithMetrics(m))
	engine := split.NewEngine(be, ledger, logger, m)
	logSink := audit.NewLogSink(be, notifier)
	publisher := audit.NewPublisher(logSink, notifier,
		audit.WithPublisherLogger(logger),
		audit.WithPublisherMetrics(m),
	)
	tracker := verification.New(be, ledger,
		verification.WithLocation(cfg.Location),
		verification.WithMode(cfg.VerificationMode),
		verification.WithLogger(logger),
		verification.WithMetrics(m),
	)

	orchOpts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(m),
		orchestrator.WithConcurrency(cfg.Concurrency),
	}
	if cfg.Compensate {
		orchOpts = append(orchOpts, orchestrator.CompensateOnPartialFailure())
	}
	orch := orchestrator.New(ledger, pairing.NewResolver(ledger, rules, logger), engine, dir, publisher, orchOpts...)

	apiRouter := api.NewRouter(api.Deps{
		DB:           database,
		JWTSecret:    jwtSecret,
		Ledger:       ledger,
		Orchestrator: orch,
		Splitter:     engine,
		Tracker:      tracker,
		Directory:    dir,
		Soldiers:     be,
		AuditLog:     logSink,
		Publisher:    publisher,
	})

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Mount("/", apiRouter)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	maintCtx, stopMaint := context.WithCancel(ctx)
	defer stopMaint()
	go maintenance(maintCtx, publisher, database)

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-quit
		slog.Info("shutdown signal received", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
	}()

	slog.Info("server started", "addr", cfg.Addr, "backend", cfg.Backend)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}

	if n := len(publisher.Pending()); n > 0 {
		slog.Error("custody records not written to the audit trail", "pending", n)
	}
	slog.Info("server stopped, closing database")
	return nil
}

// maintenance retries held audit events and purges expired token
// revocations until ctx is done.
func maintenance(ctx context.Context, p *audit.Publisher, database *sql.DB) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n, err := store.PurgeRevokedTokens(ctx, database, now); err != nil {
				slog.Warn("purging revoked tokens", "error", err)
			} else if n > 0 {
				slog.Debug("expired revocations purged", "count", n)
			}

			if len(p.Pending()) == 0 {
				continue
			}
			n, err := p.Flush(ctx)
			if err != nil {
				slog.Warn("audit flush incomplete", "recorded", n, "error", err)
				continue
			}
			slog.Info("held audit events recorded", "recorded", n)
		}
	}
}

// initDatabase creates a new database, ensures the schema, and creates the admin user.
func initDatabase(path, adminUsername string) (*sql.DB, string, error) {
	database, err := db.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("opening database: %w", err)
	}

	if err := db.EnsureSchema(database); err != nil {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("ensuring schema: %w", err)
	}

	password, err := generatePassword(16)
	if err != nil {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("generating password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	_, err = store.CreateUser(context.Background(), database, adminUsername, string(hash), "admin", "")
	if err != nil {
		database.Close()
		os.Remove(path)
		return nil, "", fmt.Errorf("creating admin user: %w", err)
	}

	return database, password, nil
}

// printInitResult prints the database initialization result to stdout.
func printInitResult(dbPath, username, password string) {
	fmt.Printf("Database created: %s\n", dbPath)
	fmt.Println("Schema initialized.")
	fmt.Println()
	fmt.Println("Admin account created:")
	fmt.Printf("  Username: %s\n", username)
	fmt.Printf("  Password: %s\n", password)
	fmt.Println()
	fmt.Println("Save this password, it cannot be recovered.")
	fmt.Println("The admin can change it after logging in.")
}

// generatePassword creates a random password of the given length.
func generatePassword(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%&*"
	result := make([]byte, length)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		result[i] = charset[n.Int64()]
	}
	return string(result), nil
}
