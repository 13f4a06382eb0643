package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/gangway/pkg/api"
	"github.com/Mindburn-Labs/gangway/pkg/artifacts"
	"github.com/Mindburn-Labs/gangway/pkg/audit"
	"github.com/Mindburn-Labs/gangway/pkg/auth"
	"github.com/Mindburn-Labs/gangway/pkg/bootstrap"
	"github.com/Mindburn-Labs/gangway/pkg/config"
	"github.com/Mindburn-Labs/gangway/pkg/dispatch"
	"github.com/Mindburn-Labs/gangway/pkg/firewall"
	"github.com/Mindburn-Labs/gangway/pkg/gateway"
	"github.com/Mindburn-Labs/gangway/pkg/guardian"
	"github.com/Mindburn-Labs/gangway/pkg/observability"
	"github.com/Mindburn-Labs/gangway/pkg/policy"
	"github.com/Mindburn-Labs/gangway/pkg/sandbox"
	"github.com/Mindburn-Labs/gangway/pkg/services/admin"
	"github.com/Mindburn-Labs/gangway/pkg/services/mail"
	"github.com/Mindburn-Labs/gangway/pkg/version"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func runServe(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("serve", flag.ContinueOnError)
	flags.SetOutput(stderr)
	profile := flags.String("config", "", "path to a YAML settings profile")
	if err := flags.Parse(args); err != nil {
		return 2
	}

	settings, err := config.LoadSettings(*profile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "gangway: %v\n", err)
		return 1
	}
	setupLogger(settings, stderr)

	_, _ = fmt.Fprintf(stdout, "gangway %s starting on %s\n", version.Version, settings.ListenAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, settings); err != nil {
		slog.Error("gateway stopped", "error", err)
		return 1
	}
	return 0
}

// setupLogger installs the process logger: JSON in production, text
// otherwise, level from settings.
func setupLogger(settings *config.Settings, w io.Writer) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(settings.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if settings.Environment == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// serve wires every collaborator and runs the endpoint until ctx dies.
func serve(ctx context.Context, settings *config.Settings) error {
	db, dialect, err := openDatabase(settings)
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := config.NewSQLStore(db, dialect)
	if err != nil {
		return err
	}
	var cfgOpts []config.Option
	if settings.MasterKey != "" {
		sealer, err := config.NewSealer(settings.MasterKey)
		if err != nil {
			return err
		}
		cfgOpts = append(cfgOpts, config.WithSealer(sealer))
	} else if settings.Environment == "production" {
		slog.Warn("GANGWAY_MASTER_KEY not set, sensitive config values are stored in the clear")
	}
	cfg := config.New(store, cfgOpts...)

	window := bootstrap.NewWindow(cfg)
	if err := window.EnsureDeployStamp(ctx); err != nil {
		return err
	}

	var replay auth.ReplayCache
	if settings.RedisURL != "" {
		ropts, err := redis.ParseURL(settings.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(ropts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis unreachable: %w", err)
		}
		replay = auth.NewRedisReplayCache(client, "")
		slog.Info("replay cache backed by redis")
	} else {
		replay = auth.NewMemoryReplayCache()
	}

	verifier := auth.NewVerifier(func(ctx context.Context) (string, bool) {
		return cfg.Lookup(ctx, config.KeyJWTSecret)
	}, replay)

	sinkID := cfg.Value(ctx, config.KeyLogSinkID)
	if sinkID == "" {
		sinkID = "default"
	}
	sink, err := audit.OpenSink(db, dialect, sinkID)
	if err != nil {
		return err
	}
	auditLog := audit.NewLogger(cfg, sink)

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version.Version
	obsCfg.Environment = settings.Environment
	if settings.OTLPEndpoint != "" {
		obsCfg.Enabled = true
		obsCfg.OTLPEndpoint = settings.OTLPEndpoint
		obsCfg.Insecure = settings.Environment != "production"
	}
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutCtx)
	}()

	exports, err := artifacts.NewStoreFromEnv(ctx, settings.DataDir)
	if err != nil {
		return err
	}

	reg := dispatch.NewRegistry()
	reg.Register("mail", mail.NewHandler(mail.NewMemoryMailbox(), guardian.NewInterceptor(cfg, auditLog)))
	reg.Register("admin", admin.NewHandler(cfg, sink,
		admin.WithExportStore(exports),
		admin.WithServices(reg.Services),
	))

	if settings.PluginDir != "" {
		plugins, err := sandbox.LoadDir(ctx, settings.PluginDir, sandbox.Limits{})
		if err != nil {
			return err
		}
		for name, handler := range plugins {
			reg.Register(name, handler)
			defer handler.Close(context.Background())
			slog.Info("plugin registered", "service", name)
		}
	}

	opts := []gateway.Option{
		gateway.WithAudit(auditLog),
		gateway.WithBootstrap(window),
		gateway.WithPolicy(policy.NewEngine(cfg)),
	}
	if settings.RateLimitRPS > 0 {
		burst := settings.RateLimitBurst
		if burst < 1 {
			burst = settings.RateLimitRPS
		}
		opts = append(opts, gateway.WithRateLimit(api.NewGlobalRateLimiter(settings.RateLimitRPS, burst)))
	}

	fw := firewall.NewPolicy(cfg, firewall.WithReputation(firewall.NewReputationClient("")))
	dispatcher := dispatch.NewDispatcher(reg, dispatch.WithObservability(obs))
	srv := gateway.NewServer(cfg, verifier, fw, dispatcher, opts...)
	return srv.ListenAndServe(ctx, settings)
}

// openDatabase picks postgres when DATABASE_URL is set, an embedded sqlite
// file under the data directory otherwise.
func openDatabase(settings *config.Settings) (*sql.DB, config.Dialect, error) {
	if settings.DatabaseURL != "" {
		db, err := sql.Open("postgres", settings.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, "", fmt.Errorf("postgres unreachable: %w", err)
		}
		return db, config.DialectPostgres, nil
	}

	if err := os.MkdirAll(settings.DataDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create data dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(settings.DataDir, "gangway.db"))
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite: %w", err)
	}
	// The embedded driver needs writes serialized through one connection.
	db.SetMaxOpenConns(1)
	return db, config.DialectSQLite, nil
}
