package treasuryd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"daotreasury/internal/passphrase"
	"daotreasury/config"
	"daotreasury/core/events"
	"daotreasury/crypto"
	"daotreasury/native/treasury"
	"daotreasury/observability"
	"daotreasury/observability/logging"
	telemetry "daotreasury/observability/otel"
	"daotreasury/services/treasuryd/journal"
	"daotreasury/services/treasuryd/server"
	"daotreasury/storage"
)

// Main parses flags and runs the treasury daemon until SIGINT or SIGTERM.
func Main() error {
	var cfgPath, passEnv string
	flag.StringVar(&cfgPath, "config", "services/treasuryd/config.yaml", "path to treasuryd configuration (.yaml or .toml)")
	flag.StringVar(&passEnv, "pass-env", passphrase.DefaultEnv, "environment variable holding the admin keystore passphrase")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, cfg, passphrase.NewSource(passEnv, "admin keystore"))
}

// Passphrase supplies the admin keystore passphrase.
type Passphrase interface {
	Get() (string, error)
}

// Run wires storage, the ledger engine, the journal and the HTTP API from cfg
// and serves until ctx is cancelled.
func Run(ctx context.Context, cfg config.Config, pass Passphrase) error {
	logger := logging.SetupWithOptions("treasuryd", cfg.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	admin, err := loadAdmin(cfg.AdminKeystore, pass)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "treasuryd",
		Environment:    cfg.Environment,
		Network:        cfg.Network,
		Admin:          crypto.MemberAddress(admin).String(),
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:        cfg.Telemetry.Metrics,
		Traces:         cfg.Telemetry.Traces,
		SampleRatio:    cfg.Telemetry.SampleRatio,
		ExportInterval: cfg.Telemetry.ExportInterval.Duration,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	secret := strings.TrimSpace(os.Getenv(cfg.Auth.JWTSecretEnv))
	if secret == "" {
		return fmt.Errorf("%s must hold the JWT signing secret", cfg.Auth.JWTSecretEnv)
	}

	db, err := storage.Open(cfg.Storage.Backend, cfg.DataDir)
	if err != nil {
		return err
	}
	defer db.Close()

	store := treasury.NewKVStore(db)
	params, err := resolveParams(cfg, store, admin, time.Now().UTC())
	if err != nil {
		return err
	}
	engine, err := treasury.Open(store, params, admin)
	if err != nil {
		return fmt.Errorf("open treasury: %w", err)
	}

	j, err := journal.Open(cfg.Journal.DSN, logger)
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	engine.SetLogger(logger)
	engine.SetMetrics(observability.Treasury())
	engine.SetEmitter(events.MultiEmitter{j})
	engine.SetVault(j.Vault(nil))
	observability.Treasury().SetTotals(engine.TotalShares(), engine.AvailableFunds(), engine.ProposalCount())

	logger.Info("treasury ready",
		"network", cfg.Network,
		"admin", crypto.MemberAddress(admin).String(),
		"contribution_end", params.ContributionEnd.Format(time.RFC3339),
		"vote_window", params.VoteWindow.String(),
		"quorum_percent", params.QuorumPercent,
		"backend", cfg.Storage.Backend,
		"sequence", engine.Summary().Sequence,
	)

	srv, err := server.New(server.Config{
		Engine:  engine,
		Journal: j,
		Auth: server.AuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		},
		RateLimit: server.RateLimit{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Serve(ctx, cfg.ListenAddress, cfg.ShutdownTimeout.Duration); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("treasuryd stopped")
	return nil
}

// loadAdmin decrypts the admin keystore and returns its address. Decrypting
// proves the operator holds the key the treasury is bound to.
func loadAdmin(path string, pass Passphrase) ([20]byte, error) {
	if pass == nil {
		return [20]byte{}, errors.New("admin keystore passphrase source required")
	}
	secret, err := pass.Get()
	if err != nil {
		return [20]byte{}, err
	}
	key, err := crypto.LoadFromKeystore(path, secret)
	if err != nil {
		return [20]byte{}, fmt.Errorf("load admin keystore: %w", err)
	}
	return key.PubKey().Address().Raw(), nil
}

// resolveParams returns the ledger parameters for this boot. A relative
// contribution window is fixed on first initialisation, so later boots reuse
// the stored contribution end instead of moving it forward.
func resolveParams(cfg config.Config, store *treasury.KVStore, admin [20]byte, now time.Time) (treasury.Params, error) {
	params, err := cfg.TreasuryParams(now)
	if err != nil {
		return treasury.Params{}, err
	}
	if !cfg.Relative() {
		return params, nil
	}
	stored, storedAdmin, found, err := store.Stored()
	if err != nil {
		return treasury.Params{}, fmt.Errorf("read stored params: %w", err)
	}
	if !found || storedAdmin != admin {
		return params, nil
	}
	params.ContributionEnd = stored.ContributionEnd
	return params, nil
}
