package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"lodge-codevault/internal/config"
	"lodge-codevault/internal/domain/ports/adapter"
	"lodge-codevault/internal/domain/ports/repository"
	tele "lodge-codevault/internal/infra/adapters/telegram"
	"lodge-codevault/internal/infra/db/memory"
	pg "lodge-codevault/internal/infra/db/postgres"
	red "lodge-codevault/internal/infra/redis"
	"lodge-codevault/internal/infra/security"
	"lodge-codevault/internal/infra/worker"
	"lodge-codevault/internal/usecase"
)

// Vault is the assembled service: storage, cipher, alerting and the code
// use case on top. Close releases everything Build opened.
type Vault struct {
	UseCase usecase.CodeUseCase
	Alerter adapter.OperatorAlerter
	Pool    *pgxpool.Pool // nil with the in-memory store

	closers []func()
}

// Options tunes Build for the binary that calls it.
type Options struct {
	// AlertWorkers > 0 delivers warnings through a background pool.
	AlertWorkers int
}

// Build wires the vault from cfg. Postgres is used whenever database.url is
// set; dev mode without one falls back to the in-memory store.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, opts Options) (*Vault, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	key, err := security.ParseMasterKey(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, err
	}
	cipher, err := security.NewCodeCipher(key)
	if err != nil {
		return nil, err
	}

	v := &Vault{}
	plans, codes, err := v.storage(ctx, cfg, logger)
	if err != nil {
		v.Close()
		return nil, err
	}
	if v.Alerter, err = v.alerter(ctx, cfg, logger, opts); err != nil {
		v.Close()
		return nil, err
	}

	v.UseCase = usecase.NewCodeUseCase(plans, codes, cipher, v.Alerter, logger)
	return v, nil
}

func (v *Vault) storage(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (repository.PlanRepository, repository.CodeRepository, error) {
	if cfg.Database.URL == "" {
		if !cfg.Runtime.Dev {
			return nil, nil, errors.New("database.url is required outside dev mode")
		}
		logger.Warn().Msg("no database configured; using the in-memory store (dev only, data is lost on exit)")
		store := memory.NewStore()
		return store.Plans(), store.Codes(), nil
	}

	if cfg.Database.MigrateOnStart {
		if err := pg.RunMigrations(cfg.Database.URL, "up"); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Msg("database migrations applied")
	}

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	v.Pool = pool
	v.closers = append(v.closers, pool.Close)

	var plans repository.PlanRepository = pg.NewPostgresPlanRepo(pool)
	codes := pg.NewPostgresCodeRepo(pool, pg.NewTxManager(pool))

	if cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		v.closers = append(v.closers, func() { _ = rc.Close() })
		plans = pg.NewPlanRepoCacheDecorator(plans, rc, cfg.Redis.TTL, logger)
		logger.Info().Dur("ttl", cfg.Redis.TTL).Msg("plan cache enabled")
	}
	return plans, codes, nil
}

func (v *Vault) alerter(ctx context.Context, cfg *config.Config, logger *zerolog.Logger, opts Options) (adapter.OperatorAlerter, error) {
	var next adapter.OperatorAlerter
	if cfg.Alert.TelegramToken == "" {
		next = tele.NewNoopAlerter(logger)
	} else {
		bot, err := tele.NewBotAlerter(cfg.Alert.TelegramToken, cfg.Alert.ChatIDs, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram alerter: %w", err)
		}
		next = bot
	}
	if opts.AlertWorkers <= 0 {
		return next, nil
	}

	// detached so Stop can still drain queued warnings after shutdown starts
	pool := worker.NewPool(opts.AlertWorkers, logger)
	pool.Start(context.WithoutCancel(ctx))
	v.closers = append(v.closers, pool.Stop)
	return worker.NewAlertDispatcher(next, pool, 10*time.Second), nil
}

// Close releases resources in reverse order of acquisition.
func (v *Vault) Close() {
	for i := len(v.closers) - 1; i >= 0; i-- {
		v.closers[i]()
	}
	v.closers = nil
}
