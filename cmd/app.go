package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/portfolio-chat/internal/cost"
	"github.com/sells-group/portfolio-chat/internal/credits"
	"github.com/sells-group/portfolio-chat/internal/crm"
	"github.com/sells-group/portfolio-chat/internal/lead"
	"github.com/sells-group/portfolio-chat/internal/monitoring"
	"github.com/sells-group/portfolio-chat/internal/notify"
	"github.com/sells-group/portfolio-chat/internal/observability"
	"github.com/sells-group/portfolio-chat/internal/pipeline"
	"github.com/sells-group/portfolio-chat/internal/ratelimit"
	"github.com/sells-group/portfolio-chat/internal/reply"
	"github.com/sells-group/portfolio-chat/internal/resilience"
	"github.com/sells-group/portfolio-chat/internal/resolve"
	"github.com/sells-group/portfolio-chat/internal/store"
	anthropicpkg "github.com/sells-group/portfolio-chat/pkg/anthropic"
	"github.com/sells-group/portfolio-chat/pkg/notion"
	"github.com/sells-group/portfolio-chat/pkg/salesforce"
)

// appEnv holds the initialized store, shared clients and the chat pipeline
// needed by the serve and chat commands.
type appEnv struct {
	Store    store.Store
	Redis    *redis.Client // may be nil
	Pipeline *pipeline.Pipeline

	shutdownOTel observability.Shutdown
}

// Close drains background work and releases resources in reverse order of
// construction.
func (e *appEnv) Close() {
	if e.Pipeline != nil {
		e.Pipeline.Wait()
	}
	if e.shutdownOTel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.shutdownOTel(ctx); err != nil {
			zap.L().Warn("otel shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if e.Redis != nil {
		_ = e.Redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initApp validates config for mode, opens and migrates the store, and
// builds the pipeline with every configured collaborator. Callers should
// defer env.Close().
func initApp(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &appEnv{}
	ok := false
	defer func() {
		if !ok {
			env.Close()
		}
	}()

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	env.Store = st

	if err := st.Migrate(ctx); err != nil {
		return nil, eris.Wrap(err, "migrate store")
	}

	env.shutdownOTel, err = observability.InitOTel(ctx, cfg.OTel, version)
	if err != nil {
		return nil, err
	}

	env.Redis, err = initRedis(ctx)
	if err != nil {
		return nil, err
	}

	policy, err := initPolicy()
	if err != nil {
		return nil, err
	}

	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	env.Pipeline = pipeline.New(pipeline.Deps{
		Admission: ratelimit.NewTiered(initLimiter(env.Redis)),
		Guard:     initGuard(env.Redis),
		Resolver:  resolve.NewStoreResolver(st),
		Meter:     credits.NewLedgerMeter(st, cfg.Credits.PerMessage),
		Generator: reply.NewAnthropicGenerator(anthropicClient, cfg.Anthropic.MaxTokens,
			resilience.FromRetryConfig(cfg.Anthropic.MaxAttempts, cfg.Anthropic.InitialBackoffMs, cfg.Anthropic.MaxBackoffMs)),
		Policy:    policy,
		Recorder:  st,
		Notifier:  initNotifier(),
		History:   st,
		Alerter:   monitoring.NewAlerter(cfg.Monitoring),
		Sinks:     initSinks(),
		Costs:     cost.NewCalculator(cost.DefaultRates()),
	}, pipeline.OptionsFromConfig(cfg.Pipeline))

	ok = true
	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "portfolio-chat.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initRedis connects to Redis when an address is configured. A nil client
// means limiter and guard state stays in process memory.
func initRedis(ctx context.Context) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		zap.L().Info("redis not configured, using in-memory rate limiter and failure guard")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, eris.Wrap(err, "redis ping")
	}

	zap.L().Info("redis connected", zap.String("addr", cfg.Redis.Addr))
	return rdb, nil
}

func initLimiter(rdb *redis.Client) ratelimit.Limiter {
	limits := ratelimit.Limits{
		Window: cfg.RateLimit.Window(),
		IP:     cfg.RateLimit.IPLimit,
		Handle: cfg.RateLimit.HandleLimit,
		Agent:  cfg.RateLimit.AgentLimit,
	}
	switch {
	case rdb != nil:
		return ratelimit.NewRedisLimiter(rdb, cfg.Redis.Prefix, limits)
	case cfg.RateLimit.Algorithm == "bucket":
		return ratelimit.NewBucketLimiter(limits)
	default:
		return ratelimit.NewMemoryLimiter(limits)
	}
}

func initGuard(rdb *redis.Client) resilience.FailureGuard {
	gc := resilience.FromGuardConfig(cfg.Breaker.FailureThreshold, cfg.Breaker.CooldownSecs)
	if rdb != nil {
		return resilience.NewRedisGuard(rdb, cfg.Redis.Prefix, gc)
	}
	return resilience.NewMemoryGuard(gc)
}

func initPolicy() (*lead.Policy, error) {
	if cfg.Lead.PolicyFile == "" {
		return lead.DefaultPolicy(), nil
	}
	f, err := os.Open(cfg.Lead.PolicyFile)
	if err != nil {
		return nil, eris.Wrap(err, "open lead policy")
	}
	defer f.Close() //nolint:errcheck

	return lead.LoadPolicy(f)
}

func initNotifier() notify.Notifier {
	if cfg.SendGrid.Key == "" || cfg.SendGrid.FromEmail == "" {
		zap.L().Warn("sendgrid not configured, lead notifications are logged only")
		return notify.LogNotifier{}
	}
	return notify.NewSendGrid(cfg.SendGrid.Key, cfg.SendGrid.FromEmail, cfg.SendGrid.FromName,
		notify.WithBaseURL(cfg.SendGrid.BaseURL))
}

// initSinks builds the optional CRM lead mirrors. A sink that cannot be
// configured is skipped with a warning.
func initSinks() []crm.Sink {
	var sinks []crm.Sink

	if cfg.Notion.Token != "" && cfg.Notion.LeadDB != "" {
		sinks = append(sinks, crm.NewNotionSink(notion.NewClient(cfg.Notion.Token), cfg.Notion.LeadDB))
		zap.L().Info("notion lead mirror enabled")
	}

	if cfg.Salesforce.ClientID != "" {
		sf, err := initSalesforce()
		if err != nil {
			zap.L().Warn("salesforce lead mirror disabled", zap.Error(err))
		} else {
			sinks = append(sinks, crm.NewSalesforceSink(sf))
			zap.L().Info("salesforce lead mirror enabled")
		}
	}

	return sinks
}

func initSalesforce() (salesforce.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	return salesforce.Connect(salesforce.JWTCreds{
		LoginURL:   cfg.Salesforce.LoginURL,
		Username:   cfg.Salesforce.Username,
		ClientID:   cfg.Salesforce.ClientID,
		PrivateKey: string(pemData),
	})
}
