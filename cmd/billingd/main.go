package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingkit/pkg/config"
	"github.com/dmitrymomot/billingkit/pkg/dunning"
	"github.com/dmitrymomot/billingkit/pkg/email"
	"github.com/dmitrymomot/billingkit/pkg/entitlement"
	"github.com/dmitrymomot/billingkit/pkg/gateway"
	"github.com/dmitrymomot/billingkit/pkg/httpserver"
	"github.com/dmitrymomot/billingkit/pkg/logger"
	pkgmongo "github.com/dmitrymomot/billingkit/pkg/mongo"
	"github.com/dmitrymomot/billingkit/pkg/pg"
	"github.com/dmitrymomot/billingkit/pkg/plan"
	pkgredis "github.com/dmitrymomot/billingkit/pkg/redis"
	"github.com/dmitrymomot/billingkit/pkg/subscription"
	"github.com/dmitrymomot/billingkit/pkg/webhook"
	"github.com/dmitrymomot/billingkit/svc/billing"
)

type appConfig struct {
	Environment   string `env:"APP_ENV" envDefault:"production"`
	MongoDatabase string `env:"MONGODB_DATABASE" envDefault:"billingkit"`
	PlansPath     string `env:"PLANS_PATH"` // optional YAML catalog; built-in plans otherwise
}

type daemonConfig struct {
	App     appConfig
	PG      pg.Config
	Mongo   pkgmongo.Config
	Redis   pkgredis.Config
	Email   email.Config
	Paddle  gateway.PaddleConfig
	Billing billing.Config
	HTTP    httpserver.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg daemonConfig
	config.MustLoad(&cfg)

	var log *slog.Logger
	if cfg.App.Environment == "development" {
		log = logger.SetDefault(logger.WithDevelopment("billingd"))
	} else {
		log = logger.SetDefault(logger.WithProduction("billingd"))
	}

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("billingd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg daemonConfig, log *slog.Logger) error {
	pool, err := pg.Connect(ctx, cfg.PG)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool, cfg.PG, log); err != nil {
		return err
	}

	mdb, err := pkgmongo.NewWithDatabase(ctx, cfg.Mongo, cfg.App.MongoDatabase)
	if err != nil {
		return err
	}
	defer func() { _ = mdb.Client().Disconnect(context.Background()) }()

	rdb, err := pkgredis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var src plan.Source = plan.DefaultSource()
	if cfg.App.PlansPath != "" {
		src = plan.NewYAMLSource(cfg.App.PlansPath)
	}
	catalog, err := plan.NewCatalog(ctx, src)
	if err != nil {
		return err
	}

	paddleGW, err := gateway.NewPaddleGateway(cfg.Paddle)
	if err != nil {
		return err
	}

	var sender email.EmailSender
	if cfg.App.Environment == "development" {
		sender = email.NewDevSender(log)
	} else {
		sender, err = email.NewPostmarkClient(cfg.Email)
		if err != nil {
			return err
		}
	}
	mailer := email.NewBillingMailer(sender)

	webhookStore, err := webhook.NewMongoStore(ctx, mdb, 0)
	if err != nil {
		return err
	}
	dunningStore, err := dunning.NewMongoStore(ctx, mdb, 0)
	if err != nil {
		return err
	}

	subStore := subscription.NewPostgresStore(pool)
	subs := subscription.NewService(subStore, subscription.WithLogger(log))

	entStore := entitlement.NewPostgresStore(pool)
	ent := entitlement.NewService(entStore, entStore, catalog,
		entitlement.WithLogger(log),
		entitlement.WithPlanResolver(livePlanResolver(subs)))

	resolveEmail := customerEmailResolver(pool)
	scheduler := dunning.NewScheduler(dunningStore, subs, ent,
		dunning.WithLogger(log),
		dunning.WithNotifier(billing.NewRecoveryNotifier(mailer, resolveEmail, subs, catalog, dunningStore, cfg.Billing.RecoveryFallbackURL)),
		dunning.WithIntentCreator(billing.NewRecoveryIntents(paddleGW, subs, catalog, resolveEmail, log)))

	processor := webhook.NewProcessor(webhookStore, webhook.WithLogger(log))

	svc := billing.New(cfg.Billing, billing.Deps{
		Processor:     processor,
		Parser:        paddleGW,
		Subscriptions: subs,
		Scheduler:     scheduler,
		Entitlements:  ent,
	}, billing.WithLogger(log))

	worker := dunning.NewWorker(rdb, scheduler,
		dunning.WithWorkerLogger(log),
		dunning.WithJob("expire_ended_subscriptions", func(ctx context.Context) error {
			_, err := subs.ExpireDue(ctx)
			return err
		}),
		dunning.WithJob("rollover_usage_cycles", func(ctx context.Context) error {
			_, err := ent.RolloverDue(ctx)
			return err
		}))

	router := svc.Router()
	router.Get("/health", httpserver.HealthCheckHandler(ctx, log,
		pg.Healthcheck(pool),
		pkgmongo.Healthcheck(mdb.Client()),
		pkgredis.Healthcheck(rdb),
	))

	srv := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, router) })
	g.Go(func() error { return worker.Start(gctx) })
	return g.Wait()
}

// livePlanResolver maps a user to their live subscription's plan; users
// without one are on the free plan.
func livePlanResolver(subs *subscription.Service) entitlement.PlanIDResolver {
	return func(ctx context.Context, userID uuid.UUID) (string, error) {
		sub, err := subs.GetLiveByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				return plan.FreePlanID, nil
			}
			return "", err
		}
		return sub.PlanID, nil
	}
}

// customerEmailResolver looks up billing emails from the table the host
// application keeps in sync.
func customerEmailResolver(pool *pgxpool.Pool) billing.UserEmailResolver {
	return func(ctx context.Context, userID uuid.UUID) (string, error) {
		var addr string
		err := pool.QueryRow(ctx,
			`SELECT email FROM billing_customers WHERE user_id = $1`, userID).Scan(&addr)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return "", errors.New("no billing email on file")
			}
			return "", err
		}
		return addr, nil
	}
}
