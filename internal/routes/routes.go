package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/ledgerd/internal/auth"
	"github.com/congo-pay/ledgerd/internal/balance"
	"github.com/congo-pay/ledgerd/internal/config"
	"github.com/congo-pay/ledgerd/internal/identity"
	"github.com/congo-pay/ledgerd/internal/ledger"
	"github.com/congo-pay/ledgerd/internal/logging"
	"github.com/congo-pay/ledgerd/internal/middleware"
	"github.com/congo-pay/ledgerd/internal/queue"
	"github.com/congo-pay/ledgerd/internal/ratelimit"
	"github.com/congo-pay/ledgerd/internal/wallet"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Queue  queue.Publisher
	Logger *slog.Logger
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Cache == nil {
		return errors.New("redis is required")
	}
	if d.Queue == nil {
		return errors.New("transfer queue is required")
	}
	// An in-memory store is only acceptable for local development.
	if d.DB == nil && !d.Cfg.IsDev() {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(logging.Component(d.Logger, "http")))

	RegisterHealthRoutes(app, d)

	var store ledger.Store
	if d.DB != nil {
		store = ledger.NewPostgresStore(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory ledger store")
		store = ledger.NewInMemory()
	}

	balances := balance.NewCache(d.Cache, store, d.Cfg.BalanceCacheTTL, logging.Component(d.Logger, "balance_cache"))
	transferLimiter := ratelimit.NewTransferLimiter(d.Cache, d.Cfg.TransferLimit, d.Cfg.TransferWindow)
	walletSvc := wallet.NewService(store, balances, transferLimiter, d.Queue,
		wallet.PublishMode(d.Cfg.PublishMode), logging.Component(d.Logger, "wallet"))

	identitySvc := identity.NewService(store)
	tokens := auth.NewService(d.Cfg.AppName, d.Cfg.JWTSecret, d.Cfg.AccessTokenTTL)
	loginLimiter := ratelimit.New(d.Cache, "login_limit:", d.Cfg.LoginLimit, time.Minute)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Public routes
	RegisterIdentityRoutes(api, identity.NewHandler(identitySvc))
	RegisterAuthRoutes(api, auth.NewHandler(identitySvc, tokens), middleware.LoginRateLimit(loginLimiter, d.Logger))

	// Protected routes
	protected := api.Group("", middleware.JWTAuth(tokens))
	RegisterWalletRoutes(protected, wallet.NewHandler(walletSvc),
		middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, logging.Component(d.Logger, "idempotency")))

	return nil
}
