package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/eladsnd/sunday/api"
	"github.com/eladsnd/sunday/automation"
	"github.com/eladsnd/sunday/boards"
	"github.com/eladsnd/sunday/cells"
	"github.com/eladsnd/sunday/ordering"
	"github.com/eladsnd/sunday/storage"
)

func main() {
	cfg := loadConfig()
	logger := log.New()
	if cfg.debug {
		logger.SetLevel(log.DebugLevel)
	}

	db, err := storage.Open(cfg.databasePath)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	defer db.Close()
	logger.WithField("path", db.Path()).Info("database opened")

	var (
		rc        *redis.Client
		locker    ordering.Locker = ordering.NewLocalLocker(cfg.scopeLockWait)
		ruleStore automation.RuleStore = db
		evictor   boards.RuleEvictor
		publisher *storage.Publisher
		deduper   api.Deduper
		changes   api.Changes
	)
	if cfg.redisConn != "" {
		rc = redis.NewClient(redisOptions(cfg.redisConn))
		defer rc.Close()
		locker = ordering.ChainLocker{locker, storage.NewRedisLocker(rc, cfg.scopeLockTTL, cfg.scopeLockWait)}
		cache := storage.NewRuleCache(db, rc, cfg.ruleCacheTTL)
		ruleStore, evictor = cache, cache
		publisher = storage.NewPublisher(rc, storage.DefaultChangeChannel, logger)
		deduper = api.NewRedisDeduper(rc, cfg.deduperTTL)
		changes = publisher
	} else {
		logger.Warn("REDIS_CONNECTION_STRING not set; scope locks are process local and changes are not published")
	}

	positions := ordering.NewEngine(db, locker, logger)
	rules := automation.NewRules(ruleStore, db, logger)

	engineOpts := []automation.Option{automation.WithMaxChainDepth(cfg.maxChainDepth)}
	var failures api.Failures
	if cfg.storageConn != "" {
		if cfg.provision {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			err := storage.Provision(ctx, cfg.storageConn, []string{cfg.failuresTable}, []string{cfg.failuresQueue})
			cancel()
			if err != nil {
				log.Fatalf("provision: %v", err)
			}
		}
		ledger, err := storage.NewFailureLedger(cfg.storageConn, cfg.failuresTable, cfg.failuresQueue)
		if err != nil {
			log.Fatalf("failure ledger: %v", err)
		}
		reporter := automation.NewAsyncReporter(ledger, logger, automation.ReporterConfig{
			Workers:        cfg.reporter.workers,
			Buffer:         cfg.reporter.buffer,
			Timeout:        cfg.reporter.timeout,
			HandoffTimeout: cfg.reporter.handoffTimeout,
		})
		defer reporter.Close()
		engineOpts = append(engineOpts, automation.WithReporter(reporter))
		failures = ledger
	}
	engine := automation.NewEngine(rules, positions, logger, engineOpts...)

	// A nil *storage.Publisher is a valid no-op publisher.
	boardSvc := boards.NewService(db, positions, publisher, evictor, logger)
	cellSvc := cells.NewService(db, engine, publisher, logger)

	auth, err := newAuth(cfg)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, api.IdempotencyHeader},
	}))
	e.Use(api.GzipRequestMiddleware())
	api.Register(e, api.Deps{
		Boards:   boardSvc,
		Cells:    cellSvc,
		Rules:    rules,
		Failures: failures,
		Changes:  changes,
		Auth:     auth,
		Deduper:  deduper,
	}, logger)

	go func() {
		if err := e.Start(cfg.listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
}

func newAuth(cfg config) (*api.Auth, error) {
	authCfg := api.AuthConfig{Audience: cfg.auth0Audience, LocalSecret: cfg.localSecret, KeyCacheTTL: cfg.jwksCacheTTL}
	if cfg.localSecret != "" {
		return api.NewAuth(nil, authCfg)
	}
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.auth0Domain), keyfunc.Options{})
	if err != nil {
		return nil, fmt.Errorf("jwks: %w", err)
	}
	authCfg.Issuer = "https://" + cfg.auth0Domain + "/"
	return api.NewAuth(jwks, authCfg)
}
