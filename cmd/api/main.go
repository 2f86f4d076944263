package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tablecall/internal/auth"
	"tablecall/internal/config"
	"tablecall/internal/customers"
	"tablecall/internal/dispatch"
	"tablecall/internal/extraction"
	"tablecall/internal/httpapi"
	"tablecall/internal/journal"
	"tablecall/internal/llm"
	"tablecall/internal/notify"
	"tablecall/internal/rbac"
	"tablecall/internal/reporting"
	"tablecall/internal/schedule"
	"tablecall/internal/voice"
	"tablecall/pkg/logger"
	"tablecall/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Everything below hangs off this context; SIGINT/SIGTERM cancel it.
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Optional .env for local runs; real deployments set env directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	if !rbac.Known(cfg.Admin.Role) {
		log.Error("unknown admin role", "role", cfg.Admin.Role)
		os.Exit(1)
	}

	store, journalRepo, cleanup, err := openStores(rootCtx, cfg)
	if err != nil {
		log.Error("store init failed", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer cleanup()

	journalSvc := journal.NewService(journalRepo)
	customerSvc := customers.NewService(store)

	provider := voice.NewDinodialProvider(voice.DinodialConfig{
		BaseURL: cfg.Dinodial.BaseURL,
		Token:   cfg.Dinodial.Token,
		Timeout: cfg.Dinodial.Timeout,
	})
	dispatcher := dispatch.NewDispatcher(provider, cfg.App.RestaurantName)

	var model extraction.ModelClient
	if cfg.LLMEnabled() {
		model = llm.New(llm.Config{
			BaseURL: cfg.LLM.BaseURL,
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
		})
	} else {
		log.Warn("LLM_API_KEY not set; extraction runs without the model tier")
	}
	pipeline := extraction.NewPipeline(model)

	var sender notify.Sender
	if cfg.SMTPEnabled() {
		sender = notify.NewMailer(notify.SMTPConfig{
			Host:      cfg.SMTP.Host,
			Port:      cfg.SMTP.Port,
			Username:  cfg.SMTP.Username,
			Password:  cfg.SMTP.Password,
			FromName:  cfg.SMTP.FromName,
			FromEmail: cfg.SMTP.FromEmail,
		}, cfg.App.RestaurantName)
	} else {
		log.Warn("SMTP_HOST not set; customer notifications disabled")
	}

	var slots *schedule.SlotGate
	if cfg.RedisEnabled() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		slots = schedule.NewSlotGate(rdb, "", cfg.Schedule.MaxConcurrentCalls, 0)
	}

	sched := schedule.New(schedule.Config{
		CallSweepInterval:   cfg.Schedule.CallSweepInterval,
		ResultSweepInterval: cfg.Schedule.ResultSweepInterval,
		SweepParallelism:    cfg.Schedule.SweepParallelism,
		StaleCallAfter:      cfg.Schedule.StaleCallAfter,
		Rules: schedule.Rules{
			RecoveryCooldown: cfg.Schedule.RecoveryCooldown,
			MaxCallAttempts:  cfg.Schedule.MaxCallAttempts,
			RetryBackoffBase: cfg.Schedule.RetryBackoffBase,
		},
	}, schedule.Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Outcomes:   provider,
		Extractor:  pipeline,
		Sender:     sender,
		Journal:    journalSvc,
		Slots:      slots,
		Log:        log,
	})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, httpapi.Handlers{
		Auth: authManager,
		Creds: auth.StaticCredentials{
			Username: cfg.Admin.Username,
			Password: cfg.Admin.Password,
			Role:     cfg.Admin.Role,
		},
		Customers:     customerSvc,
		Journal:       journalSvc,
		Scheduler:     sched,
		Provider:      provider,
		Reports:       reporting.NewService(store, journalSvc),
		WebhookSecret: cfg.Dinodial.WebhookSecret,
	}, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service failed", "err", err)
		os.Exit(1)
	}
	_ = logger.ShutdownFlush(context.Background(), 2*time.Second)
}

// openStores builds the customer store and journal repository for the
// configured driver. The returned cleanup closes whatever was opened.
func openStores(ctx context.Context, cfg config.Config) (customers.Store, journal.Repository, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return customers.NewMemoryStore(), journal.NewMemoryRepo(), func() {}, nil
	case "file":
		fs, err := customers.NewFileStore(cfg.Store.File)
		if err != nil {
			return nil, nil, nil, err
		}
		// File deployments keep the journal in memory: the CSV is the
		// durable record, the journal is ops context.
		return fs, journal.NewMemoryRepo(), func() {}, nil
	case "postgres":
		db, err := utils.OpenPostgres(ctx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
		if err != nil {
			return nil, nil, nil, err
		}
		return customers.NewPostgresStore(db), journal.NewPostgresRepo(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, nil, errors.New("unknown store driver " + cfg.Store.Driver)
	}
}
