package server

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"hostinv/config"
	"hostinv/internal/db"
	"hostinv/internal/health"
	"hostinv/internal/inventory"
	"hostinv/internal/ipam"
	"hostinv/internal/logs"
	"hostinv/internal/lookup"
	"hostinv/internal/middleware"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Пути, на которые действует лимит частоты (резервирование из формы).
var rateLimitedPaths = []string{"/api/v1/ipam/reserve-ip", "/api/v1/ipam/release-ip"}

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db      *gorm.DB
	limiter *middleware.RateLimiter
}

// Initialize поднимает логи, БД (с миграциями) и маршруты.
func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})

	// 2) БД
	d, err := db.Open(cfg.Database.Driver, cfg.Database.DSN, db.Options{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		Debug:        cfg.Database.Debug,
	})
	if err != nil {
		return errors.Wrap(err, "db open")
	}
	a.db = d
	if err := db.Migrate(a.db); err != nil {
		return errors.Wrap(err, "db migrate")
	}

	// 3) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)
	if cfg.RateLimit.Enabled {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, rateLimitedPaths...)
		a.Router.Use(a.limiter.Wrap)
	}

	// 4) Health + метрики
	health.RegisterRoutesWithDB(a.Router, a.db)
	if cfg.Metrics.Enabled {
		a.Router.Handle(cfg.Metrics.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	// 5) API
	api := a.Router.PathPrefix("/api/v1").Subrouter()
	ipamRepo := ipam.NewRepo(a.db,
		ipam.WithReservationTTL(cfg.IPAM.ReservationTTL),
		ipam.WithPageSize(cfg.IPAM.PageSize),
		ipam.WithMaxPopulate(cfg.IPAM.MaxPopulate),
	)
	ipam.NewHTTP(ipamRepo).RegisterRoutes(api)
	lookup.NewHTTP(lookup.NewRepo(a.db)).RegisterRoutes(api)
	inventory.NewHTTP(inventory.NewRepo(a.db, ipamRepo)).RegisterRoutes(api)

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

// Run обслуживает HTTP до отмены ctx или SIGINT/SIGTERM, затем мягко
// останавливает сервер и закрывает БД.
func (a *App) Run(ctx context.Context) error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)
	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  a.cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logs.Logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(sctx)
	})

	err := g.Wait()
	a.Close()
	return err
}

// Close releases the limiter goroutine and the database pool.
func (a *App) Close() {
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if err := db.Close(a.db); err != nil {
		logs.Logger.Warnf("db close: %v", err)
	}
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
