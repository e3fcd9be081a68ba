package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wispgeo/config"
	"wispgeo/internal/db"
	"wispgeo/internal/geo"
	"wispgeo/internal/health"
	"wispgeo/internal/imgstore"
	"wispgeo/internal/logs"
	"wispgeo/internal/middleware"
	"wispgeo/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type App struct {
	cfg        *config.Config
	Router     *mux.Router
	httpServer *http.Server

	db     *gorm.DB
	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(cfg *config.Config) {
	a.cfg = cfg

	// 1) Логи
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	// 2) БД (опционально; без БД — in-memory режим)
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			log.Fatalf("db open failed: %v", err)
		}
		a.db = d
	}

	// ---- DB migrations (only if DB is connected) ----
	if a.db != nil {
		if err := a.db.AutoMigrate(
			&models.Device{},
			&models.Location{},
			&models.FloorPlan{},
			&models.DeviceLocation{},
		); err != nil {
			logs.Logger.Errorf("automigrate: %v", err)
		}
		// составные уникальные индексы (name,org) и (location,floor)
		if err := db.MigrateGeoUniqueIndexes(a.db); err != nil {
			logs.Logger.Warnf("geo unique indexes migration: %v", err)
		}
	}

	// 3) Роутер + middleware
	a.Router = mux.NewRouter()
	a.Router.Use(middleware.RequestID)
	a.Router.Use(middleware.Recoverer)
	a.Router.Use(middleware.LoggerMW)

	a.RegisterWebUI("/ui/")

	// 4) Health маршруты
	if a.db != nil {
		health.RegisterRoutesWithDB(a.Router, a.db) // /healthz и /readyz
	} else {
		health.RegisterRoutes(a.Router) // только /healthz
	}

	// 5) Хранилище изображений планов этажей
	var images imgstore.Store
	switch a.cfg.Storage.Kind {
	case "s3":
		s3store, err := imgstore.NewS3(context.Background(), a.cfg.Storage.S3Bucket, a.cfg.Storage.S3Region)
		if err != nil {
			log.Fatalf("s3 image store: %v", err)
		}
		images = s3store
	default:
		local, err := imgstore.NewLocal(a.cfg.Storage.Dir, a.cfg.Storage.BaseURL)
		if err != nil {
			log.Fatalf("local image store: %v", err)
		}
		images = local
		// локальные файлы отдаём сами
		prefix := a.cfg.Storage.BaseURL + "/"
		a.Router.PathPrefix(prefix).Handler(
			http.StripPrefix(prefix, http.FileServer(http.Dir(local.Dir()))))
	}

	// 6) Geo-сервис: gorm-репозиторий или in-memory fallback
	var store geo.Store
	if a.db != nil {
		store = geo.NewRepo(a.db)
	} else {
		store = geo.NewMemStore()
	}

	rec := geo.NewReconciler(store, images)
	geoHTTP := geo.NewHTTP(store, rec)
	if addr := a.cfg.Cache.RedisAddr; addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr, DB: a.cfg.Cache.RedisDB})
		ttl := time.Duration(a.cfg.Cache.TTLSeconds) * time.Second
		geoHTTP = geoHTTP.WithCache(geo.NewRedisKV(client), ttl)
	}
	geoHTTP.RegisterRoutes(a.Router)
	geo.NewLocationHTTP(store, images).RegisterRoutes(a.Router)

	a.Router.Walk(func(rt *mux.Route, r *mux.Router, ancestors []*mux.Route) error {
		path, _ := rt.GetPathTemplate()
		methods, _ := rt.GetMethods()
		log.Printf("route: %-6v %s", methods, path)
		return nil
	})
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return ErrNotInitialized
	}
	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigs; a.cancel() }()

	a.httpServer = &http.Server{
		Addr:         bind,
		Handler:      a.Router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server error: %v", err)
		}
	}()

	<-a.ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.httpServer.Shutdown(ctx)
	return nil
}

var ErrNotInitialized = &initError{"server not initialized (call Initialize(cfg) first)"}

type initError struct{ s string }

func (e *initError) Error() string { return e.s }
