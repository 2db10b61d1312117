package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/config"
	"github.com/formgate/core/internal/database"
	"github.com/formgate/core/internal/middleware"
	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/pkg/blob"
	"github.com/formgate/core/internal/pkg/jwt"
	pkgredis "github.com/formgate/core/internal/pkg/redis"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App holds all application dependencies.
type App struct {
	cfg    *config.AppConfig
	router *gin.Engine
	db     *gorm.DB
	logger *zap.Logger
	cancel context.CancelFunc
}

// New initializes the application: config → DB → Redis → blob store → routes.
func New(logger *zap.Logger, cfg *config.AppConfig) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	jwt.SetSecret(cfg.JWTSecret)

	db, err := database.Connect(cfg, true)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	rc, err := pkgredis.Connect(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	blobs, err := blob.NewS3Store(cfg.S3)
	if err != nil {
		return nil, fmt.Errorf("blob store: %w", err)
	}

	if err := seedSerialPrefix(db, cfg.Serial.DefaultPrefix); err != nil {
		return nil, err
	}

	if cfg.IsDev() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))
	router.Use(cors.New(corsConfig(cfg)))

	app := &App{cfg: cfg, router: router, db: db, logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel

	consumer := app.registerRoutes(rc, blobs)
	go consumer.Run(ctx)

	return app, nil
}

// Addr returns the listen address.
func (a *App) Addr() string { return fmt.Sprintf(":%d", a.cfg.Port) }

// Router returns the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Shutdown stops the intake consumer.
func (a *App) Shutdown() { a.cancel() }

// seedSerialPrefix writes the global serial prefix option on first run.
func seedSerialPrefix(db *gorm.DB, prefix string) error {
	if prefix == "" {
		return nil
	}
	var opt models.OptionModel
	err := db.Where("name = ?", models.OptionSerialPrefix).First(&opt).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return db.Create(&models.OptionModel{Name: models.OptionSerialPrefix, Value: prefix}).Error
}
