package app

import (
	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/config"
	"github.com/formgate/core/internal/middleware"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/modules/auth"
	"github.com/formgate/core/internal/modules/coordinator"
	"github.com/formgate/core/internal/modules/deletion"
	"github.com/formgate/core/internal/modules/form"
	"github.com/formgate/core/internal/modules/intake"
	"github.com/formgate/core/internal/modules/otp"
	"github.com/formgate/core/internal/modules/report"
	"github.com/formgate/core/internal/modules/serial"
	"github.com/formgate/core/internal/modules/submission"
	"github.com/formgate/core/internal/pkg/blob"
	pkgredis "github.com/formgate/core/internal/pkg/redis"
	"github.com/formgate/core/internal/pkg/response"
)

const apiPrefix = "/api/v1"

// registerRoutes wires every module and returns the intake consumer for the
// caller to run.
func (a *App) registerRoutes(rc *pkgredis.Client, blobs blob.Store) *intake.Consumer {
	r := a.router
	db := a.db
	cfg := a.cfg

	r.NoRoute(func(c *gin.Context) {
		response.NotFound(c)
	})
	r.NoMethod(func(c *gin.Context) {
		response.MethodNotAllowed(c)
	})

	r.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok"})
	})

	authMW := middleware.Auth()
	adminMW := middleware.RequireAdmin()

	auditSvc := audit.NewService(db, a.logger)
	allocator := serial.NewAllocator(db, cfg.Serial.DefaultPrefix)
	otpSvc := otp.NewService(db, config.OTPCodeLength())
	engine := deletion.NewEngine(db, blobs, auditSvc, a.logger, config.DeleteBatchSize())
	builder := report.NewBuilder(db, blobs, auditSvc, a.logger, cfg.S3.Bucket, cfg.Report.DownloadTTL())

	queue := intake.NewQueue(rc)
	reactor := intake.NewReactor(db, otpSvc, allocator, auditSvc, a.logger)
	consumer := intake.NewConsumer(queue, reactor, a.logger)

	authSvc := auth.NewService(db, auditSvc)
	formSvc := form.NewService(db, engine)
	subSvc := submission.NewService(db, otpSvc, queue, a.logger)
	coordSvc := coordinator.NewService(db, auditSvc)

	api := r.Group(apiPrefix)

	// Public surface: login and the rate-limited intake endpoint.
	auth.NewHandler(authSvc).RegisterRoutes(api)
	submission.NewHandler(subSvc).
		RegisterPublicRoutes(api, middleware.RateLimit(rc.Raw(), config.RateLimitBurst()))

	// Authenticated surface. Forms and submissions allow coordinators,
	// scoped by their access list; the rest is operator-only.
	form.NewHandler(formSvc).RegisterRoutes(api, authMW)
	submission.NewHandler(subSvc).RegisterRoutes(api, authMW)

	otp.NewHandler(otpSvc).RegisterRoutes(api, adminMW)
	report.NewHandler(builder, cfg.Report.Timeout()).RegisterRoutes(api, adminMW)
	coordinator.NewHandler(coordSvc).RegisterRoutes(api, adminMW)
	audit.NewHandler(auditSvc).RegisterRoutes(api, adminMW)

	return consumer
}
