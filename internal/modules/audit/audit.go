package audit

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/pkg/pagination"
	"github.com/formgate/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service appends rows to the system log. Entries are never updated or
// deleted once written.
type Service struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewService(db *gorm.DB, log *zap.Logger) *Service {
	return &Service{db: db, log: log}
}

// Record writes one log entry. A write failure is logged but never
// propagated, so a broken audit trail cannot block the operation that
// produced it.
func (s *Service) Record(actor string, category models.LogCategory, event, description string, detail map[string]interface{}) {
	entry := models.SystemLogModel{
		Actor:       actor,
		Category:    category,
		Event:       event,
		Description: description,
		Detail:      detail,
	}
	if err := s.db.Create(&entry).Error; err != nil {
		s.log.Error("system log write failed",
			zap.String("event", event),
			zap.Error(err))
		return
	}
	s.log.Info("system log",
		zap.String("actor", actor),
		zap.String("category", string(category)),
		zap.String("event", event),
		zap.String("description", description))
}

type logResponse struct {
	ID          uint                   `json:"id"`
	Actor       string                 `json:"actor"`
	Category    models.LogCategory     `json:"category"`
	Event       string                 `json:"event"`
	Description string                 `json:"description"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

func toResponse(e *models.SystemLogModel) logResponse {
	return logResponse{
		ID: e.ID, Actor: e.Actor, Category: e.Category, Event: e.Event,
		Description: e.Description, Detail: e.Detail, Timestamp: e.Timestamp,
	}
}

func (s *Service) List(q pagination.Page, category string) ([]models.SystemLogModel, response.Pagination, error) {
	tx := s.db.Model(&models.SystemLogModel{}).Order("timestamp DESC, id DESC")
	if category != "" {
		tx = tx.Where("category = ?", category)
	}
	var items []models.SystemLogModel
	pag, err := pagination.Find(tx, q, &items)
	return items, pag, err
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/system-logs", authMW)
	g.GET("", h.list)
}

// GET /system-logs?category=SECURITY
func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	items, pag, err := h.svc.List(q, c.Query("category"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]logResponse, len(items))
	for i, e := range items {
		out[i] = toResponse(&e)
	}
	response.Paged(c, out, pag)
}
