package submission

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/middleware"
	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/otp"
	"github.com/formgate/core/internal/pkg/pagination"
	"github.com/formgate/core/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type SubmitDTO struct {
	FormID string                 `json:"formId" binding:"required"`
	Code   string                 `json:"code"   binding:"required"`
	Values map[string]interface{} `json:"values" binding:"required"`
}

var (
	errFormNotFound = errors.New("submission: form not found")
	errInvalidCode  = errors.New("submission: invalid or used access code")
	errBadValues    = errors.New("submission: values failed validation")
)

// Enqueuer hands accepted submissions to the intake reactor.
type Enqueuer interface {
	Enqueue(ctx context.Context, submissionID string) error
}

type Service struct {
	db    *gorm.DB
	codes *otp.Service
	queue Enqueuer
	log   *zap.Logger
}

func NewService(db *gorm.DB, codes *otp.Service, queue Enqueuer, log *zap.Logger) *Service {
	return &Service{db: db, codes: codes, queue: queue, log: log}
}

// Accept takes a public submission: the access code must exist for the form
// and be unused. The code is marked used here; the reactor re-verifies it
// and assigns the serial asynchronously.
func (s *Service) Accept(ctx context.Context, dto *SubmitDTO) (*models.SubmissionModel, error) {
	var form models.FormModel
	err := s.db.First(&form, "id = ?", dto.FormID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errFormNotFound
	}
	if err != nil {
		return nil, err
	}

	code, err := s.codes.FindUnused(form.ID, dto.Code)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, errInvalidCode
	}

	values, err := normalizeValues(&form, dto.Values)
	if err != nil {
		return nil, err
	}

	// The conditional update is the real single-use gate. FindUnused above
	// only filters; two concurrent submits can both read the code as unused,
	// and exactly one of them may win this row.
	consumed, err := s.codes.MarkUsed(code.ID)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, errInvalidCode
	}

	sub := models.SubmissionModel{
		FormID:       form.ID,
		AccessCodeID: code.ID,
		OTP:          code.Code,
		Values:       values,
		Status:       models.SubmissionPending,
		SubmittedAt:  time.Now(),
	}
	if err := s.db.Create(&sub).Error; err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(ctx, sub.ID); err != nil {
		// The record is persisted; a stuck pending submission is recoverable
		// by requeueing, losing it entirely is not.
		s.log.Error("intake enqueue failed",
			zap.String("submission_id", sub.ID),
			zap.Error(err))
	}
	return &sub, nil
}

func (s *Service) List(formID string, q pagination.Page, status string) ([]models.SubmissionModel, response.Pagination, error) {
	tx := s.db.Model(&models.SubmissionModel{}).
		Where("form_id = ?", formID).
		Order("serial_number ASC, created_at ASC")
	if status != "" {
		tx = tx.Where("status = ?", status)
	}
	var items []models.SubmissionModel
	pag, err := pagination.Find(tx, q, &items)
	return items, pag, err
}

// normalizeValues checks submitted values against the form's field list and
// applies per-field case normalization. Unknown keys are dropped.
func normalizeValues(form *models.FormModel, in map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(in))
	for _, f := range form.Fields {
		if f.IsDisplayOnly() {
			continue
		}
		v, ok := in[f.Name]
		if !ok || v == nil || v == "" {
			if f.Required {
				return nil, errBadValues
			}
			continue
		}
		if s, isStr := v.(string); isStr {
			s = strings.TrimSpace(s)
			if f.MaxLength > 0 {
				if f.ExactLength && len(s) != f.MaxLength {
					return nil, errBadValues
				}
				if len(s) > f.MaxLength {
					return nil, errBadValues
				}
			}
			switch f.Case {
			case models.CaseUpper:
				s = strings.ToUpper(s)
			case models.CaseLower:
				s = strings.ToLower(s)
			}
			out[f.Name] = s
			continue
		}
		out[f.Name] = v
	}
	return out, nil
}

type submissionResponse struct {
	ID           string                  `json:"id"`
	FormID       string                  `json:"form_id"`
	OTP          string                  `json:"otp"`
	Values       map[string]interface{}  `json:"values"`
	Status       models.SubmissionStatus `json:"status"`
	SerialNumber string                  `json:"serial_number,omitempty"`
	SubmittedAt  time.Time               `json:"submitted_at"`
}

func toResponse(s *models.SubmissionModel) submissionResponse {
	return submissionResponse{
		ID: s.ID, FormID: s.FormID, OTP: s.OTP, Values: s.Values,
		Status: s.Status, SerialNumber: s.SerialNumber, SubmittedAt: s.SubmittedAt,
	}
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// RegisterPublicRoutes mounts the anonymous intake endpoint.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup, rateLimitMW gin.HandlerFunc) {
	rg.POST("/submit", rateLimitMW, h.submit)
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/forms/:id/submissions", authMW)
	g.GET("", h.list)
}

// POST /submit
func (h *Handler) submit(c *gin.Context) {
	var dto SubmitDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	sub, err := h.svc.Accept(c.Request.Context(), &dto)
	if err != nil {
		switch {
		case errors.Is(err, errFormNotFound):
			response.NotFoundMsg(c, "form not found")
		case errors.Is(err, errInvalidCode):
			response.Forbidden(c)
		case errors.Is(err, errBadValues):
			response.UnprocessableEntity(c, "submitted values failed validation")
		default:
			response.InternalError(c, err)
		}
		return
	}
	response.Created(c, gin.H{"success": true, "submissionId": sub.ID})
}

// GET /forms/:id/submissions?status=submitted
func (h *Handler) list(c *gin.Context) {
	if !h.canAccess(c, c.Param("id")) {
		response.Forbidden(c)
		return
	}
	q := pagination.FromContext(c)
	items, pag, err := h.svc.List(c.Param("id"), q, c.Query("status"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]submissionResponse, len(items))
	for i := range items {
		out[i] = toResponse(&items[i])
	}
	response.Paged(c, out, pag)
}

// canAccess limits coordinators to forms on their access list.
func (h *Handler) canAccess(c *gin.Context, formID string) bool {
	if middleware.IsAdmin(c) {
		return true
	}
	var coord models.CoordinatorModel
	if err := h.svc.db.First(&coord, "email = ?", middleware.CurrentEmail(c)).Error; err != nil {
		return false
	}
	return coord.CanAccess(formID)
}
