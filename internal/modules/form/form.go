package form

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/middleware"
	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/deletion"
	"github.com/formgate/core/internal/pkg/pagination"
	"github.com/formgate/core/internal/pkg/response"
	"gorm.io/gorm"
)

type CreateFormDTO struct {
	Name         string         `json:"name"    binding:"required"`
	Organization string         `json:"organization"`
	Fields       []models.Field `json:"fields"  binding:"required,min=1"`
	IsPaid       bool           `json:"is_paid"`
	SerialPrefix string         `json:"serial_prefix"`
}

type UpdateFormDTO struct {
	Name         *string         `json:"name"`
	Organization *string         `json:"organization"`
	Fields       *[]models.Field `json:"fields"`
	IsPaid       *bool           `json:"is_paid"`
	SerialPrefix *string         `json:"serial_prefix"`
}

type formResponse struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Organization         string         `json:"organization"`
	Fields               []models.Field `json:"fields"`
	IsPaid               bool           `json:"is_paid"`
	SerialPrefix         string         `json:"serial_prefix"`
	LastDownloadedSerial string         `json:"last_downloaded_serial"`
	PendingCount         int64          `json:"pending_count"`
}

func toResponse(f *models.FormModel, pending int64) formResponse {
	return formResponse{
		ID: f.ID, Name: f.Name, Organization: f.Organization,
		Fields: f.Fields, IsPaid: f.IsPaid, SerialPrefix: f.SerialPrefix,
		LastDownloadedSerial: f.LastDownloadedSerial, PendingCount: pending,
	}
}

type Service struct {
	db     *gorm.DB
	engine *deletion.Engine
}

func NewService(db *gorm.DB, engine *deletion.Engine) *Service {
	return &Service{db: db, engine: engine}
}

func (s *Service) Create(dto *CreateFormDTO) (*models.FormModel, error) {
	if err := validateFields(dto.Fields); err != nil {
		return nil, err
	}
	f := models.FormModel{
		Name:         dto.Name,
		Organization: dto.Organization,
		Fields:       dto.Fields,
		IsPaid:       dto.IsPaid,
		SerialPrefix: strings.TrimSpace(dto.SerialPrefix),
	}
	return &f, s.db.Create(&f).Error
}

func (s *Service) GetByID(id string) (*models.FormModel, error) {
	var f models.FormModel
	if err := s.db.First(&f, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &f, nil
}

// List returns forms, optionally restricted to an explicit ID allowlist.
func (s *Service) List(q pagination.Page, allow []string) ([]models.FormModel, response.Pagination, error) {
	tx := s.db.Model(&models.FormModel{}).Order("created_at DESC")
	if allow != nil {
		tx = tx.Where("id IN ?", allow)
	}
	var items []models.FormModel
	pag, err := pagination.Find(tx, q, &items)
	return items, pag, err
}

func (s *Service) Update(id string, dto *UpdateFormDTO) (*models.FormModel, error) {
	f, err := s.GetByID(id)
	if err != nil || f == nil {
		return f, err
	}
	updates := map[string]interface{}{}
	if dto.Name != nil {
		updates["name"] = *dto.Name
	}
	if dto.Organization != nil {
		updates["organization"] = *dto.Organization
	}
	if dto.Fields != nil {
		if err := validateFields(*dto.Fields); err != nil {
			return nil, err
		}
		updates["fields"] = *dto.Fields
	}
	if dto.IsPaid != nil {
		updates["is_paid"] = *dto.IsPaid
	}
	if dto.SerialPrefix != nil {
		updates["serial_prefix"] = strings.TrimSpace(*dto.SerialPrefix)
	}
	return f, s.db.Model(f).Updates(updates).Error
}

// PendingCount counts submitted records whose serial is past the last
// downloaded one, i.e. not yet included in any report.
func (s *Service) PendingCount(f *models.FormModel) (int64, error) {
	tx := s.db.Model(&models.SubmissionModel{}).
		Where("form_id = ? AND status = ?", f.ID, models.SubmissionSubmitted)
	if f.LastDownloadedSerial != "" {
		tx = tx.Where("serial_number > ?", f.LastDownloadedSerial)
	}
	var count int64
	return count, tx.Count(&count).Error
}

func validateFields(fields []models.Field) error {
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			return fmt.Errorf("field name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate field name %q", name)
		}
		seen[name] = true
		switch f.Type {
		case models.FieldText, models.FieldEmail, models.FieldNumeric,
			models.FieldPhone, models.FieldTextarea, models.FieldDate,
			models.FieldDropdown, models.FieldRadio, models.FieldCheckbox,
			models.FieldImage, models.FieldSignature, models.FieldHeader,
			models.FieldHidden:
		default:
			return fmt.Errorf("unknown field type %q", f.Type)
		}
		if (f.Type == models.FieldDropdown || f.Type == models.FieldRadio) && strings.TrimSpace(f.Options) == "" {
			return fmt.Errorf("field %q requires an option list", name)
		}
	}
	return nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/forms", authMW)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("", h.create)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
}

// coordinatorAllowlist resolves the caller's form allowlist, or nil when the
// caller is an administrator and sees everything.
func (h *Handler) coordinatorAllowlist(c *gin.Context) ([]string, error) {
	if middleware.IsAdmin(c) {
		return nil, nil
	}
	var coord models.CoordinatorModel
	err := h.svc.db.First(&coord, "email = ?", middleware.CurrentEmail(c)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return coord.AccessList, nil
}

// GET /forms
func (h *Handler) list(c *gin.Context) {
	allow, err := h.coordinatorAllowlist(c)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	q := pagination.FromContext(c)
	items, pag, err := h.svc.List(q, allow)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]formResponse, len(items))
	for i := range items {
		pending, err := h.svc.PendingCount(&items[i])
		if err != nil {
			response.InternalError(c, err)
			return
		}
		out[i] = toResponse(&items[i], pending)
	}
	response.Paged(c, out, pag)
}

// GET /forms/:id
func (h *Handler) get(c *gin.Context) {
	f, err := h.svc.GetByID(c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if f == nil {
		response.NotFound(c)
		return
	}
	if !h.canAccess(c, f.ID) {
		response.Forbidden(c)
		return
	}
	pending, err := h.svc.PendingCount(f)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, toResponse(f, pending))
}

// POST /forms
func (h *Handler) create(c *gin.Context) {
	if !middleware.IsAdmin(c) {
		response.Forbidden(c)
		return
	}
	var dto CreateFormDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	f, err := h.svc.Create(&dto)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, toResponse(f, 0))
}

// PUT /forms/:id
func (h *Handler) update(c *gin.Context) {
	if !middleware.IsAdmin(c) {
		response.Forbidden(c)
		return
	}
	var dto UpdateFormDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	f, err := h.svc.Update(c.Param("id"), &dto)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if f == nil {
		response.NotFound(c)
		return
	}
	pending, _ := h.svc.PendingCount(f)
	response.OK(c, toResponse(f, pending))
}

// DELETE /forms/:id — cascades through submissions, codes, and files.
// Idempotent: deleting an already-gone form still returns success.
func (h *Handler) delete(c *gin.Context) {
	if !middleware.IsAdmin(c) {
		response.Forbidden(c)
		return
	}
	actor := middleware.CurrentEmail(c)
	if actor == "" {
		actor = "System"
	}
	if err := h.svc.engine.Purge(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

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
