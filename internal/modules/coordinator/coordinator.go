package coordinator

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/middleware"
	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/pkg/pagination"
	"github.com/formgate/core/internal/pkg/response"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type CreateDTO struct {
	Email      string   `json:"email"       binding:"required,email"`
	Name       string   `json:"name"        binding:"required"`
	Password   string   `json:"password"    binding:"required,min=8"`
	AccessList []string `json:"access_list"`
}

type UpdateDTO struct {
	Email      *string   `json:"email"`
	Name       *string   `json:"name"`
	Password   *string   `json:"password"`
	AccessList *[]string `json:"access_list"`
}

type coordinatorResponse struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	AccessList    []string   `json:"access_list"`
	LastLoginTime *time.Time `json:"last_login_time,omitempty"`
}

func toResponse(m *models.CoordinatorModel) coordinatorResponse {
	return coordinatorResponse{
		ID: m.ID, Email: m.Email, Name: m.Name,
		AccessList: m.AccessList, LastLoginTime: m.LastLoginTime,
	}
}

type Service struct {
	db    *gorm.DB
	audit *audit.Service
}

func NewService(db *gorm.DB, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

func (s *Service) Create(dto *CreateDTO, actor string) (*models.CoordinatorModel, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	m := models.CoordinatorModel{
		Email:      dto.Email,
		Name:       dto.Name,
		Password:   string(hash),
		AccessList: dto.AccessList,
	}
	if err := s.db.Create(&m).Error; err != nil {
		return nil, err
	}
	s.audit.Record(actor, models.LogData, "coordinator.created",
		"coordinator account created",
		map[string]interface{}{"coordinator_id": m.ID, "email": m.Email})
	return &m, nil
}

func (s *Service) GetByID(id string) (*models.CoordinatorModel, error) {
	var m models.CoordinatorModel
	if err := s.db.First(&m, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

func (s *Service) List(q pagination.Page) ([]models.CoordinatorModel, response.Pagination, error) {
	tx := s.db.Model(&models.CoordinatorModel{}).Order("created_at DESC")
	var items []models.CoordinatorModel
	pag, err := pagination.Find(tx, q, &items)
	return items, pag, err
}

func (s *Service) Update(id string, dto *UpdateDTO) (*models.CoordinatorModel, error) {
	m, err := s.GetByID(id)
	if err != nil || m == nil {
		return m, err
	}
	updates := map[string]interface{}{}
	if dto.Email != nil {
		updates["email"] = *dto.Email
	}
	if dto.Name != nil {
		updates["name"] = *dto.Name
	}
	if dto.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*dto.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		updates["password"] = string(hash)
	}
	if dto.AccessList != nil {
		updates["access_list"] = models.AccessList(*dto.AccessList)
	}
	return m, s.db.Model(m).Updates(updates).Error
}

// Delete removes both the login and the profile record.
func (s *Service) Delete(id, actor string) error {
	m, err := s.GetByID(id)
	if err != nil {
		return err
	}
	if m == nil {
		return nil
	}
	if err := s.db.Unscoped().Delete(&models.CoordinatorModel{}, "id = ?", id).Error; err != nil {
		return err
	}
	s.audit.Record(actor, models.LogDestruction, "coordinator.deleted",
		"coordinator account deleted",
		map[string]interface{}{"coordinator_id": id, "email": m.Email})
	return nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/coordinators", authMW)
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.POST("", h.create)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
}

// GET /coordinators
func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	items, pag, err := h.svc.List(q)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]coordinatorResponse, len(items))
	for i := range items {
		out[i] = toResponse(&items[i])
	}
	response.Paged(c, out, pag)
}

// GET /coordinators/:id
func (h *Handler) get(c *gin.Context) {
	m, err := h.svc.GetByID(c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	if m == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, toResponse(m))
}

// POST /coordinators
func (h *Handler) create(c *gin.Context) {
	var dto CreateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	m, err := h.svc.Create(&dto, actorEmail(c))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, toResponse(m))
}

// PUT /coordinators/:id
func (h *Handler) update(c *gin.Context) {
	var dto UpdateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	m, err := h.svc.Update(c.Param("id"), &dto)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if m == nil {
		response.NotFound(c)
		return
	}
	response.OK(c, toResponse(m))
}

// DELETE /coordinators/:id
func (h *Handler) delete(c *gin.Context) {
	if err := h.svc.Delete(c.Param("id"), actorEmail(c)); err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"success": true})
}

func actorEmail(c *gin.Context) string {
	if email := middleware.CurrentEmail(c); email != "" {
		return email
	}
	return "System"
}
