package otp

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/pkg/pagination"
	"github.com/formgate/core/internal/pkg/response"
	"gorm.io/gorm"
)

// ErrCodeMismatch is the fraud outcome: the referenced access code does not
// exist or its stored value differs from the claimed one.
var ErrCodeMismatch = errors.New("otp: access code mismatch")

const codeCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// Service owns access-code generation and integrity checks.
type Service struct {
	db         *gorm.DB
	codeLength int
}

func NewService(db *gorm.DB, codeLength int) *Service {
	return &Service{db: db, codeLength: codeLength}
}

// GenerateBatch creates quantity random single-use codes tied to formID.
// Codes are lowercase alphanumeric of fixed length.
func (s *Service) GenerateBatch(formID string, quantity int) ([]models.AccessCodeModel, error) {
	codes := make([]models.AccessCodeModel, 0, quantity)
	for i := 0; i < quantity; i++ {
		code, err := randomCode(s.codeLength)
		if err != nil {
			return nil, err
		}
		codes = append(codes, models.AccessCodeModel{FormID: formID, Code: code})
	}
	if err := s.db.Create(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// Consume verifies the claimed value against the stored access code and
// marks the code used. A missing record or a value mismatch is the fraud
// outcome (ErrCodeMismatch). Re-consuming an already-used code is a no-op:
// the use-marking happened at submission time, and a redelivered intake
// event must not turn that into an error.
func (s *Service) Consume(accessCodeID, claimed string) error {
	var code models.AccessCodeModel
	err := s.db.First(&code, "id = ?", accessCodeID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCodeMismatch
	}
	if err != nil {
		return err
	}
	if !strings.EqualFold(code.Code, claimed) {
		return ErrCodeMismatch
	}
	if code.IsUsed {
		return nil
	}
	now := time.Now()
	return s.db.Model(&code).Updates(map[string]interface{}{
		"is_used": true,
		"used_at": &now,
	}).Error
}

// FindUnused returns the unused access code matching the given value for a
// form, or nil when no such code exists. Matching is case-insensitive; codes
// are stored lowercase.
func (s *Service) FindUnused(formID, claimed string) (*models.AccessCodeModel, error) {
	var code models.AccessCodeModel
	err := s.db.
		Where("form_id = ? AND code = ? AND is_used = ?", formID, strings.ToLower(strings.TrimSpace(claimed)), false).
		First(&code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

// MarkUsed consumes the code with a conditional update and reports whether
// this call flipped the row. False means a concurrent submission won the
// update and the code is already spent; callers must treat that as a used
// code, not a success.
func (s *Service) MarkUsed(accessCodeID string) (bool, error) {
	now := time.Now()
	res := s.db.Model(&models.AccessCodeModel{}).
		Where("id = ? AND is_used = ?", accessCodeID, false).
		Updates(map[string]interface{}{"is_used": true, "used_at": &now})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) List(formID string, q pagination.Page, unusedOnly bool) ([]models.AccessCodeModel, response.Pagination, error) {
	tx := s.db.Model(&models.AccessCodeModel{}).
		Where("form_id = ?", formID).
		Order("created_at ASC")
	if unusedOnly {
		tx = tx.Where("is_used = ?", false)
	}
	var items []models.AccessCodeModel
	pag, err := pagination.Find(tx, q, &items)
	return items, pag, err
}

// Counts returns total and consumed code counts for a form.
func (s *Service) Counts(formID string) (total, used int64, err error) {
	if err = s.db.Model(&models.AccessCodeModel{}).
		Where("form_id = ?", formID).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err = s.db.Model(&models.AccessCodeModel{}).
		Where("form_id = ? AND is_used = ?", formID, true).Count(&used).Error; err != nil {
		return 0, 0, err
	}
	return total, used, nil
}

func randomCode(length int) (string, error) {
	max := big.NewInt(int64(len(codeCharset)))
	b := make([]byte, length)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeCharset[n.Int64()]
	}
	return string(b), nil
}

type GenerateDTO struct {
	Quantity int `json:"quantity" binding:"required,min=1,max=5000"`
}

type codeResponse struct {
	ID     string     `json:"id"`
	Code   string     `json:"code"`
	IsUsed bool       `json:"is_used"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/forms/:id/access-codes", authMW)
	g.POST("", h.generate)
	g.GET("", h.list)
	g.GET("/stats", h.stats)
}

// POST /forms/:id/access-codes
func (h *Handler) generate(c *gin.Context) {
	var dto GenerateDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	var form models.FormModel
	if err := h.svc.db.First(&form, "id = ?", c.Param("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			response.NotFound(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	codes, err := h.svc.GenerateBatch(form.ID, dto.Quantity)
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.Created(c, gin.H{"success": true, "count": len(codes)})
}

// GET /forms/:id/access-codes/stats
func (h *Handler) stats(c *gin.Context) {
	total, used, err := h.svc.Counts(c.Param("id"))
	if err != nil {
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"total": total, "used": used, "unused": total - used})
}

// GET /forms/:id/access-codes?unused=true
func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	items, pag, err := h.svc.List(c.Param("id"), q, c.Query("unused") == "true")
	if err != nil {
		response.InternalError(c, err)
		return
	}
	out := make([]codeResponse, len(items))
	for i, code := range items {
		out[i] = codeResponse{ID: code.ID, Code: code.Code, IsUsed: code.IsUsed, UsedAt: code.UsedAt}
	}
	response.Paged(c, out, pag)
}
