package auth

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	jwtpkg "github.com/formgate/core/internal/pkg/jwt"
	"github.com/formgate/core/internal/pkg/response"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const tokenTTL = 24 * time.Hour

type LoginDTO struct {
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type RegisterDTO struct {
	Email    string `json:"email"    binding:"required,email"`
	Name     string `json:"name"     binding:"required"`
	Password string `json:"password" binding:"required,min=8"`
}

var errBadCredentials = errors.New("auth: invalid email or password")

type Service struct {
	db    *gorm.DB
	audit *audit.Service
}

func NewService(db *gorm.DB, auditSvc *audit.Service) *Service {
	return &Service{db: db, audit: auditSvc}
}

// Login authenticates an operator or coordinator and issues a token.
// Admin capability is carried as a token claim, never derived from the
// email address.
func (s *Service) Login(email, password, ip string) (string, error) {
	var u models.UserModel
	err := s.db.First(&u, "email = ?", email).Error
	if err == nil {
		if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)) != nil {
			s.audit.Record(email, models.LogSecurity, "login.failed",
				"operator login with wrong password",
				map[string]interface{}{"ip": ip})
			return "", errBadCredentials
		}
		now := time.Now()
		s.db.Model(&u).Updates(map[string]interface{}{
			"last_login_time": &now,
			"last_login_ip":   ip,
		})
		return jwtpkg.Sign(u.ID, u.Email, u.IsAdmin, tokenTTL)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	var coord models.CoordinatorModel
	if err := s.db.First(&coord, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errBadCredentials
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(coord.Password), []byte(password)) != nil {
		s.audit.Record(email, models.LogSecurity, "login.failed",
			"coordinator login with wrong password",
			map[string]interface{}{"ip": ip})
		return "", errBadCredentials
	}
	now := time.Now()
	s.db.Model(&coord).Update("last_login_time", &now)
	return jwtpkg.Sign(coord.ID, coord.Email, false, tokenTTL)
}

// Register creates the first operator account. Only allowed while the
// users table is empty; that account is the administrator.
func (s *Service) Register(dto *RegisterDTO) (*models.UserModel, error) {
	if s.IsRegistered() {
		return nil, errors.New("auth: already initialized")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(dto.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := models.UserModel{
		Email:    dto.Email,
		Name:     dto.Name,
		Password: string(hash),
		IsAdmin:  true,
	}
	return &u, s.db.Create(&u).Error
}

func (s *Service) IsRegistered() bool {
	var count int64
	s.db.Model(&models.UserModel{}).Count(&count)
	return count > 0
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	g := rg.Group("/auth")
	g.POST("/login", h.login)
	g.POST("/register", h.register)
	g.GET("/check", h.check)
}

// POST /auth/login
func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	token, err := h.svc.Login(dto.Email, dto.Password, c.ClientIP())
	if err != nil {
		if errors.Is(err, errBadCredentials) {
			response.Unauthorized(c)
			return
		}
		response.InternalError(c, err)
		return
	}
	response.OK(c, gin.H{"token": token})
}

// POST /auth/register — first-run only
func (h *Handler) register(c *gin.Context) {
	var dto RegisterDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	u, err := h.svc.Register(&dto)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Created(c, gin.H{"id": u.ID, "email": u.Email})
}

// GET /auth/check
func (h *Handler) check(c *gin.Context) {
	response.OK(c, gin.H{"initialized": h.svc.IsRegistered()})
}
