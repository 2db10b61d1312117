package report

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/formgate/core/internal/middleware"
	"github.com/formgate/core/internal/pkg/response"
)

type GenerateDTO struct {
	StartSerial string `json:"startSerial"`
	EndSerial   string `json:"endSerial"`
}

type Handler struct {
	builder *Builder
	timeout time.Duration
}

func NewHandler(builder *Builder, timeout time.Duration) *Handler {
	return &Handler{builder: builder, timeout: timeout}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/forms/:id/report", authMW)
	g.POST("", h.generate)
}

// POST /forms/:id/report
func (h *Handler) generate(c *gin.Context) {
	var dto GenerateDTO
	if err := c.ShouldBindJSON(&dto); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(c, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	actor := middleware.CurrentEmail(c)
	if actor == "" {
		actor = "System"
	}

	result, err := h.builder.Build(ctx, c.Param("id"), Range{Start: dto.StartSerial, End: dto.EndSerial}, actor)
	if err != nil {
		switch {
		case errors.Is(err, ErrFormNotFound):
			response.NotFoundMsg(c, "form not found")
		case errors.Is(err, ErrNoData):
			c.JSON(http.StatusOK, gin.H{"success": false, "message": "no submissions in the requested range"})
		default:
			response.InternalError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"downloadUrl": result.DownloadURL,
		"fileName":    result.FileName,
	})
}
