// Package pagination windows the admin listing endpoints. Submission rows
// carry the full submitted value map, so page sizes are clamped rather than
// trusted from the client.
package pagination

import (
	"strconv"

	"github.com/formgate/core/internal/pkg/response"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

const (
	defaultSize = 20
	maxSize     = 200
)

// Page is a one-based listing window.
type Page struct {
	Number int
	Size   int
}

// FromContext reads the page and size query parameters, falling back to the
// defaults when absent or unparseable.
func FromContext(c *gin.Context) Page {
	return Clamp(intQuery(c, "page", 1), intQuery(c, "size", defaultSize))
}

// Clamp normalizes raw page and size values into a usable window.
func Clamp(number, size int) Page {
	if number < 1 {
		number = 1
	}
	switch {
	case size < 1:
		size = defaultSize
	case size > maxSize:
		size = maxSize
	}
	return Page{Number: number, Size: size}
}

func (p Page) offset() int { return (p.Number - 1) * p.Size }

func (p Page) meta(total int64) response.Pagination {
	pages := int((total + int64(p.Size) - 1) / int64(p.Size))
	return response.Pagination{
		Total:       total,
		CurrentPage: p.Number,
		TotalPage:   pages,
		Size:        p.Size,
		HasNextPage: p.Number < pages,
	}
}

// Find counts the filtered set, selects one window of it into dest, and
// returns the envelope metadata. An empty set skips the select entirely.
func Find[T any](tx *gorm.DB, p Page, dest *[]T) (response.Pagination, error) {
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return response.Pagination{}, err
	}
	if total == 0 {
		return p.meta(0), nil
	}
	if err := tx.Offset(p.offset()).Limit(p.Size).Find(dest).Error; err != nil {
		return response.Pagination{}, err
	}
	return p.meta(total), nil
}

func intQuery(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
