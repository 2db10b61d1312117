package deletion

import (
	"context"
	"errors"
	"fmt"

	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/pkg/blob"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Engine removes a form and everything that references it: submissions,
// access codes, the serial counter, and stored files. Work proceeds in
// bounded batches and every step is idempotent, so a failed run can be
// re-invoked and will finish the job.
type Engine struct {
	db        *gorm.DB
	blobs     blob.Store
	audit     *audit.Service
	log       *zap.Logger
	batchSize int
}

func NewEngine(db *gorm.DB, blobs blob.Store, auditSvc *audit.Service, log *zap.Logger, batchSize int) *Engine {
	return &Engine{db: db, blobs: blobs, audit: auditSvc, log: log, batchSize: batchSize}
}

// BlobPrefix is the blob-store key prefix owned by a form's uploads.
func BlobPrefix(formID string) string {
	return fmt.Sprintf("forms/%s/", formID)
}

// Purge deletes the form and all dependent state. Returns nil on a form
// that is already partially or fully gone.
func (e *Engine) Purge(ctx context.Context, formID, actor string) error {
	// The form record goes first so it stops appearing in listings while
	// the batch loop grinds through its dependents.
	formName := ""
	var form models.FormModel
	err := e.db.First(&form, "id = ?", formID).Error
	switch {
	case err == nil:
		formName = form.Name
		if err := e.db.Unscoped().Delete(&models.FormModel{}, "id = ?", formID).Error; err != nil {
			return err
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Re-invocation on a half-deleted form; keep going.
	default:
		return err
	}

	if err := e.purgeBatched(ctx, &models.SubmissionModel{}, formID); err != nil {
		return err
	}
	if err := e.purgeBatched(ctx, &models.AccessCodeModel{}, formID); err != nil {
		return err
	}
	if err := e.db.Where("form_id = ?", formID).Delete(&models.SerialCounterModel{}).Error; err != nil {
		return err
	}

	if err := e.blobs.DeletePrefix(ctx, BlobPrefix(formID)); err != nil {
		return err
	}

	e.audit.Record(actor, models.LogDestruction, "form.purged",
		fmt.Sprintf("form %q and all dependent records deleted", formName),
		map[string]interface{}{
			"form_id":   formID,
			"form_name": formName,
		})
	return nil
}

// purgeBatched deletes rows referencing the form one page at a time.
// Each page delete is a single statement; the loop ends when a page comes
// back empty, which makes a rerun on a clean form a no-op.
func (e *Engine) purgeBatched(ctx context.Context, model interface{}, formID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var ids []string
		if err := e.db.Unscoped().Model(model).
			Where("form_id = ?", formID).
			Limit(e.batchSize).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		if err := e.db.Unscoped().Where("id IN ?", ids).Delete(model).Error; err != nil {
			return err
		}
		e.log.Debug("purged batch",
			zap.String("form_id", formID),
			zap.Int("rows", len(ids)))
	}
}
