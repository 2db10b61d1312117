package deletion

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/pkg/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dial := gormsqlite.Dialector{
		DriverName: "sqlite",
		DSN:        fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.FormModel{},
		&models.AccessCodeModel{},
		&models.SubmissionModel{},
		&models.SerialCounterModel{},
		&models.SystemLogModel{},
	))
	return db
}

func seedForm(t *testing.T, db *gorm.DB, store *blob.MemStore, subs, codes int) *models.FormModel {
	t.Helper()
	form := models.FormModel{
		Name:   "Census",
		Fields: []models.Field{{Name: "photo", Type: models.FieldImage}},
	}
	require.NoError(t, db.Create(&form).Error)

	batch := make([]models.SubmissionModel, 0, subs)
	for i := 0; i < subs; i++ {
		batch = append(batch, models.SubmissionModel{
			FormID:       form.ID,
			AccessCodeID: fmt.Sprintf("code-%d", i),
			Status:       models.SubmissionSubmitted,
			SerialNumber: fmt.Sprintf("25%04d", i+1),
		})
		if len(batch) == 200 {
			require.NoError(t, db.Create(&batch).Error)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		require.NoError(t, db.Create(&batch).Error)
	}

	codeBatch := make([]models.AccessCodeModel, 0, codes)
	for i := 0; i < codes; i++ {
		codeBatch = append(codeBatch, models.AccessCodeModel{
			FormID: form.ID,
			Code:   fmt.Sprintf("c%05d", i),
		})
	}
	require.NoError(t, db.Create(&codeBatch).Error)

	require.NoError(t, db.Create(&models.SerialCounterModel{
		FormID:     form.ID,
		LastNumber: int64(subs),
	}).Error)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("%sphoto/25%04d.jpg", BlobPrefix(form.ID), i+1)
		require.NoError(t, store.Put(ctx, key, strings.NewReader("jpeg bytes"), "image/jpeg"))
	}
	return &form
}

func TestPurgeRemovesEverything(t *testing.T) {
	db := newTestDB(t)
	store := blob.NewMemStore()
	engine := NewEngine(db, store, audit.NewService(db, zap.NewNop()), zap.NewNop(), 500)

	form := seedForm(t, db, store, 1200, 300)

	// Another form's data must survive the purge untouched.
	other := seedForm(t, db, store, 5, 5)

	require.NoError(t, engine.Purge(context.Background(), form.ID, "admin@example.com"))

	var forms, subs, codes, counters int64
	require.NoError(t, db.Unscoped().Model(&models.FormModel{}).Where("id = ?", form.ID).Count(&forms).Error)
	require.NoError(t, db.Unscoped().Model(&models.SubmissionModel{}).Where("form_id = ?", form.ID).Count(&subs).Error)
	require.NoError(t, db.Unscoped().Model(&models.AccessCodeModel{}).Where("form_id = ?", form.ID).Count(&codes).Error)
	require.NoError(t, db.Model(&models.SerialCounterModel{}).Where("form_id = ?", form.ID).Count(&counters).Error)
	assert.Zero(t, forms)
	assert.Zero(t, subs)
	assert.Zero(t, codes)
	assert.Zero(t, counters)

	for _, key := range store.Keys() {
		assert.False(t, strings.HasPrefix(key, BlobPrefix(form.ID)), "blob %s must be gone", key)
	}

	var otherSubs int64
	require.NoError(t, db.Model(&models.SubmissionModel{}).Where("form_id = ?", other.ID).Count(&otherSubs).Error)
	assert.Equal(t, int64(5), otherSubs)
	assert.NotEmpty(t, store.Keys(), "other form's blobs must survive")

	var entry models.SystemLogModel
	require.NoError(t, db.Where("category = ?", models.LogDestruction).First(&entry).Error)
	assert.Equal(t, "form.purged", entry.Event)
	assert.Equal(t, "admin@example.com", entry.Actor)
	assert.Equal(t, form.ID, entry.Detail["form_id"])
	assert.Equal(t, "Census", entry.Detail["form_name"])
}

func TestPurgeIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	store := blob.NewMemStore()
	engine := NewEngine(db, store, audit.NewService(db, zap.NewNop()), zap.NewNop(), 500)

	form := seedForm(t, db, store, 10, 10)

	require.NoError(t, engine.Purge(context.Background(), form.ID, "admin@example.com"))
	require.NoError(t, engine.Purge(context.Background(), form.ID, "admin@example.com"),
		"re-invoking on an already-clean form must succeed")
}

func TestPurgeResumesAfterPartialDeletion(t *testing.T) {
	db := newTestDB(t)
	store := blob.NewMemStore()
	engine := NewEngine(db, store, audit.NewService(db, zap.NewNop()), zap.NewNop(), 500)

	form := seedForm(t, db, store, 40, 20)

	// Simulate a prior run that died right after removing the form record.
	require.NoError(t, db.Unscoped().Delete(&models.FormModel{}, "id = ?", form.ID).Error)

	require.NoError(t, engine.Purge(context.Background(), form.ID, "admin@example.com"))

	var subs, codes int64
	require.NoError(t, db.Unscoped().Model(&models.SubmissionModel{}).Where("form_id = ?", form.ID).Count(&subs).Error)
	require.NoError(t, db.Unscoped().Model(&models.AccessCodeModel{}).Where("form_id = ?", form.ID).Count(&codes).Error)
	assert.Zero(t, subs)
	assert.Zero(t, codes)
}

func TestPurgeUnknownFormIsSuccess(t *testing.T) {
	db := newTestDB(t)
	store := blob.NewMemStore()
	engine := NewEngine(db, store, audit.NewService(db, zap.NewNop()), zap.NewNop(), 500)

	require.NoError(t, engine.Purge(context.Background(), "never-existed", "admin@example.com"))
}

func TestPurgeSmallBatchesTerminate(t *testing.T) {
	db := newTestDB(t)
	store := blob.NewMemStore()
	engine := NewEngine(db, store, audit.NewService(db, zap.NewNop()), zap.NewNop(), 7)

	form := seedForm(t, db, store, 50, 30)

	require.NoError(t, engine.Purge(context.Background(), form.ID, "admin@example.com"))

	var subs int64
	require.NoError(t, db.Unscoped().Model(&models.SubmissionModel{}).Where("form_id = ?", form.ID).Count(&subs).Error)
	assert.Zero(t, subs)
}
