package intake

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/modules/otp"
	"github.com/formgate/core/internal/modules/serial"
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
		&models.OptionModel{},
		&models.SystemLogModel{},
	))
	return db
}

func newReactor(t *testing.T, db *gorm.DB) *Reactor {
	t.Helper()
	log := zap.NewNop()
	return NewReactor(db,
		otp.NewService(db, 6),
		serial.NewAllocator(db, "25"),
		audit.NewService(db, log),
		log)
}

func seedSubmission(t *testing.T, db *gorm.DB, claimed string) (*models.FormModel, *models.SubmissionModel) {
	t.Helper()
	form := models.FormModel{
		Name:         "Intake",
		SerialPrefix: "25",
		Fields:       []models.Field{{Name: "fullName", Type: models.FieldText}},
	}
	require.NoError(t, db.Create(&form).Error)

	code := models.AccessCodeModel{FormID: form.ID, Code: "ab12cd"}
	require.NoError(t, db.Create(&code).Error)

	sub := models.SubmissionModel{
		FormID:       form.ID,
		AccessCodeID: code.ID,
		OTP:          claimed,
		Values:       map[string]interface{}{"fullName": "Jane Roe"},
		Status:       models.SubmissionPending,
		SubmittedAt:  time.Now(),
	}
	require.NoError(t, db.Create(&sub).Error)
	return &form, &sub
}

func TestProcessAcceptsAndSerializes(t *testing.T) {
	db := newTestDB(t)
	r := newReactor(t, db)
	form, sub := seedSubmission(t, db, "ab12cd")

	require.NoError(t, r.Process(context.Background(), sub.ID))

	var got models.SubmissionModel
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	assert.Equal(t, models.SubmissionSubmitted, got.Status)
	assert.Equal(t, "250001", got.SerialNumber)

	var code models.AccessCodeModel
	require.NoError(t, db.First(&code, "id = ?", sub.AccessCodeID).Error)
	assert.True(t, code.IsUsed)

	var entry models.SystemLogModel
	require.NoError(t, db.Where("category = ?", models.LogTraffic).First(&entry).Error)
	assert.Equal(t, "submission.accepted", entry.Event)
	assert.Equal(t, form.ID, entry.Detail["form_id"])
	assert.Equal(t, "250001", entry.Detail["serial_number"])
}

func TestProcessFraudDeletesSubmission(t *testing.T) {
	db := newTestDB(t)
	r := newReactor(t, db)
	_, sub := seedSubmission(t, db, "xx9999")

	require.NoError(t, r.Process(context.Background(), sub.ID))

	var count int64
	require.NoError(t, db.Unscoped().Model(&models.SubmissionModel{}).
		Where("id = ?", sub.ID).Count(&count).Error)
	assert.Zero(t, count, "fraudulent submission must be deleted outright")

	var entry models.SystemLogModel
	require.NoError(t, db.Where("category = ?", models.LogSecurity).First(&entry).Error)
	assert.Equal(t, "submission.fraud", entry.Event)
	assert.Equal(t, "System", entry.Actor)

	var counters int64
	require.NoError(t, db.Model(&models.SerialCounterModel{}).Count(&counters).Error)
	assert.Zero(t, counters, "no serial may ever be assigned to a fraudulent submission")
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	r := newReactor(t, db)
	_, sub := seedSubmission(t, db, "ab12cd")

	require.NoError(t, r.Process(context.Background(), sub.ID))
	require.NoError(t, r.Process(context.Background(), sub.ID))

	var got models.SubmissionModel
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	assert.Equal(t, "250001", got.SerialNumber, "redelivery must not reassign")

	var counter models.SerialCounterModel
	require.NoError(t, db.First(&counter, "form_id = ?", sub.FormID).Error)
	assert.Equal(t, int64(1), counter.LastNumber)
}

func TestProcessMissingSubmissionIsNoop(t *testing.T) {
	db := newTestDB(t)
	r := newReactor(t, db)

	require.NoError(t, r.Process(context.Background(), "already-gone"))
}

func TestProcessAllocationFailureMarksError(t *testing.T) {
	db := newTestDB(t)
	r := newReactor(t, db)
	_, sub := seedSubmission(t, db, "ab12cd")

	// Breaking the form reference makes prefix resolution fail, which is a
	// non-retryable allocation failure.
	require.NoError(t, db.Model(&models.SubmissionModel{}).
		Where("id = ?", sub.ID).Update("form_id", "no-such-form").Error)

	require.NoError(t, r.Process(context.Background(), sub.ID))

	var got models.SubmissionModel
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	assert.Equal(t, models.SubmissionErrorNoSerial, got.Status)
	assert.Empty(t, got.SerialNumber)

	var entry models.SystemLogModel
	require.NoError(t, db.Where("event = ?", "submission.serial_failed").First(&entry).Error)
	assert.Equal(t, models.LogTraffic, entry.Category)
}

func TestProcessUsedCodeStillAllowsFirstAcceptance(t *testing.T) {
	db := newTestDB(t)
	r := newReactor(t, db)
	_, sub := seedSubmission(t, db, "ab12cd")

	// The accepting handler already consumed the code; the reactor's
	// re-verification must treat that as a no-op, not a rejection.
	now := time.Now()
	require.NoError(t, db.Model(&models.AccessCodeModel{}).
		Where("id = ?", sub.AccessCodeID).
		Updates(map[string]interface{}{"is_used": true, "used_at": &now}).Error)

	require.NoError(t, r.Process(context.Background(), sub.ID))

	var got models.SubmissionModel
	require.NoError(t, db.First(&got, "id = ?", sub.ID).Error)
	assert.Equal(t, models.SubmissionSubmitted, got.Status)
	assert.Equal(t, "250001", got.SerialNumber)
}
