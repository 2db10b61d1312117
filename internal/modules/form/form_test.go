package form

import (
	"fmt"
	"testing"

	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/modules/deletion"
	"github.com/formgate/core/internal/pkg/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
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
	log := zap.NewNop()
	engine := deletion.NewEngine(db, blob.NewMemStore(), audit.NewService(db, log), log, 500)
	return NewService(db, engine), db
}

func TestCreateValidatesFields(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Create(&CreateFormDTO{
		Name:   "Bad",
		Fields: []models.Field{{Name: "", Type: models.FieldText}},
	})
	assert.Error(t, err, "empty field name must be rejected")

	_, err = svc.Create(&CreateFormDTO{
		Name: "Bad",
		Fields: []models.Field{
			{Name: "dup", Type: models.FieldText},
			{Name: "dup", Type: models.FieldText},
		},
	})
	assert.Error(t, err, "duplicate field names break the value join key")

	_, err = svc.Create(&CreateFormDTO{
		Name:   "Bad",
		Fields: []models.Field{{Name: "x", Type: "magic"}},
	})
	assert.Error(t, err, "unknown field type must be rejected")

	_, err = svc.Create(&CreateFormDTO{
		Name:   "Bad",
		Fields: []models.Field{{Name: "pick", Type: models.FieldDropdown}},
	})
	assert.Error(t, err, "dropdown without options must be rejected")

	f, err := svc.Create(&CreateFormDTO{
		Name: "Good",
		Fields: []models.Field{
			{Name: "pick", Type: models.FieldDropdown, Options: "A\nB"},
			{Name: "photo", Type: models.FieldImage},
		},
		SerialPrefix: " 31 ",
	})
	require.NoError(t, err)
	assert.Equal(t, "31", f.SerialPrefix)
}

func TestPendingCount(t *testing.T) {
	svc, db := newTestService(t)

	f, err := svc.Create(&CreateFormDTO{
		Name:   "Census",
		Fields: []models.Field{{Name: "fullName", Type: models.FieldText}},
	})
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		require.NoError(t, db.Create(&models.SubmissionModel{
			FormID:       f.ID,
			AccessCodeID: fmt.Sprintf("code-%d", i),
			Status:       models.SubmissionSubmitted,
			SerialNumber: fmt.Sprintf("25%04d", i),
		}).Error)
	}
	require.NoError(t, db.Create(&models.SubmissionModel{
		FormID:       f.ID,
		AccessCodeID: "code-x",
		Status:       models.SubmissionErrorNoSerial,
	}).Error)

	count, err := svc.PendingCount(f)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count, "error submissions never count as pending")

	require.NoError(t, db.Model(f).Update("last_downloaded_serial", "250003").Error)
	f.LastDownloadedSerial = "250003"

	count, err = svc.PendingCount(f)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count, "only serials past the last download are pending")
}

func TestUpdateRevalidatesFields(t *testing.T) {
	svc, _ := newTestService(t)

	f, err := svc.Create(&CreateFormDTO{
		Name:   "Census",
		Fields: []models.Field{{Name: "fullName", Type: models.FieldText}},
	})
	require.NoError(t, err)

	bad := []models.Field{{Name: "", Type: models.FieldText}}
	_, err = svc.Update(f.ID, &UpdateFormDTO{Fields: &bad})
	assert.Error(t, err)

	name := "Renamed"
	updated, err := svc.Update(f.ID, &UpdateFormDTO{Name: &name})
	require.NoError(t, err)
	got, err := svc.GetByID(updated.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
}
