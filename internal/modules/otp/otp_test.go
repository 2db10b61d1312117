package otp

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/formgate/core/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	))
	return db
}

func TestGenerateBatch(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 6)

	codes, err := svc.GenerateBatch("form-1", 50)
	require.NoError(t, err)
	require.Len(t, codes, 50)

	for _, c := range codes {
		assert.Equal(t, "form-1", c.FormID)
		assert.Len(t, c.Code, 6)
		assert.Equal(t, strings.ToLower(c.Code), c.Code)
		assert.False(t, c.IsUsed)
		assert.Nil(t, c.UsedAt)
	}

	var count int64
	require.NoError(t, db.Model(&models.AccessCodeModel{}).Where("form_id = ?", "form-1").Count(&count).Error)
	assert.Equal(t, int64(50), count)
}

func TestConsumeHappyPath(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 6)

	code := models.AccessCodeModel{FormID: "form-1", Code: "ab12cd"}
	require.NoError(t, db.Create(&code).Error)

	require.NoError(t, svc.Consume(code.ID, "ab12cd"))

	var got models.AccessCodeModel
	require.NoError(t, db.First(&got, "id = ?", code.ID).Error)
	assert.True(t, got.IsUsed)
	require.NotNil(t, got.UsedAt)
	assert.WithinDuration(t, time.Now(), *got.UsedAt, time.Minute)
}

func TestConsumeMismatchIsFraud(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 6)

	code := models.AccessCodeModel{FormID: "form-1", Code: "ab12cd"}
	require.NoError(t, db.Create(&code).Error)

	err := svc.Consume(code.ID, "xx9999")
	assert.ErrorIs(t, err, ErrCodeMismatch)

	var got models.AccessCodeModel
	require.NoError(t, db.First(&got, "id = ?", code.ID).Error)
	assert.False(t, got.IsUsed, "a mismatched claim must not consume the code")
}

func TestConsumeMissingRecordIsFraud(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 6)

	err := svc.Consume("no-such-code", "ab12cd")
	assert.ErrorIs(t, err, ErrCodeMismatch)
}

func TestConsumeAlreadyUsedIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 6)

	code := models.AccessCodeModel{FormID: "form-1", Code: "ab12cd"}
	require.NoError(t, db.Create(&code).Error)

	require.NoError(t, svc.Consume(code.ID, "ab12cd"))

	var first models.AccessCodeModel
	require.NoError(t, db.First(&first, "id = ?", code.ID).Error)
	firstUsedAt := *first.UsedAt

	require.NoError(t, svc.Consume(code.ID, "ab12cd"))

	var second models.AccessCodeModel
	require.NoError(t, db.First(&second, "id = ?", code.ID).Error)
	assert.True(t, second.IsUsed)
	assert.Equal(t, firstUsedAt.Unix(), second.UsedAt.Unix(), "usedAt must not move on re-consume")
}

func TestConsumeIsCaseInsensitive(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 6)

	code := models.AccessCodeModel{FormID: "form-1", Code: "ab12cd"}
	require.NoError(t, db.Create(&code).Error)

	require.NoError(t, svc.Consume(code.ID, "AB12CD"))
}

func TestFindUnusedAndMarkUsed(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 6)

	code := models.AccessCodeModel{FormID: "form-1", Code: "ab12cd"}
	require.NoError(t, db.Create(&code).Error)

	found, err := svc.FindUnused("form-1", " AB12CD ")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, code.ID, found.ID)

	consumed, err := svc.MarkUsed(code.ID)
	require.NoError(t, err)
	assert.True(t, consumed)

	found, err = svc.FindUnused("form-1", "ab12cd")
	require.NoError(t, err)
	assert.Nil(t, found, "a used code must no longer be offered")

	missing, err := svc.FindUnused("form-1", "zz0000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMarkUsedLoserDoesNotConsume(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, 6)

	code := models.AccessCodeModel{FormID: "form-1", Code: "ab12cd"}
	require.NoError(t, db.Create(&code).Error)

	winner, err := svc.MarkUsed(code.ID)
	require.NoError(t, err)
	assert.True(t, winner)

	loser, err := svc.MarkUsed(code.ID)
	require.NoError(t, err)
	assert.False(t, loser, "the second update must match zero rows")

	var stored models.AccessCodeModel
	require.NoError(t, db.First(&stored, "id = ?", code.ID).Error)
	assert.True(t, stored.IsUsed)
}
