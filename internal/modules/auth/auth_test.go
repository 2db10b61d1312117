package auth

import (
	"fmt"
	"testing"

	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/pkg/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	jwt.SetSecret("test-secret")
	dial := gormsqlite.Dialector{
		DriverName: "sqlite",
		DSN:        fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.UserModel{},
		&models.CoordinatorModel{},
		&models.SystemLogModel{},
	))
	return NewService(db, audit.NewService(db, zap.NewNop())), db
}

func TestRegisterFirstRunOnly(t *testing.T) {
	svc, _ := newTestService(t)

	u, err := svc.Register(&RegisterDTO{
		Email:    "admin@example.com",
		Name:     "Admin",
		Password: "changeme123",
	})
	require.NoError(t, err)
	assert.True(t, u.IsAdmin, "first account is the administrator")

	_, err = svc.Register(&RegisterDTO{
		Email:    "second@example.com",
		Name:     "Second",
		Password: "changeme123",
	})
	assert.Error(t, err, "registration closes after the first account")
}

func TestLoginOperatorCarriesAdminClaim(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Register(&RegisterDTO{
		Email:    "admin@example.com",
		Name:     "Admin",
		Password: "changeme123",
	})
	require.NoError(t, err)

	token, err := svc.Login("admin@example.com", "changeme123", "127.0.0.1")
	require.NoError(t, err)

	claims, err := jwt.Parse(token)
	require.NoError(t, err)
	assert.True(t, claims.Admin)
	assert.Equal(t, "admin@example.com", claims.Email)
}

func TestLoginWrongPasswordLogsSecurityEvent(t *testing.T) {
	svc, db := newTestService(t)

	_, err := svc.Register(&RegisterDTO{
		Email:    "admin@example.com",
		Name:     "Admin",
		Password: "changeme123",
	})
	require.NoError(t, err)

	_, err = svc.Login("admin@example.com", "wrong-password", "127.0.0.1")
	assert.ErrorIs(t, err, errBadCredentials)

	var entry models.SystemLogModel
	require.NoError(t, db.Where("category = ?", models.LogSecurity).First(&entry).Error)
	assert.Equal(t, "login.failed", entry.Event)
}

func TestLoginCoordinatorIsNeverAdmin(t *testing.T) {
	svc, db := newTestService(t)

	hash, err := bcrypt.GenerateFromPassword([]byte("coordpass123"), bcrypt.DefaultCost)
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.CoordinatorModel{
		Email:      "coord@example.com",
		Name:       "Coord",
		Password:   string(hash),
		AccessList: models.AccessList{"form-1"},
	}).Error)

	token, err := svc.Login("coord@example.com", "coordpass123", "127.0.0.1")
	require.NoError(t, err)

	claims, err := jwt.Parse(token)
	require.NoError(t, err)
	assert.False(t, claims.Admin)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Login("nobody@example.com", "whatever", "127.0.0.1")
	assert.ErrorIs(t, err, errBadCredentials)
}
