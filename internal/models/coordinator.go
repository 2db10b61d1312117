package models

import "time"

// CoordinatorModel mirrors an identity-provider account with the profile data
// the backend needs: which forms the coordinator may act on.
type CoordinatorModel struct {
	Base
	Email         string     `json:"email" gorm:"uniqueIndex;not null"`
	Name          string     `json:"name"`
	Password      string     `json:"-"     gorm:"not null"`
	AccessList    AccessList `json:"access_list" gorm:"type:longtext"`
	LastLoginTime *time.Time `json:"last_login_time"`
}

func (CoordinatorModel) TableName() string { return "coordinators" }

// CanAccess reports whether the coordinator may act on the given form.
func (m *CoordinatorModel) CanAccess(formID string) bool {
	for _, id := range m.AccessList {
		if id == formID {
			return true
		}
	}
	return false
}
