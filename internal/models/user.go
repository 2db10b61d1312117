package models

import "time"

// UserModel represents an operator (administrator) account.
type UserModel struct {
	Base
	Email         string     `json:"email" gorm:"uniqueIndex;not null"`
	Name          string     `json:"name"`
	Password      string     `json:"-"     gorm:"not null"`
	IsAdmin       bool       `json:"is_admin"`
	LastLoginTime *time.Time `json:"last_login_time"`
	LastLoginIP   string     `json:"last_login_ip"`
}

func (UserModel) TableName() string { return "users" }
