package models

import "time"

// AccessCodeModel is a single-use code gating submission to one form.
// A code authorizes exactly one successful submission; once consumed it can
// never authorize another.
type AccessCodeModel struct {
	Base
	FormID string     `json:"form_id" gorm:"index;not null"`
	Code   string     `json:"code"    gorm:"type:char(6);index;not null"`
	IsUsed bool       `json:"is_used" gorm:"index"`
	UsedAt *time.Time `json:"used_at"`
}

func (AccessCodeModel) TableName() string { return "access_codes" }
