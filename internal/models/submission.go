package models

import "time"

// SubmissionStatus is the lifecycle state of a submission.
type SubmissionStatus string

const (
	// SubmissionPending means the intake reactor has not yet assigned a serial.
	SubmissionPending SubmissionStatus = "pending"
	// SubmissionSubmitted means the serial was assigned and the record is final.
	SubmissionSubmitted SubmissionStatus = "submitted"
	// SubmissionErrorNoSerial means serial allocation failed terminally.
	SubmissionErrorNoSerial SubmissionStatus = "error-no-serial"
)

// SubmissionModel is one filled instance of a form, tied to the access code
// that unlocked it. Values are keyed by field name; image/signature fields
// hold blob-store URLs.
type SubmissionModel struct {
	Base
	FormID       string                 `json:"form_id"        gorm:"index;not null"`
	AccessCodeID string                 `json:"access_code_id" gorm:"index;not null"`
	OTP          string                 `json:"otp"            gorm:"type:char(6)"`
	Values       map[string]interface{} `json:"values"         gorm:"type:longtext;serializer:json"`
	Status       SubmissionStatus       `json:"status"         gorm:"index;default:'pending'"`
	SerialNumber string                 `json:"serial_number"  gorm:"index"`
	SubmittedAt  time.Time              `json:"submitted_at"`
}

func (SubmissionModel) TableName() string { return "submissions" }

// StringValue returns the submission value for a field as a string, or "" when
// absent or not a string.
func (m *SubmissionModel) StringValue(field string) string {
	v, ok := m.Values[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
