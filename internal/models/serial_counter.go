package models

// SerialCounterModel holds the last serial number assigned for one form.
// Owned exclusively by the serial allocator, which mutates it through a
// conditional update so the number only ever advances by exactly one per
// successful allocation.
type SerialCounterModel struct {
	ID         uint   `json:"-"           gorm:"primaryKey;autoIncrement"`
	FormID     string `json:"form_id"     gorm:"uniqueIndex;not null"`
	LastNumber int64  `json:"last_number" gorm:"not null;default:0"`
}

func (SerialCounterModel) TableName() string { return "serial_counters" }
