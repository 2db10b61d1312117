package models

// OptionModel is a generic key-value store for system configuration.
// The "serial_prefix" option holds the global default serial prefix used when
// a form does not override it.
type OptionModel struct {
	ID    uint   `json:"-" gorm:"primaryKey;autoIncrement"`
	Name  string `json:"name"  gorm:"uniqueIndex;not null"`
	Value string `json:"value" gorm:"type:longtext"`
}

func (OptionModel) TableName() string { return "options" }

// OptionSerialPrefix is the options-table key for the global serial prefix.
const OptionSerialPrefix = "serial_prefix"
