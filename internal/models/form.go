package models

// FieldType enumerates the data types a form field can collect.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldEmail     FieldType = "email"
	FieldNumeric   FieldType = "numeric"
	FieldPhone     FieldType = "phone"
	FieldTextarea  FieldType = "textarea"
	FieldDate      FieldType = "date"
	FieldDropdown  FieldType = "dropdown"
	FieldRadio     FieldType = "radio"
	FieldCheckbox  FieldType = "checkbox"
	FieldImage     FieldType = "image"
	FieldSignature FieldType = "signature"
	FieldHeader    FieldType = "header"
	FieldHidden    FieldType = "hidden"
)

// CaseMode controls case normalization applied to a field's value on intake.
type CaseMode string

const (
	CaseNone  CaseMode = ""
	CaseUpper CaseMode = "upper"
	CaseLower CaseMode = "lower"
)

// Field is one entry in a form's ordered field list. Submissions store values
// keyed by field name, so the name is the join key and must stay stable once
// submissions exist.
type Field struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required,omitempty"`
	MaxLength   int       `json:"max_length,omitempty"`
	ExactLength bool      `json:"exact_length,omitempty"`
	Case        CaseMode  `json:"case,omitempty"`
	// Options is the newline-delimited option list for dropdown/radio fields.
	Options string `json:"options,omitempty"`
}

// IsFile reports whether the field stores an uploaded blob (image or signature).
func (f Field) IsFile() bool {
	return f.Type == FieldImage || f.Type == FieldSignature
}

// IsDisplayOnly reports whether the field carries no submission data worth exporting.
func (f Field) IsDisplayOnly() bool {
	return f.Type == FieldHeader || f.Type == FieldHidden
}

// FormModel is a user-defined intake schema with an ordered field list.
type FormModel struct {
	Base
	Name         string  `json:"name"         gorm:"not null;index"`
	Organization string  `json:"organization"`
	Fields       []Field `json:"fields"       gorm:"type:longtext;serializer:json"`
	IsPaid       bool    `json:"is_paid"`
	// SerialPrefix overrides the global serial prefix option when non-empty.
	SerialPrefix string `json:"serial_prefix"`
	// LastDownloadedSerial is the highest serial included in a prior report,
	// used to derive the pending-count on the dashboard.
	LastDownloadedSerial string `json:"last_downloaded_serial"`
}

func (FormModel) TableName() string { return "forms" }

// ExportFields returns the fields that appear in a CSV export, in definition order.
func (m *FormModel) ExportFields() []Field {
	out := make([]Field, 0, len(m.Fields))
	for _, f := range m.Fields {
		if f.IsDisplayOnly() {
			continue
		}
		out = append(out, f)
	}
	return out
}
