package serial

import (
	"errors"
	"fmt"

	"github.com/formgate/core/internal/models"
	"gorm.io/gorm"
)

// ErrContention is returned when the counter could not be advanced after
// the retry budget is exhausted.
var ErrContention = errors.New("serial: counter contention, retries exhausted")

const maxRetries = 64

// Allocator hands out strictly increasing, gap-free serial numbers per
// form. Concurrent callers are serialized by a compare-and-swap update
// on the counter row, so two submissions can never receive the same
// number and a crashed caller never burns one.
type Allocator struct {
	db            *gorm.DB
	defaultPrefix string
}

func NewAllocator(db *gorm.DB, defaultPrefix string) *Allocator {
	return &Allocator{db: db, defaultPrefix: defaultPrefix}
}

// Next allocates the next serial for formID and returns it formatted
// with the form's prefix, e.g. "250005".
func (a *Allocator) Next(formID string) (string, error) {
	// Resolve the prefix first so a bad form reference cannot burn a number.
	prefix, err := a.prefixFor(formID)
	if err != nil {
		return "", err
	}
	n, err := a.nextNumber(formID)
	if err != nil {
		return "", err
	}
	return Format(prefix, n), nil
}

func (a *Allocator) nextNumber(formID string) (int64, error) {
	for attempt := 0; attempt < maxRetries; attempt++ {
		var counter models.SerialCounterModel
		err := a.db.Where("form_id = ?", formID).First(&counter).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = models.SerialCounterModel{FormID: formID, LastNumber: 1}
			createErr := a.db.Create(&counter).Error
			if createErr == nil {
				return 1, nil
			}
			// Another caller created the row first; re-read and CAS.
			continue
		}
		if err != nil {
			return 0, err
		}

		next := counter.LastNumber + 1
		res := a.db.Model(&models.SerialCounterModel{}).
			Where("form_id = ? AND last_number = ?", formID, counter.LastNumber).
			Update("last_number", next)
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
		// Lost the race, reload and try again.
	}
	return 0, ErrContention
}

func (a *Allocator) prefixFor(formID string) (string, error) {
	var form models.FormModel
	if err := a.db.Select("serial_prefix").First(&form, "id = ?", formID).Error; err != nil {
		return "", err
	}
	if form.SerialPrefix != "" {
		return form.SerialPrefix, nil
	}
	var opt models.OptionModel
	err := a.db.Where("name = ?", models.OptionSerialPrefix).First(&opt).Error
	if err == nil && opt.Value != "" {
		return opt.Value, nil
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	return a.defaultPrefix, nil
}

// Format renders a counter value as a serial string: prefix followed by
// the number zero-padded to four digits. Report range queries compare
// serials as strings, which only sorts correctly while the padded part
// stays four digits wide, so a single prefix supports counters up to 9999.
func Format(prefix string, n int64) string {
	return fmt.Sprintf("%s%04d", prefix, n)
}

// Parse splits a serial string back into its numeric part given the
// prefix it was formatted with. Returns an error when the serial does
// not carry the prefix or the remainder is not numeric.
func Parse(prefix, serial string) (int64, error) {
	if len(serial) <= len(prefix) || serial[:len(prefix)] != prefix {
		return 0, fmt.Errorf("serial: %q does not match prefix %q", serial, prefix)
	}
	var n int64
	if _, err := fmt.Sscanf(serial[len(prefix):], "%d", &n); err != nil {
		return 0, fmt.Errorf("serial: %q has non-numeric remainder", serial)
	}
	return n, nil
}
