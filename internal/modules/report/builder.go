package report

import (
	"archive/zip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/formgate/core/internal/models"
	"github.com/formgate/core/internal/modules/audit"
	"github.com/formgate/core/internal/pkg/blob"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrFormNotFound means the requested form does not exist.
	ErrFormNotFound = errors.New("report: form not found")
	// ErrNoData means no submission fell inside the requested serial range.
	ErrNoData = errors.New("report: no submissions in range")
)

const (
	noImageCell    = "No Image"
	dateCellFormat = "Jan 2, 2006, 3:04 PM"
	tempReportDir  = "tmp/reports/"
)

// Range bounds a report by serial number. Either side may be empty,
// meaning unbounded; both bounds are inclusive.
type Range struct {
	Start string
	End   string
}

// Result describes a finished export.
type Result struct {
	DownloadURL string
	FileName    string
	Count       int
}

// Builder renders a form's submissions into a zip archive holding one CSV
// plus every uploaded image, uploads it to a temporary blob area, and hands
// back a short-lived signed link.
type Builder struct {
	db          *gorm.DB
	blobs       blob.Store
	audit       *audit.Service
	log         *zap.Logger
	bucket      string
	downloadTTL time.Duration
}

func NewBuilder(db *gorm.DB, blobs blob.Store, auditSvc *audit.Service, log *zap.Logger, bucket string, downloadTTL time.Duration) *Builder {
	return &Builder{db: db, blobs: blobs, audit: auditSvc, log: log, bucket: bucket, downloadTTL: downloadTTL}
}

// Build produces the archive for one form. The temp file backing the
// archive is removed before returning, on every path.
func (b *Builder) Build(ctx context.Context, formID string, rng Range, actor string) (*Result, error) {
	var form models.FormModel
	err := b.db.First(&form, "id = ?", formID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, err
	}

	subs, err := b.loadSubmissions(formID, rng)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNoData
	}

	tmp, err := os.CreateTemp("", "formgate-report-*.zip")
	if err != nil {
		return nil, err
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	if err := b.writeArchive(ctx, tmp, &form, subs); err != nil {
		return nil, err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	fileName := fmt.Sprintf("%s-%s.zip", sanitizeName(form.Name), time.Now().Format("20060102-150405"))
	key := tempReportDir + fileName
	if err := b.blobs.Put(ctx, key, tmp, "application/zip"); err != nil {
		return nil, err
	}
	downloadURL, err := b.blobs.PresignGet(ctx, key, b.downloadTTL)
	if err != nil {
		return nil, err
	}

	lastSerial := subs[len(subs)-1].SerialNumber
	if lastSerial > form.LastDownloadedSerial {
		if err := b.db.Model(&form).Update("last_downloaded_serial", lastSerial).Error; err != nil {
			b.log.Warn("last downloaded serial not advanced",
				zap.String("form_id", formID),
				zap.Error(err))
		}
	}

	b.audit.Record(actor, models.LogData, "report.generated",
		fmt.Sprintf("report for %q with %d records", form.Name, len(subs)),
		map[string]interface{}{
			"form_id":      formID,
			"record_count": len(subs),
			"start_serial": rng.Start,
			"end_serial":   rng.End,
			"file_name":    fileName,
		})

	return &Result{DownloadURL: downloadURL, FileName: fileName, Count: len(subs)}, nil
}

// loadSubmissions selects the finalized rows in a serial range. Ordering
// and both bounds compare serials as strings, which relies on the
// allocator's fixed four-digit padding keeping every serial the same width.
func (b *Builder) loadSubmissions(formID string, rng Range) ([]models.SubmissionModel, error) {
	tx := b.db.
		Where("form_id = ? AND status = ? AND serial_number <> ''", formID, models.SubmissionSubmitted).
		Order("serial_number ASC")
	if rng.Start != "" {
		tx = tx.Where("serial_number >= ?", rng.Start)
	}
	if rng.End != "" {
		tx = tx.Where("serial_number <= ?", rng.End)
	}
	var subs []models.SubmissionModel
	return subs, tx.Find(&subs).Error
}

// writeArchive streams the CSV and every reachable image into zw without
// buffering whole files in memory. One unreachable image skips that entry
// only, never the archive.
func (b *Builder) writeArchive(ctx context.Context, dst io.Writer, form *models.FormModel, subs []models.SubmissionModel) error {
	zw := zip.NewWriter(dst)

	entry, err := zw.Create(sanitizeName(form.Name) + ".csv")
	if err != nil {
		return err
	}
	if err := b.writeCSV(entry, form, subs); err != nil {
		return err
	}

	for _, field := range form.Fields {
		if !field.IsFile() {
			continue
		}
		for i := range subs {
			if err := ctx.Err(); err != nil {
				return err
			}
			b.addImage(ctx, zw, field.Name, &subs[i])
		}
	}

	return zw.Close()
}

func (b *Builder) writeCSV(dst io.Writer, form *models.FormModel, subs []models.SubmissionModel) error {
	fields := form.ExportFields()

	header := make([]string, 0, len(fields)+4)
	header = append(header, "serialNumber")
	for _, f := range fields {
		header = append(header, f.Name)
	}
	header = append(header, "submissionDate", "otp")
	if form.IsPaid {
		header = append(header, "paymentStatus")
	}

	w := csv.NewWriter(dst)
	if err := w.Write(header); err != nil {
		return err
	}
	for i := range subs {
		if err := w.Write(b.csvRow(fields, form.IsPaid, &subs[i])); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (b *Builder) csvRow(fields []models.Field, paid bool, sub *models.SubmissionModel) []string {
	row := make([]string, 0, len(fields)+4)
	row = append(row, sub.SerialNumber)
	for _, f := range fields {
		if f.IsFile() {
			// Image cells carry the serial as a cross-reference into the
			// archive's per-field folder, never a URL.
			if sub.StringValue(f.Name) != "" {
				row = append(row, sub.SerialNumber)
			} else {
				row = append(row, noImageCell)
			}
			continue
		}
		row = append(row, cellValue(sub.Values[f.Name]))
	}
	row = append(row, sub.SubmittedAt.Format(dateCellFormat), sub.OTP)
	if paid {
		row = append(row, cellValue(sub.Values["paymentStatus"]))
	}
	return row
}

// addImage streams one stored image into the archive under
// <fieldname>/<serial>.jpg. Missing or unreadable images are skipped.
func (b *Builder) addImage(ctx context.Context, zw *zip.Writer, fieldName string, sub *models.SubmissionModel) {
	raw := sub.StringValue(fieldName)
	if raw == "" {
		return
	}
	key, err := b.keyFromURL(raw)
	if err != nil {
		b.log.Warn("skipping malformed image url",
			zap.String("submission_id", sub.ID),
			zap.String("field", fieldName),
			zap.Error(err))
		return
	}
	rc, err := b.blobs.Get(ctx, key)
	if err != nil {
		b.log.Warn("skipping unreachable image",
			zap.String("submission_id", sub.ID),
			zap.String("key", key),
			zap.Error(err))
		return
	}
	defer rc.Close()

	entry, err := zw.Create(fieldName + "/" + sub.SerialNumber + ".jpg")
	if err != nil {
		b.log.Warn("archive entry create failed",
			zap.String("key", key),
			zap.Error(err))
		return
	}
	if _, err := io.Copy(entry, rc); err != nil {
		b.log.Warn("image copy truncated",
			zap.String("key", key),
			zap.Error(err))
	}
}

// keyFromURL extracts the blob-store object key from a stored image URL.
// Handles both virtual-hosted and path-style S3 URLs.
func (b *Builder) keyFromURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	key := strings.TrimPrefix(u.Path, "/")
	key = strings.TrimPrefix(key, b.bucket+"/")
	if key == "" {
		return "", fmt.Errorf("report: no object key in %q", raw)
	}
	if decoded, err := url.PathUnescape(key); err == nil {
		key = decoded
	}
	return key, nil
}

func cellValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		if val {
			return "Yes"
		}
		return "No"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "report"
	}
	replacer := strings.NewReplacer("/", "-", "\\", "-", " ", "_", ":", "-")
	return replacer.Replace(name)
}
