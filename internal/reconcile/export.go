package reconcile

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/leadsync/internal/model"
)

// exportHeader is the column layout of the manual-upload template.
var exportHeader = []string{
	"Email [SHA256]",
	"Phone [SHA256]",
	"Conversion Name",
	"Conversion Time",
	"Conversion Value",
	"Conversion Currency",
}

// Pusher delivers a written export file somewhere else.
type Pusher interface {
	Push(ctx context.Context, localPath string) (string, error)
}

// Exporter writes conversions to the manual-upload files.
type Exporter struct {
	dir    string
	xlsx   bool
	pusher Pusher
	now    func() time.Time
}

// ExportOption configures an Exporter.
type ExportOption func(*Exporter)

// WithXLSX also writes an .xlsx workbook next to the CSV.
func WithXLSX(enabled bool) ExportOption {
	return func(e *Exporter) { e.xlsx = enabled }
}

// WithPusher pushes every written file after export. Push failures are
// logged; the local files remain the export of record.
func WithPusher(p Pusher) ExportOption {
	return func(e *Exporter) { e.pusher = p }
}

// NewExporter creates an Exporter writing into dir.
func NewExporter(dir string, opts ...ExportOption) *Exporter {
	e := &Exporter{dir: dir, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export writes enhanced-conversions-auto-YYYY-MM-DD.csv and returns its path.
// A file written earlier the same day is replaced.
func (e *Exporter) Export(ctx context.Context, events []model.ConversionEvent) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create dir %s", e.dir)
	}

	base := "enhanced-conversions-auto-" + e.now().UTC().Format(time.DateOnly)
	csvPath := filepath.Join(e.dir, base+".csv")
	if err := os.WriteFile(csvPath, []byte(renderCSV(events)), 0o644); err != nil {
		return "", eris.Wrapf(err, "export: write %s", csvPath)
	}
	written := []string{csvPath}

	if e.xlsx {
		xlsxPath := filepath.Join(e.dir, base+".xlsx")
		if err := writeXLSX(xlsxPath, events); err != nil {
			return "", err
		}
		written = append(written, xlsxPath)
	}

	if e.pusher != nil {
		for _, p := range written {
			remote, err := e.pusher.Push(ctx, p)
			if err != nil {
				zap.L().Warn("export: push failed", zap.String("file", p), zap.Error(err))
				continue
			}
			zap.L().Info("export: pushed", zap.String("file", p), zap.String("remote", remote))
		}
	}

	return csvPath, nil
}

func exportRow(ev model.ConversionEvent) []string {
	return []string{
		ev.HashedEmail,
		ev.HashedPhone,
		ev.Action,
		ev.FormattedTime(),
		formatValue(ev.Value),
		ev.Currency,
	}
}

// renderCSV quotes every field, header included, which encoding/csv cannot
// be told to do.
func renderCSV(events []model.ConversionEvent) string {
	var b strings.Builder
	b.WriteString(strings.Join(exportHeader, ","))
	b.WriteByte('\n')
	for _, ev := range events {
		row := exportRow(ev)
		for i, v := range row {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(v, `"`, `""`))
			b.WriteByte('"')
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeXLSX(path string, events []model.ConversionEvent) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Conversions")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, h := range exportHeader {
		header.AddCell().SetString(h)
	}
	for _, ev := range events {
		row := sheet.AddRow()
		row.AddCell().SetString(ev.HashedEmail)
		row.AddCell().SetString(ev.HashedPhone)
		row.AddCell().SetString(ev.Action)
		row.AddCell().SetString(ev.FormattedTime())
		row.AddCell().SetFloat(ev.Value)
		row.AddCell().SetString(ev.Currency)
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save %s", path)
	}
	return nil
}
