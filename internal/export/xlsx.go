// Package export writes truth-table rows to an xlsx workbook.
package export

import (
	"context"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/truth-cli/internal/model"
	"github.com/sells-group/truth-cli/internal/store"
)

// SheetName is the name of the single exported sheet.
const SheetName = "Truth Data"

// pageSize matches the store's largest page.
const pageSize = 1000

// ErrNoData is returned when no row matches the filters.
var ErrNoData = eris.New("export: no data to export")

// Source reads truth rows.
type Source interface {
	Search(ctx context.Context, q store.SearchQuery) ([]*model.ContactRecord, int64, error)
	ListColumns(ctx context.Context) ([]string, error)
}

// FileName returns the download name for an export taken at now.
func FileName(now time.Time) string {
	return "truth_export_" + now.UTC().Format("20060102_150405") + ".xlsx"
}

// XLSX writes every row matching filters to w, one column per truth-table
// column in table order. It returns the number of rows written.
func XLSX(ctx context.Context, src Source, w io.Writer, filters map[string]string) (int, error) {
	cols, err := src.ListColumns(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "export: list columns")
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}
	writeRow(sheet, cols)

	written := 0
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return written, eris.Wrap(err, "export: cancelled")
		}
		recs, total, err := src.Search(ctx, store.SearchQuery{Filters: filters, Limit: pageSize, Offset: offset})
		if err != nil {
			return written, eris.Wrap(err, "export: search rows")
		}
		for _, rec := range recs {
			vals := make([]string, len(cols))
			for i, c := range cols {
				vals[i] = rec.Get(c)
			}
			writeRow(sheet, vals)
		}
		written += len(recs)
		if len(recs) < pageSize || int64(offset+len(recs)) >= total {
			break
		}
	}

	if written == 0 {
		return 0, ErrNoData
	}
	if err := f.Write(w); err != nil {
		return written, eris.Wrap(err, "export: write workbook")
	}
	zap.L().Info("export: workbook written",
		zap.Int("rows", written),
		zap.Int("columns", len(cols)),
		zap.Int("filters", len(filters)),
	)
	return written, nil
}

func writeRow(sheet *xlsx.Sheet, vals []string) {
	row := sheet.AddRow()
	for _, v := range vals {
		row.AddCell().SetString(v)
	}
}
