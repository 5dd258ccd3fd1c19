package opname

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	sheetName       = "Count"
	sheetHeaderRow  = 5
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var sheetColumns = []string{"No", "Record", "Item", "Unit", "System Qty", "Counted Qty", "Difference", "Reason"}

// CountSheet renders a session as a printable workbook. Uncounted lines leave
// the counted and difference cells blank for the counter to fill in.
func CountSheet(sess Session) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, err
	}
	meta := [][2]any{
		{"Session", sess.Number},
		{"Location", string(sess.Location)},
		{"Date", sess.Date.Format("2006-01-02")},
		{"Status", string(sess.Status)},
	}
	for i, kv := range meta {
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", i+1), &[]any{kv[0], kv[1]}); err != nil {
			return nil, err
		}
	}

	header := make([]any, len(sheetColumns))
	for i, c := range sheetColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", sheetHeaderRow), &header); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	last, err := excelize.CoordinatesToCellName(len(sheetColumns), sheetHeaderRow)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(sheetName, fmt.Sprintf("A%d", sheetHeaderRow), last, bold); err != nil {
		return nil, err
	}

	for i, line := range sess.Lines {
		row := []any{i + 1, line.RecordID, line.ItemName, line.Unit, line.SystemQuantity.String(), "", "", line.Reason}
		if line.Counted() {
			row[5] = line.CountedQuantity.Decimal.String()
		}
		if line.Difference.Valid {
			row[6] = line.Difference.Decimal.String()
		}
		if err := f.SetSheetRow(sheetName, fmt.Sprintf("A%d", sheetHeaderRow+1+i), &row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(sheetName, "C", "C", 32); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("opname: write count sheet: %w", err)
	}
	return buf.Bytes(), nil
}
