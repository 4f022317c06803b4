package excel

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	certerrors "certgen/internal/errors"
	"certgen/internal/models"
)

// Column headers of the beneficiary sheet.
const (
	ColumnBeneficiary = "Entité Bénéficiaire"
	ColumnGrantNumber = "Dossier Advenir numéro"
	ChargePointMarker = "Point de charge"
)

// Report headers of the unmatched identifiers file.
var ReportHeaders = []string{"Identifiant ADVENIR", "EvseID"}

func OpenFile(filename string) (*excelize.File, error) {
	return excelize.OpenFile(filename)
}

// normalizeHeader trims and NFC-composes a header so that "é" typed as
// e + combining accent still matches.
func normalizeHeader(h string) string {
	return norm.NFC.String(strings.TrimSpace(h))
}

// ReadRecords reads the beneficiary sheet. sheetName defaults to the first
// sheet. Row 0 is the header; every following row is returned, including
// rows whose cells are all empty, so callers see the sheet as it is.
func ReadRecords(f *excelize.File, sheetName string) ([]models.InputRecord, error) {
	if sheetName == "" {
		sheetName = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, certerrors.NewConfigurationError("sheet %q is empty", sheetName)
	}

	beneficiaryCol, grantCol := -1, -1
	var chargePointCols []int
	for i, h := range rows[0] {
		h = normalizeHeader(h)
		switch {
		case h == ColumnBeneficiary:
			beneficiaryCol = i
		case h == ColumnGrantNumber:
			grantCol = i
		case strings.Contains(h, ChargePointMarker):
			chargePointCols = append(chargePointCols, i)
		}
	}

	var missing []string
	if beneficiaryCol < 0 {
		missing = append(missing, fmt.Sprintf("column %q", ColumnBeneficiary))
	}
	if grantCol < 0 {
		missing = append(missing, fmt.Sprintf("column %q", ColumnGrantNumber))
	}
	if len(missing) > 0 {
		return nil, &certerrors.ConfigurationError{
			Missing: missing,
			Message: fmt.Sprintf("sheet %q", sheetName),
		}
	}

	records := make([]models.InputRecord, 0, len(rows)-1)
	for i, row := range rows {
		if i == 0 {
			continue // Skip header
		}
		rec := models.InputRecord{
			Row:         i + 1,
			Beneficiary: strings.TrimSpace(cellAt(row, beneficiaryCol)),
			GrantNumber: strings.TrimSpace(cellAt(row, grantCol)),
		}
		for _, col := range chargePointCols {
			if id := strings.TrimSpace(cellAt(row, col)); id != "" {
				rec.ChargePointIDs = append(rec.ChargePointIDs, id)
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// cellAt tolerates the short rows excelize returns when trailing cells are empty.
func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// WriteUnmatched writes the unmatched identifiers as a two-column sheet.
func WriteUnmatched(path string, data []models.UnmatchedEntry, sheetName string) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return err
	}

	// Use Stream Writer for performance
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return err
	}

	headers := make([]interface{}, len(ReportHeaders))
	for i, h := range ReportHeaders {
		headers[i] = h
	}
	if err := sw.SetRow("A1", headers); err != nil {
		return err
	}

	for i, u := range data {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, []interface{}{u.GrantNumber, u.EvseID}); err != nil {
			return err
		}
	}

	if err := sw.Flush(); err != nil {
		return err
	}

	f.SetActiveSheet(index)
	// Delete default sheet if exists
	if sheetName != "Sheet1" {
		f.DeleteSheet("Sheet1")
	}

	return f.SaveAs(path)
}
