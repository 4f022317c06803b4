// Package exceltest writes spreadsheet fixtures for tests.
package exceltest

import (
	"testing"

	"github.com/xuri/excelize/v2"
)

// DefaultHeaders mirror the beneficiary export.
var DefaultHeaders = []string{
	"Entité Bénéficiaire",
	"Dossier Advenir numéro",
	"Adresse",
	"Point de charge 1",
	"Point de charge 2",
	"Point de charge 3",
}

// WriteSheet saves headers and rows as the first sheet of a new workbook.
func WriteSheet(t testing.TB, path string, headers []string, rows ...[]any) {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow("Sheet1", "A1", &header); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		r := row
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("writing row %d: %v", i+2, err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("saving %s: %v", path, err)
	}
}
