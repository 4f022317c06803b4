package batch

import (
	"context"
	"encoding/csv"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"certgen/internal/config"
	"certgen/internal/docx"
	"certgen/internal/docx/docxtest"
	certerrors "certgen/internal/errors"
	"certgen/internal/excel/exceltest"
	"certgen/internal/models"
	"certgen/internal/registry"
)

type fakeRegistry struct {
	entries []models.RegistryEntry
	err     error
	calls   int
	query   registry.Query
}

func (f *fakeRegistry) FetchKnownChargePoints(_ context.Context, q registry.Query) ([]models.RegistryEntry, error) {
	f.calls++
	f.query = q
	return f.entries, f.err
}

// copyRenderer "renders" by copying the filled .docx to a .pdf path so tests
// can read back what was filled. Documents whose name contains a failing
// grant number produce a RenderError.
type copyRenderer struct {
	fail     map[string]bool
	rendered []string
}

func (r *copyRenderer) Render(_ context.Context, documentPath, outputDir string) (string, error) {
	for grant := range r.fail {
		if strings.Contains(filepath.Base(documentPath), grant) {
			return "", &certerrors.RenderError{Document: documentPath, ExitCode: 1}
		}
	}
	raw, err := os.ReadFile(documentPath)
	if err != nil {
		return "", err
	}
	out := filepath.Join(outputDir, strings.TrimSuffix(filepath.Base(documentPath), ".docx")+".pdf")
	if err := os.WriteFile(out, raw, 0o644); err != nil {
		return "", err
	}
	r.rendered = append(r.rendered, out)
	return out, nil
}

type fixture struct {
	cfg       *config.Config
	artifacts *config.Artifacts
	registry  *fakeRegistry
	renderer  *copyRenderer
}

func newFixture(t *testing.T, rows ...[]any) *fixture {
	t.Helper()
	dir := t.TempDir()

	a := &config.Artifacts{
		Spreadsheet: filepath.Join(dir, "beneficiaires.xlsx"),
		Template:    filepath.Join(dir, "modele.docx"),
		CertFile:    filepath.Join(dir, "client.crt"),
		KeyFile:     filepath.Join(dir, "client.key"),
	}
	exceltest.WriteSheet(t, a.Spreadsheet, exceltest.DefaultHeaders, rows...)
	require.NoError(t, os.WriteFile(a.Template, docxtest.Certificate(), 0o600))

	return &fixture{
		cfg: &config.Config{
			InputDir:    dir,
			OutputDir:   filepath.Join(dir, "output_files"),
			SkipRecords: 1,
			Registry: config.RegistryConfig{
				Endpoint:     config.DefaultEndpoint,
				ProviderID:   "DE*ICE",
				CountryCodes: []string{"FRA"},
				GeoFormat:    "Google",
			},
			Report: config.ReportConfig{Format: "csv"},
		},
		artifacts: a,
		registry:  &fakeRegistry{entries: []models.RegistryEntry{{EvseID: "FR*ICE*E1"}, {EvseID: "FR*ICE*E3"}}},
		renderer:  &copyRenderer{fail: map[string]bool{}},
	}
}

var fixedNow = func() time.Time { return time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC) }

func (f *fixture) run(t *testing.T, opts ...Option) (*Summary, error) {
	t.Helper()
	opts = append([]Option{WithClock(fixedNow)}, opts...)
	return New(f.cfg, f.artifacts, f.registry, f.renderer, opts...).Run(context.Background())
}

func (f *fixture) output(name string) string {
	return filepath.Join(f.cfg.OutputDir, name)
}

func readReport(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	rows, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return rows
}

func filledValues(t *testing.T, path string) [][]string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	rows, err := docx.TableText(raw)
	require.NoError(t, err)
	return rows
}

var duplicateHeaderRow = []any{"Entité Bénéficiaire", "Dossier Advenir numéro", "Adresse", "Point de charge 1", "Point de charge 2", "Point de charge 3"}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t,
		duplicateHeaderRow,
		[]any{"Ville de Lyon", "ADV-42", "1 place Bellecour", "FR*ICE*E1", "FR*ICE*E2"},
		[]any{"Grenoble", "ADV-43", "", "", "", ""},
		[]any{"Annecy", "ADV-44", "", "FR*ICE*E3", "", "FR*ICE*E1"},
	)

	summary, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, f.registry.calls)
	assert.Equal(t, registry.Query{GeoCoordinatesResponseFormat: "Google", CountryCodes: []string{"FRA"}, ProviderID: "DE*ICE"}, f.registry.query)

	assert.Equal(t, &Summary{
		Records:   3,
		Skipped:   1,
		Rendered:  3,
		Unmatched: 1,
		Outputs: []string{
			f.output("Certificat Interoperabilite_ADV-42.pdf"),
			f.output("Certificat Interoperabilite_ADV-43.pdf"),
			f.output("Certificat Interoperabilite_ADV-44.pdf"),
		},
		Report: f.output("not_found_evses.csv"),
	}, summary)

	assert.Equal(t, [][]string{
		{"Opérateur", "Ville de Lyon"},
		{"Identifiant ADVENIR", "ADV-42"},
		{"Date", "15/10/2026"},
		{"Identifiant des points de recharge", "- FR*ICE*E1"},
		{"Signature", "Hubject"},
	}, filledValues(t, f.output("Certificat Interoperabilite_ADV-42.pdf")))
	assert.Equal(t, "", filledValues(t, f.output("Certificat Interoperabilite_ADV-43.pdf"))[3][1])
	assert.Equal(t, "- FR*ICE*E3\n- FR*ICE*E1", filledValues(t, f.output("Certificat Interoperabilite_ADV-44.pdf"))[3][1])

	// intermediates are removed once rendered
	matches, err := filepath.Glob(f.output("*.docx"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	assert.Equal(t, [][]string{
		{"Identifiant ADVENIR", "EvseID"},
		{"ADV-42", "FR*ICE*E2"},
	}, readReport(t, summary.Report))
}

func TestRun_SkipRecordsZeroKeepsFirstRow(t *testing.T) {
	f := newFixture(t,
		[]any{"Ville de Lyon", "ADV-42", "", "FR*ICE*E9"},
	)
	f.cfg.SkipRecords = 0

	summary, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, 0, summary.Skipped)
	assert.FileExists(t, f.output("Certificat Interoperabilite_ADV-42.pdf"))
	assert.Equal(t, [][]string{
		{"Identifiant ADVENIR", "EvseID"},
		{"ADV-42", "FR*ICE*E9"},
	}, readReport(t, summary.Report))
}

func TestRun_DefaultSkipDropsFirstRecord(t *testing.T) {
	f := newFixture(t,
		[]any{"Ville de Lyon", "ADV-42", "", "FR*ICE*E1"},
		[]any{"Grenoble", "ADV-43", "", "FR*ICE*E1"},
	)

	summary, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Records)
	assert.NoFileExists(t, f.output("Certificat Interoperabilite_ADV-42.pdf"))
	assert.FileExists(t, f.output("Certificat Interoperabilite_ADV-43.pdf"))
}

func TestRun_RegistryFailureAbortsBeforeOutput(t *testing.T) {
	f := newFixture(t,
		duplicateHeaderRow,
		[]any{"Ville de Lyon", "ADV-42", "", "FR*ICE*E1"},
	)
	f.registry.err = &certerrors.RegistryError{Endpoint: "https://registry", StatusCode: http.StatusForbidden, Body: "forbidden"}

	summary, err := f.run(t)

	require.Error(t, err)
	assert.Nil(t, summary)
	assert.True(t, certerrors.IsRegistryError(err))
	assert.Empty(t, f.renderer.rendered)
	assert.NoDirExists(t, f.cfg.OutputDir)
}

func TestRun_RenderFailureContinues(t *testing.T) {
	f := newFixture(t,
		duplicateHeaderRow,
		[]any{"Ville de Lyon", "ADV-42", "", "FR*ICE*E1"},
		[]any{"Grenoble", "ADV-43", "", "FR*ICE*E1"},
	)
	f.renderer.fail["ADV-42"] = true

	var logs []string
	summary, err := f.run(t, WithLog(func(msg string) { logs = append(logs, msg) }))
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, 1, summary.Rendered)
	assert.Equal(t, 1, summary.RenderFailures)
	// the failed record keeps its filled document
	assert.FileExists(t, f.output("Certificat Interoperabilite_ADV-42.docx"))
	assert.NoFileExists(t, f.output("Certificat Interoperabilite_ADV-42.pdf"))
	assert.FileExists(t, f.output("Certificat Interoperabilite_ADV-43.pdf"))
	assert.FileExists(t, summary.Report)

	joined := strings.Join(logs, "\n")
	assert.Contains(t, joined, "Rendering failed for ADV-42")
}

func TestRun_DuplicateGrantNumberOverwrites(t *testing.T) {
	f := newFixture(t,
		duplicateHeaderRow,
		[]any{"Ville de Lyon", "ADV-9", "", "FR*ICE*E1"},
		[]any{"Grenoble", "ADV-9", "", "FR*ICE*E3"},
	)

	summary, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Rendered)
	pdfs, err := filepath.Glob(f.output("*.pdf"))
	require.NoError(t, err)
	assert.Equal(t, []string{f.output("Certificat Interoperabilite_ADV-9.pdf")}, pdfs)

	rows := filledValues(t, pdfs[0])
	assert.Equal(t, "Grenoble", rows[0][1])
	assert.Equal(t, "- FR*ICE*E3", rows[3][1])
}

func TestRun_XLSXReport(t *testing.T) {
	f := newFixture(t,
		duplicateHeaderRow,
		[]any{"Ville de Lyon", "ADV-42", "", "FR*ICE*E2", "FR*ICE*E4"},
	)
	f.cfg.Report.Format = "xlsx"

	summary, err := f.run(t)
	require.NoError(t, err)
	assert.Equal(t, f.output("not_found_evses.xlsx"), summary.Report)

	xf, err := excelize.OpenFile(summary.Report)
	require.NoError(t, err)
	defer xf.Close()
	rows, err := xf.GetRows("EvseID")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Identifiant ADVENIR", "EvseID"},
		{"ADV-42", "FR*ICE*E2"},
		{"ADV-42", "FR*ICE*E4"},
	}, rows)
}

func TestRun_MissingColumnsFailBeforeRegistry(t *testing.T) {
	f := newFixture(t)
	exceltest.WriteSheet(t, f.artifacts.Spreadsheet, []string{"Nom", "Point de charge 1"}, []any{"Lyon", "E1"})

	_, err := f.run(t)

	assert.True(t, certerrors.IsConfigurationError(err))
	assert.Zero(t, f.registry.calls)
}

func TestRun_BlankRowsAreSkipped(t *testing.T) {
	f := newFixture(t,
		duplicateHeaderRow,
		[]any{"", "", "", ""},
		[]any{"Grenoble", "ADV-43", "", "FR*ICE*E1"},
	)

	summary, err := f.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Records)
	assert.Equal(t, 2, summary.Skipped)
}

func TestRun_Progress(t *testing.T) {
	f := newFixture(t,
		duplicateHeaderRow,
		[]any{"Ville de Lyon", "ADV-42", "", "FR*ICE*E1"},
		[]any{"Grenoble", "ADV-43", "", "FR*ICE*E1"},
	)

	var calls [][2]int
	_, err := f.run(t, WithProgress(func(current, total int, _ string) {
		calls = append(calls, [2]int{current, total})
	}))
	require.NoError(t, err)

	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, calls)
}

func TestRun_CanceledContext(t *testing.T) {
	f := newFixture(t,
		duplicateHeaderRow,
		[]any{"Ville de Lyon", "ADV-42", "", "FR*ICE*E1"},
	)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(f.cfg, f.artifacts, f.registry, f.renderer).Run(ctx)

	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, f.renderer.rendered)
}

func TestOutputBase(t *testing.T) {
	assert.Equal(t, "Certificat Interoperabilite_ADV-42", OutputBase("ADV-42"))
	assert.Equal(t, "Certificat Interoperabilite_2024_17", OutputBase("2024/17"))
}
