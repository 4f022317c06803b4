// Package batch runs certificate generation end to end: one registry
// snapshot, then for every beneficiary record reconcile, fill, render and
// clean up, and finally the unmatched identifiers report.
package batch

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"certgen/internal/config"
	"certgen/internal/docx"
	certerrors "certgen/internal/errors"
	"certgen/internal/excel"
	"certgen/internal/models"
	"certgen/internal/reconcile"
	"certgen/internal/registry"
	"certgen/internal/render"
)

const (
	OutputPrefix = "Certificat Interoperabilite_"
	ReportName   = "not_found_evses"
	DateLayout   = "02/01/2006"
)

type ProgressCallback func(current, total int, msg string)
type LoggerCallback func(msg string)

// Registry fetches the registry snapshot.
type Registry interface {
	FetchKnownChargePoints(ctx context.Context, q registry.Query) ([]models.RegistryEntry, error)
}

// Summary describes a finished run.
type Summary struct {
	Records        int      `json:"records"`
	Skipped        int      `json:"skipped"`
	Rendered       int      `json:"rendered"`
	RenderFailures int      `json:"render_failures"`
	Unmatched      int      `json:"unmatched"`
	Outputs        []string `json:"outputs"`
	Report         string   `json:"report"`
}

// Driver runs one batch. It is not safe for concurrent use.
type Driver struct {
	cfg       *config.Config
	artifacts *config.Artifacts
	registry  Registry
	renderer  render.Renderer

	now        func() time.Time
	logger     zerolog.Logger
	onProgress ProgressCallback
	onLog      LoggerCallback
}

type Option func(*Driver)

func WithClock(now func() time.Time) Option {
	return func(d *Driver) { d.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithProgress reports (records done, records total) after each record.
func WithProgress(cb ProgressCallback) Option {
	return func(d *Driver) { d.onProgress = cb }
}

// WithLog mirrors the run's notable events as plain messages.
func WithLog(cb LoggerCallback) Option {
	return func(d *Driver) { d.onLog = cb }
}

func New(cfg *config.Config, artifacts *config.Artifacts, reg Registry, renderer render.Renderer, opts ...Option) *Driver {
	d := &Driver{
		cfg:       cfg,
		artifacts: artifacts,
		registry:  reg,
		renderer:  renderer,
		now:       time.Now,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query builds the registry payload from the configuration.
func Query(cfg *config.Config) registry.Query {
	return registry.Query{
		GeoCoordinatesResponseFormat: cfg.Registry.GeoFormat,
		CountryCodes:                 cfg.Registry.CountryCodes,
		ProviderID:                   cfg.Registry.ProviderID,
	}
}

// OutputBase is the file name, without extension, of a record's certificate.
// Path separators in the grant number are replaced so the file stays in the
// output directory.
func OutputBase(grantNumber string) string {
	safe := strings.NewReplacer("/", "_", `\`, "_").Replace(grantNumber)
	return OutputPrefix + safe
}

// Run executes the batch. Configuration and registry failures abort before
// any output is written. Render failures are logged and counted, the
// intermediate document is kept, and the run goes on. There is no rollback:
// outputs written before a fatal error stay in place.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()

	tmpl, err := docx.LoadTemplate(d.artifacts.Template)
	if err != nil {
		return nil, certerrors.NewConfigurationError("%v", err)
	}
	if len(tmpl.Labels()) == 0 {
		d.logger.Warn().Str("template", tmpl.Name()).Msg("Template has no recognised labels")
	}

	records, err := d.loadRecords()
	if err != nil {
		return nil, err
	}

	d.log(fmt.Sprintf("Querying registry for %s", strings.Join(d.cfg.Registry.CountryCodes, ", ")))
	entries, err := d.registry.FetchKnownChargePoints(ctx, Query(d.cfg))
	if err != nil {
		return nil, err
	}
	known := reconcile.NewKnownSet(entries)
	d.log(fmt.Sprintf("%d charge points known to the registry", len(known)))

	if err := os.MkdirAll(d.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	summary := &Summary{}
	skip := min(d.cfg.SkipRecords, len(records))
	summary.Skipped = skip
	eligible := records[skip:]

	var unmatched []models.UnmatchedEntry
	seen := make(map[string]int, len(eligible))

	for i, rec := range eligible {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if isBlank(rec) {
			summary.Skipped++
			continue
		}
		summary.Records++

		if prev, dup := seen[rec.GrantNumber]; dup {
			d.logger.Warn().Str("grant", rec.GrantNumber).Int("row", rec.Row).Int("previous_row", prev).
				Msg("Duplicate grant number, output will be overwritten")
		}
		seen[rec.GrantNumber] = rec.Row

		res := reconcile.Reconcile(rec, known)
		unmatched = append(unmatched, res.Unmatched...)

		out, err := d.processRecord(ctx, rec, res, tmpl)
		switch {
		case err == nil:
			summary.Rendered++
			summary.Outputs = append(summary.Outputs, out)
		case certerrors.IsRenderError(err) && ctx.Err() == nil:
			summary.RenderFailures++
			d.logger.Error().Err(err).Str("grant", rec.GrantNumber).Int("row", rec.Row).Msg("Rendering failed, keeping filled document")
			d.log(fmt.Sprintf("Rendering failed for %s: %v", rec.GrantNumber, err))
		default:
			return summary, err
		}

		if d.onProgress != nil {
			d.onProgress(i+1, len(eligible), "")
		}
	}

	summary.Unmatched = len(unmatched)
	report, err := d.writeReport(unmatched)
	if err != nil {
		return summary, err
	}
	summary.Report = report

	d.logger.Info().
		Int("records", summary.Records).
		Int("rendered", summary.Rendered).
		Int("render_failures", summary.RenderFailures).
		Int("unmatched", summary.Unmatched).
		Dur("elapsed", time.Since(start)).
		Msg("Batch complete")
	d.log(fmt.Sprintf("%d certificates rendered, %d unmatched identifiers", summary.Rendered, summary.Unmatched))
	return summary, nil
}

func (d *Driver) loadRecords() ([]models.InputRecord, error) {
	f, err := excel.OpenFile(d.artifacts.Spreadsheet)
	if err != nil {
		return nil, certerrors.NewConfigurationError("opening %s: %v", filepath.Base(d.artifacts.Spreadsheet), err)
	}
	defer f.Close()

	records, err := excel.ReadRecords(f, d.cfg.Sheet)
	if err != nil {
		return nil, err
	}
	d.log(fmt.Sprintf("%d rows read from %s", len(records), filepath.Base(d.artifacts.Spreadsheet)))
	return records, nil
}

// processRecord fills and renders one certificate. The intermediate .docx is
// removed only once rendering succeeded.
func (d *Driver) processRecord(ctx context.Context, rec models.InputRecord, res models.ReconciliationResult, tmpl *docx.Template) (string, error) {
	fields := models.CertificateFields{
		Beneficiary:    rec.Beneficiary,
		GrantNumber:    rec.GrantNumber,
		Date:           d.now().Format(DateLayout),
		ChargePointIDs: res.Confirmed,
	}

	filled, err := tmpl.Fill(fields)
	if err != nil {
		return "", fmt.Errorf("filling certificate for %s: %w", rec.GrantNumber, err)
	}

	docPath := filepath.Join(d.cfg.OutputDir, OutputBase(rec.GrantNumber)+".docx")
	if err := os.WriteFile(docPath, filled, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", docPath, err)
	}

	out, err := d.renderer.Render(ctx, docPath, d.cfg.OutputDir)
	if err != nil {
		return "", err
	}
	if err := os.Remove(docPath); err != nil {
		d.logger.Warn().Err(err).Str("path", docPath).Msg("Could not remove filled document")
	}

	d.logger.Info().
		Str("grant", rec.GrantNumber).
		Int("row", rec.Row).
		Int("confirmed", len(res.Confirmed)).
		Int("unmatched", len(res.Unmatched)).
		Str("output", filepath.Base(out)).
		Msg("Certificate rendered")
	return out, nil
}

// writeReport writes the unmatched identifiers, header included even when
// there are none.
func (d *Driver) writeReport(unmatched []models.UnmatchedEntry) (string, error) {
	if d.cfg.Report.Format == "xlsx" {
		path := filepath.Join(d.cfg.OutputDir, ReportName+".xlsx")
		if err := excel.WriteUnmatched(path, unmatched, "EvseID"); err != nil {
			return "", fmt.Errorf("writing report: %w", err)
		}
		return path, nil
	}

	path := filepath.Join(d.cfg.OutputDir, ReportName+".csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(excel.ReportHeaders); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	for _, u := range unmatched {
		if err := w.Write([]string{u.GrantNumber, u.EvseID}); err != nil {
			return "", fmt.Errorf("writing report: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}
	return path, f.Close()
}

func (d *Driver) log(msg string) {
	d.logger.Debug().Msg(msg)
	if d.onLog != nil {
		d.onLog(msg)
	}
}

func isBlank(rec models.InputRecord) bool {
	return rec.Beneficiary == "" && rec.GrantNumber == "" && len(rec.ChargePointIDs) == 0
}
