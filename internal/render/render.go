// Package render converts filled documents to their distributable format.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	certerrors "certgen/internal/errors"
)

// DefaultBinary is the LibreOffice executable looked up on PATH.
const DefaultBinary = "soffice"

// DefaultFormat is the target format passed to --convert-to.
const DefaultFormat = "pdf"

// Renderer converts documentPath into a file inside outputDir and returns
// the produced path. A failed conversion is a *errors.RenderError.
type Renderer interface {
	Render(ctx context.Context, documentPath, outputDir string) (string, error)
}

// Soffice renders through a headless LibreOffice process, one process per
// document.
type Soffice struct {
	Binary string
	Format string
	Logger zerolog.Logger
}

// NewSoffice returns a Soffice with defaults for empty fields.
func NewSoffice(binary, format string, logger zerolog.Logger) *Soffice {
	if binary == "" {
		binary = DefaultBinary
	}
	if format == "" {
		format = DefaultFormat
	}
	return &Soffice{Binary: binary, Format: format, Logger: logger}
}

// Args returns the converter arguments for one document.
func (s *Soffice) Args(documentPath, outputDir string) []string {
	return []string{"--headless", "--convert-to", s.Format, "--outdir", outputDir, documentPath}
}

// Render runs the converter and blocks until it exits.
func (s *Soffice) Render(ctx context.Context, documentPath, outputDir string) (string, error) {
	cmd := exec.CommandContext(ctx, s.Binary, s.Args(documentPath, outputDir)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	s.Logger.Debug().Str("binary", s.Binary).Strs("args", cmd.Args[1:]).Msg("Starting converter")
	if err := cmd.Run(); err != nil {
		rerr := &certerrors.RenderError{
			Document: documentPath,
			Output:   strings.TrimSpace(out.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			rerr.ExitCode = exitErr.ExitCode()
		}
		return "", rerr
	}

	// soffice exits 0 when it cannot load the input, writing nothing.
	target := OutputPath(documentPath, outputDir, s.Format)
	if _, err := os.Stat(target); err != nil {
		return "", &certerrors.RenderError{
			Document: documentPath,
			Output:   strings.TrimSpace(out.String()),
			Err:      fmt.Errorf("converter produced no %s output", s.Format),
		}
	}
	return target, nil
}

// OutputPath is where the converter writes documentPath rendered as format.
func OutputPath(documentPath, outputDir, format string) string {
	base := strings.TrimSuffix(filepath.Base(documentPath), filepath.Ext(documentPath))
	return filepath.Join(outputDir, base+"."+format)
}
