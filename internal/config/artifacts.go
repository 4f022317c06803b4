package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	certerrors "certgen/internal/errors"
)

// Artifacts are the input files of a run.
type Artifacts struct {
	Spreadsheet string
	Template    string
	CertFile    string
	KeyFile     string
}

type artifactKind struct {
	label string
	ext   string
}

var (
	kindSpreadsheet = artifactKind{"spreadsheet", ".xlsx"}
	kindTemplate    = artifactKind{"template", ".docx"}
	kindCert        = artifactKind{"certificate", ".crt"}
	kindKey         = artifactKind{"key", ".key"}
)

func (k artifactKind) String() string {
	return fmt.Sprintf("%s (*%s)", k.label, k.ext)
}

// Discover finds exactly one spreadsheet, template, certificate and key in
// dir. Office lock files (~$name, .~lock.name#) are ignored. Every kind that
// is missing or has several candidates is reported in a single
// ConfigurationError.
func Discover(dir string) (*Artifacts, error) {
	return discover(dir, true)
}

// DiscoverShared finds the template, certificate and key only, for runs
// whose spreadsheet is supplied separately.
func DiscoverShared(dir string) (*Artifacts, error) {
	return discover(dir, false)
}

func discover(dir string, withSpreadsheet bool) (*Artifacts, error) {
	var (
		a                  Artifacts
		missing, ambiguous []string
	)
	type target struct {
		kind artifactKind
		dst  *string
	}
	targets := []target{
		{kindTemplate, &a.Template},
		{kindCert, &a.CertFile},
		{kindKey, &a.KeyFile},
	}
	if withSpreadsheet {
		targets = append([]target{{kindSpreadsheet, &a.Spreadsheet}}, targets...)
	}
	for _, k := range targets {
		found, err := candidates(dir, k.kind.ext)
		if err != nil {
			return nil, err
		}
		switch len(found) {
		case 0:
			missing = append(missing, k.kind.String())
		case 1:
			*k.dst = found[0]
		default:
			names := make([]string, len(found))
			for i, f := range found {
				names[i] = filepath.Base(f)
			}
			ambiguous = append(ambiguous, fmt.Sprintf("%s: %s", k.kind, strings.Join(names, ", ")))
		}
	}

	if len(missing) > 0 || len(ambiguous) > 0 {
		return nil, &certerrors.ConfigurationError{
			Missing:   missing,
			Ambiguous: ambiguous,
			Message:   "in " + dir,
		}
	}
	return &a, nil
}

func candidates(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, certerrors.NewConfigurationError("reading input directory: %v", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), ext) {
			continue
		}
		if strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".~lock.") {
			continue
		}
		out = append(out, filepath.Join(dir, name))
	}
	sort.Strings(out)
	return out, nil
}
