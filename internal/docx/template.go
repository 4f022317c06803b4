// Package docx fills certificate templates. A template is a Word document
// whose tables hold label cells followed by value cells; filling writes the
// record's values into the value cells and leaves every other byte of the
// package as it was.
package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"certgen/internal/models"
)

// Labels recognised in the template tables.
const (
	LabelOperator     = "Opérateur"
	LabelGrantNumber  = "Identifiant ADVENIR"
	LabelDate         = "Date"
	LabelChargePoints = "Identifiant des points de recharge"
)

const documentPart = "word/document.xml"

// Template is a parsed certificate template. It is read-only: Fill never
// modifies it, so one Template serves every record of a run.
type Template struct {
	name     string
	zr       *zip.Reader
	docIndex int
	document []byte
	rows     [][]*cell
}

// LoadTemplate reads and parses a .docx file.
func LoadTemplate(path string) (*Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}
	return ParseTemplate(filepath.Base(path), raw)
}

// ParseTemplate parses a .docx held in memory. raw is copied.
func ParseTemplate(name string, raw []byte) (*Template, error) {
	raw = bytes.Clone(raw)
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("template %s is not a docx package: %w", name, err)
	}

	t := &Template{name: name, zr: zr, docIndex: -1}
	for i, f := range zr.File {
		if f.Name != documentPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", documentPart, err)
		}
		t.document, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", documentPart, err)
		}
		t.docIndex = i
		break
	}
	if t.docIndex < 0 {
		return nil, fmt.Errorf("template %s has no %s", name, documentPart)
	}

	if t.rows, err = scanTables(t.document); err != nil {
		return nil, fmt.Errorf("template %s: %w", name, err)
	}
	return t, nil
}

// Name returns the template file name.
func (t *Template) Name() string { return t.name }

// Labels returns the recognised labels present in the template, in
// document order. A label in the last cell of a row has no value cell and is
// not reported.
func (t *Template) Labels() []string {
	var labels []string
	for _, row := range t.rows {
		for i := 0; i < len(row)-1; i++ {
			if _, ok := labelValue(strings.TrimSpace(row[i].text()), models.CertificateFields{}); ok {
				labels = append(labels, strings.TrimSpace(row[i].text()))
			}
		}
	}
	return labels
}

// Fill returns a new .docx with the value cell after each recognised label
// replaced by the matching field. Cells are matched on the template's own
// text, so a value written into a cell is never read back as a label.
func (t *Template) Fill(fields models.CertificateFields) ([]byte, error) {
	doc, err := t.fillDocument(fields)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for i, f := range t.zr.File {
		if i != t.docIndex {
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("copying %s: %w", f.Name, err)
			}
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate, Modified: f.Modified})
		if err != nil {
			return nil, fmt.Errorf("writing %s: %w", f.Name, err)
		}
		if _, err := w.Write(doc); err != nil {
			return nil, fmt.Errorf("writing %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalising docx: %w", err)
	}
	return out.Bytes(), nil
}

func (t *Template) fillDocument(fields models.CertificateFields) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(t.document))

	var last int64
	for _, row := range t.rows {
		for i := 0; i < len(row)-1; i++ {
			value, ok := labelValue(strings.TrimSpace(row[i].text()), fields)
			if !ok {
				continue
			}
			target := row[i+1]
			out.Write(t.document[last:target.start])
			if err := target.writeReplacement(&out, t.document, value); err != nil {
				return nil, err
			}
			last = target.end
		}
	}
	out.Write(t.document[last:])
	return out.Bytes(), nil
}

func labelValue(label string, f models.CertificateFields) (string, bool) {
	switch label {
	case LabelOperator:
		return f.Beneficiary, true
	case LabelGrantNumber:
		return f.GrantNumber, true
	case LabelDate:
		return f.Date, true
	case LabelChargePoints:
		return FormatChargePoints(f.ChargePointIDs), true
	}
	return "", false
}

// FormatChargePoints renders identifiers as a "- " bulleted list, one per
// line. No identifiers give an empty string.
func FormatChargePoints(ids []string) string {
	lines := make([]string, len(ids))
	for i, id := range ids {
		lines[i] = "- " + id
	}
	return strings.Join(lines, "\n")
}

// writeReplacement writes the cell with its content replaced by a single
// paragraph holding value. Cell, first paragraph and first run properties
// are kept.
func (c *cell) writeReplacement(b *bytes.Buffer, doc []byte, value string) error {
	p := c.prefix
	if c.end == c.tagEnd {
		// self-closing <w:tc/>
		raw := bytes.TrimRight(doc[c.start:c.tagEnd], " \t\r\n")
		raw = bytes.TrimSuffix(raw, []byte("/>"))
		b.Write(raw)
		b.WriteByte('>')
	} else {
		b.Write(doc[c.start:c.tagEnd])
	}
	if c.tcPr.valid() {
		b.Write(doc[c.tcPr.start:c.tcPr.end])
	}

	b.WriteString("<" + p + "p>")
	if c.pPr.valid() {
		b.Write(doc[c.pPr.start:c.pPr.end])
	}
	if value != "" {
		b.WriteString("<" + p + "r>")
		if c.rPr.valid() {
			b.Write(doc[c.rPr.start:c.rPr.end])
		}
		if err := writeRunText(b, p, value); err != nil {
			return err
		}
		b.WriteString("</" + p + "r>")
	}
	b.WriteString("</" + p + "p>")
	b.WriteString("</" + p + "tc>")
	return nil
}

// writeRunText writes value as run content; newlines become w:br and tabs
// become w:tab.
func writeRunText(b *bytes.Buffer, p, value string) error {
	for i, line := range strings.Split(value, "\n") {
		if i > 0 {
			b.WriteString("<" + p + "br/>")
		}
		for j, seg := range strings.Split(line, "\t") {
			if j > 0 {
				b.WriteString("<" + p + "tab/>")
			}
			if seg == "" {
				continue
			}
			b.WriteString("<" + p + `t xml:space="preserve">`)
			if err := xml.EscapeText(b, []byte(seg)); err != nil {
				return err
			}
			b.WriteString("</" + p + "t>")
		}
	}
	return nil
}

// TableText returns the cell texts of every top-level table row of a .docx.
func TableText(raw []byte) ([][]string, error) {
	t, err := ParseTemplate("document", raw)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, len(t.rows))
	for i, row := range t.rows {
		for _, c := range row {
			rows[i] = append(rows[i], c.text())
		}
	}
	return rows, nil
}
