package docx

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// span is a byte range [start, end) of document.xml.
type span struct {
	start, end int64
}

func (s span) valid() bool { return s.end > s.start }

// cell is one w:tc of a top-level table, located by byte offsets so it can
// be rewritten without re-encoding the rest of the document.
type cell struct {
	start      int64 // '<' of the start tag
	tagEnd     int64 // just past the start tag
	end        int64 // just past the end tag
	prefix     string
	tcPr       span
	pPr        span // properties of the first paragraph
	rPr        span // properties of the first run of the first paragraph
	runSeen    bool
	paragraphs []string
}

func (c *cell) text() string {
	return strings.Join(c.paragraphs, "\n")
}

func (c *cell) appendText(s string) {
	if len(c.paragraphs) == 0 {
		return
	}
	c.paragraphs[len(c.paragraphs)-1] += s
}

// scanTables returns the rows of every table that is a direct child of
// w:body, in document order. Nested tables are part of their cell and are
// not scanned.
func scanTables(doc []byte) ([][]*cell, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))

	var (
		rows  [][]*cell
		stack []xml.Name
		cur   *cell

		tblDepth, trDepth, cellDepth  int
		tcPrDepth, pDepth, pPrDepth   int
		rDepth, rPrDepth, tDepth      int
		tcPrStart, pPrStart, rPrStart int64
	)

	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing document.xml: %w", err)
		}
		after := dec.InputOffset()

		switch el := tok.(type) {
		case xml.StartElement:
			parent := len(stack)
			var parentName xml.Name
			if parent > 0 {
				parentName = stack[parent-1]
			}
			stack = append(stack, el.Name)
			depth := len(stack)
			if el.Name.Space != wordNS {
				continue
			}

			switch el.Name.Local {
			case "tbl":
				if tblDepth == 0 && parentName.Space == wordNS && parentName.Local == "body" {
					tblDepth = depth
				}
			case "tr":
				if tblDepth != 0 && parent == tblDepth {
					trDepth = depth
					rows = append(rows, nil)
				}
			case "tc":
				if trDepth != 0 && parent == trDepth {
					cellDepth = depth
					cur = &cell{start: before, tagEnd: after, prefix: tagPrefix(doc[before:after])}
				}
			case "tcPr":
				if cur != nil && parent == cellDepth {
					tcPrDepth, tcPrStart = depth, before
				}
			case "p":
				if cur != nil && parent == cellDepth {
					pDepth = depth
					cur.paragraphs = append(cur.paragraphs, "")
				}
			case "pPr":
				if pDepth != 0 && parent == pDepth && len(cur.paragraphs) == 1 {
					pPrDepth, pPrStart = depth, before
				}
			case "r":
				if pDepth != 0 && len(cur.paragraphs) == 1 && !cur.runSeen {
					rDepth = depth
					cur.runSeen = true
				}
			case "rPr":
				if rDepth != 0 && parent == rDepth {
					rPrDepth, rPrStart = depth, before
				}
			case "t":
				if pDepth != 0 {
					tDepth = depth
				}
			case "tab":
				if pDepth != 0 && parentName.Local == "r" {
					cur.appendText("\t")
				}
			case "br", "cr":
				if pDepth != 0 && parentName.Local == "r" {
					cur.appendText("\n")
				}
			}

		case xml.EndElement:
			depth := len(stack)
			switch depth {
			case tDepth:
				tDepth = 0
			case rPrDepth:
				cur.rPr = span{rPrStart, after}
				rPrDepth = 0
			case rDepth:
				rDepth = 0
			case pPrDepth:
				cur.pPr = span{pPrStart, after}
				pPrDepth = 0
			case pDepth:
				pDepth = 0
			case tcPrDepth:
				cur.tcPr = span{tcPrStart, after}
				tcPrDepth = 0
			case cellDepth:
				cur.end = after
				rows[len(rows)-1] = append(rows[len(rows)-1], cur)
				cur = nil
				cellDepth = 0
			case trDepth:
				trDepth = 0
			case tblDepth:
				tblDepth = 0
			}
			if depth > 0 {
				stack = stack[:depth-1]
			}

		case xml.CharData:
			if tDepth != 0 && cur != nil {
				cur.appendText(string(el))
			}
		}
	}
	return rows, nil
}

// tagPrefix extracts "w:" from a raw start tag such as `<w:tc w:rsid="1">`.
func tagPrefix(raw []byte) string {
	name := bytes.TrimPrefix(raw, []byte("<"))
	if i := bytes.IndexAny(name, " \t\r\n/>"); i >= 0 {
		name = name[:i]
	}
	if i := bytes.IndexByte(name, ':'); i >= 0 {
		return string(name[:i+1])
	}
	return ""
}
