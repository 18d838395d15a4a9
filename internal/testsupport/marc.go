package testsupport

import (
	"fmt"
	"html"
	"strings"
)

// MARCItem is one 999 item field.
type MARCItem struct {
	Barcode string
	Note    string
}

// MARCOptions describes a fixture bibliographic record.
type MARCOptions struct {
	ControlNumber string
	Fixed         string
	RightsMarker  string
	CaptureAgent  string
	OCLC          string
	LegacyNumber  string
	Items         []MARCItem
	// ExtraFields is raw datafield XML appended before the item fields.
	ExtraFields string
}

// DefaultMARC returns a public-domain record published in 1900 carrying an
// item field for barcode plus one for an unrelated volume.
func DefaultMARC(barcode string) MARCOptions {
	return MARCOptions{
		ControlNumber: "000116142",
		Fixed:         "111220s1900    gaua          000 0 eng d",
		RightsMarker:  "public domain",
		CaptureAgent:  "GEU",
		OCLC:          "12345",
		LegacyNumber:  "000116142",
		Items: []MARCItem{
			{Barcode: barcode, Note: "v.1"},
			{Barcode: "010009999999", Note: "v.9"},
		},
	}
}

// MARCXML renders opts as a namespaced MARCXML record.
func MARCXML(opts MARCOptions) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<record xmlns="http://www.loc.gov/MARC21/slim">` + "\n")
	b.WriteString("  <leader>00000cam a2200000 a 4500</leader>\n")
	if opts.ControlNumber != "" {
		fmt.Fprintf(&b, "  <controlfield tag=\"001\">%s</controlfield>\n", html.EscapeString(opts.ControlNumber))
	}
	if opts.Fixed != "" {
		fmt.Fprintf(&b, "  <controlfield tag=\"008\">%s</controlfield>\n", html.EscapeString(opts.Fixed))
	}
	if opts.OCLC != "" {
		writeDataField(&b, "035", " ", " ", "a", "(OCoLC)"+opts.OCLC)
	}
	if opts.LegacyNumber != "" {
		writeDataField(&b, "035", " ", " ", "a", "(Aleph)"+opts.LegacyNumber)
	}
	writeDataField(&b, "245", "1", "0", "a", "A fixture title")
	if opts.RightsMarker != "" || opts.CaptureAgent != "" {
		b.WriteString(`  <datafield tag="583" ind1="1" ind2=" ">` + "\n")
		b.WriteString(`    <subfield code="a">selected for digitization</subfield>` + "\n")
		if opts.RightsMarker != "" {
			fmt.Fprintf(&b, "    <subfield code=\"x\">%s</subfield>\n", html.EscapeString(opts.RightsMarker))
		}
		if opts.CaptureAgent != "" {
			fmt.Fprintf(&b, "    <subfield code=\"5\">%s</subfield>\n", html.EscapeString(opts.CaptureAgent))
		}
		b.WriteString("  </datafield>\n")
	}
	b.WriteString(opts.ExtraFields)
	for _, item := range opts.Items {
		b.WriteString(`  <datafield tag="999" ind1=" " ind2=" ">` + "\n")
		if item.Note != "" {
			fmt.Fprintf(&b, "    <subfield code=\"a\">%s</subfield>\n", html.EscapeString(item.Note))
		}
		fmt.Fprintf(&b, "    <subfield code=\"i\">%s</subfield>\n", html.EscapeString(item.Barcode))
		b.WriteString("  </datafield>\n")
	}
	b.WriteString("</record>\n")
	return []byte(b.String())
}

func writeDataField(b *strings.Builder, tag, ind1, ind2, code, value string) {
	fmt.Fprintf(b, "  <datafield tag=%q ind1=%q ind2=%q>\n", tag, ind1, ind2)
	fmt.Fprintf(b, "    <subfield code=%q>%s</subfield>\n", code, html.EscapeString(value))
	b.WriteString("  </datafield>\n")
}
