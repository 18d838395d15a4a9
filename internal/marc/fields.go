package marc

import (
	"strings"
	"unicode"
)

// Well-known tags.
const (
	TagControlNumber = "001"
	TagFixedData     = "008"
	TagSystemNumber  = "035"
	TagAction        = "583"
	TagLocalNote     = "590"
	TagElectronicLoc = "856"
	TagLocalItem     = "999"
)

// Options controls record normalization.
type Options struct {
	// Barcode selects the 999 item field belonging to the package.
	Barcode string
	// LegacyPrefix marks 035 $a values that are dropped.
	LegacyPrefix string
	// CrossrefPrefix is prepended to the control number to form the
	// replacement 035 $a.
	CrossrefPrefix string
}

// Normalize prepares a freshly fetched record for a package: 999 fields
// belonging to other items are dropped, legacy 035 system numbers are
// removed, and one cross-reference 035 built from the control number is
// added.
func (r *Record) Normalize(opts Options) {
	barcode := strings.TrimSpace(opts.Barcode)
	legacy := strings.TrimSpace(opts.LegacyPrefix)
	r.Retain(func(df DataField) bool {
		switch df.Tag {
		case TagLocalItem:
			return barcode != "" && df.Value("i") == barcode
		case TagSystemNumber:
			if legacy == "" {
				return true
			}
			return !strings.HasPrefix(strings.TrimSpace(df.Value("a")), legacy)
		default:
			return true
		}
	})

	crossref := strings.TrimSpace(opts.CrossrefPrefix)
	id := strings.TrimSpace(r.CatalogID())
	if crossref == "" || id == "" {
		return
	}
	value := crossref + id
	for _, df := range r.Fields(TagSystemNumber) {
		for _, v := range df.Values("a") {
			if v == value {
				return
			}
		}
	}
	r.AddField(DataField{Tag: TagSystemNumber, Ind1: " ", Ind2: " ", Subfields: []Subfield{{Code: "a", Value: value}}})
}

// CatalogID returns the catalog system identifier (control field 001).
func (r *Record) CatalogID() string {
	return strings.TrimSpace(r.Control(TagControlNumber))
}

// FixedData returns control field 008.
func (r *Record) FixedData() string {
	return r.Control(TagFixedData)
}

// OCLC returns the digits of the first 035 $a that looks like an OCLC
// number, or "" when none does.
func (r *Record) OCLC() string {
	catalogID := r.CatalogID()
	for _, df := range r.Fields(TagSystemNumber) {
		for _, v := range df.Values("a") {
			isOCLC := strings.Contains(v, "(OCoLC)") || strings.Contains(v, "ocm") ||
				(strings.Contains(v, "ocn") && (catalogID == "" || !strings.Contains(v, catalogID)))
			if !isOCLC {
				continue
			}
			return digitsOnly(v)
		}
	}
	return ""
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) && r < 0x80 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Note returns the enumeration/chronology note ($a) of the 999 field whose
// $i equals barcode.
func (r *Record) Note(barcode string) (string, bool) {
	for _, df := range r.Fields(TagLocalItem) {
		if df.Value("i") != barcode {
			continue
		}
		if v, ok := df.Lookup("a"); ok && strings.TrimSpace(v) != "" {
			return v, true
		}
	}
	return "", false
}

// SetNote writes note into the 999 $a for barcode, adding the field when
// the record has none for that item.
func (r *Record) SetNote(barcode, note string) {
	for _, df := range r.Fields(TagLocalItem) {
		if df.Value("i") == barcode {
			df.Set("a", note)
			return
		}
	}
	r.AddField(DataField{
		Tag:  TagLocalItem,
		Ind1: " ",
		Ind2: " ",
		Subfields: []Subfield{
			{Code: "a", Value: note},
			{Code: "i", Value: barcode},
		},
	})
}

// RightsMarker returns 583 $x, the institution's rights statement.
func (r *Record) RightsMarker() string {
	return strings.TrimSpace(r.Value(TagAction, "x"))
}

// CaptureAgent returns 583 (first indicator 1) $5, the institution code
// that marked the volume for digitization. Its absence means rights were
// never reviewed.
func (r *Record) CaptureAgent() string {
	if df := r.Field(TagAction, "1", ""); df != nil {
		return strings.TrimSpace(df.Value("5"))
	}
	return ""
}

// MarkDigitized sets 583 (first indicator 1) $a to "digitized". It reports
// false when the record has no such field.
func (r *Record) MarkDigitized() bool {
	df := r.Field(TagAction, "1", "")
	if df == nil {
		return false
	}
	df.Set("a", "digitized")
	return true
}

// EnsureStatement adds a 590 (indicators 1,2) carrying statement unless any
// 590 already holds it, compared case-insensitively.
func (r *Record) EnsureStatement(statement string) bool {
	statement = strings.TrimSpace(statement)
	if statement == "" {
		return false
	}
	for _, df := range r.Fields(TagLocalNote) {
		for _, v := range df.Values("a") {
			if strings.EqualFold(strings.TrimSpace(v), statement) {
				return false
			}
		}
	}
	r.AddField(DataField{Tag: TagLocalNote, Ind1: "1", Ind2: "2", Subfields: []Subfield{{Code: "a", Value: statement}}})
	return true
}

// Link describes one 856 electronic location.
type Link struct {
	Note  string
	URL   string
	Label string
}

// ReplaceLinks removes every 856 whose $y equals label and adds one 856
// (indicators 4,1) per link.
func (r *Record) ReplaceLinks(label string, links []Link) {
	r.Retain(func(df DataField) bool {
		return df.Tag != TagElectronicLoc || df.Value("y") != label
	})
	for _, link := range links {
		field := DataField{Tag: TagElectronicLoc, Ind1: "4", Ind2: "1"}
		if note := strings.TrimSpace(link.Note); note != "" {
			field.Subfields = append(field.Subfields, Subfield{Code: "3", Value: note})
		}
		field.Subfields = append(field.Subfields, Subfield{Code: "u", Value: link.URL})
		field.Subfields = append(field.Subfields, Subfield{Code: "y", Value: label})
		r.AddField(field)
	}
}

// HasLink reports whether any 856 $u equals url, ignoring case.
func (r *Record) HasLink(url string) bool {
	for _, df := range r.Fields(TagElectronicLoc) {
		for _, v := range df.Values("u") {
			if strings.EqualFold(strings.TrimSpace(v), url) {
				return true
			}
		}
	}
	return false
}
