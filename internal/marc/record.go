package marc

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Namespace is the MARCXML slim namespace.
const Namespace = "http://www.loc.gov/MARC21/slim"

// ErrNoRecord is returned when a document holds no <record> element.
var ErrNoRecord = errors.New("marc: no record element")

// Subfield is one coded value inside a data field.
type Subfield struct {
	Code  string `xml:"code,attr"`
	Value string `xml:",chardata"`
}

// ControlField is a fixed-length field such as 001 or 008.
type ControlField struct {
	Tag   string `xml:"tag,attr"`
	Value string `xml:",chardata"`
}

// DataField is a repeatable field with two indicators and ordered subfields.
type DataField struct {
	Tag       string     `xml:"tag,attr"`
	Ind1      string     `xml:"ind1,attr"`
	Ind2      string     `xml:"ind2,attr"`
	Subfields []Subfield `xml:"subfield"`
}

// Record is a bibliographic record.
type Record struct {
	Leader        string
	ControlFields []ControlField
	DataFields    []DataField
}

type xmlRecord struct {
	XMLName       xml.Name
	Leader        string         `xml:"leader,omitempty"`
	ControlFields []ControlField `xml:"controlfield"`
	DataFields    []DataField    `xml:"datafield"`
}

// Parse reads the first <record> in data. Both bare records and
// <collection> wrappers are accepted, with or without the slim namespace.
// Text is normalized to NFC.
func Parse(data []byte) (*Record, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, ErrNoRecord
		}
		if err != nil {
			return nil, fmt.Errorf("marc: parse: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "record" {
			continue
		}
		var raw xmlRecord
		if err := dec.DecodeElement(&raw, &start); err != nil {
			return nil, fmt.Errorf("marc: decode record: %w", err)
		}
		return fromXML(raw), nil
	}
}

// ReadFile parses the record stored at path.
func ReadFile(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func fromXML(raw xmlRecord) *Record {
	rec := &Record{Leader: strings.TrimSpace(raw.Leader)}
	rec.ControlFields = make([]ControlField, 0, len(raw.ControlFields))
	for _, cf := range raw.ControlFields {
		rec.ControlFields = append(rec.ControlFields, ControlField{Tag: cf.Tag, Value: norm.NFC.String(cf.Value)})
	}
	rec.DataFields = make([]DataField, 0, len(raw.DataFields))
	for _, df := range raw.DataFields {
		field := DataField{Tag: df.Tag, Ind1: df.Ind1, Ind2: df.Ind2}
		for _, sf := range df.Subfields {
			field.Subfields = append(field.Subfields, Subfield{Code: sf.Code, Value: norm.NFC.String(sf.Value)})
		}
		rec.DataFields = append(rec.DataFields, field)
	}
	return rec
}

func (r *Record) toXML(namespace string) xmlRecord {
	return xmlRecord{
		XMLName:       xml.Name{Space: namespace, Local: "record"},
		Leader:        r.Leader,
		ControlFields: r.ControlFields,
		DataFields:    r.DataFields,
	}
}

// Marshal serializes the record as an indented MARCXML document whose root
// <record> carries the slim namespace.
func (r *Record) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r.toXML(Namespace)); err != nil {
		return nil, fmt.Errorf("marc: encode record: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteFile serializes the record to path.
func (r *Record) WriteFile(path string) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Collection serializes records inside one namespaced <collection> element.
// The member records carry no namespace of their own.
func Collection(records []*Record) ([]byte, error) {
	type collection struct {
		XMLName xml.Name
		Records []xmlRecord `xml:"record"`
	}
	doc := collection{XMLName: xml.Name{Space: Namespace, Local: "collection"}}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		doc.Records = append(doc.Records, rec.toXML(""))
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("marc: encode collection: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	out := &Record{Leader: r.Leader}
	out.ControlFields = append([]ControlField(nil), r.ControlFields...)
	out.DataFields = make([]DataField, 0, len(r.DataFields))
	for _, df := range r.DataFields {
		df.Subfields = append([]Subfield(nil), df.Subfields...)
		out.DataFields = append(out.DataFields, df)
	}
	return out
}

// Control returns the value of the first control field with tag.
func (r *Record) Control(tag string) string {
	for _, cf := range r.ControlFields {
		if cf.Tag == tag {
			return cf.Value
		}
	}
	return ""
}

// Fields returns pointers to every data field with tag, in record order.
// The pointers stay valid until the record's field list is next modified.
func (r *Record) Fields(tag string) []*DataField {
	var out []*DataField
	for i := range r.DataFields {
		if r.DataFields[i].Tag == tag {
			out = append(out, &r.DataFields[i])
		}
	}
	return out
}

// Field returns the first data field with tag and matching indicators. An
// empty indicator argument matches any value.
func (r *Record) Field(tag, ind1, ind2 string) *DataField {
	for i := range r.DataFields {
		df := &r.DataFields[i]
		if df.Tag != tag {
			continue
		}
		if ind1 != "" && df.Ind1 != ind1 {
			continue
		}
		if ind2 != "" && df.Ind2 != ind2 {
			continue
		}
		return df
	}
	return nil
}

// Value returns the first subfield code of the first field with tag that
// carries it.
func (r *Record) Value(tag, code string) string {
	for _, df := range r.Fields(tag) {
		if v, ok := df.Lookup(code); ok {
			return v
		}
	}
	return ""
}

// AddField inserts field after the last field whose tag sorts at or before
// its own, keeping the record in tag order.
func (r *Record) AddField(field DataField) {
	pos := len(r.DataFields)
	for i := len(r.DataFields) - 1; i >= 0; i-- {
		if r.DataFields[i].Tag <= field.Tag {
			pos = i + 1
			break
		}
		pos = i
	}
	r.DataFields = append(r.DataFields, DataField{})
	copy(r.DataFields[pos+1:], r.DataFields[pos:])
	r.DataFields[pos] = field
}

// Retain rebuilds the data field list keeping only fields for which keep
// returns true. It reports how many fields were dropped.
func (r *Record) Retain(keep func(DataField) bool) int {
	kept := make([]DataField, 0, len(r.DataFields))
	for _, df := range r.DataFields {
		if keep(df) {
			kept = append(kept, df)
		}
	}
	dropped := len(r.DataFields) - len(kept)
	r.DataFields = kept
	return dropped
}

// RemoveFields drops every data field carrying one of tags.
func (r *Record) RemoveFields(tags ...string) int {
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		set[strings.TrimSpace(tag)] = struct{}{}
	}
	return r.Retain(func(df DataField) bool {
		_, drop := set[df.Tag]
		return !drop
	})
}

// Lookup returns the first value for code.
func (f *DataField) Lookup(code string) (string, bool) {
	for _, sf := range f.Subfields {
		if sf.Code == code {
			return sf.Value, true
		}
	}
	return "", false
}

// Value returns the first value for code or "".
func (f *DataField) Value(code string) string {
	v, _ := f.Lookup(code)
	return v
}

// Values returns every value for code in order.
func (f *DataField) Values(code string) []string {
	var out []string
	for _, sf := range f.Subfields {
		if sf.Code == code {
			out = append(out, sf.Value)
		}
	}
	return out
}

// Set replaces the first subfield with code, appending one when absent.
func (f *DataField) Set(code, value string) {
	for i := range f.Subfields {
		if f.Subfields[i].Code == code {
			f.Subfields[i].Value = value
			return
		}
	}
	f.Subfields = append(f.Subfields, Subfield{Code: code, Value: value})
}
