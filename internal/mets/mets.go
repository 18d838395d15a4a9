// Package mets reads the structural-metadata manifest (METS with MIX
// technical metadata) shipped in each package.
package mets

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Namespace is the METS document namespace.
const Namespace = "http://www.loc.gov/METS/"

// Technical metadata ID prefixes that mark image entries.
const (
	PrefixTIFF = "AMD_TECHMD_TIF"
	PrefixJPEG = "AMD_TECHMD_JPG"
	PrefixJP2  = "AMD_TECHMD_JP2"
)

// Document is a parsed manifest.
type Document struct {
	Root      xml.Name
	Files     []File
	TechMD    []TechMD
	StructMap []string
	hasStruct bool
}

// File is one fileSec entry.
type File struct {
	ID       string
	Group    string
	MimeType string
	Href     string
	AdmIDs   []string
}

// TechMD is one technical metadata block: the referenced file, its recorded
// size and format, and its expected MD5 checksum.
type TechMD struct {
	ID       string
	Href     string
	Size     int64
	Format   string
	Checksum string
}

// IsImage reports whether the entry describes an image file.
func (t TechMD) IsImage() bool {
	for _, prefix := range []string{PrefixTIFF, PrefixJPEG, PrefixJP2} {
		if strings.HasPrefix(t.ID, prefix) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(t.Href), ".tif")
}

type xmlMets struct {
	XMLName    xml.Name
	AmdSecs    []xmlAmdSec    `xml:"amdSec"`
	FileGrps   []xmlFileGrp   `xml:"fileSec>fileGrp"`
	StructMaps []xmlStructMap `xml:"structMap"`
}

type xmlAmdSec struct {
	TechMD []xmlTechMD `xml:"techMD"`
}

type xmlTechMD struct {
	ID  string `xml:"ID,attr"`
	Mix struct {
		Href   string `xml:"BasicDigitalObjectInformation>ObjectIdentifier>objectIdentifierValue"`
		Size   string `xml:"BasicDigitalObjectInformation>fileSize"`
		Format string `xml:"BasicDigitalObjectInformation>FormatDesignation>formatName"`
		Digest string `xml:"BasicDigitalObjectInformation>Fixity>messageDigest"`
	} `xml:"mdWrap>xmlData>mix"`
}

type xmlFileGrp struct {
	ID    string    `xml:"ID,attr"`
	Use   string    `xml:"USE,attr"`
	Files []xmlFile `xml:"file"`
}

type xmlFile struct {
	ID       string `xml:"ID,attr"`
	MimeType string `xml:"MIMETYPE,attr"`
	AdmID    string `xml:"ADMID,attr"`
	FLocat   struct {
		Href string `xml:"href,attr"`
	} `xml:"FLocat"`
}

type xmlStructMap struct {
	Divs []xmlDiv `xml:"div"`
}

type xmlDiv struct {
	Fptrs []struct {
		FileID string `xml:"FILEID,attr"`
	} `xml:"fptr"`
	Divs []xmlDiv `xml:"div"`
}

// Parse decodes a manifest. It fails only when the document is not
// well-formed XML; structural problems are reported by Validate.
func Parse(data []byte) (*Document, error) {
	var raw xmlMets
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("mets: parse: %w", err)
	}
	doc := &Document{Root: raw.XMLName, hasStruct: len(raw.StructMaps) > 0}
	for _, amd := range raw.AmdSecs {
		for _, tm := range amd.TechMD {
			entry := TechMD{
				ID:       strings.TrimSpace(tm.ID),
				Href:     strings.TrimSpace(tm.Mix.Href),
				Format:   strings.TrimSpace(tm.Mix.Format),
				Checksum: strings.ToLower(strings.TrimSpace(tm.Mix.Digest)),
			}
			if size, err := strconv.ParseInt(strings.TrimSpace(tm.Mix.Size), 10, 64); err == nil {
				entry.Size = size
			}
			doc.TechMD = append(doc.TechMD, entry)
		}
	}
	for _, grp := range raw.FileGrps {
		group := grp.ID
		if group == "" {
			group = grp.Use
		}
		for _, f := range grp.Files {
			doc.Files = append(doc.Files, File{
				ID:       strings.TrimSpace(f.ID),
				Group:    group,
				MimeType: f.MimeType,
				Href:     strings.TrimSpace(f.FLocat.Href),
				AdmIDs:   strings.Fields(f.AdmID),
			})
		}
	}
	for _, sm := range raw.StructMaps {
		doc.StructMap = collectPointers(doc.StructMap, sm.Divs)
	}
	return doc, nil
}

func collectPointers(dst []string, divs []xmlDiv) []string {
	for _, div := range divs {
		for _, ptr := range div.Fptrs {
			dst = append(dst, strings.TrimSpace(ptr.FileID))
		}
		dst = collectPointers(dst, div.Divs)
	}
	return dst
}

// ReadFile parses the manifest stored at path.
func ReadFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Validate checks the document's structure: a METS root, a structMap, at
// least one located file, unique identifiers, and resolvable ADMID/FILEID
// references. All problems are returned joined.
func (d *Document) Validate() error {
	var problems []error
	if d.Root.Space != Namespace || d.Root.Local != "mets" {
		problems = append(problems, fmt.Errorf("root element is {%s}%s, want {%s}mets", d.Root.Space, d.Root.Local, Namespace))
	}
	if !d.hasStruct {
		problems = append(problems, errors.New("structMap is missing"))
	}
	if len(d.Files) == 0 {
		problems = append(problems, errors.New("fileSec lists no files"))
	}

	ids := make(map[string]string)
	claim := func(id, kind string) {
		if id == "" {
			problems = append(problems, fmt.Errorf("%s without ID", kind))
			return
		}
		if prev, ok := ids[id]; ok {
			problems = append(problems, fmt.Errorf("duplicate ID %q (%s and %s)", id, prev, kind))
			return
		}
		ids[id] = kind
	}
	for _, tm := range d.TechMD {
		claim(tm.ID, "techMD")
	}
	for _, f := range d.Files {
		claim(f.ID, "file")
		if f.Href == "" {
			problems = append(problems, fmt.Errorf("file %q has no FLocat href", f.ID))
		}
		for _, ref := range f.AdmIDs {
			if ids[ref] != "techMD" {
				problems = append(problems, fmt.Errorf("file %q references unknown ADMID %q", f.ID, ref))
			}
		}
	}
	for _, ref := range d.StructMap {
		if ids[ref] != "file" {
			problems = append(problems, fmt.Errorf("structMap references unknown FILEID %q", ref))
		}
	}
	return errors.Join(problems...)
}

// ImageEntries returns the technical metadata entries that describe images.
func (d *Document) ImageEntries() []TechMD {
	var out []TechMD
	for _, tm := range d.TechMD {
		if tm.IsImage() {
			out = append(out, tm)
		}
	}
	return out
}

// FilesInGroup returns the fileSec entries of one group (TIFF, JPEG, ALTO).
func (d *Document) FilesInGroup(group string) []File {
	var out []File
	for _, f := range d.Files {
		if strings.EqualFold(f.Group, group) {
			out = append(out, f)
		}
	}
	return out
}
