package testsupport

import (
	"fmt"
	"strings"
)

// METSFile describes one page's files in a fixture manifest. Hrefs are
// relative to the METS directory.
type METSFile struct {
	Seq      string
	TIFFHref string
	TIFFMD5  string
	TIFFSize int64
	ALTOHref string
}

// METSXML renders a structurally valid METS manifest with MIX technical
// metadata for each TIFF.
func METSXML(files []METSFile) []byte {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<mets:mets xmlns:mets="http://www.loc.gov/METS/" xmlns:mix="http://www.loc.gov/mix/v20" xmlns:xlink="http://www.w3.org/1999/xlink">` + "\n")
	b.WriteString(`  <mets:amdSec ID="AMD">` + "\n")
	for _, f := range files {
		fmt.Fprintf(&b, `    <mets:techMD ID="AMD_TECHMD_TIF%s">
      <mets:mdWrap MDTYPE="NISOIMG">
        <mets:xmlData>
          <mix:mix>
            <mix:BasicDigitalObjectInformation>
              <mix:ObjectIdentifier>
                <mix:objectIdentifierType>local</mix:objectIdentifierType>
                <mix:objectIdentifierValue>%s</mix:objectIdentifierValue>
              </mix:ObjectIdentifier>
              <mix:fileSize>%d</mix:fileSize>
              <mix:FormatDesignation>
                <mix:formatName>image/tiff</mix:formatName>
              </mix:FormatDesignation>
              <mix:Fixity>
                <mix:messageDigestAlgorithm>MD5</mix:messageDigestAlgorithm>
                <mix:messageDigest>%s</mix:messageDigest>
              </mix:Fixity>
            </mix:BasicDigitalObjectInformation>
          </mix:mix>
        </mets:xmlData>
      </mets:mdWrap>
    </mets:techMD>
`, f.Seq, f.TIFFHref, f.TIFFSize, f.TIFFMD5)
	}
	b.WriteString("  </mets:amdSec>\n  <mets:fileSec>\n")
	b.WriteString(`    <mets:fileGrp ID="TIFF" USE="image">` + "\n")
	for _, f := range files {
		fmt.Fprintf(&b, `      <mets:file ID="TIF%s" MIMETYPE="image/tiff" ADMID="AMD_TECHMD_TIF%s"><mets:FLocat LOCTYPE="URL" xlink:href="%s"/></mets:file>`+"\n", f.Seq, f.Seq, f.TIFFHref)
	}
	b.WriteString("    </mets:fileGrp>\n")
	b.WriteString(`    <mets:fileGrp ID="ALTO" USE="ocr">` + "\n")
	for _, f := range files {
		if f.ALTOHref == "" {
			continue
		}
		fmt.Fprintf(&b, `      <mets:file ID="ALTO%s" MIMETYPE="text/xml"><mets:FLocat LOCTYPE="URL" xlink:href="%s"/></mets:file>`+"\n", f.Seq, f.ALTOHref)
	}
	b.WriteString("    </mets:fileGrp>\n  </mets:fileSec>\n")
	b.WriteString(`  <mets:structMap TYPE="physical">` + "\n")
	b.WriteString(`    <mets:div TYPE="volume">` + "\n")
	for i, f := range files {
		fmt.Fprintf(&b, `      <mets:div TYPE="page" ORDER="%d"><mets:fptr FILEID="TIF%s"/>`, i+1, f.Seq)
		if f.ALTOHref != "" {
			fmt.Fprintf(&b, `<mets:fptr FILEID="ALTO%s"/>`, f.Seq)
		}
		b.WriteString("</mets:div>\n")
	}
	b.WriteString("    </mets:div>\n  </mets:structMap>\n</mets:mets>\n")
	return []byte(b.String())
}
