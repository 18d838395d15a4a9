package testsupport

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

// TIFFOptions lists the baseline tags written into a fixture image. Zero
// numeric values and empty strings omit the tag.
type TIFFOptions struct {
	Width           uint32
	Length          uint32
	BitsPerSample   []uint16
	Compression     uint16
	Photometric     uint16
	SamplesPerPixel uint16
	Orientation     uint16
	ResolutionUnit  uint16
	XResolution     uint32
	YResolution     uint32
	Make            string
	Model           string
	DateTime        string
}

// BitonalTIFF returns tags for a valid 600 dpi group-4 bitonal page.
func BitonalTIFF() TIFFOptions {
	return TIFFOptions{
		Width:           2400,
		Length:          3600,
		BitsPerSample:   []uint16{1},
		Compression:     4,
		Photometric:     0,
		SamplesPerPixel: 1,
		Orientation:     1,
		ResolutionUnit:  2,
		XResolution:     600,
		YResolution:     600,
		Make:            "Kirtas",
		Model:           "APT 2400",
		DateTime:        "2015:06:01 10:00:00",
	}
}

// ColorTIFF returns tags for a valid 300 dpi uncompressed RGB page.
func ColorTIFF() TIFFOptions {
	return TIFFOptions{
		Width:           1200,
		Length:          1800,
		BitsPerSample:   []uint16{8, 8, 8},
		Compression:     1,
		Photometric:     2,
		SamplesPerPixel: 3,
		Orientation:     1,
		ResolutionUnit:  2,
		XResolution:     300,
		YResolution:     300,
		Make:            "Kirtas",
		Model:           "APT 2400",
		DateTime:        "2015:06:01 10:00:00",
	}
}

// WriteTIFF writes a little-endian TIFF holding only an IFD built from opts.
func WriteTIFF(t testing.TB, path string, opts TIFFOptions) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, TIFFBytes(opts), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

const (
	tiffASCII    = 2
	tiffShort    = 3
	tiffLong     = 4
	tiffRational = 5
)

type ifdEntry struct {
	tag     uint16
	typ     uint16
	count   uint32
	payload []byte
}

// TIFFBytes encodes opts as a TIFF file.
func TIFFBytes(opts TIFFOptions) []byte {
	le := binary.LittleEndian
	var entries []ifdEntry
	short := func(tag uint16, values ...uint16) {
		buf := make([]byte, 2*len(values))
		for i, v := range values {
			le.PutUint16(buf[2*i:], v)
		}
		entries = append(entries, ifdEntry{tag: tag, typ: tiffShort, count: uint32(len(values)), payload: buf})
	}
	long := func(tag uint16, v uint32) {
		buf := make([]byte, 4)
		le.PutUint32(buf, v)
		entries = append(entries, ifdEntry{tag: tag, typ: tiffLong, count: 1, payload: buf})
	}
	rational := func(tag uint16, num uint32) {
		buf := make([]byte, 8)
		le.PutUint32(buf, num)
		le.PutUint32(buf[4:], 1)
		entries = append(entries, ifdEntry{tag: tag, typ: tiffRational, count: 1, payload: buf})
	}
	ascii := func(tag uint16, s string) {
		buf := append([]byte(s), 0)
		entries = append(entries, ifdEntry{tag: tag, typ: tiffASCII, count: uint32(len(buf)), payload: buf})
	}

	if opts.Width > 0 {
		long(256, opts.Width)
	}
	if opts.Length > 0 {
		long(257, opts.Length)
	}
	if len(opts.BitsPerSample) > 0 {
		short(258, opts.BitsPerSample...)
	}
	if opts.Compression > 0 {
		short(259, opts.Compression)
	}
	short(262, opts.Photometric)
	if opts.Make != "" {
		ascii(271, opts.Make)
	}
	if opts.Model != "" {
		ascii(272, opts.Model)
	}
	if opts.Orientation > 0 {
		short(274, opts.Orientation)
	}
	if opts.SamplesPerPixel > 0 {
		short(277, opts.SamplesPerPixel)
	}
	if opts.XResolution > 0 {
		rational(282, opts.XResolution)
	}
	if opts.YResolution > 0 {
		rational(283, opts.YResolution)
	}
	if opts.ResolutionUnit > 0 {
		short(296, opts.ResolutionUnit)
	}
	if opts.DateTime != "" {
		ascii(306, opts.DateTime)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	ifdOffset := uint32(8)
	dataOffset := ifdOffset + 2 + uint32(12*len(entries)) + 4
	var ifd, data bytes.Buffer
	count := make([]byte, 2)
	le.PutUint16(count, uint16(len(entries)))
	ifd.Write(count)
	for _, e := range entries {
		field := make([]byte, 12)
		le.PutUint16(field[0:], e.tag)
		le.PutUint16(field[2:], e.typ)
		le.PutUint32(field[4:], e.count)
		if len(e.payload) <= 4 {
			copy(field[8:], e.payload)
		} else {
			le.PutUint32(field[8:], dataOffset+uint32(data.Len()))
			data.Write(e.payload)
			if data.Len()%2 == 1 {
				data.WriteByte(0)
			}
		}
		ifd.Write(field)
	}
	ifd.Write([]byte{0, 0, 0, 0})

	var out bytes.Buffer
	out.Write([]byte{'I', 'I', 42, 0})
	header := make([]byte, 4)
	le.PutUint32(header, ifdOffset)
	out.Write(header)
	out.Write(ifd.Bytes())
	out.Write(data.Bytes())
	return out.Bytes()
}
