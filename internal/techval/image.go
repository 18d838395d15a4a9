package techval

import (
	"fmt"
	"os"
	"strings"

	"github.com/rwcarlsen/goexif/tiff"

	"digipub/internal/store"
)

// TIFF tag numbers read during validation.
const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagPhotometric     = 262
	tagMake            = 271
	tagModel           = 272
	tagOrientation     = 274
	tagSamplesPerPixel = 277
	tagXResolution     = 282
	tagYResolution     = 283
	tagResolutionUnit  = 296
	tagSoftware        = 305
	tagDateTime        = 306
	tagImageProducer   = 315
)

const (
	compressionNone = 1
	compressionG4   = 4
	compressionLZW  = 5
	photometricRGB  = 2
	orientationTop  = 1
	unitInches      = 2
	bitonalMinDPI   = 600
	colorMinDPI     = 300
)

// Class is an image's bit-depth signature.
type Class int

const (
	ClassUnknown Class = iota
	ClassBitonal
	ClassGrayscale
	ClassTwoChannel
	ClassColor3
	ClassColor888
)

func (c Class) String() string {
	switch c {
	case ClassBitonal:
		return "bitonal"
	case ClassGrayscale:
		return "grayscale"
	case ClassTwoChannel:
		return "two-channel grayscale"
	case ClassColor3:
		return "color-3"
	case ClassColor888:
		return "color-888"
	default:
		return "unknown"
	}
}

// Classify maps BitsPerSample values to a signature by concatenating the
// per-sample depths: 1 bitonal, 8 grayscale, 88 two-channel, 3 or 888 color.
func Classify(bits []int) Class {
	var b strings.Builder
	for _, v := range bits {
		fmt.Fprintf(&b, "%d", v)
	}
	switch b.String() {
	case "1":
		return ClassBitonal
	case "8":
		return ClassGrayscale
	case "88":
		return ClassTwoChannel
	case "3":
		return ClassColor3
	case "888":
		return ClassColor888
	default:
		return ClassUnknown
	}
}

// ImageTags holds the baseline tags of the first IFD. Missing numeric tags
// read as zero and missing strings as "".
type ImageTags struct {
	Width           int
	Length          int
	BitsPerSample   []int
	Compression     int
	Photometric     int
	SamplesPerPixel int
	Orientation     int
	ResolutionUnit  int
	XResolution     float64
	YResolution     float64
	Make            string
	Model           string
	DateTime        string
	Software        string
	Producer        string
}

// ReadTags decodes the TIFF at path.
func ReadTags(path string) (ImageTags, error) {
	f, err := os.Open(path)
	if err != nil {
		return ImageTags{}, err
	}
	defer f.Close()

	decoded, err := tiff.Decode(f)
	if err != nil {
		return ImageTags{}, err
	}
	if len(decoded.Dirs) == 0 {
		return ImageTags{}, fmt.Errorf("tiff: no image directory")
	}

	var tags ImageTags
	for _, tag := range decoded.Dirs[0].Tags {
		switch tag.Id {
		case tagImageWidth:
			tags.Width = firstInt(tag)
		case tagImageLength:
			tags.Length = firstInt(tag)
		case tagBitsPerSample:
			tags.BitsPerSample = allInts(tag)
		case tagCompression:
			tags.Compression = firstInt(tag)
		case tagPhotometric:
			tags.Photometric = firstInt(tag)
		case tagSamplesPerPixel:
			tags.SamplesPerPixel = firstInt(tag)
		case tagOrientation:
			tags.Orientation = firstInt(tag)
		case tagResolutionUnit:
			tags.ResolutionUnit = firstInt(tag)
		case tagXResolution:
			tags.XResolution = rational(tag)
		case tagYResolution:
			tags.YResolution = rational(tag)
		case tagMake:
			tags.Make = text(tag)
		case tagModel:
			tags.Model = text(tag)
		case tagDateTime:
			tags.DateTime = text(tag)
		case tagSoftware:
			tags.Software = text(tag)
		case tagImageProducer:
			tags.Producer = text(tag)
		}
	}
	return tags, nil
}

func firstInt(tag *tiff.Tag) int {
	if tag.Count == 0 || tag.Format() != tiff.IntVal {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

func allInts(tag *tiff.Tag) []int {
	if tag.Format() != tiff.IntVal {
		return nil
	}
	out := make([]int, 0, tag.Count)
	for i := 0; i < int(tag.Count); i++ {
		v, err := tag.Int(i)
		if err != nil {
			return out
		}
		out = append(out, v)
	}
	return out
}

func rational(tag *tiff.Tag) float64 {
	if tag.Count == 0 {
		return 0
	}
	switch tag.Format() {
	case tiff.RatVal:
		num, den, err := tag.Rat2(0)
		if err != nil || den == 0 {
			return 0
		}
		return float64(num) / float64(den)
	case tiff.IntVal:
		return float64(firstInt(tag))
	default:
		return 0
	}
}

func text(tag *tiff.Tag) string {
	if tag.Format() != tiff.StringVal {
		return ""
	}
	s, err := tag.StringVal()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// CheckImage validates one TIFF and returns a finding per violated rule. A
// file that cannot be decoded yields a single finding.
func CheckImage(path string) []Finding {
	tags, err := ReadTags(path)
	if err != nil {
		return []Finding{technical(fmt.Sprintf("Error '%v' while validating %s", err, path))}
	}
	return CheckTags(tags, path)
}

// CheckTags applies the universal rules and then the profile selected by the
// bit-depth signature.
func CheckTags(tags ImageTags, path string) []Finding {
	var findings []Finding
	invalid := func(name string) {
		findings = append(findings, technical(fmt.Sprintf("Invalid value for %s in %s", name, path)))
	}

	if tags.Width <= 0 {
		invalid("ImageWidth")
	}
	if tags.Length <= 0 {
		invalid("ImageLength")
	}
	if tags.Make == "" {
		invalid("Make")
	}
	if tags.Model == "" {
		invalid("Model")
	}
	if tags.Orientation != orientationTop {
		invalid("Orientation")
	}
	if tags.ResolutionUnit != unitInches {
		invalid("ResolutionUnit")
	}
	if tags.DateTime == "" {
		invalid("DateTime")
	}

	switch Classify(tags.BitsPerSample) {
	case ClassBitonal, ClassGrayscale:
		if tags.Compression != compressionNone && tags.Compression != compressionG4 {
			invalid("Compression")
		}
		if tags.SamplesPerPixel != 1 {
			invalid("SamplesPerPixel")
		}
		if tags.XResolution < bitonalMinDPI {
			invalid("XResolution")
		}
		if tags.YResolution < bitonalMinDPI {
			invalid("YResolution")
		}
	case ClassColor3, ClassColor888:
		if tags.Compression != compressionNone && tags.Compression != compressionLZW {
			invalid("Compression")
		}
		if tags.Photometric != photometricRGB {
			invalid("PhotometricInterpretation")
		}
		if tags.SamplesPerPixel != 3 {
			invalid("SamplesPerPixel")
		}
		if tags.XResolution < colorMinDPI {
			invalid("XResolution")
		}
		if tags.YResolution < colorMinDPI {
			invalid("YResolution")
		}
	default:
		findings = append(findings, technical("Cannot determine type for "+path))
	}
	return findings
}

func technical(msg string) Finding {
	return Finding{Message: msg, Category: store.CategoryInvalidTechnical}
}
