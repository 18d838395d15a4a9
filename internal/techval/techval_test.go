package techval_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"digipub/internal/store"
	"digipub/internal/techval"
	"digipub/internal/testsupport"
)

func messages(findings []techval.Finding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Message)
	}
	return out
}

func TestClassify(t *testing.T) {
	cases := []struct {
		bits []int
		want techval.Class
	}{
		{[]int{1}, techval.ClassBitonal},
		{[]int{8}, techval.ClassGrayscale},
		{[]int{8, 8}, techval.ClassTwoChannel},
		{[]int{3}, techval.ClassColor3},
		{[]int{8, 8, 8}, techval.ClassColor888},
		{[]int{16}, techval.ClassUnknown},
		{nil, techval.ClassUnknown},
	}
	for _, tc := range cases {
		if got := techval.Classify(tc.bits); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.bits, got, tc.want)
		}
	}
}

func TestReadTags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.tif")
	testsupport.WriteTIFF(t, path, testsupport.ColorTIFF())

	tags, err := techval.ReadTags(path)
	if err != nil {
		t.Fatalf("ReadTags: %v", err)
	}
	if tags.Width != 1200 || tags.Length != 1800 {
		t.Fatalf("dimensions = %dx%d", tags.Width, tags.Length)
	}
	if len(tags.BitsPerSample) != 3 || tags.SamplesPerPixel != 3 || tags.Photometric != 2 {
		t.Fatalf("unexpected color tags: %+v", tags)
	}
	if tags.XResolution != 300 || tags.YResolution != 300 {
		t.Fatalf("resolution = %v/%v", tags.XResolution, tags.YResolution)
	}
	if tags.Make != "Kirtas" || tags.Model != "APT 2400" || tags.DateTime == "" {
		t.Fatalf("unexpected strings: %+v", tags)
	}
}

func TestCheckImageValidProfiles(t *testing.T) {
	dir := t.TempDir()
	for name, opts := range map[string]testsupport.TIFFOptions{
		"bitonal.tif": testsupport.BitonalTIFF(),
		"color.tif":   testsupport.ColorTIFF(),
	} {
		path := filepath.Join(dir, name)
		testsupport.WriteTIFF(t, path, opts)
		if findings := techval.CheckImage(path); len(findings) != 0 {
			t.Fatalf("%s: unexpected findings %v", name, messages(findings))
		}
	}

	gray := testsupport.BitonalTIFF()
	gray.BitsPerSample = []uint16{8}
	gray.Compression = 1
	path := filepath.Join(dir, "gray.tif")
	testsupport.WriteTIFF(t, path, gray)
	if findings := techval.CheckImage(path); len(findings) != 0 {
		t.Fatalf("grayscale: unexpected findings %v", messages(findings))
	}
}

func TestCheckImageReportsEveryViolation(t *testing.T) {
	opts := testsupport.BitonalTIFF()
	opts.Compression = 5
	opts.XResolution = 400
	opts.YResolution = 400
	opts.Orientation = 3
	opts.Model = ""
	path := filepath.Join(t.TempDir(), "page.tif")
	testsupport.WriteTIFF(t, path, opts)

	findings := techval.CheckImage(path)
	want := []string{
		"Invalid value for Model in " + path,
		"Invalid value for Orientation in " + path,
		"Invalid value for Compression in " + path,
		"Invalid value for XResolution in " + path,
		"Invalid value for YResolution in " + path,
	}
	got := messages(findings)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("findings = %q, want %q", got, want)
	}
	for _, f := range findings {
		if f.Category != store.CategoryInvalidTechnical {
			t.Fatalf("category = %q", f.Category)
		}
	}
}

func TestCheckImageColorRules(t *testing.T) {
	opts := testsupport.ColorTIFF()
	opts.Compression = 4
	opts.Photometric = 1
	opts.SamplesPerPixel = 1
	opts.XResolution = 200
	path := filepath.Join(t.TempDir(), "color.tif")
	testsupport.WriteTIFF(t, path, opts)

	got := messages(techval.CheckImage(path))
	want := []string{
		"Invalid value for Compression in " + path,
		"Invalid value for PhotometricInterpretation in " + path,
		"Invalid value for SamplesPerPixel in " + path,
		"Invalid value for XResolution in " + path,
	}
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Fatalf("findings = %q, want %q", got, want)
	}
}

func TestCheckImageUnknownType(t *testing.T) {
	opts := testsupport.BitonalTIFF()
	opts.BitsPerSample = []uint16{8, 8}
	path := filepath.Join(t.TempDir(), "two.tif")
	testsupport.WriteTIFF(t, path, opts)

	got := messages(techval.CheckImage(path))
	if len(got) != 1 || got[0] != "Cannot determine type for "+path {
		t.Fatalf("findings = %q", got)
	}
}

func TestCheckImageUnreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.tif")
	if err := os.WriteFile(path, []byte("not a tiff"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got := messages(techval.CheckImage(path))
	if len(got) != 1 || !strings.HasPrefix(got[0], "Error '") || !strings.HasSuffix(got[0], "while validating "+path) {
		t.Fatalf("findings = %q", got)
	}
}

func TestCheckPackageClean(t *testing.T) {
	root := t.TempDir()
	dir := testsupport.WritePackage(t, root, "010002643998_0001", testsupport.PackageOptions{Pages: 3})
	if findings := techval.CheckPackage(dir, "010002643998_0001"); len(findings) != 0 {
		t.Fatalf("unexpected findings %v", messages(findings))
	}
}

func TestCheckPackageMissingManifest(t *testing.T) {
	root := t.TempDir()
	dir := testsupport.WritePackage(t, root, "010002643998", testsupport.PackageOptions{SkipMETS: true})
	findings := techval.CheckPackage(dir, "010002643998")
	if len(findings) != 1 {
		t.Fatalf("findings = %v", messages(findings))
	}
	if findings[0].Category != store.CategoryMissingManifest {
		t.Fatalf("category = %q", findings[0].Category)
	}
	want := "Error: " + techval.ManifestPath(dir, "010002643998") + " does not exist"
	if findings[0].Message != want {
		t.Fatalf("message = %q, want %q", findings[0].Message, want)
	}
}

func TestCheckPackageChecksumAndMissingImage(t *testing.T) {
	root := t.TempDir()
	id := "010002643998"
	dir := testsupport.WritePackage(t, root, id, testsupport.PackageOptions{Pages: 2, BadChecksum: true})
	second := filepath.Join(dir, "TIFF", "00000002.tif")
	if err := os.Remove(second); err != nil {
		t.Fatalf("remove: %v", err)
	}

	findings := techval.CheckPackage(dir, id)
	categories := map[string]int{}
	for _, f := range findings {
		categories[f.Category]++
	}
	if categories[store.CategoryChecksum] != 1 || categories[store.CategoryMissing] != 1 || len(findings) != 2 {
		t.Fatalf("findings = %v", messages(findings))
	}
	for _, f := range findings {
		if f.Category == store.CategoryMissing && f.Message != "Error: "+second+" does not exist" {
			t.Fatalf("missing message = %q", f.Message)
		}
	}
}

func TestCheckManifestLoadingAndInvalid(t *testing.T) {
	dir := t.TempDir()
	broken := filepath.Join(dir, "broken.mets.xml")
	if err := os.WriteFile(broken, []byte("<mets"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, findings := techval.CheckManifest(broken)
	if doc != nil || len(findings) != 1 || findings[0].Category != store.CategoryLoadingManifest {
		t.Fatalf("broken manifest: doc=%v findings=%v", doc, findings)
	}

	empty := filepath.Join(dir, "empty.mets.xml")
	if err := os.WriteFile(empty, []byte(`<mets xmlns="http://www.loc.gov/METS/"></mets>`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, findings = techval.CheckManifest(empty)
	if doc == nil || len(findings) != 1 || findings[0].Category != store.CategoryInvalidManifest {
		t.Fatalf("invalid manifest: doc=%v findings=%v", doc, findings)
	}
	if !strings.HasPrefix(findings[0].Message, "Error: "+empty+" is not valid") {
		t.Fatalf("message = %q", findings[0].Message)
	}
}
