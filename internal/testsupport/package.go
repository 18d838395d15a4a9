package testsupport

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// PackageOptions shapes a fixture package directory.
type PackageOptions struct {
	Pages int
	MARC  *MARCOptions
	TIFF  *TIFFOptions
	// SkipMARC leaves marc.xml out, as a scan would find a fresh directory.
	SkipMARC bool
	// SkipMETS leaves the manifest out.
	SkipMETS bool
	// BadChecksum records a wrong digest for the first page.
	BadChecksum bool
}

// WritePackage creates {root}/{id} with marc.xml, METS/{id}.mets.xml, TIFF,
// ALTO and OCR files and returns the package directory.
func WritePackage(t testing.TB, root, id string, opts PackageOptions) string {
	t.Helper()

	pages := opts.Pages
	if pages <= 0 {
		pages = 2
	}
	tiffOpts := BitonalTIFF()
	if opts.TIFF != nil {
		tiffOpts = *opts.TIFF
	}
	dir := filepath.Join(root, id)
	for _, sub := range []string{"METS", "TIFF", "ALTO", "OCR"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", sub, err)
		}
	}

	if !opts.SkipMARC {
		marcOpts := DefaultMARC(barcodeOf(id))
		if opts.MARC != nil {
			marcOpts = *opts.MARC
		}
		writeBytes(t, filepath.Join(dir, "marc.xml"), MARCXML(marcOpts))
	}

	files := make([]METSFile, 0, pages)
	for i := 1; i <= pages; i++ {
		seq := fmt.Sprintf("%08d", i)
		tiffData := TIFFBytes(tiffOpts)
		writeBytes(t, filepath.Join(dir, "TIFF", seq+".tif"), tiffData)
		writeBytes(t, filepath.Join(dir, "ALTO", seq+".alto.xml"), []byte(`<alto xmlns="http://www.loc.gov/standards/alto/ns-v2#"><Layout/></alto>`))
		writeBytes(t, filepath.Join(dir, "OCR", seq+".txt"), []byte(fmt.Sprintf("page %d text\n", i)))

		sum := md5.Sum(tiffData)
		digest := hex.EncodeToString(sum[:])
		if opts.BadChecksum && i == 1 {
			digest = "00000000000000000000000000000000"
		}
		files = append(files, METSFile{
			Seq:      seq,
			TIFFHref: "../TIFF/" + seq + ".tif",
			TIFFMD5:  digest,
			TIFFSize: int64(len(tiffData)),
			ALTOHref: "../ALTO/" + seq + ".alto.xml",
		})
	}
	if !opts.SkipMETS {
		writeBytes(t, filepath.Join(dir, "METS", id+".mets.xml"), METSXML(files))
	}
	return dir
}

func barcodeOf(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func writeBytes(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
