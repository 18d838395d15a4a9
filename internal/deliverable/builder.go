package deliverable

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"digipub/internal/fileutil"
	"digipub/internal/logging"
	"digipub/internal/services"
	"digipub/internal/store"
)

// ChecksumFileName is the checksum manifest inside every archive.
const ChecksumFileName = "checksum.md5"

// Entry is one checksum line.
type Entry struct {
	Name string
	MD5  string
}

// Archive describes a built deliverable.
type Archive struct {
	Path    string
	Size    int64
	MD5     string
	Entries []Entry
}

// Builder stages and compresses packages under a process directory.
type Builder struct {
	processDir string
	logger     *slog.Logger
}

// NewBuilder returns a builder writing into processDir.
func NewBuilder(processDir string, logger *slog.Logger) *Builder {
	return &Builder{processDir: processDir, logger: logging.NewComponentLogger(logger, "deliverable")}
}

type source struct {
	path string
	name string
}

// Build produces {process_dir}/{id}.zip for pkg and returns its description.
// Any existing archive or staging directory for the package is replaced.
func (b *Builder) Build(ctx context.Context, pkg *store.Package) (*Archive, error) {
	logger := logging.WithContext(services.WithPackageID(ctx, pkg.ID), b.logger)

	sources, err := collect(pkg)
	if err != nil {
		return nil, err
	}
	staging := filepath.Join(b.processDir, pkg.ID)
	if err := os.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("clear staging: %w", err)
	}
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging: %w", err)
	}
	defer os.RemoveAll(staging)

	entries := make([]Entry, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sum, err := fileutil.CopyFileVerified(src.path, filepath.Join(staging, src.name))
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "deliverable", "stage", src.path, err)
		}
		entries = append(entries, Entry{Name: src.name, MD5: sum})
	}
	if err := WriteChecksums(filepath.Join(staging, ChecksumFileName), entries); err != nil {
		return nil, err
	}

	mismatches, err := VerifyChecksums(staging)
	if err != nil {
		return nil, err
	}
	for _, name := range mismatches {
		logging.WarnWithContext(logger, "staged copy does not match its checksum line", "checksum_mismatch",
			logging.String("file", name),
			logging.String(logging.FieldImpact, "archive built anyway"),
		)
	}

	archivePath := pkg.ArchivePath(b.processDir)
	if err := zipDir(staging, archivePath); err != nil {
		return nil, err
	}
	info, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	sum, err := fileutil.MD5File(archivePath)
	if err != nil {
		return nil, fmt.Errorf("hash archive: %w", err)
	}
	logger.Info("deliverable built",
		logging.String("archive", archivePath),
		logging.Int("files", len(entries)),
		logging.Int64("bytes", info.Size()),
	)
	return &Archive{Path: archivePath, Size: info.Size(), MD5: sum, Entries: entries}, nil
}

func collect(pkg *store.Package) ([]source, error) {
	dir := pkg.Dir()
	var out []source
	globs := []struct {
		pattern string
		rename  func(string) string
	}{
		{filepath.Join(dir, store.ImageDir, "*.tif"), nil},
		{filepath.Join(dir, store.LayoutDir, "*.xml"), func(name string) string { return strings.Replace(name, ".alto.xml", ".xml", 1) }},
		{filepath.Join(dir, store.TextDir, "*.txt"), nil},
	}
	for _, g := range globs {
		matches, err := filepath.Glob(g.pattern)
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, path := range matches {
			name := filepath.Base(path)
			if g.rename != nil {
				name = g.rename(name)
			}
			out = append(out, source{path: path, name: name})
		}
	}
	for _, path := range []string{pkg.SidecarPath(), pkg.RecordPath(), pkg.ManifestPath()} {
		if _, err := os.Stat(path); err != nil {
			return nil, services.Wrap(services.ErrValidation, "deliverable", "collect", "required file missing", err)
		}
		out = append(out, source{path: path, name: filepath.Base(path)})
	}

	seen := make(map[string]string, len(out))
	for _, src := range out {
		if prev, ok := seen[src.name]; ok {
			return nil, services.Wrap(services.ErrValidation, "deliverable", "collect",
				fmt.Sprintf("%s and %s share archive name %s", prev, src.path, src.name), nil)
		}
		seen[src.name] = src.path
	}
	return out, nil
}

// WriteChecksums writes one "<md5> <name>" line per entry.
func WriteChecksums(path string, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s\n", e.MD5, e.Name)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write checksums: %w", err)
	}
	return nil
}

// ReadChecksums parses a checksum manifest.
func ReadChecksums(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Names may contain spaces; only the first one separates the digest.
		sum, name, ok := strings.Cut(line, " ")
		name = strings.TrimLeft(name, " *")
		if !ok || sum == "" || name == "" {
			return nil, fmt.Errorf("malformed checksum line %q", line)
		}
		entries = append(entries, Entry{MD5: strings.ToLower(sum), Name: name})
	}
	return entries, scanner.Err()
}

// VerifyChecksums re-hashes every file named in dir's checksum manifest and
// returns the names that do not match.
func VerifyChecksums(dir string) ([]string, error) {
	entries, err := ReadChecksums(filepath.Join(dir, ChecksumFileName))
	if err != nil {
		return nil, err
	}
	var mismatches []string
	for _, e := range entries {
		sum, err := fileutil.MD5File(filepath.Join(dir, e.Name))
		if err != nil || sum != e.MD5 {
			mismatches = append(mismatches, e.Name)
		}
	}
	return mismatches, nil
}

func zipDir(dir, dest string) (err error) {
	names, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("list staging: %w", err)
	}
	tmp := dest + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	zw := zip.NewWriter(out)
	for _, entry := range names {
		if entry.IsDir() {
			continue
		}
		if err = addFile(zw, filepath.Join(dir, entry.Name()), entry.Name()); err != nil {
			return err
		}
	}
	if err = zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err = os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("compress %s: %w", name, err)
	}
	return nil
}

// Extract unpacks archive into dir and returns the written file names.
func Extract(archive, dir string) ([]string, error) {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	var names []string
	for _, f := range zr.File {
		name := filepath.Base(f.Name)
		if name != f.Name || name == "." || name == ".." {
			return nil, fmt.Errorf("unexpected archive member %q", f.Name)
		}
		if err := extractOne(f, filepath.Join(dir, name)); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, nil
}

func extractOne(f *zip.File, dest string) error {
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
