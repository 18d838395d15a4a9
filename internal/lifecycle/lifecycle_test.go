package lifecycle_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"digipub/internal/config"
	"digipub/internal/lifecycle"
	"digipub/internal/marc"
	"digipub/internal/notifications"
	"digipub/internal/store"
	"digipub/internal/testsupport"
)

type fakeFetcher struct {
	mu      sync.Mutex
	records map[string]testsupport.MARCOptions
	calls   []string
}

func (f *fakeFetcher) FetchRecord(_ context.Context, itemID string) (*marc.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, itemID)
	opts, ok := f.records[itemID]
	if !ok {
		return nil, errors.New("catalog: no record for " + itemID)
	}
	return marc.Parse(testsupport.MARCXML(opts))
}

type recordingNotifier struct {
	events   []notifications.Event
	payloads []notifications.Payload
}

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, payload notifications.Payload) error {
	r.events = append(r.events, event)
	r.payloads = append(r.payloads, payload)
	return nil
}

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	fetcher  *fakeFetcher
	notifier *recordingNotifier
	manager  *lifecycle.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(cfg.Paths.IngestRoot, 0o755); err != nil {
		t.Fatalf("mkdir ingest: %v", err)
	}
	st := testsupport.MustOpenStore(t, cfg)
	fetcher := &fakeFetcher{records: map[string]testsupport.MARCOptions{}}
	notifier := &recordingNotifier{}
	mgr, err := lifecycle.NewManager(cfg, st, fetcher, notifier, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return &fixture{cfg: cfg, store: st, fetcher: fetcher, notifier: notifier, manager: mgr}
}

// addPackage writes a package directory under {ingest}/batch and inserts its row.
func (f *fixture) addPackage(t *testing.T, id string, opts testsupport.PackageOptions) *store.Package {
	t.Helper()
	parent := filepath.Join(f.cfg.Paths.IngestRoot, "batch")
	testsupport.WritePackage(t, parent, id, opts)
	pkg := testsupport.NewPackage(t, f.store, id, parent, store.PackageInvalid)
	pkg.Note = "v.1"
	if err := f.store.UpdatePackage(context.Background(), pkg); err != nil {
		t.Fatalf("UpdatePackage: %v", err)
	}
	return pkg
}

func TestValidateMarksCleanPackageValid(t *testing.T) {
	f := newFixture(t)
	pkg := f.addPackage(t, "010002643998", testsupport.PackageOptions{})

	status, err := f.manager.Validate(context.Background(), pkg)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if status != store.PackageValid {
		errs, _ := f.store.ValidationErrors(context.Background(), pkg.ID)
		t.Fatalf("status = %q, errors = %#v", status, errs)
	}

	sidecar, err := lifecycle.ReadSidecar(pkg.SidecarPath())
	if err != nil {
		t.Fatalf("ReadSidecar: %v", err)
	}
	if sidecar.CaptureAgent != "GEU" || sidecar.ScannerUser != f.cfg.Packages.ScannerUser || sidecar.ReadingOrder == "" {
		t.Fatalf("unexpected sidecar %+v", sidecar)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	marcOpts := testsupport.DefaultMARC("010002643998")
	marcOpts.Fixed = "111220s1999    gaua          000 0 eng d"
	pkg := f.addPackage(t, "010002643998", testsupport.PackageOptions{MARC: &marcOpts, BadChecksum: true})

	ctx := context.Background()
	var counts []int
	for i := 0; i < 2; i++ {
		status, err := f.manager.Validate(ctx, pkg)
		if err != nil {
			t.Fatalf("Validate: %v", err)
		}
		if status != store.PackageInvalid {
			t.Fatalf("status = %q", status)
		}
		errs, err := f.store.ValidationErrors(ctx, pkg.ID)
		if err != nil {
			t.Fatalf("ValidationErrors: %v", err)
		}
		counts = append(counts, len(errs))
	}
	if counts[0] != counts[1] || counts[0] != 2 {
		t.Fatalf("error counts = %v, want [2 2]", counts)
	}

	errs, _ := f.store.ValidationErrors(ctx, pkg.ID)
	if errs[0].Message != "Published in 1999" || errs[0].Category != store.CategoryInadequateRights {
		t.Fatalf("first error = %#v", errs[0])
	}
	if errs[1].Category != store.CategoryChecksum {
		t.Fatalf("second error = %#v", errs[1])
	}
}

func TestValidateWithoutRecord(t *testing.T) {
	f := newFixture(t)
	pkg := f.addPackage(t, "010002643998", testsupport.PackageOptions{SkipMARC: true})

	status, err := f.manager.Validate(context.Background(), pkg)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	errs, _ := f.store.ValidationErrors(context.Background(), pkg.ID)
	if status != store.PackageInvalid || len(errs) != 1 || errs[0].Message != "Could not determine rights" {
		t.Fatalf("status=%q errors=%#v", status, errs)
	}
}

func TestSetStatusReprocessRevalidates(t *testing.T) {
	f := newFixture(t)
	pkg := f.addPackage(t, "010002643998", testsupport.PackageOptions{})
	ctx := context.Background()
	if err := f.store.ReplaceValidationErrors(ctx, pkg.ID, []store.ValidationError{{Message: "stale"}}); err != nil {
		t.Fatalf("seed errors: %v", err)
	}

	updated, err := f.manager.SetStatus(ctx, pkg.ID, store.PackageReprocess)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if updated.Status != store.PackageValid {
		t.Fatalf("status = %q", updated.Status)
	}
	errs, _ := f.store.ValidationErrors(ctx, pkg.ID)
	if len(errs) != 0 {
		t.Fatalf("stale errors survived: %#v", errs)
	}
	if len(f.fetcher.calls) != 0 {
		t.Fatalf("reprocess must not refetch the record, got %v", f.fetcher.calls)
	}

	held, err := f.manager.SetStatus(ctx, pkg.ID, store.PackageDoNotProcess)
	if err != nil || held.Status != store.PackageDoNotProcess {
		t.Fatalf("SetStatus(do_not_process) = %#v, %v", held, err)
	}
}

func TestUpdateNotePropagatesToRecord(t *testing.T) {
	f := newFixture(t)
	pkg := f.addPackage(t, "010002643998", testsupport.PackageOptions{})

	updated, err := f.manager.UpdateNote(context.Background(), pkg.ID, "v.2 1931")
	if err != nil {
		t.Fatalf("UpdateNote: %v", err)
	}
	if updated.Note != "v.2 1931" {
		t.Fatalf("note = %q", updated.Note)
	}
	record, err := marc.ReadFile(pkg.RecordPath())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if note, ok := record.Note("010002643998"); !ok || note != "v.2 1931" {
		t.Fatalf("record note = %q (%v)", note, ok)
	}
	stored, _ := f.store.GetPackage(context.Background(), pkg.ID)
	if stored.Note != "v.2 1931" {
		t.Fatalf("stored note = %q", stored.Note)
	}
}

func TestUpdateNoteFailsWithoutRecord(t *testing.T) {
	f := newFixture(t)
	pkg := f.addPackage(t, "010002643998", testsupport.PackageOptions{SkipMARC: true})

	if _, err := f.manager.UpdateNote(context.Background(), pkg.ID, "v.3"); err == nil {
		t.Fatal("expected error when record is missing")
	}
	stored, _ := f.store.GetPackage(context.Background(), pkg.ID)
	if stored.Note != "v.1" {
		t.Fatalf("note changed despite failure: %q", stored.Note)
	}
}

func TestScanCreatesValidatesAndIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	root := f.cfg.Paths.IngestRoot
	batch := filepath.Join(root, "batch")

	testsupport.WritePackage(t, batch, "010002643998", testsupport.PackageOptions{SkipMARC: true})
	testsupport.WritePackage(t, batch, "010000000777", testsupport.PackageOptions{SkipMARC: true})
	testsupport.WritePackage(t, batch, "010000000888", testsupport.PackageOptions{SkipMARC: true, BadChecksum: true})
	testsupport.WritePackage(t, filepath.Join(root, "test"), "010000000999", testsupport.PackageOptions{SkipMARC: true})
	if err := os.MkdirAll(filepath.Join(root, "notes"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	f.fetcher.records["010002643998"] = testsupport.DefaultMARC("010002643998")
	f.fetcher.records["010000000888"] = testsupport.DefaultMARC("010000000888")

	report, err := f.manager.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if strings.Join(report.Created, ",") != "010000000888,010002643998" {
		t.Fatalf("created = %v", report.Created)
	}
	if _, ok := report.Failed["010000000777"]; !ok || len(report.Failed) != 1 {
		t.Fatalf("failed = %v", report.Failed)
	}
	if strings.Join(report.Invalid, ",") != "010000000888" {
		t.Fatalf("invalid = %v", report.Invalid)
	}
	for _, call := range f.fetcher.calls {
		if call == "010000000999" {
			t.Fatal("excluded subtree was scanned")
		}
	}

	pkg, err := f.store.GetPackage(context.Background(), "010002643998")
	if err != nil || pkg == nil {
		t.Fatalf("GetPackage: %#v, %v", pkg, err)
	}
	if pkg.Status != store.PackageValid || pkg.Note != "v.1" || pkg.OCLC != "12345" || pkg.CatalogID != "000116142" {
		t.Fatalf("unexpected package %#v", pkg)
	}
	if pkg.CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	record, err := marc.ReadFile(pkg.RecordPath())
	if err != nil {
		t.Fatalf("read written record: %v", err)
	}
	if items := record.Fields(marc.TagLocalItem); len(items) != 1 || items[0].Value("i") != "010002643998" {
		t.Fatalf("999 fields not narrowed to the package barcode: %d", len(items))
	}
	for _, df := range record.Fields(marc.TagSystemNumber) {
		if strings.HasPrefix(df.Value("a"), "(Aleph)") {
			t.Fatalf("legacy 035 survived: %q", df.Value("a"))
		}
	}
	if _, err := os.Stat(pkg.SidecarPath()); err != nil {
		t.Fatalf("sidecar missing: %v", err)
	}

	if len(f.notifier.events) != 1 || f.notifier.events[0] != notifications.EventScanReport {
		t.Fatalf("events = %v", f.notifier.events)
	}
	bad, _ := f.notifier.payloads[0]["packages"].([]string)
	if strings.Join(bad, ",") != "010000000777,010000000888" {
		t.Fatalf("reported packages = %v", bad)
	}
}

func TestScanUsesFallbackNote(t *testing.T) {
	f := newFixture(t)
	batch := filepath.Join(f.cfg.Paths.IngestRoot, "batch")
	testsupport.WritePackage(t, batch, "010002643998", testsupport.PackageOptions{SkipMARC: true})

	opts := testsupport.DefaultMARC("010002643998")
	opts.Items = []testsupport.MARCItem{{Barcode: "010009999999", Note: "v.9"}}
	f.fetcher.records["010002643998"] = opts

	if _, err := f.manager.Scan(context.Background()); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	pkg, _ := f.store.GetPackage(context.Background(), "010002643998")
	if pkg == nil || pkg.Note != lifecycle.NoteNotFound {
		t.Fatalf("package = %#v", pkg)
	}
}

func TestScanDetectsMovedPackage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldParent := filepath.Join(f.cfg.Paths.IngestRoot, "old")
	newParent := filepath.Join(f.cfg.Paths.IngestRoot, "new")
	testsupport.WritePackage(t, newParent, "010002643998", testsupport.PackageOptions{})
	testsupport.NewPackage(t, f.store, "010002643998", oldParent, store.PackageValid)

	report, err := f.manager.Scan(ctx)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(report.Moved) != 1 || len(report.Created) != 0 {
		t.Fatalf("report = %+v", report)
	}
	pkg, _ := f.store.GetPackage(ctx, "010002643998")
	if pkg.Path != newParent {
		t.Fatalf("path = %q, want %q", pkg.Path, newParent)
	}
	if len(f.fetcher.calls) != 0 {
		t.Fatalf("known package refetched: %v", f.fetcher.calls)
	}

	again, err := f.manager.Scan(ctx)
	if err != nil || len(again.Moved) != 0 {
		t.Fatalf("second scan = %+v, %v", again, err)
	}
}

func TestScanRequiresIngestRoot(t *testing.T) {
	f := newFixture(t)
	if err := os.RemoveAll(f.cfg.Paths.IngestRoot); err != nil {
		t.Fatalf("remove ingest: %v", err)
	}
	if _, err := f.manager.Scan(context.Background()); err == nil {
		t.Fatal("expected error for missing ingest root")
	}
}
