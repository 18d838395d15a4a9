package feedback_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"digipub/internal/config"
	"digipub/internal/feedback"
	"digipub/internal/marc"
	"digipub/internal/notifications"
	"digipub/internal/publisher"
	"digipub/internal/services"
	"digipub/internal/store"
	"digipub/internal/testsupport"
)

const statement = "The online edition of this book is in the public domain"

type fakePartner struct {
	visible map[string]bool
	lookups []string
}

func (f *fakePartner) PublicURL(id string) string {
	return "http://partner.invalid/cgi/pt?id=emu." + id
}

func (f *fakePartner) IsVisible(_ context.Context, id string) (bool, error) {
	f.lookups = append(f.lookups, id)
	return f.visible[id], nil
}

type targetUpdate struct{ noid, uri, qualifier string }

type fakePID struct{ updates []targetUpdate }

func (f *fakePID) UpdateTarget(_ context.Context, noid, uri, qualifier string) error {
	f.updates = append(f.updates, targetUpdate{noid, uri, qualifier})
	return nil
}

type fakeCatalog struct {
	mu      sync.Mutex
	records map[string]testsupport.MARCOptions
	putErr  error
	puts    map[string]*marc.Record
}

func (f *fakeCatalog) FetchLocalRecord(_ context.Context, itemID string) (*marc.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	opts, ok := f.records[itemID]
	if !ok {
		opts = testsupport.DefaultMARC(itemID)
	}
	return marc.Parse(testsupport.MARCXML(opts))
}

func (f *fakeCatalog) PutRecord(_ context.Context, systemID string, record *marc.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.puts[systemID] = record
	return nil
}

type fakeReports struct{ reports map[string]string }

func (f *fakeReports) FetchReport(_ context.Context, jobName string) (string, error) {
	text, ok := f.reports[jobName]
	if !ok {
		return "", services.Wrap(services.ErrNotFound, "aggregator", "fetch report", jobName, nil)
	}
	return text, nil
}

type fakeJobs struct {
	st    *store.Store
	calls []store.JobStatus
}

func (f *fakeJobs) SetJobStatus(ctx context.Context, jobID int64, status store.JobStatus) (*store.Job, error) {
	f.calls = append(f.calls, status)
	if err := f.st.SetJobStatus(ctx, jobID, status); err != nil {
		return nil, err
	}
	return f.st.GetJob(ctx, jobID)
}

type recordingNotifier struct{ events []notifications.Event }

func (r *recordingNotifier) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.events = append(r.events, event)
	return nil
}

type fixture struct {
	cfg      *config.Config
	store    *store.Store
	partner  *fakePartner
	pid      *fakePID
	catalog  *fakeCatalog
	reports  *fakeReports
	jobs     *fakeJobs
	notifier *recordingNotifier
	checker  *feedback.Checker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Catalog.PermanenceStatement = statement
	st := testsupport.MustOpenStore(t, cfg)
	f := &fixture{
		cfg:      cfg,
		store:    st,
		partner:  &fakePartner{visible: map[string]bool{}},
		pid:      &fakePID{},
		catalog:  &fakeCatalog{records: map[string]testsupport.MARCOptions{}, puts: map[string]*marc.Record{}},
		reports:  &fakeReports{reports: map[string]string{}},
		jobs:     &fakeJobs{st: st},
		notifier: &recordingNotifier{},
	}
	checker, err := feedback.New(cfg, st, feedback.Deps{
		Partner:  f.partner,
		PID:      f.pid,
		Catalog:  f.catalog,
		Reports:  f.reports,
		Jobs:     f.jobs,
		Notifier: f.notifier,
	}, nil)
	if err != nil {
		t.Fatalf("feedback.New: %v", err)
	}
	f.checker = checker
	return f
}

func (f *fixture) addUploaded(t *testing.T, id, pid, note string) *store.Package {
	t.Helper()
	pkg := testsupport.NewPackage(t, f.store, id, filepath.Join(f.cfg.Paths.IngestRoot, "batch"), store.PackageUploaded)
	pkg.PID = pid
	pkg.OCLC = "12345"
	pkg.Note = note
	pkg.CatalogID = "000116142"
	if err := f.store.UpdatePackage(context.Background(), pkg); err != nil {
		t.Fatalf("UpdatePackage: %v", err)
	}
	return pkg
}

func (f *fixture) get(t *testing.T, id string) *store.Package {
	t.Helper()
	pkg, err := f.store.GetPackage(context.Background(), id)
	if err != nil || pkg == nil {
		t.Fatalf("GetPackage %s: %v", id, err)
	}
	return pkg
}

func linkURLs(record *marc.Record, label string) []string {
	var out []string
	for _, df := range record.Fields("856") {
		if df.Value("y") == label {
			out = append(out, df.Value("u"))
		}
	}
	return out
}

func TestVisibilityAcceptsAndRewritesCatalogRecord(t *testing.T) {
	f := newFixture(t)
	pkg := f.addUploaded(t, "010000000001", "aaa11", "v.1")
	f.addUploaded(t, "010000000002", "bbb22", "v.2")
	archive := pkg.ArchivePath(f.cfg.Paths.ProcessDir)
	if err := os.MkdirAll(filepath.Dir(archive), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(archive, []byte("zip"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	f.partner.visible["010000000001"] = true

	report, err := f.checker.CheckPartnerVisibility(context.Background())
	if err != nil {
		t.Fatalf("CheckPartnerVisibility: %v", err)
	}
	if report.Checked != 2 || len(report.Accepted) != 1 || len(report.CatalogFailed) != 0 {
		t.Fatalf("report = %+v", report)
	}
	got := f.get(t, "010000000001")
	if !got.AcceptedByPartner || got.PartnerURL != f.partner.PublicURL("010000000001") {
		t.Fatalf("package = %+v", got)
	}
	if f.get(t, "010000000002").AcceptedByPartner {
		t.Fatalf("invisible package accepted")
	}
	if len(f.pid.updates) != 2 || f.pid.updates[0].qualifier != "" || f.pid.updates[1].qualifier != "HT" {
		t.Fatalf("pid updates = %+v", f.pid.updates)
	}
	if _, err := os.Stat(archive); !os.IsNotExist(err) {
		t.Fatalf("archive not removed: %v", err)
	}

	record := f.catalog.puts["000116142"]
	if record == nil {
		t.Fatalf("record not resubmitted: %v", f.catalog.puts)
	}
	if len(record.Fields("999")) != 0 {
		t.Fatalf("item fields not stripped")
	}
	if record.Value("583", "a") != "digitized" {
		t.Fatalf("583 $a = %q", record.Value("583", "a"))
	}
	if record.Value("590", "a") != statement {
		t.Fatalf("590 $a = %q", record.Value("590", "a"))
	}
	links := linkURLs(record, f.cfg.Partner.LinkLabel)
	if len(links) != 1 || links[0] != "http://pid.emory.edu/ark:/25593/aaa11/HT" {
		t.Fatalf("links = %v", links)
	}
	if note := record.Fields("856")[0].Value("3"); note != "v.1" {
		t.Fatalf("856 $3 = %q", note)
	}

	// The second volume of the same work joins the shared record.
	f.partner.visible["010000000002"] = true
	if _, err := f.checker.CheckPartnerVisibility(context.Background()); err != nil {
		t.Fatalf("second CheckPartnerVisibility: %v", err)
	}
	links = linkURLs(f.catalog.puts["000116142"], f.cfg.Partner.LinkLabel)
	if len(links) != 2 || !strings.Contains(links[1], "bbb22") {
		t.Fatalf("merged links = %v", links)
	}
}

func TestCatalogFailureKeepsAcceptance(t *testing.T) {
	f := newFixture(t)
	f.addUploaded(t, "010000000001", "aaa11", "v.1")
	f.partner.visible["010000000001"] = true
	f.catalog.putErr = services.Wrap(services.ErrProtocol, "catalog", "put record", "status 400", nil)

	report, err := f.checker.CheckPartnerVisibility(context.Background())
	if err != nil {
		t.Fatalf("CheckPartnerVisibility: %v", err)
	}
	if len(report.CatalogFailed) != 1 {
		t.Fatalf("report = %+v", report)
	}
	got := f.get(t, "010000000001")
	if !got.AcceptedByPartner || got.Status != store.PackageCatalogUpdateFailed || got.Notes == "" {
		t.Fatalf("package = %+v", got)
	}
	if len(f.notifier.events) != 1 || f.notifier.events[0] != notifications.EventCatalogUpdateFailed {
		t.Fatalf("events = %v", f.notifier.events)
	}
}

func TestVisibilitySkipsDoNotProcess(t *testing.T) {
	f := newFixture(t)
	testsupport.NewPackage(t, f.store, "010000000001", f.cfg.Paths.IngestRoot, store.PackageDoNotProcess)
	report, err := f.checker.CheckPartnerVisibility(context.Background())
	if err != nil {
		t.Fatalf("CheckPartnerVisibility: %v", err)
	}
	if report.Checked != 0 || len(f.partner.lookups) != 0 {
		t.Fatalf("report = %+v, lookups = %v", report, f.partner.lookups)
	}
}

func TestAggregatorReportOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	jobs := map[string]*store.Job{}
	for _, name := range []string{"accepted", "rejected", "pending"} {
		job := testsupport.NewJob(t, f.store, name)
		if err := f.store.SetJobStatus(ctx, job.ID, store.JobWaitingOnAggregator); err != nil {
			t.Fatalf("SetJobStatus: %v", err)
		}
		jobs[name] = job
	}
	f.reports.reports["accepted"] = "2 items loaded\n0 items skipped/error\n"
	f.reports.reports["rejected"] = "1 items loaded\n1 items skipped/error\n"

	report, err := f.checker.CheckAggregatorReport(ctx)
	if err != nil {
		t.Fatalf("CheckAggregatorReport: %v", err)
	}
	if len(report.Accepted) != 1 || len(report.Rejected) != 1 || len(report.Waiting) != 1 {
		t.Fatalf("report = %+v", report)
	}
	want := map[string]store.JobStatus{
		"accepted": store.JobReadyForPartner,
		"rejected": store.JobAggregatorRejected,
		"pending":  store.JobWaitingOnAggregator,
	}
	for name, status := range want {
		job, _ := f.store.GetJob(ctx, jobs[name].ID)
		if job.Status != status {
			t.Fatalf("%s status = %q, want %q", name, job.Status, status)
		}
	}
	if len(f.jobs.calls) != 1 || f.jobs.calls[0] != store.JobReadyForPartner {
		t.Fatalf("transitions = %v", f.jobs.calls)
	}
}

func TestAggregatorSweepSurvivesFailedPublication(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pub, err := publisher.New(f.cfg, f.store, publisher.Deps{}, nil)
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}
	checker, err := feedback.New(f.cfg, f.store, feedback.Deps{Reports: f.reports, Jobs: pub}, nil)
	if err != nil {
		t.Fatalf("feedback.New: %v", err)
	}

	emptied := testsupport.NewJob(t, f.store, "a-emptied")
	testsupport.NewPackage(t, f.store, "010002643210", filepath.Join(f.cfg.Paths.IngestRoot, "batch"), store.PackageValid)
	other := testsupport.NewJob(t, f.store, "b-other", "010002643210")
	for _, job := range []*store.Job{emptied, other} {
		if err := f.store.SetJobStatus(ctx, job.ID, store.JobWaitingOnAggregator); err != nil {
			t.Fatalf("SetJobStatus: %v", err)
		}
	}
	f.reports.reports["a-emptied"] = "0 items loaded\n0 items skipped/error\n"
	f.reports.reports["b-other"] = "1 items loaded\n1 items skipped/error\n"

	report, err := checker.CheckAggregatorReport(ctx)
	if err != nil {
		t.Fatalf("CheckAggregatorReport: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != "a-emptied" {
		t.Fatalf("failed = %v", report.Failed)
	}
	if len(report.Rejected) != 1 || report.Rejected[0] != "b-other" || len(report.Accepted) != 0 {
		t.Fatalf("report = %+v", report)
	}
	got, _ := f.store.GetJob(ctx, emptied.ID)
	if got.Status != store.JobReadyForPartner {
		t.Fatalf("a-emptied status = %q, want %q", got.Status, store.JobReadyForPartner)
	}
	got, _ = f.store.GetJob(ctx, other.ID)
	if got.Status != store.JobAggregatorRejected {
		t.Fatalf("b-other status = %q, want %q", got.Status, store.JobAggregatorRejected)
	}
}

func TestRollupRequiresEveryMemberAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addUploaded(t, "010000000001", "aaa11", "")
	f.addUploaded(t, "010000000002", "bbb22", "")
	done := testsupport.NewJob(t, f.store, "done", "010000000001")
	partial := testsupport.NewJob(t, f.store, "partial", "010000000002")
	for _, job := range []*store.Job{done, partial} {
		if err := f.store.SetJobStatus(ctx, job.ID, store.JobBeingProcessed); err != nil {
			t.Fatalf("SetJobStatus: %v", err)
		}
	}
	a = f.get(t, a.ID)
	a.AcceptedByPartner = true
	if err := f.store.UpdatePackage(ctx, a); err != nil {
		t.Fatalf("UpdatePackage: %v", err)
	}

	promoted, err := f.checker.RollupJobCompletion(ctx)
	if err != nil {
		t.Fatalf("RollupJobCompletion: %v", err)
	}
	if len(promoted) != 1 || promoted[0] != "done" {
		t.Fatalf("promoted = %v", promoted)
	}
	job, _ := f.store.GetJob(ctx, partial.ID)
	if job.Status != store.JobBeingProcessed {
		t.Fatalf("partial status = %q", job.Status)
	}
}

func TestCatalogConfirmation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, id := range []string{"010000000001", "010000000002"} {
		pkg := f.addUploaded(t, id, "p"+id[len(id)-4:], "")
		pkg.AcceptedByPartner = true
		if err := f.store.UpdatePackage(ctx, pkg); err != nil {
			t.Fatalf("UpdatePackage: %v", err)
		}
	}
	opts := testsupport.DefaultMARC("010000000001")
	opts.ExtraFields = `<datafield tag="856" ind1="4" ind2="1"><subfield code="u">http://PID.emory.edu/ark:/25593/p0001/HT</subfield></datafield>`
	f.catalog.records["010000000001"] = opts

	confirmed, err := f.checker.CheckCatalogConfirmation(ctx)
	if err != nil {
		t.Fatalf("CheckCatalogConfirmation: %v", err)
	}
	if len(confirmed) != 1 || confirmed[0] != "010000000001" {
		t.Fatalf("confirmed = %v", confirmed)
	}
	if !f.get(t, "010000000001").ConfirmedInCatalog || f.get(t, "010000000002").ConfirmedInCatalog {
		t.Fatalf("confirmation flags wrong")
	}
}

func TestChecksRequireCollaborators(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	checker, err := feedback.New(cfg, testsupport.MustOpenStore(t, cfg), feedback.Deps{}, nil)
	if err != nil {
		t.Fatalf("feedback.New: %v", err)
	}
	if _, err := checker.CheckPartnerVisibility(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, err := checker.CheckAggregatorReport(context.Background()); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
