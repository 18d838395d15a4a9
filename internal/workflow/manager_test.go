package workflow_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"

	"digipub/internal/config"
	"digipub/internal/feedback"
	"digipub/internal/lifecycle"
	"digipub/internal/services"
	"digipub/internal/testsupport"
	"digipub/internal/workflow"
)

func TestRunNowAnnotatesContextAndRecordsStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr := workflow.NewManager(cfg, nil)

	var pass, requestID string
	err := mgr.Register(workflow.Pass{Name: "probe", Run: func(ctx context.Context) (string, error) {
		pass, _ = services.PassFromContext(ctx)
		requestID, _ = services.RequestIDFromContext(ctx)
		return "ok", nil
	}})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	summary, err := mgr.RunNow(context.Background(), "probe")
	if err != nil || summary != "ok" {
		t.Fatalf("RunNow = %q, %v", summary, err)
	}
	if pass != "probe" || requestID == "" {
		t.Fatalf("context pass=%q request=%q", pass, requestID)
	}

	status := mgr.Status()
	if len(status) != 1 || status[0].Summary != "ok" || status[0].LastRun.IsZero() || status[0].Running {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestRunNowRecordsFailure(t *testing.T) {
	mgr := workflow.NewManager(testsupport.NewConfig(t), nil)
	boom := errors.New("boom")
	if err := mgr.Register(workflow.Pass{Name: "fails", Run: func(context.Context) (string, error) { return "", boom }}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := mgr.RunNow(context.Background(), "fails"); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got := mgr.Status()[0].LastError; got != "boom" {
		t.Fatalf("LastError = %q", got)
	}
}

func TestRunNowRefusesWhileLocked(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr := workflow.NewManager(cfg, nil)
	ran := false
	if err := mgr.Register(workflow.Pass{Name: "scan", Run: func(context.Context) (string, error) {
		ran = true
		return "", nil
	}}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	lockDir := filepath.Join(cfg.Paths.StateDir, "locks")
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	held := flock.New(filepath.Join(lockDir, "scan.lock"))
	if ok, err := held.TryLock(); !ok || err != nil {
		t.Fatalf("TryLock = %v, %v", ok, err)
	}
	defer held.Unlock()

	if _, err := mgr.RunNow(context.Background(), "scan"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if ran {
		t.Fatal("pass ran while locked")
	}
}

func TestRunNowUnknownPass(t *testing.T) {
	mgr := workflow.NewManager(testsupport.NewConfig(t), nil)
	if _, err := mgr.RunNow(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	mgr := workflow.NewManager(testsupport.NewConfig(t), nil)
	run := func(context.Context) (string, error) { return "", nil }
	if err := mgr.Register(workflow.Pass{Name: "bad", Spec: "every tuesday", Run: run}); err == nil {
		t.Fatal("expected invalid spec error")
	}
	if err := mgr.Register(workflow.Pass{Name: "once", Run: run}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := mgr.Register(workflow.Pass{Name: "once", Run: run}); err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestStartSchedulesOnlyPassesWithSpecs(t *testing.T) {
	mgr := workflow.NewManager(testsupport.NewConfig(t), nil)
	run := func(context.Context) (string, error) { return "", nil }
	if err := mgr.Register(workflow.Pass{Name: "manual", Run: run}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected error with nothing scheduled")
	}
	if err := mgr.Register(workflow.Pass{Name: "hourly", Spec: "@every 1h", Run: run}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Stop()
	if !mgr.Running() {
		t.Fatal("expected running")
	}
	for _, s := range mgr.Status() {
		switch s.Name {
		case "hourly":
			if s.Next.IsZero() {
				t.Fatal("expected next run for scheduled pass")
			}
		case "manual":
			if !s.Next.IsZero() {
				t.Fatal("manual pass should not be scheduled")
			}
		}
	}
	if err := mgr.Start(context.Background()); err == nil {
		t.Fatal("expected already running error")
	}
}

type fakeScanner struct{}

func (fakeScanner) Scan(context.Context) (*lifecycle.ScanReport, error) {
	return &lifecycle.ScanReport{Created: []string{"a", "b"}, Invalid: []string{"b"}}, nil
}

type fakeChecker struct{}

func (fakeChecker) CheckPartnerVisibility(context.Context) (*feedback.VisibilityReport, error) {
	return &feedback.VisibilityReport{Checked: 3, Accepted: []string{"a"}}, nil
}

func (fakeChecker) CheckAggregatorReport(context.Context) (*feedback.AggregatorReport, error) {
	return &feedback.AggregatorReport{Waiting: []string{"batch"}}, nil
}

func (fakeChecker) RollupJobCompletion(context.Context) ([]string, error) { return nil, nil }

func (fakeChecker) CheckCatalogConfirmation(context.Context) ([]string, error) {
	return []string{"a"}, nil
}

func TestStandardPassesSummaries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	mgr := workflow.NewManager(cfg, nil)
	if err := mgr.RegisterAll(workflow.StandardPasses(cfg.Schedule, fakeScanner{}, fakeChecker{})); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	want := map[string]string{
		workflow.PassScan:            "created=2 moved=0 invalid=1 failed=0",
		workflow.PassPartnerCheck:    "checked=3 accepted=1 catalog_failed=0",
		workflow.PassAggregatorCheck: "accepted=0 rejected=0 waiting=1 failed=0",
		workflow.PassRollup:          "processed_by_partner=0",
		workflow.PassCatalogCheck:    "confirmed=1",
	}
	for name, expected := range want {
		got, err := mgr.RunNow(context.Background(), name)
		if err != nil || got != expected {
			t.Fatalf("%s = %q, %v; want %q", name, got, err, expected)
		}
	}
}

func TestStandardPassesWithoutChecker(t *testing.T) {
	passes := workflow.StandardPasses(config.Default().Schedule, fakeScanner{}, nil)
	if len(passes) != 1 || !strings.EqualFold(passes[0].Name, workflow.PassScan) {
		t.Fatalf("unexpected passes %+v", passes)
	}
}
