package daemon_test

import (
	"context"
	"testing"

	"digipub/internal/api"
	"digipub/internal/daemon"
	"digipub/internal/testsupport"
)

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc, err := api.Open(cfg, nil)
	if err != nil {
		t.Fatalf("api.Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	d, err := daemon.New(svc, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status()
	if !status.Running || status.Worker || status.LockFilePath != cfg.LockPath() {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Passes) != 5 {
		t.Fatalf("passes = %+v", status.Passes)
	}
	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("expected stopped daemon")
	}
}

func TestDaemonSingleInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first, err := api.Open(cfg, nil)
	if err != nil {
		t.Fatalf("api.Open: %v", err)
	}
	t.Cleanup(func() { first.Close() })

	d1, err := daemon.New(first, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d1.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d1.Stop()

	d2, err := daemon.New(first, nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d2.Start(context.Background()); err == nil {
		d2.Stop()
		t.Fatal("expected lock contention")
	}
}

func TestNewRequiresService(t *testing.T) {
	if _, err := daemon.New(nil, nil); err == nil {
		t.Fatal("expected error")
	}
}
