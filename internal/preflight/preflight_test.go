package preflight_test

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"digipub/internal/preflight"
	"digipub/internal/testsupport"
)

func TestCheckDirectoryAccess(t *testing.T) {
	dir := t.TempDir()
	if res := preflight.CheckDirectoryAccess("dir", dir); !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}
	if res := preflight.CheckDirectoryAccess("dir", filepath.Join(dir, "missing")); res.Passed {
		t.Fatal("expected missing directory to fail")
	}
	file := filepath.Join(dir, "file")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if res := preflight.CheckDirectoryAccess("dir", file); res.Passed {
		t.Fatal("expected file to fail")
	}
	if res := preflight.CheckDirectoryAccess("dir", ""); res.Passed || res.Detail != "not configured" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestCheckEndpoint(t *testing.T) {
	status := http.StatusMethodNotAllowed
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	if res := preflight.CheckEndpoint(context.Background(), srv.Client(), "Catalog", srv.URL); !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}
	status = http.StatusBadGateway
	if res := preflight.CheckEndpoint(context.Background(), srv.Client(), "Catalog", srv.URL); res.Passed {
		t.Fatal("expected 502 to fail")
	}
	if res := preflight.CheckEndpoint(context.Background(), srv.Client(), "Catalog", ""); res.Passed {
		t.Fatal("expected missing url to fail")
	}
}

func TestCheckTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	if res := preflight.CheckTCP(context.Background(), "Aggregator", addr); !res.Passed {
		t.Fatalf("expected pass, got %+v", res)
	}
	ln.Close()
	if res := preflight.CheckTCP(context.Background(), "Aggregator", addr); res.Passed {
		t.Fatal("expected closed listener to fail")
	}
}

type bucket struct{ err error }

func (b bucket) Ready(context.Context) error { return b.err }

type queue struct{ err error }

func (q queue) Ping() error { return q.err }

func TestRunAll(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := os.MkdirAll(cfg.Paths.IngestRoot, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfg.Queue.RedisAddr = "127.0.0.1:6379"

	results := preflight.RunAll(context.Background(), cfg, preflight.Probes{
		Partner: bucket{err: errors.New("access denied")},
		Queue:   queue{},
	})
	failed := preflight.Failed(results)
	if len(failed) != 1 || failed[0].Name != "Partner bucket" {
		t.Fatalf("unexpected failures %+v", failed)
	}
	names := map[string]bool{}
	for _, r := range results {
		names[r.Name] = true
	}
	for _, want := range []string{"Ingest root", "State directory", "Publish queue"} {
		if !names[want] {
			t.Fatalf("missing %s in %+v", want, results)
		}
	}
}
