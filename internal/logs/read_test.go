package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"digipub/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "digipubd.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestReadTailWindow(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	page, err := logs.Read(context.Background(), path, logs.Query{Offset: -1, Lines: 2})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 2 || page.Lines[0] != "b" || page.Lines[1] != "c" {
		t.Fatalf("unexpected lines %#v", page.Lines)
	}
	if page.Offset != 6 {
		t.Fatalf("offset = %d", page.Offset)
	}
}

func TestReadMatchFiltersLines(t *testing.T) {
	path := writeLog(t, "pass=scan started\npass=rollup started\npass=scan done\n")

	page, err := logs.Read(context.Background(), path, logs.Query{Offset: -1, Lines: 10, Match: []string{"pass=scan"}})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 2 || page.Lines[1] != "pass=scan done" {
		t.Fatalf("unexpected lines %#v", page.Lines)
	}
}

func TestReadSkipsPartialLine(t *testing.T) {
	path := writeLog(t, "whole\npart")

	page, err := logs.Read(context.Background(), path, logs.Query{Offset: 0})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 1 || page.Offset != 6 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestReadMissingFile(t *testing.T) {
	page, err := logs.Read(context.Background(), filepath.Join(t.TempDir(), "absent.log"), logs.Query{Offset: -1, Lines: 5})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(page.Lines) != 0 || page.Offset != 0 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestReadWaitsForAppendedLines(t *testing.T) {
	path := writeLog(t, "start\n")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	done := make(chan logs.Page, 1)
	go func() {
		page, err := logs.Read(ctx, path, logs.Query{Offset: 6, Wait: 5 * time.Second})
		if err != nil {
			t.Errorf("Read: %v", err)
		}
		done <- page
	}()

	time.Sleep(200 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = f.Close()

	select {
	case page := <-done:
		if len(page.Lines) != 1 || page.Lines[0] != "later" {
			t.Fatalf("unexpected lines %#v", page.Lines)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("read did not return")
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	path := writeLog(t, "one\ntwo\n")
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	errCh := make(chan error, 1)
	go func() {
		errCh <- logs.Follow(ctx, path, logs.Query{Offset: -1, Lines: 5}, func(line string) { got = append(got, line) })
	}()
	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Follow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("follow did not stop")
	}
	if len(got) != 2 || got[0] != "one" {
		t.Fatalf("unexpected lines %#v", got)
	}
}
