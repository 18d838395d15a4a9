package fileutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	content := []byte("hello world")
	if err := os.WriteFile(src, content, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(src, dst); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Fatalf("content mismatch: got %q, want %q", got, content)
	}
}

func TestCopyFileVerifiedReturnsDigest(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "page.tif")
	dst := filepath.Join(dir, "out", "00000001.tif")
	if err := os.WriteFile(src, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	sum, err := CopyFileVerified(src, dst)
	if err != nil {
		t.Fatalf("CopyFileVerified: %v", err)
	}
	if sum != "5eb63bbbe01eeed093cb22bb8f5acdc3" {
		t.Fatalf("unexpected digest %s", sum)
	}
	if _, err := os.Stat(dst); err != nil {
		t.Fatalf("expected destination: %v", err)
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if _, err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestMD5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	sum, err := MD5File(path)
	if err != nil {
		t.Fatal(err)
	}
	if sum != "d41d8cd98f00b204e9800998ecf8427e" {
		t.Fatalf("unexpected digest %s", sum)
	}
}

func TestCreationTime(t *testing.T) {
	dir := t.TempDir()
	got, err := CreationTime(dir)
	if err != nil {
		t.Fatalf("CreationTime: %v", err)
	}
	if time.Since(got) > time.Hour || time.Until(got) > time.Minute {
		t.Fatalf("unexpected creation time %v", got)
	}
	if _, err := CreationTime(filepath.Join(dir, "missing")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
