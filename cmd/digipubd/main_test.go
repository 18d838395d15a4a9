package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestRootCommandReportsConfigErrors(t *testing.T) {
	cmd := newRootCommand()
	missing := filepath.Join(t.TempDir(), "missing.toml")
	cmd.SetArgs([]string{"--config", missing})
	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected defaults without required collaborators to fail validation")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Fatalf("unexpected error %v", err)
	}
}
