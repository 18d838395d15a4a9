package testsupport

import (
	"context"
	"testing"

	"digipub/internal/config"
	"digipub/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewPackage inserts a package row with the given status.
func NewPackage(t testing.TB, st *store.Store, id, path string, status store.PackageStatus) *store.Package {
	t.Helper()

	pkg := &store.Package{ID: id, Path: path, Status: status}
	if err := st.CreatePackage(context.Background(), pkg); err != nil {
		t.Fatalf("store.CreatePackage: %v", err)
	}
	return pkg
}

// NewJob inserts a job and assigns the listed packages to it.
func NewJob(t testing.TB, st *store.Store, name string, packageIDs ...string) *store.Job {
	t.Helper()

	ctx := context.Background()
	job, err := st.CreateJob(ctx, name)
	if err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	for _, id := range packageIDs {
		if err := st.AssignPackage(ctx, id, job.ID); err != nil {
			t.Fatalf("store.AssignPackage: %v", err)
		}
	}
	return job
}
