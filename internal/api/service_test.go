package api_test

import (
	"context"
	"errors"
	"testing"

	"digipub/internal/api"
	"digipub/internal/services"
	"digipub/internal/store"
	"digipub/internal/testsupport"
	"digipub/internal/workflow"
)

func openService(t *testing.T) *api.Service {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	svc, err := api.Open(cfg, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestJobsAndAssignment(t *testing.T) {
	svc := openService(t)
	ctx := context.Background()
	testsupport.NewPackage(t, svc.Store, "010002643210", "/ingest/batch", store.PackageValid)
	testsupport.NewPackage(t, svc.Store, "010002643211", "/ingest/batch", store.PackageInvalid)

	if _, err := svc.CreateJob(ctx, "batch-1"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := svc.CreateJob(ctx, "batch-1"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	view, err := svc.AssignPackage(ctx, "010002643210", "batch-1")
	if err != nil {
		t.Fatalf("AssignPackage: %v", err)
	}
	if view.Job != "batch-1" {
		t.Fatalf("job = %q", view.Job)
	}
	if _, err := svc.AssignPackage(ctx, "010002643211", "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	members, err := svc.ListPackages(ctx, "", "batch-1")
	if err != nil {
		t.Fatalf("ListPackages: %v", err)
	}
	if len(members) != 1 || members[0].ID != "010002643210" {
		t.Fatalf("unexpected members %+v", members)
	}

	invalid, err := svc.ListPackages(ctx, "invalid", "")
	if err != nil || len(invalid) != 1 || invalid[0].Job != "" {
		t.Fatalf("invalid = %+v, %v", invalid, err)
	}
	if _, err := svc.ListPackages(ctx, "bogus", ""); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	job, err := svc.SetJobStatus(ctx, "batch-1", "processed")
	if err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}
	if job.Status != "processed" || len(job.Packages) != 1 {
		t.Fatalf("unexpected job %+v", job)
	}

	unassigned, err := svc.AssignPackage(ctx, "010002643210", "")
	if err != nil || unassigned.Job != "" {
		t.Fatalf("unassign = %+v, %v", unassigned, err)
	}
}

func TestDescribePackageNotFound(t *testing.T) {
	svc := openService(t)
	if _, err := svc.DescribePackage(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusCountsEveryStatus(t *testing.T) {
	svc := openService(t)
	testsupport.NewPackage(t, svc.Store, "010002643210", "/ingest/batch", store.PackageValid)
	testsupport.NewJob(t, svc.Store, "batch-1", "010002643210")

	summary, err := svc.Status(context.Background(), false)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if summary.Packages["valid"] != 1 || summary.Packages["uploaded"] != 0 {
		t.Fatalf("packages = %v", summary.Packages)
	}
	if _, ok := summary.Packages["upload_failed"]; !ok {
		t.Fatal("expected zero entries for every package status")
	}
	if summary.Jobs["new"] != 1 {
		t.Fatalf("jobs = %v", summary.Jobs)
	}
	if summary.Queue.Enabled {
		t.Fatal("queue should be disabled without redis")
	}
	if len(summary.Passes) != 5 {
		t.Fatalf("passes = %+v", summary.Passes)
	}
}

func TestRunPassUnknown(t *testing.T) {
	svc := openService(t)
	if _, err := svc.RunPass(context.Background(), "nope"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.RunPass(context.Background(), workflow.PassRollup); err != nil {
		t.Fatalf("rollup: %v", err)
	}
}

func TestRemoveJobUnassignsPackages(t *testing.T) {
	svc := openService(t)
	ctx := context.Background()
	testsupport.NewPackage(t, svc.Store, "010002643210", "/ingest/batch", store.PackageValid)
	if _, err := svc.CreateJob(ctx, "batch-1"); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if _, err := svc.AssignPackage(ctx, "010002643210", "batch-1"); err != nil {
		t.Fatalf("AssignPackage: %v", err)
	}

	if err := svc.RemoveJob(ctx, "batch-1"); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	view, err := svc.DescribePackage(ctx, "010002643210")
	if err != nil {
		t.Fatalf("DescribePackage: %v", err)
	}
	if view.Job != "" {
		t.Fatalf("expected package unassigned, job=%q", view.Job)
	}

	if err := svc.RemovePackage(ctx, "010002643210"); err != nil {
		t.Fatalf("RemovePackage: %v", err)
	}
	if err := svc.RemovePackage(ctx, "010002643210"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSetJobStatusEnforcesMemberInvariants(t *testing.T) {
	svc := openService(t)
	ctx := context.Background()
	testsupport.NewPackage(t, svc.Store, "010002643210", "/ingest/batch", store.PackageValid)
	testsupport.NewJob(t, svc.Store, "batch-1", "010002643210")

	for _, status := range []string{"being_processed", "processed_by_partner", "uploading"} {
		if _, err := svc.SetJobStatus(ctx, "batch-1", status); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", status, err)
		}
	}
	job, err := svc.DescribeJob(ctx, "batch-1")
	if err != nil {
		t.Fatalf("DescribeJob: %v", err)
	}
	if job.Status != "new" {
		t.Fatalf("status = %q, want new", job.Status)
	}

	if err := svc.Store.SetPackageStatus(ctx, "010002643210", store.PackageUploaded); err != nil {
		t.Fatalf("SetPackageStatus: %v", err)
	}
	job, err = svc.SetJobStatus(ctx, "batch-1", "being_processed")
	if err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}
	if job.Status != "being_processed" {
		t.Fatalf("status = %q", job.Status)
	}
	if _, err := svc.SetJobStatus(ctx, "batch-1", "processed_by_partner"); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error before partner acceptance, got %v", err)
	}
}

func TestPublishJobRequiresAggregatorClearance(t *testing.T) {
	svc := openService(t)
	ctx := context.Background()
	testsupport.NewPackage(t, svc.Store, "010002643210", "/ingest/batch", store.PackageValid)
	testsupport.NewJob(t, svc.Store, "batch-1", "010002643210")

	for _, status := range []store.JobStatus{store.JobNew, store.JobWaitingOnAggregator, store.JobBeingProcessed} {
		job, err := svc.Store.GetJobByName(ctx, "batch-1")
		if err != nil {
			t.Fatalf("GetJobByName: %v", err)
		}
		if err := svc.Store.SetJobStatus(ctx, job.ID, status); err != nil {
			t.Fatalf("SetJobStatus: %v", err)
		}
		if _, err := svc.PublishJob(ctx, "batch-1"); !errors.Is(err, services.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", status, err)
		}
		pkg, err := svc.DescribePackage(ctx, "010002643210")
		if err != nil {
			t.Fatalf("DescribePackage: %v", err)
		}
		if pkg.Status != "valid" || pkg.PID != "" {
			t.Fatalf("%s: package touched: %+v", status, pkg)
		}
	}
}
