package workflow

import (
	"context"
	"fmt"

	"digipub/internal/config"
	"digipub/internal/feedback"
	"digipub/internal/lifecycle"
)

// Pass names.
const (
	PassScan            = "scan"
	PassPartnerCheck    = "partner_check"
	PassAggregatorCheck = "aggregator_check"
	PassRollup          = "rollup"
	PassCatalogCheck    = "catalog_check"
)

// Scanner discovers and validates packages.
type Scanner interface {
	Scan(ctx context.Context) (*lifecycle.ScanReport, error)
}

// Checker runs the feedback sweeps.
type Checker interface {
	CheckPartnerVisibility(ctx context.Context) (*feedback.VisibilityReport, error)
	CheckAggregatorReport(ctx context.Context) (*feedback.AggregatorReport, error)
	RollupJobCompletion(ctx context.Context) ([]string, error)
	CheckCatalogConfirmation(ctx context.Context) ([]string, error)
}

// StandardPasses builds the daemon's passes with their configured schedules.
// A nil checker leaves out the feedback passes.
func StandardPasses(schedule config.Schedule, scanner Scanner, checker Checker) []Pass {
	var passes []Pass
	if scanner != nil {
		passes = append(passes, Pass{Name: PassScan, Spec: schedule.Scan, Run: func(ctx context.Context) (string, error) {
			report, err := scanner.Scan(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("created=%d moved=%d invalid=%d failed=%d",
				len(report.Created), len(report.Moved), len(report.Invalid), len(report.Failed)), nil
		}})
	}
	if checker == nil {
		return passes
	}
	return append(passes,
		Pass{Name: PassPartnerCheck, Spec: schedule.PartnerCheck, Run: func(ctx context.Context) (string, error) {
			report, err := checker.CheckPartnerVisibility(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("checked=%d accepted=%d catalog_failed=%d",
				report.Checked, len(report.Accepted), len(report.CatalogFailed)), nil
		}},
		Pass{Name: PassAggregatorCheck, Spec: schedule.AggregatorCheck, Run: func(ctx context.Context) (string, error) {
			report, err := checker.CheckAggregatorReport(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("accepted=%d rejected=%d waiting=%d failed=%d",
				len(report.Accepted), len(report.Rejected), len(report.Waiting), len(report.Failed)), nil
		}},
		Pass{Name: PassRollup, Spec: schedule.Rollup, Run: func(ctx context.Context) (string, error) {
			jobs, err := checker.RollupJobCompletion(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("processed_by_partner=%d", len(jobs)), nil
		}},
		Pass{Name: PassCatalogCheck, Spec: schedule.CatalogCheck, Run: func(ctx context.Context) (string, error) {
			ids, err := checker.CheckCatalogConfirmation(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("confirmed=%d", len(ids)), nil
		}},
	)
}

// RegisterAll registers each pass.
func (m *Manager) RegisterAll(passes []Pass) error {
	for _, pass := range passes {
		if err := m.Register(pass); err != nil {
			return err
		}
	}
	return nil
}
