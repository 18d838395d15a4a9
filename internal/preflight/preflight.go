package preflight

import (
	"context"
	"strings"

	"digipub/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Probes carries the live collaborators the network checks use. A nil
// probe skips its check.
type Probes struct {
	HTTP    HTTPDoer
	Partner BucketProbe
	Queue   QueueProbe
}

// RunAll executes every applicable check for cfg.
func RunAll(ctx context.Context, cfg *config.Config, probes Probes) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Ingest root", cfg.Paths.IngestRoot),
		CheckDirectoryAccess("Process directory", cfg.Paths.ProcessDir),
		CheckDirectoryAccess("Aggregator directory", cfg.Paths.AggregatorDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
	}

	if probes.HTTP != nil {
		results = append(results,
			CheckEndpoint(ctx, probes.HTTP, "Catalog", cfg.Catalog.LookupURL),
			CheckEndpoint(ctx, probes.HTTP, "PID service", cfg.PID.BaseURL),
		)
	}
	if probes.Partner != nil {
		results = append(results, CheckBucket(ctx, probes.Partner))
	}
	if strings.TrimSpace(cfg.Aggregator.Address) != "" {
		results = append(results, CheckTCP(ctx, "Aggregator", cfg.Aggregator.Address))
	}
	if cfg.PublishQueueEnabled() && probes.Queue != nil {
		results = append(results, CheckQueue(probes.Queue, cfg.Queue.RedisAddr))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}
