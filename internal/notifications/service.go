package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"digipub/internal/config"
)

const userAgent = "digipub/0.1.0"

// Event identifies a pipeline milestone.
type Event string

const (
	EventScanReport          Event = "scan_report"
	EventBatchUploaded       Event = "batch_uploaded"
	EventBatchFailed         Event = "batch_failed"
	EventAggregatorSubmitted Event = "aggregator_submitted"
	EventAggregatorFailed    Event = "aggregator_failed"
	EventCatalogUpdateFailed Event = "catalog_update_failed"
	EventTestNotification    Event = "test"
)

// Payload carries event details. String slices are rendered one per line.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// message is a rendered event.
type message struct {
	subject  string
	body     string
	to       []string
	tags     []string
	priority string
}

type sink interface {
	deliver(ctx context.Context, msg message) error
}

// NewService builds the configured fan-out. Mail goes through net/smtp's
// SendMail.
func NewService(cfg *config.Config) Service {
	return NewServiceWithSender(cfg, nil)
}

// NewServiceWithSender is NewService with an explicit mail transport.
func NewServiceWithSender(cfg *config.Config, send MailSender) Service {
	if cfg == nil {
		return noopService{}
	}
	svc := &fanout{
		managers:          trimmed(cfg.Publish.Managers),
		partnerContacts:   trimmed(cfg.Partner.Contacts),
		aggregatorContact: strings.TrimSpace(cfg.Aggregator.Contact),
	}
	if host := strings.TrimSpace(cfg.Mail.SMTPHost); host != "" && strings.TrimSpace(cfg.Mail.From) != "" {
		svc.sinks = append(svc.sinks, newMailer(cfg.Mail, send))
	}
	if topic := strings.TrimSpace(cfg.Notifications.NtfyTopic); topic != "" {
		timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		svc.sinks = append(svc.sinks, &ntfySink{endpoint: topic, client: &http.Client{Timeout: timeout}})
	}
	if len(svc.sinks) == 0 {
		return noopService{}
	}
	return svc
}

type fanout struct {
	sinks             []sink
	managers          []string
	partnerContacts   []string
	aggregatorContact string
}

func (f *fanout) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := f.render(event, payload)
	if !ok {
		return nil
	}
	var errs []error
	for _, s := range f.sinks {
		if err := s.deliver(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) render(event Event, payload Payload) (message, bool) {
	switch event {
	case EventScanReport:
		bad := payload.list("packages")
		if len(bad) == 0 {
			return message{}, false
		}
		return message{
			subject: fmt.Sprintf("digipub scan: %d package(s) need attention", len(bad)),
			body:    "The following packages failed to load or did not validate:\n\n" + strings.Join(bad, "\n"),
			to:      f.managers,
			tags:    []string{"digipub", "scan", "invalid"},
		}, true
	case EventBatchUploaded:
		ids := payload.list("packages")
		return message{
			subject: fmt.Sprintf("Batch %s uploaded", payload.str("job")),
			body:    "The following volumes have been uploaded and are ready:\n\n" + strings.Join(ids, "\n"),
			to:      union(f.partnerContacts, f.managers),
			tags:    []string{"digipub", "publish", "completed"},
		}, true
	case EventBatchFailed:
		return message{
			subject:  fmt.Sprintf("Batch %s failed to upload", payload.str("job")),
			body:     "These packages exhausted their upload attempts:\n\n" + strings.Join(payload.list("packages"), "\n"),
			to:       f.managers,
			tags:     []string{"digipub", "publish", "failed"},
			priority: "high",
		}, true
	case EventAggregatorSubmitted:
		body := fmt.Sprintf("file name=%s\nfile size=%s\nrecord count=%s\nnotification email=%s\n",
			payload.str("file_name"), payload.str("file_size"), payload.str("record_count"), payload.str("notify"))
		return message{
			subject: "File transmission notification",
			body:    body,
			to:      []string{f.aggregatorContact},
			tags:    []string{"digipub", "aggregator", "submitted"},
		}, f.aggregatorContact != ""
	case EventAggregatorFailed:
		return message{
			subject:  fmt.Sprintf("Batch %s could not be sent to the aggregator", payload.str("job")),
			body:     payload.str("error"),
			to:       f.managers,
			tags:     []string{"digipub", "aggregator", "failed"},
			priority: "high",
		}, true
	case EventCatalogUpdateFailed:
		return message{
			subject:  fmt.Sprintf("Catalog update failed for %s", payload.str("package")),
			body:     payload.str("error"),
			to:       f.managers,
			tags:     []string{"digipub", "catalog", "failed"},
			priority: "high",
		}, true
	case EventTestNotification:
		return message{
			subject:  "digipub test notification",
			body:     "Notification system test",
			to:       f.managers,
			tags:     []string{"digipub", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (p Payload) str(key string) string {
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) list(key string) []string {
	switch v := p[key].(type) {
	case []string:
		out := append([]string(nil), v...)
		sort.Strings(out)
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func union(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
