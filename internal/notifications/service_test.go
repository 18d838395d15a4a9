package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"digipub/internal/config"
	"digipub/internal/notifications"
)

type sentMail struct {
	addr string
	from string
	to   []string
	body string
}

func captureMail(sent *[]sentMail) notifications.MailSender {
	return func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, body: string(msg)})
		return nil
	}
}

func mailConfig() config.Config {
	cfg := config.Default()
	cfg.Mail.SMTPHost = "smtp.example.edu"
	cfg.Mail.From = "digipub@example.edu"
	cfg.Publish.Managers = []string{"manager@example.edu"}
	cfg.Partner.Contacts = []string{"ingest@partner.example", "manager@example.edu"}
	cfg.Aggregator.Contact = "records@aggregator.example"
	return cfg
}

func TestNewServiceReturnsNoopWithoutTransports(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTestNotification, nil); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestBatchUploadedMailsPartnerAndManagers(t *testing.T) {
	cfg := mailConfig()
	var sent []sentMail
	svc := notifications.NewServiceWithSender(&cfg, captureMail(&sent))

	err := svc.Publish(context.Background(), notifications.EventBatchUploaded, notifications.Payload{
		"job":      "batch-7",
		"packages": []string{"010000000002", "010000000001"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(sent))
	}
	mail := sent[0]
	if mail.addr != "smtp.example.edu:25" || mail.from != "digipub@example.edu" {
		t.Fatalf("unexpected envelope %+v", mail)
	}
	if strings.Join(mail.to, ",") != "ingest@partner.example,manager@example.edu" {
		t.Fatalf("recipients = %v", mail.to)
	}
	if !strings.Contains(mail.body, "Subject: Batch batch-7 uploaded") {
		t.Fatalf("missing subject in %q", mail.body)
	}
	if !strings.Contains(mail.body, "010000000001\r\n010000000002") {
		t.Fatalf("package list not sorted in %q", mail.body)
	}
}

func TestAggregatorNoticeBody(t *testing.T) {
	cfg := mailConfig()
	var sent []sentMail
	svc := notifications.NewServiceWithSender(&cfg, captureMail(&sent))

	err := svc.Publish(context.Background(), notifications.EventAggregatorSubmitted, notifications.Payload{
		"file_name":    "emu_batch-7.xml",
		"file_size":    "2048",
		"record_count": "3",
		"notify":       "manager@example.edu",
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sent) != 1 || sent[0].to[0] != "records@aggregator.example" {
		t.Fatalf("unexpected mail %+v", sent)
	}
	for _, line := range []string{"file name=emu_batch-7.xml", "file size=2048", "record count=3", "notification email=manager@example.edu"} {
		if !strings.Contains(sent[0].body, line) {
			t.Fatalf("body missing %q: %q", line, sent[0].body)
		}
	}
}

func TestScanReportSkippedWhenNothingFailed(t *testing.T) {
	cfg := mailConfig()
	var sent []sentMail
	svc := notifications.NewServiceWithSender(&cfg, captureMail(&sent))
	if err := svc.Publish(context.Background(), notifications.EventScanReport, notifications.Payload{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(sent) != 0 {
		t.Fatalf("expected no mail, got %d", len(sent))
	}
}

func TestNtfyMirrorsEvents(t *testing.T) {
	var title, tags, priority, body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		title = r.Header.Get("Title")
		tags = r.Header.Get("Tags")
		priority = r.Header.Get("Priority")
		data, _ := io.ReadAll(r.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)

	err := svc.Publish(context.Background(), notifications.EventBatchFailed, notifications.Payload{
		"job":      "batch-9",
		"packages": []string{"010000000003"},
	})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if title != "Batch batch-9 failed to upload" || tags != "digipub,publish,failed" || priority != "high" {
		t.Fatalf("unexpected headers title=%q tags=%q priority=%q", title, tags, priority)
	}
	if !strings.Contains(body, "010000000003") {
		t.Fatalf("body = %q", body)
	}
}

func TestNtfyErrorStatusIsReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventTestNotification, nil); err == nil {
		t.Fatal("expected error from 403 response")
	}
}
