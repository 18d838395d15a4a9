package aggregator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"digipub/internal/config"
	"digipub/internal/services"
)

const maxReportBytes = 1 << 20

// Transport moves collections to the aggregator and fetches its reports.
type Transport interface {
	Send(ctx context.Context, name string, body io.Reader) error
	FetchReport(ctx context.Context, jobName string) (string, error)
}

// FTPTransport is the aggregator's FTPS drop box.
type FTPTransport struct {
	cfg     config.Aggregator
	timeout time.Duration
}

// NewFTPTransport returns a transport for the configured drop box.
func NewFTPTransport(cfg config.Aggregator) *FTPTransport {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &FTPTransport{cfg: cfg, timeout: timeout}
}

func (t *FTPTransport) connect(ctx context.Context) (*ftp.ServerConn, error) {
	if strings.TrimSpace(t.cfg.Address) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "aggregator", "connect", "address not configured", nil)
	}
	opts := []ftp.DialOption{ftp.DialWithTimeout(t.timeout), ftp.DialWithContext(ctx)}
	if t.cfg.ExplicitTLS {
		host, _, err := net.SplitHostPort(t.cfg.Address)
		if err != nil {
			host = t.cfg.Address
		}
		opts = append(opts, ftp.DialWithExplicitTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}))
	}
	conn, err := ftp.Dial(t.cfg.Address, opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "aggregator", "connect", t.cfg.Address, err)
	}
	if err := conn.Login(t.cfg.Username, t.cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, classify("login", err)
	}
	return conn, nil
}

// Send stores body as name in the upload directory.
func (t *FTPTransport) Send(ctx context.Context, name string, body io.Reader) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Quit()

	target := path.Join(t.cfg.UploadDir, name)
	if err := conn.Stor(target, body); err != nil {
		return classify("send", err)
	}
	return nil
}

// FetchReport returns the newest report in the report directory whose name
// mentions jobName. No report yet yields ErrNotFound.
func (t *FTPTransport) FetchReport(ctx context.Context, jobName string) (string, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return "", err
	}
	defer conn.Quit()

	dir := t.cfg.ReportDir
	if dir == "" {
		dir = "."
	}
	names, err := conn.NameList(dir)
	if err != nil {
		return "", classify("list reports", err)
	}
	name := SelectReport(names, jobName)
	if name == "" {
		return "", services.Wrap(services.ErrNotFound, "aggregator", "fetch report", "no report for "+jobName, nil)
	}
	resp, err := conn.Retr(path.Join(dir, path.Base(name)))
	if err != nil {
		return "", classify("fetch report", err)
	}
	defer resp.Close()
	data, err := io.ReadAll(io.LimitReader(resp, maxReportBytes))
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "aggregator", "fetch report", name, err)
	}
	return string(data), nil
}

// SelectReport picks the last (by name) entry of names that mentions jobName.
func SelectReport(names []string, jobName string) string {
	var matches []string
	for _, n := range names {
		if strings.Contains(path.Base(n), jobName) {
			matches = append(matches, n)
		}
	}
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

func classify(operation string, err error) error {
	var protoErr *textproto.Error
	var netErr net.Error
	switch {
	case errors.As(err, &protoErr):
		switch {
		case protoErr.Code == ftp.StatusNotLoggedIn:
			return services.Wrap(services.ErrConfiguration, "aggregator", operation, "login rejected", err)
		case protoErr.Code >= 400 && protoErr.Code < 500:
			return services.Wrap(services.ErrTransient, "aggregator", operation, fmt.Sprintf("reply %d", protoErr.Code), err)
		default:
			return services.Wrap(services.ErrProtocol, "aggregator", operation, fmt.Sprintf("reply %d", protoErr.Code), err)
		}
	case errors.As(err, &netErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return services.Wrap(services.ErrTransient, "aggregator", operation, "", err)
	default:
		return services.Wrap(services.ErrProtocol, "aggregator", operation, "", err)
	}
}
