// Package partner delivers archives to the preservation partner's object
// store and checks whether published volumes are publicly visible.
package partner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"digipub/internal/config"
	"digipub/internal/services"
)

// ObjectStore is the subset of the S3 API used for delivery. *minio.Client
// satisfies it.
type ObjectStore interface {
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	FPutObject(ctx context.Context, bucket, key, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	BucketExists(ctx context.Context, bucket string) (bool, error)
}

// HTTPDoer describes the HTTP client used for visibility checks.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Receipt is the partner's acknowledgement of a stored archive.
type Receipt struct {
	Key  string
	Size int64
	MD5  string
}

// Client uploads archives and probes public URLs.
type Client struct {
	store  ObjectStore
	bucket string
	stub   string
	http   HTTPDoer
}

// NewClient connects to the partner endpoint described by cfg.
func NewClient(cfg config.Partner) (*Client, error) {
	store, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "partner", "connect", cfg.Endpoint, err)
	}
	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return New(cfg, store, &http.Client{Timeout: timeout}), nil
}

// New wires a client around explicit collaborators.
func New(cfg config.Partner, store ObjectStore, doer HTTPDoer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{
		store:  store,
		bucket: strings.TrimSpace(cfg.Bucket),
		stub:   strings.TrimSpace(cfg.PublicURLStub),
		http:   doer,
	}
}

// Ready verifies the delivery bucket is reachable with the configured credentials.
func (c *Client) Ready(ctx context.Context) error {
	ok, err := c.store.BucketExists(ctx, c.bucket)
	if err != nil {
		return classify("ready", c.bucket, err)
	}
	if !ok {
		return services.Wrap(services.ErrConfiguration, "partner", "ready", fmt.Sprintf("bucket %q does not exist", c.bucket), nil)
	}
	return nil
}

// ObjectKey returns the key a package archive is stored under.
func ObjectKey(archivePath string) string {
	return filepath.Base(archivePath)
}

// Exists reports whether key is already stored and returns its receipt.
func (c *Client) Exists(ctx context.Context, key string) (*Receipt, bool, error) {
	info, err := c.store.StatObject(ctx, c.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, classify("stat", key, err)
	}
	return &Receipt{Key: info.Key, Size: info.Size, MD5: normalizeETag(info.ETag)}, true, nil
}

// Upload stores the archive under its object key. When the partner already
// holds an object for the key it returns a *services.ConflictError naming it
// and leaves the stored object untouched. The confirmed digest must equal
// expectedMD5.
func (c *Client) Upload(ctx context.Context, archivePath string, expectedSize int64, expectedMD5 string) (*Receipt, error) {
	key := ObjectKey(archivePath)
	if _, exists, err := c.Exists(ctx, key); err != nil {
		return nil, err
	} else if exists {
		return nil, &services.ConflictError{ExistingID: key}
	}
	return c.put(ctx, key, archivePath, expectedSize, expectedMD5)
}

// Overwrite replaces the stored object existingID with the archive.
func (c *Client) Overwrite(ctx context.Context, existingID, archivePath string, expectedSize int64, expectedMD5 string) (*Receipt, error) {
	return c.put(ctx, existingID, archivePath, expectedSize, expectedMD5)
}

func (c *Client) put(ctx context.Context, key, archivePath string, expectedSize int64, expectedMD5 string) (*Receipt, error) {
	info, err := c.store.FPutObject(ctx, c.bucket, key, archivePath, minio.PutObjectOptions{
		ContentType:      "application/zip",
		SendContentMd5:   true,
		DisableMultipart: true,
	})
	if err != nil {
		return nil, classify("upload", key, err)
	}
	receipt := &Receipt{Key: key, Size: info.Size, MD5: normalizeETag(info.ETag)}
	if expectedSize > 0 && receipt.Size != expectedSize {
		return receipt, services.Wrap(services.ErrChecksum, "partner", "upload",
			fmt.Sprintf("%s stored %d bytes, expected %d", key, receipt.Size, expectedSize), nil)
	}
	if !strings.EqualFold(receipt.MD5, expectedMD5) {
		return receipt, services.Wrap(services.ErrChecksum, "partner", "upload",
			fmt.Sprintf("%s confirmed %s, expected %s", key, receipt.MD5, expectedMD5), nil)
	}
	return receipt, nil
}

// PublicURL returns the partner's public page for a package id.
func (c *Client) PublicURL(id string) string {
	return c.stub + id
}

// Head issues a HEAD request against publicURL and returns the status code.
func (c *Client) Head(ctx context.Context, publicURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, publicURL, nil)
	if err != nil {
		return 0, services.Wrap(services.ErrConfiguration, "partner", "head", publicURL, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "partner", "head", publicURL, err)
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

// IsVisible reports whether the package's public page answers with 200.
func (c *Client) IsVisible(ctx context.Context, id string) (bool, error) {
	status, err := c.Head(ctx, c.PublicURL(id))
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func normalizeETag(etag string) string {
	return strings.ToLower(strings.Trim(etag, `"`))
}

func classify(operation, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return services.Wrap(services.ErrValidation, "partner", operation, key, err)
	}
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "":
		// Not an S3 error response: connection, DNS or timeout.
		return services.Wrap(services.ErrTransient, "partner", operation, key, err)
	case resp.StatusCode >= http.StatusInternalServerError,
		resp.Code == "SlowDown", resp.Code == "RequestTimeout", resp.Code == "ServiceUnavailable":
		return services.Wrap(services.ErrTransient, "partner", operation, key, err)
	case resp.Code == "AccessDenied", resp.Code == "InvalidAccessKeyId",
		resp.Code == "SignatureDoesNotMatch", resp.Code == "NoSuchBucket":
		return services.Wrap(services.ErrConfiguration, "partner", operation, key, err)
	case resp.Code == "BadDigest", resp.Code == "InvalidDigest":
		return services.Wrap(services.ErrChecksum, "partner", operation, key, err)
	default:
		return services.Wrap(services.ErrProtocol, "partner", operation, key, err)
	}
}
