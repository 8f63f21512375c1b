// Package jobsapi is the outbound HTTP client to the external Jobs site
// (spec §6): one call to register a release, then one call per file to
// upload its bytes. Both calls share a token-bucket rate limiter so a
// backlog of releases after a busy review day cannot overrun the upstream.
package jobsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opensafely-core/airlock/internal/apierror"
	"golang.org/x/time/rate"
	"k8s.io/klog/v2"
)

// Outcome classifies the result of an upload attempt for the caller's
// retry decision.
type Outcome int

const (
	// OutcomeSuccess covers 2xx and the "already uploaded" 303/409 cases.
	OutcomeSuccess Outcome = iota
	// OutcomePermanent covers any other 4xx: retrying would not help.
	OutcomePermanent
	// OutcomeTransient covers 5xx and network failures: worth retrying.
	OutcomeTransient
)

// ReleaseFile describes one file in a release-creation request.
type ReleaseFile struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	SHA256     string `json:"sha256"`
	FileType   string `json:"filetype"`
	ReleasedBy string `json:"released_by"`
}

type createReleaseRequest struct {
	Files []ReleaseFile `json:"files"`
}

type createReleaseResponse struct {
	ReleaseID string `json:"release_id"`
	URL       string `json:"url"`
}

// Client talks to the external Jobs site's release/upload endpoints.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Config configures a Client.
type Config struct {
	Endpoint       string
	Token          string
	RequestTimeout time.Duration
	RateLimit      rate.Limit
	Burst          int
}

// New constructs a Client. RequestTimeout defaults to 30s, matching the
// per-attempt timeout of spec §5; RateLimit/Burst default to a
// conservative 5 req/s, burst 10.
func New(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rl := cfg.RateLimit
	if rl <= 0 {
		rl = rate.Limit(5)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rl, burst),
	}
}

// CreateRelease implements `POST /api/v2/releases/workspace/{workspace}`.
func (c *Client) CreateRelease(ctx context.Context, workspace string, files []ReleaseFile) (releaseID, releaseURL string, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", apierror.NewTimeout("rate limiter wait cancelled")
	}

	body, err := json.Marshal(createReleaseRequest{Files: files})
	if err != nil {
		return "", "", apierror.NewInternal(err)
	}
	url := fmt.Sprintf("%s/api/v2/releases/workspace/%s", c.endpoint, workspace)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", "", apierror.NewInternal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", apierror.NewUpstream(0, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", "", apierror.NewUpstream(resp.StatusCode, "release creation failed transiently")
	}
	if resp.StatusCode >= 400 {
		return "", "", apierror.NewUpstream(resp.StatusCode, "release creation rejected")
	}

	var out createReleaseResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", apierror.NewInternal(err)
	}
	return out.ReleaseID, out.URL, nil
}

// UploadFile implements `POST {release_url}`: uploads one file's bytes and
// classifies the result for the caller's retry policy.
func (c *Client) UploadFile(ctx context.Context, releaseURL, relpath, contentHash string, content io.Reader) Outcome {
	if err := c.limiter.Wait(ctx); err != nil {
		return OutcomeTransient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, releaseURL, content)
	if err != nil {
		klog.ErrorS(err, "failed to build upload request", "relpath", relpath)
		return OutcomePermanent
	}
	req.Header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", relpath))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Content-SHA256", contentHash)
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		klog.InfoS("upload attempt failed transiently", "relpath", relpath, "err", err)
		return OutcomeTransient
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return OutcomeSuccess
	case resp.StatusCode == http.StatusSeeOther || resp.StatusCode == http.StatusConflict:
		// Already uploaded — treated as success per spec §4.7.
		return OutcomeSuccess
	case resp.StatusCode >= 500:
		return OutcomeTransient
	default:
		klog.InfoS("upload permanently rejected", "relpath", relpath, "status", resp.StatusCode)
		return OutcomePermanent
	}
}
