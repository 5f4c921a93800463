package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	session "github.com/goliatone/go-session"
	"github.com/kbukum/gokit/httpclient"
)

const (
	// DefaultPath is the application database write endpoint.
	DefaultPath = "/users"
	// ConflictMessage is what the endpoint answers for duplicate accounts.
	ConflictMessage = "User already exists"

	defaultTimeout = 10 * time.Second
)

var _ session.AccountMirror = (*Client)(nil)

// Config describes the application database endpoint.
type Config struct {
	BaseURL string
	Path    string
	Timeout time.Duration
	// RetryAttempts enables transport retries when greater than one.
	RetryAttempts int
	Headers       map[string]string
}

// Client writes account records to the application database.
type Client struct {
	http   *httpclient.Adapter
	path   string
	logger session.Logger
}

// New builds a mirror client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, goerrors.New("mirror base url is required", goerrors.CategoryBadInput).
			WithTextCode("MIRROR_BASE_URL_REQUIRED")
	}

	o := buildOptions(opts...)
	_, logger := session.ResolveLogger("mirror", o.loggerProvider, o.logger)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpCfg := httpclient.Config{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		Timeout: timeout,
		Headers: cfg.Headers,
	}

	if cfg.RetryAttempts > 1 {
		retry := httpclient.DefaultRetryConfig()
		retry.MaxAttempts = cfg.RetryAttempts
		retry.RetryIf = isRetryable
		httpCfg.Retry = retry
	}

	client, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid mirror http configuration").
			WithTextCode("MIRROR_CONFIG_INVALID")
	}

	path := cfg.Path
	if path == "" {
		path = DefaultPath
	}

	return &Client{
		http:   client,
		path:   path,
		logger: logger,
	}, nil
}

// Mirror writes record with a single POST. A duplicate account is reported
// as a mirror conflict, every other failure as a mirror failure.
func (c *Client) Mirror(ctx context.Context, record session.AccountRecord) error {
	resp, err := c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   c.path,
		Headers: map[string]string{
			"Accept": "application/json",
		},
		Body: record,
	})

	if err == nil {
		c.logger.Debug("account mirrored", "email", record.Email, "status", resp.StatusCode)
		return nil
	}

	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusConflict || responseMessage(httpErr.Body) == ConflictMessage {
			return session.NewMirrorConflictError(record.Email)
		}

		return session.NewMirrorFailureError(err, map[string]any{
			"email":       record.Email,
			"status_code": httpErr.StatusCode,
			"error_code":  httpErr.Code.String(),
		})
	}

	return session.NewMirrorFailureError(err, map[string]any{
		"email": record.Email,
	})
}

func responseMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

// conflicts are final, everything transient is worth another attempt.
func isRetryable(err error) bool {
	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusConflict {
		return false
	}
	return httpclient.IsRetryable(err)
}
