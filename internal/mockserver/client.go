package mockserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"mockpit/internal/models"
)

// API is the slice of the mock server admin surface the sync engine needs.
// Implementations must be safe for concurrent use.
type API interface {
	ListMappings(ctx context.Context) ([]*models.Mapping, error)
	GetMapping(ctx context.Context, id string) (*models.Mapping, error)
	CreateMapping(ctx context.Context, m *models.Mapping) (*models.Mapping, error)
	UpdateMapping(ctx context.Context, id string, m *models.Mapping) (*models.Mapping, error)
	DeleteMapping(ctx context.Context, id string) error
	FindByMetadata(ctx context.Context, query map[string]any) ([]*models.Mapping, error)
	ResetMappings(ctx context.Context) error
	PersistMappings(ctx context.Context) error
}

// Options tunes the admin client. Zero values fall back to sane defaults.
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	RequestsPerSec float64
}

// Client talks to the mock server admin API under {base}/__admin.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *logrus.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient builds a Client for the given base URL (scheme://host[:port],
// without the /__admin suffix).
func NewClient(baseURL string, opts Options) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	rps := opts.RequestsPerSec
	if rps <= 0 {
		rps = 20
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(rps), int(rps)),
		logger:     logger,
		maxRetries: retries,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

// ListMappings fetches the complete remote mapping set.
func (c *Client) ListMappings(ctx context.Context) ([]*models.Mapping, error) {
	raw, err := c.doRaw(ctx, http.MethodGet, "/__admin/mappings", nil)
	if err != nil {
		return nil, err
	}
	return DecodeMappingList(raw)
}

// GetMapping fetches one mapping by id.
func (c *Client) GetMapping(ctx context.Context, id string) (*models.Mapping, error) {
	var m models.Mapping
	if err := c.doJSON(ctx, http.MethodGet, "/__admin/mappings/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateMapping registers a new mapping and returns the stored record.
func (c *Client) CreateMapping(ctx context.Context, m *models.Mapping) (*models.Mapping, error) {
	var created models.Mapping
	if err := c.doJSON(ctx, http.MethodPost, "/__admin/mappings", m, &created); err != nil {
		return nil, err
	}
	if models.ExtractIdentifiers(&created).Empty() {
		// Some server versions answer creates with an empty body.
		return m.Clone(), nil
	}
	return &created, nil
}

// UpdateMapping replaces a mapping by id and returns the stored record.
func (c *Client) UpdateMapping(ctx context.Context, id string, m *models.Mapping) (*models.Mapping, error) {
	var updated models.Mapping
	if err := c.doJSON(ctx, http.MethodPut, "/__admin/mappings/"+url.PathEscape(id), m, &updated); err != nil {
		return nil, err
	}
	if models.ExtractIdentifiers(&updated).Empty() {
		return m.Clone(), nil
	}
	return &updated, nil
}

// DeleteMapping removes a mapping by id. Deleting an id the server no longer
// holds yields ErrNotFound.
func (c *Client) DeleteMapping(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/__admin/mappings/"+url.PathEscape(id), nil, nil)
}

// FindByMetadata searches mappings whose metadata matches the given content
// pattern.
func (c *Client) FindByMetadata(ctx context.Context, query map[string]any) ([]*models.Mapping, error) {
	raw, err := c.doRaw(ctx, http.MethodPost, "/__admin/mappings/find-by-metadata", query)
	if err != nil {
		return nil, err
	}
	return DecodeMappingList(raw)
}

// ResetMappings restores the server's mapping set to its backing store.
func (c *Client) ResetMappings(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/__admin/mappings/reset", nil, nil)
}

// PersistMappings asks the server to save its in-memory mappings to the
// backing store.
func (c *Client) PersistMappings(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/__admin/mappings/save", nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	raw, err := c.doRaw(ctx, method, requestPath, body)
	if err != nil {
		return err
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (c *Client) doRaw(ctx context.Context, method, requestPath string, body any) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, err
		}
	}

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, requestPath, err)
		}

		payload, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return payload, nil
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			c.logger.WithFields(logrus.Fields{
				"method":  method,
				"path":    requestPath,
				"status":  resp.StatusCode,
				"attempt": attempt + 1,
			}).Warn("admin api request retrying")
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}

		var errPayload struct {
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(payload, &errPayload)
		message := errPayload.Message
		if message == "" {
			message = errPayload.Error
		}
		c.logger.WithFields(logrus.Fields{
			"method": method,
			"path":   requestPath,
			"status": resp.StatusCode,
		}).Error("admin api request failed")
		return nil, &StatusError{StatusCode: resp.StatusCode, Message: message}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.maxDelay {
			return c.maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
