package typesense

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds synchronous calls (collection lookups, search, delete)
	DefaultTimeout = 2 * time.Second
	// DefaultImportTimeout bounds bulk imports, which the engine applies document by document
	DefaultImportTimeout = 60 * time.Second
	// DefaultMaxRPS paces outbound calls across the whole process
	DefaultMaxRPS = 20

	apiKeyHeader = "X-TYPESENSE-API-KEY"
)

// Document is an arbitrary tenant JSON object
type Document = map[string]interface{}

// Client talks to the Typesense REST API with the admin key
type Client struct {
	apiKey       string
	baseURL      string
	httpClient   *http.Client
	importClient *http.Client
	limiter      *rate.Limiter
	log          *zap.Logger
}

// Config holds configuration for the Typesense client
type Config struct {
	Host          string
	Port          int
	Protocol      string
	APIKey        string
	BaseURL       string // overrides Protocol/Host/Port when set
	Timeout       time.Duration
	ImportTimeout time.Duration
	MaxRPS        float64
	Logger        *zap.Logger
}

// NewClient creates a new Typesense API client
func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		protocol := config.Protocol
		if protocol == "" {
			protocol = "http"
		}
		config.BaseURL = fmt.Sprintf("%s://%s:%d", protocol, config.Host, config.Port)
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.ImportTimeout == 0 {
		config.ImportTimeout = DefaultImportTimeout
	}
	if config.MaxRPS <= 0 {
		config.MaxRPS = DefaultMaxRPS
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   config.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
	}

	burst := int(config.MaxRPS)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		apiKey:       config.APIKey,
		baseURL:      config.BaseURL,
		httpClient:   &http.Client{Transport: transport, Timeout: config.Timeout},
		importClient: &http.Client{Transport: transport, Timeout: config.ImportTimeout},
		limiter:      rate.NewLimiter(rate.Limit(config.MaxRPS), burst),
		log:          config.Logger,
	}
}

// APIError represents a non-2xx Typesense response
type APIError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("typesense error (status %d): %s", e.StatusCode, e.Message)
}

// ErrUnavailable marks transport level failures: the engine could not be reached at all
var ErrUnavailable = errors.New("typesense unavailable")

// IsNotFound reports whether err is a 404 from the engine
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsConflict reports whether err is a 409 from the engine
func IsConflict(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// IsRetryable reports whether a later attempt could succeed
func IsRetryable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusRequestTimeout ||
			apiErr.StatusCode == http.StatusTooManyRequests ||
			apiErr.StatusCode >= 500
	}
	return false
}

// doRequest performs a JSON request against the engine
func (c *Client) doRequest(ctx context.Context, method, endpoint string, query url.Values, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	respBody, err := c.send(ctx, c.httpClient, method, endpoint, query, "application/json", reqBody)
	if err != nil {
		return err
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}

// send paces, performs and checks one request, returning the raw body
func (c *Client) send(ctx context.Context, client *http.Client, method, endpoint string, query url.Values, contentType string, body io.Reader) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait cancelled: %w", err)
	}

	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrUnavailable, err)
	}

	c.log.Debug("typesense request",
		zap.String("method", method),
		zap.String("endpoint", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(respBody, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return nil, apiErr
	}

	return respBody, nil
}

// HealthCheck verifies the engine reports itself healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	var result struct {
		OK bool `json:"ok"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil, &result); err != nil {
		return err
	}
	if !result.OK {
		return fmt.Errorf("%w: health endpoint reported not ok", ErrUnavailable)
	}
	return nil
}
