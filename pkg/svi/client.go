// Package svi is the HTTP client of the upstream SVI model service.
package svi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gregtusar/volsurface/pkg/metrics"
	"github.com/gregtusar/volsurface/pkg/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	endpointAllSlices = "/api/allslices"
	endpointOneSlice  = "/api/oneslice"

	OptionTypeCall = "call"
	OptionTypePut  = "put"
)

// Client fetches model output for one instrument.
type Client interface {
	AllSlices(ctx context.Context, symbol string) ([]models.Sample, error)
	OneSlice(ctx context.Context, symbol string, t models.Maturity, optionType string) (*models.Slice, error)
}

// APIError is returned for non-2xx responses from the model service.
type APIError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model service %s returned %d: %s", e.Endpoint, e.Status, e.Body)
}

type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	limiter    *rate.Limiter
	logger     *logrus.Logger
	metrics    *metrics.Metrics
}

type Option func(*HTTPClient)

func WithAuthenticator(a Authenticator) Option {
	return func(c *HTTPClient) { c.auth = a }
}

// WithRateLimit caps the request rate to the model service.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *HTTPClient) {
		if perSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.httpClient.Timeout = d }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.httpClient = h }
}

func WithLogger(l *logrus.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *HTTPClient) { c.metrics = m }
}

func NewHTTPClient(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sampleRecord struct {
	K  *float64 `json:"k"`
	TJ *float64 `json:"tj"`
	W  *float64 `json:"w"`
}

type allSlicesResponse struct {
	SlicesDF []sampleRecord `json:"slices_df"`
}

// AllSlices returns the scattered dataset of symbol across every maturity. Records with a
// null field are skipped.
func (c *HTTPClient) AllSlices(ctx context.Context, symbol string) ([]models.Sample, error) {
	q := url.Values{}
	q.Set("symbol", symbol)

	var resp allSlicesResponse
	if err := c.get(ctx, endpointAllSlices, q, &resp); err != nil {
		return nil, err
	}

	samples := make([]models.Sample, 0, len(resp.SlicesDF))
	skipped := 0
	for _, r := range resp.SlicesDF {
		if r.K == nil || r.TJ == nil || r.W == nil {
			skipped++
			continue
		}
		samples = append(samples, models.Sample{T: *r.TJ, K: *r.K, W: *r.W})
	}
	if skipped > 0 {
		c.logger.WithFields(logrus.Fields{
			"symbol":  symbol,
			"skipped": skipped,
		}).Debug("Skipped incomplete surface records")
	}
	return samples, nil
}

// OneSlice returns the per-strike detail of maturity t.
func (c *HTTPClient) OneSlice(ctx context.Context, symbol string, t models.Maturity, optionType string) (*models.Slice, error) {
	if optionType == "" {
		optionType = OptionTypeCall
	}
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("t", t.String())
	q.Set("type", optionType)

	var slice models.Slice
	if err := c.get(ctx, endpointOneSlice, q, &slice); err != nil {
		return nil, err
	}
	slice.T = t
	if err := slice.Validate(); err != nil {
		return nil, err
	}
	return &slice, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint string, q url.Values, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		if err := c.auth.AddAuthHeaders(req); err != nil {
			return fmt.Errorf("failed to authenticate request: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordUpstream(endpoint, 0, time.Since(start))
		return fmt.Errorf("request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordUpstream(endpoint, resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{Endpoint: endpoint, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", endpoint, err)
	}
	return nil
}
