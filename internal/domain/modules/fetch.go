package modules

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GriffinCanCode/AgentOS/scripthost/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Fetcher retrieves remote bytes. It is the only network dependency of the
// module pipeline and of host.fetch.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
	Do(ctx context.Context, req *FetchRequest) (*FetchResponse, error)
}

// FetchRequest is a script-initiated HTTP request
type FetchRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// FetchResponse is the subset of an HTTP response handed back to scripts
type FetchResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// FetcherConfig configures the HTTP fetcher
type FetcherConfig struct {
	Timeout   time.Duration
	Retries   int
	RateLimit float64 // requests per second, 0 = unlimited
	UserAgent string
	// HTTPClient overrides the base client, e.g. an httptest TLS client
	HTTPClient *http.Client
}

// HTTPFetcher fetches over resty on a retrying transport, with a per-host
// circuit breaker and a shared rate limiter
type HTTPFetcher struct {
	client   *resty.Client
	limiter  *rate.Limiter
	breakers *resilience.BreakerSet
}

// NewHTTPFetcher creates a production fetcher
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.Retries
	retryClient.RetryWaitMin = 200 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.Logger = nil
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.HTTPClient != nil {
		retryClient.HTTPClient = cfg.HTTPClient
	}

	client := resty.NewWithClient(retryClient.StandardClient())
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	return &HTTPFetcher{
		client:  client,
		limiter: limiter,
		breakers: resilience.NewBreakerSet(resilience.Settings{
			FailureThreshold: 5,
			Cooldown:         30 * time.Second,
			HalfOpenProbes:   1,
		}),
	}
}

// Fetch GETs rawURL and returns the body. Any status >= 400 is an error.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.execute(ctx, &FetchRequest{URL: rawURL, Method: http.MethodGet})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s", ErrRemoteStatus, resp.Status())
	}
	return resp.Body(), nil
}

// Do performs an arbitrary request and returns whatever status the remote
// answered with
func (f *HTTPFetcher) Do(ctx context.Context, req *FetchRequest) (*FetchResponse, error) {
	resp, err := f.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}
	return &FetchResponse{
		Status:  resp.StatusCode(),
		Headers: headers,
		Body:    resp.String(),
	}, nil
}

func (f *HTTPFetcher) execute(ctx context.Context, req *FetchRequest) (*resty.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", req.URL, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedScheme, u.Scheme)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var resp *resty.Response
	err = f.breakers.For(u.Host).Do(func() error {
		r := f.client.R().SetContext(ctx).SetHeaders(req.Headers)
		if req.Body != "" {
			r.SetBody(req.Body)
		}
		var execErr error
		resp, execErr = r.Execute(method, req.URL)
		if execErr != nil {
			return execErr
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %s", ErrRemoteStatus, resp.Status())
		}
		return nil
	})
	if err != nil && resp == nil {
		return nil, err
	}
	return resp, nil
}
