package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ExotelOptions tunes the HTTP behaviour shared by every org client.
type ExotelOptions struct {
	// Scheme is "https" in production; tests point it at an httptest server over "http".
	Scheme     string
	HTTPClient *http.Client

	// RecordingClient streams recording bodies. It must not carry an overall
	// Client.Timeout; the request context bounds the transfer.
	RecordingClient *http.Client
	// RecordingHosts are host suffixes, besides the org's own subdomain, that
	// recording urls may point at.
	RecordingHosts []string

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// MaxPages bounds pagination when the provider keeps returning a next page.
	MaxPages int
}

func (o ExotelOptions) withDefaults() ExotelOptions {
	out := o
	if out.Scheme == "" {
		out.Scheme = "https"
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: 20 * time.Second}
	}
	if out.RecordingClient == nil {
		out.RecordingClient = NewRecordingHTTPClient(20 * time.Second)
	}
	if out.RecordingHosts == nil {
		out.RecordingHosts = DefaultRecordingHosts
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = 200 * time.Millisecond
	}
	if out.MaxDelay <= 0 {
		out.MaxDelay = 5 * time.Second
	}
	if out.MaxPages <= 0 {
		out.MaxPages = 500
	}
	return out
}

// DefaultRecordingHosts covers the provider's recording storage.
var DefaultRecordingHosts = []string{"exotel.com", "exotel.in", "exotelrecordings.s3.amazonaws.com"}

// NewRecordingHTTPClient returns a client that waits at most headerTimeout for the
// response headers and then streams the body for as long as the caller's context allows.
func NewRecordingHTTPClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// ExotelClient talks to one org's account at the voice provider.
type ExotelClient struct {
	settings ProviderSettings
	opts     ExotelOptions
}

func NewExotelClient(s ProviderSettings, opts ExotelOptions) (*ExotelClient, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &ExotelClient{settings: s, opts: opts.withDefaults()}, nil
}

// NewExotelFactory returns a ClientFactory that shares opts across org clients.
func NewExotelFactory(opts ExotelOptions) ClientFactory {
	return func(s ProviderSettings) (CallProvider, error) {
		return NewExotelClient(s, opts)
	}
}

func (c *ExotelClient) Name() string { return "exotel" }

func (c *ExotelClient) baseURL() string {
	return c.opts.Scheme + "://" + c.host()
}

func (c *ExotelClient) host() string {
	host := strings.TrimSuffix(strings.TrimSpace(c.settings.Subdomain), "/")
	return strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")
}

// recordingAllowed reports whether u may receive this org's credentials.
func (c *ExotelClient) recordingAllowed(u *url.URL) bool {
	if u.Scheme != "https" && u.Scheme != c.opts.Scheme {
		return false
	}
	if strings.EqualFold(u.Host, c.host()) {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, allowed := range c.opts.RecordingHosts {
		allowed = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(allowed), "."))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (c *ExotelClient) accountPath() string {
	return "/v1/Accounts/" + url.PathEscape(c.settings.AccountSID)
}

// HealthCheck fetches the account resource, which fails fast on bad credentials.
func (c *ExotelClient) HealthCheck(ctx context.Context) error {
	resp, err := c.do(ctx, c.opts.HTTPClient, c.baseURL()+c.accountPath()+".json")
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

type callsPage struct {
	Metadata struct {
		Total       int    `json:"Total"`
		PageSize    int    `json:"PageSize"`
		NextPageURI string `json:"NextPageUri"`
	} `json:"Metadata"`
	Calls []json.RawMessage `json:"Calls"`
}

func (c *ExotelClient) ListCalls(ctx context.Context, req ListCallsRequest, fn func(PollCall) error) (int, error) {
	if fn == nil {
		return 0, errors.New("telephony: list calls callback is nil")
	}
	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	q := url.Values{}
	q.Set("PageSize", strconv.Itoa(pageSize))
	window := make([]string, 0, 2)
	if !req.From.IsZero() {
		window = append(window, "gte:"+req.From.Format(providerTimeLayout))
	}
	if !req.To.IsZero() {
		window = append(window, "lte:"+req.To.Format(providerTimeLayout))
	}
	if len(window) > 0 {
		q.Set("DateCreated", strings.Join(window, ";"))
	}
	next := c.baseURL() + c.accountPath() + "/Calls.json?" + q.Encode()

	seen := map[string]bool{}
	delivered := 0
	for page := 0; next != ""; page++ {
		if page >= c.opts.MaxPages {
			return delivered, fmt.Errorf("telephony: pagination exceeded %d pages", c.opts.MaxPages)
		}
		if seen[next] {
			return delivered, fmt.Errorf("telephony: pagination loop at %s", next)
		}
		seen[next] = true

		body, err := c.getJSON(ctx, next)
		if err != nil {
			return delivered, err
		}
		var p callsPage
		if err := json.Unmarshal(body, &p); err != nil {
			return delivered, fmt.Errorf("telephony: decode calls page: %w", err)
		}
		for _, raw := range p.Calls {
			pc, err := DecodePollCall(raw)
			if err != nil {
				// A malformed element is skipped; the rest of the page is still usable.
				continue
			}
			if err := fn(pc); err != nil {
				return delivered, err
			}
			delivered++
		}
		next = c.resolve(p.Metadata.NextPageURI)
	}
	return delivered, nil
}

// resolve turns a relative NextPageUri into an absolute URL on the org's host.
func (c *ExotelClient) resolve(uri string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ""
	}
	if strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://") {
		return uri
	}
	if !strings.HasPrefix(uri, "/") {
		uri = "/" + uri
	}
	return c.baseURL() + uri
}

func (c *ExotelClient) FetchRecording(ctx context.Context, recordingURL string) (*Recording, error) {
	u, err := url.Parse(strings.TrimSpace(recordingURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("telephony: invalid recording url")
	}
	if !c.recordingAllowed(u) {
		return nil, fmt.Errorf("%w: %s", ErrRecordingHostNotAllowed, u.Host)
	}
	resp, err := c.do(ctx, c.opts.RecordingClient, u.String())
	if err != nil {
		return nil, err
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "audio/mpeg"
	}
	return &Recording{Body: resp.Body, ContentType: ct, ContentLength: resp.ContentLength}, nil
}

func (c *ExotelClient) getJSON(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.do(ctx, c.opts.HTTPClient, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// do issues an authenticated GET, retrying transport errors, 429 and 5xx with
// exponential backoff. On success the caller owns resp.Body.
func (c *ExotelClient) do(ctx context.Context, client *http.Client, rawURL string) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(c.settings.APIKey, c.settings.APIToken)
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.opts.MaxRetries {
				if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()

		if (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.opts.MaxRetries {
			if waitErr := sleepContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return nil, waitErr
			}
			continue
		}
		return nil, &ProviderError{StatusCode: resp.StatusCode, Message: providerMessage(body)}
	}
}

func providerMessage(body []byte) string {
	msg := strings.TrimSpace(string(body))
	var parsed struct {
		RestException struct {
			Message string `json:"Message"`
		} `json:"RestException"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.RestException.Message != "" {
			return parsed.RestException.Message
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return msg
}

func (c *ExotelClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		if retryAfter > c.opts.MaxDelay {
			return c.opts.MaxDelay
		}
		return retryAfter
	}
	delay := c.opts.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.opts.MaxDelay {
			return c.opts.MaxDelay
		}
	}
	return delay
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
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
