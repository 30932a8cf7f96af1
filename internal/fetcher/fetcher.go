package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// Kind classifies transport failures.
type Kind int

const (
	KindNetworkUnavailable Kind = iota + 1
	KindNonSuccessStatus
	KindTimeout
)

func (k Kind) String() string {
	switch k {
	case KindNetworkUnavailable:
		return "network unavailable"
	case KindNonSuccessStatus:
		return "non-success status"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is checks against *Error.
var (
	ErrNetworkUnavailable = errors.New("network unavailable")
	ErrNonSuccessStatus   = errors.New("non-success status")
	ErrTimeout            = errors.New("timeout")
)

// Error is returned by Fetch for every transport-level failure.
type Error struct {
	Kind       Kind
	StatusCode int
	URL        string
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindNonSuccessStatus {
		return fmt.Sprintf("fetch %s: %s %d", e.URL, e.Kind, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the Kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetworkUnavailable:
		return e.Kind == KindNetworkUnavailable
	case ErrNonSuccessStatus:
		return e.Kind == KindNonSuccessStatus
	case ErrTimeout:
		return e.Kind == KindTimeout
	}
	return false
}

// Client performs single GET requests against the remote user endpoint.
type Client struct {
	http *http.Client
}

// New returns a Client. A nil httpClient gets a fresh client with no timeout and no shared state.
func New(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return &Client{http: httpClient}
}

// Fetch issues exactly one GET and returns the raw body. It does not retry or interpret the payload.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetworkUnavailable, URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &Error{Kind: KindNonSuccessStatus, StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classify(url, err)
	}
	return body, nil
}

func classify(url string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, URL: url, Err: err}
	}
	return &Error{Kind: KindNetworkUnavailable, URL: url, Err: err}
}
