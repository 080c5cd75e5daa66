package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// CallProvider defines the provider-agnostic interface used by the sync engine.
//
// Rules:
// - No provider HTTP calls outside telephony adapters.
// - One client per org configuration; credentials never cross orgs.
type CallProvider interface {
	Name() string
	HealthCheck(ctx context.Context) error

	// ListCalls walks every page of calls created inside the window and hands each
	// one to fn. It returns how many calls were delivered. An fn error stops the walk.
	ListCalls(ctx context.Context, req ListCallsRequest, fn func(PollCall) error) (int, error)

	// FetchRecording opens the recording body. The caller must close it.
	FetchRecording(ctx context.Context, recordingURL string) (*Recording, error)
}

type ListCallsRequest struct {
	From     time.Time
	To       time.Time
	PageSize int
}

type Recording struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
}

// ClientFactory builds a provider client for one org configuration.
type ClientFactory func(s ProviderSettings) (CallProvider, error)

var (
	ErrSettingsNotFound   = errors.New("telephony: provider settings not found")
	ErrInvalidCredentials = errors.New("telephony: invalid provider credentials")
	// ErrRecordingHostNotAllowed means a recording url points outside the provider's hosts.
	// No credentials are sent for it.
	ErrRecordingHostNotAllowed = errors.New("telephony: recording host not allowed")
)

// ProviderError is a non-2xx response from the provider API.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider request failed: status=%d", e.StatusCode)
	}
	return fmt.Sprintf("provider request failed: status=%d message=%s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrInvalidCredentials) match 401/403 responses.
func (e *ProviderError) Is(target error) bool {
	return target == ErrInvalidCredentials && (e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// IsAuthError reports whether err means the configuration's credentials were rejected.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

// IsTransient reports whether err is worth retrying on the next natural trigger
// without operator action.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode == http.StatusTooManyRequests || pe.StatusCode >= 500
	}
	return !IsAuthError(err)
}
