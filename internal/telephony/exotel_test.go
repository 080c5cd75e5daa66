package telephony

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testSettings(srv *httptest.Server) ProviderSettings {
	return ProviderSettings{
		ID:         "cfg-1",
		OrgID:      "o1",
		APIKey:     "key",
		APIToken:   "token",
		Subdomain:  strings.TrimPrefix(srv.URL, "http://"),
		AccountSID: "acme",
		IsActive:   true,
	}
}

func testOptions() ExotelOptions {
	return ExotelOptions{Scheme: "http", MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestExotelClient_ListCallsPaginates(t *testing.T) {
	var sawWindow string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/v1/Accounts/acme/Calls.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("Page") {
		case "":
			sawWindow = r.URL.Query().Get("DateCreated")
			fmt.Fprint(w, `{"Metadata":{"NextPageUri":"/v1/Accounts/acme/Calls.json?Page=2"},"Calls":[{"Sid":"C1","Status":"completed","Duration":"30"},{"Sid":"C2","Status":"ringing"}]}`)
		case "2":
			fmt.Fprint(w, `{"Metadata":{"NextPageUri":null},"Calls":[{"Sid":"C3","Status":"busy","Duration":0}]}`)
		}
	}))
	defer srv.Close()

	c, err := NewExotelClient(testSettings(srv), testOptions())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	from := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	var sids []string
	n, err := c.ListCalls(context.Background(), ListCallsRequest{From: from, To: from.Add(time.Hour), PageSize: 2}, func(pc PollCall) error {
		sids = append(sids, pc.Sid)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 3 || strings.Join(sids, ",") != "C1,C2,C3" {
		t.Fatalf("unexpected calls: %d %v", n, sids)
	}
	if sawWindow != "gte:2024-03-01 10:00:00;lte:2024-03-01 11:00:00" {
		t.Fatalf("unexpected window filter %q", sawWindow)
	}
}

func TestExotelClient_PaginationLoopGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"Metadata":{"NextPageUri":"/v1/Accounts/acme/Calls.json?Page=1"},"Calls":[]}`)
	}))
	defer srv.Close()

	c, _ := NewExotelClient(testSettings(srv), testOptions())
	_, err := c.ListCalls(context.Background(), ListCallsRequest{}, func(PollCall) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "pagination loop") {
		t.Fatalf("expected loop error, got %v", err)
	}
}

func TestExotelClient_InvalidCredentials(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"RestException":{"Message":"Authentication is required"}}`)
	}))
	defer srv.Close()

	c, _ := NewExotelClient(testSettings(srv), testOptions())
	_, err := c.ListCalls(context.Background(), ListCallsRequest{}, func(PollCall) error { return nil })
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if IsTransient(err) {
		t.Fatalf("auth error must not be transient")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) || pe.Message != "Authentication is required" {
		t.Fatalf("unexpected provider error %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("auth errors must not be retried, got %d hits", hits)
	}
}

func TestExotelClient_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"Calls":[{"Sid":"C1"}]}`)
	}))
	defer srv.Close()

	c, _ := NewExotelClient(testSettings(srv), testOptions())
	n, err := c.ListCalls(context.Background(), ListCallsRequest{}, func(PollCall) error { return nil })
	if err != nil || n != 1 {
		t.Fatalf("expected success after retries, got n=%d err=%v", n, err)
	}
}

func TestExotelClient_GivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, _ := NewExotelClient(testSettings(srv), testOptions())
	_, err := c.ListCalls(context.Background(), ListCallsRequest{}, func(PollCall) error { return nil })
	if !IsTransient(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestExotelClient_FetchRecording(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path == "/missing.mp3" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		fmt.Fprint(w, "ID3audio")
	}))
	defer srv.Close()

	c, _ := NewExotelClient(testSettings(srv), testOptions())
	rec, err := c.FetchRecording(context.Background(), srv.URL+"/rec.mp3")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	defer rec.Body.Close()
	b, _ := io.ReadAll(rec.Body)
	if string(b) != "ID3audio" || rec.ContentType != "audio/mpeg" {
		t.Fatalf("unexpected recording %q %q", b, rec.ContentType)
	}

	if _, err := c.FetchRecording(context.Background(), srv.URL+"/missing.mp3"); err == nil {
		t.Fatalf("expected error for missing recording")
	}
	if _, err := c.FetchRecording(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected error for invalid url")
	}
}

func TestNewExotelClient_RequiresCredentials(t *testing.T) {
	if _, err := NewExotelClient(ProviderSettings{Subdomain: "api.example.com"}, ExotelOptions{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestExotelClient_FetchRecordingRejectsForeignHost(t *testing.T) {
	var foreignHits int32
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&foreignHits, 1)
		fmt.Fprint(w, "stolen")
	}))
	defer foreign.Close()
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ID3audio")
	}))
	defer provider.Close()

	c, _ := NewExotelClient(testSettings(provider), testOptions())
	_, err := c.FetchRecording(context.Background(), foreign.URL+"/steal.mp3")
	if !errors.Is(err, ErrRecordingHostNotAllowed) {
		t.Fatalf("expected host rejection, got %v", err)
	}
	if atomic.LoadInt32(&foreignHits) != 0 {
		t.Fatalf("expected no request to the foreign host")
	}

	opts := testOptions()
	opts.Scheme = "https"
	c, _ = NewExotelClient(testSettings(provider), opts)
	if _, err := c.FetchRecording(context.Background(), provider.URL+"/rec.mp3"); !errors.Is(err, ErrRecordingHostNotAllowed) {
		t.Fatalf("expected plain http to be rejected under https, got %v", err)
	}
}

func TestExotelClient_RecordingHostAllowlist(t *testing.T) {
	c, _ := NewExotelClient(ProviderSettings{APIKey: "k", APIToken: "t", Subdomain: "api.exotel.com", AccountSID: "acme"}, ExotelOptions{})
	cases := map[string]bool{
		"https://api.exotel.com/rec.mp3":                                true,
		"https://recordings.exotel.com/acme/rec.mp3":                    true,
		"https://exotelrecordings.s3.amazonaws.com/acme/rec.mp3":        true,
		"https://evil.example.com/rec.mp3":                              false,
		"https://exotel.com.evil.example/rec.mp3":                       false,
		"http://recordings.exotel.com/acme/rec.mp3":                     false,
		"https://other-bucket.s3.amazonaws.com/exotelrecordings/r.mp3": false,
	}
	for raw, want := range cases {
		u, _ := url.Parse(raw)
		if got := c.recordingAllowed(u); got != want {
			t.Fatalf("%s: expected %v, got %v", raw, want, got)
		}
	}
}

func TestExotelClient_RecordingOutlivesAPITimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		flusher := w.(http.Flusher)
		for i := 0; i < 5; i++ {
			fmt.Fprint(w, "0123456789")
			flusher.Flush()
			time.Sleep(60 * time.Millisecond)
		}
	}))
	defer srv.Close()

	opts := testOptions()
	opts.HTTPClient = &http.Client{Timeout: 100 * time.Millisecond}
	c, _ := NewExotelClient(testSettings(srv), opts)
	rec, err := c.FetchRecording(context.Background(), srv.URL+"/long.mp3")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	defer rec.Body.Close()
	b, err := io.ReadAll(rec.Body)
	if err != nil || len(b) != 50 {
		t.Fatalf("expected full 50 byte body, got %d bytes err=%v", len(b), err)
	}
}
