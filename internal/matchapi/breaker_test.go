package matchapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	c := newTestClient(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection refused")
	}).WithBreaker(2, time.Minute)

	for i := 0; i < 2; i++ {
		if err := c.Acknowledge(context.Background(), "m1"); err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: expected transport error, got %v", i, err)
		}
	}
	err := c.Acknowledge(context.Background(), "m1")
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 transport calls, got %d", calls)
	}

	now := time.Now().Add(2 * time.Minute)
	c.breaker.now = func() time.Time { return now }
	if err := c.Acknowledge(context.Background(), "m1"); errors.Is(err, ErrCircuitOpen) {
		t.Fatal("breaker still open after window")
	}
	if calls != 3 {
		t.Fatalf("expected trial call after the open window, got %d calls", calls)
	}
}

func TestBreakerIgnoresServiceRejections(t *testing.T) {
	c := newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"success":false,"error":"match not queuing"}`), nil
	}).WithBreaker(1, time.Minute)

	for i := 0; i < 3; i++ {
		var apiErr *APIError
		if err := c.Acknowledge(context.Background(), "m1"); !errors.As(err, &apiErr) {
			t.Fatalf("call %d: expected APIError, got %v", i, err)
		}
	}
}

func TestUnreachable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: refused"), true},
		{&StatusError{Op: "list", Code: 503}, true},
		{&StatusError{Op: "list", Code: 404}, false},
		{&APIError{Op: "list", Message: "nope"}, false},
		{ErrMalformedResponse, false},
	}
	for _, tc := range cases {
		if got := unreachable(tc.err); got != tc.want {
			t.Fatalf("unreachable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
