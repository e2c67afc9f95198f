package browser

import (
	"context"
	"errors"
	"time"
)

var ErrResponseTimeout = errors.New("no matching response before timeout")

// Response is a captured network response.
type Response struct {
	URL    string
	Status int
	Body   []byte
}

// Page is one tab inside a session.
type Page interface {
	// OnResponse registers fn for finished responses whose URL satisfies
	// match. Register before Navigate so early responses are seen.
	OnResponse(match func(url string) bool, fn func(Response))
	Navigate(ctx context.Context, url string) error
	// WaitNetworkIdle returns once no request has been in flight for quiet,
	// or an error after timeout.
	WaitNetworkIdle(ctx context.Context, quiet, timeout time.Duration) error
	// WaitResponse waits for the next finished response satisfying match.
	WaitResponse(ctx context.Context, match func(url string) bool, timeout time.Duration) (Response, error)
	// Request performs a direct HTTP request carrying the session cookies.
	Request(ctx context.Context, url string) (Response, error)
	// EvalFetch runs fetch() inside the page.
	EvalFetch(ctx context.Context, url string) (Response, error)
	Close() error
}
