// Package browser drives a real browser page through the handful of
// primitives the violation query needs.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by Session methods after Close.
var ErrClosed = errors.New("browser session closed")

// Session is one isolated browser context with a single page. A Session is
// owned by one caller and is not safe for concurrent use.
//
// Every method honours ctx: its deadline bounds the action and cancelling
// it aborts the action without closing the session.
type Session interface {
	// Navigate loads url and waits for the network to go idle.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until an element matching selector is visible.
	WaitVisible(ctx context.Context, selector string) error
	// Fill replaces the value of an input.
	Fill(ctx context.Context, selector, value string) error
	// Screenshot captures the element as a PNG.
	Screenshot(ctx context.Context, selector string) ([]byte, error)
	Click(ctx context.Context, selector string) error
	// Text returns the element's text content. found is false when no
	// element matches; it does not wait for one to appear.
	Text(ctx context.Context, selector string) (text string, found bool, err error)
	// Close tears the browser down. It is safe to call more than once.
	Close() error
}

// Launcher starts fresh sessions.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

// DefaultUserAgent is a desktop Chrome string; the target site turns away
// headless user agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures a ChromeLauncher.
type Options struct {
	Headless  bool
	UserAgent string
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	Width    int
	Height   int
	// SlowMo pauses after every action, which makes headed runs watchable.
	SlowMo time.Duration
}

func (o Options) withDefaults() Options {
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Width == 0 {
		o.Width = 1280
	}
	if o.Height == 0 {
		o.Height = 800
	}
	return o
}
