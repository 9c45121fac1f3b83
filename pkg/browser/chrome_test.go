package browser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.UserAgent != DefaultUserAgent || o.Width != 1280 || o.Height != 800 {
		t.Errorf("withDefaults() = %+v", o)
	}

	custom := Options{UserAgent: "ua", Width: 800, Height: 600}.withDefaults()
	if custom.UserAgent != "ua" || custom.Width != 800 || custom.Height != 600 {
		t.Errorf("withDefaults() overwrote explicit values: %+v", custom)
	}
}

func TestAllocatorOptions(t *testing.T) {
	base := len(chromedp.DefaultExecAllocatorOptions)
	o := Options{}.withDefaults()

	got := allocatorOptions(o)
	if len(got) != base+6 {
		t.Errorf("expected %d options, got %d", base+6, len(got))
	}

	o.ExecPath = "/usr/bin/chromium"
	if got := allocatorOptions(o); len(got) != base+7 {
		t.Errorf("ExecPath should add one option, got %d", len(got)-base)
	}
}

func TestTextScriptQuotesSelector(t *testing.T) {
	script := textScript(`a[href="#anchor"]`)
	if !strings.Contains(script, `document.querySelector("a[href=\"#anchor\"]")`) {
		t.Errorf("selector not safely quoted: %s", script)
	}
}

func TestClosedSessionRejectsActions(t *testing.T) {
	ctx, cancel := chromedp.NewContext(context.Background())
	s := &chromeSession{ctx: ctx, cancel: cancel}
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	if err := s.Click(context.Background(), "#x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Click() after Close = %v, want ErrClosed", err)
	}
	if _, _, err := s.Text(context.Background(), "#x"); !errors.Is(err, ErrClosed) {
		t.Errorf("Text() after Close = %v, want ErrClosed", err)
	}
	cancel()
}

func TestCancelledContextShortCircuits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &chromeSession{ctx: context.Background(), cancel: func() {}}
	if err := s.Navigate(ctx, "about:blank"); !errors.Is(err, context.Canceled) {
		t.Errorf("Navigate() = %v, want context.Canceled", err)
	}
}

func TestIdleWatcher(t *testing.T) {
	isIdle := func(w *idleWatcher) bool {
		select {
		case <-w.idle:
			return true
		default:
			return false
		}
	}

	tests := []struct {
		name   string
		events []any
		want   bool
	}{
		{
			name: "main frame goes idle",
			events: []any{
				&page.EventLifecycleEvent{FrameID: "main", Name: "init"},
				&page.EventLifecycleEvent{FrameID: "main", Name: "load"},
				&page.EventLifecycleEvent{FrameID: "main", Name: "networkIdle"},
			},
			want: true,
		},
		{
			name: "idle before the navigation starts is ignored",
			events: []any{
				&page.EventLifecycleEvent{FrameID: "blank", Name: "networkIdle"},
			},
			want: false,
		},
		{
			name: "child frame idle does not count",
			events: []any{
				&page.EventLifecycleEvent{FrameID: "main", Name: "init"},
				&page.EventLifecycleEvent{FrameID: "ad", Name: "init"},
				&page.EventLifecycleEvent{FrameID: "ad", Name: "networkIdle"},
				&page.EventLifecycleEvent{FrameID: "main", Name: "networkAlmostIdle"},
			},
			want: false,
		},
		{
			name: "repeated idle events are safe",
			events: []any{
				&page.EventLifecycleEvent{FrameID: "main", Name: "init"},
				&page.EventLifecycleEvent{FrameID: "main", Name: "networkIdle"},
				&page.EventLifecycleEvent{FrameID: "main", Name: "networkIdle"},
			},
			want: true,
		},
		{
			name:   "other events are ignored",
			events: []any{&page.EventLoadEventFired{}, "noise"},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newIdleWatcher()
			for _, ev := range tt.events {
				w.observe(ev)
			}
			if got := isIdle(w); got != tt.want {
				t.Errorf("idle = %v, want %v", got, tt.want)
			}
		})
	}
}
