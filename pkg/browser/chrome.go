package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeLauncher starts a new Chrome process for every session.
type ChromeLauncher struct {
	Options Options
}

func NewChromeLauncher(opts Options) *ChromeLauncher {
	return &ChromeLauncher{Options: opts.withDefaults()}
}

func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", o.Headless),
		chromedp.UserAgent(o.UserAgent),
		chromedp.WindowSize(o.Width, o.Height),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	return opts
}

// Launch starts Chrome and opens a blank page. The browser lives until
// Close; cancelling ctx after Launch returns does not stop it.
func (l *ChromeLauncher) Launch(ctx context.Context) (Session, error) {
	o := l.Options.withDefaults()

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(o)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(func(format string, args ...any) {
		slog.Debug("chromedp", "msg", fmt.Sprintf(format, args...))
	}))

	s := &chromeSession{
		ctx:     browserCtx,
		cancel:  func() { browserCancel(); allocCancel() },
		slowMo:  o.SlowMo,
		started: time.Now(),
	}

	// The first Run starts the browser process.
	if err := s.run(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to start chrome: %w", err)
	}
	slog.Debug("Browser session started", "headless", o.Headless)
	return s, nil
}

type chromeSession struct {
	ctx     context.Context
	cancel  func()
	slowMo  time.Duration
	started time.Time

	closeOnce sync.Once
	closed    bool
	mu        sync.Mutex
}

// run executes actions on the browser context, bounded by the deadline and
// cancellation of the caller's ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if s.slowMo > 0 && len(actions) > 0 {
		actions = append(actions, chromedp.Sleep(s.slowMo))
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits until the main frame reports networkIdle.
func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, navigateIdle(url))
}

// idleWatcher follows page lifecycle events for one navigation. The first
// "init" event after lifecycle events are enabled marks the navigated main
// frame; only that frame's networkIdle counts.
type idleWatcher struct {
	mu    sync.Mutex
	frame cdp.FrameID
	idle  chan struct{}
	done  bool
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{idle: make(chan struct{})}
}

func (w *idleWatcher) observe(ev any) {
	e, ok := ev.(*page.EventLifecycleEvent)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case e.Name == "init" && w.frame == "":
		w.frame = e.FrameID
	case e.Name == "networkIdle" && w.frame != "" && e.FrameID == w.frame && !w.done:
		w.done = true
		close(w.idle)
	}
}

func navigateIdle(url string) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		w := newIdleWatcher()
		listenCtx, stop := context.WithCancel(ctx)
		defer stop()
		chromedp.ListenTarget(listenCtx, w.observe)

		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if err := chromedp.Navigate(url).Do(ctx); err != nil {
			return err
		}
		select {
		case <-w.idle:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("waiting for network idle: %w", ctx.Err())
		}
	}
}

func (s *chromeSession) WaitVisible(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *chromeSession) Fill(ctx context.Context, selector, value string) error {
	return s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (s *chromeSession) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	var buf []byte
	if err := s.run(ctx, chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.Click(selector, chromedp.NodeVisible, chromedp.ByQuery))
}

type textLookup struct {
	Found bool   `json:"found"`
	Text  string `json:"text"`
}

// textScript looks the element up once instead of waiting for it.
func textScript(selector string) string {
	quoted, _ := json.Marshal(selector)
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el ? {found: true, text: el.textContent || ""} : {found: false, text: ""}; })()`, quoted)
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, bool, error) {
	var lookup textLookup
	if err := s.run(ctx, chromedp.Evaluate(textScript(selector), &lookup)); err != nil {
		return "", false, err
	}
	return lookup.Text, lookup.Found, nil
}

func (s *chromeSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		err = chromedp.Cancel(s.ctx)
		s.cancel()
		slog.Debug("Browser session closed", "lifetime", time.Since(s.started).Round(time.Millisecond))
	})
	return err
}
