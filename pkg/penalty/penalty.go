// Package penalty looks up driver's license penalty records on the
// Motor Vehicles Driver Information Service form.
//
// The form sits behind a CAPTCHA and offers no structured error: a wrong
// CAPTCHA and a broken page look the same from outside. A query therefore
// runs whole attempts, each in a fresh browser, until one reaches the
// results banner or the retry budget runs out.
package penalty

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ionex/idverify/pkg/browser"
	"github.com/ionex/idverify/pkg/captcha"
	"github.com/ionex/idverify/pkg/idcheck"
	"github.com/ionex/idverify/pkg/rocdate"
)

const (
	DefaultURL            = "https://www.mvdis.gov.tw/m3-emv-vil/vil/driverLicensePenalty#gsc.tab=0"
	DefaultNoRecordPhrase = "查無資料"
	DefaultMaxRetries     = 10
	DefaultBackoff        = 2 * time.Second
)

// Selectors locate the form controls on the query page.
type Selectors struct {
	IDNumber     string
	BirthDate    string
	Captcha      string
	CaptchaInput string
	Submit       string
	Banner       string
}

var DefaultSelectors = Selectors{
	IDNumber:     "#uid",
	BirthDate:    "#birthday",
	Captcha:      `img[src*="captchaImg"]`,
	CaptchaInput: `input[name="validateStr"]`,
	Submit:       `a.std_btn[href="#anchor"]`,
	Banner:       "#disbanner",
}

// Timeouts bound the individual steps of an attempt.
type Timeouts struct {
	Navigation time.Duration
	Captcha    time.Duration
	Action     time.Duration
	// Settle is how long to wait after submitting before reading the banner.
	Settle time.Duration
}

var DefaultTimeouts = Timeouts{
	Navigation: 30 * time.Second,
	Captcha:    5 * time.Second,
	Action:     10 * time.Second,
	Settle:     time.Second,
}

// Outcome is the result of a query. Attempts and Errors are filled in even
// when QueryViolation returns an error.
type Outcome struct {
	HasViolation bool     `json:"hasViolation" yaml:"has_violation"`
	ResultText   string   `json:"resultText" yaml:"result_text"`
	Attempts     int      `json:"attempts" yaml:"attempts"`
	Cached       bool     `json:"cached,omitempty" yaml:"cached,omitempty"`
	Errors       []string `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// AttemptResult describes one attempt that reached StateClassified.
type AttemptResult struct {
	State        State
	HasViolation bool
	ResultText   string
	Captcha      captcha.Result
}

// Cache remembers classified outcomes. birthDate is in YYYMMDD form.
type Cache interface {
	Lookup(ctx context.Context, idNumber, birthDate string) (Outcome, bool, error)
	Store(ctx context.Context, idNumber, birthDate string, outcome Outcome) error
}

// Observer is told about every attempt and every finished query.
type Observer interface {
	AttemptFinished(success bool)
	QueryFinished(outcome string)
}

// Query outcome labels passed to Observer.QueryFinished.
const (
	OutcomeViolation = "violation"
	OutcomeClean     = "clean"
	OutcomeExhausted = "exhausted"
	OutcomeInvalid   = "invalid"
	OutcomeCancelled = "cancelled"
)

type nopObserver struct{}

func (nopObserver) AttemptFinished(bool)  {}
func (nopObserver) QueryFinished(string) {}

// Querier runs violation queries. Calls on one Querier may overlap; each
// attempt owns its own browser session and temporary files.
type Querier struct {
	Launcher   browser.Launcher
	Recognizer captcha.Recognizer

	URL            string
	NoRecordPhrase string
	MaxRetries     int
	Backoff        time.Duration
	Selectors      Selectors
	Timeouts       Timeouts
	// TempDir holds captured CAPTCHA images; os.TempDir() when empty.
	TempDir string

	Cache    Cache
	Observer Observer

	// Now and Sleep are replaceable for tests.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

func New(launcher browser.Launcher, recognizer captcha.Recognizer) *Querier {
	return &Querier{
		Launcher:       launcher,
		Recognizer:     recognizer,
		URL:            DefaultURL,
		NoRecordPhrase: DefaultNoRecordPhrase,
		MaxRetries:     DefaultMaxRetries,
		Backoff:        DefaultBackoff,
		Selectors:      DefaultSelectors,
		Timeouts:       DefaultTimeouts,
		Observer:       nopObserver{},
		Now:            time.Now,
		Sleep:          sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (q *Querier) observer() Observer {
	if q.Observer == nil {
		return nopObserver{}
	}
	return q.Observer
}

// Classify reports whether banner text shows a penalty record. Only an
// exact substring match of noRecordPhrase means there is none.
func Classify(bannerText, noRecordPhrase string) bool {
	return !strings.Contains(bannerText, noRecordPhrase)
}

// PrepareInput normalizes the ID number and converts birthDateText to the
// YYYMMDD form the site expects.
func (q *Querier) PrepareInput(idNumber, birthDateText string) (id, birthDate string, err error) {
	id = idcheck.Normalize(idNumber)
	if id == "" {
		return "", "", invalidInput("身分證字號不可為空")
	}
	if !idcheck.IsPossible(id) {
		return "", "", invalidInput("身分證字號格式錯誤: %s", idNumber)
	}
	if strings.TrimSpace(birthDateText) == "" {
		return "", "", invalidInput("生日不可為空")
	}

	birthDate = rocdate.ToQueryFormat(birthDateText)
	if birthDate == "" {
		return "", "", invalidInput("無法轉換生日格式: %s", birthDateText)
	}

	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	if v := rocdate.ValidateQueryFormatAt(birthDate, now()); !v.Valid {
		return "", "", invalidInput("生日格式驗證失敗: %s", v.Error)
	}
	return id, birthDate, nil
}

// QueryViolation reports whether the holder of idNumber has a penalty
// record. Invalid input fails before any browser is started. Otherwise up
// to MaxRetries attempts run one after another, Backoff apart, and the
// first classified attempt wins.
func (q *Querier) QueryViolation(ctx context.Context, idNumber, birthDateText string) (Outcome, error) {
	obs := q.observer()

	id, birthDate, err := q.PrepareInput(idNumber, birthDateText)
	if err != nil {
		obs.QueryFinished(OutcomeInvalid)
		return Outcome{Errors: []string{err.(*QueryError).Message}}, err
	}

	if q.Cache != nil {
		cached, ok, err := q.Cache.Lookup(ctx, id, birthDate)
		if err != nil {
			slog.Warn("Query cache lookup failed", "err", err)
		} else if ok {
			cached.Cached = true
			slog.Info("Query served from cache", "has_violation", cached.HasViolation)
			obs.QueryFinished(outcomeLabel(cached.HasViolation))
			return cached, nil
		}
	}

	maxRetries := q.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	var (
		outcome Outcome
		lastErr error
	)
	for attempt := 1; attempt <= maxRetries; attempt++ {
		outcome.Attempts = attempt
		slog.Info("Starting query attempt", "attempt", attempt, "max", maxRetries)

		res, err := q.Attempt(ctx, id, birthDate)
		if err == nil {
			obs.AttemptFinished(true)
			outcome.HasViolation = res.HasViolation
			outcome.ResultText = res.ResultText
			slog.Info("Query classified", "attempt", attempt, "has_violation", res.HasViolation)

			if q.Cache != nil {
				if err := q.Cache.Store(ctx, id, birthDate, outcome); err != nil {
					slog.Warn("Query cache store failed", "err", err)
				}
			}
			obs.QueryFinished(outcomeLabel(res.HasViolation))
			return outcome, nil
		}

		obs.AttemptFinished(false)
		lastErr = err
		outcome.Errors = append(outcome.Errors, fmt.Sprintf("attempt %d: %v", attempt, err))
		slog.Warn("Query attempt failed", "attempt", attempt, "err", err)

		if ctx.Err() != nil {
			break
		}
		if attempt < maxRetries {
			if err := q.sleep(ctx, q.Backoff); err != nil {
				break
			}
		}
	}

	if ctx.Err() != nil {
		obs.QueryFinished(OutcomeCancelled)
		return outcome, fmt.Errorf("query cancelled after %d attempts: %w", outcome.Attempts, ctx.Err())
	}

	obs.QueryFinished(OutcomeExhausted)
	return outcome, &QueryError{
		Code:    CodeRetriesExhausted,
		Message: fmt.Sprintf("已達最大重試次數 (%d)，查詢失敗", maxRetries),
		Cause:   lastErr,
	}
}

func (q *Querier) sleep(ctx context.Context, d time.Duration) error {
	if q.Sleep != nil {
		return q.Sleep(ctx, d)
	}
	return sleepContext(ctx, d)
}

func outcomeLabel(hasViolation bool) string {
	if hasViolation {
		return OutcomeViolation
	}
	return OutcomeClean
}

// Attempt runs one pass through the form in a fresh browser session. The
// session is closed before Attempt returns, whatever the outcome. A non-nil
// error is always an *AttemptError.
func (q *Querier) Attempt(ctx context.Context, idNumber, birthDate string) (AttemptResult, error) {
	state := StateInit
	fail := func(message string, cause error) (AttemptResult, error) {
		return AttemptResult{State: StateAttemptFailed}, &AttemptError{State: state, Message: message, Cause: cause}
	}

	session, err := q.Launcher.Launch(ctx)
	if err != nil {
		return fail("無法啟動瀏覽器", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			slog.Debug("Closing browser session failed", "err", err)
		}
	}()

	if err := q.openForm(ctx, session, idNumber, birthDate, &state); err != nil {
		return fail(err.Message, err.Cause)
	}

	captchaCtx, cancel := context.WithTimeout(ctx, q.Timeouts.Captcha)
	err = session.WaitVisible(captchaCtx, q.Selectors.Captcha)
	cancel()
	if err != nil {
		return fail("找不到驗證碼圖片", err)
	}

	actionCtx, cancel := context.WithTimeout(ctx, q.Timeouts.Action)
	image, err := session.Screenshot(actionCtx, q.Selectors.Captcha)
	cancel()
	if err != nil {
		return fail("擷取驗證碼圖片失敗", err)
	}
	state = StateCaptchaCaptured

	recognized, err := q.recognize(ctx, image)
	if err != nil {
		return fail("無法識別驗證碼", err)
	}
	if recognized.Text == "" {
		return fail("無法識別驗證碼", nil)
	}
	state = StateCaptchaRecognized
	slog.Debug("CAPTCHA ready", "text", recognized.Text, "confidence", recognized.Confidence)

	actionCtx, cancel = context.WithTimeout(ctx, q.Timeouts.Action)
	err = session.Fill(actionCtx, q.Selectors.CaptchaInput, recognized.Text)
	if err == nil {
		err = session.Click(actionCtx, q.Selectors.Submit)
	}
	cancel()
	if err != nil {
		return fail("提交表單失敗", err)
	}
	state = StateSubmitted

	if err := q.sleep(ctx, q.Timeouts.Settle); err != nil {
		return fail("等待查詢結果時中斷", err)
	}

	actionCtx, cancel = context.WithTimeout(ctx, q.Timeouts.Action)
	text, found, err := session.Text(actionCtx, q.Selectors.Banner)
	cancel()
	if err != nil {
		return fail("讀取查詢結果失敗", err)
	}
	if !found {
		return fail("找不到查詢結果，可能是驗證碼識別錯誤", nil)
	}

	text = strings.TrimSpace(text)
	return AttemptResult{
		State:        StateClassified,
		HasViolation: Classify(text, q.NoRecordPhrase),
		ResultText:   text,
		Captcha:      recognized,
	}, nil
}

// openForm navigates to the query page and fills in the ID number and birth
// date, advancing state as it goes.
func (q *Querier) openForm(ctx context.Context, session browser.Session, idNumber, birthDate string, state *State) *AttemptError {
	navCtx, cancel := context.WithTimeout(ctx, q.Timeouts.Navigation)
	err := session.Navigate(navCtx, q.URL)
	cancel()
	if err != nil {
		return &AttemptError{State: *state, Message: "頁面載入失敗", Cause: err}
	}
	*state = StatePageLoaded

	actionCtx, cancel := context.WithTimeout(ctx, q.Timeouts.Action)
	defer cancel()
	if err := session.Fill(actionCtx, q.Selectors.IDNumber, idNumber); err != nil {
		return &AttemptError{State: *state, Message: "填寫身分證字號失敗", Cause: err}
	}
	if err := session.Fill(actionCtx, q.Selectors.BirthDate, birthDate); err != nil {
		return &AttemptError{State: *state, Message: "填寫生日失敗", Cause: err}
	}
	*state = StateFormFilled
	return nil
}

// recognize writes the captured image to a temporary PNG for the recognizer
// and removes it once the recognizer returns.
func (q *Querier) recognize(ctx context.Context, image []byte) (captcha.Result, error) {
	dir := q.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "captcha_"+uuid.NewString()+".png")
	if err := os.WriteFile(path, image, 0o600); err != nil {
		return captcha.Result{}, fmt.Errorf("failed to save captcha image: %w", err)
	}
	defer func() {
		if err := os.Remove(path); err != nil {
			slog.Warn("Failed to remove captcha image", "path", path, "err", err)
		}
	}()

	return q.Recognizer.Recognize(ctx, path)
}
