package penalty

import (
	"context"
	"log/slog"
	"time"

	"github.com/ionex/idverify/pkg/browser"
)

// DefaultFillGrace is how long a filled form stays open when the caller did
// not ask to keep it.
const DefaultFillGrace = 2 * time.Minute

// FillOptions configures FillOnly.
type FillOptions struct {
	// KeepAlive hands the open session to the caller, who must Close it.
	KeepAlive bool
	// Grace closes the session after this long when KeepAlive is false.
	Grace time.Duration
}

// FillData records how far FillOnly got.
type FillData struct {
	IDNumber           string `json:"idNumber,omitempty"`
	BirthDate          string `json:"birthDate,omitempty"`
	BirthDateFormatted string `json:"birthDateFormatted,omitempty"`
	URL                string `json:"url"`
	PageReady          bool   `json:"pageReady"`
	FormFilled         bool   `json:"formFilled"`
	WaitingForCaptcha  bool   `json:"waitingForCaptcha"`
}

// FillResult is the outcome of FillOnly. Session is the open browser when
// Success is true.
type FillResult struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    FillData        `json:"data"`
	Errors  []string        `json:"errors"`
	Session browser.Session `json:"-"`
}

// FillOnly opens the query form and fills in the ID number and birth date,
// then leaves the CAPTCHA to a person. It makes a single attempt and is not
// covered by the retry loop. The returned result is never nil.
func (q *Querier) FillOnly(ctx context.Context, idNumber, birthDateText string, opts FillOptions) (*FillResult, error) {
	result := &FillResult{Data: FillData{URL: q.URL}, Errors: []string{}}
	failed := func(message string, err error) (*FillResult, error) {
		result.Message = message
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	id, birthDate, err := q.PrepareInput(idNumber, birthDateText)
	if err != nil {
		return failed(err.(*QueryError).Message, err)
	}
	result.Data.IDNumber = id
	result.Data.BirthDate = birthDateText
	result.Data.BirthDateFormatted = birthDate

	// The session outlives the call, so it must not die with ctx.
	session, err := q.Launcher.Launch(context.WithoutCancel(ctx))
	if err != nil {
		return failed("自動填寫表單失敗", err)
	}

	state := StateInit
	if aerr := q.openForm(ctx, session, id, birthDate, &state); aerr != nil {
		session.Close()
		result.Data.PageReady = state >= StatePageLoaded
		return failed(aerr.Message, aerr)
	}

	result.Success = true
	result.Data.PageReady = true
	result.Data.FormFilled = true
	result.Data.WaitingForCaptcha = true
	result.Message = "表單已自動填寫完成，請手動輸入驗證碼並提交表單。瀏覽器將保持開啟狀態。"
	result.Session = session

	if !opts.KeepAlive {
		grace := opts.Grace
		if grace <= 0 {
			grace = DefaultFillGrace
		}
		time.AfterFunc(grace, func() {
			slog.Info("Closing filled form after grace period", "grace", grace)
			session.Close()
		})
	}

	slog.Info("Form filled, waiting for manual CAPTCHA entry", "birth_date", birthDate, "keep_alive", opts.KeepAlive)
	return result, nil
}
