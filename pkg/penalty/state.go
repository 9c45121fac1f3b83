package penalty

// State is a step of a single query attempt. An attempt only moves forward
// through the states in declaration order, or drops to StateAttemptFailed.
type State int

const (
	StateInit State = iota
	StatePageLoaded
	StateFormFilled
	StateCaptchaCaptured
	StateCaptchaRecognized
	StateSubmitted
	StateClassified
	StateAttemptFailed
)

var stateNames = [...]string{
	StateInit:              "init",
	StatePageLoaded:        "page_loaded",
	StateFormFilled:        "form_filled",
	StateCaptchaCaptured:   "captcha_captured",
	StateCaptchaRecognized: "captcha_recognized",
	StateSubmitted:         "submitted",
	StateClassified:        "classified",
	StateAttemptFailed:     "attempt_failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
