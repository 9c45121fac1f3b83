// Package rocdate converts between the date forms used on Taiwan ID documents:
// free-form ROC-era text as read by OCR, ISO dates, and the seven digit
// YYYMMDD form the penalty query form expects.
package rocdate

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// rocEpoch is the Gregorian year of ROC year 0.
const rocEpoch = 1911

var (
	queryInput = regexp.MustCompile(`(\d{1,3})[年.]*(\d{1,2})[月.]*(\d{1,2})`)
	adInput    = regexp.MustCompile(`(\d{2,3})[年.]*(\d{1,2})[月.]*(\d{1,2})`)
	sevenDigit = regexp.MustCompile(`^\d{7}$`)
)

// daysInMonth caps February at 29 for every year; leap years are not
// distinguished.
var daysInMonth = [12]int{31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// Validation is the outcome of checking a YYYMMDD string.
type Validation struct {
	Valid     bool   `json:"valid"`
	Formatted string `json:"formatted,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ToQueryFormat turns an ROC date expression such as "74年1月1日" or
// "74.01.01" into "0740101". It returns "" when the input does not match.
func ToQueryFormat(rocDate string) string {
	m := queryInput.FindStringSubmatch(rocDate)
	if m == nil {
		return ""
	}
	return pad(m[1], 3) + pad(m[2], 2) + pad(m[3], 2)
}

// ToAD turns an ROC date expression into an ISO YYYY-MM-DD date. It returns
// "" when the input does not match.
func ToAD(rocDate string) string {
	m := adInput.FindStringSubmatch(rocDate)
	if m == nil {
		return ""
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d-%s-%s", year+rocEpoch, pad(m[2], 2), pad(m[3], 2))
}

// CurrentROCYear returns the ROC year containing now.
func CurrentROCYear(now time.Time) int {
	return now.Year() - rocEpoch
}

// ValidateQueryFormat checks a YYYMMDD string against today's date.
func ValidateQueryFormat(s string) Validation {
	return ValidateQueryFormatAt(s, time.Now())
}

// ValidateQueryFormatAt checks a YYYMMDD string, bounding the year by the ROC
// year containing now.
func ValidateQueryFormatAt(s string, now time.Time) Validation {
	if s == "" {
		return Validation{Error: "日期不可為空"}
	}
	if !sevenDigit.MatchString(s) {
		return Validation{Error: "日期格式錯誤，應為7位數字 (YYYMMDD)"}
	}

	year, _ := strconv.Atoi(s[0:3])
	month, _ := strconv.Atoi(s[3:5])
	day, _ := strconv.Atoi(s[5:7])

	current := CurrentROCYear(now)
	if year < 1 || year > current {
		return Validation{Error: fmt.Sprintf("民國年份超出範圍 (1-%d)", current)}
	}
	if month < 1 || month > 12 {
		return Validation{Error: "月份超出範圍 (01-12)"}
	}
	if day < 1 || day > 31 {
		return Validation{Error: "日期超出範圍 (01-31)"}
	}
	if day > daysInMonth[month-1] {
		return Validation{Error: fmt.Sprintf("%d月不可能有%d日", month, day)}
	}

	return Validation{Valid: true, Formatted: s}
}

func pad(digits string, width int) string {
	for len(digits) < width {
		digits = "0" + digits
	}
	return digits
}
