package rocdate

import (
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, time.October, 18, 12, 0, 0, 0, time.UTC)

func TestToQueryFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"74年1月1日", "0740101"},
		{"74年01月01日", "0740101"},
		{"74.1.1", "0740101"},
		{"74.01.01", "0740101"},
		{"100年12月31日", "1001231"},
		{"5年5月5日", "0050505"},
		{"74年1月1", "0740101"},
		{"出生 074年10月10日", "0741010"},
		{"民國74年1月1日", "0740101"},
		{"0741010", "0741010"},
		// slash is not a separator; only the leading digits are read
		{"074/10/10", "0000704"},
		{"", ""},
		{"no date here", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ToQueryFormat(tt.input); got != tt.expected {
				t.Errorf("ToQueryFormat(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestToAD(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"70年01月01日", "1981-01-01"},
		{"74.1.2", "1985-01-02"},
		{"100年12月31日", "2011-12-31"},
		{"5年5月5日", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := ToAD(tt.input); got != tt.expected {
			t.Errorf("ToAD(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestValidateQueryFormatAt(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		valid         bool
		errorContains string
	}{
		{name: "plain date", input: "0740101", valid: true},
		{name: "three digit year", input: "1001231", valid: true},
		{name: "current ROC year", input: "1150101", valid: true},
		{name: "next ROC year", input: "1160101", errorContains: "1-115"},
		{name: "year zero", input: "0000101", errorContains: "民國年份"},
		{name: "six digits", input: "074010", errorContains: "7位數字"},
		{name: "eight digits", input: "07401011", errorContains: "7位數字"},
		{name: "letters", input: "07a0101", errorContains: "7位數字"},
		{name: "empty", input: "", errorContains: "不可為空"},
		{name: "month 13", input: "0741301", errorContains: "月份"},
		{name: "month 0", input: "0740001", errorContains: "月份"},
		{name: "day 32", input: "0740132", errorContains: "日期超出範圍"},
		{name: "day 0", input: "0740100", errorContains: "日期超出範圍"},
		{name: "february 31", input: "0740231", errorContains: "2月不可能有31日"},
		{name: "april 31", input: "0740431", errorContains: "4月不可能有31日"},
		// February always allows 29 days, leap year or not.
		{name: "february 29 in a non-leap year", input: "0740229", valid: true},
		{name: "february 30", input: "0740230", errorContains: "2月不可能有30日"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateQueryFormatAt(tt.input, fixedNow)
			if got.Valid != tt.valid {
				t.Fatalf("ValidateQueryFormatAt(%q).Valid = %v, want %v (error %q)", tt.input, got.Valid, tt.valid, got.Error)
			}
			if tt.valid {
				if got.Formatted != tt.input {
					t.Errorf("Formatted = %q, want %q", got.Formatted, tt.input)
				}
				if got.Error != "" {
					t.Errorf("unexpected error %q", got.Error)
				}
				return
			}
			if !strings.Contains(got.Error, tt.errorContains) {
				t.Errorf("Error = %q, want it to contain %q", got.Error, tt.errorContains)
			}
		})
	}
}

func TestQueryFormatRoundTrip(t *testing.T) {
	for year := 1; year <= CurrentROCYear(fixedNow); year += 7 {
		for month := 1; month <= 12; month++ {
			for _, day := range []int{1, 9, 10, 28} {
				inputs := []string{
					strings.Join([]string{itoa(year), "年", itoa(month), "月", itoa(day), "日"}, ""),
					strings.Join([]string{itoa(year), itoa(month), itoa(day)}, "."),
				}
				for _, in := range inputs {
					formatted := ToQueryFormat(in)
					if v := ValidateQueryFormatAt(formatted, fixedNow); !v.Valid {
						t.Fatalf("ToQueryFormat(%q) = %q failed validation: %s", in, formatted, v.Error)
					}
				}
			}
		}
	}
}

func TestCurrentROCYear(t *testing.T) {
	if got := CurrentROCYear(fixedNow); got != 115 {
		t.Errorf("CurrentROCYear() = %d, want 115", got)
	}
}

func itoa(n int) string {
	if n < 10 {
		return string(rune('0' + n))
	}
	return itoa(n/10) + string(rune('0'+n%10))
}
