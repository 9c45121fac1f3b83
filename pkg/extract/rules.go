package extract

import (
	"fmt"
	"regexp"
	"strings"
)

// han matches one CJK unified ideograph in the basic block.
const han = `\x{4e00}-\x{9fa5}`

// Rule is one named pattern in a field's extraction cascade. Rules run in
// order and the first accepted capture wins.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	// Reject, when set, discards a match given the text and the match's
	// submatch indexes; the next match of the same pattern is tried.
	Reject func(text string, loc []int) bool
}

func rule(name, expr string) Rule {
	return Rule{Name: name, Pattern: regexp.MustCompile(expr)}
}

// accepter turns the capture groups of a match into a field value.
type accepter func(groups []string) (string, bool)

// firstMatch runs the cascade and returns the accepted value and the name of
// the rule that produced it.
func firstMatch(text string, rules []Rule, accept accepter) (string, string, bool) {
	for _, r := range rules {
		if r.Reject == nil {
			m := r.Pattern.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			if v, ok := accept(m); ok {
				return v, r.Name, true
			}
			continue
		}

		for _, loc := range r.Pattern.FindAllStringSubmatchIndex(text, -1) {
			if r.Reject(text, loc) {
				continue
			}
			if v, ok := accept(submatches(text, loc)); ok {
				return v, r.Name, true
			}
			break
		}
	}
	return "", "", false
}

// trace records which rule produced each field, as "field: rule" lines.
// A nil trace records nothing.
type trace []string

func (t *trace) matched(field, rule string) {
	if t != nil {
		*t = append(*t, field+": "+rule)
	}
}

// first runs the cascade for field and records the rule that won.
func (t *trace) first(field, text string, rules []Rule, accept accepter) (string, bool) {
	v, name, ok := firstMatch(text, rules, accept)
	if ok {
		t.matched(field, name)
	}
	return v, ok
}

func submatches(text string, loc []int) []string {
	groups := make([]string, len(loc)/2)
	for i := range groups {
		if loc[2*i] >= 0 {
			groups[i] = text[loc[2*i]:loc[2*i+1]]
		}
	}
	return groups
}

var cjkName = regexp.MustCompile(`^[` + han + `]{2,4}$`)

// acceptName trims the first capture and keeps it when it is 2 to 4 CJK
// characters.
func acceptName(groups []string) (string, bool) {
	name := strings.TrimSpace(groups[1])
	return name, cjkName.MatchString(name)
}

// acceptCapture keeps the first capture as is.
func acceptCapture(groups []string) (string, bool) {
	return groups[1], groups[1] != ""
}

// dateFormatter rebuilds a date from its year, month and day captures, each
// padded to two digits.
func dateFormatter(layout string) accepter {
	return func(groups []string) (string, bool) {
		return fmt.Sprintf(layout, pad2(groups[1]), pad2(groups[2]), pad2(groups[3])), true
	}
}

func pad2(s string) string {
	if len(s) < 2 {
		return strings.Repeat("0", 2-len(s)) + s
	}
	return s
}

// laterOnLine rejects a match when word appears after it on the same line.
func laterOnLine(word string) func(string, []int) bool {
	return func(text string, loc []int) bool {
		rest := text[loc[1]:]
		if i := strings.IndexAny(rest, "\r\n"); i >= 0 {
			rest = rest[:i]
		}
		return strings.Contains(rest, word)
	}
}

var (
	nameRules = []Rule{
		rule("labelled", `姓\s*名\s*[：:]*\s*([^\n\r]{2,4})`),
		rule("label adjacent", `姓\s*名\s*(\S{2,4})`),
		rule("given-name label", `名\s*[：:]*\s*([^\n\r]{2,4})`),
	}

	licenseNameRules = []Rule{
		rule("labelled", `姓\s*名\s*[：:]*\s*([^\n\r]{2,4})`),
		rule("after id number", `[A-Z]\d{9}\s*([^\n\r]{2,4})`),
		rule("after number label", `號\s*碼\s*[A-Z]\d+\s+([^\n\r]{2,4})`),
	}

	nameLineSeparators = regexp.MustCompile(`姓名|:|：`)

	birthDateRules = []Rule{
		rule("labelled", `出生\s*日期\s*[：:]*\s*(\d{2,3})[\s年.]*(\d{1,2})[\s月.]*(\d{1,2})`),
		rule("year month day", `(\d{2,3})\s*年\s*(\d{1,2})\s*月\s*(\d{1,2})\s*日`),
		rule("dotted", `(\d{2,3})\.(\d{1,2})\.(\d{1,2})`),
	}

	issueDateRules = []Rule{
		rule("labelled", `發證\s*日期\s*[：:]*\s*(\d{2,3})\.(\d{1,2})\.(\d{1,2})`),
		rule("first issue", `初發\s*[：:]*\s*(\d{2,3})\.(\d{1,2})\.(\d{1,2})`),
		{
			Name:    "dotted before birth label",
			Pattern: regexp.MustCompile(`(\d{2,3})\.(\d{1,2})\.(\d{1,2})`),
			Reject:  laterOnLine("出生"),
		},
	}

	// cities is checked in order; the first one present in the text wins.
	cities = []string{
		"台北市", "新北市", "桃園市", "台中市", "台南市", "高雄市",
		"基隆市", "新竹市", "嘉義市",
		"新竹縣", "苗栗縣", "彰化縣", "南投縣", "雲林縣", "嘉義縣",
		"屏東縣", "宜蘭縣", "花蓮縣", "台東縣", "澎湖縣", "金門縣", "連江縣",
	}

	issueLocationRules = []Rule{
		rule("household registration office", `([`+han+`]{2,4})(?:市|縣)?戶政`),
	}

	licenseNumberRules = []Rule{
		rule("bare", `([A-Z]\d{2}\d{7,8})`),
		rule("labelled", `駕照\s*號碼?\s*[：:]*\s*([A-Z]\d{2}\d{7,8})`),
		rule("number label", `號\s*碼\s*([A-Z]\d{2}\d{7,8})`),
	}

	addressRules = []Rule{
		rule("residence label", `住\s*址\s*[：:]*\s*([^\n\r]{5,50})`),
		rule("address label", `地\s*址\s*[：:]*\s*([^\n\r]{5,50})`),
		rule("city and district", `([`+han+`]{2,4}[市縣][`+han+`]{2,4}[區鄉鎮市][^\n\r]{3,40})`),
	}

	licenseShape = regexp.MustCompile(`[A-Z]\d{2}\d{7,8}`)
)
