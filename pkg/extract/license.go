package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ionex/idverify/pkg/ocr"
)

// licenseClass maps a category code or short form to its description.
type licenseClass struct {
	Key         string
	Description string
}

// licenseClasses is ordered; word-level matches are reported in this order.
var licenseClasses = []licenseClass{
	{"A", "普通重型機車"},
	{"A1", "大型重型機車"},
	{"A2", "普通重型機車"},
	{"A3", "輕型機車"},
	{"B", "普通小型車"},
	{"C", "普通大貨車"},
	{"D", "普通大客車"},
	{"E", "普通聯結車"},
	{"F", "營業小客車"},
	{"輕機", "輕型機車"},
	{"普機", "普通重型機車"},
	{"大機", "大型重型機車"},
	{"普重", "普通重型機車"},
	{"普小", "普通小型車"},
	{"大貨", "普通大貨車"},
	{"大客", "普通大客車"},
}

func licenseDescription(key string) (string, bool) {
	for _, c := range licenseClasses {
		if c.Key == key {
			return c.Description, true
		}
	}
	return "", false
}

var (
	traditional = strings.NewReplacer("车", "車", "货", "貨", "华", "華", "发", "發")

	licenseFullNames = []string{
		"普通重型機車",
		"大型重型機車",
		"輕型機車",
		"普通小型車",
		"普通大貨車",
		"普通大客車",
		"營業小客車",
		"普通聯結車",
	}

	licenseCodeRules = []Rule{
		rule("category label", `(?i)種\s*類?\s*[：:]*\s*([A-F]\d?)`),
		rule("license category label", `(?i)駕\s*種\s*[：:]*\s*([A-F]\d?)`),
		rule("code before category", `(?i)([A-F]\d?)\s*種`),
		rule("after description", `(?i)(?:普通|大型|輕型)(?:重型)?(?:機車|小型車|大貨車|大客車)\s+([A-F]\d?)`),
		rule("after holder label", `(?i)持\s*照\s+([A-F]\d?)`),
		rule("category label spaced", `(?i)種\s*類\s*([A-F]\d?)`),
	}

	bareCode  = regexp.MustCompile(`(?i)^([A-F]\d?)$`)
	looseCode = regexp.MustCompile(`(?i)(?:種|類|駕|照|持照)\s{0,10}([A-F]\d?)`)
)

// extractLicenseType collects license categories from four independent
// searches and joins the distinct hits with ", ". Every search contributes;
// none short-circuits the others. Each search that found something is
// recorded in t.
func extractLicenseType(text string, words []ocr.Word, t *trace) *string {
	normalized := traditional.Replace(text)
	var hits, sources []string

	for _, name := range licenseFullNames {
		if strings.Contains(normalized, name) {
			hits = append(hits, name)
		}
	}
	if len(hits) > 0 {
		sources = append(sources, "full name")
	}

	for _, r := range licenseCodeRules {
		m := r.Pattern.FindStringSubmatch(normalized)
		if m == nil || m[1] == "" {
			continue
		}
		code := strings.ToUpper(m[1])
		if desc, ok := licenseDescription(code); ok {
			hits = append(hits, labelCode(desc, code))
		} else {
			hits = append(hits, code)
		}
		sources = append(sources, r.Name)
	}

	if fromWords := licenseTypesFromWords(words); len(fromWords) > 0 {
		hits = append(hits, fromWords...)
		sources = append(sources, "word data")
	}

	loose := false
	for _, m := range looseCode.FindAllStringSubmatch(normalized, -1) {
		code := strings.ToUpper(m[1])
		if desc, ok := licenseDescription(code); ok {
			hits = append(hits, labelCode(desc, code))
			loose = true
		}
	}
	if loose {
		sources = append(sources, "loose code")
	}

	hits = dedupe(hits)
	if len(hits) == 0 {
		return nil
	}
	t.matched("licenseType", strings.Join(sources, ", "))
	return ptr(strings.Join(hits, ", "))
}

// licenseTypesFromWords looks at word-level OCR data: a bare code right after
// a category or holder label, and any word containing a description or a
// multi-character short form.
func licenseTypesFromWords(words []ocr.Word) []string {
	var hits []string
	for i, w := range words {
		text := traditional.Replace(strings.TrimSpace(w.Text))

		if (strings.Contains(text, "種") || strings.Contains(text, "持照")) && i+1 < len(words) {
			next := strings.TrimSpace(words[i+1].Text)
			if m := bareCode.FindStringSubmatch(next); m != nil {
				code := strings.ToUpper(m[1])
				if desc, ok := licenseDescription(code); ok {
					hits = append(hits, labelCode(desc, code))
				}
			}
		}

		for _, c := range licenseClasses {
			if strings.Contains(text, c.Description) ||
				(utf8.RuneCountInString(c.Key) > 1 && strings.Contains(text, c.Key)) {
				hits = append(hits, c.Description)
			}
		}
	}
	return hits
}

func labelCode(desc, code string) string {
	return desc + " (" + code + ")"
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
