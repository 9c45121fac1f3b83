// Package idcheck validates Taiwan national ID numbers and derives the
// information encoded in them.
package idcheck

import (
	"regexp"
	"strings"
	"unicode"
)

// Info is what a valid ID number tells about its holder.
type Info struct {
	City         string `json:"city" yaml:"city"`
	Gender       string `json:"gender" yaml:"gender"`
	SerialNumber string `json:"serialNumber" yaml:"serialNumber"`
}

const (
	GenderMale   = "男"
	GenderFemale = "女"
)

var (
	formatPattern    = regexp.MustCompile(`^[A-Z][12]\d{8}$`)
	candidatePattern = regexp.MustCompile(`[A-Z][12]\d{8}`)
)

// letterCodes maps the leading letter to its two-digit numeric code.
var letterCodes = map[byte]int{
	'A': 10, 'B': 11, 'C': 12, 'D': 13, 'E': 14, 'F': 15, 'G': 16, 'H': 17,
	'I': 34, 'J': 18, 'K': 19, 'L': 20, 'M': 21, 'N': 22, 'O': 35, 'P': 23,
	'Q': 24, 'R': 25, 'S': 26, 'T': 27, 'U': 28, 'V': 29, 'W': 32, 'X': 30,
	'Y': 31, 'Z': 33,
}

// letterCities maps the leading letter to the issuing region. Four of the
// letters belong to regions that have since been merged.
var letterCities = map[byte]string{
	'A': "台北市", 'B': "台中市", 'C': "基隆市", 'D': "台南市", 'E': "高雄市",
	'F': "新北市", 'G': "宜蘭縣", 'H': "桃園市", 'I': "嘉義市", 'J': "新竹縣",
	'K': "苗栗縣", 'L': "台中縣", 'M': "南投縣", 'N': "彰化縣", 'O': "新竹市",
	'P': "雲林縣", 'Q': "嘉義縣", 'R': "台南縣", 'S': "高雄縣", 'T': "屏東縣",
	'U': "花蓮縣", 'V': "台東縣", 'W': "金門縣", 'X': "澎湖縣", 'Y': "陽明山",
	'Z': "連江縣",
}

var weights = [11]int{1, 9, 8, 7, 6, 5, 4, 3, 2, 1, 1}

// Normalize uppercases id and strips whitespace and dashes. Whitespace is
// any Unicode space, including the ideographic space in CJK OCR output.
func Normalize(id string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, strings.ToUpper(id))
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// IsPossible reports whether id has the right shape, without checking the
// checksum.
func IsPossible(id string) bool {
	return formatPattern.MatchString(Normalize(id))
}

// Validate reports whether id is a well-formed ID number with a correct
// checksum.
func Validate(id string) bool {
	id = Normalize(id)
	if !formatPattern.MatchString(id) {
		return false
	}
	return checksum(id)%10 == 0
}

func checksum(id string) int {
	code := letterCodes[id[0]]
	sum := (code/10)*weights[0] + (code%10)*weights[1]
	for i := 1; i < 10; i++ {
		sum += int(id[i]-'0') * weights[i+1]
	}
	return sum
}

// DeriveInfo returns the region, gender and serial encoded in id, or nil when
// id is not valid.
func DeriveInfo(id string) *Info {
	if !Validate(id) {
		return nil
	}
	id = Normalize(id)

	gender := GenderFemale
	if id[1] == '1' {
		gender = GenderMale
	}
	return &Info{
		City:         letterCities[id[0]],
		Gender:       gender,
		SerialNumber: id[2:9],
	}
}

// ExtractCandidates scans text for substrings shaped like an ID number and
// returns the ones that pass the checksum, in order of first appearance.
// Whitespace is removed first so numbers broken across OCR lines still match.
func ExtractCandidates(text string) []string {
	if text == "" {
		return []string{}
	}
	compact := stripSpaces(strings.ToUpper(text))

	ids := []string{}
	seen := map[string]bool{}
	for _, m := range candidatePattern.FindAllString(compact, -1) {
		if seen[m] || !Validate(m) {
			continue
		}
		seen[m] = true
		ids = append(ids, m)
	}
	return ids
}
