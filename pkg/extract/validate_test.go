package extract

import (
	"reflect"
	"testing"
)

func TestValidateParseResult(t *testing.T) {
	tests := []struct {
		name         string
		record       Record
		wantComplete bool
		wantMissing  []string
		wantWarnings []string
	}{
		{
			name: "all fields present",
			record: IDCard{
				IDNumber: str("A123456789"), Name: str("王小明"), Gender: str("男"),
				BirthDate: str("70年01月01日"), IssueDate: str("99.05.20"), IssueLocation: str("台北市"),
			},
			wantComplete: true,
			wantMissing:  []string{},
			wantWarnings: []string{},
		},
		{
			name: "only issue location absent",
			record: IDCard{
				IDNumber: str("A123456789"), Name: str("王小明"), Gender: str("男"),
				BirthDate: str("70年01月01日"), IssueDate: str("99.05.20"),
			},
			wantComplete: true,
			wantMissing:  []string{},
			wantWarnings: []string{"缺少選填欄位: issueLocation"},
		},
		{
			name:         "missing id number",
			record:       IDCard{Name: str("王小明"), BirthDate: str("70年01月01日")},
			wantComplete: false,
			wantMissing:  []string{"idNumber"},
			wantWarnings: []string{"缺少選填欄位: gender", "缺少選填欄位: issueDate", "缺少選填欄位: issueLocation"},
		},
		{
			name:         "empty string counts as missing",
			record:       IDCard{IDNumber: str(""), Name: str("王小明"), BirthDate: str("70年01月01日")},
			wantComplete: false,
			wantMissing:  []string{"idNumber"},
			wantWarnings: []string{"缺少選填欄位: gender", "缺少選填欄位: issueDate", "缺少選填欄位: issueLocation"},
		},
		{
			name:         "empty record",
			record:       IDCard{},
			wantComplete: false,
			wantMissing:  []string{"idNumber", "name", "birthDate"},
			wantWarnings: []string{"缺少選填欄位: gender", "缺少選填欄位: issueDate", "缺少選填欄位: issueLocation"},
		},
		{
			name: "driving license has no gender or issue location",
			record: DrivingLicense{
				IDNumber: str("B123456780"), Name: str("林美華"),
				BirthDate: str("075年03月15日"), IssueDate: str("105.06.01"),
			},
			wantComplete: true,
			wantMissing:  []string{},
			wantWarnings: []string{"缺少選填欄位: gender", "缺少選填欄位: issueLocation"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateParseResult(tt.record)
			if got.IsComplete != tt.wantComplete {
				t.Errorf("IsComplete = %v, want %v", got.IsComplete, tt.wantComplete)
			}
			if !reflect.DeepEqual(got.MissingFields, tt.wantMissing) {
				t.Errorf("MissingFields = %v, want %v", got.MissingFields, tt.wantMissing)
			}
			if !reflect.DeepEqual(got.Warnings, tt.wantWarnings) {
				t.Errorf("Warnings = %v, want %v", got.Warnings, tt.wantWarnings)
			}
		})
	}
}

func TestRuleCascadeOrder(t *testing.T) {
	rules := []Rule{
		rule("first", `x(\d)`),
		rule("second", `y(\d)`),
	}
	v, name, ok := firstMatch("y2 x1", rules, acceptCapture)
	if !ok || v != "1" || name != "first" {
		t.Errorf("firstMatch() = %q, %q, %v; want the earlier rule to win", v, name, ok)
	}

	v, name, ok = firstMatch("y2", rules, acceptCapture)
	if !ok || v != "2" || name != "second" {
		t.Errorf("firstMatch() = %q, %q, %v; want fallthrough to the second rule", v, name, ok)
	}

	if _, _, ok := firstMatch("z", rules, acceptCapture); ok {
		t.Error("firstMatch() should report no match")
	}
}
