package extract

// ValidationSummary reports which fields of a record are missing.
type ValidationSummary struct {
	IsComplete    bool     `json:"isComplete" yaml:"isComplete"`
	MissingFields []string `json:"missingFields" yaml:"missingFields"`
	Warnings      []string `json:"warnings" yaml:"warnings"`
}

var (
	requiredFields = []string{"idNumber", "name", "birthDate"}
	optionalFields = []string{"gender", "issueDate", "issueLocation"}
)

// ValidateParseResult checks a record for the required fields and warns once
// per absent optional field. A record is complete when no required field is
// missing.
func ValidateParseResult(record Record) ValidationSummary {
	summary := ValidationSummary{
		MissingFields: []string{},
		Warnings:      []string{},
	}

	for _, field := range requiredFields {
		if isBlank(record.Field(field)) {
			summary.MissingFields = append(summary.MissingFields, field)
		}
	}
	for _, field := range optionalFields {
		if isBlank(record.Field(field)) {
			summary.Warnings = append(summary.Warnings, "缺少選填欄位: "+field)
		}
	}

	summary.IsComplete = len(summary.MissingFields) == 0
	return summary
}

func isBlank(s *string) bool {
	return s == nil || *s == ""
}
