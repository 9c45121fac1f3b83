package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	yaml "go.yaml.in/yaml/v3"

	"github.com/ionex/idverify/internal/verify"
)

// evalFields are the columns a CSV may carry besides "image".
var evalFields = []string{
	"documentType",
	"idNumber", "name", "gender", "birthDate", "issueDate", "issueLocation",
	"licenseNumber", "licenseType", "address",
}

type EvalConfig struct {
	Engine    string `json:"engine" yaml:"engine"`
	CSVPath   string `json:"csv_path" yaml:"csv_path"`
	Dir       string `json:"dir" yaml:"dir"`
	TestRows  []int  `json:"rows" yaml:"rows"`
	Timestamp string `json:"timestamp" yaml:"timestamp"`
}

type FieldResult struct {
	Field      string  `json:"field" yaml:"field"`
	Expected   string  `json:"expected" yaml:"expected"`
	Actual     string  `json:"actual" yaml:"actual"`
	Exact      bool    `json:"exact" yaml:"exact"`
	Similarity float64 `json:"similarity" yaml:"similarity"`
}

type EvalResult struct {
	Identifier        string        `json:"identifier" yaml:"identifier"`
	ImagePath         string        `json:"image_path" yaml:"image_path"`
	DocumentType      string        `json:"document_type" yaml:"document_type"`
	Success           bool          `json:"success" yaml:"success"`
	Confidence        float64       `json:"confidence" yaml:"confidence"`
	Fields            []FieldResult `json:"fields" yaml:"fields"`
	ExactMatches      int           `json:"exact_matches" yaml:"exact_matches"`
	AverageSimilarity float64       `json:"average_similarity" yaml:"average_similarity"`
}

// FieldSummary aggregates one field over all evaluated rows.
type FieldSummary struct {
	Field             string  `json:"field" yaml:"field"`
	Evaluated         int     `json:"evaluated" yaml:"evaluated"`
	Exact             int     `json:"exact" yaml:"exact"`
	Accuracy          float64 `json:"accuracy" yaml:"accuracy"`
	AverageSimilarity float64 `json:"average_similarity" yaml:"average_similarity"`
}

type EvalSummary struct {
	Config  EvalConfig     `json:"config" yaml:"config"`
	Fields  []FieldSummary `json:"fields" yaml:"fields"`
	Results []EvalResult   `json:"results" yaml:"results"`
}

// cardVerifier is the part of verify.Service the evaluation uses.
type cardVerifier interface {
	VerifyFile(ctx context.Context, path string, autoQuery bool) (*verify.Response, error)
}

var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Evaluate field extraction against labelled card images",
	Long: `Evaluate OCR and field extraction by comparing extracted fields with the
expected values in a CSV file.

The CSV header names the columns: "image" first, then any of
documentType, idNumber, name, gender, birthDate, issueDate, issueLocation,
licenseNumber, licenseType, address. Empty cells are not scored.

You can either provide individual flags or use a previous evaluation file.`,
	RunE: runEval,
}

var (
	evalEngine     string
	evalCSVPath    string
	evalConfigPath string
	evalXLSXPath   string
	dir            string
	rows           []int
)

func init() {
	RootCmd.AddCommand(evalCmd)

	evalCmd.Flags().StringVar(&evalEngine, "engine", "", "OCR engine: tesseract, google, paddle (default from OCR_ENGINE)")
	evalCmd.Flags().StringVarP(&evalCSVPath, "csv", "c", "", "Path to CSV file with evaluation data")
	evalCmd.Flags().StringVar(&evalConfigPath, "rerun", "", "Path to a previous evaluation file to rerun")
	evalCmd.Flags().StringVar(&evalXLSXPath, "xlsx", "", "Also write the results to this Excel workbook")
	evalCmd.Flags().StringVar(&dir, "dir", "./", "Prepend your CSV file paths with a directory")
	evalCmd.Flags().IntSliceVar(&rows, "rows", []int{}, "A list of row numbers to run the test on")

	evalCmd.MarkFlagsOneRequired("csv", "rerun")
	evalCmd.MarkFlagsMutuallyExclusive("csv", "rerun")
}

func runEval(cmd *cobra.Command, args []string) error {
	var config EvalConfig
	var err error

	if evalConfigPath != "" {
		config, err = loadEvalConfig(evalConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		fmt.Printf("Loaded configuration from %s\n", evalConfigPath)
	} else {
		config = EvalConfig{
			Engine:    evalEngine,
			CSVPath:   evalCSVPath,
			Dir:       dir,
			Timestamp: time.Now().Format("2006-01-02_15-04-05"),
		}
	}
	if cmd.Flags().Changed("rows") {
		config.TestRows = rows
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()

	svc, err := a.service(config.Engine, nil)
	if err != nil {
		return err
	}
	config.Engine = svc.Engine.Name()

	evalsDir := "evals"
	if err := os.MkdirAll(evalsDir, 0755); err != nil {
		return fmt.Errorf("failed to create evals directory: %w", err)
	}

	results, err := processEvaluation(cmd.Context(), svc, config)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	summary := EvalSummary{
		Config:  config,
		Fields:  summarizeFields(results),
		Results: results,
	}

	outputPath := filepath.Join(evalsDir, fmt.Sprintf("eval_%s.yaml", config.Timestamp))
	if err := saveEvalResults(summary, outputPath); err != nil {
		return fmt.Errorf("failed to save results: %w", err)
	}
	fmt.Printf("\nEvaluation completed. Results saved to: %s\n", outputPath)

	if evalXLSXPath != "" {
		if err := saveEvalWorkbook(summary, evalXLSXPath); err != nil {
			return fmt.Errorf("failed to save workbook: %w", err)
		}
		fmt.Printf("Workbook saved to: %s\n", evalXLSXPath)
	}

	printSummaryStats(summary)
	return nil
}

func loadEvalConfig(configPath string) (EvalConfig, error) {
	var summary EvalSummary

	data, err := os.ReadFile(configPath)
	if err != nil {
		return EvalConfig{}, err
	}

	if err := yaml.Unmarshal(data, &summary); err != nil {
		return EvalConfig{}, err
	}

	// Update timestamp for rerun
	summary.Config.Timestamp = time.Now().Format("2006-01-02_15-04-05")

	return summary.Config, nil
}

// evalRow is one labelled image: expected values keyed by field name.
type evalRow struct {
	Image    string
	Expected map[string]string
}

func readEvalCSV(path string) ([]evalRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	header := records[0]
	if !strings.EqualFold(strings.TrimSpace(header[0]), "image") {
		return nil, fmt.Errorf(`CSV header must start with "image", got %q`, header[0])
	}
	for _, col := range header[1:] {
		if !slices.Contains(evalFields, strings.TrimSpace(col)) {
			return nil, fmt.Errorf("unknown CSV column %q", col)
		}
	}

	var out []evalRow
	for _, record := range records[1:] {
		row := evalRow{Image: strings.TrimSpace(record[0]), Expected: map[string]string{}}
		for i, col := range header[1:] {
			if i+1 >= len(record) {
				break
			}
			if v := strings.TrimSpace(record[i+1]); v != "" {
				row.Expected[strings.TrimSpace(col)] = v
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func processEvaluation(ctx context.Context, svc cardVerifier, config EvalConfig) ([]EvalResult, error) {
	dataRows, err := readEvalCSV(config.CSVPath)
	if err != nil {
		return nil, err
	}

	testRows := config.TestRows
	if len(testRows) == 0 {
		for i := range dataRows {
			testRows = append(testRows, i)
		}
	}

	var results []EvalResult
	for i, row := range dataRows {
		if !slices.Contains(testRows, i) {
			slog.Warn("Skipping row", "row", i+1)
			continue
		}
		if row.Image == "" || len(row.Expected) == 0 {
			slog.Warn("Insufficient columns", "row", i+1)
			continue
		}

		result, err := processRow(ctx, svc, config.Dir, row)
		if err != nil {
			slog.Error("Error processing row", "row", i+1, "err", err)
			continue
		}

		results = append(results, result)
		printRowResult(result)
	}

	return results, nil
}

func processRow(ctx context.Context, svc cardVerifier, baseDir string, row evalRow) (EvalResult, error) {
	imagePath := filepath.Join(baseDir, row.Image)

	resp, err := svc.VerifyFile(ctx, imagePath, false)
	if err != nil {
		return EvalResult{}, fmt.Errorf("verification failed: %w", err)
	}

	result := EvalResult{
		Identifier:   filepath.Base(imagePath),
		ImagePath:    imagePath,
		DocumentType: string(resp.DocumentType),
		Success:      resp.Success,
		Confidence:   resp.Confidence,
	}

	total := 0.0
	for _, field := range evalFields {
		expected, ok := row.Expected[field]
		if !ok {
			continue
		}
		fr := scoreField(field, expected, actualField(resp, field))
		if fr.Exact {
			result.ExactMatches++
		}
		total += fr.Similarity
		result.Fields = append(result.Fields, fr)
	}
	if len(result.Fields) > 0 {
		result.AverageSimilarity = total / float64(len(result.Fields))
	}
	return result, nil
}

func actualField(resp *verify.Response, field string) string {
	if field == "documentType" {
		return string(resp.DocumentType)
	}
	if resp.Data == nil {
		return ""
	}
	if v := resp.Data.Field(field); v != nil {
		return *v
	}
	return ""
}

func scoreField(field, expected, actual string) FieldResult {
	e, a := normalizeText(expected), normalizeText(actual)
	return FieldResult{
		Field:      field,
		Expected:   expected,
		Actual:     actual,
		Exact:      e == a,
		Similarity: calculateSimilarity(e, a),
	}
}

func summarizeFields(results []EvalResult) []FieldSummary {
	byField := map[string]*FieldSummary{}
	for _, r := range results {
		for _, f := range r.Fields {
			s, ok := byField[f.Field]
			if !ok {
				s = &FieldSummary{Field: f.Field}
				byField[f.Field] = s
			}
			s.Evaluated++
			if f.Exact {
				s.Exact++
			}
			s.AverageSimilarity += f.Similarity
		}
	}

	var out []FieldSummary
	for _, field := range evalFields {
		s, ok := byField[field]
		if !ok {
			continue
		}
		s.Accuracy = float64(s.Exact) / float64(s.Evaluated)
		s.AverageSimilarity /= float64(s.Evaluated)
		out = append(out, *s)
	}
	return out
}

func saveEvalResults(summary EvalSummary, outputPath string) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return err
	}

	return os.WriteFile(outputPath, data, 0644)
}

func saveEvalWorkbook(summary EvalSummary, outputPath string) error {
	f := excelize.NewFile()
	defer f.Close()

	const summarySheet = "Summary"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return err
	}
	writeSheet(f, summarySheet,
		[]string{"Field", "Evaluated", "Exact", "Accuracy", "Average Similarity"},
		len(summary.Fields),
		func(i int) []any {
			s := summary.Fields[i]
			return []any{s.Field, s.Evaluated, s.Exact, s.Accuracy, s.AverageSimilarity}
		},
	)
	_ = f.SetColWidth(summarySheet, "A", "A", 16)
	_ = f.SetColWidth(summarySheet, "E", "E", 20)

	const fieldsSheet = "Fields"
	if _, err := f.NewSheet(fieldsSheet); err != nil {
		return err
	}
	var flat []struct {
		r EvalResult
		f FieldResult
	}
	for _, r := range summary.Results {
		for _, fr := range r.Fields {
			flat = append(flat, struct {
				r EvalResult
				f FieldResult
			}{r, fr})
		}
	}
	writeSheet(f, fieldsSheet,
		[]string{"Image", "Document Type", "Field", "Expected", "Actual", "Exact", "Similarity"},
		len(flat),
		func(i int) []any {
			row := flat[i]
			return []any{row.r.Identifier, row.r.DocumentType, row.f.Field, row.f.Expected, row.f.Actual, row.f.Exact, row.f.Similarity}
		},
	)
	_ = f.SetColWidth(fieldsSheet, "A", "A", 24)
	_ = f.SetColWidth(fieldsSheet, "D", "E", 30)

	index, _ := f.GetSheetIndex(summarySheet)
	f.SetActiveSheet(index)
	return f.SaveAs(outputPath)
}

func writeSheet(f *excelize.File, sheet string, headers []string, n int, row func(int) []any) {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r := 0; r < n; r++ {
		for c, v := range row(r) {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
}

func printRowResult(result EvalResult) {
	fmt.Printf("\n=== Results for %s ===\n", result.Identifier)
	fmt.Printf("Image: %s\n", result.ImagePath)
	fmt.Printf("Document Type: %s\n", result.DocumentType)
	fmt.Printf("Confidence: %.1f\n", result.Confidence)
	for _, f := range result.Fields {
		mark := "✗"
		if f.Exact {
			mark = "✓"
		}
		fmt.Printf("  %s %-14s expected=%q actual=%q similarity=%.3f\n", mark, f.Field, f.Expected, f.Actual, f.Similarity)
	}
	fmt.Printf("Exact Matches: %d/%d\n", result.ExactMatches, len(result.Fields))
}

func printSummaryStats(summary EvalSummary) {
	if len(summary.Results) == 0 {
		return
	}

	fmt.Printf("\n=== SUMMARY STATISTICS ===\n")
	fmt.Printf("Total Evaluations: %d\n", len(summary.Results))
	for _, s := range summary.Fields {
		fmt.Printf("%-14s accuracy %.3f (%d/%d), average similarity %.3f\n",
			s.Field, s.Accuracy, s.Exact, s.Evaluated, s.AverageSimilarity)
	}
}

// normalizeText drops all whitespace and upper-cases Latin letters. Card
// fields carry no meaningful spaces.
func normalizeText(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, text)
}

// levenshteinDistance counts rune edits, so one Chinese character is one edit.
func levenshteinDistance(s1, s2 string) int {
	r1, r2 := []rune(s1), []rune(s2)
	len1, len2 := len(r1), len(r2)
	if len1 == 0 {
		return len2
	}
	if len2 == 0 {
		return len1
	}

	prev := make([]int, len2+1)
	curr := make([]int, len2+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		curr[0] = i
		for j := 1; j <= len2; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len2]
}

func calculateSimilarity(s1, s2 string) float64 {
	maxLen := max(len([]rune(s1)), len([]rune(s2)))
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshteinDistance(s1, s2)
	return 1.0 - float64(distance)/float64(maxLen)
}
