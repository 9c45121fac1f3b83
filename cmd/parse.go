package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ionex/idverify/internal/verify"
	"github.com/ionex/idverify/pkg/hocr"
	"github.com/ionex/idverify/pkg/imaging"
	"github.com/ionex/idverify/pkg/penalty"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Read an ID card or driving license image",
	Long: `Read an ID card or driving license image and print the extracted fields.

The image is checked, preprocessed for the selected OCR engine, recognized,
routed to the ID card or driving license parser, and checked for missing
fields. With --query the extracted ID number and birth date are also sent to
the driver license penalty query.

--format hocr skips field extraction and prints the OCR layout as an hOCR
document, useful for checking what the engine saw.`,
	RunE: runParse,
}

var (
	parseImage   string
	parseURL     string
	parseEngine  string
	parseQuery   bool
	parseFormat  string
	parseRawText bool
)

func init() {
	RootCmd.AddCommand(parseCmd)

	parseCmd.Flags().StringVar(&parseImage, "image", "", "Path to the card image")
	parseCmd.Flags().StringVar(&parseURL, "url", "", "http or https URL of the card image")
	parseCmd.Flags().StringVar(&parseEngine, "engine", "", "OCR engine: tesseract, google, paddle (default from OCR_ENGINE)")
	parseCmd.Flags().BoolVar(&parseQuery, "query", false, "Run the violation query with the extracted fields")
	parseCmd.Flags().StringVarP(&parseFormat, "format", "f", "json", "Output format: json, yaml, hocr")
	parseCmd.Flags().BoolVar(&parseRawText, "raw", false, "Include the OCR text in the output")

	parseCmd.MarkFlagsOneRequired("image", "url")
	parseCmd.MarkFlagsMutuallyExclusive("image", "url")
}

func runParse(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a := newApp(cfg)
	defer a.Close()

	ctx := cmd.Context()

	var q *penalty.Querier
	if parseQuery {
		q, err = a.querier(ctx, cfg.Query.Headless)
		if err != nil {
			return err
		}
	}

	svc, err := a.service(parseEngine, q)
	if err != nil {
		return err
	}
	svc.IncludeRawText = parseRawText

	if parseFormat == "hocr" {
		return runParseHOCR(cmd, svc)
	}

	var resp *verify.Response
	if parseURL != "" {
		slog.Info("Reading card", "url", parseURL, "engine", svc.Engine.Name())
		resp, err = svc.VerifyURL(ctx, parseURL, parseQuery)
	} else {
		if err := checkImageExists(parseImage); err != nil {
			return err
		}
		slog.Info("Reading card", "image", parseImage, "engine", svc.Engine.Name())
		resp, err = svc.VerifyFile(ctx, parseImage, parseQuery)
	}
	if err != nil {
		return err
	}

	return writeOutput(cmd.OutOrStdout(), parseFormat, resp)
}

func runParseHOCR(cmd *cobra.Command, svc *verify.Service) error {
	ctx := cmd.Context()
	path := parseImage
	if parseURL != "" {
		downloaded, err := svc.Images.Download(ctx, parseURL)
		if err != nil {
			return err
		}
		defer imaging.Cleanup(downloaded)
		path = downloaded
	} else if err := checkImageExists(path); err != nil {
		return err
	}

	result, err := svc.Recognize(ctx, path)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), hocr.FromResult(result, svc.Engine.Name()))
	return err
}

func checkImageExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fmt.Errorf("input image file does not exist: %s", path)
	}
	return nil
}
