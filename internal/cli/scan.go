package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/apk-analysis/apk-risk-go/internal/app"
	"github.com/apk-analysis/apk-risk-go/internal/domain"
	"github.com/apk-analysis/apk-risk-go/internal/service"
)

type scanOptions struct {
	Format      string
	BanksFile   string
	Concurrency int
	FailOn      string
}

// scanRecord 单个文件的输出记录
type scanRecord struct {
	File    string          `json:"file" yaml:"file"`
	SHA256  string          `json:"sha256,omitempty" yaml:"sha256,omitempty"`
	Package string          `json:"package,omitempty" yaml:"package,omitempty"`
	Source  string          `json:"source,omitempty" yaml:"source,omitempty"`
	Packer  string          `json:"packer,omitempty" yaml:"packer,omitempty"`
	Score   float64         `json:"score" yaml:"score"`
	Verdict domain.Verdict  `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Reasons []domain.Reason `json:"reasons,omitempty" yaml:"reasons,omitempty"`
	Error   string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// scanReport 一次扫描的汇总输出
type scanReport struct {
	Results []scanRecord `json:"results" yaml:"results"`
	Failed  int          `json:"failed" yaml:"failed"`
}

func newScanCmd(root *rootOptions) *cobra.Command {
	opts := &scanOptions{}

	cmd := &cobra.Command{
		Use:   "scan <file.apk> [file.apk...]",
		Short: "Analyze local APK files and print their risk verdicts",
		Long: `Runs the static analysis pipeline on each file without a server:
- extract package features (structured parsers, raw scan fallback)
- match the app name against the official bank list
- score the findings and print one record per file

Example:
  apkscan scan suspicious.apk
  apkscan scan *.apk --format yaml --banks banks.yaml
  apkscan scan inbox/*.apk --fail-on suspicious`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, root, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", "json", "output format (json, yaml)")
	cmd.Flags().StringVar(&opts.BanksFile, "banks", "", "YAML or JSON list of official banks (default: built-in list)")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 4, "number of files analyzed in parallel")
	cmd.Flags().StringVar(&opts.FailOn, "fail-on", "", "exit non-zero when any verdict reaches this level (suspicious, malicious)")

	return cmd
}

func runScan(cmd *cobra.Command, root *rootOptions, opts *scanOptions, files []string) error {
	encode, err := encoderFor(opts.Format)
	if err != nil {
		return err
	}
	threshold, err := parseFailOn(opts.FailOn)
	if err != nil {
		return err
	}

	cfg, logger, err := root.loadConfig(cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	banks, err := loadBanks(opts.BanksFile)
	if err != nil {
		return err
	}

	pipeline, err := app.Build(cfg, logger, app.Hooks{})
	if err != nil {
		return err
	}
	defer pipeline.Close()

	// 离线扫描不保存样本
	svc := pipeline.NewService(cfg, banks, "", logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report := scanFiles(ctx, svc, files, opts.Concurrency, logger)

	if err := encode(cmd.OutOrStdout(), report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if report.Failed > 0 {
		return fmt.Errorf("%d of %d files could not be analyzed", report.Failed, len(files))
	}
	if threshold != "" {
		for _, r := range report.Results {
			if severity(r.Verdict) >= severity(threshold) {
				return fmt.Errorf("%s: verdict %s reaches --fail-on %s", r.File, r.Verdict, threshold)
			}
		}
	}
	return nil
}

// scanFiles 并发分析文件，结果保持输入顺序，单个文件失败不影响其他文件
func scanFiles(ctx context.Context, svc service.AnalysisService, files []string, concurrency int, logger *logrus.Logger) scanReport {
	if concurrency <= 0 {
		concurrency = 1
	}

	records := make([]scanRecord, len(files))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			records[i] = scanOne(ctx, svc, path, logger)
			return nil
		})
	}
	_ = g.Wait()

	report := scanReport{Results: records}
	for _, r := range records {
		if r.Error != "" {
			report.Failed++
		}
	}
	return report
}

func scanOne(ctx context.Context, svc service.AnalysisService, path string, logger *logrus.Logger) scanRecord {
	result, err := svc.AnalyzeFile(ctx, path)
	if err != nil {
		logger.WithError(err).WithField("file", path).Warn("Analysis failed")
		return scanRecord{File: path, Error: err.Error()}
	}

	record := scanRecord{
		File:    path,
		SHA256:  result.Digest,
		Package: result.Features.PackageValue(),
		Score:   result.Score,
		Verdict: result.Verdict,
		Reasons: result.Reasons,
	}
	if result.Features != nil {
		record.Source = result.Features.Source
		record.Packer = result.Features.Packer
	}

	logger.WithFields(logrus.Fields{
		"file":    path,
		"sha256":  result.Digest,
		"score":   result.Score,
		"verdict": result.Verdict,
	}).Info("File analyzed")
	return record
}

type encodeFunc func(w io.Writer, report scanReport) error

func encoderFor(format string) (encodeFunc, error) {
	switch format {
	case "json":
		return func(w io.Writer, report scanReport) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}, nil
	case "yaml", "yml":
		return func(w io.Writer, report scanReport) error {
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(report); err != nil {
				return err
			}
			return enc.Close()
		}, nil
	default:
		return nil, fmt.Errorf("unsupported format %q (json, yaml)", format)
	}
}

func parseFailOn(value string) (domain.Verdict, error) {
	switch value {
	case "":
		return "", nil
	case "suspicious", string(domain.VerdictSuspicious):
		return domain.VerdictSuspicious, nil
	case "malicious", string(domain.VerdictMalicious):
		return domain.VerdictMalicious, nil
	default:
		return "", fmt.Errorf("unsupported --fail-on %q (suspicious, malicious)", value)
	}
}

func severity(v domain.Verdict) int {
	switch v {
	case domain.VerdictMalicious:
		return 2
	case domain.VerdictSuspicious:
		return 1
	default:
		return 0
	}
}
