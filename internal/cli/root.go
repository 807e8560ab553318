// Package cli 离线命令行入口，直接对本地 APK 文件运行分析流水线
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apk-analysis/apk-risk-go/internal/config"
)

// Version 命令行版本，构建时通过 -ldflags 覆盖
var Version = "1.0.0"

type rootOptions struct {
	ConfigPath string
	Verbose    bool
}

// Execute 构建命令树并执行
func Execute() error {
	// .env 不存在时忽略
	_ = godotenv.Load()

	return NewRootCommand(os.Stdout, os.Stderr).Execute()
}

// NewRootCommand 创建根命令，结果写到 stdout，日志写到 stderr
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "apkscan",
		Short:         "Score Android packages for fake banking app risk",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetVersionTemplate("apkscan version {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to config.yaml (optional)")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log pipeline progress to stderr")

	rootCmd.AddCommand(
		newScanCmd(opts),
		newVersionCmd(),
	)

	return rootCmd
}

// loadConfig 读取配置并创建写入 stderr 的日志器
func (o *rootOptions) loadConfig(stderr io.Writer) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, err
	}

	logger := config.NewLogger(&cfg.Log, stderr)
	if !o.Verbose && logger.GetLevel() > logrus.WarnLevel {
		logger.SetLevel(logrus.WarnLevel)
	}
	return cfg, logger, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "apkscan %s\n", Version)
		},
	}
}
