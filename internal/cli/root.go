// Package cli 提供 markdown-translate 的命令行入口。
package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nerdneilsfield/markdown-translate/internal/config"
	"github.com/nerdneilsfield/markdown-translate/internal/fetcher"
	"github.com/nerdneilsfield/markdown-translate/internal/logger"
	"github.com/nerdneilsfield/markdown-translate/internal/pipeline"
	"github.com/nerdneilsfield/markdown-translate/internal/translator"
	"github.com/nerdneilsfield/markdown-translate/pkg/providers"
	"github.com/nerdneilsfield/markdown-translate/pkg/providers/openai"
)

var (
	cfgFile   string
	debugMode bool
)

// NewRootCommand 创建根命令
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "markdown-translate",
		Short: "把网页或本地 Markdown 文档翻译成带批注的学习笔记",
		Long: `markdown-translate 是一个两步式 Markdown 文档翻译器：
先让模型生成全局画像（大纲、术语表、文风约定），再按结构分块逐块翻译。
代码块、数学公式、链接目标等内容在送往模型前会被替换成占位符，
翻译完成后逐字节还原，保证结构不被改写。`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "配置文件路径（默认搜索 .markdown-translate.yaml）")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "启用调试日志")

	rootCmd.AddCommand(newTranslateCommand())
	rootCmd.AddCommand(newPlanCommand())
	rootCmd.AddCommand(newProfileCommand())

	return rootCmd
}

// loadConfig 加载配置并套用命令行覆盖
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if debugMode {
		cfg.Debug = true
	}
	log := logger.NewLogger(cfg.Debug)
	return cfg, log, nil
}

// buildPipeline 按配置组装完整流水线
func buildPipeline(cfg *config.Config, log *zap.Logger) (*pipeline.Pipeline, providers.ChatClient, error) {
	client, err := openai.New(openai.Config{
		APIKeyEnv:  cfg.APIKeyEnv,
		BaseURL:    cfg.BaseURL,
		Model:      cfg.ModelID,
		Timeout:    time.Duration(cfg.RequestTimeout) * time.Second,
		MaxRetries: cfg.MaxRetries,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	fetch := fetcher.New(fetcher.Config{
		MinContentLength: cfg.MinContentLength,
		Timeout:          time.Duration(cfg.FetchTimeout) * time.Second,
		MaxAttempts:      cfg.MaxRetries,
	}, log)

	trans, err := translator.New(client, translator.Options{
		Concurrency:             cfg.Concurrency,
		OutlineMode:             cfg.OutlineMode,
		GlossaryMode:            cfg.GlossaryMode,
		MaxGlossaryTerms:        cfg.GlossaryMaxTerms,
		MaxGlossaryChars:        cfg.GlossaryMaxChars,
		SkipInlineCodeThreshold: cfg.SkipInlineCodeThreshold,
		SourceLanguage:          cfg.SourceLang,
		TargetLanguage:          cfg.TargetLang,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	p, err := pipeline.New(client, fetch, trans, log)
	if err != nil {
		return nil, nil, err
	}
	return p, client, nil
}

// resolveSource 把 --url/--file 二选一解析成来源类型与取值
func resolveSource(urlValue, fileValue string) (string, string, error) {
	switch {
	case urlValue != "" && fileValue != "":
		return "", "", fmt.Errorf("--url and --file are mutually exclusive")
	case urlValue != "":
		return translator.SourceTypeURL, urlValue, nil
	case fileValue != "":
		return translator.SourceTypeFile, fileValue, nil
	default:
		return "", "", fmt.Errorf("either --url or --file is required")
	}
}
