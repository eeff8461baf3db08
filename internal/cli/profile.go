package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/markdown-translate/internal/fetcher"
	"github.com/nerdneilsfield/markdown-translate/internal/translator"
	"github.com/nerdneilsfield/markdown-translate/pkg/providers/openai"
)

func newProfileCommand() *cobra.Command {
	var (
		urlValue  string
		fileValue string
		outPath   string
		titleHint string
	)

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "只生成全局画像（大纲、术语表、文风），输出 Markdown 报告",
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceType, sourceValue, err := resolveSource(urlValue, fileValue)
			if err != nil {
				return err
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			client, err := openai.New(openai.Config{
				APIKeyEnv:  cfg.APIKeyEnv,
				BaseURL:    cfg.BaseURL,
				Model:      cfg.ModelID,
				Timeout:    time.Duration(cfg.RequestTimeout) * time.Second,
				MaxRetries: cfg.MaxRetries,
			}, log)
			if err != nil {
				return err
			}

			var content string
			if sourceType == translator.SourceTypeURL {
				fetch := fetcher.New(fetcher.Config{
					MinContentLength: cfg.MinContentLength,
					Timeout:          time.Duration(cfg.FetchTimeout) * time.Second,
					MaxAttempts:      cfg.MaxRetries,
				}, log)
				content, err = fetch.FetchMarkdown(cmd.Context(), sourceValue)
				if err != nil {
					return err
				}
			} else {
				data, err := os.ReadFile(sourceValue)
				if err != nil {
					return err
				}
				content = string(data)
			}
			content = fetcher.CleanReaderArtifacts(content)

			profile, err := translator.BuildProfile(cmd.Context(), client, translator.ProfileRequest{
				Content:        content,
				SourceType:     sourceType,
				SourceValue:    sourceValue,
				TitleHint:      titleHint,
				SourceLanguage: cfg.SourceLang,
				TargetLanguage: cfg.TargetLang,
			})
			if err != nil {
				return err
			}

			markdown := translator.RenderProfileMarkdown(profile)
			if outPath == "" {
				fmt.Fprint(cmd.OutOrStdout(), markdown)
				return nil
			}
			return os.WriteFile(outPath, []byte(markdown), 0o644)
		},
	}

	cmd.Flags().StringVar(&urlValue, "url", "", "待画像页面的 URL")
	cmd.Flags().StringVar(&fileValue, "file", "", "待画像的本地 Markdown 文件")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "输出文件路径（缺省打印到标准输出）")
	cmd.Flags().StringVar(&titleHint, "title-hint", "", "标题提示")

	return cmd
}
