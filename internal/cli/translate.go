package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/markdown-translate/internal/pipeline"
)

func newTranslateCommand() *cobra.Command {
	var (
		urlValue      string
		fileValue     string
		outPath       string
		titleHint     string
		maxChunkChars int
		formatOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "翻译整篇文档并写出结果",
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceType, sourceValue, err := resolveSource(urlValue, fileValue)
			if err != nil {
				return err
			}
			if outPath == "" {
				return fmt.Errorf("--out is required")
			}

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if maxChunkChars > 0 {
				cfg.MaxChunkChars = maxChunkChars
			}
			if cmd.Flags().Changed("format") {
				cfg.FormatOutput = formatOutput
			}

			p, client, err := buildPipeline(cfg, log)
			if err != nil {
				return err
			}
			pterm.Info.Printfln("model: %s", client.ModelID())

			var bar *pterm.ProgressbarPrinter
			warningCount := 0
			output, err := p.Run(cmd.Context(), pipeline.Request{
				SourceType:    sourceType,
				SourceValue:   sourceValue,
				TitleHint:     titleHint,
				MaxChunkChars: cfg.MaxChunkChars,
				FormatOutput:  cfg.FormatOutput,
				Progress: func(done, total int) {
					if bar == nil {
						bar, _ = pterm.DefaultProgressbar.
							WithTotal(total).
							WithTitle("translating").
							Start()
					}
					bar.Increment()
				},
				Warning: func(chunkID, message string) {
					warningCount++
					color.Yellow("[%s] %s", chunkID, message)
				},
			})
			if bar != nil {
				_, _ = bar.Stop()
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(outPath, []byte(output), 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}

			if warningCount > 0 {
				color.Yellow("finished with %d QA warning(s)", warningCount)
			}
			color.Green("output written to %s (%d bytes)", outPath, len(output))
			return nil
		},
	}

	cmd.Flags().StringVar(&urlValue, "url", "", "待翻译页面的 URL")
	cmd.Flags().StringVar(&fileValue, "file", "", "待翻译的本地 Markdown 文件")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "输出文件路径")
	cmd.Flags().StringVar(&titleHint, "title-hint", "", "标题提示（模型产出空标题时使用）")
	cmd.Flags().IntVar(&maxChunkChars, "max-chunk-chars", 0, "分块尺寸上限（字符数，覆盖配置）")
	cmd.Flags().BoolVar(&formatOutput, "format", false, "对输出做 Markdown 规范化")

	return cmd
}
