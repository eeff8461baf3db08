package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/nerdneilsfield/markdown-translate/internal/fetcher"
	"github.com/nerdneilsfield/markdown-translate/pkg/chunk"
)

func newPlanCommand() *cobra.Command {
	var (
		fileValue     string
		maxChunkChars int
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "打印文档的分块计划（不调用模型）",
		RunE: func(cmd *cobra.Command, args []string) error {
			if fileValue == "" {
				return fmt.Errorf("--file is required")
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()
			if maxChunkChars > 0 {
				cfg.MaxChunkChars = maxChunkChars
			}

			data, err := os.ReadFile(fileValue)
			if err != nil {
				return err
			}
			content := fetcher.CleanReaderArtifacts(string(data))

			entries, err := chunk.Plan(content, cfg.MaxChunkChars)
			if err != nil {
				return err
			}

			writer := table.NewWriter()
			writer.SetOutputMirror(cmd.OutOrStdout())
			writer.AppendHeader(table.Row{"chunk_id", "bytes", "separators", "preview"})
			for _, entry := range entries {
				writer.AppendRow(table.Row{
					entry.ChunkID,
					len(entry.SourceText),
					len(entry.Separators),
					preview(entry.SourceText, 48),
				})
			}
			writer.AppendFooter(table.Row{"total", len(content), "", fmt.Sprintf("%d chunks", len(entries))})
			writer.Render()

			if chunk.Reconstruct(entries) != content {
				return fmt.Errorf("plan does not reconstruct the source text")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&fileValue, "file", "", "本地 Markdown 文件")
	cmd.Flags().IntVar(&maxChunkChars, "max-chunk-chars", 0, "分块尺寸上限（字符数，覆盖配置）")

	return cmd
}

// preview 取首行开头若干字符做预览，控制表格宽度
func preview(text string, limit int) string {
	line := text
	if index := strings.IndexByte(line, '\n'); index >= 0 {
		line = line[:index]
	}
	runes := []rune(line)
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return line
}
