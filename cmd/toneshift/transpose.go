package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"toneshift/internal/transpose"
	"toneshift/pkg/contract"
	"toneshift/pkg/registry"
	"toneshift/plugins/storage/filesystem"
)

func (a *app) transposeCmd() *cobra.Command {
	var toneFile, contentFile, output, tone string
	cmd := &cobra.Command{
		Use:   "transpose",
		Short: "Rewrite --content-file in the tone of --tone-file",
		Long: `Classifies the tone of --tone-file (or takes --tone as given) and writes a rewritten copy of
--content-file. Without -o the result is written next to the input as <name>-ADJUSTED_TONE.<ext>.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !nonEmpty(contentFile) {
				return configFail("参数错误", fmt.Errorf("--content-file required: %w", contract.ErrInvalidArgument))
			}
			if !nonEmpty(toneFile) && !nonEmpty(tone) {
				return configFail("参数错误", fmt.Errorf("--tone-file or --tone required: %w", contract.ErrInvalidArgument))
			}
			var fixed contract.StylisticTone
			if nonEmpty(tone) {
				t, err := contract.ParseTone(tone)
				if err != nil {
					return configFail("参数错误", err)
				}
				fixed = t
			}
			if output == "" {
				output = defaultOutput(contentFile)
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			eng, err := a.engine(cfg)
			if err != nil {
				return err
			}
			done := a.terminal(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			got, err := a.transposeFiles(ctx, eng, toneFile, contentFile, output, fixed)
			a.finish("transpose", err)
			done(err == nil)
			if err != nil {
				return runtimeFail("运行失败", err)
			}
			fprintf(a.stdout, "%s\t%s\n", got, output)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&toneFile, "tone-file", "", "语气参考文档（.docx/.txt/.md）")
	f.StringVar(&contentFile, "content-file", "", "待改写文档（.docx/.txt/.md）")
	f.StringVarP(&output, "output", "o", "", "输出路径；缺省为输入同目录下的 <name>-ADJUSTED_TONE.<ext>")
	f.StringVar(&tone, "tone", "", "跳过分类，直接使用给定语气（FORMAL|CASUAL|...）")
	return cmd
}

// transposeFiles: 读取 → （分类）→ 改写 → 写出；返回实际使用的语气。
func (a *app) transposeFiles(ctx context.Context, eng *transpose.Engine, toneFile, contentFile, output string, fixed contract.StylisticTone) (contract.StylisticTone, error) {
	tone := fixed
	if tone == "" {
		toneDoc, _, err := readDoc(ctx, toneFile)
		if err != nil {
			return "", err
		}
		if tone, err = eng.ExtractTone(transpose.WithDocID(ctx, contract.NormalizeDocID(toneFile)), toneDoc); err != nil {
			return "", err
		}
	}
	doc, codec, err := readDoc(ctx, contentFile)
	if err != nil {
		return "", err
	}
	out, err := eng.ApplyTone(transpose.WithDocID(ctx, contract.NormalizeDocID(contentFile)), doc, tone)
	if err != nil {
		return "", err
	}
	if err := writeDoc(ctx, output, codec, out); err != nil {
		return "", err
	}
	return tone, nil
}

func readDoc(ctx context.Context, path string) (contract.Document, contract.Codec, error) {
	codec, err := registry.CodecFor(path)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	doc, err := codec.Decode(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return doc, codec, nil
}

// writeDoc 先写同目录临时文件再 rename，失败时不留下半成品。
func writeDoc(ctx context.Context, path string, codec contract.Codec, doc contract.Document) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = codec.Encode(ctx, tmp, doc); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	err = os.Rename(tmp.Name(), path)
	return err
}

// defaultOutput 沿用存储层的分类命名规则。
func defaultOutput(contentFile string) string {
	return filepath.Join(filepath.Dir(contentFile), filesystem.NormalizedName(filepath.Base(contentFile), contract.CategoryAdjustedTone))
}
