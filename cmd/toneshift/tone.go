package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"toneshift/internal/transpose"
	"toneshift/pkg/contract"
)

func (a *app) toneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tone FILE",
		Short: "Print the classified tone of FILE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			eng, err := a.engine(cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tone, err := func() (contract.StylisticTone, error) {
				doc, _, err := readDoc(ctx, args[0])
				if err != nil {
					return "", err
				}
				return eng.ExtractTone(transpose.WithDocID(ctx, contract.NormalizeDocID(args[0])), doc)
			}()
			a.finish("tone", err)
			if err != nil {
				return runtimeFail("分类失败", err)
			}
			fprintf(a.stdout, "%s\n", tone)
			return nil
		},
	}
}
