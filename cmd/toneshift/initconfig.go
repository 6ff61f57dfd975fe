package main

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	cfgpkg "toneshift/internal/config"
)

func (a *app) initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [DIR]",
		Short: "Write a default config.json and .env template into DIR",
		Long:  `Writes config.json and a commented .env template into DIR (default "."). Existing files are never overwritten.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && nonEmpty(args[0]) {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return configFail("生成默认配置失败", err)
			}
			cfgPath := filepath.Join(dir, "config.json")
			if err := writeConfig(cfgPath, cfgpkg.DefaultTemplateConfig()); err != nil {
				return configFail("生成默认配置失败", err)
			}
			envPath := filepath.Join(dir, ".env")
			if err := writeDotEnv(envPath); err != nil {
				fprintf(a.stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
			}
			fprintf(a.stdout, "%s\n", cfgPath)
			return nil
		},
	}
}

// writeConfig 以 O_EXCL 创建，已存在时返回 fs.ErrExist。
func writeConfig(path string, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

// writeDotEnv 生成 .env 模板；文件已存在时静默跳过。
func writeDotEnv(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(cfgpkg.EnvTemplate)
	return err
}
