package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	cfgpkg "toneshift/internal/config"
	"toneshift/internal/diag"
	"toneshift/internal/transpose"
)

// 退出码
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// exitError 携带退出码；msg 为面向终端的前缀提示。
type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string {
	if e.msg == "" {
		return e.err.Error()
	}
	return e.msg + ": " + e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func configFail(msg string, err error) error  { return &exitError{code: exitConfig, msg: msg, err: err} }
func runtimeFail(msg string, err error) error { return &exitError{code: exitRuntime, msg: msg, err: err} }

// globalFlags: 全部子命令共享的旗标。
type globalFlags struct {
	config      string
	llm         string
	concurrency int
	maxRetries  int
	logLevel    string
	status      bool
}

// app: 单次进程运行的上下文。
type app struct {
	stdout io.Writer
	stderr io.Writer
	flags  globalFlags
	corrID string
	start  time.Time
	logger *diag.Logger
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if err := loadDotEnv(".env"); err != nil {
		fprintf(stderr, "提示：.env 读取失败（已跳过）：%v\n", err)
	}
	a := &app{stdout: stdout, stderr: stderr, corrID: uuid.NewString(), start: time.Now()}
	defer func() { _ = a.logger.Sync() }()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if !errors.As(err, &ee) {
		// 旗标/参数错误
		fprintf(stderr, "参数错误: %v\n", err)
		return exitConfig
	}
	if !errors.Is(err, context.Canceled) {
		fprintf(stderr, "%v\n", err)
	}
	return ee.code
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "toneshift",
		Short:         "Rewrite a document in the tone of another document",
		Long:          `toneshift classifies the tone of a reference document and rewrites every paragraph of a target document in that tone, keeping order and structure.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.config, "config", "", "配置文件路径（JSON/YAML）；缺省读取 ./config.json（若存在）")
	pf.StringVar(&a.flags.llm, "llm", "", "provider 名称（覆盖配置）")
	// -1 表示未覆盖；0 有语义（不限并发/不重试）
	pf.IntVar(&a.flags.concurrency, "concurrency", -1, "并发度（覆盖配置；0 表示不限）")
	pf.IntVar(&a.flags.maxRetries, "max-retries", -1, "单次调用最大重试次数（覆盖配置；0 表示不重试）")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "日志级别 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&a.flags.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")

	root.AddCommand(
		a.transposeCmd(),
		a.toneCmd(),
		a.serveCmd(),
		a.initConfigCmd(),
	)
	return root
}

// loadConfig 按 默认 < 文件 < ENV < CLI 合并并校验。
func (a *app) loadConfig() (cfgpkg.Config, error) {
	path := a.flags.config
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		for _, c := range []string{"config.json", "config.yaml", "config.yml"} {
			if st, err := os.Stat(c); err == nil && !st.IsDir() {
				path = c
				break
			}
		}
	}

	cfg := cfgpkg.Defaults()
	if path != "" {
		base, err := cfgpkg.LoadFile(path)
		if err != nil {
			return cfg, configFail("配置解析失败", err)
		}
		cfg = cfgpkg.Merge(cfg, base)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, configFail("环境变量解析失败", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	overCLI := cfgpkg.Unset()
	overCLI.LLM = a.flags.llm
	overCLI.Logging.Level = a.flags.logLevel
	if a.flags.concurrency >= 0 {
		overCLI.Concurrency = a.flags.concurrency
	}
	if a.flags.maxRetries >= 0 {
		overCLI.MaxRetries = a.flags.maxRetries
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		a.dumpConfig(cfg)
		return cfg, configFail("配置校验失败", err)
	}
	return cfg, nil
}

// engine 以最终配置重建 logger 并装配引擎。
func (a *app) engine(cfg cfgpkg.Config) (*transpose.Engine, error) {
	a.logger = diag.NewLogger(a.corrID, cfg.Logging.Level, cfg.Logging.Dir)
	comp, set, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return nil, configFail("装配失败", err)
	}
	eng, err := transpose.New(comp, set, a.logger)
	if err != nil {
		return nil, configFail("装配失败", err)
	}
	a.logger.DebugStart("config", "effective", "", "", effectiveKV(cfg))
	return eng, nil
}

// effectiveKV 摘录生效配置（不含密钥）。
func effectiveKV(cfg cfgpkg.Config) map[string]string {
	kv := map[string]string{
		"concurrency":    fmt.Sprintf("%d", cfg.Concurrency),
		"max_tokens":     fmt.Sprintf("%d", cfg.MaxTokens),
		"max_retries":    fmt.Sprintf("%d", cfg.MaxRetries),
		"call_timeout_s": fmt.Sprintf("%d", cfg.CallTimeoutSeconds),
		"llm":            cfg.LLM,
		"prompt_builder": cfg.Components.PromptBuilder,
		"window":         cfg.Components.Window,
		"decoder":        cfg.Components.Decoder,
		"assembler":      cfg.Components.Assembler,
		"storage":        cfg.Components.Storage,
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	return kv
}

// terminal 安装全局终端提示器并打印运行头；返回的函数打印运行尾并卸载。
func (a *app) terminal(cfg cfgpkg.Config) func(ok bool) {
	term := diag.NewTerminal(a.stderr, a.flags.status)
	diag.SetTerminal(term)
	term.RunStart(cfg.Concurrency, cfg.LLM)
	return func(ok bool) {
		term.RunFinish(ok, time.Since(a.start))
		diag.SetTerminal(nil)
	}
}

// finish 统一记账运行结果（日志 + 计数）。
func (a *app) finish(comp string, err error) {
	if err == nil {
		diag.IncOp(comp, "finish", "success")
		diag.ObserveDuration(comp, "finish", time.Since(a.start).Milliseconds())
		return
	}
	code := diag.Classify(err)
	a.logger.Error(comp, string(code), "first error", &a.start)
	diag.IncOp(comp, "error", "error")
	diag.IncError(comp, string(code))
}

func (a *app) dumpConfig(c cfgpkg.Config) {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return
	}
	fprintf(a.stderr, "有效配置:\n%s\n", b)
}

func fprintf(w io.Writer, format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }

func nonEmpty(s string) bool { return strings.TrimSpace(s) != "" }
