package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	cfgpkg "texgc/internal/config"
	"texgc/internal/diag"
	"texgc/internal/pipeline"
)

var pipelineRun = pipeline.Run

// 退出码：0 成功；1 运行期失败；3 配置/装配失败。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

// exitError 携带退出码；由 execute 统一映射。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fail(code int, err error) error { return &exitError{code: code, err: err} }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), stopSignals...)
	defer stop()
	os.Exit(execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// execute 解析命令行并运行；返回进程退出码。
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	// 在任何 ENV 读取前加载工作目录下的 .env（不覆盖已有 ENV）。
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fprintf(stderr, "提示：.env 解析失败（已跳过）：%v\n", err)
		}
	}
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// 旗标/参数解析错误
	fprintf(stderr, "%v\n", err)
	return exitConfig
}

type runFlags struct {
	config      string
	llm         string
	concurrency int
	maxTokens   int
	maxRetries  int
	maxRounds   int
	status      bool
	metricsAddr string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "texgc",
		Short:         "Incremental, validated grammar correction for LaTeX sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	var rf runFlags
	runCmd := &cobra.Command{
		Use:   "run [roots...]",
		Short: "Correct grammar in .tex files (files, directories or '-' for stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd.Context(), rf, args, stderr)
		},
	}
	f := runCmd.Flags()
	f.StringVar(&rf.config, "config", "", "配置文件路径（JSON/YAML）；缺省读取 ./config.json 或 ./config.yaml（若存在）")
	f.StringVar(&rf.llm, "llm", "", "provider 名称（覆盖配置）")
	f.IntVar(&rf.concurrency, "concurrency", 0, "纠错阶段并发度（覆盖配置）")
	f.IntVar(&rf.maxTokens, "max-tokens", 0, "单次请求 token 预算（覆盖配置）")
	// max-retries 允许显式设置为 0；默认 -1 表示“未覆盖”。
	f.IntVar(&rf.maxRetries, "max-retries", -1, "单次 oracle 调用最大重试次数（覆盖配置；0 表示不重试）")
	f.IntVar(&rf.maxRounds, "max-rounds", 0, "每片段 propose→validate 最大轮数（覆盖配置）")
	f.BoolVar(&rf.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	f.StringVar(&rf.metricsAddr, "metrics-addr", "", "Prometheus 指标监听地址（如 127.0.0.1:9090）；空为关闭")

	var asYAML bool
	initCmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default config and .env template (existing files are never overwritten)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				dir = strings.TrimSpace(args[0])
			}
			return initConfig(dir, asYAML, stderr)
		},
	}
	initCmd.Flags().BoolVar(&asYAML, "yaml", false, "生成 config.yaml 而非 config.json")

	root.AddCommand(runCmd, initCmd)
	return root
}

// runPipeline: 配置分层（默认 < 文件 < ENV < CLI）→ 校验 → 装配 → 运行。
func runPipeline(ctx context.Context, rf runFlags, roots []string, stderr io.Writer) error {
	start := time.Now()
	corrID := uuid.NewString()
	logLevel := "info"
	// 先以默认级别占位，合并配置后按最终 level 重建
	logger := diag.NewLogger(corrID, logLevel)
	configFail := func(what string, err error) error {
		fprintf(stderr, "%s: %v\n", what, err)
		logger.Error("config", string(diag.Classify(err)), "first error", &start)
		return fail(exitConfig, err)
	}

	cfg, err := loadConfig(rf.config)
	if err != nil {
		return configFail("配置解析失败", err)
	}

	overEnv, err := cfgpkg.EnvOverlay(os.Environ())
	if err != nil {
		return configFail("环境变量解析失败", err)
	}
	cfg = cfgpkg.Merge(cfg, overEnv)

	// CLI 覆盖；MaxRetries 以 -1 标记未设置
	overCLI := cfgpkg.Config{MaxRetries: -1, LLM: rf.llm, Inputs: roots}
	if rf.concurrency > 0 {
		overCLI.Concurrency = rf.concurrency
	}
	if rf.maxTokens > 0 {
		overCLI.MaxTokens = rf.maxTokens
	}
	if rf.maxRetries >= 0 {
		overCLI.MaxRetries = rf.maxRetries
	}
	if rf.maxRounds > 0 {
		overCLI.MaxRounds = rf.maxRounds
	}
	cfg = cfgpkg.Merge(cfg, overCLI)

	if err := cfgpkg.Validate(cfg); err != nil {
		_ = dumpConfig(stderr, cfg)
		return configFail("配置校验失败", err)
	}

	if lv := strings.TrimSpace(cfg.Logging.Level); lv != "" {
		logLevel = lv
	}
	logger = diag.NewLogger(corrID, logLevel)

	if err := preflightCheckOutputDir(cfg); err != nil {
		return configFail("输出目录不可写或无法创建", err)
	}

	comp, set, _, _, err := cfgpkg.Assemble(cfg)
	if err != nil {
		return configFail("装配失败", err)
	}

	if rf.metricsAddr != "" {
		shutdown, err := serveMetrics(rf.metricsAddr, logger)
		if err != nil {
			return configFail("指标监听失败", err)
		}
		defer shutdown()
	}

	// 终端信息提示（非日志）：按 CLI 启用，默认开启
	term := diag.NewTerminal(stderr, rf.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)
	term.RunStart(cfg.Concurrency, cfg.LLM)

	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg))

	t := logger.Start("pipeline", "run")
	if err := pipelineRun(ctx, comp, set, logger); err != nil {
		code := string(diag.Classify(err))
		logger.Error("pipeline", code, "first error", &start)
		diag.IncOp("pipeline", "error", "error")
		if code != "" && code != string(diag.CodeUnknown) {
			diag.IncError("pipeline", code)
		}
		if !errors.Is(err, context.Canceled) {
			fprintf(stderr, "运行失败: %v\n", err)
		}
		term.RunFinish(false, time.Since(start))
		return fail(exitRuntime, err)
	}
	t.Finish("run", 0)
	diag.IncOp("pipeline", "finish", "success")
	diag.ObserveDuration("pipeline", "finish", time.Since(start).Milliseconds())
	term.RunFinish(true, time.Since(start))
	return nil
}

// loadConfig 解析配置来源：--config > TEXGC_CONFIG_FILE > TEXGC_CONFIG_JSON > ./config.json > ./config.yaml。
// 无任何来源时返回默认值（后续校验会要求 llm/inputs）。
func loadConfig(path string) (cfgpkg.Config, error) {
	cfg := cfgpkg.Defaults()
	if path == "" {
		path = os.Getenv(cfgpkg.EnvPrefix + "CONFIG_FILE")
	}
	if path == "" {
		if raw := os.Getenv(cfgpkg.EnvPrefix + "CONFIG_JSON"); raw != "" {
			base, err := cfgpkg.LoadJSON("", []byte(raw))
			if err != nil {
				return cfg, err
			}
			return cfgpkg.Merge(cfg, base), nil
		}
		for _, name := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(name); err == nil {
				path = name
				break
			}
		}
	}
	if path == "" {
		return cfg, nil
	}
	base, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, err
	}
	return cfgpkg.Merge(cfg, base), nil
}

// serveMetrics 在 addr 上暴露私有 registry；监听失败同步返回。
func serveMetrics(addr string, logger *diag.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(diag.Registry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fail("metrics", "serve failed", err, "", "")
		}
	}()
	logger.DebugStart("metrics", "listen", "", "", map[string]string{"addr": ln.Addr().String()})
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// effectiveKV: 运行时配置摘要（不含密钥）。
func effectiveKV(cfg cfgpkg.Config) map[string]string {
	kv := map[string]string{
		"inputs_count":    strconv.Itoa(len(cfg.Inputs)),
		"concurrency":     strconv.Itoa(cfg.Concurrency),
		"max_tokens":      strconv.Itoa(cfg.MaxTokens),
		"max_rounds":      strconv.Itoa(cfg.MaxRounds),
		"mismatch_policy": cfg.MismatchPolicy,
		"llm":             cfg.LLM,
		"extractor":       cfg.Components.Extractor,
		"windower":        cfg.Components.Windower,
		"prompt_builder":  cfg.Components.PromptBuilder,
		"writer":          cfg.Components.Writer,
		"validators":      strings.Join(cfg.Validators, ","),
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL  string `json:"base_url"`
			Model    string `json:"model"`
			Endpoint string `json:"endpoint_path"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
		if s.Endpoint != "" {
			kv["endpoint_path"] = s.Endpoint
		}
	}
	return kv
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

func dumpConfig(w io.Writer, c cfgpkg.Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	fprintf(w, "有效配置:\n%s\n", b)
	return nil
}

// preflightCheckOutputDir: 当 Writer 使用文件系统实现(fs)时，启动前检查输出目录可写性。
// - 目录已存在：尝试创建并删除临时文件；
// - 目录不存在：在父目录创建并删除临时目录。
func preflightCheckOutputDir(cfg cfgpkg.Config) error {
	name := strings.TrimSpace(cfg.Components.Writer)
	if name == "" {
		name = cfgpkg.Defaults().Components.Writer
	}
	if name != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	if len(cfg.Options.Writer) > 0 {
		_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	}
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		// 交由装配阶段按实现报错
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && st.IsDir():
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		_ = os.Remove(name)
		return nil
	case err == nil:
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case !os.IsNotExist(err):
		return err
	}
	parent := filepath.Dir(dir)
	if parent == dir {
		return fmt.Errorf("无法确定父目录: %s", dir)
	}
	pst, err := os.Stat(parent)
	if err != nil {
		return err
	}
	if !pst.IsDir() {
		return fmt.Errorf("父路径不是目录: %s", parent)
	}
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
