package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	cfgpkg "texgc/internal/config"
)

// initConfig 在 dir 下生成默认配置与 .env 模板；配置文件已存在时失败（不覆盖），.env 已存在时跳过。
func initConfig(dir string, asYAML bool, stderr io.Writer) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fprintf(stderr, "生成默认配置失败: %v\n", err)
		return fail(exitConfig, err)
	}
	name, render := "config.json", cfgpkg.TemplateJSON
	if asYAML {
		name, render = "config.yaml", cfgpkg.TemplateYAML
	}
	b, err := render()
	if err == nil {
		err = writeExclusive(filepath.Join(dir, name), b)
	}
	if err != nil {
		fprintf(stderr, "生成默认配置失败: %v\n", err)
		return fail(exitConfig, err)
	}
	if err := writeDotEnv(filepath.Join(dir, ".env")); err != nil {
		fprintf(stderr, "提示：.env 生成失败（已跳过）：%v\n", err)
	}
	return nil
}

// writeExclusive 仅在文件不存在时创建并写入。
func writeExclusive(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// dotEnvSections: .env 模板分节（键名不含前缀时自动补 TEXGC_）。
var dotEnvSections = []struct {
	title string
	keys  []string
}{
	{"配置来源（可二选一）", []string{"CONFIG_FILE", "CONFIG_JSON"}},
	{"运行参数覆盖", []string{
		"INPUTS", "CONCURRENCY", "MAX_TOKENS", "MAX_RETRIES", "MAX_ROUNDS", "CALL_TIMEOUT_MS",
		"BACKOFF_MS", "MIN_CONFIDENCE", "MISMATCH_POLICY", "LOG_LEVEL", "REPORT_JSONL", "REPORT_DIFF",
		"VALIDATORS", "LLM",
	}},
	{"组件选择", []string{
		"COMPONENTS_READER", "COMPONENTS_EXTRACTOR", "COMPONENTS_NORMALIZER", "COMPONENTS_VERIFIER",
		"COMPONENTS_WINDOWER", "COMPONENTS_PROMPT_BUILDER", "COMPONENTS_DECODER", "COMPONENTS_ASSEMBLER",
		"COMPONENTS_WRITER",
	}},
	{"Provider 覆盖（openai）", providerKeys("openai")},
	{"Provider 覆盖（gemini）", providerKeys("gemini")},
}

func providerKeys(name string) []string {
	p := "PROVIDER__" + name + "__"
	return []string{p + "CLIENT", p + "LIMITS_RPM", p + "LIMITS_TPM", p + "LIMITS_MAX_TOKENS_PER_REQ", p + "OPTIONS_JSON"}
}

// writeDotEnv 生成 .env 模板（若文件已存在则跳过）。
func writeDotEnv(path string) error {
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		return nil
	} else if err != nil && !os.IsNotExist(err) {
		return err
	}
	var b strings.Builder
	b.WriteString("# texgc .env 模板（由 texgc init 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > 配置文件 > 默认值\n")
	b.WriteString("# 空值表示未设置；已存在的进程环境变量不会被覆盖。\n\n")
	for _, s := range dotEnvSections {
		fmt.Fprintf(&b, "# %s\n", s.title)
		for _, k := range s.keys {
			fmt.Fprintf(&b, "%s%s=\n", cfgpkg.EnvPrefix, k)
		}
		b.WriteString("\n")
	}
	// 供应商 API Key 由 Provider 客户端读取，不带前缀
	b.WriteString("# 常见供应商 API Key\n")
	b.WriteString("OPENAI_API_KEY=\n")
	b.WriteString("GOOGLE_API_KEY=\n")

	err := writeExclusive(path, []byte(b.String()))
	if os.IsExist(err) {
		return nil
	}
	return err
}
