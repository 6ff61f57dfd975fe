package main

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"
)

// loadDotEnv 读取简单的 .env 文件并注入进程环境。
// 规则：
// - 文件不存在时忽略；
// - 跳过空行与 # 注释行；支持可选前缀 "export "；
// - 按首个 '=' 分割，key/value 去首尾空白；
// - 成对单/双引号去除外层；双引号内处理 \n \t \r \" \\ 转义；
// - 不覆盖已存在的环境变量。
func loadDotEnv(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		key, val, ok := parseDotEnvLine(s.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return s.Err()
}

func parseDotEnvLine(raw string) (string, string, bool) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	val = strings.TrimSpace(val)
	if len(val) >= 2 {
		q := val[0]
		if (q == '\'' || q == '"') && val[len(val)-1] == q {
			val = val[1 : len(val)-1]
			if q == '"' {
				val = unescape.Replace(val)
			}
		}
	}
	return key, val, true
}

var unescape = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\r`, "\r", `\"`, `"`, `\\`, `\`)
