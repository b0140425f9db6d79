package scanner

import (
	"encoding/json"
	"regexp"
	"strings"
)

// 各语言的 import 匹配
var (
	pyImportRe   = regexp.MustCompile(`(?m)^\s*(?:from\s+([\w\.]+)\s+import|import\s+([\w\.]+))`)
	jsImportRe   = regexp.MustCompile(`(?m)(?:import\s+(?:.+?\s+from\s+)?['"]([^'"]+)['"]|require\(['"]([^'"]+)['"]\))`)
	javaImportRe = regexp.MustCompile(`(?m)^\s*import\s+(?:static\s+)?([\w\.]+?)(?:\.\*)?\s*;`)
	goImportRe   = regexp.MustCompile(`(?m)^\s*(?:import\s+)?(?:[\w\.]+\s+)?"([^"]+)"`)
	goBlockRe    = regexp.MustCompile(`(?s)import\s*\(([^)]*)\)`)
	goSingleRe   = regexp.MustCompile(`(?m)^import\s+(?:\w+\s+)?"([^"]+)"`)
)

// ExtractDependencies 用正则从源码里抽 import，支持 python/js/ts/java/go，
// 其它语言返回空
func ExtractDependencies(content, language string) []string {
	if content == "" {
		return nil
	}

	seen := make(map[string]bool)
	var deps []string
	add := func(dep string) {
		dep = strings.TrimSpace(dep)
		if dep == "" || seen[dep] {
			return
		}
		seen[dep] = true
		deps = append(deps, dep)
	}

	switch language {
	case "python":
		for _, m := range pyImportRe.FindAllStringSubmatch(content, -1) {
			if m[1] != "" {
				add(rootModule(m[1]))
			} else if m[2] != "" {
				add(rootModule(m[2]))
			}
		}
	case "javascript", "typescript":
		for _, m := range jsImportRe.FindAllStringSubmatch(content, -1) {
			if m[1] != "" {
				add(m[1])
			} else if m[2] != "" {
				add(m[2])
			}
		}
	case "java":
		for _, m := range javaImportRe.FindAllStringSubmatch(content, -1) {
			add(m[1])
		}
	case "go":
		for _, block := range goBlockRe.FindAllStringSubmatch(content, -1) {
			for _, m := range goImportRe.FindAllStringSubmatch(block[1], -1) {
				add(m[1])
			}
		}
		for _, m := range goSingleRe.FindAllStringSubmatch(content, -1) {
			add(m[1])
		}
	}

	return deps
}

// rootModule python 的 a.b.c 只留 a
func rootModule(mod string) string {
	if idx := strings.Index(mod, "."); idx >= 0 {
		return mod[:idx]
	}
	return mod
}

// dependenciesJSON 序列化成存库用的 JSON 数组，空依赖返回空串
func dependenciesJSON(content, language string) string {
	deps := ExtractDependencies(content, language)
	if len(deps) == 0 {
		return ""
	}
	data, err := json.Marshal(deps)
	if err != nil {
		return ""
	}
	return string(data)
}
