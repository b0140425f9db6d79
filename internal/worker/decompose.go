package worker

import (
	"regexp"
	"strings"
)

// Scope 文件内的一个分析作用域
type Scope struct {
	TargetType string // file/class/function
	TargetName string
	Code       string
	StartLine  int
	EndLine    int
}

type scopePattern struct {
	re         *regexp.Regexp
	targetType string
}

// 各语言的类/函数声明。只识别声明行，代码体截到下一个声明或文件尾。
var scopePatterns = map[string][]scopePattern{
	"python": {
		{regexp.MustCompile(`^\s*class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^\s*(?:async\s+)?def\s+(\w+)`), "function"},
	},
	"go": {
		{regexp.MustCompile(`^type\s+(\w+)\s+struct\b`), "class"},
		{regexp.MustCompile(`^func\s+(?:\([^)]+\)\s+)?(\w+)\s*\(`), "function"},
	},
	"javascript": {
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)`), "function"},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`), "function"},
	},
	"typescript": {
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^\s*(?:export\s+)?(?:async\s+)?function\s+(\w+)`), "function"},
		{regexp.MustCompile(`^\s*(?:export\s+)?const\s+(\w+)\s*=\s*(?:async\s*)?\(`), "function"},
	},
	"java": {
		{regexp.MustCompile(`^\s*(?:public\s+|private\s+|protected\s+)?(?:abstract\s+|final\s+)?class\s+(\w+)`), "class"},
		{regexp.MustCompile(`^\s*(?:public|private|protected)\s+(?:static\s+)?[\w<>\[\]]+\s+(\w+)\s*\(`), "function"},
	},
}

// maxScopeLines 单个作用域送给 LLM 的行数上限
const maxScopeLines = 200

// Decompose 把文件内容拆成分析作用域。
// 整文件永远是第一个作用域；支持的语言再按声明拆出类和函数；
// 不支持的语言只有整文件一个作用域。
func Decompose(content, language string) []Scope {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")

	scopes := []Scope{{
		TargetType: "file",
		Code:       truncateLines(lines, 0, len(lines)),
		StartLine:  1,
		EndLine:    len(lines),
	}}

	patterns, ok := scopePatterns[language]
	if !ok {
		return scopes
	}

	type decl struct {
		line       int // 0-based
		name       string
		targetType string
	}
	var decls []decl

	for i, line := range lines {
		for _, p := range patterns {
			if m := p.re.FindStringSubmatch(line); m != nil {
				decls = append(decls, decl{line: i, name: m[1], targetType: p.targetType})
				break
			}
		}
	}

	for i, d := range decls {
		end := len(lines)
		if i+1 < len(decls) {
			end = decls[i+1].line
		}
		scopes = append(scopes, Scope{
			TargetType: d.targetType,
			TargetName: d.name,
			Code:       truncateLines(lines, d.line, end),
			StartLine:  d.line + 1,
			EndLine:    end,
		})
	}

	return scopes
}

func truncateLines(lines []string, start, end int) string {
	if end-start > maxScopeLines {
		end = start + maxScopeLines
	}
	return strings.Join(lines[start:end], "\n")
}
