package scanner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestScanner_Scan(t *testing.T) {
	s := New()

	t.Run("missing root is fatal", func(t *testing.T) {
		_, err := s.Scan("/nonexistent/path/xyz", 1)
		assert.Error(t, err)
	})

	t.Run("scans eligible files and counts lines", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "main.py", "import os\n\nprint('hi')\n")
		writeFile(t, root, "src/util.py", "def f():\n    return 1\n")
		writeFile(t, root, "README.md", "# title\n")

		result, err := s.Scan(root, 42)
		require.NoError(t, err)

		assert.Equal(t, 3, result.TotalFiles)
		// main.py 2 非空行 + util.py 2 + README 1
		assert.Equal(t, 5, result.CodeLines)
		assert.Len(t, result.Files, 3)

		for _, f := range result.Files {
			assert.Equal(t, int64(42), f.TaskID)
			assert.Equal(t, "pending", f.Status)
		}
	})

	t.Run("skips noise directories and binary extensions", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "app.py", "x = 1\n")
		writeFile(t, root, ".git/config", "[core]\n")
		writeFile(t, root, "node_modules/pkg/index.js", "module.exports = {}\n")
		writeFile(t, root, "__pycache__/app.cpython-311.pyc", "\x00\x01")
		writeFile(t, root, "logo.png", "\x89PNG")
		writeFile(t, root, ".env", "SECRET=1\n")
		writeFile(t, root, "package-lock.json", "{}\n")

		result, err := s.Scan(root, 1)
		require.NoError(t, err)

		require.Len(t, result.Files, 1)
		assert.Equal(t, "app.py", result.Files[0].FilePath)
	})

	t.Run("module count is distinct top level dirs", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "api/a.py", "x=1\n")
		writeFile(t, root, "api/b.py", "x=1\n")
		writeFile(t, root, "core/c.py", "x=1\n")
		writeFile(t, root, "main.py", "x=1\n")

		result, err := s.Scan(root, 1)
		require.NoError(t, err)

		// api + core + 根文件
		assert.Equal(t, 3, result.ModuleCount)
	})

	t.Run("language detection from extension", func(t *testing.T) {
		root := t.TempDir()
		writeFile(t, root, "a.py", "x=1\n")
		writeFile(t, root, "b.go", "package main\n")
		writeFile(t, root, "c.unknownext", "data\n")

		result, err := s.Scan(root, 1)
		require.NoError(t, err)

		langs := map[string]string{}
		for _, f := range result.Files {
			langs[f.FilePath] = f.Language
		}
		assert.Equal(t, "python", langs["a.py"])
		assert.Equal(t, "go", langs["b.go"])
		assert.Equal(t, "", langs["c.unknownext"])
	})

	t.Run("gbk content is decoded", func(t *testing.T) {
		root := t.TempDir()
		// "中文" in GBK
		gbk := []byte{0xD6, 0xD0, 0xCE, 0xC4}
		path := filepath.Join(root, "gbk.py")
		require.NoError(t, os.WriteFile(path, append([]byte("# "), gbk...), 0644))

		result, err := s.Scan(root, 1)
		require.NoError(t, err)

		require.Len(t, result.Files, 1)
		assert.Contains(t, result.Files[0].CodeContent, "中文")
	})

	t.Run("undecodable content dropped but file kept", func(t *testing.T) {
		root := t.TempDir()
		path := filepath.Join(root, "junk.py")
		require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfe, 0xff}, 0644))

		result, err := s.Scan(root, 1)
		require.NoError(t, err)

		// 两种编码都解不开：内容置空、行数归零，文件本身仍入清单
		require.Len(t, result.Files, 1)
		assert.Empty(t, result.Files[0].CodeContent)
		assert.Equal(t, 0, result.Files[0].CodeLines)
	})
}

func TestCountCodeLines(t *testing.T) {
	assert.Equal(t, 0, countCodeLines(""))
	assert.Equal(t, 2, countCodeLines("a\n\nb\n"))
	assert.Equal(t, 1, countCodeLines("   \n\tx\n   \n"))
}

func TestExtractDependencies(t *testing.T) {
	t.Run("python", func(t *testing.T) {
		src := "import os\nimport numpy.linalg\nfrom flask import Flask\n"
		deps := ExtractDependencies(src, "python")
		assert.ElementsMatch(t, []string{"os", "numpy", "flask"}, deps)
	})

	t.Run("javascript", func(t *testing.T) {
		src := "import React from 'react'\nconst fs = require('fs')\nimport './local.css'\n"
		deps := ExtractDependencies(src, "javascript")
		assert.Contains(t, deps, "react")
		assert.Contains(t, deps, "fs")
		assert.Contains(t, deps, "./local.css")
	})

	t.Run("java", func(t *testing.T) {
		src := "package com.x;\nimport java.util.List;\nimport static org.junit.Assert.*;\n"
		deps := ExtractDependencies(src, "java")
		assert.Contains(t, deps, "java.util.List")
	})

	t.Run("go block imports", func(t *testing.T) {
		src := "package main\n\nimport (\n\t\"fmt\"\n\t\"github.com/gin-gonic/gin\"\n)\n"
		deps := ExtractDependencies(src, "go")
		assert.ElementsMatch(t, []string{"fmt", "github.com/gin-gonic/gin"}, deps)
	})

	t.Run("unsupported language returns empty", func(t *testing.T) {
		deps := ExtractDependencies("use strict;", "perl")
		assert.Empty(t, deps)
	})

	t.Run("dedup", func(t *testing.T) {
		src := "import os\nimport os\n"
		deps := ExtractDependencies(src, "python")
		assert.Equal(t, []string{"os"}, deps)
	})
}
