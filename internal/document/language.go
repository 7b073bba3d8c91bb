package document

import (
	"path/filepath"
	"strings"
)

var languageByExt = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".mts":  "typescript",
	".cts":  "typescript",
	".tsx":  "typescriptreact",
	".js":   "javascript",
	".jsx":  "javascriptreact",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".py":   "python",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
	".java": "java",
}

// LanguageID maps a file path to an LSP language identifier, "" when unknown.
func LanguageID(path string) string {
	return languageByExt[strings.ToLower(filepath.Ext(path))]
}
