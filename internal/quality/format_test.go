package quality

import (
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// 与 go 工具链一致：跳过以 _ 或 . 开头的目录以及 vendor。
func collectGoFiles(t *testing.T) []string {
	t.Helper()
	root, err := findProjectRoot()
	if err != nil {
		t.Fatalf("Failed to find project root: %v", err)
	}
	var files []string
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if path != root && (name == "vendor" || name == "testdata" || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to walk project directory: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("No Go files found in project")
	}
	return files
}

// TestCodeFormatting verifies every Go source file is gofmt-clean.
func TestCodeFormatting(t *testing.T) {
	if _, err := exec.LookPath("gofmt"); err != nil {
		t.Skip("gofmt not on PATH")
	}
	files := collectGoFiles(t)

	var unformatted int
	for _, file := range files {
		output, err := exec.Command("gofmt", "-l", file).Output()
		if err != nil {
			t.Errorf("gofmt failed for %s: %v", file, err)
			continue
		}
		if len(output) > 0 {
			unformatted++
			t.Errorf("File %s is not properly formatted", file)
		}
	}
	if unformatted > 0 {
		t.Log("Run 'gofmt -w .' to fix formatting")
	}
	t.Logf("Checked %d Go files for formatting consistency", len(files))
}

// TestStructuredLoggingOnly keeps all logging on zerolog.
func TestStructuredLoggingOnly(t *testing.T) {
	fset := token.NewFileSet()
	for _, file := range collectGoFiles(t) {
		f, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		if err != nil {
			t.Errorf("parse %s: %v", file, err)
			continue
		}
		for _, imp := range f.Imports {
			path, _ := strconv.Unquote(imp.Path.Value)
			if path == "log" || path == "log/slog" {
				t.Errorf("%s imports %q, use github.com/rs/zerolog/log", file, path)
			}
		}
	}
}

// findProjectRoot finds the project root by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", os.ErrNotExist
		}
		dir = parent
	}
}
