package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"platformd/backend/internal/apperrors"
)

// TemplateSuffix marks template files inside a kind directory.
const TemplateSuffix = ".yml.j2"

// Engine renders every template of a directory with the same variable bag.
type Engine struct {
	funcs template.FuncMap
}

func NewEngine() *Engine {
	return &Engine{funcs: sprig.TxtFuncMap()}
}

// Files lists the templates of dir in lexicographic order.
func (e *Engine) Files(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, apperrors.WithDetail(apperrors.ErrTemplateDirMissing, "template directory %s does not exist", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), TemplateSuffix) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Render renders each template in order and joins the results with document separators.
func (e *Engine) Render(dir string, vars map[string]any) (string, error) {
	files, err := e.Files(dir)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(files))
	for _, file := range files {
		out, err := e.renderFile(file, vars)
		if err != nil {
			return "", err
		}
		parts = append(parts, strings.TrimSpace(out))
	}
	return strings.Join(parts, "\n---\n") + "\n", nil
}

func (e *Engine) renderFile(path string, vars map[string]any) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(filepath.Base(path)).
		Funcs(e.funcs).
		Option("missingkey=zero").
		Parse(string(content))
	if err != nil {
		return "", fmt.Errorf("parse template %s: %w", filepath.Base(path), err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("render template %s: %w", filepath.Base(path), err)
	}
	return buf.String(), nil
}
