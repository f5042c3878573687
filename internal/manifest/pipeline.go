package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/yaml"
)

// Result is a rendered manifest. Documents keep render order: apply walks it forwards and
// decommission walks it backwards.
type Result struct {
	Manifest  string
	Documents []*unstructured.Unstructured
}

type Pipeline struct {
	Engine *Engine
	Root   string
}

func NewPipeline(root string) *Pipeline {
	return &Pipeline{Engine: NewEngine(), Root: root}
}

// Render renders <Root>/<kind> with vars and parses the output.
func (p *Pipeline) Render(kind string, vars map[string]any) (*Result, error) {
	manifest, err := p.Engine.Render(filepath.Join(p.Root, kind), vars)
	if err != nil {
		return nil, err
	}
	docs, err := SplitDocuments(manifest)
	if err != nil {
		return nil, err
	}
	return &Result{Manifest: manifest, Documents: docs}, nil
}

// SplitDocuments parses a multi-document YAML stream, skipping empty documents. Integers decode
// as int64 the same way the API machinery decodes them.
func SplitDocuments(manifest string) ([]*unstructured.Unstructured, error) {
	var docs []*unstructured.Unstructured
	for i, raw := range splitYAML(manifest) {
		data, err := yaml.YAMLToJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("document %d: invalid YAML: %w", i, err)
		}
		data = bytes.TrimSpace(data)
		if len(data) == 0 || string(data) == "null" || string(data) == "{}" {
			continue
		}
		doc := &unstructured.Unstructured{}
		if err := doc.UnmarshalJSON(data); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		if doc.GetAPIVersion() == "" || doc.GetKind() == "" {
			return nil, fmt.Errorf("document %d: apiVersion and kind are required", i)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// splitYAML splits on lines consisting of a document separator.
func splitYAML(content string) []string {
	var (
		out     []string
		current strings.Builder
	)
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimRight(line, " \t") == "---" || strings.HasPrefix(line, "--- ") {
			out = appendDoc(out, current.String())
			current.Reset()
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
	}
	return appendDoc(out, current.String())
}

func appendDoc(docs []string, doc string) []string {
	if strings.TrimSpace(doc) == "" {
		return docs
	}
	return append(docs, doc)
}
