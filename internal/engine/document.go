package engine

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"todoline/internal/domain"
)

const DocumentVersion = 1

const (
	ImportReplace = "replace"
	ImportAppend  = "append"
)

// Document is the export/import file format.
type Document struct {
	Version    int           `json:"version"`
	Tasks      []domain.Task `json:"tasks"`
	ExportedAt time.Time     `json:"exported_at"`
}

//go:embed schema/document.schema.json
var documentSchema []byte

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		if err := compiler.AddResource("document.schema.json", bytes.NewReader(documentSchema)); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = compiler.Compile("document.schema.json")
	})
	return compiled, compileErr
}

// SchemaError lists every schema violation found in a document.
type SchemaError struct {
	Problems []string
}

func (e *SchemaError) Error() string {
	return "invalid document: " + strings.Join(e.Problems, "; ")
}

// ParseDocument validates raw JSON against the document schema and decodes it.
func ParseDocument(data []byte) (Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	s, err := schema()
	if err != nil {
		return Document{}, fmt.Errorf("compile document schema: %w", err)
	}
	if err := s.Validate(raw); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			serr := &SchemaError{}
			collectSchemaErrors(serr, ve)
			return Document{}, serr
		}
		return Document{}, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document: %w", err)
	}
	for i, t := range doc.Tasks {
		if err := t.Validate(); err != nil {
			return Document{}, fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	return doc, nil
}

func collectSchemaErrors(out *SchemaError, err *jsonschema.ValidationError) {
	if len(err.Causes) == 0 {
		loc := strings.TrimPrefix(err.InstanceLocation, "/")
		if loc == "" {
			loc = "document"
		}
		out.Problems = append(out.Problems, fmt.Sprintf("%s: %s", loc, err.Message))
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(out, cause)
	}
}

func (e *Engine) Export() Document {
	return Document{
		Version:    DocumentVersion,
		Tasks:      e.history.Value(),
		ExportedAt: e.now().UTC(),
	}
}

// Import loads the tasks of doc. ImportReplace swaps the whole list,
// ImportAppend adds tasks whose ids are not present yet. It returns the
// number of tasks imported and records one snapshot.
func (e *Engine) Import(doc Document, mode string) (int, error) {
	if mode == "" {
		mode = ImportReplace
	}
	for i, t := range doc.Tasks {
		if err := t.Validate(); err != nil {
			return 0, fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	switch mode {
	case ImportReplace:
		if slices.Equal(e.history.Value(), doc.Tasks) {
			return 0, nil
		}
		e.history.Action(fmt.Sprintf("Import %d tasks", len(doc.Tasks)), func() {
			e.history.Set(doc.Tasks)
		})
		return e.history.Len(), nil
	case ImportAppend:
		fresh := e.freshTasks(doc.Tasks)
		if len(fresh) == 0 {
			return 0, nil
		}
		e.history.Action(fmt.Sprintf("Import %d tasks", len(fresh)), func() {
			for _, t := range fresh {
				e.history.Append(t)
			}
		})
		return len(fresh), nil
	}
	return 0, &domain.ValidationError{Field: "mode", Message: fmt.Sprintf("unknown import mode %q (want replace or append)", mode)}
}

// freshTasks returns the tasks of doc that an append would keep: unknown ids,
// first occurrence only, and no more than the list limit since earlier
// appends are evicted first.
func (e *Engine) freshTasks(tasks []domain.Task) []domain.Task {
	seen := make(map[string]struct{}, len(tasks))
	var fresh []domain.Task
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		if _, ok := e.history.GetByID(t.ID); !ok {
			fresh = append(fresh, t)
		}
	}
	if e.limit > 0 && len(fresh) > e.limit {
		fresh = fresh[len(fresh)-e.limit:]
	}
	return fresh
}
