// Package prompt renders the text prompts sent to the language model.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
)

const (
	GenerateSQL      = "generate_sql"
	ExtractSQL       = "extract_sql"
	SynthesizeAnswer = "synthesize_answer"

	templateExt = ".tpl"
)

var (
	ErrUnknownTemplate = errors.New("unknown prompt template")
	ErrMissingVariable = errors.New("missing prompt variable")
)

//go:embed templates/*.tpl
var builtin embed.FS

// builtinVariables lists the variables each embedded template requires.
var builtinVariables = map[string][]string{
	GenerateSQL:      {"dialect", "top_k", "table_info", "question"},
	ExtractSQL:       {"not_formatted_query"},
	SynthesizeAnswer: {"question", "query", "result"},
}

// Vars are the named values substituted into a template.
type Vars map[string]interface{}

type template struct {
	tpl      *pongo2.Template
	required []string
}

// Engine holds compiled templates addressed by name. Render is safe for
// concurrent use.
type Engine struct {
	mu        sync.RWMutex
	set       *pongo2.TemplateSet
	templates map[string]*template
}

// New returns an engine with the built-in templates compiled.
func New() (*Engine, error) {
	sub, err := fs.Sub(builtin, "templates")
	if err != nil {
		return nil, fmt.Errorf("prompt: open embedded templates: %w", err)
	}
	return NewFromFS(sub, builtinVariables)
}

// NewFromFS compiles every name in required from fsys, so operators can
// override the wording without rebuilding.
func NewFromFS(fsys fs.FS, required map[string][]string) (*Engine, error) {
	e := &Engine{
		set:       pongo2.NewSet("prompts", pongo2.NewFSLoader(fsys)),
		templates: make(map[string]*template, len(required)),
	}

	names := make([]string, 0, len(required))
	for name := range required {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tpl, err := e.set.FromFile(name + templateExt)
		if err != nil {
			return nil, fmt.Errorf("prompt: compile %q: %w", name, err)
		}
		e.templates[name] = &template{tpl: tpl, required: required[name]}
	}
	return e, nil
}

// Register compiles source under name, replacing any existing template.
func (e *Engine) Register(name, source string, required ...string) error {
	tpl, err := e.set.FromString(source)
	if err != nil {
		return fmt.Errorf("prompt: compile %q: %w", name, err)
	}

	e.mu.Lock()
	e.templates[name] = &template{tpl: tpl, required: required}
	e.mu.Unlock()
	return nil
}

// Render executes the named template. Every required variable must be
// present in vars; a nil value counts as present.
func (e *Engine) Render(name string, vars Vars) (string, error) {
	e.mu.RLock()
	t, ok := e.templates[name]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}

	var missing []string
	for _, key := range t.required {
		if _, ok := vars[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s needs %s", ErrMissingVariable, name, strings.Join(missing, ", "))
	}

	var buf bytes.Buffer
	if err := t.tpl.ExecuteWriter(pongo2.Context(vars), &buf); err != nil {
		return "", fmt.Errorf("prompt: execute %q: %w", name, err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Names returns the registered template names in sorted order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.templates))
	for name := range e.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
