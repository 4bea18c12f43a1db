package tool

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// confusedNames maps argument names models habitually invent onto the
// conventional name used by the builtin tools. Consulted when validation
// rejects an unknown key, to put a concrete correction into the error.
var confusedNames = map[string]string{
	"filename":  "path",
	"file":      "path",
	"filepath":  "path",
	"dir":       "path",
	"directory": "path",
	"query":     "pattern",
	"regex":     "pattern",
	"search":    "pattern",
	"text":      "content",
	"data":      "content",
	"cmd":       "command",
	"max_depth": "recursive",
	"depth":     "recursive",
}

type entry struct {
	spec   Spec
	schema *jsonschema.Schema
}

// Registry is the immutable tool table. It is populated once by New and
// never mutated afterwards, so reads need no locking.
type Registry struct {
	entries map[string]*entry
	names   []string // sorted
}

// New builds a registry from specs. Construction fails on duplicate names,
// schemas that do not compile, example args that do not validate, or specs
// without a handler. Failing here keeps a broken tool table from ever
// reaching a model.
func New(specs []Spec) (*Registry, error) {
	r := &Registry{entries: make(map[string]*entry, len(specs))}
	for _, s := range specs {
		if s.Name == "" {
			return nil, fmt.Errorf("tool spec with empty name")
		}
		if _, dup := r.entries[s.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", s.Name)
		}
		if s.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", s.Name)
		}
		compiled, err := jsonschema.CompileString(s.Name+".schema.json", string(s.ArgsSchema))
		if err != nil {
			return nil, fmt.Errorf("tool %q schema: %w", s.Name, err)
		}
		if s.ExampleArgs != nil {
			if err := compiled.Validate(normalizeForSchema(s.ExampleArgs)); err != nil {
				return nil, fmt.Errorf("tool %q example args do not validate: %w", s.Name, err)
			}
		}
		r.entries[s.Name] = &entry{spec: s, schema: compiled}
		r.names = append(r.names, s.Name)
	}
	sort.Strings(r.names)
	log.Printf("[Registry] Loaded %d tools", len(r.names))
	return r, nil
}

// Get returns the spec for a tool name.
func (r *Registry) Get(name string) (Spec, bool) {
	e, ok := r.entries[name]
	if !ok {
		return Spec{}, false
	}
	return e.spec, true
}

// Names returns all tool names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// ListVisible returns the specs rendered into the prompt manifest, sorted by
// name.
func (r *Registry) ListVisible() []Spec {
	var out []Spec
	for _, name := range r.names {
		if s := r.entries[name].spec; s.VisibleInPrompt {
			out = append(out, s)
		}
	}
	return out
}

// Manifest renders the visible tool list for injection into the system
// prompt: name, summary, argument schema, and one example call per tool.
func (r *Registry) Manifest() string {
	visible := r.ListVisible()
	if len(visible) == 0 {
		return "(no tools available)"
	}
	var sb strings.Builder
	sb.WriteString("Available tools:\n")
	for _, s := range visible {
		fmt.Fprintf(&sb, "\n### %s\n%s\n", s.Name, s.Description)
		fmt.Fprintf(&sb, "Arguments schema: %s\n", string(s.ArgsSchema))
		if s.ExampleArgs != nil {
			fmt.Fprintf(&sb, "Example: {\"tool\": %q, \"args\": %s}\n", s.Name, canonicalJSON(s.ExampleArgs))
		}
	}
	return sb.String()
}

// ValidateArgs checks raw args against the tool's schema and applies schema
// defaults for absent optional keys. On failure the returned result carries
// the accepted argument names and, when a passed key matches a known
// confusion, the suggested correction.
func (r *Registry) ValidateArgs(name string, raw map[string]any) (map[string]any, *ToolResult) {
	e, ok := r.entries[name]
	if !ok {
		res := Fail(ErrNoTool, "unknown tool %q", name)
		return nil, &res
	}
	if raw == nil {
		raw = map[string]any{}
	}

	if err := e.schema.Validate(normalizeForSchema(raw)); err != nil {
		details := map[string]any{"accepted_args": acceptedArgs(e.spec)}
		if from, to, found := suggestRename(e.spec, raw); found {
			details["suggestion"] = fmt.Sprintf("use %q instead of %q", to, from)
		}
		res := FailWith(ErrInvalidArgs, fmt.Sprintf("invalid arguments for %s: %v", name, validationSummary(err)), details)
		return nil, &res
	}

	return applyDefaults(e.spec, raw), nil
}

// acceptedArgs lists the schema's property names, sorted.
func acceptedArgs(s Spec) []string {
	var doc struct {
		Properties map[string]any `json:"properties"`
	}
	_ = jsonUnmarshal(s.ArgsSchema, &doc)
	names := make([]string, 0, len(doc.Properties))
	for k := range doc.Properties {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// suggestRename finds a passed key that is not in the schema but maps to an
// accepted name via the confusion table.
func suggestRename(s Spec, raw map[string]any) (from, to string, found bool) {
	accepted := make(map[string]bool)
	for _, a := range acceptedArgs(s) {
		accepted[a] = true
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if accepted[k] {
			continue
		}
		if target, ok := confusedNames[strings.ToLower(k)]; ok && accepted[target] {
			return k, target, true
		}
	}
	return "", "", false
}

// applyDefaults fills absent optional keys from the schema's default values.
// The input map is not mutated.
func applyDefaults(s Spec, raw map[string]any) map[string]any {
	var doc struct {
		Properties map[string]struct {
			Default any `json:"default"`
		} `json:"properties"`
	}
	_ = jsonUnmarshal(s.ArgsSchema, &doc)

	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	for k, p := range doc.Properties {
		if _, present := out[k]; !present && p.Default != nil {
			out[k] = p.Default
		}
	}
	return out
}

// validationSummary flattens a jsonschema validation error to its leaf
// causes. The full hierarchical error is too noisy to feed back to a model.
func validationSummary(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaves := leafCauses(ve)
	if len(leaves) == 0 {
		return ve.Message
	}
	parts := make([]string, 0, len(leaves))
	for _, l := range leaves {
		loc := strings.TrimPrefix(l.InstanceLocation, "/")
		if loc == "" {
			parts = append(parts, l.Message)
		} else {
			parts = append(parts, fmt.Sprintf("%s: %s", loc, l.Message))
		}
	}
	return strings.Join(parts, "; ")
}

func leafCauses(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leafCauses(c)...)
	}
	return out
}
