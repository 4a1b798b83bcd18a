// Package template renders resource file bodies against the project,
// resource, and deps namespaces, using the standard library's text/template
// with Option("missingkey=error") so an undefined variable is a render
// error rather than a silent blank.
//
// This is the one ambient-stack component built on the standard library
// rather than a third-party dependency: no repository in the retrieval
// pack imports a sandboxed/Jinja-style templating engine (no pongo2, jet,
// or sprig appears in any go.mod across the corpus), and text/template
// already natively provides the if/range/custom-func/strict-undefined-key
// feature set this component needs — see DESIGN.md.
package template

import (
	"bytes"
	"text/template"

	"github.com/agpm-dev/agpm/pkg/engineerr"
)

// Namespaces are the three top-level values a template body can reference:
// {{ .Project.* }}, {{ .Resource.* }}, {{ .Deps.* }}.
type Namespaces struct {
	Project  map[string]any
	Resource map[string]any
	Deps     map[string]any
}

type renderContext struct {
	Project  map[string]any
	Resource map[string]any
	Deps     map[string]any
}

// Render renders body with ns bound to the project/resource/deps namespaces.
// An undefined variable reference is a *engineerr.Diagnostic with Kind
// KindTemplate, per the spec's "undefined variables are an error" invariant.
func Render(file, body string, ns Namespaces) (string, error) {
	tmpl, err := template.New(file).
		Option("missingkey=error").
		Funcs(template.FuncMap{"default": defaultFilter}).
		Parse(body)
	if err != nil {
		return "", engineerr.New(engineerr.KindTemplate, file, "parsing template: "+err.Error())
	}

	ctx := renderContext{Project: ns.Project, Resource: ns.Resource, Deps: ns.Deps}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", engineerr.New(engineerr.KindTemplate, file, "rendering template: "+err.Error()).
			WithHint("check for a variable name that doesn't exist in project/resource/deps")
	}
	return buf.String(), nil
}

// defaultFilter implements the `{{ .x | default "fallback" }}` filter:
// returns value unless it is nil/empty, in which case fallback is returned.
func defaultFilter(fallback any, value any) any {
	if value == nil {
		return fallback
	}
	switch v := value.(type) {
	case string:
		if v == "" {
			return fallback
		}
	}
	return value
}

// Sniff reports whether body contains any template delimiters, letting
// callers skip rendering (and the missingkey=error machinery) entirely for
// files with no template expressions.
func Sniff(body string) bool {
	return bytes.Contains([]byte(body), []byte("{{"))
}
