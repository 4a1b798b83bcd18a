// Package engineerr defines agpm's typed error surface: every pipeline
// stage returns a *Diagnostic rather than a bare error, so the CLI and the
// validate report can present file, position, and remediation hints.
//
// Modeled on the teacher's pkg/console.CompilerError, adapted for a
// resolution/install pipeline rather than a workflow compiler.
package engineerr

import "fmt"

// Kind is a closed category of failure across the resolution/install pipeline.
type Kind string

const (
	KindManifestParse  Kind = "manifest_parse"
	KindValidation     Kind = "validation"
	KindSourceNotFound Kind = "source_not_found"
	KindCloneFailed    Kind = "clone_failed"
	KindAuthFailed     Kind = "auth_failed"
	KindVersionResolve Kind = "version_resolve"
	KindPatternExpand  Kind = "pattern_expand"
	KindMetadata       Kind = "metadata"
	KindCycle          Kind = "cycle"
	KindConflict       Kind = "conflict"
	KindPatch          Kind = "patch"
	KindTemplate       Kind = "template"
	KindInstall        Kind = "install"
	KindLockfile       Kind = "lockfile"
)

// Diagnostic is a single structured error with enough context to print a
// useful message and, where applicable, point at the offending file.
type Diagnostic struct {
	Kind    Kind
	File    string
	Line    int
	Column  int
	Message string
	Hint    string
}

func (d *Diagnostic) Error() string {
	if d.File != "" {
		if d.Line > 0 {
			return fmt.Sprintf("%s:%d: %s", d.File, d.Line, d.Message)
		}
		return fmt.Sprintf("%s: %s", d.File, d.Message)
	}
	return d.Message
}

// New constructs a Diagnostic with no position information.
func New(kind Kind, file, message string) *Diagnostic {
	return &Diagnostic{Kind: kind, File: file, Message: message}
}

// WithHint returns a copy of d carrying a remediation hint.
func (d *Diagnostic) WithHint(hint string) *Diagnostic {
	cp := *d
	cp.Hint = hint
	return &cp
}

// WithPosition returns a copy of d carrying a line/column.
func (d *Diagnostic) WithPosition(line, column int) *Diagnostic {
	cp := *d
	cp.Line = line
	cp.Column = column
	return &cp
}

// KindOf extracts the Kind from err if it (or something it wraps) is a *Diagnostic.
func KindOf(err error) (Kind, bool) {
	var d *Diagnostic
	if asDiagnostic(err, &d) {
		return d.Kind, true
	}
	return "", false
}

func asDiagnostic(err error, target **Diagnostic) bool {
	for err != nil {
		if d, ok := err.(*Diagnostic); ok {
			*target = d
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
