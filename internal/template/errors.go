package template

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is wrapped by Load when a template file does not exist.
var ErrNotFound = errors.New("template not found")

// ConfigError reports an invalid template file or field.
type ConfigError struct {
	Template string
	Path     string
	Field    string
	Err      error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("template")
	if e.Template != "" {
		fmt.Fprintf(&b, " %q", e.Template)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
	}
	fmt.Fprintf(&b, ": %v", e.Err)
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CycleError reports an extends chain that refers back to itself.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return "template extends cycle: " + strings.Join(e.Chain, " -> ")
}
