package task

import (
	"context"
	"strings"
)

// TemplateResolver resolves a prompt template and its variables into the
// final prompt text. Template storage and authoring are external concerns;
// the engine only needs the resolved string before dispatch.
type TemplateResolver interface {
	Resolve(ctx context.Context, template string, variables map[string]string) (string, error)
}

// InlineResolver substitutes {{name}} placeholders from the variables map.
// It is the default resolver when no external template service is wired.
type InlineResolver struct{}

// Resolve replaces each {{name}} occurrence with its variable value.
// Unknown placeholders are left intact so the failure is visible in the
// generated prompt rather than silently swallowed.
func (InlineResolver) Resolve(ctx context.Context, template string, variables map[string]string) (string, error) {
	if len(variables) == 0 {
		return template, nil
	}
	pairs := make([]string, 0, len(variables)*2)
	for name, value := range variables {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template), nil
}
