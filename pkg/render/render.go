// Package render turns a template body and an evaluation context into final
// prompt text. Bodies use Go text/template syntax; declared options are
// addressed as {{.name}}. An undefined variable or a syntax error is a
// structured render failure, fatal for the template.
package render

import (
	"strings"
	texttemplate "text/template"

	"github.com/promptrun/promptrun/pkg/errs"
)

// Render executes body against context and returns the rendered text. The
// name annotates errors, typically the template's path.
func Render(name, body string, context map[string]any) (string, error) {
	tmpl, err := texttemplate.New(name).Option("missingkey=error").Parse(body)
	if err != nil {
		return "", errs.Mark(errs.ErrRender, err, "parse %s", name)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, context); err != nil {
		return "", errs.Mark(errs.ErrRender, err, "render %s", name)
	}

	return sb.String(), nil
}
