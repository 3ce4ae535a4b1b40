package util

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

var templateFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, item := range items {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, sep)
	},
	"json": func(v any) (string, error) {
		b, err := json.Marshal(v)
		return string(b), err
	},
}

// parsed caches compiled templates by source text. Loops render the same
// prompts on every iteration.
var parsed sync.Map

// ParseTemplate compiles text. Missing map keys render as "<no value>".
func ParseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(templateFuncs).Option("missingkey=default").Parse(text)
}

// RenderTemplate renders text against data. Text without actions is
// returned unchanged.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	var tmpl *template.Template
	if cached, ok := parsed.Load(text); ok {
		tmpl = cached.(*template.Template)
	} else {
		t, err := ParseTemplate("prompt", text)
		if err != nil {
			return "", err
		}
		cached, _ := parsed.LoadOrStore(text, t)
		tmpl = cached.(*template.Template)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", err
	}

	return sb.String(), nil
}
