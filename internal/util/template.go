package util

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"text/template"
)

// templates caches parsed instruction templates by source text.
var templates sync.Map // string -> *template.Template

var templateFuncs = template.FuncMap{
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, items []any) string {
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = fmt.Sprint(it)
		}
		return strings.Join(parts, sep)
	},
}

// RenderTemplate executes text as a text/template against data. Text without
// template markers is returned unchanged. Missing map keys render as zero values.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := parseTemplate(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render instruction template: %w", err)
	}

	return buf.String(), nil
}

func parseTemplate(text string) (*template.Template, error) {
	if cached, ok := templates.Load(text); ok {
		return cached.(*template.Template), nil
	}

	tmpl, err := template.New("instruction").Option("missingkey=zero").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse instruction template: %w", err)
	}

	actual, _ := templates.LoadOrStore(text, tmpl)
	return actual.(*template.Template), nil
}
