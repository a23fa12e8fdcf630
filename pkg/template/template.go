// Package template renders text/template expressions used in node configuration.
package template

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"
)

// Scope is the data visible to a template rendered inside a run.
type Scope struct {
	WorkflowID string
	RunID      string
	NodeID     string
	Trigger    map[string]any
	Input      map[string]any
}

func (s Scope) data() map[string]any {
	return map[string]any{
		"trigger": s.Trigger,
		"input":   s.Input,
		"run": map[string]any{
			"id":          s.RunID,
			"workflow_id": s.WorkflowID,
			"node_id":     s.NodeID,
		},
	}
}

// RenderWithScope renders input against the run scope and decodes the result.
func RenderWithScope(input string, scope Scope) (any, error) {
	return Render(input, scope.data())
}

// RenderString renders input against the run scope and returns the raw text.
func RenderString(input string, scope Scope) (string, error) {
	if !NeedsTemplating(input) {
		return input, nil
	}

	return execute(input, scope.data())
}

// NeedsTemplating reports whether input contains template actions.
func NeedsTemplating(input string) bool {
	return strings.Contains(input, "{{")
}

// Parse checks the syntax of a template.
func Parse(input string) (*template.Template, error) {
	return newTemplate().Parse(input)
}

// Render executes templateStr with data. Results that look like JSON, numbers or booleans are
// decoded; anything else is returned as a string.
func Render(templateStr string, data any) (any, error) {
	rendered, err := execute(templateStr, data)
	if err != nil {
		return nil, err
	}

	result := strings.TrimSpace(rendered)
	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		err := json.Unmarshal([]byte(result), &jsonResult)
		if err == nil {
			return jsonResult, nil
		}

		return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}

func execute(templateStr string, data any) (string, error) {
	tmpl, err := newTemplate().Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	// missing map keys render as "<no value>" even with missingkey=zero
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

func newTemplate() *template.Template {
	return template.
		New("node").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"rand": func(max int) int {
				if max <= 0 {
					return 0
				}

				num := make([]byte, 1)

				_, err := rand.Read(num)
				if err != nil {
					return 0
				}

				return int(num[0]) % max
			},
			"json": func(v any) (string, error) {
				b, err := json.Marshal(v)

				return string(b), err
			},
			"lower": strings.ToLower,
			"upper": strings.ToUpper,
			"default": func(fallback, v any) any {
				if v == nil || v == "" {
					return fallback
				}

				return v
			},
		})
}
