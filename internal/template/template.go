// Package template implements the literal placeholder substitution engine
// used by the jsoncommand/multijsoncommand providers, the webhook
// server, and the "template" middleware stage.
//
// This is deliberately not a Go-template engine: placeholders are literal
// "{{path}}"/"${path}" tokens resolved by dot-path lookup over a JSON
// value, not executed as code. github.com/rytsh/mugo (the teacher's
// render package) wraps text/template and would require control-flow
// delimiters the spec never uses and would treat an unresolved path as a
// template error rather than "leave the placeholder as-is" — so this
// package is hand-built on tidwall/gjson for the dot-path lookup, which is
// already an indirect dependency of the teacher's stack.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// placeholderPattern matches {{path}} or ${path}, with optional whitespace
// around path. Path characters allow dots, array indices, and identifiers.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}|\$\{\s*([^{}]+?)\s*\}`)

// MissingPathError is returned in strict mode when a referenced path is
// absent from the data.
type MissingPathError struct {
	Path string
}

func (e *MissingPathError) Error() string {
	return fmt.Sprintf("template: path %q not found in data", e.Path)
}

// Render substitutes every {{path}}/${path} occurrence in tmpl with the
// string form of the value at path within data (a JSON document). In
// non-strict mode, missing paths are left as the original literal
// placeholder; in strict mode, the first missing path aborts with a
// MissingPathError.
func Render(tmpl string, data []byte, strict bool) (string, error) {
	var firstErr error

	result := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}

		path := extractPath(match)
		value := gjson.GetBytes(data, path)
		if !value.Exists() {
			if strict {
				firstErr = &MissingPathError{Path: path}
			}
			return match
		}

		return stringify(value)
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func extractPath(match string) string {
	var raw string
	switch {
	case strings.HasPrefix(match, "{{"):
		raw = strings.TrimSuffix(strings.TrimPrefix(match, "{{"), "}}")
	case strings.HasPrefix(match, "${"):
		raw = strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
	default:
		raw = match
	}
	return strings.TrimSpace(raw)
}

func stringify(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.String()
	case gjson.Number:
		// Preserve integers without a trailing ".0".
		if v.Num == float64(int64(v.Num)) {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return strconv.FormatFloat(v.Num, 'f', -1, 64)
	case gjson.True:
		return "true"
	case gjson.False:
		return "false"
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}

// HasPlaceholders reports whether tmpl contains any {{...}} or ${...}
// tokens, used to verify the Template Processor's idempotence property:
// re-applying Render to output with no remaining placeholders is a no-op.
func HasPlaceholders(s string) bool {
	return placeholderPattern.MatchString(s)
}
