package services

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`)

// RenderTemplate substitutes {{key}} and {{nested.key}} placeholders in a
// message title or body. Unknown keys are left untouched.
func RenderTemplate(template string, variables map[string]interface{}) string {
	if template == "" || len(variables) == 0 {
		return template
	}

	return placeholderRegex.ReplaceAllStringFunc(template, func(match string) string {
		submatch := placeholderRegex.FindStringSubmatch(match)
		if len(submatch) != 2 {
			return match
		}
		if value, ok := lookup(variables, strings.Split(submatch[1], ".")); ok {
			return fmt.Sprint(value)
		}
		return match
	})
}

func lookup(vars map[string]interface{}, path []string) (interface{}, bool) {
	value, ok := vars[path[0]]
	if !ok {
		return nil, false
	}
	if len(path) == 1 {
		return value, true
	}
	nested, ok := value.(map[string]interface{})
	if !ok {
		return nil, false
	}
	return lookup(nested, path[1:])
}
