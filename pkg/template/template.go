// Package template renders message subjects and bodies by substituting
// {{resource.field}} tokens from an event context.
package template

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/journeyhq/journey/pkg/models"
)

var tokenPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\.([A-Za-z0-9_]+)\s*\}\}`)

// Render substitutes every {{resource.field}} token in the input with the
// matching value from the event context. Tokens whose resource or field is
// absent render as the empty string; rendering never fails.
func Render(input string, evctx models.EventContext) string {
	return tokenPattern.ReplaceAllStringFunc(input, func(token string) string {
		match := tokenPattern.FindStringSubmatch(token)

		value, ok := evctx.Field(match[1], match[2])
		if !ok {
			return ""
		}

		return stringify(value)
	})
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
