package bot

import (
	"regexp"
	"strconv"
)

var placeholderPattern = regexp.MustCompile(`\{([0-9]+)\}`)

// FormatMessage substitutes positional placeholders {0}, {1}, ... in a
// notice template. Placeholders without a matching argument are left as-is.
func FormatMessage(template string, args ...string) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		idx, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || idx < 0 || idx >= len(args) {
			return m
		}
		return args[idx]
	})
}
