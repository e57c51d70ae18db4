package assistant

import (
	"strings"
	"time"
)

// RenderPrompt substitutes {key} placeholders with vars. "{{" and "}}"
// produce literal braces; placeholders without a value are kept verbatim.
func RenderPrompt(prompt string, vars map[string]string) string {
	var sb strings.Builder
	sb.Grow(len(prompt))

	for i := 0; i < len(prompt); i++ {
		c := prompt[i]
		switch {
		case c == '{' && i+1 < len(prompt) && prompt[i+1] == '{':
			sb.WriteByte('{')
			i++
		case c == '}' && i+1 < len(prompt) && prompt[i+1] == '}':
			sb.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexAny(prompt[i+1:], "{}")
			if end < 0 || prompt[i+1+end] != '}' {
				sb.WriteByte(c)
				continue
			}
			key := prompt[i+1 : i+1+end]
			if v, ok := vars[key]; ok {
				sb.WriteString(v)
			} else {
				sb.WriteString(prompt[i : i+2+end])
			}
			i += end + 1
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// promptVars merges the per-call context with the built-in {date}
func promptVars(now time.Time, context map[string]string) map[string]string {
	vars := make(map[string]string, len(context)+1)
	for k, v := range context {
		vars[k] = v
	}
	if _, ok := vars["date"]; !ok {
		vars["date"] = now.Format("2006-01-02")
	}
	return vars
}
