package guardrail

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/orchestra/core"
)

// BlockKeywords trips when the user input contains any of the keywords
// (case-insensitive). The annotation names the matched keyword.
func BlockKeywords(name string, keywords ...string) InputGuardrail {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}

	return NewInput(name, func(_ context.Context, _ *core.RunContext, _ string, input []core.Item) (Verdict, error) {
		text := strings.ToLower(InputText(input))
		for _, k := range lowered {
			if k != "" && strings.Contains(text, k) {
				return Trip(map[string]any{"keyword": k}), nil
			}
		}
		return Pass(nil), nil
	})
}

// MaxInputLength trips when the user input exceeds max runes.
func MaxInputLength(name string, max int) InputGuardrail {
	return NewInput(name, func(_ context.Context, _ *core.RunContext, _ string, input []core.Item) (Verdict, error) {
		n := utf8.RuneCountInString(InputText(input))
		if n > max {
			return Trip(map[string]any{"length": n, "max": max}), nil
		}
		return Pass(map[string]any{"length": n}), nil
	})
}

// RequireText trips when the rendered output does not contain substr.
func RequireText(name, substr string) OutputGuardrail {
	return NewOutput(name, func(_ context.Context, _ *core.RunContext, _ string, output any) (Verdict, error) {
		if !strings.Contains(OutputText(output), substr) {
			return Trip(fmt.Sprintf("output is missing required text %q", substr)), nil
		}
		return Pass(nil), nil
	})
}

// InputText concatenates the user message contents of input.
func InputText(input []core.Item) string {
	var sb strings.Builder
	for _, it := range input {
		if um, ok := it.(core.UserMessage); ok {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(um.Content)
		}
	}
	return sb.String()
}

// OutputText renders a final output as text.
func OutputText(output any) string {
	switch v := output.(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}
