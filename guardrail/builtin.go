package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hupe1980/meshflow/core"
)

// MaxLengthGuard rejects inputs and outputs longer than Max runes.
type MaxLengthGuard struct {
	Max int
}

// MaxLength returns a guard limiting input and output length.
func MaxLength(max int) *MaxLengthGuard { return &MaxLengthGuard{Max: max} }

// Name implements Guardrail.
func (g *MaxLengthGuard) Name() string { return "max_length" }

// BeforeInvoke implements PreInvoke.
func (g *MaxLengthGuard) BeforeInvoke(_ context.Context, inv Invocation) error {
	if n := utf8.RuneCountInString(inv.Input); n > g.Max {
		return Reject(g.Name(), fmt.Sprintf("Input rejected: %d characters exceed the limit of %d.", n, g.Max))
	}
	return nil
}

// AfterInvoke implements PostInvoke.
func (g *MaxLengthGuard) AfterInvoke(_ context.Context, _ Invocation, out Output) (Output, error) {
	if n := utf8.RuneCountInString(out.Text); n > g.Max {
		return out, Reject(g.Name(), fmt.Sprintf("Output rejected: %d characters exceed the limit of %d.", n, g.Max))
	}
	return out, nil
}

// BlockedKeywordsGuard rejects inputs, string arguments and outputs that
// contain one of its keywords as a whole word, ignoring case.
type BlockedKeywordsGuard struct {
	pattern *regexp.Regexp
}

// BlockedKeywords returns a keyword moderation guard.
func BlockedKeywords(keywords ...string) *BlockedKeywordsGuard {
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}

	g := &BlockedKeywordsGuard{}
	if len(quoted) > 0 {
		g.pattern = regexp.MustCompile(`(?i)\b(` + strings.Join(quoted, "|") + `)\b`)
	}

	return g
}

// Name implements Guardrail.
func (g *BlockedKeywordsGuard) Name() string { return "blocked_keywords" }

func (g *BlockedKeywordsGuard) matches(s string) bool {
	return g.pattern != nil && g.pattern.MatchString(s)
}

// BeforeInvoke implements PreInvoke.
func (g *BlockedKeywordsGuard) BeforeInvoke(_ context.Context, inv Invocation) error {
	if g.matches(inv.Input) {
		return Reject(g.Name(), "Input rejected: contains forbidden terms.")
	}

	for _, v := range inv.Args {
		if s, ok := v.(string); ok && g.matches(s) {
			return Reject(g.Name(), "Input rejected: contains forbidden terms.")
		}
	}

	return nil
}

// AfterInvoke implements PostInvoke.
func (g *BlockedKeywordsGuard) AfterInvoke(_ context.Context, _ Invocation, out Output) (Output, error) {
	if g.matches(out.Text) {
		return out, Reject(g.Name(), "Output rejected: contains forbidden terms.")
	}
	return out, nil
}

// RequireArgs rejects tool invocations missing any of the named arguments.
func RequireArgs(names ...string) PreInvoke {
	return PreFunc("require_args", func(_ context.Context, inv Invocation) error {
		var missing []string

		for _, n := range names {
			if v, ok := inv.Args[n]; !ok || v == nil || v == "" {
				missing = append(missing, n)
			}
		}

		if len(missing) > 0 {
			return Reject("", fmt.Sprintf("Missing required arguments: %s.", strings.Join(missing, ", ")))
		}

		return nil
	})
}

// ArgMatchesState rejects tool invocations whose argument arg differs from
// the committed value at key. The check only applies when both are present.
func ArgMatchesState(arg string, key core.StateKey) PreInvoke {
	return PreFunc("arg_matches_state", func(_ context.Context, inv Invocation) error {
		actual, ok := inv.Args[arg]
		if !ok || actual == nil || actual == "" || inv.State == nil {
			return nil
		}

		expected, ok := inv.State.Lookup(key)
		if !ok || expected == nil || expected == "" {
			return nil
		}

		if fmt.Sprint(actual) != fmt.Sprint(expected) {
			return Reject("", fmt.Sprintf("Unauthorized tool call: %s does not match current session.", arg))
		}

		return nil
	})
}

// Regexp rejects inputs (pre) matching pattern. Use Must to panic on invalid
// patterns at construction time.
func Regexp(name, pattern, message string) (PreInvoke, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("guardrail %s: %w", name, err)
	}

	return PreFunc(name, func(_ context.Context, inv Invocation) error {
		if re.MatchString(inv.Input) {
			return Reject("", message)
		}
		return nil
	}), nil
}

// Must panics if err is non-nil.
func Must(g PreInvoke, err error) PreInvoke {
	if err != nil {
		panic(err)
	}
	return g
}

// JSONObject rejects outputs that are not a JSON object containing the given
// fields. On success the decoded object becomes the output value.
func JSONObject(fields ...string) PostInvoke {
	return PostFunc("json_object", func(_ context.Context, _ Invocation, out Output) (Output, error) {
		text := strings.TrimSpace(out.Text)
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")

		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &obj); err != nil {
			return out, Reject("", fmt.Sprintf("Invalid format: %v", err))
		}

		for _, f := range fields {
			if _, ok := obj[f]; !ok {
				return out, Reject("", fmt.Sprintf("Validation failed: field %q is required.", f))
			}
		}

		out.Value = obj

		return out, nil
	})
}
