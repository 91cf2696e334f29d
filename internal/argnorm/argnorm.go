// Package argnorm heuristically repairs malformed JSON arguments produced
// by language models before a tool call is dispatched. Ported from the
// runtime's original normalize_json_args pipeline (mcp/builtin/mod.rs) and
// its shell-specific quote-fixing helpers (workspace/code_execution.rs).
//
// The normalizer never validates against a tool's schema — it only coerces
// the input into plausible JSON. It is idempotent: normalizing already-clean
// input returns it unchanged.
package argnorm

import (
	"encoding/json"
	"strings"
)

// Normalize applies the four normalization rules to a decoded arguments
// value, returning a JSON object suitable for dispatch. If args is already
// a well-formed object with no raw/code/command defects, it is returned
// unchanged (as a shallow copy).
func Normalize(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return map[string]interface{}{}
	}

	// Rule 1: a `raw` field holding unparsed JSON text.
	if raw, ok := args["raw"].(string); ok {
		if reparsed, ok := normalizeRaw(raw); ok {
			// Recurse: the reparsed object may itself need rule 2/3 fixups.
			return Normalize(reparsed)
		}
	}

	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}

	// Rule 2: a `code` field with unbalanced quotes.
	if code, ok := out["code"].(string); ok {
		out["code"] = normalizeCodeString(code)
	}

	// Rule 3: a `command` field with unbalanced quotes plus consecutive
	// quote-pair collapsing.
	if cmd, ok := out["command"].(string); ok {
		out["command"] = NormalizeShellCommand(cmd)
	}

	return out
}

// normalizeRaw implements rule 1: re-parse raw after balancing quotes
// inside string values. If neither the balanced variant nor raw itself
// parses, it applies rule 4 (ExtractFromMalformedJSON) itself; ok is
// always true.
func normalizeRaw(raw string) (map[string]interface{}, bool) {
	candidate := raw
	// Only attempt the expensive quote-balance scan when the text looks
	// like it contains at least one key/value colon and isn't already a
	// clean trailing object, mirroring the original's cheap pre-check.
	if strings.Contains(raw, "\":") && !strings.HasSuffix(strings.TrimSpace(raw), "\"}") {
		candidate = fixJSONStringValues(raw)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(candidate), &obj); err == nil {
		return obj, true
	}
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		return obj, true
	}

	return ExtractFromMalformedJSON(raw), true
}

// fixJSONStringValues is the canonical left-to-right quote-balancing scan
// (spec §4.3 rule 1): tracks whether the current position is inside a
// string value and escapes unescaped quotes that would otherwise prematurely
// terminate it.
//
// State: inStringValue becomes true when a `"` is preceded by a `:` (the
// start of a value) and not already inside a string; it becomes false again
// when a `"` is encountered while inside a string AND the following
// character is `,`, `}`, or end-of-input (a legitimate closing quote).
// A `"` encountered inside a string in any other position is an embedded,
// unescaped quote and gets escaped.
func fixJSONStringValues(s string) string {
	var out strings.Builder
	inStringValue := false
	runes := []rune(s)

	for i := 0; i < len(runes); i++ {
		c := runes[i]

		if c != '"' {
			out.WriteRune(c)
			continue
		}

		if !inStringValue {
			// Does this quote open a value, i.e. is it preceded (skipping
			// whitespace) by a colon?
			j := i - 1
			for j >= 0 && (runes[j] == ' ' || runes[j] == '\t') {
				j--
			}
			if j >= 0 && runes[j] == ':' {
				inStringValue = true
			}
			out.WriteRune(c)
			continue
		}

		// Inside a string value: is this a legitimate closing quote?
		next := rune(0)
		hasNext := i+1 < len(runes)
		if hasNext {
			next = runes[i+1]
		}
		if !hasNext || next == ',' || next == '}' {
			inStringValue = false
			out.WriteRune(c)
			continue
		}

		// Embedded, unescaped quote: escape it.
		out.WriteRune('\\')
		out.WriteRune(c)
	}

	return out.String()
}

// normalizeCodeString implements rule 2: count unescaped `"` and `'`; if
// either count is odd, append one of that kind. Safe because the code
// payload is handed to the downstream interpreter as a file — an unclosed
// literal is a strictly local defect.
func normalizeCodeString(code string) string {
	if countUnescaped(code, '"')%2 != 0 {
		code += `"`
	}
	if countUnescaped(code, '\'')%2 != 0 {
		code += `'`
	}
	return code
}

func countUnescaped(s string, quote rune) int {
	count := 0
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		if runes[i] == '\\' {
			i++ // skip escaped character
			continue
		}
		if runes[i] == quote {
			count++
		}
	}
	return count
}

// NormalizeShellCommand implements rule 3: apply rule 2's odd-quote
// balancing, then collapse consecutive `""` pairs using the context rule
// described in §4.3 — if the character preceding the pair is whitespace or
// `=`, escape the second quote; otherwise keep one quote and drop the
// second. This is the context-sensitive variant (the original source also
// ships a simpler unconditional-collapse helper for a different call site;
// this is the one the spec's rule 3 describes and is treated as canonical).
func NormalizeShellCommand(command string) string {
	fixed := normalizeCodeString(command)
	return fixConsecutiveQuotes(fixed)
}

func fixConsecutiveQuotes(s string) string {
	runes := []rune(s)
	var out strings.Builder

	for i := 0; i < len(runes); i++ {
		if runes[i] == '"' && i+1 < len(runes) && runes[i+1] == '"' {
			prev := rune(0)
			if i > 0 {
				prev = runes[i-1]
			}
			if prev == ' ' || prev == '\t' || prev == '=' {
				out.WriteRune('"')
				out.WriteRune('\\')
				out.WriteRune('"')
			} else {
				out.WriteRune('"')
				// drop the second quote
			}
			i++ // consume both runes of the pair
			continue
		}
		out.WriteRune(runes[i])
	}

	return out.String()
}

// ExtractFromMalformedJSON implements rule 4: find substrings matching
// "code":"…" and "command":"…" by scanning for closing-quote positions at
// logical boundaries (a `"` followed by `,`, `}`, or end of input). The
// extracted values populate a fresh object.
func ExtractFromMalformedJSON(raw string) map[string]interface{} {
	out := make(map[string]interface{})
	for _, field := range []string{"code", "command"} {
		if v, ok := extractParameterValue(raw, field); ok {
			out[field] = v
		}
	}
	return out
}

func extractParameterValue(raw, field string) (string, bool) {
	marker := `"` + field + `":"`
	idx := strings.Index(raw, marker)
	if idx < 0 {
		return "", false
	}
	start := idx + len(marker)
	runes := []rune(raw)
	startIdx := len([]rune(raw[:start]))

	for i := startIdx; i < len(runes); i++ {
		if runes[i] != '"' {
			continue
		}
		next := rune(0)
		hasNext := i+1 < len(runes)
		if hasNext {
			next = runes[i+1]
		}
		if !hasNext || next == ',' || next == '}' {
			return string(runes[startIdx:i]), true
		}
	}
	// No logical boundary found; take the rest of the string.
	return string(runes[startIdx:]), true
}
