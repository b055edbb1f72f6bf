// Package parse turns raw command output into structured data. Every parser
// returns a scalar map, a list of homogeneous maps, or nil; parsers never
// return errors, and nil is the unit for "nothing found". Numeric values are
// emitted as float64 to match JSON decoding elsewhere in the engine.
package parse

import (
	"encoding/json"
	"regexp"

	"github.com/target/netops-go/internal/domain/model"
)

// Apply runs the configured parser over raw output. A nil parser, an
// unknown builtin name, or output the parser cannot use all yield nil.
func Apply(p *model.Parser, output string) any {
	if p == nil {
		return nil
	}
	switch p.Type {
	case model.ParserTypeBuiltin:
		fn, ok := builtins[p.Name]
		if !ok {
			return nil
		}
		return fn(output)
	case model.ParserTypeRegex:
		return applyRegex(p.Patterns, output)
	case model.ParserTypeJSON:
		return applyJSON(output)
	default:
		return nil
	}
}

// KnownBuiltin reports whether name refers to a registered builtin parser.
func KnownBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

// applyRegex evaluates each named pattern against the output. The first
// capture group wins; patterns without groups contribute the whole match.
// Patterns that do not compile or do not match are skipped.
func applyRegex(patterns map[string]string, output string) any {
	out := make(map[string]any, len(patterns))
	for name, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		if len(m) > 1 {
			out[name] = m[1]
		} else {
			out[name] = m[0]
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// applyJSON decodes the output as a JSON object or an array of objects.
// Scalars, arrays of non-objects, and malformed documents yield nil.
func applyJSON(output string) any {
	var decoded any
	if err := json.Unmarshal([]byte(output), &decoded); err != nil {
		return nil
	}
	switch v := decoded.(type) {
	case map[string]any:
		return v
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			row, ok := item.(map[string]any)
			if !ok {
				return nil
			}
			rows = append(rows, row)
		}
		if len(rows) == 0 {
			return nil
		}
		return rows
	default:
		return nil
	}
}
