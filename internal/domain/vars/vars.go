// Package vars resolves {{path}} template references in action parameters
// against an execution context. Whole-string references keep the native type
// of the resolved value; embedded references are stringified, with
// non-scalars JSON-encoded. Missing paths resolve to null, never an error.
package vars

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"github.com/target/netops-go/internal/domain/model"
)

// Evaluator abstracts JMESPath operations for testability.
type Evaluator interface {
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements Evaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

var (
	refPattern       = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	quotedKeyPattern = regexp.MustCompile(`\[\s*"([^"]*)"\s*\]`)
)

// ResolverOptions groups dependencies for Resolver. All fields may be zero;
// the constructor fills in process defaults.
type ResolverOptions struct {
	Evaluator Evaluator
	Env       func(name string) (string, bool)
	Clock     func() time.Time
}

// Resolver substitutes template references against an execution context.
type Resolver struct {
	jems  Evaluator
	env   func(string) (string, bool)
	clock func() time.Time
}

// NewResolver constructs a Resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}
	env := opts.Env
	if env == nil {
		env = os.LookupEnv
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Resolver{jems: jems, env: env, clock: clock}
}

// Resolve walks strings, lists, and maps, substituting every {{path}}
// reference. Non-template values are returned unchanged.
func (r *Resolver) Resolve(value any, execCtx *model.ExecutionContext) any {
	switch v := value.(type) {
	case string:
		return r.resolveString(v, execCtx)
	case []any:
		out := make([]any, len(v))
		for i := range v {
			out[i] = r.Resolve(v[i], execCtx)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = r.Resolve(item, execCtx)
		}
		return out
	default:
		return value
	}
}

// ResolveMap resolves every value of a parameter map.
func (r *Resolver) ResolveMap(params map[string]any, execCtx *model.ExecutionContext) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for key, item := range params {
		out[key] = r.Resolve(item, execCtx)
	}
	return out
}

func (r *Resolver) resolveString(s string, execCtx *model.ExecutionContext) any {
	loc := refPattern.FindStringSubmatchIndex(s)
	if loc == nil {
		return s
	}
	if loc[0] == 0 && loc[1] == len(s) {
		return r.lookup(s[loc[2]:loc[3]], execCtx)
	}
	return refPattern.ReplaceAllStringFunc(s, func(ref string) string {
		sub := refPattern.FindStringSubmatch(ref)
		return stringify(r.lookup(sub[1], execCtx))
	})
}

func (r *Resolver) lookup(path string, execCtx *model.ExecutionContext) any {
	if strings.HasPrefix(path, "$") {
		return r.builtin(path, execCtx)
	}
	if execCtx == nil {
		return nil
	}
	out, err := r.jems.Evaluate(normalizePath(path), execCtx.Variables)
	if err != nil {
		return nil
	}
	return out
}

func (r *Resolver) builtin(path string, execCtx *model.ExecutionContext) any {
	head, rest, _ := strings.Cut(path, ".")
	switch head {
	case "$now":
		return r.clock().UTC().Format(time.RFC3339)
	case "$today":
		return r.clock().UTC().Format("2006-01-02")
	case "$env":
		if rest == "" {
			return nil
		}
		val, ok := r.env(rest)
		if !ok {
			return nil
		}
		return val
	case "$workflow":
		if execCtx == nil {
			return nil
		}
		switch rest {
		case "id":
			return execCtx.WorkflowID
		case "name":
			return execCtx.WorkflowName
		}
		return nil
	case "$execution":
		if execCtx == nil {
			return nil
		}
		switch rest {
		case "id":
			return execCtx.ExecutionID
		case "started_at":
			return execCtx.StartedAt.UTC().Format(time.RFC3339)
		}
		return nil
	case "$input":
		if execCtx == nil {
			return nil
		}
		trigger := execCtx.Variables["trigger"]
		if rest == "" {
			return trigger
		}
		out, err := r.jems.Evaluate(normalizePath(rest), trigger)
		if err != nil {
			return nil
		}
		return out
	case "$node":
		return r.nodeValue(rest, execCtx)
	}
	return nil
}

// nodeValue resolves $node.<id> references. The id is taken verbatim up to
// the first dot; the remainder addresses into that node's output data, with
// an optional leading output_data or output segment.
func (r *Resolver) nodeValue(rest string, execCtx *model.ExecutionContext) any {
	if execCtx == nil || rest == "" {
		return nil
	}
	id, path, _ := strings.Cut(rest, ".")
	result, ok := execCtx.NodeResults[id]
	if !ok {
		return nil
	}
	switch {
	case path == "" || path == "output_data" || path == "output":
		return result.OutputData
	case strings.HasPrefix(path, "output_data."):
		path = strings.TrimPrefix(path, "output_data.")
	case strings.HasPrefix(path, "output."):
		path = strings.TrimPrefix(path, "output.")
	}
	out, err := r.jems.Evaluate(normalizePath(path), result.OutputData)
	if err != nil {
		return nil
	}
	return out
}

// normalizePath rewrites bracketed string keys (a["key"]) to the quoted
// identifier form JMESPath expects (a."key"). Numeric indexes pass through.
func normalizePath(path string) string {
	return quotedKeyPattern.ReplaceAllString(path, `."$1"`)
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(encoded)
}
