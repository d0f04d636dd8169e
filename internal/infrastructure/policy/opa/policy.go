// Package opa decides whether a tool call may run, using an OPA Rego policy.
package opa

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"

	"github.com/kirillkom/command-router/internal/core/domain"
)

const decisionQuery = "data.commandrouter.tools.decision"

//go:embed default.rego
var defaultPolicy string

type Policy struct {
	query rego.PreparedEvalQuery
}

// Load prepares the policy at path, or the built-in policy when path is empty.
func Load(ctx context.Context, path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return New(ctx, "default.rego", defaultPolicy)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "load tool policy", err)
	}
	return New(ctx, path, string(data))
}

func New(ctx context.Context, name, source string) (*Policy, error) {
	prepared, err := rego.New(
		rego.Query(decisionQuery),
		rego.Module(name, source),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "prepare tool policy", err)
	}
	return &Policy{query: prepared}, nil
}

// Authorize fails closed: an undefined or malformed decision denies the call.
func (p *Policy) Authorize(ctx context.Context, call domain.ToolCall) (domain.PolicyDecision, error) {
	args := make(map[string]any, len(call.Arguments))
	for k, v := range call.Arguments {
		args[k] = v
	}
	input := map[string]any{"tool": call.Tool, "arguments": args}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(printHook{}))
	if err != nil {
		return domain.PolicyDecision{}, fmt.Errorf("evaluate tool policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return domain.PolicyDecision{Allowed: false, Reasons: []string{"tool policy returned no decision"}}, nil
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return domain.PolicyDecision{}, fmt.Errorf("tool policy decision is %T, want object", rs[0].Expressions[0].Value)
	}
	allowed, _ := data["allow"].(bool)
	reasons := toStrings(data["reasons"])
	if !allowed && len(reasons) == 0 {
		reasons = []string{"tool call denied by policy"}
	}
	return domain.PolicyDecision{Allowed: allowed, Reasons: reasons}, nil
}

func toStrings(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

type printHook struct{}

func (printHook) Print(_ print.Context, message string) error {
	slog.Debug("tool_policy_print", "message", message)
	return nil
}
