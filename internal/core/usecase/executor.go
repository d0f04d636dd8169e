package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
)

const (
	greetingText = "Hello! I'm online. Ask me about your documents, run a tool, or type \"help\" to see what I can do."

	helpText = "I can:\n" +
		"- answer questions from the indexed documents\n" +
		"- open or close applications (\"open spotify\", \"close slack\")\n" +
		"- run read-only git commands and explain recent changes (\"git status\", \"explain the last commit\")\n" +
		"- report disk, cpu, memory and process information, or diagnose a component\n" +
		"- tell you the time, date, service health and version\n" +
		"- summarize what's new (\"what's new today\")"

	toolContextSystemPrompt = "You combine a tool's output with related reference notes into a short answer for an operator. " +
		"Prefer the tool output for facts about the current state. Do not invent details."
)

type ExecutorOptions struct {
	ServiceName       string
	Version           string
	StatusTool        string
	ContextTopK       int
	ToolTimeout       time.Duration
	ContextTimeout    time.Duration
	StaticInfoTimeout time.Duration
	Temperature       float64
	MaxTokens         int
	Now               func() time.Time
}

func (o ExecutorOptions) withDefaults() ExecutorOptions {
	if o.StatusTool == "" {
		o.StatusTool = "status_report"
	}
	if o.ContextTopK <= 0 {
		o.ContextTopK = 2
	}
	if o.ToolTimeout <= 0 {
		o.ToolTimeout = 15 * time.Second
	}
	if o.ContextTimeout <= 0 {
		o.ContextTimeout = 10 * time.Second
	}
	if o.StaticInfoTimeout <= 0 {
		o.StaticInfoTimeout = 2 * time.Second
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 512
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// CommandExecutor turns a parsed command into an answer. It never returns an error: every failure becomes a coded answer.
type CommandExecutor struct {
	tools     ports.ToolExecutor
	policy    ports.ToolPolicy
	retrieval ports.RetrievalAnswerer
	llm       ports.LanguageModel
	probes    []ports.HealthProbe
	telemetry ports.Telemetry
	opts      ExecutorOptions
}

// NewCommandExecutor accepts a nil policy (allow all) and a nil llm (no tool-context summaries).
func NewCommandExecutor(
	tools ports.ToolExecutor,
	policy ports.ToolPolicy,
	retrieval ports.RetrievalAnswerer,
	llm ports.LanguageModel,
	probes []ports.HealthProbe,
	telemetry ports.Telemetry,
	opts ExecutorOptions,
) *CommandExecutor {
	return &CommandExecutor{
		tools:     tools,
		policy:    policy,
		retrieval: retrieval,
		llm:       llm,
		probes:    probes,
		telemetry: telemetryOrNoop(telemetry),
		opts:      opts.withDefaults(),
	}
}

func (e *CommandExecutor) Execute(ctx context.Context, cmd domain.ParsedCommand) domain.Answer {
	switch c := cmd.(type) {
	case domain.Greeting:
		return domain.Answer{Text: greetingText, Code: domain.CodeOK}
	case domain.StaticInfo:
		return e.staticInfo(ctx, c.Topic)
	case domain.Refused:
		return domain.Answer{Text: c.Reason, Code: domain.CodeOK}
	case domain.ToolOperation:
		return e.runTool(ctx, domain.ToolCall{Tool: c.Name, Arguments: c.Args})
	case domain.ToolOperationWithContext:
		return e.runToolWithContext(ctx, domain.ToolCall{Tool: c.Name, Arguments: c.Args}, c.Query)
	case domain.StatusQuery:
		call := domain.ToolCall{Tool: e.opts.StatusTool, Arguments: map[string]string{"request": c.Text}}
		return e.runToolWithContext(ctx, call, c.Text)
	case domain.RetrievalQuery:
		return e.retrieval.Answer(ctx, c.Text)
	default:
		return domain.Answer{Text: "Unsupported command.", Code: domain.CodeBadRequest}
	}
}

func (e *CommandExecutor) staticInfo(ctx context.Context, topic domain.StaticInfoTopic) domain.Answer {
	now := e.opts.Now()
	switch topic {
	case domain.InfoHelp:
		return domain.Answer{Text: helpText, Code: domain.CodeOK}
	case domain.InfoTime:
		return domain.Answer{Text: "It's " + now.Format("15:04") + ".", Code: domain.CodeOK}
	case domain.InfoDate:
		return domain.Answer{Text: "Today is " + now.Format("Monday, January 2, 2006") + ".", Code: domain.CodeOK}
	case domain.InfoVersion:
		return domain.Answer{Text: fmt.Sprintf("%s version %s", e.opts.ServiceName, e.opts.Version), Code: domain.CodeOK}
	case domain.InfoHealth:
		return e.health(ctx)
	default:
		return domain.Answer{Text: helpText, Code: domain.CodeOK}
	}
}

// health pings every probe concurrently, each under its own hard timeout. Lines keep probe order.
func (e *CommandExecutor) health(ctx context.Context) domain.Answer {
	if len(e.probes) == 0 {
		return domain.Answer{Text: "Router is up. No dependencies are configured for health checks.", Code: domain.CodeOK}
	}

	lines := make([]string, len(e.probes))
	var wg sync.WaitGroup
	for i, probe := range e.probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, e.opts.StaticInfoTimeout)
			defer cancel()
			if err := probe.Ping(pctx); err != nil {
				lines[i] = fmt.Sprintf("- %s: unavailable (%s)", probe.Name(), shortError(err))
				return
			}
			lines[i] = fmt.Sprintf("- %s: ok", probe.Name())
		}()
	}
	wg.Wait()
	return domain.Answer{Text: "Router is up.\n" + strings.Join(lines, "\n"), Code: domain.CodeOK}
}

// authorize returns a ready answer when the call must not run.
func (e *CommandExecutor) authorize(ctx context.Context, call domain.ToolCall) (domain.Answer, bool) {
	if e.policy == nil {
		return domain.Answer{}, true
	}
	decision, err := e.policy.Authorize(ctx, call)
	if err != nil {
		slog.Error("tool_policy_failed", "tool", call.Tool, "error", err)
		e.telemetry.RecordToolCall(call.Tool, "policy_error")
		return domain.Answer{Text: "I couldn't check whether that tool is allowed, so I didn't run it.", Code: domain.CodeToolFailure}, false
	}
	if !decision.Allowed {
		slog.Info("tool_policy_denied", "tool", call.Tool, "reasons", decision.Reasons)
		e.telemetry.RecordToolCall(call.Tool, "denied")
		text := "I can't do that."
		if len(decision.Reasons) > 0 {
			text = "I can't do that: " + strings.Join(decision.Reasons, "; ") + "."
		}
		return domain.Answer{Text: text, Code: domain.CodeOK}, false
	}
	return domain.Answer{}, true
}

func (e *CommandExecutor) callTool(ctx context.Context, call domain.ToolCall) (domain.ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ToolTimeout)
	defer cancel()
	if call.Arguments == nil {
		call.Arguments = map[string]string{}
	}
	result, err := e.tools.Execute(ctx, call)
	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		e.telemetry.RecordToolCall(call.Tool, status)
		slog.Warn("tool_call_failed", "tool", call.Tool, "error", err)
		return domain.ToolResult{}, err
	}
	e.telemetry.RecordToolCall(call.Tool, "ok")
	return result, nil
}

func (e *CommandExecutor) runTool(ctx context.Context, call domain.ToolCall) domain.Answer {
	if answer, ok := e.authorize(ctx, call); !ok {
		return answer
	}
	result, err := e.callTool(ctx, call)
	if err != nil {
		return domain.Answer{
			Text: fmt.Sprintf("The %s tool failed: %s", call.Tool, shortError(err)),
			Code: domain.CodeToolFailure,
		}
	}
	text := strings.TrimSpace(result.Content)
	if text == "" {
		text = fmt.Sprintf("The %s tool finished with no output.", call.Tool)
	}
	return domain.Answer{Text: text, Code: domain.CodeOK}
}

// runToolWithContext gathers a small retrieval context and the tool output, each under its own timeout.
// Either part may fail; the answer carries whatever succeeded plus a note naming the failed part.
func (e *CommandExecutor) runToolWithContext(ctx context.Context, call domain.ToolCall, query string) domain.Answer {
	if answer, ok := e.authorize(ctx, call); !ok {
		return answer
	}

	contextText, ctxErr := e.gatherContext(ctx, query)
	result, toolErr := e.callTool(ctx, call)
	toolText := strings.TrimSpace(result.Content)

	switch {
	case ctxErr != nil && toolErr != nil:
		return domain.Answer{
			Text: fmt.Sprintf("Both the context lookup and the %s tool failed: %s", call.Tool, shortError(toolErr)),
			Code: domain.CodeToolFailure,
		}
	case toolErr != nil:
		text := contextText
		if text == "" {
			text = "No related notes were found."
		}
		return domain.Answer{
			Text: text + fmt.Sprintf("\n\nNote: the %s tool failed (%s); showing related notes only.", call.Tool, shortError(toolErr)),
			Code: domain.CodePartial,
		}
	case ctxErr != nil:
		return domain.Answer{
			Text: toolText + "\n\nNote: related context could not be retrieved; showing tool output only.",
			Code: domain.CodePartial,
		}
	case contextText == "":
		return domain.Answer{Text: toolText, Code: domain.CodeOK}
	}

	return domain.Answer{Text: e.summarize(ctx, call.Tool, query, contextText, toolText), Code: domain.CodeOK}
}

func (e *CommandExecutor) gatherContext(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.ContextTimeout)
	defer cancel()
	result, err := e.retrieval.Retrieve(ctx, query, e.opts.ContextTopK)
	if err != nil {
		slog.Warn("tool_context_failed", "error", err)
		return "", err
	}
	parts := make([]string, 0, len(result.Candidates))
	for i, c := range result.Candidates {
		parts = append(parts, fmt.Sprintf("[%d] %s: %s", i+1, sourceLabel(c.Document), clip(c.Document.Text, maxPassageChars/3)))
	}
	return strings.Join(parts, "\n"), nil
}

func rawCombination(tool, contextText, toolText string) string {
	return "Related notes:\n" + contextText + "\n\n" + tool + " output:\n" + toolText
}

// summarize asks the model for a combined answer; the raw combination is returned when it can't.
func (e *CommandExecutor) summarize(ctx context.Context, tool, query, contextText, toolText string) string {
	raw := rawCombination(tool, contextText, toolText)
	if e.llm == nil {
		return raw
	}
	prompt := "Request: " + query + "\n\n" + raw + "\n\nAnswer the request in a few sentences."
	text, err := e.llm.Generate(ctx, domain.GenerationRequest{
		System:      toolContextSystemPrompt,
		Prompt:      prompt,
		Temperature: e.opts.Temperature,
		MaxTokens:   e.opts.MaxTokens,
	})
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Warn("tool_context_summary_failed", "tool", tool, "error", err)
		return raw
	}
	e.telemetry.RecordTokenUsage(modelName(e.llm), approxTokens(toolContextSystemPrompt)+approxTokens(prompt), approxTokens(text))
	return strings.TrimSpace(text)
}

func shortError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return clip(err.Error(), 200)
}
