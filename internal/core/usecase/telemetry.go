package usecase

import (
	"time"

	"github.com/kirillkom/command-router/internal/core/domain"
	"github.com/kirillkom/command-router/internal/core/ports"
)

type noopTelemetry struct{}

func (noopTelemetry) RecordClassification(domain.CommandKind)         {}
func (noopTelemetry) RecordCacheLookup(string)                        {}
func (noopTelemetry) RecordRAGObservation(string, int, time.Duration) {}
func (noopTelemetry) RecordToolCall(string, string)                   {}
func (noopTelemetry) RecordTokenUsage(string, int, int)               {}

func telemetryOrNoop(t ports.Telemetry) ports.Telemetry {
	if t == nil {
		return noopTelemetry{}
	}
	return t
}

// approxTokens is a whitespace word count; good enough for relative usage dashboards.
func approxTokens(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		space := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !space && !inWord {
			n++
		}
		inWord = !space
	}
	return n
}

func modelName(llm ports.LanguageModel) string {
	if m, ok := llm.(interface{ Model() string }); ok {
		return m.Model()
	}
	return "unknown"
}
