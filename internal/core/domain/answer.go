package domain

// Outcome codes carried in the response payload.
const (
	CodeOK               = 200
	CodePartial          = 206
	CodeBadRequest       = 400
	CodeToolFailure      = 502
	CodeRetrievalFailure = 503
)

type Citation struct {
	DocumentID string  `json:"document_id"`
	SourceRef  string  `json:"source_ref"`
	Score      float64 `json:"score"`
}

type Answer struct {
	Text      string
	Code      int
	Citations []Citation

	// Cacheable is set only by a successful retrieval synthesis.
	Cacheable bool
	CacheHit  bool
}

type GenerationRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type ToolCall struct {
	Tool      string            `json:"tool"`
	Arguments map[string]string `json:"arguments"`
}

type ToolResult struct {
	Content string `json:"content"`
}

type PolicyDecision struct {
	Allowed bool
	Reasons []string
}
