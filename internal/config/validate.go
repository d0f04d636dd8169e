package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/kirillkom/command-router/internal/core/domain"
)

// Validate reports every invalid field at once. The returned error is of kind domain.ErrConfiguration.
func (c Config) Validate() error {
	var problems []error
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.SharedSecret) == "" {
		add("ROUTER_SHARED_SECRET is required")
	}
	if strings.TrimSpace(c.AuthHeader) == "" {
		add("AUTH_HEADER must not be empty")
	}
	if c.EmbedDim <= 0 {
		add("EMBED_DIM must be a positive integer, got %d", c.EmbedDim)
	}
	if c.RateLimitWindow <= 0 {
		add("RATE_LIMIT_WINDOW must be positive")
	}
	if c.RunRateLimit <= 0 || c.BatchRateLimit <= 0 {
		add("RATE_LIMIT_RUN and RATE_LIMIT_BATCH must be positive")
	}
	if c.BatchRateLimit > c.RunRateLimit {
		add("RATE_LIMIT_BATCH (%d) must not exceed RATE_LIMIT_RUN (%d)", c.BatchRateLimit, c.RunRateLimit)
	}
	if c.CacheThreshold <= 0 || c.CacheThreshold > 1 {
		add("CACHE_SIMILARITY_THRESHOLD must be in (0, 1], got %v", c.CacheThreshold)
	}
	if c.CacheCapacity <= 0 {
		add("CACHE_CAPACITY must be positive")
	}
	if c.CacheTTL <= 0 {
		add("CACHE_TTL must be positive")
	}
	if c.RAGLexicalWeight < 0 || c.RAGVectorWeight < 0 || math.Abs(c.RAGLexicalWeight+c.RAGVectorWeight-1) > 1e-6 {
		add("RAG_LEXICAL_WEIGHT and RAG_VECTOR_WEIGHT must be non-negative and sum to 1")
	}
	if c.RAGTopK <= 0 || c.RAGCandidates < c.RAGTopK {
		add("RAG_TOP_K must be positive and not exceed RAG_CANDIDATES")
	}
	if c.RAGMinScore < 0 || c.RAGMinScore > 1 {
		add("RAG_MIN_SCORE must be in [0, 1], got %v", c.RAGMinScore)
	}
	if c.AdvancedRAGURL != "" && c.AdvancedRAGTimeout <= 0 {
		add("ADVANCED_RAG_TIMEOUT must be positive when ADVANCED_RAG_URL is set")
	}
	if c.RAGContextTopK <= 0 {
		add("RAG_CONTEXT_TOP_K must be positive")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 1 {
		add("LLM_TEMPERATURE must be in [0, 1]")
	}
	if c.LLMMaxTokens <= 0 {
		add("LLM_MAX_TOKENS must be positive")
	}
	if c.BatchMaxCommands <= 0 || c.BatchConcurrency <= 0 {
		add("BATCH_MAX_COMMANDS and BATCH_CONCURRENCY must be positive")
	}
	if c.ChunkSize <= 0 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		add("CHUNK_SIZE must be positive and CHUNK_OVERLAP must be in [0, CHUNK_SIZE)")
	}
	if c.CommandMaxChars <= 0 {
		add("COMMAND_MAX_CHARS must be positive")
	}
	for _, timeout := range []struct {
		name  string
		value float64
	}{
		{"TOOL_TIMEOUT", c.ToolTimeout.Seconds()},
		{"CONTEXT_TIMEOUT", c.ContextTimeout.Seconds()},
		{"STATIC_INFO_TIMEOUT", c.StaticInfoTimeout.Seconds()},
		{"LLM_TIMEOUT", c.LLMTimeout.Seconds()},
		{"RAG_TIMEOUT", c.RAGTimeout.Seconds()},
		{"API_REQUEST_TIMEOUT", c.RequestTimeout.Seconds()},
	} {
		if timeout.value <= 0 {
			add("%s must be positive", timeout.name)
		}
	}

	checkChoice := func(key, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		add("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
	}
	checkChoice("LOG_FORMAT", c.LogFormat, "json", "console")
	checkChoice("RATE_LIMIT_BACKEND", c.RateLimitBackend, "memory", "redis")
	checkChoice("EMBED_PROVIDER", c.EmbedProvider, "ollama", "openai", "hashing")
	checkChoice("LLM_PROVIDER", c.LLMProvider, "ollama", "openai")
	checkChoice("INDEX_BACKEND", c.IndexBackend, "file", "qdrant")
	checkChoice("CACHE_BACKEND", c.CacheBackend, "memory", "qdrant", "off")
	checkChoice("TOOL_BACKEND", c.ToolBackend, "http", "mcp")

	if len(problems) == 0 {
		return nil
	}
	return domain.WrapError(domain.ErrConfiguration, "validate config", errors.Join(problems...))
}

func (c Config) CacheEnabled() bool {
	return c.CacheBackend != "off"
}
