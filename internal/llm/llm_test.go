package llm

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nestbot/internal/config"
)

func TestPrepareEmbeddingInput(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expectError bool
		maxLen      int
	}{
		{name: "empty string", input: "", expectError: true},
		{name: "whitespace only", input: "   \t\n  ", expectError: true},
		{name: "short text", input: "short", maxLen: 5},
		{name: "exactly at limit", input: strings.Repeat("a", maxEmbeddingChars), maxLen: maxEmbeddingChars},
		{name: "over limit", input: strings.Repeat("a", maxEmbeddingChars+1000), maxLen: maxEmbeddingChars},
		{name: "over limit with spaces", input: strings.Repeat("word ", (maxEmbeddingChars+1000)/5), maxLen: maxEmbeddingChars},
		{name: "multibyte at the cut", input: strings.Repeat("é", maxEmbeddingChars), maxLen: maxEmbeddingChars},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := prepareEmbeddingInput(tc.input)
			if tc.expectError {
				require.ErrorIs(t, err, ErrEmbeddingFailed)
				assert.Contains(t, err.Error(), "input text cannot be empty")
				return
			}

			require.NoError(t, err)
			assert.NotEmpty(t, result)
			assert.LessOrEqual(t, len(result), tc.maxLen)
			assert.True(t, strings.HasPrefix(tc.input, result) || strings.HasPrefix(strings.TrimSpace(tc.input), result))
		})
	}
}

func TestPrepareEmbeddingInputCutsAtWordBoundary(t *testing.T) {
	result, err := prepareEmbeddingInput(strings.Repeat("word ", (maxEmbeddingChars+1000)/5))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(result, "word"))
}

func TestValidateVector(t *testing.T) {
	assert.NoError(t, validateVector([]float32{0.1, 0.2, 0.3}, 3))
	assert.NoError(t, validateVector([]float32{0.1}, 0))
	assert.ErrorIs(t, validateVector([]float32{0.1, 0.2}, 3), ErrEmbeddingFailed)
	assert.ErrorIs(t, validateVector([]float32{float32(math.NaN()), 0, 0}, 3), ErrEmbeddingFailed)
	assert.ErrorIs(t, validateVector([]float32{float32(math.Inf(1)), 0, 0}, 3), ErrEmbeddingFailed)
}

type countingEmbedder struct {
	queries int
	err     error
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	c.queries++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 0}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return 2 }

func TestCachedEmbedder(t *testing.T) {
	inner := &countingEmbedder{}
	cached, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)

	ctx := context.Background()
	first, err := cached.EmbedQuery(ctx, "What is OWASP?")
	require.NoError(t, err)
	second, err := cached.EmbedQuery(ctx, "What is OWASP?")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.queries)
	assert.Equal(t, 2, cached.Dimensions())

	docs, err := cached.EmbedDocuments(ctx, []string{"a", "bb"})
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: ErrEmbeddingFailed}
	cached, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)

	_, err = cached.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	_, err = cached.EmbedQuery(context.Background(), "q")
	require.Error(t, err)
	assert.Equal(t, 2, inner.queries)
}

func TestAnthropicPrompt(t *testing.T) {
	prompt := anthropicPrompt(ChatRequest{System: "Be brief.", User: "Hi", JSON: true})
	assert.True(t, strings.HasPrefix(prompt, "Hi"))
	assert.NotContains(t, prompt, "Be brief.")
	assert.Contains(t, prompt, "JSON object")

	assert.Equal(t, "Hi", anthropicPrompt(ChatRequest{User: "Hi"}))
}

func TestAnthropicComplete_SendsSystemAndTemperature(t *testing.T) {
	var sent struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		System      []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
			`"content":[{"type":"text","text":" Yes "}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":1}}`))
	}))
	defer backend.Close()

	client, err := NewAnthropicClient("key", "claude-test", option.WithBaseURL(backend.URL+"/"))
	require.NoError(t, err)

	reply, err := client.Complete(context.Background(), ChatRequest{
		Operation:   "detect",
		System:      "Answer Yes or No.",
		User:        "Is ZAP an OWASP project?",
		Temperature: 0.1,
	})
	require.NoError(t, err)

	assert.Equal(t, "Yes", reply)
	assert.Equal(t, "claude-test", sent.Model)
	assert.InDelta(t, 0.1, sent.Temperature, 1e-6)
	require.Len(t, sent.System, 1)
	assert.Equal(t, "text", sent.System[0].Type)
	assert.Equal(t, "Answer Yes or No.", sent.System[0].Text)
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "user", sent.Messages[0].Role)
}

func TestNewCompleter(t *testing.T) {
	openAI, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test"})
	require.NoError(t, err)

	c, err := NewCompleter(&config.Config{LLMProvider: "openai"}, openAI)
	require.NoError(t, err)
	assert.Same(t, openAI, c)

	c, err = NewCompleter(&config.Config{LLMProvider: "anthropic", AnthropicAPIKey: "sk-ant"}, openAI)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	_, err = NewCompleter(&config.Config{LLMProvider: "anthropic"}, openAI)
	assert.Error(t, err)

	_, err = NewCompleter(&config.Config{LLMProvider: "mistral"}, openAI)
	assert.True(t, err != nil && !errors.Is(err, ErrCompletionFailed))
}
