package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"nestbot/internal/metrics"
)

const (
	// Embedding inputs are cut at roughly 8K tokens, assuming ~4 chars per token.
	maxEmbeddingTokens = 8000
	avgCharsPerToken   = 4
	maxEmbeddingChars  = maxEmbeddingTokens * avgCharsPerToken

	defaultMaxTokens = 2000
)

// OpenAIClient serves chat completions, embeddings and vision from OpenAI.
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	visionModel    string
	dimensions     int
}

type OpenAIConfig struct {
	APIKey         string
	ChatModel      string
	EmbeddingModel string
	VisionModel    string
	Dimensions     int
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}

	return &OpenAIClient{
		client:         openai.NewClient(cfg.APIKey),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		visionModel:    cfg.VisionModel,
		dimensions:     cfg.Dimensions,
	}, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	start := time.Now()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.chatModel,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	observe("openai", req.Operation, start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrCompletionFailed)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Dimensions() int {
	return c.dimensions
}

func (c *OpenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *OpenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		input, err := prepareEmbeddingInput(text)
		if err != nil {
			return nil, err
		}
		inputs[i] = input
	}

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	observe("openai", "embed", start, err)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(inputs), len(resp.Data))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if err := validateVector(d.Embedding, c.dimensions); err != nil {
			return nil, err
		}
		vectors[i] = d.Embedding
	}

	return vectors, nil
}

func (c *OpenAIClient) TranscribeImage(ctx context.Context, mimeType string, data []byte) (string, error) {
	start := time.Now()

	dataURI := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.visionModel,
		MaxTokens: 1000,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: "Extract all readable text from this image. Reply with the text only.",
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURI,
							Detail: openai.ImageURLDetailAuto,
						},
					},
				},
			},
		},
	})
	observe("openai", "vision", start, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompletionFailed, err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned", ErrCompletionFailed)
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// prepareEmbeddingInput rejects blank text and truncates oversized input.
func prepareEmbeddingInput(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: input text cannot be empty", ErrEmbeddingFailed)
	}

	if len(text) > maxEmbeddingChars {
		cut := maxEmbeddingChars
		// Back off to a rune boundary.
		for cut > 0 && text[cut]&0xC0 == 0x80 {
			cut--
		}
		text = text[:cut]
		// Prefer a word boundary when one is close to the cut.
		if lastSpace := strings.LastIndex(text, " "); lastSpace > cut-100 {
			text = text[:lastSpace]
		}
	}

	return text, nil
}

func validateVector(v []float32, dimensions int) error {
	if dimensions > 0 && len(v) != dimensions {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrEmbeddingFailed, dimensions, len(v))
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return fmt.Errorf("%w: vector contains non-finite values", ErrEmbeddingFailed)
		}
	}
	return nil
}

func observe(provider, operation string, start time.Time, err error) {
	if operation == "" {
		operation = "chat"
	}
	metrics.LLMCalls.WithLabelValues(provider, operation, metrics.Status(err)).Inc()
	metrics.LLMCallDuration.WithLabelValues(provider, operation).Observe(time.Since(start).Seconds())
}
