package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/sashabaranov/go-openai"
)

// Embedder turns text into a vector. Implementations are opaque collaborators.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbedder calls the OpenAI (or compatible) embeddings endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	slog.Debug("Generated OpenAI embedding",
		"model", e.model,
		"promptTokens", resp.Usage.PromptTokens,
	)
	return resp.Data[0].Embedding, nil
}

// Voyage (Anthropic) Embedding API structures
type VoyageEmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type VoyageEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// VoyageEmbedder calls the Voyage AI embeddings API behind a rate limiter.
type VoyageEmbedder struct {
	apiKey  string
	model   string
	url     string
	client  *http.Client
	limiter *RateLimiter
}

func NewVoyageEmbedder(apiKey, model string, rpm int) *VoyageEmbedder {
	if model == "" {
		model = "voyage-2"
	}
	return &VoyageEmbedder{
		apiKey:  apiKey,
		model:   model,
		url:     "https://api.voyageai.com/v1/embeddings",
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: NewRateLimiter(rpm),
	}
}

func (v *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := v.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	jsonData, err := json.Marshal(VoyageEmbeddingRequest{Input: []string{text}, Model: v.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call Voyage API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Voyage API error (status %d): %s", resp.StatusCode, string(body))
	}

	var embResp VoyageEmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if len(embResp.Data) == 0 || len(embResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("no embeddings generated")
	}

	slog.Debug("Generated Voyage embedding",
		"model", v.model,
		"totalTokens", embResp.Usage.TotalTokens,
	)
	return embResp.Data[0].Embedding, nil
}

// HashEmbedder is a deterministic bag-of-words embedder used when no
// embedding provider is configured. Similar wording yields similar vectors.
type HashEmbedder struct {
	Dim int
}

var hashStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "do": true, "does": true, "you": true,
	"your": true, "have": true, "has": true, "me": true, "my": true, "we": true,
	"is": true, "are": true, "any": true, "in": true, "of": true, "for": true,
	"to": true, "and": true, "or": true, "with": true, "what": true, "which": true,
	"there": true, "please": true, "can": true, "could": true, "it": true,
	"this": true, "that": true, "on": true,
}

func (h HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 512
	}

	vec := make([]float32, dim)
	for _, tok := range hashTokens(text) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[f.Sum32()%uint32(dim)]++
	}
	return vec, nil
}

func hashTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || hashStopwords[f] {
			continue
		}
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = strings.TrimSuffix(f, "s")
		}
		tokens = append(tokens, f)
	}
	return tokens
}
