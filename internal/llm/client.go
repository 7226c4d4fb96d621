package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/logsage/logsage/internal/pkg/errors"
	"github.com/logsage/logsage/internal/pkg/logger"
)

// Config holds connection settings for an OpenAI-compatible provider.
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	RerankModel    string
	Timeout        time.Duration
}

// Client talks to an OpenAI-compatible HTTP provider. It implements
// Embedder, Reranker and Synthesizer.
type Client struct {
	cfg     Config
	http    *http.Client
	prompts *PromptRegistry
	log     *logger.Logger
}

// NewClient creates a provider client. A zero timeout defaults to 30s.
func NewClient(cfg Config, prompts *PromptRegistry, log *logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		prompts: prompts,
		log:     log,
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// CreateEmbedding embeds a single text.
func (c *Client) CreateEmbedding(ctx context.Context, text string) (*EmbeddingResult, error) {
	results, err := c.CreateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, apperrors.ProviderRejectedError("embedding response had wrong cardinality", nil)
	}
	return &results[0], nil
}

// CreateBatchEmbeddings embeds texts in one provider call, preserving order.
func (c *Client) CreateBatchEmbeddings(ctx context.Context, texts []string) ([]EmbeddingResult, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embeddingResponse
	err := c.postJSON(ctx, "/v1/embeddings", embeddingRequest{
		Model: c.cfg.EmbeddingModel,
		Input: texts,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, apperrors.ProviderRejectedError(
			fmt.Sprintf("embedding response returned %d vectors for %d inputs", len(resp.Data), len(texts)), nil)
	}

	results := make([]EmbeddingResult, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(results) {
			return nil, apperrors.ProviderRejectedError("embedding response index out of range", nil)
		}
		results[d.Index] = EmbeddingResult{
			Vector: d.Embedding,
			Model:  resp.Model,
			Tokens: resp.Usage.TotalTokens / len(texts),
		}
	}
	return results, nil
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank scores documents against the query and returns the top k by
// relevance, best first.
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topK int) ([]RankedResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topK <= 0 || topK > len(documents) {
		topK = len(documents)
	}

	var resp rerankResponse
	err := c.postJSON(ctx, "/v1/rerank", rerankRequest{
		Model:     c.cfg.RerankModel,
		Query:     query,
		Documents: documents,
		TopN:      topK,
	}, &resp)
	if err != nil {
		return nil, err
	}

	ranked := make([]RankedResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, apperrors.ProviderRejectedError("rerank response index out of range", nil)
		}
		ranked = append(ranked, RankedResult{Index: r.Index, Score: r.RelevanceScore})
	}
	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends a raw prompt and returns the completion text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	var resp chatResponse
	err := c.postJSON(ctx, "/v1/chat/completions", chatRequest{
		Model:       c.cfg.ChatModel,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0.1,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.ProviderRejectedError("chat response had no choices", nil)
	}
	return resp.Choices[0].Message.Content, nil
}

// Synthesize answers a question from evidence blocks and conversation
// history, returning a parsed structured answer. Falls back to a simpler
// prompt when the primary response cannot be parsed.
func (c *Client) Synthesize(ctx context.Context, contextBlocks, history []string, rules, question string) (*Synthesis, error) {
	evidence := strings.Join(contextBlocks, "\n\n")
	if rules == "" {
		rules = SynthesisRules
	}

	primary, _ := c.prompts.Lookup(PromptSynthesisPrimary)
	raw, err := c.Complete(ctx, primary.Render(map[string]string{
		"context":  evidence,
		"history":  strings.Join(history, "\n"),
		"rules":    rules,
		"question": question,
	}))
	if err != nil {
		return nil, err
	}
	if s, parseErr := ParseSynthesis(raw); parseErr == nil {
		return s, nil
	}

	if c.log != nil {
		c.log.Warn("primary synthesis response unparseable, retrying with fallback prompt")
	}
	fallback, _ := c.prompts.Lookup(PromptSynthesisFallback)
	raw, err = c.Complete(ctx, fallback.Render(map[string]string{
		"context":  evidence,
		"question": question,
	}))
	if err != nil {
		return nil, err
	}
	s, parseErr := ParseSynthesis(raw)
	if parseErr != nil {
		return nil, apperrors.ProviderRejectedError("synthesis response was not valid JSON", parseErr)
	}
	return s, nil
}

// SummarizeHistory condenses prior turns into a short summary.
func (c *Client) SummarizeHistory(ctx context.Context, turns []string) (string, error) {
	t, _ := c.prompts.Lookup(PromptHistorySummary)
	out, err := c.Complete(ctx, t.Render(map[string]string{
		"turns": strings.Join(turns, "\n"),
	}))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// Reformulate rewrites a follow-up question as a standalone one.
func (c *Client) Reformulate(ctx context.Context, question string, history []string) (string, error) {
	t, _ := c.prompts.Lookup(PromptReformulate)
	out, err := c.Complete(ctx, t.Render(map[string]string{
		"history":  strings.Join(history, "\n"),
		"question": question,
	}))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ParseSynthesis extracts the JSON answer object from a completion,
// tolerating markdown code fences around the payload.
func ParseSynthesis(raw string) (*Synthesis, error) {
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}

	var s Synthesis
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, err
	}
	if s.Answer == "" {
		return nil, errors.New("synthesis answer is empty")
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 1 {
		s.Confidence = 1
	}
	return &s, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return apperrors.ProviderTimeoutError(path)
		}
		return apperrors.ProviderRejectedError("provider request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return apperrors.ProviderRejectedError("read provider response", err)
	}

	if c.log != nil {
		c.log.Debug("provider call",
			"path", path,
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("provider returned %d for %s", resp.StatusCode, path)
		return apperrors.ProviderRejectedError(msg, fmt.Errorf("%s", truncate(string(data), 512)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.ProviderRejectedError("decode provider response", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
