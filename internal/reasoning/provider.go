// Package reasoning wraps the external LLM service behind blocking and
// streaming request modes.
package reasoning

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest contains the parameters for a completion request.
type ChatRequest struct {
	Messages    []Message
	Model       string
	MaxTokens   int
	Temperature float64
}

// ChatResponse contains the response from a completion request.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage contains token usage information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider is the interface for LLM API clients.
type Provider interface {
	// Chat sends a completion request and returns the full response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// ChatStream sends a completion request and returns a token-chunk stream.
	ChatStream(ctx context.Context, req *ChatRequest) (*Stream, error)
	// DefaultModel returns the configured default model.
	DefaultModel() string
}

// OpenAIProvider implements Provider using the OpenAI-compatible API. It
// supports OpenRouter, Anthropic, OpenAI, and other compatible endpoints.
type OpenAIProvider struct {
	apiKey       string
	apiBase      string
	defaultModel string
	httpClient   *http.Client
}

// NewOpenAIProvider creates a new OpenAI-compatible provider.
func NewOpenAIProvider(apiKey, apiBase, defaultModel string, timeout time.Duration) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIProvider{
		apiKey:       apiKey,
		apiBase:      strings.TrimSuffix(apiBase, "/"),
		defaultModel: defaultModel,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// DefaultModel returns the configured default model.
func (p *OpenAIProvider) DefaultModel() string {
	return p.defaultModel
}

// Chat sends a completion request to the OpenAI-compatible API.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	respBody, err := p.post(ctx, req)
	if err != nil {
		return nil, err
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := apiResp.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
	}, nil
}

// ChatStream opens a server-sent-event stream of token chunks. The returned
// Stream must be closed; Close cancels the underlying generation.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	body, cancel, err := p.postStreaming(ctx, req)
	if err != nil {
		return nil, err
	}

	stream := newStream(cancel)
	go func() {
		defer body.Close()
		defer stream.finish()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue // malformed keep-alive lines are skipped
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			if !stream.send(chunk.Choices[0].Delta.Content) {
				return // consumer cancelled
			}
		}
		if err := scanner.Err(); err != nil {
			stream.fail(fmt.Errorf("read stream: %w", err))
		}
	}()
	return stream, nil
}

func (p *OpenAIProvider) post(ctx context.Context, req *ChatRequest) ([]byte, error) {
	httpResp, err := p.do(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func (p *OpenAIProvider) postStreaming(ctx context.Context, req *ChatRequest) (io.ReadCloser, context.CancelFunc, error) {
	// The stream outlives this call; the cancel func aborts the request body.
	streamCtx, cancel := context.WithCancel(ctx)
	httpResp, err := p.do(streamCtx, req, true)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		cancel()
		return nil, nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}
	return httpResp.Body, cancel, nil
}

func (p *OpenAIProvider) do(ctx context.Context, req *ChatRequest, streaming bool) (*http.Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	body := map[string]any{
		"model":       model,
		"messages":    req.Messages,
		"max_tokens":  req.MaxTokens,
		"temperature": req.Temperature,
	}
	if streaming {
		body["stream"] = true
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	return resp, nil
}

// OpenAI API response types.
type openAIResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}
