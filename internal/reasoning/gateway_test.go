package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// flakyProvider fails a set number of times before succeeding.
type flakyProvider struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *flakyProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return nil, fmt.Errorf("connection refused (attempt %d)", p.calls)
	}
	return &ChatResponse{Content: "ok"}, nil
}

func (p *flakyProvider) ChatStream(ctx context.Context, req *ChatRequest) (*Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return nil, fmt.Errorf("connection refused (attempt %d)", p.calls)
	}
	s := newStream(func() {})
	go func() {
		s.send("hello")
		s.finish()
	}()
	return s, nil
}

func (p *flakyProvider) DefaultModel() string { return "test-model" }

func TestRequestRetriesThenSucceeds(t *testing.T) {
	p := &flakyProvider{failures: 2}
	g := NewGateway(p, Options{MaxRetries: 3, BackoffBase: time.Millisecond})

	out, err := g.Request(context.Background(), "ctx")
	if err != nil {
		t.Fatal(err)
	}
	if out != "ok" {
		t.Errorf("got %q", out)
	}
	if p.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", p.calls)
	}
}

func TestRequestExhaustedWrapsUnavailable(t *testing.T) {
	p := &flakyProvider{failures: 100}
	g := NewGateway(p, Options{MaxRetries: 3, BackoffBase: time.Millisecond})

	_, err := g.Request(context.Background(), "ctx")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if p.calls != 3 {
		t.Errorf("retry ceiling ignored: %d attempts", p.calls)
	}
}

func TestRequestStopsOnCancel(t *testing.T) {
	p := &flakyProvider{failures: 100}
	g := NewGateway(p, Options{MaxRetries: 10, BackoffBase: 50 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := g.Request(ctx, "ctx")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStreamRequestDeliversChunks(t *testing.T) {
	p := &flakyProvider{failures: 1}
	g := NewGateway(p, Options{MaxRetries: 3, BackoffBase: time.Millisecond})

	stream, err := g.StreamRequest(context.Background(), "ctx")
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	chunk, ok := stream.Next(context.Background())
	if !ok || chunk != "hello" {
		t.Fatalf("got %q ok=%v", chunk, ok)
	}
	if _, ok := stream.Next(context.Background()); ok {
		t.Error("stream should be finished")
	}
	if stream.Err() != nil {
		t.Errorf("unexpected stream error: %v", stream.Err())
	}
}

func TestProviderChatAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("bad auth header %q", got)
		}
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": "parsed"}, "finish_reason": "stop"}], "usage": {"prompt_tokens": 10, "completion_tokens": 2, "total_tokens": 12}}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL, "test-model", time.Second)
	resp, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "parsed" || resp.Usage.TotalTokens != 12 {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestProviderStreamAgainstServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"one \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"two\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAIProvider("test-key", srv.URL, "test-model", time.Second)
	stream, err := p.ChatStream(context.Background(), &ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	var out string
	for {
		chunk, ok := stream.Next(context.Background())
		if !ok {
			break
		}
		out += chunk
	}
	if out != "one two" {
		t.Fatalf("got %q", out)
	}
	if stream.Err() != nil {
		t.Fatal(stream.Err())
	}
}
