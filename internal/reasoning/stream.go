package reasoning

import (
	"context"
	"sync"
)

// Stream is a finite, single-consumer, cancellable sequence of token chunks.
// Close stops the underlying generation, not just the reading side.
type Stream struct {
	chunks chan string
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		chunks: make(chan string, 16),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// Next returns the next chunk. ok is false once the stream is exhausted,
// failed, or the given context is cancelled.
func (s *Stream) Next(ctx context.Context) (chunk string, ok bool) {
	select {
	case chunk, ok = <-s.chunks:
		return chunk, ok
	case <-ctx.Done():
		s.Close()
		return "", false
	}
}

// Err returns the terminal error, if the stream ended abnormally.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the underlying generation and releases resources. Safe to
// call multiple times.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

// send delivers a chunk to the consumer. Returns false when the stream has
// been closed, signalling the producer to stop.
func (s *Stream) send(chunk string) bool {
	select {
	case <-s.done:
		return false
	case s.chunks <- chunk:
		return true
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Stream) finish() {
	close(s.chunks)
	s.cancel()
}
