package dispatch

// Semaphore bounds how many delegated tasks execute at once. A slot is
// claimed before a backend starts a task and returned when its monitor
// finishes.
type Semaphore struct {
	slots chan struct{}
}

// NewSemaphore creates a semaphore admitting up to limit concurrent holders.
func NewSemaphore(limit int) *Semaphore {
	if limit <= 0 {
		limit = 1
	}
	return &Semaphore{slots: make(chan struct{}, limit)}
}

// TryAcquire claims a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release returns a slot claimed by TryAcquire.
func (s *Semaphore) Release() {
	<-s.slots
}
