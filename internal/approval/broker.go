package approval

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// PendingDecision pairs an open request with the channel its waiter blocks on.
type PendingDecision struct {
	request Request
	done    chan Resolution
}

// Broker tracks permission requests that are waiting for a human decision.
// Each request id has at most one open entry and is resolved at most once.
type Broker struct {
	mu      sync.Mutex
	pending map[string]*PendingDecision
	now     func() time.Time
}

func NewBroker() *Broker {
	return &Broker{
		pending: make(map[string]*PendingDecision),
		now:     time.Now,
	}
}

// Register opens a request and returns the channel that receives its resolution.
func (b *Broker) Register(id string, req Request) (<-chan Resolution, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.pending[id]; exists {
		return nil, ErrDuplicateRequest
	}
	req.ID = id
	if req.CreatedAt.IsZero() {
		req.CreatedAt = b.now().UTC()
	}
	entry := &PendingDecision{
		request: req,
		done:    make(chan Resolution, 1),
	}
	b.pending[id] = entry
	return entry.done, nil
}

// Resolve removes the request and wakes its waiter.
func (b *Broker) Resolve(id string, res Resolution) (Request, error) {
	b.mu.Lock()
	entry, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	if !ok {
		return Request{}, ErrRequestNotFound
	}
	entry.done <- res
	return entry.request, nil
}

// Withdraw drops a request whose waiter gave up. It reports whether the entry existed.
func (b *Broker) Withdraw(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pending[id]; !ok {
		return false
	}
	delete(b.pending, id)
	return true
}

// Get returns an open request without removing it.
func (b *Broker) Get(id string) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.pending[id]
	if !ok {
		return Request{}, false
	}
	return entry.request, true
}

// Pending returns open requests matching query, oldest first.
func (b *Broker) Pending(query Query) []Request {
	toolFilter := strings.TrimSpace(query.ToolName)

	b.mu.Lock()
	result := make([]Request, 0, len(b.pending))
	for _, entry := range b.pending {
		if toolFilter != "" && !strings.EqualFold(entry.request.ToolName, toolFilter) {
			continue
		}
		result = append(result, entry.request)
	}
	b.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// Len returns the number of open requests.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
