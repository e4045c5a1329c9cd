package ids

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	PrefixConversation = "chat_"
	PrefixMessage      = "msg_"
	PrefixFolder       = "folder_"
)

// Generator hands out identifiers that are unique for the lifetime of the generator.
type Generator interface {
	Next(prefix string) string
}

// Counter is a Generator backed by a single monotonically increasing counter.
//
// Every call to Next returns prefix + n where n is strictly greater than any
// value previously returned by the same Counter, regardless of prefix.
// Concurrent callers never observe the same n.
type Counter struct {
	n atomic.Uint64
}

// NewCounter returns a Counter whose first identifier uses start+1.
func NewCounter(start uint64) *Counter {
	c := &Counter{}
	c.n.Store(start)
	return c
}

func (c *Counter) Next(prefix string) string {
	return prefix + strconv.FormatUint(c.n.Add(1), 10)
}

// Last returns the most recently issued counter value, 0 if none was issued.
func (c *Counter) Last() uint64 {
	return c.n.Load()
}

// Reset re-seeds the counter. Only meant for tests and for resuming numbering
// after loading persisted conversations.
func (c *Counter) Reset(start uint64) {
	c.n.Store(start)
}

// Observe bumps the counter so that it never issues a value <= n.
func (c *Counter) Observe(n uint64) {
	for {
		cur := c.n.Load()
		if cur >= n {
			return
		}
		if c.n.CompareAndSwap(cur, n) {
			return
		}
	}
}

var _ Generator = (*Counter)(nil)

// UUID generates random identifiers, used for request correlation.
type UUID struct{}

func (UUID) Next(prefix string) string {
	return prefix + uuid.NewString()
}

var _ Generator = UUID{}

// ParseSuffix extracts the numeric suffix of an identifier produced by Counter.
func ParseSuffix(prefix, id string) (uint64, bool) {
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return 0, false
	}
	n, err := strconv.ParseUint(id[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
