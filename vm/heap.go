package vm

import (
	"errors"
	"fmt"
	"sync"

	"github.com/caffeineduck/atomhost/term"
)

// ErrHeapExhausted is returned by Heap.Alloc when the limit is reached.
var ErrHeapExhausted = errors.New("vm: heap exhausted")

// HeapStats is a snapshot of heap usage, in words.
type HeapStats struct {
	Words  int
	Peak   int
	Limit  int
	Allocs uint64
}

// Heap is the arena boxed terms live in while they cross the boundary.
// Objects are addressed by word index; nothing is freed individually. The
// host marks the heap before a call and releases back to the mark after
// the result is decoded.
type Heap struct {
	mu     sync.Mutex
	words  []term.Term
	limit  int
	peak   int
	allocs uint64
}

// NewHeap returns a heap holding at most limit words.
func NewHeap(limit int) *Heap {
	return &Heap{limit: limit, words: make([]term.Term, 0, min(limit, 4096))}
}

// Alloc appends words and returns a boxed pointer to the first one. It
// implements term.Arena.
func (h *Heap) Alloc(words []term.Term) (term.Term, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(words) > h.limit-len(h.words) {
		return 0, fmt.Errorf("%w: %d words requested, %d of %d in use", ErrHeapExhausted, len(words), len(h.words), h.limit)
	}
	ptr, ok := term.MakeBoxed(uint64(len(h.words)))
	if !ok {
		return 0, ErrHeapExhausted
	}
	h.words = append(h.words, words...)
	h.peak = max(h.peak, len(h.words))
	h.allocs++
	return ptr, nil
}

// Word returns the word at index. It implements term.Arena.
func (h *Heap) Word(index uint64) (term.Term, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index >= uint64(len(h.words)) {
		return 0, false
	}
	return h.words[index], true
}

// Store overwrites the word at index.
func (h *Heap) Store(index uint64, w term.Term) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index >= uint64(len(h.words)) {
		return fmt.Errorf("vm: store at %d outside heap of %d words", index, len(h.words))
	}
	h.words[index] = w
	return nil
}

// Len returns the number of words in use.
func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.words)
}

// Mark returns the current top of the heap.
func (h *Heap) Mark() int { return h.Len() }

// Release drops every word allocated after mark.
func (h *Heap) Release(mark int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if mark >= 0 && mark < len(h.words) {
		clear(h.words[mark:])
		h.words = h.words[:mark]
	}
}

// Stats returns a snapshot of heap usage.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HeapStats{Words: len(h.words), Peak: h.peak, Limit: h.limit, Allocs: h.allocs}
}
