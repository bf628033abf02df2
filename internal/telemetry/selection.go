package telemetry

import (
	"sync"
	"time"
)

// MaxSelectionNodes bounds the nodes kept in the selection slot.
const MaxSelectionNodes = 100

// SelectedNode describes one selected node.
type SelectedNode struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// Selection is the most recently reported selection. Only the latest value
// is retained.
type Selection struct {
	Nodes     []SelectedNode `json:"nodes"`
	Count     int            `json:"count"`
	Page      string         `json:"page,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// PageInfo is the most recently reported current page.
type PageInfo struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

type slot[T any] struct {
	mu  sync.RWMutex
	v   T
	set bool
}

func (s *slot[T]) store(v T) {
	s.mu.Lock()
	s.v = v
	s.set = true
	s.mu.Unlock()
}

func (s *slot[T]) load() (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.v, s.set
}

func (s *slot[T]) reset() {
	var zero T
	s.mu.Lock()
	s.v = zero
	s.set = false
	s.mu.Unlock()
}

// NewSelection bounds the node list and fills in defaults.
func NewSelection(ts time.Time, nodes []SelectedNode, count int, page string) Selection {
	if ts.IsZero() {
		ts = time.Now()
	}
	if count < len(nodes) {
		count = len(nodes)
	}
	if len(nodes) > MaxSelectionNodes {
		nodes = nodes[:MaxSelectionNodes]
	}
	return Selection{
		Nodes:     append([]SelectedNode{}, nodes...),
		Count:     count,
		Page:      page,
		Timestamp: ts,
	}
}
