package telemetry

import (
	"strings"
	"sync"
	"time"
)

const (
	// DefaultChangeCapacity is the number of document-change events kept per session.
	DefaultChangeCapacity = 200
	// MaxChangedNodeIDs bounds the node id list stored with each event.
	MaxChangedNodeIDs = 50
)

// Change kinds accepted by [ChangeFilter].
const (
	ChangeKindStyle = "style"
	ChangeKindNode  = "node"
)

// DocumentChange summarizes one batch of document edits reported by the plugin.
type DocumentChange struct {
	Timestamp       time.Time `json:"timestamp"`
	ChangeCount     int       `json:"changeCount"`
	HasStyleChanges bool      `json:"hasStyleChanges"`
	HasNodeChanges  bool      `json:"hasNodeChanges"`
	ChangedNodeIDs  []string  `json:"changedNodeIds,omitempty"`
	ChangedStyleIDs []string  `json:"changedStyleIds,omitempty"`
	Truncated       bool      `json:"truncated,omitempty"`
}

// ChangeFilter narrows a document-change read.
type ChangeFilter struct {
	Count int
	Since time.Time
	// Kind keeps only events touching styles or nodes; "" keeps everything.
	Kind string
}

// ChangeStats aggregates every change ever appended to a [ChangeLog],
// including evicted ones. DistinctNode counts node ids of buffered events
// only.
type ChangeStats struct {
	Events       int `json:"events"`
	Changes      int `json:"changes"`
	StyleEvents  int `json:"styleEvents"`
	NodeEvents   int `json:"nodeEvents"`
	Evicted      int `json:"evicted"`
	DistinctNode int `json:"distinctNodes"`
}

// ChangeLog is a bounded document-change buffer with running totals.
type ChangeLog struct {
	// mu serializes writers so the ring and stats move together.
	mu    sync.Mutex
	ring  *Ring[DocumentChange]
	stats ChangeStats
	// nodes counts buffered events per node id.
	nodes map[string]int
}

// NewChangeLog returns a change log holding at most capacity events.
func NewChangeLog(capacity int) *ChangeLog {
	return &ChangeLog{
		ring:  NewRing[DocumentChange](capacity),
		nodes: make(map[string]int),
	}
}

// NewDocumentChange normalizes a change event, bounding its id lists.
func NewDocumentChange(ts time.Time, count int, style, node bool, nodeIDs, styleIDs []string) DocumentChange {
	if ts.IsZero() {
		ts = time.Now()
	}
	c := DocumentChange{
		Timestamp:       ts,
		ChangeCount:     count,
		HasStyleChanges: style || len(styleIDs) > 0,
		HasNodeChanges:  node || len(nodeIDs) > 0,
	}
	if len(nodeIDs) > MaxChangedNodeIDs {
		nodeIDs = nodeIDs[:MaxChangedNodeIDs]
		c.Truncated = true
	}
	if len(styleIDs) > MaxChangedNodeIDs {
		styleIDs = styleIDs[:MaxChangedNodeIDs]
		c.Truncated = true
	}
	c.ChangedNodeIDs = append([]string(nil), nodeIDs...)
	c.ChangedStyleIDs = append([]string(nil), styleIDs...)
	return c
}

// Add appends c and updates the running totals.
func (l *ChangeLog) Add(c DocumentChange) {
	l.mu.Lock()
	defer l.mu.Unlock()

	old, evicted := l.ring.PushEvict(c)
	l.stats.Events++
	l.stats.Changes += c.ChangeCount
	if c.HasStyleChanges {
		l.stats.StyleEvents++
	}
	if c.HasNodeChanges {
		l.stats.NodeEvents++
	}
	if evicted {
		l.stats.Evicted++
		for _, id := range old.ChangedNodeIDs {
			if l.nodes[id] <= 1 {
				delete(l.nodes, id)
			} else {
				l.nodes[id]--
			}
		}
	}
	for _, id := range c.ChangedNodeIDs {
		l.nodes[id]++
	}
	l.stats.DistinctNode = len(l.nodes)
}

// Get returns buffered changes matching f, oldest first.
func (l *ChangeLog) Get(f ChangeFilter) []DocumentChange {
	all := l.ring.Snapshot()
	out := make([]DocumentChange, 0, len(all))
	kind := strings.ToLower(strings.TrimSpace(f.Kind))
	for _, c := range all {
		if !f.Since.IsZero() && c.Timestamp.Before(f.Since) {
			continue
		}
		switch kind {
		case ChangeKindStyle:
			if !c.HasStyleChanges {
				continue
			}
		case ChangeKindNode:
			if !c.HasNodeChanges {
				continue
			}
		}
		out = append(out, c)
	}
	return lastN(out, f.Count)
}

// Stats returns the running totals.
func (l *ChangeLog) Stats() ChangeStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Len returns the number of buffered events.
func (l *ChangeLog) Len() int {
	return l.ring.Len()
}

// Clear empties the buffer and resets totals, returning the number of
// buffered events removed.
func (l *ChangeLog) Clear() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.ring.Clear()
	l.stats = ChangeStats{}
	l.nodes = make(map[string]int)
	return n
}
