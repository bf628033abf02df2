package telemetry

import (
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

func TestConsoleFilterCountSinceLevel(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewBuffers(Capacities{Console: 10})
	b.AddConsole(NewConsoleEntry(base, "log", "one", nil, ""))
	b.AddConsole(NewConsoleEntry(base.Add(time.Second), "error", "two", nil, ""))
	b.AddConsole(NewConsoleEntry(base.Add(2*time.Second), "log", "three", nil, ""))
	b.AddConsole(NewConsoleEntry(base.Add(3*time.Second), "error", "four", nil, ""))

	cases := []struct {
		name   string
		filter ConsoleFilter
		want   []string
	}{
		{"all", ConsoleFilter{}, []string{"one", "two", "three", "four"}},
		{"count", ConsoleFilter{Count: 2}, []string{"three", "four"}},
		{"since", ConsoleFilter{Since: base.Add(2 * time.Second)}, []string{"three", "four"}},
		{"level", ConsoleFilter{Level: "error"}, []string{"two", "four"}},
		{"level_all", ConsoleFilter{Level: "all", Count: 1}, []string{"four"}},
		{"combined", ConsoleFilter{Level: "error", Count: 1, Since: base}, []string{"four"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := b.Console(tc.filter)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d entries, want %d", len(got), len(tc.want))
			}
			for i := range got {
				if got[i].Message != tc.want[i] {
					t.Fatalf("entry %d: got %q, want %q", i, got[i].Message, tc.want[i])
				}
			}
		})
	}
	if b.ConsoleLen() != 4 {
		t.Fatalf("reads must not mutate the buffer, len=%d", b.ConsoleLen())
	}
}

func TestNewConsoleEntryTruncates(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("é", MaxConsoleTextLen+10)
	e := NewConsoleEntry(time.Time{}, "", long, []string{long}, "")
	if e.Level != LevelLog {
		t.Fatalf("expected default level log, got %q", e.Level)
	}
	if e.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be filled")
	}
	if !strings.HasSuffix(e.Message, truncatedSuffix) {
		t.Fatal("expected truncation marker on message")
	}
	if n := utf8.RuneCountInString(strings.TrimSuffix(e.Message, truncatedSuffix)); n != MaxConsoleTextLen {
		t.Fatalf("expected %d runes kept, got %d", MaxConsoleTextLen, n)
	}
	if !strings.HasSuffix(e.Args[0], truncatedSuffix) {
		t.Fatal("expected truncation marker on arg")
	}
}

func TestConsoleClearReturnsRemoved(t *testing.T) {
	t.Parallel()

	b := NewBuffers(Capacities{Console: 2})
	for i := 0; i < 5; i++ {
		b.AddConsole(NewConsoleEntry(time.Time{}, "log", "x", nil, ""))
	}
	if n := b.ClearConsole(); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if n := b.ClearConsole(); n != 0 {
		t.Fatalf("expected 0 removed on empty buffer, got %d", n)
	}
}

func TestChangeLogKindFilterAndStats(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBuffers(Capacities{Changes: 2})
	b.AddChange(NewDocumentChange(base, 3, false, true, []string{"1:1", "1:2"}, nil))
	b.AddChange(NewDocumentChange(base.Add(time.Second), 1, true, false, nil, []string{"S:1"}))
	b.AddChange(NewDocumentChange(base.Add(2*time.Second), 2, false, true, []string{"1:2", "1:3"}, nil))

	all := b.Changes(ChangeFilter{})
	if len(all) != 2 {
		t.Fatalf("expected capacity-bounded 2 events, got %d", len(all))
	}
	if !all[0].HasStyleChanges || !all[1].HasNodeChanges {
		t.Fatalf("unexpected retained events: %+v", all)
	}
	if got := b.Changes(ChangeFilter{Kind: ChangeKindNode}); len(got) != 1 || got[0].ChangeCount != 2 {
		t.Fatalf("unexpected node-only result: %+v", got)
	}

	stats := b.ChangeStats()
	if stats.Events != 3 || stats.Changes != 6 || stats.StyleEvents != 1 || stats.NodeEvents != 2 || stats.Evicted != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.DistinctNode != 2 {
		t.Fatalf("expected 2 distinct buffered nodes, got %d", stats.DistinctNode)
	}

	if n := b.ClearChanges(); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if b.ChangeStats().Events != 0 {
		t.Fatal("expected stats reset after clear")
	}
}

func TestChangeLogNodeSetBoundedByRing(t *testing.T) {
	t.Parallel()

	l := NewChangeLog(20)
	ids := make([]string, MaxChangedNodeIDs)
	for i := range 1000 {
		for j := range ids {
			ids[j] = strconv.Itoa(i) + ":" + strconv.Itoa(j)
		}
		l.Add(NewDocumentChange(time.Time{}, 1, false, true, ids, nil))
	}

	if l.Len() != 20 {
		t.Fatalf("expected 20 buffered events, got %d", l.Len())
	}
	if got := len(l.nodes); got != 20*MaxChangedNodeIDs {
		t.Fatalf("node set grew past buffered events: %d", got)
	}
	stats := l.Stats()
	if stats.DistinctNode != 20*MaxChangedNodeIDs || stats.Events != 1000 || stats.Evicted != 980 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestChangeLogClearRacesAdd(t *testing.T) {
	t.Parallel()

	l := NewChangeLog(50)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 2000 {
			l.Add(NewDocumentChange(time.Time{}, 1, false, true, []string{"1:1"}, nil))
		}
	}()
	go func() {
		defer wg.Done()
		for range 200 {
			l.Clear()
		}
	}()
	wg.Wait()

	stats := l.Stats()
	if want := min(stats.Events, 50); l.Len() != want {
		t.Fatalf("stats count %d events but ring holds %d", stats.Events, l.Len())
	}
	if l.Len() > 0 && stats.DistinctNode != 1 {
		t.Fatalf("expected one distinct node, got %d", stats.DistinctNode)
	}
}

func TestNewDocumentChangeBoundsIDs(t *testing.T) {
	t.Parallel()

	ids := make([]string, MaxChangedNodeIDs+5)
	for i := range ids {
		ids[i] = "n"
	}
	c := NewDocumentChange(time.Time{}, len(ids), false, false, ids, nil)
	if len(c.ChangedNodeIDs) != MaxChangedNodeIDs || !c.Truncated {
		t.Fatalf("expected bounded ids, got %d truncated=%v", len(c.ChangedNodeIDs), c.Truncated)
	}
	if !c.HasNodeChanges {
		t.Fatal("node ids imply node changes")
	}
}

func TestSelectionSlotOverwrites(t *testing.T) {
	t.Parallel()

	b := NewBuffers(DefaultCapacities())
	if _, ok := b.Selection(); ok {
		t.Fatal("expected empty selection slot")
	}
	b.SetSelection(NewSelection(time.Time{}, []SelectedNode{{ID: "1:1"}}, 1, "Page 1"))
	b.SetSelection(NewSelection(time.Time{}, []SelectedNode{{ID: "2:1"}, {ID: "2:2"}}, 0, "Page 2"))

	sel, ok := b.Selection()
	if !ok {
		t.Fatal("expected selection")
	}
	if sel.Count != 2 || sel.Nodes[0].ID != "2:1" || sel.Page != "Page 2" {
		t.Fatalf("unexpected selection: %+v", sel)
	}

	b.Reset()
	if _, ok := b.Selection(); ok {
		t.Fatal("expected selection cleared by reset")
	}
}
