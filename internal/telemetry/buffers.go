package telemetry

// Capacities configures the per-session buffer sizes.
type Capacities struct {
	Console int
	Changes int
}

// DefaultCapacities returns the default per-session buffer sizes.
func DefaultCapacities() Capacities {
	return Capacities{Console: DefaultConsoleCapacity, Changes: DefaultChangeCapacity}
}

// Buffers groups one session's telemetry: a console ring, a change log, and
// the single-slot selection and page caches.
type Buffers struct {
	console   *Ring[ConsoleEntry]
	changes   *ChangeLog
	selection slot[Selection]
	page      slot[PageInfo]
}

// NewBuffers allocates empty buffers with the given capacities. Zero values
// fall back to the defaults.
func NewBuffers(c Capacities) *Buffers {
	if c.Console <= 0 {
		c.Console = DefaultConsoleCapacity
	}
	if c.Changes <= 0 {
		c.Changes = DefaultChangeCapacity
	}
	return &Buffers{
		console: NewRing[ConsoleEntry](c.Console),
		changes: NewChangeLog(c.Changes),
	}
}

// AddConsole appends a console entry.
func (b *Buffers) AddConsole(e ConsoleEntry) {
	b.console.Push(e)
}

// Console returns console entries matching f, oldest first.
func (b *Buffers) Console(f ConsoleFilter) []ConsoleEntry {
	return FilterConsole(b.console.Snapshot(), f)
}

// ConsoleLen returns the number of buffered console entries.
func (b *Buffers) ConsoleLen() int {
	return b.console.Len()
}

// ClearConsole empties the console ring and returns the number removed.
func (b *Buffers) ClearConsole() int {
	return b.console.Clear()
}

// AddChange appends a document-change event.
func (b *Buffers) AddChange(c DocumentChange) {
	b.changes.Add(c)
}

// Changes returns document changes matching f, oldest first.
func (b *Buffers) Changes(f ChangeFilter) []DocumentChange {
	return b.changes.Get(f)
}

// ChangeStats returns running document-change totals.
func (b *Buffers) ChangeStats() ChangeStats {
	return b.changes.Stats()
}

// ClearChanges empties the change log and returns the number removed.
func (b *Buffers) ClearChanges() int {
	return b.changes.Clear()
}

// SetSelection overwrites the selection slot.
func (b *Buffers) SetSelection(s Selection) {
	b.selection.store(s)
}

// Selection returns the current selection, if one was ever reported.
func (b *Buffers) Selection() (Selection, bool) {
	return b.selection.load()
}

// SetPage overwrites the current page slot.
func (b *Buffers) SetPage(p PageInfo) {
	b.page.store(p)
}

// Page returns the current page, if one was ever reported.
func (b *Buffers) Page() (PageInfo, bool) {
	return b.page.load()
}

// Reset discards all buffered telemetry.
func (b *Buffers) Reset() {
	b.console.Clear()
	b.changes.Clear()
	b.selection.reset()
	b.page.reset()
}
