package news

// Batch is the set of items processed together in one run. Cursor always
// sits in [0, len(Items)]; an item enters Finished exactly once.
type Batch struct {
	Items    []*Item
	Cursor   int
	Finished []*Item
	Alerts   []Alert

	done []bool
}

// NewBatch builds a batch from raw articles, in order.
func NewBatch(raws []Raw) *Batch {
	items := make([]*Item, 0, len(raws))
	for _, r := range raws {
		items = append(items, NewItem(r))
	}
	return &Batch{
		Items:    items,
		Finished: make([]*Item, 0, len(items)),
		done:     make([]bool, len(items)),
	}
}

// Len returns the number of items in the batch.
func (b *Batch) Len() int { return len(b.Items) }

// Current returns the item under the cursor, or nil once the cursor is past the end.
func (b *Batch) Current() *Item {
	if b.Cursor >= len(b.Items) {
		return nil
	}
	return b.Items[b.Cursor]
}

// Advance moves the cursor to the next item. It never moves past len(Items).
func (b *Batch) Advance() {
	if b.Cursor < len(b.Items) {
		b.Cursor++
	}
}

// Finish records item i as having passed every stage. Repeat calls are ignored
// so an item is appended at most once.
func (b *Batch) Finish(i int) bool {
	if i < 0 || i >= len(b.Items) || b.done[i] {
		return false
	}
	b.done[i] = true
	b.Finished = append(b.Finished, b.Items[i])
	return true
}

// Done reports whether every item has finished.
func (b *Batch) Done() bool {
	return len(b.Finished) == len(b.Items)
}
