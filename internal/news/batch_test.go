package news

import "testing"

func testRaws(n int) []Raw {
	out := make([]Raw, n)
	for i := range out {
		out[i] = Raw{Title: string(rune('a' + i)), URL: "https://example.com/" + string(rune('a'+i))}
	}
	return out
}

func TestBatch_CursorStaysInRange(t *testing.T) {
	t.Parallel()

	b := NewBatch(testRaws(2))
	if b.Current() != b.Items[0] {
		t.Fatal("cursor should start at first item")
	}
	b.Advance()
	b.Advance()
	b.Advance()
	if b.Cursor != 2 {
		t.Errorf("Cursor = %d, want 2", b.Cursor)
	}
	if b.Current() != nil {
		t.Error("Current past end should be nil")
	}
}

func TestBatch_FinishOnce(t *testing.T) {
	t.Parallel()

	b := NewBatch(testRaws(3))
	if !b.Finish(1) {
		t.Fatal("first Finish should succeed")
	}
	if b.Finish(1) {
		t.Error("second Finish of the same item should be ignored")
	}
	if b.Finish(5) || b.Finish(-1) {
		t.Error("out of range Finish should be ignored")
	}
	if len(b.Finished) != 1 {
		t.Errorf("Finished = %d, want 1", len(b.Finished))
	}
	if b.Done() {
		t.Error("batch should not be done")
	}
	b.Finish(0)
	b.Finish(2)
	if !b.Done() {
		t.Error("batch should be done")
	}
}

func TestBatch_Empty(t *testing.T) {
	t.Parallel()

	b := NewBatch(nil)
	if b.Len() != 0 || !b.Done() || b.Current() != nil {
		t.Errorf("empty batch: len=%d done=%v", b.Len(), b.Done())
	}
}
