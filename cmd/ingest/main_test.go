package main

import (
	"context"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/newsdesk/internal/history"
	"github.com/linnemanlabs/newsdesk/internal/history/memhistory"
)

func TestIngestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := (&ingestConfig{}).Validate(); err == nil {
		t.Error("expected error without a dir")
	}
	if err := (&ingestConfig{Dir: "docs"}).Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestOpenWriter_DryRun(t *testing.T) {
	t.Parallel()

	w, closeFn, err := openWriter(context.Background(), "", log.Nop())
	if err != nil {
		t.Fatalf("openWriter: %v", err)
	}
	defer closeFn()

	mem, ok := w.(*memhistory.Store)
	if !ok {
		t.Fatalf("writer = %T, want *memhistory.Store", w)
	}
	if err := w.Write(context.Background(), []history.Chunk{{Source: "a.txt", Content: "rates rose"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if mem.Len() != 1 {
		t.Errorf("Len = %d, want 1", mem.Len())
	}
}
