package history

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/linnemanlabs/go-core/log"
)

const (
	ChunkSize    = 1000
	ChunkOverlap = 200
)

// Split cuts text into windows of size runes that overlap by overlap runes.
// Whitespace-only windows are dropped.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = ChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	step := size - overlap

	var out []string
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		if s := strings.TrimSpace(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}

// IngestStats reports what IngestDir did.
type IngestStats struct {
	Files   int
	Skipped int
	Chunks  int
}

// IngestDir walks dir and writes every .txt file as chunks. Other files are
// skipped and logged.
func IngestDir(ctx context.Context, dir string, w Writer, logger log.Logger) (IngestStats, error) {
	if logger == nil {
		logger = log.Nop()
	}
	var stats IngestStats

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".txt") {
			stats.Skipped++
			logger.Info(ctx, "skipping unsupported history file", "path", path)
			return nil
		}

		data, err := os.ReadFile(path) //nolint:gosec // path comes from walking an operator-supplied directory
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		source := filepath.Base(path)
		parts := Split(string(data), ChunkSize, ChunkOverlap)
		chunks := make([]Chunk, len(parts))
		for i, p := range parts {
			chunks[i] = Chunk{Source: source, Seq: i, Content: p}
		}
		if len(chunks) > 0 {
			if err := w.Write(ctx, chunks); err != nil {
				return fmt.Errorf("write %s: %w", source, err)
			}
		}

		stats.Files++
		stats.Chunks += len(chunks)
		logger.Info(ctx, "ingested history file", "source", source, "chunks", len(chunks))
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("history: ingest %s: %w", dir, err)
	}
	return stats, nil
}
