package ingest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/diewoo/doctor-capybara-sub000/internal/domain"
)

// Stats accumulates per-run ingest counters.
type Stats struct {
	Read    int
	Skipped int
}

// ReadAll parses every NDJSON line from r. Blank lines are ignored and
// malformed records are logged and skipped rather than aborting the run.
func ReadAll(r io.Reader, logger *zap.Logger) ([]domain.Document, Stats, error) {
	var (
		docs  []domain.Document
		stats Stats
	)

	scanner := bufio.NewScanner(r)
	// Some exports carry long single-line records.
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Read++

		doc, err := Normalize(line)
		if err != nil {
			stats.Skipped++
			logger.Warn("skipping malformed record",
				zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("read input: %w", err)
	}
	return docs, stats, nil
}
