// Package sink writes drained records to local storage. The engine itself
// never touches the sink; only the orchestrator's drain loop does.
package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/text-audit/data-collector/internal/collector"
)

// FileSink appends records to a JSON-lines file, one object per record.
type FileSink struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	logger *zap.Logger
	count  int64
}

// NewFileSink opens (or creates) the target file for appending.
func NewFileSink(path string, logger *zap.Logger) (*FileSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sink dir %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open sink file %s: %w", path, err)
	}
	return &FileSink{
		file:   file,
		writer: bufio.NewWriter(file),
		logger: logger,
	}, nil
}

// Write appends one record. Safe for concurrent use.
func (s *FileSink) Write(ctx context.Context, rec *collector.RawRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("sink write canceled: %w", err)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(payload); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	s.count++
	return nil
}

// Count returns how many records were written.
func (s *FileSink) Count() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush sink: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	s.logger.Info("sink closed", zap.Int64("records", s.count))
	return nil
}
