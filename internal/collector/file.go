package collector

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// Column names tried, in order, when auto-detecting the text column of a
// delimited file.
var textColumnCandidates = []string{"content", "text", "message", "comment", "description", "body"}

// jsonTextItem is the object shape accepted in JSON array and JSON-lines
// files.
type jsonTextItem struct {
	Content string            `json:"content"`
	Source  string            `json:"source,omitempty"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// fileStrategy reads local batch files: line-delimited text, delimited
// columns, a whole-document JSON array, or JSON-lines. It is not
// governor-gated (no network) but respects the cap, the filter pipeline,
// and cancellation; malformed individual records are skipped.
type fileStrategy struct {
	logger *zap.Logger
}

func (s *fileStrategy) collect(ctx context.Context, source *Source, cfg Config, em *emitter) error {
	path := source.FilePath
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = s.collectCSV(ctx, path, source.Parameters, em)
	case ".json":
		err = s.collectJSON(ctx, path, em)
	case ".jsonl":
		err = s.collectJSONL(ctx, path, em)
	default:
		// Anything else is treated as line-delimited text.
		err = s.collectLines(ctx, path, em)
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if em.emitted() == 0 {
				return fmt.Errorf("collection canceled before progress: %w", err)
			}
			return nil
		}
		return err
	}
	s.logger.Info("file collection finished",
		zap.String("path", path),
		zap.Int64("collected", em.emitted()),
	)
	return nil
}

func (s *fileStrategy) collectLines(ctx context.Context, path string, em *emitter) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	provenance := "file:" + filepath.Base(path)
	// bufio.Reader copes with lines longer than Scanner's 64KB token cap;
	// oversized lines are still candidates, not read failures.
	reader := bufio.NewReader(file)
	lineNum := 0
	for !em.full() {
		line, err := reader.ReadString('\n')
		if line != "" {
			lineNum++
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			meta := map[string]string{
				"file_path": path,
				"line_num":  strconv.Itoa(lineNum),
			}
			if _, eerr := em.emit(ctx, strings.TrimSpace(line), provenance, meta); eerr != nil {
				return eerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
	}
	return nil
}

func (s *fileStrategy) collectCSV(ctx context.Context, path string, params map[string]string, em *emitter) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	if delimiter := params["delimiter"]; delimiter != "" {
		if d, _ := utf8.DecodeRuneInString(delimiter); d != utf8.RuneError {
			reader.Comma = d
		}
	}

	headers, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	textCol := findTextColumn(headers, params["text_column"])
	if textCol < 0 {
		return fmt.Errorf("no text column found in %s", path)
	}

	provenance := "csv:" + filepath.Base(path)
	rowNum := 1 // header occupies row 1
	for !em.full() {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			s.logger.Warn("bad csv row, skipping", zap.Int("row", rowNum), zap.Error(err))
			continue
		}
		if textCol >= len(row) {
			s.logger.Warn("csv row shorter than header, skipping", zap.Int("row", rowNum))
			continue
		}
		meta := map[string]string{
			"file_path": path,
			"row_num":   strconv.Itoa(rowNum),
		}
		for i, header := range headers {
			if i != textCol && i < len(row) {
				meta[header] = row[i]
			}
		}
		if _, err := em.emit(ctx, strings.TrimSpace(row[textCol]), provenance, meta); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStrategy) collectJSON(ctx context.Context, path string, em *emitter) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	var items []jsonTextItem
	if err := json.NewDecoder(file).Decode(&items); err != nil {
		return fmt.Errorf("decode json array: %w", err)
	}

	defaultProvenance := "json:" + filepath.Base(path)
	for i, item := range items {
		if em.full() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		meta := map[string]string{
			"file_path": path,
			"index":     strconv.Itoa(i),
		}
		for k, v := range item.Meta {
			meta[k] = v
		}
		provenance := item.Source
		if provenance == "" {
			provenance = defaultProvenance
		}
		if _, err := em.emit(ctx, item.Content, provenance, meta); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStrategy) collectJSONL(ctx context.Context, path string, em *emitter) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	defaultProvenance := "jsonl:" + filepath.Base(path)
	reader := bufio.NewReader(file)
	lineNum := 0
	for !em.full() {
		raw, err := reader.ReadString('\n')
		if raw != "" {
			lineNum++
			if cerr := ctx.Err(); cerr != nil {
				return cerr
			}
			if eerr := s.emitJSONLine(ctx, raw, lineNum, path, defaultProvenance, em); eerr != nil {
				return eerr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
	}
	return nil
}

func (s *fileStrategy) emitJSONLine(ctx context.Context, raw string, lineNum int, path, defaultProvenance string, em *emitter) error {
	line := strings.TrimSpace(raw)
	if line == "" {
		return nil
	}
	var item jsonTextItem
	if err := json.Unmarshal([]byte(line), &item); err != nil {
		s.logger.Warn("bad json line, skipping", zap.Int("line", lineNum), zap.Error(err))
		return nil
	}
	meta := map[string]string{
		"file_path": path,
		"line_num":  strconv.Itoa(lineNum),
	}
	for k, v := range item.Meta {
		meta[k] = v
	}
	provenance := item.Source
	if provenance == "" {
		provenance = defaultProvenance
	}
	_, err := em.emit(ctx, item.Content, provenance, meta)
	return err
}

// findTextColumn resolves the text column index: the explicitly named
// column, else the first auto-detect candidate, else the first column.
func findTextColumn(headers []string, explicit string) int {
	if explicit != "" {
		for i, h := range headers {
			if h == explicit {
				return i
			}
		}
	}
	for _, name := range textColumnCandidates {
		for i, h := range headers {
			if strings.ToLower(h) == name {
				return i
			}
		}
	}
	if len(headers) > 0 {
		return 0
	}
	return -1
}
