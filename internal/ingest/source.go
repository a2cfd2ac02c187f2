package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	apperrors "github.com/Adithya-Monish-Kumar-K/rental-semantic-search/pkg/errors"
)

// maxLineBytes caps one JSONL record; embedded data blocks can be large.
const maxLineBytes = 16 << 20

// Source yields raw records. Next returns io.EOF once exhausted. An error
// wrapping errors.ErrInvalidInput concerns a single record and the caller
// may keep reading.
type Source interface {
	Next(ctx context.Context) (RawRecord, error)
	Close() error
}

// FileSource reads newline-delimited JSON records of the form
// {"url": ..., "scraped_at": ..., "payload": ...}. Blank lines are skipped.
type FileSource struct {
	name    string
	closer  io.Closer
	scanner *bufio.Scanner
	line    int
}

// OpenFile opens a JSONL file as a Source.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening source %s: %w", path, err)
	}
	return newFileSource(path, f, f), nil
}

// NewReaderSource reads records from r. name appears in error messages.
func NewReaderSource(name string, r io.Reader) *FileSource {
	return newFileSource(name, r, nil)
}

func newFileSource(name string, r io.Reader, c io.Closer) *FileSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	return &FileSource{name: name, closer: c, scanner: sc}
}

func (s *FileSource) Next(ctx context.Context) (RawRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return RawRecord{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return RawRecord{}, fmt.Errorf("reading %s: %w", s.name, err)
			}
			return RawRecord{}, io.EOF
		}
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec RawRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return RawRecord{}, fmt.Errorf("%w: %s line %d: %w", apperrors.ErrInvalidInput, s.name, s.line, err)
		}
		return rec, nil
	}
}

func (s *FileSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// SliceSource serves records from memory. Useful for replays and tests.
type SliceSource struct {
	records []RawRecord
	pos     int
}

func NewSliceSource(records ...RawRecord) *SliceSource {
	return &SliceSource{records: records}
}

func (s *SliceSource) Next(ctx context.Context) (RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return RawRecord{}, err
	}
	if s.pos >= len(s.records) {
		return RawRecord{}, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

func (s *SliceSource) Close() error { return nil }
