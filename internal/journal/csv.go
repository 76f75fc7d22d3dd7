package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// csvFile wraps an opened CSV file with its writer and cached headers.
type csvFile struct {
	file    *os.File
	writer  *csv.Writer
	headers []string
}

// CSVSink appends events to one CSV file per kind under a directory. The
// header of a new file is the sorted key set of the first event written to
// it; later rows follow that order and drop unknown keys. When a file already
// exists its header row is reused so restarts keep appending consistently.
type CSVSink struct {
	outputDir string
	mu        sync.Mutex
	files     map[string]*csvFile
}

// NewCSVSink creates the output directory if needed.
func NewCSVSink(outputDir string) (*CSVSink, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	return &CSVSink{
		outputDir: outputDir,
		files:     make(map[string]*csvFile),
	}, nil
}

func (s *CSVSink) Write(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind, _ := evt[KindKey].(string)
	if kind == "" {
		kind = "unknown"
	}

	cf, ok := s.files[kind]
	if !ok {
		var err error
		cf, err = s.open(kind, evt)
		if err != nil {
			return err
		}
		s.files[kind] = cf
	}

	row := make([]string, len(cf.headers))
	for i, key := range cf.headers {
		if v, ok := evt[key]; ok && v != nil {
			row[i] = fmt.Sprint(deref(v))
		}
	}

	if err := cf.writer.Write(row); err != nil {
		return err
	}
	cf.writer.Flush()
	return cf.writer.Error()
}

func (s *CSVSink) open(kind string, evt Event) (*csvFile, error) {
	fp := filepath.Join(s.outputDir, kind+".csv")

	f, err := os.OpenFile(fp, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", fp, err)
	}

	existing, err := csv.NewReader(f).Read()
	switch {
	case err == nil:
		return &csvFile{file: f, writer: csv.NewWriter(f), headers: existing}, nil
	case err != io.EOF:
		f.Close()
		return nil, fmt.Errorf("read journal header %s: %w", fp, err)
	}

	headers := extractHeaders(evt)
	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		f.Close()
		return nil, fmt.Errorf("write journal header %s: %w", fp, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush journal header %s: %w", fp, err)
	}
	return &csvFile{file: f, writer: w, headers: headers}, nil
}

// Close flushes and closes every open file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for kind, cf := range s.files {
		cf.writer.Flush()
		if err := cf.writer.Error(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := cf.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, kind)
	}
	return firstErr
}

// extractHeaders returns the event keys sorted alphabetically.
func extractHeaders(evt Event) []string {
	headers := make([]string, 0, len(evt))
	for k := range evt {
		headers = append(headers, k)
	}
	sort.Strings(headers)
	return headers
}

func deref(v interface{}) interface{} {
	if p, ok := v.(*string); ok {
		if p == nil {
			return ""
		}
		return *p
	}
	return v
}
