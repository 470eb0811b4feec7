// Package sink implements the durable append-only tabular store for
// discovered records.
package sink

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// CSV appends fixed-schema rows to a single CSV file. The column set and
// order are fixed for the lifetime of the file: the header is written
// exactly once, fields outside the declared columns are dropped and missing
// fields are written as empty strings.
//
// Appends take an exclusive advisory lock on the destination, stage the full
// content to a temp file in the same directory and rename it into place, so
// concurrent processes cannot interleave partial rows and a crash mid-write
// never leaves a truncated file.
type CSV struct {
	path    string
	columns []string
	logger  *zap.Logger
}

// NewCSV returns a sink writing to path with the given ordered column set.
func NewCSV(path string, columns []string, logger *zap.Logger) (*CSV, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("csv sink requires at least one column")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir for %s: %w", path, err)
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &CSV{path: path, columns: cols, logger: logger}, nil
}

// Path returns the destination file path.
func (c *CSV) Path() string { return c.path }

// Columns returns a copy of the declared column set.
func (c *CSV) Columns() []string {
	out := make([]string, len(c.columns))
	copy(out, c.columns)
	return out
}

// Append projects each row onto the fixed column set and appends it.
// A zero-length batch is a no-op and does not create the file.
func (c *CSV) Append(rows []map[string]string) error {
	if len(rows) == 0 {
		return nil
	}

	dst, err := os.OpenFile(c.path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return fmt.Errorf("open sink %s: %w", c.path, err)
	}
	defer dst.Close()

	if err := lockFile(dst); err != nil {
		return fmt.Errorf("lock sink %s: %w", c.path, err)
	}
	defer unlockFile(dst)

	existing, err := io.ReadAll(dst)
	if err != nil {
		return fmt.Errorf("read sink %s: %w", c.path, err)
	}

	var buf bytes.Buffer
	buf.Write(existing)
	w := csv.NewWriter(&buf)
	if len(existing) == 0 {
		if err := w.Write(c.columns); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	for _, row := range rows {
		record := make([]string, len(c.columns))
		for i, col := range c.columns {
			record[i] = row[col]
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush rows: %w", err)
	}

	if err := c.replaceWith(buf.Bytes()); err != nil {
		return err
	}
	c.logger.Debug("sink append", zap.String("path", c.path), zap.Int("rows", len(rows)))
	return nil
}

// replaceWith stages content next to the destination and renames it into
// place.
func (c *CSV) replaceWith(content []byte) error {
	dir := filepath.Dir(c.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(c.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp sink file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp sink file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp sink file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp sink file: %w", err)
	}
	if err := os.Rename(tmpName, c.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename sink file: %w", err)
	}
	return nil
}
