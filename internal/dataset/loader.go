package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/xuri/excelize/v2"
)

// ErrNotFound marks a dataset name that does not resolve to a readable file
// in the data directory.
var ErrNotFound = errors.New("dataset not found")

// ErrBadName marks a dataset name rejected before touching the filesystem.
var ErrBadName = errors.New("invalid dataset name")

// Info describes one dataset file available to the loader.
type Info struct {
	Name    string
	Format  string
	Size    int64
	ModTime time.Time
}

// Loader reads tabular datasets from a single data directory and caches the
// decoded tables. Safe for concurrent use.
type Loader struct {
	dir    string
	cache  *ristretto.Cache
	logger *slog.Logger
}

// NewLoader builds a loader over the given data directory. The directory is
// not required to exist yet; readiness checks and Load report that later.
func NewLoader(dir string, logger *slog.Logger) (*Loader, error) {
	if dir == "" {
		return nil, fmt.Errorf("dataset: data directory not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e4,
		MaxCost:     1 << 28,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, fmt.Errorf("dataset: build cache: %w", err)
	}
	return &Loader{dir: dir, cache: cache, logger: logger}, nil
}

// Dir returns the data directory the loader reads from.
func (l *Loader) Dir() string { return l.dir }

// Close releases the cache.
func (l *Loader) Close() {
	l.cache.Close()
}

// CacheStats returns the cache hit and miss counters since startup.
func (l *Loader) CacheStats() (hits, misses uint64) {
	m := l.cache.Metrics
	return m.Hits(), m.Misses()
}

// List returns the loadable datasets in the data directory, sorted by name.
func (l *Loader) List(ctx context.Context) ([]Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("dataset: read directory %s: %w", l.dir, err)
	}

	var out []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		format, ok := formatOf(name)
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:    name,
			Format:  format,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	l.logger.DebugContext(ctx, "datasets listed",
		slog.String("directory", l.dir),
		slog.Int("count", len(out)))
	return out, nil
}

// Load reads one dataset by file name, serving repeated loads of an
// unchanged file from cache.
func (l *Loader) Load(ctx context.Context, name string) (*Table, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(l.dir, name)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("dataset %q: stat: %w", name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}

	key := fmt.Sprintf("%s|%d|%d", name, info.ModTime().UnixNano(), info.Size())
	if hit, ok := l.cache.Get(key); ok {
		l.logger.DebugContext(ctx, "dataset cache hit", slog.String("dataset", name))
		return hit.(*Table), nil
	}

	start := time.Now()
	format, _ := formatOf(name)
	var table *Table
	switch format {
	case "csv":
		table, err = readCSV(path)
	case "xlsx":
		table, err = readXLSX(path)
	}
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}
	table.Name = name

	l.cache.Set(key, table, table.cost())
	l.logger.InfoContext(ctx, "dataset loaded",
		slog.String("dataset", name),
		slog.String("format", format),
		slog.Int("rows", table.Rows),
		slog.Int("columns", len(table.Columns)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))
	return table, nil
}

// ValidateName rejects dataset names that could escape the data directory or
// that name a format the loader does not read.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("dataset: empty name: %w", ErrBadName)
	}
	if strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return fmt.Errorf("dataset: name %q contains a path separator: %w", name, ErrBadName)
	}
	if strings.Contains(name, "..") {
		return fmt.Errorf("dataset: name %q contains a parent reference: %w", name, ErrBadName)
	}
	if strings.HasPrefix(name, "~$") {
		return fmt.Errorf("dataset: name %q is an editor temp file: %w", name, ErrBadName)
	}
	if _, ok := formatOf(name); !ok {
		return fmt.Errorf("dataset: name %q has an unsupported extension, want .csv or .xlsx: %w", name, ErrBadName)
	}
	return nil
}

// formatOf maps a file name to its dataset format.
func formatOf(name string) (string, bool) {
	if strings.HasPrefix(filepath.Base(name), "~$") {
		return "", false
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "csv", true
	case ".xlsx":
		return "xlsx", true
	}
	return "", false
}

// readCSV decodes a CSV file, header row first. Ragged rows are tolerated
// and padded with missing cells.
func readCSV(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	return tableFromRows(rows)
}

// readXLSX decodes the first sheet of an xlsx workbook, header row first.
func readXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return tableFromRows(rows)
}
