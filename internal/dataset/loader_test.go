package dataset

import (
	"context"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestLoader(t *testing.T, dir string) *Loader {
	t.Helper()
	l, err := NewLoader(dir, testLogger())
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestLoaderLoadCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "creel.csv",
		"zone,weight,catch,notes\n"+
			"north,2,6,clear\n"+
			"south,3,,windy\n"+
			"north,2.5,NA,\n")

	l := newTestLoader(t, dir)
	table, err := l.Load(context.Background(), "creel.csv")
	require.NoError(t, err)

	assert.Equal(t, "creel.csv", table.Name)
	assert.Equal(t, 3, table.Rows)
	assert.Equal(t, []string{"zone", "weight", "catch", "notes"}, table.ColumnNames())

	zone, ok := table.Column("zone")
	require.True(t, ok)
	assert.Equal(t, KindLabel, zone.Kind)
	assert.Equal(t, []string{"north", "south", "north"}, zone.Labels)

	weight, ok := table.Column("weight")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, weight.Kind)
	assert.Equal(t, []float64{2, 3, 2.5}, weight.Numeric)

	catch, ok := table.Column("catch")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, catch.Kind)
	assert.Equal(t, 6.0, catch.Numeric[0])
	assert.True(t, math.IsNaN(catch.Numeric[1]))
	assert.True(t, math.IsNaN(catch.Numeric[2]))
	assert.Equal(t, 2, catch.MissingCount())

	notes, ok := table.Column("notes")
	require.True(t, ok)
	assert.Equal(t, KindLabel, notes.Kind)
	assert.Equal(t, "", notes.Labels[2])
}

func TestLoaderTypeInference(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mixed.csv",
		"site,anglers,effort\n"+
			"A1,\"1,250\",3.5\n"+
			"7,80,n/a\n")

	l := newTestLoader(t, dir)
	table, err := l.Load(context.Background(), "mixed.csv")
	require.NoError(t, err)

	// One non-numeric cell keeps the whole column a label column.
	site, _ := table.Column("site")
	assert.Equal(t, KindLabel, site.Kind)
	assert.Equal(t, []string{"A1", "7"}, site.Labels)

	anglers, _ := table.Column("anglers")
	assert.Equal(t, KindNumeric, anglers.Kind)
	assert.Equal(t, 1250.0, anglers.Numeric[0])

	effort, _ := table.Column("effort")
	assert.Equal(t, KindNumeric, effort.Kind)
	assert.True(t, math.IsNaN(effort.Numeric[1]))
}

func TestLoaderStripsByteOrderMark(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bom.csv", "\uFEFFzone,weight\nnorth,1\n")

	l := newTestLoader(t, dir)
	table, err := l.Load(context.Background(), "bom.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{"zone", "weight"}, table.ColumnNames())
}

func TestLoaderLoadXLSX(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "survey.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"day", "count", "wind"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{"mon", 14, "low"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{"tue", 9.5, ""}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	l := newTestLoader(t, dir)
	table, err := l.Load(context.Background(), "survey.xlsx")
	require.NoError(t, err)

	assert.Equal(t, 2, table.Rows)
	count, ok := table.Column("count")
	require.True(t, ok)
	assert.Equal(t, KindNumeric, count.Kind)
	assert.Equal(t, []float64{14, 9.5}, count.Numeric)

	day, _ := table.Column("day")
	assert.Equal(t, []string{"mon", "tue"}, day.Labels)
}

func TestLoaderCache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "creel.csv", "zone,weight\nnorth,1\n")

	l := newTestLoader(t, dir)
	ctx := context.Background()

	first, err := l.Load(ctx, "creel.csv")
	require.NoError(t, err)
	l.cache.Wait()

	second, err := l.Load(ctx, "creel.csv")
	require.NoError(t, err)
	assert.Same(t, first, second)

	hits, misses := l.CacheStats()
	assert.GreaterOrEqual(t, hits, uint64(1))
	assert.GreaterOrEqual(t, misses, uint64(1))
}

func TestLoaderCacheKeyTracksFileChanges(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "creel.csv", "zone,weight\nnorth,1\n")

	l := newTestLoader(t, dir)
	ctx := context.Background()

	first, err := l.Load(ctx, "creel.csv")
	require.NoError(t, err)
	require.Equal(t, 1, first.Rows)
	l.cache.Wait()

	// Rewrite with more rows; the size change forces a reload even when the
	// filesystem's mtime granularity hides the update.
	writeFile(t, dir, "creel.csv", "zone,weight\nnorth,1\nsouth,2\n")

	second, err := l.Load(ctx, "creel.csv")
	require.NoError(t, err)
	assert.Equal(t, 2, second.Rows)
}

func TestLoaderList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.xlsx", "stub")
	writeFile(t, dir, "a.csv", "x\n1\n")
	writeFile(t, dir, "notes.txt", "not a dataset")
	writeFile(t, dir, "~$b.xlsx", "editor lock")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o755))

	l := newTestLoader(t, dir)
	infos, err := l.List(context.Background())
	require.NoError(t, err)

	require.Len(t, infos, 2)
	assert.Equal(t, "a.csv", infos[0].Name)
	assert.Equal(t, "csv", infos[0].Format)
	assert.Equal(t, "b.xlsx", infos[1].Name)
	assert.Equal(t, "xlsx", infos[1].Format)
	assert.NotZero(t, infos[0].Size)
	assert.False(t, infos[0].ModTime.IsZero())
}

func TestLoaderNotFound(t *testing.T) {
	l := newTestLoader(t, t.TempDir())
	_, err := l.Load(context.Background(), "missing.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		dataset string
		wantErr bool
	}{
		{name: "plain csv", dataset: "creel.csv"},
		{name: "xlsx with spaces", dataset: "Catch Survey 2025.xlsx"},
		{name: "empty", dataset: "", wantErr: true},
		{name: "path separator", dataset: "sub/creel.csv", wantErr: true},
		{name: "windows separator", dataset: `sub\creel.csv`, wantErr: true},
		{name: "parent reference", dataset: "..creel.csv", wantErr: true},
		{name: "traversal", dataset: "../etc/passwd.csv", wantErr: true},
		{name: "editor temp file", dataset: "~$creel.xlsx", wantErr: true},
		{name: "unsupported extension", dataset: "creel.txt", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.dataset)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrBadName)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoaderHeaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "empty column name",
			content: "zone,,catch\nnorth,1,2\n",
			wantErr: "empty column name",
		},
		{
			name:    "duplicate column name",
			content: "zone,zone\nnorth,south\n",
			wantErr: "duplicate column name",
		},
		{
			name:    "row wider than header",
			content: "zone,catch\nnorth,2,extra\n",
			wantErr: "cells",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "bad.csv", tt.content)
			l := newTestLoader(t, dir)
			_, err := l.Load(context.Background(), "bad.csv")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoaderHeaderOnlyFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "empty.csv", "zone,weight\n")

	l := newTestLoader(t, dir)
	table, err := l.Load(context.Background(), "empty.csv")
	require.NoError(t, err)
	assert.Equal(t, 0, table.Rows)
	assert.Len(t, table.Columns, 2)
}

func TestColumnSampleValues(t *testing.T) {
	col := Column{
		Name:   "zone",
		Kind:   KindLabel,
		Labels: []string{"north", "", "south", "north", "east"},
	}
	assert.Equal(t, []string{"north", "south"}, col.SampleValues(2))
	assert.Equal(t, []string{"north", "south", "east"}, col.SampleValues(10))

	nums := Column{
		Name:    "month",
		Kind:    KindNumeric,
		Numeric: []float64{5, math.NaN(), 6, 5},
	}
	assert.Equal(t, []string{"5", "6"}, nums.SampleValues(10))
}
