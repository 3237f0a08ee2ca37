package services

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"surveykit/internal/dataset"
	"surveykit/internal/infrastructure"
	api "surveykit/pkg/contracts/api/v1"
)

// columnSampleSize is how many distinct values Inspect reports per column.
const columnSampleSize = 5

// DatasetService serves dataset discovery so callers can see what is
// loadable and which columns a request may reference.
type DatasetService struct {
	loader  *dataset.Loader
	metrics *infrastructure.BusinessMetrics
	logger  *slog.Logger
}

// NewDatasetService creates a dataset service. metrics may be nil.
func NewDatasetService(loader *dataset.Loader, metrics *infrastructure.BusinessMetrics, logger *slog.Logger) *DatasetService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DatasetService{loader: loader, metrics: metrics, logger: logger}
}

// List returns every loadable dataset in the data directory.
func (s *DatasetService) List(ctx context.Context) (*api.DatasetListResponse, error) {
	infos, err := s.loader.List(ctx)
	if err != nil {
		return nil, err
	}
	out := &api.DatasetListResponse{
		Datasets: make([]api.DatasetSummary, len(infos)),
		Count:    len(infos),
	}
	for i, info := range infos {
		out.Datasets[i] = api.DatasetSummary{
			Name:       info.Name,
			Format:     info.Format,
			SizeBytes:  info.Size,
			ModifiedAt: info.ModTime,
		}
	}
	return out, nil
}

// Inspect loads one dataset and reports its inferred schema: column names,
// types, missing-value counts, and a few sample values.
func (s *DatasetService) Inspect(ctx context.Context, name string) (*api.DatasetDetail, error) {
	table, err := s.loader.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.DatasetLoads.Add(ctx, 1)
	}

	detail := &api.DatasetDetail{
		Name:    table.Name,
		Format:  strings.TrimPrefix(filepath.Ext(table.Name), "."),
		Rows:    table.Rows,
		Columns: make([]api.ColumnInfo, len(table.Columns)),
	}
	for i := range table.Columns {
		col := &table.Columns[i]
		detail.Columns[i] = api.ColumnInfo{
			Name:    col.Name,
			Type:    col.Kind.String(),
			Missing: col.MissingCount(),
			Sample:  col.SampleValues(columnSampleSize),
		}
	}

	s.logger.DebugContext(ctx, "dataset inspected",
		slog.String("dataset", name),
		slog.Int("rows", detail.Rows),
		slog.Int("columns", len(detail.Columns)),
	)
	return detail, nil
}
