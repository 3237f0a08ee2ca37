// Command estimate-report runs one estimation over a local dataset file and
// prints the tidy result table, optionally writing a CSV or xlsx export.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"surveykit/internal/dataset"
	"surveykit/internal/estimator"
	"surveykit/internal/exporter"
	"surveykit/internal/services"
	"surveykit/internal/store"
	api "surveykit/pkg/contracts/api/v1"
)

func main() {
	input := flag.String("input", "", "dataset file to estimate over (csv or xlsx)")

	weight := flag.String("weight", "", "weight column (empty means weight 1)")
	stratum := flag.String("stratum", "", "stratum column (empty means one stratum)")
	cluster := flag.String("cluster", "", "cluster column (empty means record-level PSUs)")
	fpc := flag.String("fpc", "", "finite population correction column")

	stat := flag.String("stat", "", "statistic kind: total, mean, or ratio")
	response := flag.String("response", "", "response column for -stat")
	denominator := flag.String("denominator", "", "denominator column for -stat ratio")

	rateNum := flag.String("rate-numerator", "", "numerator column for a rate estimate")
	rateDen := flag.String("rate-denominator", "", "exposure column for a rate estimate")
	rateRule := flag.String("rate-rule", "", "rate combination rule: ratio_of_sums or mean_of_ratios")
	minExposure := flag.Float64("min-exposure", 0, "exposures below this threshold are flagged")

	method := flag.String("method", "", "variance method: linearization, bootstrap, jackknife, custom_replicate")
	replicates := flag.Int("replicates", 0, "replicate count for bootstrap")
	seed := flag.Int64("seed", 0, "random seed for replicate generation")
	confidence := flag.Float64("confidence", 0, "confidence level, e.g. 0.95")
	groupBy := flag.String("group-by", "", "comma-separated grouping columns")

	out := flag.String("out", "", "export file path (.csv or .xlsx)")
	format := flag.String("format", "", "export format: csv or xlsx (default from -out extension)")
	verbose := flag.Bool("v", false, "debug logging")

	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if *input == "" {
		logger.Error("missing required -input flag")
		flag.Usage()
		os.Exit(2)
	}

	req := api.EstimateRequest{
		Dataset: filepath.Base(*input),
		Design: api.DesignSpec{
			WeightColumn:  *weight,
			StratumColumn: *stratum,
			ClusterColumn: *cluster,
			FPCColumn:     *fpc,
		},
		Options: api.OptionsSpec{
			Method:          *method,
			NumReplicates:   *replicates,
			ConfidenceLevel: *confidence,
			Seed:            *seed,
		},
	}
	if *groupBy != "" {
		for _, col := range strings.Split(*groupBy, ",") {
			if col = strings.TrimSpace(col); col != "" {
				req.GroupBy = append(req.GroupBy, col)
			}
		}
	}

	switch {
	case *rateNum != "" || *rateDen != "":
		if *rateNum == "" || *rateDen == "" {
			logger.Error("rate estimates need both -rate-numerator and -rate-denominator")
			os.Exit(2)
		}
		req.Rate = &api.RateSpec{
			Numerator:   *rateNum,
			Denominator: *rateDen,
			Rule:        *rateRule,
			MinExposure: *minExposure,
		}
	case *stat != "":
		if *response == "" {
			logger.Error("-stat needs a -response column")
			os.Exit(2)
		}
		req.Statistic = &api.StatisticSpec{
			Kind:        *stat,
			Response:    *response,
			Denominator: *denominator,
		}
	default:
		logger.Error("nothing to estimate: set -stat or -rate-numerator/-rate-denominator")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(req, *input, *out, *format, logger); err != nil {
		logger.Error("estimation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(req api.EstimateRequest, input, out, format string, logger *slog.Logger) error {
	ctx := context.Background()

	loader, err := dataset.NewLoader(filepath.Dir(input), logger)
	if err != nil {
		return fmt.Errorf("open dataset directory: %w", err)
	}
	defer loader.Close()

	// One-shot runs still go through the run store so the service records
	// them the same way the server does; the store is throwaway.
	tmpDir, err := os.MkdirTemp("", "estimate-report-")
	if err != nil {
		return fmt.Errorf("create temp directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	st, err := store.Open(filepath.Join(tmpDir, "runs.db"), logger)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer st.Close()

	svc := services.NewEstimationService(loader, st, nil, logger)

	resp, err := svc.Estimate(ctx, req)
	if err != nil {
		return err
	}

	stored, results, err := svc.RunTable(ctx, resp.RunID)
	if err != nil {
		return err
	}

	table := exporter.BuildTable(results)
	printTable(os.Stdout, table)
	for _, note := range resp.Notes {
		fmt.Fprintf(os.Stderr, "note: %s\n", note)
	}

	if out == "" {
		return nil
	}
	if err := writeExport(out, format, stored, results, table); err != nil {
		return err
	}
	logger.Info("export written",
		slog.String("path", out),
		slog.Int("rows", len(table.Records)))
	return nil
}

// printTable renders the tidy table aligned for terminals.
func printTable(w io.Writer, table exporter.Table) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(table.Headers, "\t"))
	for _, rec := range table.Records {
		fmt.Fprintln(tw, strings.Join(rec, "\t"))
	}
	tw.Flush()
}

func writeExport(out, format string, stored store.Run, results []estimator.Result, table exporter.Table) error {
	if format == "" {
		switch strings.ToLower(filepath.Ext(out)) {
		case ".xlsx":
			format = "xlsx"
		default:
			format = "csv"
		}
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}

	switch format {
	case "xlsx":
		err = exporter.WriteXLSX(f, stored, results)
	case "csv":
		err = exporter.WriteCSV(f, table, exporter.CSVOptions{})
	default:
		return fmt.Errorf("unknown export format %q (want csv or xlsx)", format)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("write %s export: %w", format, err)
	}
	return f.Close()
}
