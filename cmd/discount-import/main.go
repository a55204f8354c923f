package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/boutique-orders/internal/domain/discount"
	"github.com/xenking/boutique-orders/internal/storage/postgres"
)

const (
	bloomFPR      = 0.001
	batchSize     = 1000
	progressEvery = 100_000
)

// fileResult holds the rows of one file after pass 2.
type fileResult struct {
	// kept are rows no later file defines.
	kept []discount.Discount
	// contested are rows whose code a later file probably defines too.
	contested []discount.Discount
	rejected  int
}

func main() {
	var (
		dataDir     string
		pattern     string
		databaseURL string
		expected    uint
		dryRun      bool
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing the discount files")
	flag.StringVar(&pattern, "pattern", "discounts*.csv.gz", "glob of gzip CSV files; later files (by name) win on duplicate codes")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.UintVar(&expected, "expected-codes", 1_000_000, "expected number of codes per file, sizes the bloom filters")
	flag.BoolVar(&dryRun, "dry-run", false, "parse and deduplicate without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, pattern, databaseURL, expected, dryRun); err != nil {
		slog.Error("discount import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("discount import completed successfully")
}

func run(ctx context.Context, dataDir, pattern, databaseURL string, expected uint, dryRun bool) error {
	files, err := filepath.Glob(filepath.Join(dataDir, pattern))
	if err != nil {
		return errors.Wrap(err, "list files")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %s in %s", pattern, dataDir)
	}
	sort.Strings(files)

	discounts, err := collect(ctx, files, expected)
	if err != nil {
		return err
	}

	slog.Info("discounts to import", slog.Int("count", len(discounts)))

	if dryRun || len(discounts) == 0 {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewDiscountRepository(pool)
	for i, chunk := range slices.Collect(slices.Chunk(discounts, batchSize)) {
		if err := repo.UpsertBatch(ctx, chunk); err != nil {
			return errors.Wrapf(err, "write batch %d", i)
		}
		slog.Info("write progress", slog.Int("written", min((i+1)*batchSize, len(discounts))), slog.Int("total", len(discounts)))
	}

	return nil
}

// collect reads files and returns one discount per code, taken from the last
// file defining it.
func collect(ctx context.Context, files []string, expected uint) ([]discount.Discount, error) {
	// Pass 1: Build bloom filters concurrently.
	slog.Info("pass 1: building bloom filters", slog.Int("files", len(files)))

	filters, err := buildBloomFilters(ctx, files, expected)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	// Pass 2: Parse rows, setting aside those a later file may override.
	slog.Info("pass 2: parsing rows")

	results, err := parseFiles(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "parse files")
	}

	return resolve(results), nil
}

// resolve merges per-file results. A kept row has no later definition, so
// it wins over every contested row of the same code; among contested rows
// the latest file wins. Bloom false positives leave a code contested in a
// single file, which then simply survives.
func resolve(results []fileResult) []discount.Discount {
	var (
		out      []discount.Discount
		keptCode = make(map[string]struct{})
		rejected int
	)
	for _, r := range results {
		for _, d := range r.kept {
			keptCode[d.Code] = struct{}{}
			out = append(out, d)
		}
		rejected += r.rejected
	}

	latest := make(map[string]discount.Discount)
	for _, r := range results {
		for _, d := range r.contested {
			if _, ok := keptCode[d.Code]; ok {
				continue
			}
			latest[d.Code] = d
		}
	}
	for _, d := range latest {
		out = append(out, d)
	}

	slog.Info("resolved duplicates",
		slog.Int("unique", len(out)),
		slog.Int("contested", len(latest)),
		slog.Int("rejected_rows", rejected),
	)

	slices.SortFunc(out, func(a, b discount.Discount) int {
		switch {
		case a.Code < b.Code:
			return -1
		case a.Code > b.Code:
			return 1
		}
		return 0
	})
	return out
}

// buildBloomFilters creates one bloom filter of codes per file, concurrently.
func buildBloomFilters(ctx context.Context, files []string, expected uint) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(expected, bloomFPR)
			var count int

			err := streamGzCSV(ctx, f, func(rec []string) {
				if len(rec) == 0 {
					return
				}
				filter.AddString(discount.NormalizeCode(rec[colCode]))
				count++
				if count%progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", f), slog.Int("rows", count))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for %s", f)
			}

			slog.Info("pass 1 complete", slog.String("file", f), slog.Int("rows", count))
			filters[i] = filter
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// parseFiles parses every file concurrently, checking each code against the
// filters of later files.
func parseFiles(ctx context.Context, files []string, filters []*bloom.BloomFilter) ([]fileResult, error) {
	results := make([]fileResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(func() error {
			// Within a file the last row of a code wins.
			rows := make(map[string]discount.Discount)
			var (
				order    []string
				rejected int
			)

			err := streamGzCSV(ctx, f, func(rec []string) {
				d, err := parseRow(rec)
				if err != nil {
					rejected++
					slog.Debug("row rejected", slog.String("file", f), slog.String("error", err.Error()))
					return
				}
				if _, ok := rows[d.Code]; !ok {
					order = append(order, d.Code)
				}
				rows[d.Code] = d
			})
			if err != nil {
				return errors.Wrapf(err, "parse %s", f)
			}

			var r fileResult
			r.rejected = rejected
			for _, code := range order {
				d := rows[code]
				if laterContains(filters, i, code) {
					r.contested = append(r.contested, d)
				} else {
					r.kept = append(r.kept, d)
				}
			}

			slog.Info("pass 2 complete",
				slog.String("file", f),
				slog.Int("kept", len(r.kept)),
				slog.Int("contested", len(r.contested)),
				slog.Int("rejected", rejected),
			)
			results[i] = r
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func laterContains(filters []*bloom.BloomFilter, idx int, code string) bool {
	for _, f := range filters[idx+1:] {
		if f.TestString(code) {
			return true
		}
	}
	return false
}

// streamGzCSV opens a gzip-compressed CSV file and calls fn for each record
// after the header.
func streamGzCSV(ctx context.Context, path string, fn func(rec []string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	r := csv.NewReader(gz)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if header {
			header = false
			continue
		}
		fn(rec)
	}
}
