package reviews

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultChunkSize = 2048

// caps simultaneously open source files during a chunk
const maxExtractWorkers = 64

var sourceFilePattern = regexp.MustCompile(`user_(\d+).*\.html`)

// UserIDFromPath derives the subject of a source file from its name. names
// that do not carry a user id are a hard error.
func UserIDFromPath(path string) (int64, error) {
	match := sourceFilePattern.FindStringSubmatch(filepath.Base(path))
	if match == nil {
		return 0, fmt.Errorf("invalid source file name: %s", path)
	}
	return strconv.ParseInt(match[1], 10, 64)
}

type IngestOptions struct {
	// ChunkSize is the number of source files merged per transaction,
	// DefaultChunkSize when zero
	ChunkSize int
	// RemoveIngested deletes source files once their chunk has committed
	RemoveIngested bool
}

type Stats struct {
	Candidates int
	// already ingested by an earlier run
	Skipped int
	Sources int
	Failed  int
	// distinct records merged over the whole run. an entity discovered
	// in several chunks counts once
	Users   int
	Authors int
	Books   int
	Ratings int
}

// runTally tracks which natural keys have already been counted so the
// stats stay distinct across chunk boundaries.
type runTally struct {
	users   map[int64]bool
	authors map[int64]bool
	books   map[int64]bool
	ratings map[ratingKey]bool
}

func newRunTally() *runTally {
	return &runTally{
		users:   map[int64]bool{},
		authors: map[int64]bool{},
		books:   map[int64]bool{},
		ratings: map[ratingKey]bool{},
	}
}

// RunIngest drives candidates through extract, dedup and merge in chunks.
// unparsable sources are logged and counted, their siblings are unaffected
// and they stay unmarked so a future run can retry them. a merge failure
// aborts the run with no partial chunk committed.
func RunIngest(ctx context.Context, store Store, candidates []string, opts IngestOptions) (Stats, error) {
	ctx, span := tracer.Start(ctx, "RunIngest", trace.WithAttributes(
		attribute.Int("candidates", len(candidates)),
	))
	defer span.End()

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	stats := Stats{Candidates: len(candidates)}

	pending, err := store.FilterUnprocessed(ctx, candidates)
	if err != nil {
		return stats, err
	}
	stats.Skipped = len(candidates) - len(pending)

	tally := newRunTally()
	for start := 0; start < len(pending); start += chunkSize {
		end := min(start+chunkSize, len(pending))

		err := ingestChunk(ctx, store, pending[start:end], opts.RemoveIngested, &stats, tally)
		if err != nil {
			return stats, err
		}
		slog.InfoContext(
			ctx, "chunk merged",
			"done", end,
			"pending", len(pending)-end,
			"failed", stats.Failed,
		)
	}

	return stats, nil
}

func ingestChunk(ctx context.Context, store Store, chunk []string, remove bool, stats *Stats, tally *runTally) error {
	batch := NewBatch()

	var mu sync.Mutex
	var wg sync.WaitGroup
	var ingested []string
	failed := 0

	sem := make(chan struct{}, maxExtractWorkers)
	for _, path := range chunk {
		wg.Add(1)
		sem <- struct{}{}
		go func(path string) {
			defer wg.Done()
			defer func() { <-sem }()

			err := extractSource(path, batch)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				slog.WarnContext(ctx, "source skipped", "path", path, "err", err)
				failed++
				return
			}
			ingested = append(ingested, path)
		}(path)
	}
	wg.Wait()

	err := store.MergeBatch(ctx, batch, ingested)
	if err != nil {
		return fmt.Errorf("merge chunk: %w", err)
	}

	stats.Sources += len(ingested)
	stats.Failed += failed
	for _, u := range batch.Users() {
		if !tally.users[u.ID] {
			tally.users[u.ID] = true
			stats.Users++
		}
	}
	for _, a := range batch.Authors() {
		if !tally.authors[a.ID] {
			tally.authors[a.ID] = true
			stats.Authors++
		}
	}
	for _, b := range batch.Books() {
		if !tally.books[b.ID] {
			tally.books[b.ID] = true
			stats.Books++
		}
	}
	for _, r := range batch.Ratings() {
		key := ratingKey{UserID: r.UserID, BookID: r.BookID}
		if !tally.ratings[key] {
			tally.ratings[key] = true
			stats.Ratings++
		}
	}

	if remove {
		for _, path := range ingested {
			err := os.Remove(path)
			if err != nil {
				slog.WarnContext(ctx, "failed to remove ingested source", "path", path, "err", err)
			}
		}
	}
	return nil
}

func extractSource(path string, batch *Batch) error {
	userID, err := UserIDFromPath(path)
	if err != nil {
		return err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	extraction, err := Extract(userID, body)
	var srcErr *SourceError
	if errors.As(err, &srcErr) {
		return srcErr
	}
	if err != nil {
		return err
	}

	batch.Add(extraction)
	return nil
}
