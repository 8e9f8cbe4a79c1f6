// Package importer bulk-loads conference venue names from a DBLP XML dump
// into the venue store.
package importer

import (
	"bufio"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppiankov/rankme/internal/model"
	"github.com/ppiankov/rankme/internal/store"
	"github.com/ppiankov/rankme/internal/venue"
	"github.com/ppiankov/rankme/internal/worker"
)

// Resolver maps a venue reference to its full name, "" when unknown.
type Resolver interface {
	ResolveFullName(ctx context.Context, ref string) string
}

// Options configures an import run.
type Options struct {
	Workers   int
	BatchSize int
	// MD5File, when set, names a "<hex>  <file>" checksum file the dump
	// must match before parsing starts.
	MD5File string
}

// Stats summarises an import run.
type Stats struct {
	Proceedings int `json:"proceedings"`
	Existing    int `json:"existing"`
	Resolved    int `json:"resolved"`
	Fallback    int `json:"fallback"`
	Saved       int `json:"saved"`
}

// Importer walks the proceedings of a dump and records the full name of
// every conference venue not yet in the store.
type Importer struct {
	store    store.VenueStore
	resolver Resolver
	opts     Options
	logger   zerolog.Logger
}

// New creates a new Importer
func New(s store.VenueStore, r Resolver, opts Options, logger zerolog.Logger) *Importer {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Importer{
		store:    s,
		resolver: r,
		opts:     opts,
		logger:   logger.With().Str("component", "importer").Logger(),
	}
}

// Run imports the dump at path, plain or gzip-compressed.
func (im *Importer) Run(ctx context.Context, path string) (Stats, error) {
	var stats Stats
	start := time.Now()

	if im.opts.MD5File != "" {
		if err := VerifyMD5(path, im.opts.MD5File); err != nil {
			return stats, err
		}
		im.logger.Info().Str("file", path).Msg("checksum verified")
	}

	procs, err := im.scan(path)
	if err != nil {
		return stats, err
	}
	stats.Proceedings = len(procs)

	todo, err := im.missing(ctx, procs)
	if err != nil {
		return stats, err
	}
	stats.Existing = len(procs) - len(todo)
	im.logger.Info().
		Int("proceedings", stats.Proceedings).
		Int("existing", stats.Existing).
		Int("pending", len(todo)).
		Msg("starting venue lookup")

	if err := im.resolveAll(ctx, todo, &stats); err != nil {
		return stats, err
	}

	im.logger.Info().
		Int("saved", stats.Saved).
		Int("fallback", stats.Fallback).
		Dur("elapsed", time.Since(start)).
		Msg("import complete")
	return stats, nil
}

func (im *Importer) scan(path string) ([]Proceeding, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dump: %w", err)
	}
	defer func() { _ = f.Close() }()

	r, err := decompress(f)
	if err != nil {
		return nil, err
	}
	procs, err := ScanProceedings(r)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return procs, nil
}

// decompress returns a gzip reader when r starts with the gzip magic bytes.
func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("open gzip dump: %w", err)
		}
		return zr, nil
	}
	return br, nil
}

func (im *Importer) missing(ctx context.Context, procs []Proceeding) ([]Proceeding, error) {
	var todo []Proceeding
	for _, p := range procs {
		_, err := im.store.Find(ctx, p.Reference)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup %s: %w", p.Reference, err)
		}
		todo = append(todo, p)
	}
	return todo, nil
}

func (im *Importer) resolveAll(ctx context.Context, todo []Proceeding, stats *Stats) error {
	if len(todo) == 0 {
		return nil
	}

	pool := worker.NewPool(ctx, im.opts.Workers)
	pool.Start()
	defer pool.Shutdown()

	go func() {
		defer pool.Close()
		for _, p := range todo {
			if err := pool.Submit(&resolveJob{proc: p, resolver: im.resolver}); err != nil {
				return
			}
		}
	}()

	batcher := worker.NewBatcher(im.opts.BatchSize, func(ctx context.Context, recs []model.VenueRecord) error {
		return im.store.SaveBatch(ctx, recs)
	})
	progress := newProgress(im.logger, len(todo))

	done := 0
	for res := range pool.Results() {
		r := res.(*resolveResult)
		done++
		progress.update(done)

		name := r.name
		if name == "" || name == venue.FullTitleUnavailable {
			name = r.proc.Title
			stats.Fallback++
		} else {
			stats.Resolved++
		}
		if name == "" {
			continue
		}
		if err := batcher.Add(ctx, model.VenueRecord{Reference: r.proc.Reference, FullName: name}); err != nil {
			return err
		}
		stats.Saved = batcher.Flushed()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := batcher.Flush(ctx); err != nil {
		return err
	}
	stats.Saved = batcher.Flushed()
	return nil
}

type resolveJob struct {
	proc     Proceeding
	resolver Resolver
}

func (j *resolveJob) Execute(ctx context.Context) worker.Result {
	return &resolveResult{proc: j.proc, name: j.resolver.ResolveFullName(ctx, j.proc.Reference)}
}

type resolveResult struct {
	proc Proceeding
	name string
}

// GetError is always nil; resolution failures fall back to the title.
func (r *resolveResult) GetError() error { return nil }

// progress logs once per whole percent.
type progress struct {
	logger zerolog.Logger
	total  int
	last   int
}

func newProgress(logger zerolog.Logger, total int) *progress {
	return &progress{logger: logger, total: total, last: -1}
}

func (p *progress) update(current int) {
	if p.total <= 0 {
		return
	}
	pct := current * 100 / p.total
	if pct == p.last {
		return
	}
	p.last = pct
	p.logger.Info().Int("done", current).Int("total", p.total).Msgf("venue lookup: %d%%", pct)
}

// VerifyMD5 compares the md5 of path with the first token of md5File.
func VerifyMD5(path, md5File string) error {
	want, err := os.ReadFile(md5File)
	if err != nil {
		return fmt.Errorf("read checksum: %w", err)
	}
	fields := strings.Fields(string(want))
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty checksum file", ErrChecksumMismatch)
	}

	got, err := fileMD5(path)
	if err != nil {
		return err
	}
	if !strings.EqualFold(got, fields[0]) {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, fields[0])
	}
	return nil
}
