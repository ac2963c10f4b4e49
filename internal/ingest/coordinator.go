// Package ingest streams a delimited catalog file through row validation
// and batched upserts while publishing progress after every batch.
package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"catalogsync/internal/progress"
	"catalogsync/internal/repository"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
)

var (
	// ErrStorage wraps failures of the product store during a batch.
	ErrStorage = errors.New("product store failure")
	// ErrStopped is returned when a stop was requested between batches.
	ErrStopped = errors.New("ingestion stopped before completion")
	// ErrUnterminatedQuote means a quoted field ran to the end of the file.
	ErrUnterminatedQuote = errors.New("unterminated quoted field")
)

const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
)

// Upserter is the write side of the product store.
type Upserter interface {
	UpsertBatch(ctx context.Context, rows []repository.ProductInput) (repository.UpsertCounts, error)
}

type ProgressWriter interface {
	Put(ctx context.Context, rec progress.Record) error
}

// Observer receives per-batch statistics.
type Observer interface {
	ObserveBatch(created, updated, invalid int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveBatch(int, int, int, time.Duration) {}

type Options struct {
	BatchSize       int
	MaxErrorDetails int
}

func DefaultOptions() Options {
	return Options{BatchSize: 1000, MaxErrorDetails: 100}
}

type Coordinator struct {
	products Upserter
	progress ProgressWriter
	observer Observer
	opts     Options
}

func NewCoordinator(products Upserter, progress ProgressWriter, opts Options, observer Observer) *Coordinator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultOptions().BatchSize
	}
	if opts.MaxErrorDetails < 0 {
		opts.MaxErrorDetails = 0
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Coordinator{products: products, progress: progress, observer: observer, opts: opts}
}

// Request describes one ingestion run.
type Request struct {
	TaskID  string
	Attempt int
	Source  io.Reader
	// Size is the source length in bytes, or 0 when unknown.
	Size int64
	// Stop is closed to ask for a graceful stop at the next batch boundary.
	Stop <-chan struct{}
}

// Result is the outcome of a run. On failure it carries the totals
// accumulated before the failing batch.
type Result struct {
	Status        string     `json:"status"`
	TotalRows     int        `json:"total_rows"`
	ProcessedRows int        `json:"processed_rows"`
	Created       int        `json:"created"`
	Updated       int        `json:"updated"`
	Errors        int        `json:"errors"`
	ErrorDetails  []RowError `json:"error_details"`
	Error         string     `json:"error,omitempty"`
}

func (r *Result) addRowError(e RowError, limit int) {
	r.Errors++
	if len(r.ErrorDetails) < limit {
		r.ErrorDetails = append(r.ErrorDetails, e)
	}
}

type run struct {
	c      *Coordinator
	req    Request
	src    *bufio.Reader
	tail   *tailReader
	reader *csv.Reader
	res    *Result
	log    *zap.Logger
}

// tailReader remembers the last byte read from the source that is not a
// line terminator.
type tailReader struct {
	r    io.Reader
	last byte
}

func (t *tailReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	for i := n - 1; i >= 0; i-- {
		if p[i] != '\n' && p[i] != '\r' {
			t.last = p[i]
			break
		}
	}
	return n, err
}

// Run consumes req.Source to completion. Row problems are recorded in the
// result; header, read and storage problems end the run with an error.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{ErrorDetails: []RowError{}}

	// csv.NewReader keeps src as its buffer, so src.Peek sees what the
	// parser has not consumed yet.
	tail := &tailReader{r: req.Source}
	src := bufio.NewReader(tail)
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true
	// Stray quotes are kept as literal text, as spreadsheet exports expect.
	r.LazyQuotes = true

	rn := &run{c: c, req: req, src: src, tail: tail, reader: r, res: res, log: logger.With(zap.String("task_id", req.TaskID))}
	err := rn.execute(ctx)
	switch {
	case err == nil:
		res.Status = StatusCompleted
	case errors.Is(err, ErrStopped):
		res.Status = StatusStopped
		res.Error = err.Error()
	default:
		res.Status = StatusFailed
		res.Error = err.Error()
	}
	return res, err
}

func (rn *run) execute(ctx context.Context) error {
	head, err := rn.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrNoHeader
		}
		return fmt.Errorf("read header: %w", err)
	}
	header, err := ParseHeader(head)
	if err != nil {
		return err
	}

	rn.publish(ctx, progress.StateStarted, "processing started", nil)

	batchSize := rn.c.opts.BatchSize
	batch := make([]repository.ProductInput, 0, batchSize)
	rowsInBatch, invalidInBatch := 0, 0
	row := 1

	for {
		record, err := rn.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err == nil {
			if err := rn.checkRunaway(record); err != nil {
				return err
			}
		}

		if err != nil {
			var pe *csv.ParseError
			if !errors.As(err, &pe) {
				return fmt.Errorf("read row %d: %w", row, err)
			}
			rn.res.addRowError(RowError{Row: row, Message: "malformed record: " + pe.Err.Error()}, rn.c.opts.MaxErrorDetails)
			invalidInBatch++
		} else if in, rowErr := ValidateRow(row, header.Values(record)); rowErr != nil {
			rn.res.addRowError(*rowErr, rn.c.opts.MaxErrorDetails)
			invalidInBatch++
		} else {
			batch = append(batch, in)
		}
		rowsInBatch++

		if rowsInBatch < batchSize {
			continue
		}
		if err := rn.flush(ctx, batch, rowsInBatch, invalidInBatch); err != nil {
			return err
		}
		batch = batch[:0]
		rowsInBatch, invalidInBatch = 0, 0

		if err := rn.checkStop(ctx); err != nil {
			return err
		}
	}

	if rowsInBatch > 0 {
		if err := rn.flush(ctx, batch, rowsInBatch, invalidInBatch); err != nil {
			return err
		}
	}

	rn.res.TotalRows = rn.res.ProcessedRows
	done := 100.0
	rn.publish(ctx, progress.StateCompleted, "import completed", &done)
	rn.log.Info("ingestion finished",
		zap.Int("total_rows", rn.res.TotalRows),
		zap.Int("created", rn.res.Created),
		zap.Int("updated", rn.res.Updated),
		zap.Int("errors", rn.res.Errors))
	return nil
}

func (rn *run) flush(ctx context.Context, batch []repository.ProductInput, rows, invalid int) error {
	start := time.Now()
	var counts repository.UpsertCounts
	if len(batch) > 0 {
		var err error
		counts, err = rn.c.products.UpsertBatch(ctx, batch)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("%w: %w", ErrStorage, err)
		}
	}

	rn.res.Created += counts.Created
	rn.res.Updated += counts.Updated
	rn.res.ProcessedRows += rows
	rn.c.observer.ObserveBatch(counts.Created, counts.Updated, invalid, time.Since(start))

	rn.publish(ctx, progress.StateRunning, fmt.Sprintf("processed %d rows", rn.res.ProcessedRows), rn.percent())
	return nil
}

// checkRunaway rejects a record whose last field opened a quote that was
// never closed. With lazy quotes such a field silently absorbs every
// following line, so it only shows as a multi-line final field at the end
// of input that does not end in a quote.
func (rn *run) checkRunaway(record []string) error {
	if len(record) == 0 {
		return nil
	}
	last := len(record) - 1
	if !strings.Contains(record[last], "\n") || rn.tail.last == '"' {
		return nil
	}
	if _, err := rn.src.Peek(1); !errors.Is(err, io.EOF) {
		return nil
	}
	line, _ := rn.reader.FieldPos(last)
	return fmt.Errorf("%w starting at line %d", ErrUnterminatedQuote, line)
}

func (rn *run) checkStop(ctx context.Context) error {
	select {
	case <-rn.req.Stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// percent estimates completion from bytes consumed since the row total is
// unknown until the stream ends.
func (rn *run) percent() *float64 {
	if rn.req.Size <= 0 {
		return nil
	}
	p := float64(rn.reader.InputOffset()) / float64(rn.req.Size) * 100
	p = math.Min(math.Round(p*10)/10, 99.9)
	return &p
}

func (rn *run) publish(ctx context.Context, state progress.State, msg string, pct *float64) {
	if rn.c.progress == nil {
		return
	}
	rec := progress.Record{
		TaskID:  rn.req.TaskID,
		State:   state,
		Attempt: rn.req.Attempt,
		Current: rn.res.ProcessedRows,
		Created: rn.res.Created,
		Updated: rn.res.Updated,
		Errors:  rn.res.Errors,
		Percent: pct,
		Message: msg,
	}
	if state == progress.StateCompleted {
		total := rn.res.TotalRows
		rec.Total = &total
	}
	if err := rn.c.progress.Put(ctx, rec); err != nil {
		rn.log.Warn("progress write failed", zap.Error(err))
	}
}
