package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"catalogsync/internal/model"
	"catalogsync/internal/progress"
	"catalogsync/internal/repository"
	"catalogsync/pkg/logger"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func init() {
	logger.InitLogger("test")
}

type recordingProgress struct {
	mu      sync.Mutex
	records []progress.Record
}

func (p *recordingProgress) Put(_ context.Context, rec progress.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

type failingUpserter struct {
	inner     Upserter
	failAfter int
	calls     int
}

func (f *failingUpserter) UpsertBatch(ctx context.Context, rows []repository.ProductInput) (repository.UpsertCounts, error) {
	f.calls++
	if f.calls > f.failAfter {
		return repository.UpsertCounts{}, errors.New("connection reset")
	}
	return f.inner.UpsertBatch(ctx, rows)
}

func newProductRepo(t *testing.T) *repository.ProductRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "ingest.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Product{}))
	return repository.NewProductRepository(db)
}

func runCSV(t *testing.T, c *Coordinator, body string) (*Result, error) {
	t.Helper()
	return c.Run(context.Background(), Request{
		TaskID:  "task-1",
		Attempt: 1,
		Source:  strings.NewReader(body),
		Size:    int64(len(body)),
	})
}

func TestRun_ThreeRowScenario(t *testing.T) {
	repo := newProductRepo(t)
	c := NewCoordinator(repo, &recordingProgress{}, DefaultOptions(), nil)

	res, err := runCSV(t, c, "identifier,name,active\nP1,Widget,true\n,Missing Id,true\nP1,Widget Updated,false\n")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 3, res.TotalRows)
	require.Len(t, res.ErrorDetails, 1)
	assert.Equal(t, 3, res.ErrorDetails[0].Row)
	assert.Equal(t, "Missing Id", res.ErrorDetails[0].Data["name"])

	p, err := repo.GetByIdentifier(context.Background(), "P1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "Widget Updated", p.Name)
	assert.False(t, p.Active)
}

func TestRun_HeaderOnly(t *testing.T) {
	rec := &recordingProgress{}
	c := NewCoordinator(newProductRepo(t), rec, DefaultOptions(), nil)

	res, err := runCSV(t, c, "identifier,name\n")
	require.NoError(t, err)
	assert.Equal(t, Result{Status: StatusCompleted, ErrorDetails: []RowError{}}, *res)

	last := rec.records[len(rec.records)-1]
	assert.Equal(t, progress.StateCompleted, last.State)
	require.NotNil(t, last.Total)
	assert.Equal(t, 0, *last.Total)
}

func TestRun_MissingRequiredColumns(t *testing.T) {
	up := &failingUpserter{inner: newProductRepo(t), failAfter: 100}
	c := NewCoordinator(up, &recordingProgress{}, DefaultOptions(), nil)

	res, err := runCSV(t, c, "sku,title\nA,B\n")
	require.ErrorIs(t, err, ErrMissingColumns)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Zero(t, res.ProcessedRows)
	assert.Zero(t, up.calls)
}

func TestRun_EmptyFile(t *testing.T) {
	c := NewCoordinator(newProductRepo(t), nil, DefaultOptions(), nil)
	_, err := runCSV(t, c, "")
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestRun_RowIsolationAndMonotonicProgress(t *testing.T) {
	var b strings.Builder
	b.WriteString("Identifier , NAME ,description\n")
	valid, invalid := 0, 0
	for i := 0; i < 23; i++ {
		switch i % 4 {
		case 1:
			b.WriteString(fmt.Sprintf(",no id %d,\n", i))
			invalid++
		case 2:
			b.WriteString(fmt.Sprintf("SKU-%d,,\n", i))
			invalid++
		default:
			b.WriteString(fmt.Sprintf("SKU-%d,Item %d,desc\n", i, i))
			valid++
		}
	}

	rec := &recordingProgress{}
	c := NewCoordinator(newProductRepo(t), rec, Options{BatchSize: 5, MaxErrorDetails: 100}, nil)
	res, err := runCSV(t, c, b.String())
	require.NoError(t, err)

	assert.Equal(t, valid, res.Created+res.Updated)
	assert.Equal(t, invalid, res.Errors)
	assert.Equal(t, 23, res.TotalRows)

	// started + 5 batch boundaries + completed
	require.Len(t, rec.records, 7)
	prev := -1
	for _, r := range rec.records {
		assert.GreaterOrEqual(t, r.Current, prev)
		prev = r.Current
		if r.Percent != nil {
			assert.LessOrEqual(t, *r.Percent, 100.0)
		}
	}
	assert.Equal(t, progress.StateStarted, rec.records[0].State)
	assert.Equal(t, progress.StateCompleted, rec.records[6].State)
}

func TestRun_IdempotentReimport(t *testing.T) {
	repo := newProductRepo(t)
	c := NewCoordinator(repo, nil, Options{BatchSize: 2}, nil)
	body := "identifier,name\nABC-1,One\nabc-2,Two\nXyZ,Three\n"

	first, err := runCSV(t, c, body)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	second, err := runCSV(t, c, strings.ToUpper(body))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Updated)

	n, err := repo.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestRun_StorageFailureKeepsPartialTotals(t *testing.T) {
	up := &failingUpserter{inner: newProductRepo(t), failAfter: 1}
	c := NewCoordinator(up, nil, Options{BatchSize: 2}, nil)

	res, err := runCSV(t, c, "identifier,name\nA,a\nB,b\nC,c\nD,d\n")
	require.ErrorIs(t, err, ErrStorage)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 2, res.ProcessedRows)
	assert.Contains(t, res.Error, "connection reset")
}

func TestRun_StopBetweenBatches(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	c := NewCoordinator(newProductRepo(t), nil, Options{BatchSize: 2}, nil)

	body := "identifier,name\nA,a\nB,b\nC,c\n"
	res, err := c.Run(context.Background(), Request{TaskID: "t", Source: strings.NewReader(body), Stop: stop})
	require.ErrorIs(t, err, ErrStopped)
	assert.Equal(t, StatusStopped, res.Status)
	assert.Equal(t, 2, res.ProcessedRows)
}

func TestRun_ErrorDetailsCapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("identifier,name\n")
	for i := 0; i < 12; i++ {
		b.WriteString(",nameless\n")
	}
	c := NewCoordinator(newProductRepo(t), nil, Options{BatchSize: 5, MaxErrorDetails: 4}, nil)

	res, err := runCSV(t, c, b.String())
	require.NoError(t, err)
	assert.Equal(t, 12, res.Errors)
	assert.Len(t, res.ErrorDetails, 4)
}

func TestRun_StrayQuoteIsKeptLiterally(t *testing.T) {
	repo := newProductRepo(t)
	c := NewCoordinator(repo, nil, DefaultOptions(), nil)
	res, err := runCSV(t, c, "identifier,name\nA,a\nB,12\" screen\nC,c\n")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Errors)

	p, err := repo.GetByIdentifier(context.Background(), "B")
	require.NoError(t, err)
	assert.Equal(t, `12" screen`, p.Name)
}

func TestRun_QuotedMultilineFieldAtEnd(t *testing.T) {
	c := NewCoordinator(newProductRepo(t), nil, DefaultOptions(), nil)
	res, err := runCSV(t, c, "identifier,name,description\nA,a,\"line one\nline two\"")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
}

func TestRun_UnterminatedQuoteFailsRun(t *testing.T) {
	prog := &recordingProgress{}
	c := NewCoordinator(newProductRepo(t), prog, Options{BatchSize: 2}, nil)
	body := "identifier,name,description\nA,a,\nB,b,\"open\nC,c,\nD,d,\nE,e,\n"

	res, err := runCSV(t, c, body)
	require.ErrorIs(t, err, ErrUnterminatedQuote)
	assert.Contains(t, err.Error(), "line 3")
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0, res.ProcessedRows)
	for _, rec := range prog.records {
		assert.NotEqual(t, progress.StateCompleted, rec.State)
	}
}
