package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"catalogsync/internal/model"

	"golang.org/x/text/cases"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductInput is a validated row ready to be written.
type ProductInput struct {
	Identifier  string
	Name        string
	Description *string
	Active      bool
}

type UpsertCounts struct {
	Created int
	Updated int
}

// ProductGateway is the product store as seen by ingestion and the
// single-record mutation path.
type ProductGateway interface {
	UpsertBatch(ctx context.Context, rows []ProductInput) (UpsertCounts, error)
	GetByIdentifier(ctx context.Context, identifier string) (*model.Product, error)
	Delete(ctx context.Context, identifier string) (*model.Product, error)
	DeleteBatch(ctx context.Context, limit int) ([]model.Product, error)
	Count(ctx context.Context) (int64, error)
	WithTx(tx *gorm.DB) ProductGateway
}

// CanonicalKey folds an identifier so that identifiers differing only by
// case map to the same key.
func CanonicalKey(identifier string) string {
	return cases.Fold().String(strings.TrimSpace(identifier))
}

// upsertChunk caps the rows per statement. Seven columns per row keeps a
// chunk well under the 65535 bind parameters Postgres accepts.
const upsertChunk = 1000

type ProductRepository struct {
	db    *gorm.DB
	chunk int
}

func NewProductRepository(db *gorm.DB) *ProductRepository {
	return &ProductRepository{db: db, chunk: upsertChunk}
}

func (r *ProductRepository) chunkSize() int {
	if r.chunk <= 0 {
		return upsertChunk
	}
	return r.chunk
}

// UpsertBatch writes rows in one transaction with
// INSERT .. ON CONFLICT(identifier_key) DO UPDATE statements of at most
// chunkSize rows each. Rows sharing a
// canonical key collapse to the last one in batch order. A row counts as
// created only when its key neither existed before the batch nor appeared
// earlier in it.
func (r *ProductRepository) UpsertBatch(ctx context.Context, rows []ProductInput) (UpsertCounts, error) {
	var counts UpsertCounts
	if len(rows) == 0 {
		return counts, nil
	}

	keys := make([]string, 0, len(rows))
	rowKeys := make([]string, len(rows))
	last := make(map[string]int, len(rows))
	for i, row := range rows {
		k := CanonicalKey(row.Identifier)
		rowKeys[i] = k
		if _, ok := last[k]; !ok {
			keys = append(keys, k)
		}
		last[k] = i
	}

	size := r.chunkSize()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		for start := 0; start < len(keys); start += size {
			var found []string
			if err := tx.Model(&model.Product{}).
				Where("identifier_key IN ?", keys[start:min(start+size, len(keys))]).
				Pluck("identifier_key", &found).Error; err != nil {
				return err
			}
			existing = append(existing, found...)
		}

		seen := make(map[string]struct{}, len(keys))
		for _, k := range existing {
			seen[k] = struct{}{}
		}
		for _, k := range rowKeys {
			if _, ok := seen[k]; ok {
				counts.Updated++
				continue
			}
			counts.Created++
			seen[k] = struct{}{}
		}

		now := time.Now().UTC()
		products := make([]model.Product, 0, len(keys))
		for _, k := range keys {
			row := rows[last[k]]
			products = append(products, model.Product{
				Identifier:    strings.TrimSpace(row.Identifier),
				IdentifierKey: k,
				Name:          row.Name,
				Description:   row.Description,
				Active:        row.Active,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
		}

		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identifier_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "active", "updated_at"}),
		}).CreateInBatches(&products, size).Error
	})
	if err != nil {
		return UpsertCounts{}, err
	}
	return counts, nil
}

func (r *ProductRepository) GetByIdentifier(ctx context.Context, identifier string) (*model.Product, error) {
	var p model.Product
	if err := r.db.WithContext(ctx).Where("identifier_key = ?", CanonicalKey(identifier)).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Delete removes the product and returns the removed row, or nil when no
// product matched.
func (r *ProductRepository) Delete(ctx context.Context, identifier string) (*model.Product, error) {
	var deleted *model.Product
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := (&ProductRepository{db: tx, chunk: r.chunk}).GetByIdentifier(ctx, identifier)
		if err != nil || p == nil {
			return err
		}
		if err := tx.Delete(&model.Product{}, p.ID).Error; err != nil {
			return err
		}
		deleted = p
		return nil
	})
	return deleted, err
}

// DeleteBatch removes up to limit products, lowest id first, and returns
// the removed rows. An empty result means the table is empty.
func (r *ProductRepository) DeleteBatch(ctx context.Context, limit int) ([]model.Product, error) {
	var batch []model.Product
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Order("id ASC").Limit(limit).Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		ids := make([]uint64, len(batch))
		for i, p := range batch {
			ids[i] = p.ID
		}
		return tx.Where("id IN ?", ids).Delete(&model.Product{}).Error
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *ProductRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Product{}).Count(&n).Error
	return n, err
}

func (r *ProductRepository) WithTx(tx *gorm.DB) ProductGateway {
	return &ProductRepository{db: tx, chunk: r.chunk}
}
