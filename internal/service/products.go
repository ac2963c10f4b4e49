package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"catalogsync/internal/dto/req"
	"catalogsync/internal/events"
	"catalogsync/internal/ingest"
	"catalogsync/internal/model"
	"catalogsync/internal/repository"
	"catalogsync/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidProduct  = errors.New("invalid product")
	ErrProductNotFound = errors.New("product not found")
)

// ProductService applies single-record catalog mutations. Every mutation
// writes its domain event to the outbox in the same transaction.
type ProductService struct {
	db       *gorm.DB
	products repository.ProductGateway
	emitter  *events.OutboxEmitter
}

func NewProductService(db *gorm.DB, products repository.ProductGateway, emitter *events.OutboxEmitter) *ProductService {
	return &ProductService{db: db, products: products, emitter: emitter}
}

// ProductEvent is the data carried by entity.* events.
type ProductEvent struct {
	ID          uint64  `json:"id"`
	Identifier  string  `json:"identifier"`
	Name        string  `json:"name"`
	Description *string `json:"description"`
	Active      bool    `json:"active"`
}

func productEvent(p *model.Product) ProductEvent {
	return ProductEvent{
		ID:          p.ID,
		Identifier:  p.Identifier,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
	}
}

func (s *ProductService) Get(ctx context.Context, identifier string) (*model.Product, error) {
	p, err := s.products.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrProductNotFound
	}
	return p, nil
}

// Upsert creates or replaces the product matching identifier case-insensitively
// and reports whether it was created.
func (s *ProductService) Upsert(ctx context.Context, identifier string, r req.ProductReq) (*model.Product, bool, error) {
	values := map[string]string{
		ingest.ColIdentifier: identifier,
		ingest.ColName:       r.Name,
	}
	if r.Description != nil {
		values[ingest.ColDescription] = *r.Description
	}
	if r.Active != nil {
		values[ingest.ColActive] = strconv.FormatBool(*r.Active)
	}
	in, rowErr := ingest.ValidateRow(0, values)
	if rowErr != nil {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidProduct, rowErr.Message)
	}

	var (
		saved   *model.Product
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txProducts := s.products.WithTx(tx)

		counts, err := txProducts.UpsertBatch(ctx, []repository.ProductInput{in})
		if err != nil {
			return err
		}
		saved, err = txProducts.GetByIdentifier(ctx, in.Identifier)
		if err != nil {
			return err
		}
		if saved == nil {
			return fmt.Errorf("product %q missing after upsert", in.Identifier)
		}
		created = counts.Created > 0

		name := events.EntityUpdated
		if created {
			name = events.EntityCreated
		}
		return s.emit(ctx, tx, name, saved)
	})
	if err != nil {
		logger.Error("product upsert failed", zap.String("identifier", identifier), zap.Error(err))
		return nil, false, err
	}

	logger.Info("product saved",
		zap.String("identifier", saved.Identifier),
		zap.Bool("created", created),
		zap.String("operator", GetOperator(ctx)))
	return saved, created, nil
}

func (s *ProductService) Delete(ctx context.Context, identifier string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		deleted, err := s.products.WithTx(tx).Delete(ctx, identifier)
		if err != nil {
			return err
		}
		if deleted == nil {
			return ErrProductNotFound
		}
		return s.emit(ctx, tx, events.EntityDeleted, deleted)
	})
	if err != nil {
		return err
	}
	logger.Info("product deleted", zap.String("identifier", identifier), zap.String("operator", GetOperator(ctx)))
	return nil
}

// DeleteBatch removes up to limit products and writes one entity.deleted
// event per product in the same transaction.
func (s *ProductService) DeleteBatch(ctx context.Context, limit int) (int, error) {
	var n int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		batch, err := s.products.WithTx(tx).DeleteBatch(ctx, limit)
		if err != nil {
			return err
		}
		for i := range batch {
			if err := s.emit(ctx, tx, events.EntityDeleted, &batch[i]); err != nil {
				return err
			}
		}
		n = len(batch)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *ProductService) emit(ctx context.Context, tx *gorm.DB, name string, p *model.Product) error {
	ev, err := events.New(name, productEvent(p))
	if err != nil {
		return err
	}
	ev.TraceID = GetTraceID(ctx)
	return s.emitter.WithTx(tx).Emit(ctx, ev)
}
