package service

import (
	"context"
	"strings"
	"time"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context, q domain.ListQuery) (domain.Page[domain.Product], error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	q = normalizePage(q, 20, 100)
	items, total, err := s.repo.ListProducts(ctx, ownerID, q)
	if err != nil {
		return domain.Page[domain.Product]{}, err
	}
	return pageOf(items, total, q), nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	p, err := s.repo.GetProduct(ctx, ownerID, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *p, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if err := checkRequest(req); err != nil {
		return domain.Product{}, err
	}
	if req.Price.IsNegative() {
		return domain.Product{}, fieldError("price", "must not be negative")
	}
	if req.CostPrice.IsNegative() {
		return domain.Product{}, fieldError("costPrice", "must not be negative")
	}

	now := s.clock()
	product := domain.Product{
		ID:                xid.New("prd"),
		OwnerID:           ownerID,
		Name:              strings.TrimSpace(req.Name),
		Category:          strings.TrimSpace(req.Category),
		Price:             req.Price,
		CostPrice:         req.CostPrice,
		Supplier:          strings.TrimSpace(req.Supplier),
		TotalQuantity:     req.TotalQuantity,
		RemainingQuantity: req.TotalQuantity,
		ReorderLevel:      req.ReorderLevel,
		LowStockThreshold: domain.DefaultLowStockThreshold,
		BatchRef:          strings.TrimSpace(req.BatchRef),
		InvoiceRef:        strings.TrimSpace(req.InvoiceRef),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	switch {
	case req.RemainingQuantity != nil:
		product.RemainingQuantity = *req.RemainingQuantity
	case req.Stock != nil:
		product.RemainingQuantity = *req.Stock
	}
	if product.RemainingQuantity > product.TotalQuantity {
		product.TotalQuantity = product.RemainingQuantity
	}
	if req.LowStockThreshold != nil {
		product.LowStockThreshold = *req.LowStockThreshold
	}
	if strings.TrimSpace(req.ExpiryDate) != "" {
		expiry, err := parseDate(req.ExpiryDate)
		if err != nil {
			return domain.Product{}, fieldError("expiryDate", "must be a date (YYYY-MM-DD)")
		}
		product.ExpiryDate = &expiry
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateStats(ctx, ownerID)
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if err := checkRequest(req); err != nil {
		return domain.Product{}, err
	}
	if req.Price != nil && req.Price.IsNegative() {
		return domain.Product{}, fieldError("price", "must not be negative")
	}
	if req.CostPrice != nil && req.CostPrice.IsNegative() {
		return domain.Product{}, fieldError("costPrice", "must not be negative")
	}
	// An empty expiry date clears it.
	var expiry *time.Time
	if req.ExpiryDate != nil && strings.TrimSpace(*req.ExpiryDate) != "" {
		at, err := parseDate(*req.ExpiryDate)
		if err != nil {
			return domain.Product{}, fieldError("expiryDate", "must be a date (YYYY-MM-DD)")
		}
		expiry = &at
	}

	updated, err := s.repo.MutateProduct(ctx, ownerID, id, func(p *domain.Product) error {
		if req.Name != nil {
			p.Name = strings.TrimSpace(*req.Name)
		}
		if req.Category != nil {
			p.Category = strings.TrimSpace(*req.Category)
		}
		if req.Price != nil {
			p.Price = *req.Price
		}
		if req.CostPrice != nil {
			p.CostPrice = *req.CostPrice
		}
		if req.Supplier != nil {
			p.Supplier = strings.TrimSpace(*req.Supplier)
		}
		if req.ReorderLevel != nil {
			p.ReorderLevel = *req.ReorderLevel
		}
		if req.LowStockThreshold != nil {
			p.LowStockThreshold = *req.LowStockThreshold
		}
		if req.BatchRef != nil {
			p.BatchRef = strings.TrimSpace(*req.BatchRef)
		}
		if req.InvoiceRef != nil {
			p.InvoiceRef = strings.TrimSpace(*req.InvoiceRef)
		}
		if req.ExpiryDate != nil {
			p.ExpiryDate = expiry
		}
		adjustStock(p, req.TotalQuantity, req.RemainingQuantity)
		return nil
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.invalidateStats(ctx, ownerID)
	return *updated, nil
}

// adjustStock applies a manual stock edit. A new total shifts the remaining
// quantity by the same delta, keeping units already sold. An explicit
// remaining quantity wins over the delta and raises the total if it exceeds
// it. The result always satisfies 0 <= remaining <= total.
func adjustStock(p *domain.Product, total *int, remaining *int) {
	if total != nil {
		delta := *total - p.TotalQuantity
		p.TotalQuantity = *total
		if remaining == nil {
			p.RemainingQuantity += delta
		}
	}
	if remaining != nil {
		p.RemainingQuantity = *remaining
		if p.RemainingQuantity > p.TotalQuantity {
			p.TotalQuantity = p.RemainingQuantity
		}
	}
	if p.RemainingQuantity < 0 {
		p.RemainingQuantity = 0
	}
	if p.RemainingQuantity > p.TotalQuantity {
		p.RemainingQuantity = p.TotalQuantity
	}
}

func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProduct(ctx, ownerID, id); err != nil {
		return err
	}
	s.invalidateStats(ctx, ownerID)
	return nil
}

// MigrateRemainingQuantity backfills products stored before remaining
// quantities were tracked.
func (s *Service) MigrateRemainingQuantity(ctx context.Context) (domain.MigrationResult, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.MigrationResult{}, err
	}
	result, err := s.repo.BackfillRemainingQuantity(ctx, ownerID)
	if err != nil {
		return domain.MigrationResult{}, err
	}
	if result.Updated > 0 {
		s.invalidateStats(ctx, ownerID)
	}
	return result, nil
}
