package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/events"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

// ListSales returns a page of sales. Sales whose invoice link was never
// written get it backfilled from the invoice that names them.
func (s *Service) ListSales(ctx context.Context, q domain.ListQuery) (domain.Page[domain.Sale], error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Page[domain.Sale]{}, err
	}
	q = normalizePage(q, 20, 100)
	items, total, err := s.repo.ListSales(ctx, ownerID, q)
	if err != nil {
		return domain.Page[domain.Sale]{}, err
	}
	for i := range items {
		if items[i].InvoiceID != "" {
			continue
		}
		inv, err := s.repo.FindInvoiceBySale(ctx, ownerID, items[i].ID)
		if err != nil {
			continue
		}
		items[i].InvoiceID = inv.ID
		s.linkSale(ctx, ownerID, items[i].ID, inv.ID)
	}
	return pageOf(items, total, q), nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	sale, err := s.repo.GetSale(ctx, ownerID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, ErrSaleNotFound
		}
		return domain.Sale{}, err
	}
	return *sale, nil
}

// CreateSale records a sale, takes its quantity out of stock, adds its total
// to the customer's purchases and optionally issues an invoice for it.
//
// Stock and the sale row succeed or fail together. Customer totals and the
// invoice follow the sale and their failures are logged, not returned.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := checkRequest(req); err != nil {
		return domain.Sale{}, err
	}
	if req.Total.IsNegative() {
		return domain.Sale{}, fieldError("total", "must not be negative")
	}
	var opts domain.InvoiceOptions
	if req.CreateInvoice {
		if opts, err = normalizeInvoiceOptions(req.InvoiceOptions); err != nil {
			return domain.Sale{}, err
		}
	}
	date := s.clock().Format(domain.DateLayout)
	if strings.TrimSpace(req.Date) != "" {
		at, err := parseDate(req.Date)
		if err != nil {
			return domain.Sale{}, fieldError("date", "must be a date (YYYY-MM-DD)")
		}
		date = at.Format(domain.DateLayout)
	}

	release, err := s.lockOwner(ctx, ownerID)
	if err != nil {
		return domain.Sale{}, err
	}
	defer release()

	product, err := s.resolveProduct(ctx, ownerID, req.ProductID, req.Product)
	if err != nil {
		return domain.Sale{}, err
	}
	customer, err := s.resolveCustomer(ctx, ownerID, req.CustomerID, req.Customer)
	if err != nil {
		return domain.Sale{}, err
	}

	now := s.clock()
	sale := domain.Sale{
		ID:        xid.New("sal"),
		OwnerID:   ownerID,
		Date:      date,
		Customer:  strings.TrimSpace(req.Customer),
		Product:   strings.TrimSpace(req.Product),
		Quantity:  req.Quantity,
		Total:     billing.Money(req.Total),
		Status:    defaultString(req.Status, domain.SaleStatusCompleted),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if customer != nil {
		sale.CustomerID = customer.ID
		sale.Customer = customer.Name
	}
	if product != nil {
		sale.ProductID = product.ID
		sale.Product = product.Name
		if sale.Total.IsZero() {
			sale.Total = billing.LineTotal(product.Price, req.Quantity)
		}
		if err := s.takeStock(ctx, ownerID, product.ID, req.Quantity); err != nil {
			return domain.Sale{}, err
		}
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		if product != nil {
			s.returnStock(ctx, ownerID, product.ID, req.Quantity)
		}
		return domain.Sale{}, err
	}
	s.invalidateStats(ctx, ownerID)

	if customer != nil {
		_, err := s.repo.MutateCustomer(ctx, ownerID, customer.ID, func(c *domain.Customer) error {
			billing.AddPurchase(c, created.Total)
			return nil
		})
		if err != nil {
			s.downstreamFailure("CreateSale", "add purchase to customer", map[string]string{"saleId": created.ID, "customerId": customer.ID}, err)
		} else {
			s.appendLedger(ctx, ownerID, customer.ID, domain.LedgerPurchase, domain.LedgerEntry{
				Amount:    created.Total,
				SaleID:    created.ID,
				CreatedAt: created.CreatedAt,
			})
		}
	}
	s.publish(ctx, events.SaleRecorded, ownerID, created.ID, created)

	if req.CreateInvoice {
		inv, err := s.invoiceForSale(ctx, ownerID, *created, opts)
		if err != nil {
			s.downstreamFailure("CreateSale", "create invoice for sale", map[string]string{"saleId": created.ID}, err)
		} else {
			created.InvoiceID = inv.ID
		}
	}
	return *created, nil
}

func (s *Service) takeStock(ctx context.Context, ownerID string, productID string, quantity int) error {
	_, err := s.repo.MutateProduct(ctx, ownerID, productID, func(p *domain.Product) error {
		if p.RemainingQuantity < quantity {
			return fmt.Errorf("%w: %s has %d, need %d", store.ErrInsufficientStock, p.Name, p.RemainingQuantity, quantity)
		}
		p.RemainingQuantity -= quantity
		if p.Stock > 0 {
			p.Stock = max(0, p.Stock-quantity)
		}
		return nil
	})
	return err
}

// returnStock compensates takeStock when the sale row could not be written.
func (s *Service) returnStock(ctx context.Context, ownerID string, productID string, quantity int) {
	_, err := s.repo.MutateProduct(ctx, ownerID, productID, func(p *domain.Product) error {
		p.RemainingQuantity += quantity
		if p.RemainingQuantity > p.TotalQuantity {
			p.TotalQuantity = p.RemainingQuantity
		}
		return nil
	})
	if err != nil {
		s.downstreamFailure("CreateSale", "return stock after failed sale", map[string]any{"productId": productID, "quantity": quantity}, err)
	}
}

// UpdateSale edits the sale record only. Stock and customer totals are not
// re-derived from manual edits.
func (s *Service) UpdateSale(ctx context.Context, id string, req domain.SaleUpdateRequest) (domain.Sale, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	if err := checkRequest(req); err != nil {
		return domain.Sale{}, err
	}
	if req.Total != nil && req.Total.IsNegative() {
		return domain.Sale{}, fieldError("total", "must not be negative")
	}
	var date string
	if req.Date != nil {
		at, err := parseDate(*req.Date)
		if err != nil {
			return domain.Sale{}, fieldError("date", "must be a date (YYYY-MM-DD)")
		}
		date = at.Format(domain.DateLayout)
	}

	var customerID, productID *string
	if req.Customer != nil {
		c, err := s.resolveCustomer(ctx, ownerID, "", *req.Customer)
		if err != nil {
			return domain.Sale{}, err
		}
		customerID = new(string)
		if c != nil {
			*customerID = c.ID
		}
	}
	if req.Product != nil {
		p, err := s.resolveProduct(ctx, ownerID, "", *req.Product)
		if err != nil {
			return domain.Sale{}, err
		}
		productID = new(string)
		if p != nil {
			*productID = p.ID
		}
	}

	updated, err := s.repo.MutateSale(ctx, ownerID, id, func(sale *domain.Sale) error {
		if date != "" {
			sale.Date = date
		}
		if req.Customer != nil {
			sale.Customer = strings.TrimSpace(*req.Customer)
			sale.CustomerID = *customerID
		}
		if req.Product != nil {
			sale.Product = strings.TrimSpace(*req.Product)
			sale.ProductID = *productID
		}
		if req.Quantity != nil {
			sale.Quantity = *req.Quantity
		}
		if req.Total != nil {
			sale.Total = billing.Money(*req.Total)
		}
		if req.Status != nil {
			sale.Status = defaultString(*req.Status, domain.SaleStatusCompleted)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, ErrSaleNotFound
		}
		return domain.Sale{}, err
	}
	s.invalidateStats(ctx, ownerID)
	return *updated, nil
}

func (s *Service) DeleteSale(ctx context.Context, id string) error {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSale(ctx, ownerID, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSaleNotFound
		}
		return err
	}
	s.invalidateStats(ctx, ownerID)
	return nil
}

func (s *Service) linkSale(ctx context.Context, ownerID string, saleID string, invoiceID string) {
	_, err := s.repo.MutateSale(ctx, ownerID, saleID, func(sale *domain.Sale) error {
		sale.InvoiceID = invoiceID
		return nil
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"module":    "service",
			"saleId":    saleID,
			"invoiceId": invoiceID,
		}).Warnf("failed to link sale to invoice: %v", err)
	}
}

// normalizeInvoiceOptions rejects unknown discount types and clamps negative
// amounts to zero.
func normalizeInvoiceOptions(opts domain.InvoiceOptions) (domain.InvoiceOptions, error) {
	discountType, ok := billing.NormalizeDiscountType(opts.DiscountType)
	if !ok {
		return domain.InvoiceOptions{}, fieldError("discountType", "must be one of: none percent fixed")
	}
	opts.DiscountType = discountType
	opts.DiscountValue = billing.NonNegative(opts.DiscountValue)
	opts.AdvancePaid = billing.NonNegative(opts.AdvancePaid)
	if discountType == domain.DiscountNone {
		opts.DiscountValue = decimal.Zero
	}
	opts.PaymentMethod = defaultString(opts.PaymentMethod, domain.DefaultPaymentMethod)
	opts.PaymentReference = strings.TrimSpace(opts.PaymentReference)
	return opts, nil
}
