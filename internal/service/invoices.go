package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/events"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

func (s *Service) ListInvoices(ctx context.Context, q domain.ListQuery) (domain.Page[domain.Invoice], error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Page[domain.Invoice]{}, err
	}
	q = normalizePage(q, 20, 100)
	items, total, err := s.repo.ListInvoices(ctx, ownerID, q)
	if err != nil {
		return domain.Page[domain.Invoice]{}, err
	}
	return pageOf(items, total, q), nil
}

func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, ownerID, id)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

// CreateInvoiceFromSale issues the invoice of an existing sale. A sale that
// already has an invoice gets that invoice back.
func (s *Service) CreateInvoiceFromSale(ctx context.Context, saleID string, opts domain.InvoiceOptions) (domain.Invoice, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := checkRequest(opts); err != nil {
		return domain.Invoice{}, err
	}
	if opts, err = normalizeInvoiceOptions(opts); err != nil {
		return domain.Invoice{}, err
	}

	release, err := s.lockOwner(ctx, ownerID)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer release()

	sale, err := s.repo.GetSale(ctx, ownerID, saleID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Invoice{}, ErrSaleNotFound
		}
		return domain.Invoice{}, err
	}
	inv, err := s.invoiceForSale(ctx, ownerID, *sale, opts)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

// invoiceForSale runs under the owner lock.
func (s *Service) invoiceForSale(ctx context.Context, ownerID string, sale domain.Sale, opts domain.InvoiceOptions) (*domain.Invoice, error) {
	if existing, err := s.existingSaleInvoice(ctx, ownerID, sale); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	customer, err := s.resolveCustomer(ctx, ownerID, sale.CustomerID, sale.Customer)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	item := domain.InvoiceItem{
		Product:   sale.Product,
		ProductID: sale.ProductID,
		Quantity:  sale.Quantity,
		Price:     billing.UnitPrice(sale.Total, sale.Quantity),
		Total:     billing.Money(sale.Total),
	}
	draft := domain.Invoice{
		Customer: sale.Customer,
		Items:    []domain.InvoiceItem{item},
		Subtotal: sale.Total,
		SaleID:   sale.ID,
	}
	if at, err := parseDate(sale.Date); err == nil {
		draft.Date = at
	}

	inv, err := s.issueInvoice(ctx, ownerID, draft, opts, customer)
	if errors.Is(err, store.ErrConflict) {
		// Another request invoiced this sale first.
		if existing, findErr := s.repo.FindInvoiceBySale(ctx, ownerID, sale.ID); findErr == nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, err
	}
	s.linkSale(ctx, ownerID, sale.ID, inv.ID)
	return inv, nil
}

func (s *Service) existingSaleInvoice(ctx context.Context, ownerID string, sale domain.Sale) (*domain.Invoice, error) {
	if sale.InvoiceID != "" {
		inv, err := s.repo.GetInvoice(ctx, ownerID, sale.InvoiceID)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	inv, err := s.repo.FindInvoiceBySale(ctx, ownerID, sale.ID)
	if err != nil {
		return nil, err
	}
	if sale.InvoiceID != inv.ID {
		s.linkSale(ctx, ownerID, sale.ID, inv.ID)
	}
	return inv, nil
}

// CreateManualInvoice issues an invoice from explicit line items.
func (s *Service) CreateManualInvoice(ctx context.Context, req domain.ManualInvoiceRequest) (domain.Invoice, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	if err := checkRequest(req); err != nil {
		return domain.Invoice{}, err
	}
	opts, err := normalizeInvoiceOptions(req.InvoiceOptions)
	if err != nil {
		return domain.Invoice{}, err
	}

	items := make([]domain.InvoiceItem, 0, len(req.Items))
	subtotal := decimal.Zero
	for i, line := range req.Items {
		if line.Price.IsNegative() {
			return domain.Invoice{}, fieldError(fmt.Sprintf("items[%d].price", i), "must not be negative")
		}
		item := domain.InvoiceItem{
			Product:   strings.TrimSpace(line.Product),
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
			Price:     billing.Money(line.Price),
			Total:     billing.LineTotal(line.Price, line.Quantity),
		}
		subtotal = subtotal.Add(item.Total)
		items = append(items, item)
	}

	draft := domain.Invoice{
		Customer: strings.TrimSpace(req.Customer),
		Items:    items,
		Subtotal: subtotal,
	}
	if strings.TrimSpace(req.Date) != "" {
		at, err := parseDate(req.Date)
		if err != nil {
			return domain.Invoice{}, fieldError("date", "must be a date (YYYY-MM-DD)")
		}
		draft.Date = at
	}

	release, err := s.lockOwner(ctx, ownerID)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer release()

	customer, err := s.resolveCustomer(ctx, ownerID, req.CustomerID, req.Customer)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv, err := s.issueInvoice(ctx, ownerID, draft, opts, customer)
	if err != nil {
		return domain.Invoice{}, err
	}
	return *inv, nil
}

// issueInvoice numbers, prices and persists draft, then charges the customer.
// The customer update is best-effort once the invoice exists. A number whose
// insert fails is not handed out again.
func (s *Service) issueInvoice(ctx context.Context, ownerID string, draft domain.Invoice, opts domain.InvoiceOptions, customer *domain.Customer) (*domain.Invoice, error) {
	seq, err := s.repo.NextInvoiceSequence(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	figures := billing.Compute(draft.Subtotal, opts.DiscountType, opts.DiscountValue, opts.AdvancePaid)

	now := s.clock()
	inv := draft
	inv.ID = xid.New("inv")
	inv.OwnerID = ownerID
	inv.InvoiceNumber = billing.FormatInvoiceNumber(seq)
	if inv.Date.IsZero() {
		inv.Date = now
	}
	inv.Subtotal = figures.Subtotal
	inv.DiscountType = figures.DiscountType
	inv.DiscountValue = figures.DiscountValue
	inv.Total = figures.Total
	inv.AdvancePaid = figures.AdvancePaid
	inv.RemainingBalance = figures.RemainingBalance
	inv.PaymentStatus = figures.PaymentStatus
	inv.PaymentMethod = opts.PaymentMethod
	inv.PaymentReference = opts.PaymentReference
	inv.PaymentHistory = []domain.PaymentEntry{}
	inv.CreatedAt = now
	inv.UpdatedAt = now
	if figures.AdvancePaid.IsPositive() {
		entry := billing.NewPaymentEntry(figures.AdvancePaid, domain.PaymentTypeAdvance, opts.PaymentMethod, opts.PaymentReference, "advance", now)
		entry.InvoiceID = inv.ID
		inv.PaymentHistory = append(inv.PaymentHistory, entry)
	}
	if customer != nil {
		inv.CustomerID = customer.ID
		inv.Customer = customer.Name
		inv.PreviousCustomerBalance = billing.Money(customer.RemainingBalance)
	}
	inv.NewCustomerBalance = billing.Money(inv.PreviousCustomerBalance.Add(inv.RemainingBalance))

	created, err := s.repo.CreateInvoice(ctx, inv)
	if err != nil {
		return nil, err
	}
	s.invalidateStats(ctx, ownerID)

	if customer != nil {
		_, err := s.repo.MutateCustomer(ctx, ownerID, customer.ID, func(c *domain.Customer) error {
			billing.ChargeCustomer(c, *created)
			return nil
		})
		if err != nil {
			s.downstreamFailure("issueInvoice", "charge customer for invoice", map[string]string{"invoiceId": created.ID, "customerId": customer.ID}, err)
		} else {
			s.appendLedger(ctx, ownerID, customer.ID, domain.LedgerCharge, domain.LedgerEntry{
				Amount:    created.RemainingBalance,
				SaleID:    created.SaleID,
				InvoiceID: created.ID,
				CreatedAt: created.CreatedAt,
			})
			if created.AdvancePaid.IsPositive() {
				s.appendLedger(ctx, ownerID, customer.ID, domain.LedgerAdvance, domain.LedgerEntry{
					Amount:    created.AdvancePaid,
					SaleID:    created.SaleID,
					InvoiceID: created.ID,
					CreatedAt: created.CreatedAt,
				})
			}
		}
	}
	s.publish(ctx, events.InvoiceCreated, ownerID, created.ID, created)
	return created, nil
}

// PayInvoice records a payment on the invoice and mirrors it onto the linked
// customer. The customer side is best-effort.
func (s *Service) PayInvoice(ctx context.Context, id string, req domain.PaymentRequest) (domain.Invoice, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	entry, err := s.paymentEntry(req)
	if err != nil {
		return domain.Invoice{}, err
	}

	release, err := s.lockOwner(ctx, ownerID)
	if err != nil {
		return domain.Invoice{}, err
	}
	defer release()

	var recorded domain.PaymentEntry
	updated, err := s.repo.MutateInvoice(ctx, ownerID, id, func(inv *domain.Invoice) error {
		recorded = billing.PayInvoice(inv, entry)
		return nil
	})
	if err != nil {
		return domain.Invoice{}, err
	}

	customer, err := s.resolveCustomer(ctx, ownerID, updated.CustomerID, updated.Customer)
	switch {
	case err != nil:
		s.downstreamFailure("PayInvoice", "resolve invoice customer", map[string]string{"invoiceId": updated.ID}, err)
	case customer != nil:
		customerEntry := entry
		customerEntry.InvoiceID = updated.ID
		var applied domain.PaymentEntry
		_, err := s.repo.MutateCustomer(ctx, ownerID, customer.ID, func(c *domain.Customer) error {
			applied = billing.PayCustomer(c, customerEntry)
			return nil
		})
		if err != nil {
			s.downstreamFailure("PayInvoice", "apply invoice payment to customer", map[string]string{"invoiceId": updated.ID, "customerId": customer.ID}, err)
		} else {
			s.appendLedger(ctx, ownerID, customer.ID, domain.LedgerPayment, domain.LedgerEntry{
				Amount:    applied.Amount,
				InvoiceID: updated.ID,
				Note:      applied.Note,
				CreatedAt: applied.Date,
			})
		}
	}
	s.publish(ctx, events.PaymentRecorded, ownerID, updated.ID, recorded)
	return *updated, nil
}
