package service

import (
	"context"
	"errors"
	"strings"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/events"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/validate"
	"shopledger/backend/internal/xid"
)

func (s *Service) ListCustomers(ctx context.Context, q domain.ListQuery) (domain.Page[domain.Customer], error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Page[domain.Customer]{}, err
	}
	q = normalizePage(q, 20, 100)
	items, total, err := s.repo.ListCustomers(ctx, ownerID, q)
	if err != nil {
		return domain.Page[domain.Customer]{}, err
	}
	return pageOf(items, total, q), nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	c, err := s.repo.GetCustomer(ctx, ownerID, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *c, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	if err := checkRequest(req); err != nil {
		return domain.Customer{}, err
	}
	phone, err := validate.Phone(req.Phone, s.phoneRegion)
	if err != nil {
		return domain.Customer{}, fieldError("phone", "must be a valid phone number")
	}

	now := s.clock()
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:             xid.New("cus"),
		OwnerID:        ownerID,
		Name:           strings.TrimSpace(req.Name),
		Phone:          phone,
		Address:        strings.TrimSpace(req.Address),
		PaymentHistory: []domain.PaymentEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.invalidateStats(ctx, ownerID)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	if err := checkRequest(req); err != nil {
		return domain.Customer{}, err
	}
	var phone string
	if req.Phone != nil {
		phone, err = validate.Phone(*req.Phone, s.phoneRegion)
		if err != nil {
			return domain.Customer{}, fieldError("phone", "must be a valid phone number")
		}
	}

	updated, err := s.repo.MutateCustomer(ctx, ownerID, id, func(c *domain.Customer) error {
		if req.Name != nil {
			c.Name = strings.TrimSpace(*req.Name)
		}
		if req.Phone != nil {
			c.Phone = phone
		}
		if req.Address != nil {
			c.Address = strings.TrimSpace(*req.Address)
		}
		return nil
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.invalidateStats(ctx, ownerID)
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, ownerID, id); err != nil {
		return err
	}
	s.invalidateStats(ctx, ownerID)
	return nil
}

// PayCustomer records a payment made directly against the customer's
// outstanding balance.
func (s *Service) PayCustomer(ctx context.Context, id string, req domain.PaymentRequest) (domain.Customer, error) {
	ownerID, err := s.owner(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	entry, err := s.paymentEntry(req)
	if err != nil {
		return domain.Customer{}, err
	}

	// The ledger entry must follow the balance change it describes.
	release, err := s.lockOwner(ctx, ownerID)
	if err != nil {
		return domain.Customer{}, err
	}
	defer release()

	var recorded domain.PaymentEntry
	updated, err := s.repo.MutateCustomer(ctx, ownerID, id, func(c *domain.Customer) error {
		recorded = billing.PayCustomer(c, entry)
		return nil
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.appendLedger(ctx, ownerID, updated.ID, domain.LedgerPayment, domain.LedgerEntry{
		Amount:    recorded.Amount,
		Note:      recorded.Note,
		CreatedAt: recorded.Date,
	})
	s.publish(ctx, events.PaymentRecorded, ownerID, updated.ID, recorded)
	return *updated, nil
}

// paymentEntry validates a payment request. Negative amounts clamp to zero
// and are then rejected with every other non-positive amount.
func (s *Service) paymentEntry(req domain.PaymentRequest) (domain.PaymentEntry, error) {
	if err := checkRequest(req); err != nil {
		return domain.PaymentEntry{}, err
	}
	amount := billing.Money(billing.NonNegative(req.Amount))
	if !amount.IsPositive() {
		return domain.PaymentEntry{}, ErrInvalidAmount
	}
	note := defaultString(req.Note, domain.DefaultPaymentNote)
	return billing.NewPaymentEntry(amount, domain.PaymentTypePayment, req.Method, req.Reference, note, s.clock()), nil
}

// resolveCustomer finds the customer a sale or invoice refers to. An explicit
// id must exist; a name that matches nobody yields nil without error.
func (s *Service) resolveCustomer(ctx context.Context, ownerID string, id string, name string) (*domain.Customer, error) {
	if id = strings.TrimSpace(id); id != "" {
		return s.repo.GetCustomer(ctx, ownerID, id)
	}
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	c, err := s.repo.FindCustomerByName(ctx, ownerID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (s *Service) resolveProduct(ctx context.Context, ownerID string, id string, name string) (*domain.Product, error) {
	if id = strings.TrimSpace(id); id != "" {
		return s.repo.GetProduct(ctx, ownerID, id)
	}
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	p, err := s.repo.FindProductByName(ctx, ownerID, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return p, err
}
