package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/billing"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
	"shopledger/backend/internal/xid"
)

// Store keeps every collection in maps guarded by one RWMutex, so each
// method, including the Mutate* closures, runs atomically.
type Store struct {
	mu             sync.RWMutex
	usersByID      map[string]domain.UserAccount
	userIDsByEmail map[string]string
	products       map[string]domain.Product
	customers      map[string]domain.Customer
	sales          map[string]domain.Sale
	invoices       map[string]domain.Invoice
	invoiceSeq     map[string]int64
	ledger         []domain.LedgerEntry
	settings       map[string]domain.Settings
}

func New() *Store {
	return &Store{
		usersByID:      make(map[string]domain.UserAccount),
		userIDsByEmail: make(map[string]string),
		products:       make(map[string]domain.Product),
		customers:      make(map[string]domain.Customer),
		sales:          make(map[string]domain.Sale),
		invoices:       make(map[string]domain.Invoice),
		invoiceSeq:     make(map[string]int64),
		settings:       make(map[string]domain.Settings),
	}
}

// NewSeeded returns a store with one demo owner for local runs. Credentials
// come from SEED_OWNER_EMAIL and SEED_OWNER_PASSWORD.
func NewSeeded() *Store {
	s := New()
	email := envOr("SEED_OWNER_EMAIL", "owner@shopledger.local")
	password := envOr("SEED_OWNER_PASSWORD", "owner12345")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" {
		logrus.WithField("module", "memory-store").Warn("using default dev owner credentials; set SEED_OWNER_EMAIL and SEED_OWNER_PASSWORD to override")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logrus.WithField("module", "memory-store").Fatalf("failed to hash seed password: %v", err)
	}
	owner := domain.UserAccount{
		ID:        xid.New("usr"),
		Name:      "Shop Owner",
		Email:     strings.ToLower(email),
		Password:  string(hash),
		Role:      domain.RoleOwner,
		CreatedAt: time.Now().UTC(),
	}
	s.usersByID[owner.ID] = owner
	s.userIDsByEmail[owner.Email] = owner.ID
	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) Ping(_ context.Context) error {
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if user.ID == "" || email == "" || user.Password == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.userIDsByEmail[email]; exists {
		return store.ErrConflict
	}
	user.Email = email
	s.usersByID[user.ID] = user
	s.userIDsByEmail[email] = user.ID
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userIDsByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	user := s.usersByID[id]
	return &user, nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.usersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) ListProducts(_ context.Context, ownerID string, q domain.ListQuery) ([]domain.Product, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.OwnerID != ownerID {
			continue
		}
		if search != "" && !containsAny(search, p.Name, p.Category, p.Supplier, p.BatchRef) {
			continue
		}
		if q.Category != "" && !strings.EqualFold(p.Category, q.Category) {
			continue
		}
		switch q.Stock {
		case "in":
			if p.RemainingQuantity <= 0 {
				continue
			}
		case "low":
			if !p.NeedsReorder() {
				continue
			}
		}
		if q.ExpiringBefore != nil && (p.ExpiryDate == nil || p.ExpiryDate.After(*q.ExpiringBefore)) {
			continue
		}
		matched = append(matched, p)
	}

	if q.ExpiringBefore != nil {
		slices.SortFunc(matched, func(a, b domain.Product) int {
			if c := a.ExpiryDate.Compare(*b.ExpiryDate); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
	} else {
		slices.SortFunc(matched, func(a, b domain.Product) int {
			return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
		})
	}

	start, end := store.Window(len(matched), q.Page, q.Limit)
	return matched[start:end], len(matched), nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.OwnerID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrConflict
	}
	s.products[product.ID] = product
	return &product, nil
}

func (s *Store) GetProduct(_ context.Context, ownerID string, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok || p.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) FindProductByName(_ context.Context, ownerID string, name string) (*domain.Product, error) {
	name = strings.TrimSpace(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Product
	for _, p := range s.products {
		if p.OwnerID != ownerID || !strings.EqualFold(p.Name, name) {
			continue
		}
		// Oldest wins when names collide.
		if found == nil || newestFirst(p.CreatedAt, p.ID, found.CreatedAt, found.ID) > 0 {
			match := p
			found = &match
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) MutateProduct(_ context.Context, ownerID string, id string, fn func(*domain.Product) error) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok || p.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if err := fn(&p); err != nil {
		return nil, err
	}
	p.ID, p.OwnerID = id, ownerID
	p.UpdatedAt = time.Now().UTC()
	s.products[id] = p
	return &p, nil
}

func (s *Store) DeleteProduct(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok || p.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.products, id)
	return nil
}

// BackfillRemainingQuantity is a no-op count here: every in-memory product is
// created with a remaining quantity.
func (s *Store) BackfillRemainingQuantity(_ context.Context, ownerID string) (domain.MigrationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result domain.MigrationResult
	for _, p := range s.products {
		if p.OwnerID == ownerID {
			result.Processed++
		}
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context, ownerID string, q domain.ListQuery) ([]domain.Customer, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if c.OwnerID != ownerID {
			continue
		}
		if search != "" && !containsAny(search, c.Name, c.Phone, c.Address) {
			continue
		}
		matched = append(matched, copyCustomer(c))
	}
	slices.SortFunc(matched, func(a, b domain.Customer) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})

	start, end := store.Window(len(matched), q.Page, q.Limit)
	return matched[start:end], len(matched), nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.OwnerID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	s.customers[customer.ID] = copyCustomer(customer)
	created := copyCustomer(customer)
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, ownerID string, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok || c.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	out := copyCustomer(c)
	return &out, nil
}

func (s *Store) FindCustomerByName(_ context.Context, ownerID string, name string) (*domain.Customer, error) {
	name = strings.TrimSpace(name)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *domain.Customer
	for _, c := range s.customers {
		if c.OwnerID != ownerID || !strings.EqualFold(c.Name, name) {
			continue
		}
		if found == nil || newestFirst(c.CreatedAt, c.ID, found.CreatedAt, found.ID) > 0 {
			match := copyCustomer(c)
			found = &match
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return found, nil
}

func (s *Store) MutateCustomer(_ context.Context, ownerID string, id string, fn func(*domain.Customer) error) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[id]
	if !ok || c.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	working := copyCustomer(c)
	if err := fn(&working); err != nil {
		return nil, err
	}
	working.ID, working.OwnerID = id, ownerID
	working.UpdatedAt = time.Now().UTC()
	s.customers[id] = copyCustomer(working)
	return &working, nil
}

func (s *Store) DeleteCustomer(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.customers[id]
	if !ok || c.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.customers, id)
	return nil
}

func (s *Store) ListSales(_ context.Context, ownerID string, q domain.ListQuery) ([]domain.Sale, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if sale.OwnerID != ownerID {
			continue
		}
		if search != "" && !containsAny(search, sale.Customer, sale.Product, sale.Status) {
			continue
		}
		if q.Status != "" && !strings.EqualFold(sale.Status, q.Status) {
			continue
		}
		matched = append(matched, sale)
	}
	slices.SortFunc(matched, func(a, b domain.Sale) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})

	start, end := store.Window(len(matched), q.Page, q.Limit)
	return matched[start:end], len(matched), nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.OwnerID == "" || sale.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	s.sales[sale.ID] = sale
	return &sale, nil
}

func (s *Store) GetSale(_ context.Context, ownerID string, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.sales[id]
	if !ok || sale.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) MutateSale(_ context.Context, ownerID string, id string, fn func(*domain.Sale) error) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok || sale.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if err := fn(&sale); err != nil {
		return nil, err
	}
	sale.ID, sale.OwnerID = id, ownerID
	sale.UpdatedAt = time.Now().UTC()
	s.sales[id] = sale
	return &sale, nil
}

func (s *Store) DeleteSale(_ context.Context, ownerID string, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.sales[id]
	if !ok || sale.OwnerID != ownerID {
		return store.ErrNotFound
	}
	delete(s.sales, id)
	return nil
}

func (s *Store) ListInvoices(_ context.Context, ownerID string, q domain.ListQuery) ([]domain.Invoice, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(q.Search))
	matched := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		if inv.OwnerID != ownerID {
			continue
		}
		if search != "" && !containsAny(search, inv.InvoiceNumber, inv.Customer) {
			continue
		}
		if q.Status != "" && !strings.EqualFold(inv.PaymentStatus, q.Status) {
			continue
		}
		matched = append(matched, copyInvoice(inv))
	}
	slices.SortFunc(matched, func(a, b domain.Invoice) int {
		return newestFirst(a.CreatedAt, a.ID, b.CreatedAt, b.ID)
	})

	start, end := store.Window(len(matched), q.Page, q.Limit)
	return matched[start:end], len(matched), nil
}

func (s *Store) CreateInvoice(_ context.Context, invoice domain.Invoice) (*domain.Invoice, error) {
	if invoice.ID == "" || invoice.OwnerID == "" || invoice.InvoiceNumber == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.invoices {
		if existing.OwnerID == invoice.OwnerID && existing.InvoiceNumber == invoice.InvoiceNumber {
			return nil, store.ErrDuplicateInvoiceNumber
		}
	}
	if _, exists := s.invoices[invoice.ID]; exists {
		return nil, store.ErrConflict
	}
	if seq, ok := billing.ParseInvoiceNumber(invoice.InvoiceNumber); ok && seq > s.invoiceSeq[invoice.OwnerID] {
		s.invoiceSeq[invoice.OwnerID] = seq
	}
	s.invoices[invoice.ID] = copyInvoice(invoice)
	created := copyInvoice(invoice)
	return &created, nil
}

func (s *Store) GetInvoice(_ context.Context, ownerID string, id string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok || inv.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	out := copyInvoice(inv)
	return &out, nil
}

func (s *Store) FindInvoiceBySale(_ context.Context, ownerID string, saleID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.OwnerID == ownerID && saleID != "" && inv.SaleID == saleID {
			out := copyInvoice(inv)
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) MutateInvoice(_ context.Context, ownerID string, id string, fn func(*domain.Invoice) error) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[id]
	if !ok || inv.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	working := copyInvoice(inv)
	if err := fn(&working); err != nil {
		return nil, err
	}
	working.ID, working.OwnerID, working.InvoiceNumber = id, ownerID, inv.InvoiceNumber
	working.UpdatedAt = time.Now().UTC()
	s.invoices[id] = copyInvoice(working)
	return &working, nil
}

func (s *Store) NextInvoiceSequence(_ context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.invoiceSeq[ownerID]++
	return s.invoiceSeq[ownerID], nil
}

func (s *Store) AppendLedger(_ context.Context, entry domain.LedgerEntry) error {
	if entry.ID == "" || entry.OwnerID == "" || entry.CustomerID == "" || entry.Kind == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, entry)
	return nil
}

func (s *Store) ListLedger(_ context.Context, ownerID string, customerID string) ([]domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.LedgerEntry, 0, 16)
	for _, entry := range s.ledger {
		if entry.OwnerID == ownerID && entry.CustomerID == customerID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (s *Store) GetSettings(_ context.Context, ownerID string) (*domain.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settings, ok := s.settings[ownerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &settings, nil
}

func (s *Store) UpsertSettings(_ context.Context, settings domain.Settings) (*domain.Settings, error) {
	if settings.OwnerID == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	settings.UpdatedAt = time.Now().UTC()
	s.settings[settings.OwnerID] = settings
	return &settings, nil
}

func containsAny(needle string, haystacks ...string) bool {
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func newestFirst(aAt time.Time, aID string, bAt time.Time, bID string) int {
	if c := bAt.Compare(aAt); c != 0 {
		return c
	}
	return strings.Compare(bID, aID)
}

func copyCustomer(c domain.Customer) domain.Customer {
	c.PaymentHistory = slices.Clone(c.PaymentHistory)
	return c
}

func copyInvoice(inv domain.Invoice) domain.Invoice {
	inv.Items = slices.Clone(inv.Items)
	inv.PaymentHistory = slices.Clone(inv.PaymentHistory)
	return inv
}
