package store

import (
	"context"
	"errors"

	"shopledger/backend/internal/domain"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrInvalidInput           = errors.New("invalid input")
	ErrDuplicateInvoiceNumber = errors.New("duplicate invoice number")
	ErrConflict               = errors.New("conflict")
	ErrUnavailable            = errors.New("store unavailable")
)

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error)
}

// Repository is the owner-scoped document store. Every read and write takes
// the owner id; records of other owners behave as if they did not exist.
//
// Mutate* methods load a record, run fn on a copy and persist the result
// atomically. If fn returns an error nothing is written and the error is
// returned unchanged.
//
// List methods return the requested page and the total match count. A zero
// Limit returns every match.
type Repository interface {
	UserStore
	Ping(ctx context.Context) error

	ListProducts(ctx context.Context, ownerID string, q domain.ListQuery) ([]domain.Product, int, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error)
	FindProductByName(ctx context.Context, ownerID string, name string) (*domain.Product, error)
	MutateProduct(ctx context.Context, ownerID string, id string, fn func(*domain.Product) error) (*domain.Product, error)
	DeleteProduct(ctx context.Context, ownerID string, id string) error
	BackfillRemainingQuantity(ctx context.Context, ownerID string) (domain.MigrationResult, error)

	ListCustomers(ctx context.Context, ownerID string, q domain.ListQuery) ([]domain.Customer, int, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, ownerID string, id string) (*domain.Customer, error)
	FindCustomerByName(ctx context.Context, ownerID string, name string) (*domain.Customer, error)
	MutateCustomer(ctx context.Context, ownerID string, id string, fn func(*domain.Customer) error) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, ownerID string, id string) error

	ListSales(ctx context.Context, ownerID string, q domain.ListQuery) ([]domain.Sale, int, error)
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, ownerID string, id string) (*domain.Sale, error)
	MutateSale(ctx context.Context, ownerID string, id string, fn func(*domain.Sale) error) (*domain.Sale, error)
	DeleteSale(ctx context.Context, ownerID string, id string) error

	ListInvoices(ctx context.Context, ownerID string, q domain.ListQuery) ([]domain.Invoice, int, error)
	CreateInvoice(ctx context.Context, invoice domain.Invoice) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, ownerID string, id string) (*domain.Invoice, error)
	FindInvoiceBySale(ctx context.Context, ownerID string, saleID string) (*domain.Invoice, error)
	MutateInvoice(ctx context.Context, ownerID string, id string, fn func(*domain.Invoice) error) (*domain.Invoice, error)
	// NextInvoiceSequence atomically reserves the owner's next invoice number.
	NextInvoiceSequence(ctx context.Context, ownerID string) (int64, error)

	AppendLedger(ctx context.Context, entry domain.LedgerEntry) error
	ListLedger(ctx context.Context, ownerID string, customerID string) ([]domain.LedgerEntry, error)

	GetSettings(ctx context.Context, ownerID string) (*domain.Settings, error)
	UpsertSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error)
}

// Window returns the slice bounds of a 1-based page over n items.
func Window(n int, page int, limit int) (int, int) {
	if limit <= 0 {
		return 0, n
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * limit
	if start > n {
		start = n
	}
	end := start + limit
	if end > n {
		end = n
	}
	return start, end
}
