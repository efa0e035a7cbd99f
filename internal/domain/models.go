package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, matching what the web client sends.
	decimal.MarshalJSONWithoutQuotes = true
}

const (
	RoleOwner = "owner"

	DiscountNone    = "none"
	DiscountPercent = "percent"
	DiscountFixed   = "fixed"

	PaymentStatusPaid    = "Paid"
	PaymentStatusPartial = "Partial"
	PaymentStatusCredit  = "Credit"

	PaymentTypeAdvance = "advance"
	PaymentTypePayment = "payment"

	SaleStatusCompleted = "Completed"

	LedgerPurchase   = "purchase"
	LedgerCharge     = "charge"
	LedgerAdvance    = "advance"
	LedgerPayment    = "payment"
	LedgerAdjustment = "adjustment"

	DefaultPaymentMethod     = "Cash"
	DefaultPaymentNote       = "manual"
	DefaultLowStockThreshold = 5
	DefaultNearExpiryDays    = 30
	DefaultShopName          = "PestiShop Pro"
	DefaultLogoURL           = "/logo.svg"

	DateLayout = "2006-01-02"
)

type Actor struct {
	OwnerID string `json:"ownerId"`
	Email   string `json:"email"`
	Role    string `json:"role"`
}

type UserAccount struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type OwnerProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type SignupRequest struct {
	Name     string `json:"name" validate:"max=120"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string       `json:"accessToken"`
	ExpiresAt   string       `json:"expiresAt"`
	User        OwnerProfile `json:"user"`
}

// Product is a stock item. RemainingQuantity is what can still be sold;
// Stock is the legacy single-counter field kept for rows created before
// remaining quantities were tracked.
type Product struct {
	ID                string          `json:"id"`
	OwnerID           string          `json:"-"`
	Name              string          `json:"name"`
	Category          string          `json:"category"`
	Price             decimal.Decimal `json:"price"`
	CostPrice         decimal.Decimal `json:"costPrice"`
	Supplier          string          `json:"supplier"`
	TotalQuantity     int             `json:"totalQuantity"`
	RemainingQuantity int             `json:"remainingQuantity"`
	Stock             int             `json:"stock,omitempty"`
	ReorderLevel      int             `json:"reorderLevel"`
	LowStockThreshold int             `json:"lowStockThreshold"`
	ExpiryDate        *time.Time      `json:"expiryDate,omitempty"`
	BatchRef          string          `json:"batchRef,omitempty"`
	InvoiceRef        string          `json:"invoiceRef,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (p Product) Threshold() int {
	if p.LowStockThreshold > 0 {
		return p.LowStockThreshold
	}
	return DefaultLowStockThreshold
}

func (p Product) IsLowStock() bool {
	return p.RemainingQuantity <= p.Threshold()
}

// NeedsReorder is the product list's "low" filter: at or below the reorder
// level, or the alert threshold when no reorder level is set.
func (p Product) NeedsReorder() bool {
	if p.ReorderLevel > 0 {
		return p.RemainingQuantity <= p.ReorderLevel
	}
	return p.IsLowStock()
}

type PaymentEntry struct {
	Amount    decimal.Decimal `json:"amount"`
	Unapplied decimal.Decimal `json:"unapplied"`
	Date      time.Time       `json:"date"`
	Type      string          `json:"type"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
	Note      string          `json:"note,omitempty"`
	InvoiceID string          `json:"invoiceId,omitempty"`
}

type Customer struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"-"`
	Name             string          `json:"name"`
	Phone            string          `json:"phone"`
	Address          string          `json:"address"`
	TotalPurchases   decimal.Decimal `json:"totalPurchases"`
	TotalPaid        decimal.Decimal `json:"totalPaid"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
	IsCredit         bool            `json:"isCredit"`
	PaymentHistory   []PaymentEntry  `json:"paymentHistory"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type Sale struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"-"`
	Date       string          `json:"date"`
	Customer   string          `json:"customer"`
	CustomerID string          `json:"customerId,omitempty"`
	Product    string          `json:"product"`
	ProductID  string          `json:"productId,omitempty"`
	Quantity   int             `json:"quantity"`
	Total      decimal.Decimal `json:"total"`
	Status     string          `json:"status"`
	InvoiceID  string          `json:"invoiceId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type InvoiceItem struct {
	Product   string          `json:"product"`
	ProductID string          `json:"productId,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Total     decimal.Decimal `json:"total"`
}

type Invoice struct {
	ID                      string          `json:"id"`
	OwnerID                 string          `json:"-"`
	InvoiceNumber           string          `json:"invoiceNumber"`
	Date                    time.Time       `json:"date"`
	Customer                string          `json:"customer"`
	CustomerID              string          `json:"customerId,omitempty"`
	Items                   []InvoiceItem   `json:"items"`
	Subtotal                decimal.Decimal `json:"subtotal"`
	DiscountType            string          `json:"discountType"`
	DiscountValue           decimal.Decimal `json:"discountValue"`
	Total                   decimal.Decimal `json:"total"`
	AdvancePaid             decimal.Decimal `json:"advancePaid"`
	RemainingBalance        decimal.Decimal `json:"remainingBalance"`
	PaymentStatus           string          `json:"paymentStatus"`
	PaymentMethod           string          `json:"paymentMethod,omitempty"`
	PaymentReference        string          `json:"paymentReference,omitempty"`
	PaymentHistory          []PaymentEntry  `json:"paymentHistory"`
	PreviousCustomerBalance decimal.Decimal `json:"previousCustomerBalance"`
	NewCustomerBalance      decimal.Decimal `json:"newCustomerBalance"`
	SaleID                  string          `json:"saleId,omitempty"`
	CreatedAt               time.Time       `json:"createdAt"`
	UpdatedAt               time.Time       `json:"updatedAt"`
}

type Settings struct {
	OwnerID        string    `json:"-"`
	OwnerName      string    `json:"ownerName"`
	ShopName       string    `json:"shopName"`
	Address        string    `json:"address"`
	Contact        string    `json:"contact"`
	LogoURL        string    `json:"logoUrl"`
	NearExpiryDays int       `json:"nearExpiryDays"`
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}

// LedgerEntry is one immutable bookkeeping event against a customer. Replaying
// a customer's entries in order reproduces its running totals.
type LedgerEntry struct {
	ID         string          `json:"id"`
	OwnerID    string          `json:"-"`
	CustomerID string          `json:"customerId"`
	Kind       string          `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	SaleID     string          `json:"saleId,omitempty"`
	InvoiceID  string          `json:"invoiceId,omitempty"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

type Balances struct {
	TotalPurchases   decimal.Decimal `json:"totalPurchases"`
	TotalPaid        decimal.Decimal `json:"totalPaid"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
}

type ReconcileReport struct {
	CustomerID string   `json:"customerId"`
	Entries    int      `json:"entries"`
	Stored     Balances `json:"stored"`
	Replayed   Balances `json:"replayed"`
	Drift      bool     `json:"drift"`
	Applied    bool     `json:"applied"`
}

type ListQuery struct {
	Search         string
	Category       string
	Stock          string
	Status         string
	ExpiringBefore *time.Time
	Page           int
	Limit          int
}

type Page[T any] struct {
	Data  []T `json:"data"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
}

type ExpiryPage struct {
	Page[Product]
	Cutoff time.Time `json:"cutoff"`
}

type ChartPoint struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
}

type DashboardStats struct {
	TotalProducts    int             `json:"totalProducts"`
	TotalSales       int             `json:"totalSales"`
	TotalCustomers   int             `json:"totalCustomers"`
	TotalRevenue     decimal.Decimal `json:"totalRevenue"`
	LowStockProducts int             `json:"lowStockProducts"`
	NearExpiryCount  int             `json:"nearExpiryCount"`
	SalesChartData   []ChartPoint    `json:"salesChartData"`
	RecentSales      []Sale          `json:"recentSales"`
}

type MigrationResult struct {
	Processed int `json:"processed"`
	Updated   int `json:"updated"`
}

type ProductCreateRequest struct {
	Name              string          `json:"name" validate:"required,max=200"`
	Category          string          `json:"category" validate:"max=100"`
	Price             decimal.Decimal `json:"price"`
	CostPrice         decimal.Decimal `json:"costPrice"`
	Supplier          string          `json:"supplier" validate:"max=200"`
	TotalQuantity     int             `json:"totalQuantity" validate:"gte=0"`
	RemainingQuantity *int            `json:"remainingQuantity" validate:"omitempty,gte=0"`
	Stock             *int            `json:"stock" validate:"omitempty,gte=0"`
	ReorderLevel      int             `json:"reorderLevel" validate:"gte=0"`
	LowStockThreshold *int            `json:"lowStockThreshold" validate:"omitempty,gte=0"`
	ExpiryDate        string          `json:"expiryDate"`
	BatchRef          string          `json:"batchRef" validate:"max=100"`
	InvoiceRef        string          `json:"invoiceRef" validate:"max=100"`
}

type ProductUpdateRequest struct {
	Name              *string          `json:"name" validate:"omitempty,min=1,max=200"`
	Category          *string          `json:"category" validate:"omitempty,max=100"`
	Price             *decimal.Decimal `json:"price"`
	CostPrice         *decimal.Decimal `json:"costPrice"`
	Supplier          *string          `json:"supplier" validate:"omitempty,max=200"`
	TotalQuantity     *int             `json:"totalQuantity" validate:"omitempty,gte=0"`
	RemainingQuantity *int             `json:"remainingQuantity" validate:"omitempty,gte=0"`
	ReorderLevel      *int             `json:"reorderLevel" validate:"omitempty,gte=0"`
	LowStockThreshold *int             `json:"lowStockThreshold" validate:"omitempty,gte=0"`
	ExpiryDate        *string          `json:"expiryDate"`
	BatchRef          *string          `json:"batchRef" validate:"omitempty,max=100"`
	InvoiceRef        *string          `json:"invoiceRef" validate:"omitempty,max=100"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name" validate:"required,max=200"`
	Phone   string `json:"phone" validate:"required,max=32"`
	Address string `json:"address" validate:"required,max=500"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name" validate:"omitempty,min=1,max=200"`
	Phone   *string `json:"phone" validate:"omitempty,min=1,max=32"`
	Address *string `json:"address" validate:"omitempty,min=1,max=500"`
}

type PaymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method" validate:"max=50"`
	Reference string          `json:"reference" validate:"max=100"`
	Note      string          `json:"note" validate:"max=500"`
}

// InvoiceOptions are the discount and advance-payment parameters shared by
// sale-driven and manual invoice creation.
type InvoiceOptions struct {
	DiscountType     string          `json:"discountType" validate:"omitempty,oneof=none percent fixed"`
	DiscountValue    decimal.Decimal `json:"discountValue"`
	AdvancePaid      decimal.Decimal `json:"advancePaid"`
	PaymentMethod    string          `json:"paymentMethod" validate:"max=50"`
	PaymentReference string          `json:"paymentReference" validate:"max=100"`
}

type SaleCreateRequest struct {
	Date          string          `json:"date"`
	Customer      string          `json:"customer" validate:"required_without=CustomerID,max=200"`
	CustomerID    string          `json:"customerId"`
	Product       string          `json:"product" validate:"required_without=ProductID,max=200"`
	ProductID     string          `json:"productId"`
	Quantity      int             `json:"quantity" validate:"gt=0"`
	Total         decimal.Decimal `json:"total"`
	Status        string          `json:"status" validate:"max=50"`
	CreateInvoice bool            `json:"createInvoice"`
	InvoiceOptions
}

type SaleUpdateRequest struct {
	Date     *string          `json:"date"`
	Customer *string          `json:"customer" validate:"omitempty,min=1,max=200"`
	Product  *string          `json:"product" validate:"omitempty,min=1,max=200"`
	Quantity *int             `json:"quantity" validate:"omitempty,gt=0"`
	Total    *decimal.Decimal `json:"total"`
	Status   *string          `json:"status" validate:"omitempty,max=50"`
}

type InvoiceItemRequest struct {
	Product   string          `json:"product" validate:"required,max=200"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price"`
}

type ManualInvoiceRequest struct {
	Date       string               `json:"date"`
	Customer   string               `json:"customer" validate:"required_without=CustomerID,max=200"`
	CustomerID string               `json:"customerId"`
	Items      []InvoiceItemRequest `json:"items" validate:"required,min=1,dive"`
	InvoiceOptions
}

type SettingsRequest struct {
	OwnerName      string `json:"ownerName" validate:"max=200"`
	ShopName       string `json:"shopName" validate:"max=200"`
	Address        string `json:"address" validate:"max=500"`
	Contact        string `json:"contact" validate:"max=200"`
	LogoURL        string `json:"logoUrl" validate:"max=1000"`
	NearExpiryDays *int   `json:"nearExpiryDays" validate:"omitempty,gte=1,lte=3650"`
}

type Event struct {
	Type       string    `json:"type"`
	OwnerID    string    `json:"ownerId"`
	EntityID   string    `json:"entityId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}
