package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables and indexes. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	email := strings.ToLower(strings.TrimSpace(user.Email))
	if user.ID == "" || email == "" || user.Password == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.ID, user.Name, email, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return store.ErrConflict
		}
		return classify(err)
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	return s.getUser(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.UserAccount, error) {
	return s.getUser(ctx, "id", id)
}

func (s *Store) getUser(ctx context.Context, column string, value string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role, created_at
		FROM users
		WHERE `+column+` = $1
	`, value).Scan(&user.ID, &user.Name, &user.Email, &user.Password, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return &user, nil
}

const productColumns = `id, owner_id, name, category, price, cost_price, supplier, total_quantity,
	remaining_quantity, stock, reorder_level, low_stock_threshold, expiry_date, batch_ref,
	invoice_ref, created_at, updated_at`

// Rows written before remaining quantities existed carry NULL there; the
// legacy stock column stands in until the backfill runs.
const remainingExpr = `COALESCE(remaining_quantity, stock)`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	var remaining sql.NullInt64
	var expiry sql.NullTime
	err := row.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Category, &p.Price, &p.CostPrice, &p.Supplier,
		&p.TotalQuantity, &remaining, &p.Stock, &p.ReorderLevel, &p.LowStockThreshold, &expiry,
		&p.BatchRef, &p.InvoiceRef, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if remaining.Valid {
		p.RemainingQuantity = int(remaining.Int64)
	} else {
		p.RemainingQuantity = p.Stock
	}
	if expiry.Valid {
		at := expiry.Time.UTC()
		p.ExpiryDate = &at
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, ownerID string, q domain.ListQuery) ([]domain.Product, int, error) {
	f := newFilter(ownerID)
	if search := strings.TrimSpace(q.Search); search != "" {
		p := f.arg(likePattern(search))
		f.where(fmt.Sprintf("(name ILIKE %[1]s OR category ILIKE %[1]s OR supplier ILIKE %[1]s OR batch_ref ILIKE %[1]s)", p))
	}
	if category := strings.TrimSpace(q.Category); category != "" {
		f.where("lower(category) = lower(" + f.arg(category) + ")")
	}
	switch q.Stock {
	case "in":
		f.where(remainingExpr + " > 0")
	case "low":
		f.where(remainingExpr + ` <= CASE
			WHEN reorder_level > 0 THEN reorder_level
			WHEN low_stock_threshold > 0 THEN low_stock_threshold
			ELSE 5 END`)
	}
	order := "created_at DESC, id DESC"
	if q.ExpiringBefore != nil {
		f.where("expiry_date IS NOT NULL AND expiry_date <= " + f.arg(*q.ExpiringBefore))
		order = "expiry_date ASC, id ASC"
	}

	total, err := s.count(ctx, "products", f)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products`+f.clause()+` ORDER BY `+order+f.page(q), f.args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 32)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return products, total, nil
}

func (s *Store) CreateProduct(ctx context.Context, p domain.Product) (*domain.Product, error) {
	if p.ID == "" || p.OwnerID == "" || strings.TrimSpace(p.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`, p.ID, p.OwnerID, p.Name, p.Category, p.Price, p.CostPrice, p.Supplier, p.TotalQuantity,
		p.RemainingQuantity, p.Stock, p.ReorderLevel, p.LowStockThreshold, nullTime(p.ExpiryDate),
		p.BatchRef, p.InvoiceRef, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, store.ErrConflict
		}
		return nil, classify(err)
	}
	created := p
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, ownerID string, id string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE owner_id = $1 AND id = $2`, ownerID, id)
	return notFound(scanProduct(row))
}

func (s *Store) FindProductByName(ctx context.Context, ownerID string, name string) (*domain.Product, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE owner_id = $1 AND lower(name) = lower($2)
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, ownerID, strings.TrimSpace(name))
	return notFound(scanProduct(row))
}

func (s *Store) MutateProduct(ctx context.Context, ownerID string, id string, fn func(*domain.Product) error) (*domain.Product, error) {
	var result *domain.Product
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id)
		p, err := notFound(scanProduct(row))
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET name = $3, category = $4, price = $5, cost_price = $6, supplier = $7,
				total_quantity = $8, remaining_quantity = $9, stock = $10, reorder_level = $11,
				low_stock_threshold = $12, expiry_date = $13, batch_ref = $14, invoice_ref = $15,
				updated_at = $16
			WHERE owner_id = $1 AND id = $2
		`, ownerID, id, p.Name, p.Category, p.Price, p.CostPrice, p.Supplier, p.TotalQuantity,
			p.RemainingQuantity, p.Stock, p.ReorderLevel, p.LowStockThreshold, nullTime(p.ExpiryDate),
			p.BatchRef, p.InvoiceRef, p.UpdatedAt)
		if err != nil {
			return err
		}
		p.ID, p.OwnerID = id, ownerID
		result = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteProduct(ctx context.Context, ownerID string, id string) error {
	return s.deleteOwned(ctx, "products", ownerID, id)
}

func (s *Store) BackfillRemainingQuantity(ctx context.Context, ownerID string) (domain.MigrationResult, error) {
	var result domain.MigrationResult
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE owner_id = $1`, ownerID).Scan(&result.Processed); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET remaining_quantity = CASE WHEN total_quantity > 0 THEN total_quantity ELSE stock END,
				updated_at = now()
			WHERE owner_id = $1 AND remaining_quantity IS NULL
		`, ownerID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		result.Updated = int(affected)
		return nil
	})
	return result, err
}

const customerColumns = `id, owner_id, name, phone, address, total_purchases, total_paid,
	remaining_balance, is_credit, payment_history, created_at, updated_at`

func scanCustomer(row rowScanner) (*domain.Customer, error) {
	var c domain.Customer
	var history []byte
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.Phone, &c.Address, &c.TotalPurchases, &c.TotalPaid,
		&c.RemainingBalance, &c.IsCredit, &history, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(history, &c.PaymentHistory); err != nil {
		return nil, fmt.Errorf("decode payment history of customer %s: %w", c.ID, err)
	}
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, ownerID string, q domain.ListQuery) ([]domain.Customer, int, error) {
	f := newFilter(ownerID)
	if search := strings.TrimSpace(q.Search); search != "" {
		p := f.arg(likePattern(search))
		f.where(fmt.Sprintf("(name ILIKE %[1]s OR phone ILIKE %[1]s OR address ILIKE %[1]s)", p))
	}

	total, err := s.count(ctx, "customers", f)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers`+f.clause()+` ORDER BY created_at DESC, id DESC`+f.page(q), f.args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 32)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return customers, total, nil
}

func (s *Store) CreateCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	if c.ID == "" || c.OwnerID == "" || strings.TrimSpace(c.Name) == "" {
		return nil, store.ErrInvalidInput
	}
	history, err := encodeJSONColumn(c.PaymentHistory)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, c.ID, c.OwnerID, c.Name, c.Phone, c.Address, c.TotalPurchases, c.TotalPaid,
		c.RemainingBalance, c.IsCredit, history, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, store.ErrConflict
		}
		return nil, classify(err)
	}
	created := c
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, ownerID string, id string) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE owner_id = $1 AND id = $2`, ownerID, id)
	return notFound(scanCustomer(row))
}

func (s *Store) FindCustomerByName(ctx context.Context, ownerID string, name string) (*domain.Customer, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE owner_id = $1 AND lower(name) = lower($2)
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, ownerID, strings.TrimSpace(name))
	return notFound(scanCustomer(row))
}

func (s *Store) MutateCustomer(ctx context.Context, ownerID string, id string, fn func(*domain.Customer) error) (*domain.Customer, error) {
	var result *domain.Customer
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id)
		c, err := notFound(scanCustomer(row))
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		history, err := encodeJSONColumn(c.PaymentHistory)
		if err != nil {
			return err
		}
		c.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE customers
			SET name = $3, phone = $4, address = $5, total_purchases = $6, total_paid = $7,
				remaining_balance = $8, is_credit = $9, payment_history = $10, updated_at = $11
			WHERE owner_id = $1 AND id = $2
		`, ownerID, id, c.Name, c.Phone, c.Address, c.TotalPurchases, c.TotalPaid,
			c.RemainingBalance, c.IsCredit, history, c.UpdatedAt)
		if err != nil {
			return err
		}
		c.ID, c.OwnerID = id, ownerID
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, ownerID string, id string) error {
	return s.deleteOwned(ctx, "customers", ownerID, id)
}

const saleColumns = `id, owner_id, sale_date, customer, customer_id, product, product_id, quantity,
	total, status, invoice_id, created_at, updated_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID, productID, invoiceID sql.NullString
	err := row.Scan(&sale.ID, &sale.OwnerID, &sale.Date, &sale.Customer, &customerID, &sale.Product,
		&productID, &sale.Quantity, &sale.Total, &sale.Status, &invoiceID, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sale.CustomerID = customerID.String
	sale.ProductID = productID.String
	sale.InvoiceID = invoiceID.String
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, ownerID string, q domain.ListQuery) ([]domain.Sale, int, error) {
	f := newFilter(ownerID)
	if search := strings.TrimSpace(q.Search); search != "" {
		p := f.arg(likePattern(search))
		f.where(fmt.Sprintf("(customer ILIKE %[1]s OR product ILIKE %[1]s OR status ILIKE %[1]s)", p))
	}
	if status := strings.TrimSpace(q.Status); status != "" {
		f.where("lower(status) = lower(" + f.arg(status) + ")")
	}

	total, err := s.count(ctx, "sales", f)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+saleColumns+` FROM sales`+f.clause()+` ORDER BY created_at DESC, id DESC`+f.page(q), f.args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 32)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return sales, total, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || sale.OwnerID == "" || sale.Quantity < 1 {
		return nil, store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales (`+saleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, sale.ID, sale.OwnerID, sale.Date, sale.Customer, nullIfEmpty(sale.CustomerID), sale.Product,
		nullIfEmpty(sale.ProductID), sale.Quantity, sale.Total, sale.Status, nullIfEmpty(sale.InvoiceID),
		sale.CreatedAt, sale.UpdatedAt)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return nil, store.ErrConflict
		}
		return nil, classify(err)
	}
	created := sale
	return &created, nil
}

func (s *Store) GetSale(ctx context.Context, ownerID string, id string) (*domain.Sale, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE owner_id = $1 AND id = $2`, ownerID, id)
	return notFound(scanSale(row))
}

func (s *Store) MutateSale(ctx context.Context, ownerID string, id string, fn func(*domain.Sale) error) (*domain.Sale, error) {
	var result *domain.Sale
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+saleColumns+` FROM sales WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id)
		sale, err := notFound(scanSale(row))
		if err != nil {
			return err
		}
		if err := fn(sale); err != nil {
			return err
		}
		sale.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE sales
			SET sale_date = $3, customer = $4, customer_id = $5, product = $6, product_id = $7,
				quantity = $8, total = $9, status = $10, invoice_id = $11, updated_at = $12
			WHERE owner_id = $1 AND id = $2
		`, ownerID, id, sale.Date, sale.Customer, nullIfEmpty(sale.CustomerID), sale.Product,
			nullIfEmpty(sale.ProductID), sale.Quantity, sale.Total, sale.Status,
			nullIfEmpty(sale.InvoiceID), sale.UpdatedAt)
		if err != nil {
			return err
		}
		sale.ID, sale.OwnerID = id, ownerID
		result = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteSale(ctx context.Context, ownerID string, id string) error {
	return s.deleteOwned(ctx, "sales", ownerID, id)
}

const invoiceColumns = `id, owner_id, invoice_number, invoice_date, customer, customer_id, items,
	subtotal, discount_type, discount_value, total, advance_paid, remaining_balance, payment_status,
	payment_method, payment_reference, payment_history, previous_customer_balance,
	new_customer_balance, sale_id, created_at, updated_at`

func scanInvoice(row rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var customerID, saleID sql.NullString
	var items, history []byte
	err := row.Scan(&inv.ID, &inv.OwnerID, &inv.InvoiceNumber, &inv.Date, &inv.Customer, &customerID,
		&items, &inv.Subtotal, &inv.DiscountType, &inv.DiscountValue, &inv.Total, &inv.AdvancePaid,
		&inv.RemainingBalance, &inv.PaymentStatus, &inv.PaymentMethod, &inv.PaymentReference, &history,
		&inv.PreviousCustomerBalance, &inv.NewCustomerBalance, &saleID, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.CustomerID = customerID.String
	inv.SaleID = saleID.String
	if err := decodeJSONColumn(items, &inv.Items); err != nil {
		return nil, fmt.Errorf("decode items of invoice %s: %w", inv.ID, err)
	}
	if err := decodeJSONColumn(history, &inv.PaymentHistory); err != nil {
		return nil, fmt.Errorf("decode payment history of invoice %s: %w", inv.ID, err)
	}
	return &inv, nil
}

func (s *Store) ListInvoices(ctx context.Context, ownerID string, q domain.ListQuery) ([]domain.Invoice, int, error) {
	f := newFilter(ownerID)
	if search := strings.TrimSpace(q.Search); search != "" {
		p := f.arg(likePattern(search))
		f.where(fmt.Sprintf("(invoice_number ILIKE %[1]s OR customer ILIKE %[1]s)", p))
	}
	if status := strings.TrimSpace(q.Status); status != "" {
		f.where("lower(payment_status) = lower(" + f.arg(status) + ")")
	}

	total, err := s.count(ctx, "invoices", f)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices`+f.clause()+` ORDER BY created_at DESC, id DESC`+f.page(q), f.args...)
	if err != nil {
		return nil, 0, classify(err)
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 32)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, classify(err)
	}
	return invoices, total, nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv domain.Invoice) (*domain.Invoice, error) {
	if inv.ID == "" || inv.OwnerID == "" || inv.InvoiceNumber == "" {
		return nil, store.ErrInvalidInput
	}
	items, err := encodeJSONColumn(inv.Items)
	if err != nil {
		return nil, err
	}
	history, err := encodeJSONColumn(inv.PaymentHistory)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
	`, inv.ID, inv.OwnerID, inv.InvoiceNumber, inv.Date, inv.Customer, nullIfEmpty(inv.CustomerID),
		items, inv.Subtotal, inv.DiscountType, inv.DiscountValue, inv.Total, inv.AdvancePaid,
		inv.RemainingBalance, inv.PaymentStatus, inv.PaymentMethod, inv.PaymentReference, history,
		inv.PreviousCustomerBalance, inv.NewCustomerBalance, nullIfEmpty(inv.SaleID), inv.CreatedAt,
		inv.UpdatedAt)
	if err != nil {
		if constraint, ok := uniqueViolation(err); ok {
			if constraint == "invoices_owner_number_key" {
				return nil, store.ErrDuplicateInvoiceNumber
			}
			return nil, store.ErrConflict
		}
		return nil, classify(err)
	}
	created := inv
	return &created, nil
}

func (s *Store) GetInvoice(ctx context.Context, ownerID string, id string) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE owner_id = $1 AND id = $2`, ownerID, id)
	return notFound(scanInvoice(row))
}

func (s *Store) FindInvoiceBySale(ctx context.Context, ownerID string, saleID string) (*domain.Invoice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE owner_id = $1 AND sale_id = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, ownerID, saleID)
	return notFound(scanInvoice(row))
}

func (s *Store) MutateInvoice(ctx context.Context, ownerID string, id string, fn func(*domain.Invoice) error) (*domain.Invoice, error) {
	var result *domain.Invoice
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE owner_id = $1 AND id = $2 FOR UPDATE`, ownerID, id)
		inv, err := notFound(scanInvoice(row))
		if err != nil {
			return err
		}
		number := inv.InvoiceNumber
		if err := fn(inv); err != nil {
			return err
		}
		items, err := encodeJSONColumn(inv.Items)
		if err != nil {
			return err
		}
		history, err := encodeJSONColumn(inv.PaymentHistory)
		if err != nil {
			return err
		}
		inv.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE invoices
			SET invoice_date = $3, customer = $4, customer_id = $5, items = $6, subtotal = $7,
				discount_type = $8, discount_value = $9, total = $10, advance_paid = $11,
				remaining_balance = $12, payment_status = $13, payment_method = $14,
				payment_reference = $15, payment_history = $16, sale_id = $17, updated_at = $18
			WHERE owner_id = $1 AND id = $2
		`, ownerID, id, inv.Date, inv.Customer, nullIfEmpty(inv.CustomerID), items, inv.Subtotal,
			inv.DiscountType, inv.DiscountValue, inv.Total, inv.AdvancePaid, inv.RemainingBalance,
			inv.PaymentStatus, inv.PaymentMethod, inv.PaymentReference, history,
			nullIfEmpty(inv.SaleID), inv.UpdatedAt)
		if err != nil {
			return err
		}
		inv.ID, inv.OwnerID, inv.InvoiceNumber = id, ownerID, number
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// NextInvoiceSequence bumps the owner's counter in one statement. The first
// call for an owner starts after the highest number already on file.
func (s *Store) NextInvoiceSequence(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, store.ErrInvalidInput
	}
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO invoice_counters (owner_id, last_seq)
		VALUES ($1, (
			SELECT COALESCE(MAX(substring(invoice_number FROM '([0-9]+)$')::bigint), 0) + 1
			FROM invoices
			WHERE owner_id = $1
		))
		ON CONFLICT (owner_id)
		DO UPDATE SET last_seq = invoice_counters.last_seq + 1
		RETURNING last_seq
	`, ownerID).Scan(&seq)
	if err != nil {
		return 0, classify(err)
	}
	return seq, nil
}

func (s *Store) AppendLedger(ctx context.Context, entry domain.LedgerEntry) error {
	if entry.ID == "" || entry.OwnerID == "" || entry.CustomerID == "" || entry.Kind == "" {
		return store.ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customer_ledger (id, owner_id, customer_id, kind, amount, sale_id, invoice_id, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.OwnerID, entry.CustomerID, entry.Kind, entry.Amount, nullIfEmpty(entry.SaleID),
		nullIfEmpty(entry.InvoiceID), entry.Note, entry.CreatedAt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) ListLedger(ctx context.Context, ownerID string, customerID string) ([]domain.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, customer_id, kind, amount, sale_id, invoice_id, note, created_at
		FROM customer_ledger
		WHERE owner_id = $1 AND customer_id = $2
		ORDER BY seq ASC
	`, ownerID, customerID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, 16)
	for rows.Next() {
		var entry domain.LedgerEntry
		var saleID, invoiceID sql.NullString
		if err := rows.Scan(&entry.ID, &entry.OwnerID, &entry.CustomerID, &entry.Kind, &entry.Amount,
			&saleID, &invoiceID, &entry.Note, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.SaleID = saleID.String
		entry.InvoiceID = invoiceID.String
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

func (s *Store) GetSettings(ctx context.Context, ownerID string) (*domain.Settings, error) {
	var settings domain.Settings
	err := s.db.QueryRowContext(ctx, `
		SELECT owner_id, owner_name, shop_name, address, contact, logo_url, near_expiry_days, updated_at
		FROM settings
		WHERE owner_id = $1
	`, ownerID).Scan(&settings.OwnerID, &settings.OwnerName, &settings.ShopName, &settings.Address,
		&settings.Contact, &settings.LogoURL, &settings.NearExpiryDays, &settings.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return &settings, nil
}

func (s *Store) UpsertSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error) {
	if settings.OwnerID == "" {
		return nil, store.ErrInvalidInput
	}
	settings.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (owner_id, owner_name, shop_name, address, contact, logo_url, near_expiry_days, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (owner_id)
		DO UPDATE SET owner_name = EXCLUDED.owner_name, shop_name = EXCLUDED.shop_name,
			address = EXCLUDED.address, contact = EXCLUDED.contact, logo_url = EXCLUDED.logo_url,
			near_expiry_days = EXCLUDED.near_expiry_days, updated_at = EXCLUDED.updated_at
	`, settings.OwnerID, settings.OwnerName, settings.ShopName, settings.Address, settings.Contact,
		settings.LogoURL, settings.NearExpiryDays, settings.UpdatedAt)
	if err != nil {
		return nil, classify(err)
	}
	return &settings, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (s *Store) deleteOwned(ctx context.Context, table string, ownerID string, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE owner_id = $1 AND id = $2`, ownerID, id)
	if err != nil {
		return classify(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) count(ctx context.Context, table string, f *filter) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table+f.clause(), f.args...).Scan(&total); err != nil {
		return 0, classify(err)
	}
	return total, nil
}

// filter accumulates owner-scoped WHERE clauses with positional args.
type filter struct {
	clauses []string
	args    []any
}

func newFilter(ownerID string) *filter {
	f := &filter{}
	f.where("owner_id = " + f.arg(ownerID))
	return f
}

func (f *filter) arg(v any) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

func (f *filter) where(clause string) {
	f.clauses = append(f.clauses, clause)
}

func (f *filter) clause() string {
	return " WHERE " + strings.Join(f.clauses, " AND ")
}

func (f *filter) page(q domain.ListQuery) string {
	if q.Limit <= 0 {
		return ""
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, (page-1)*q.Limit)
}

func likePattern(search string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(search) + "%"
}

func notFound[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, classify(err)
	}
	return v, nil
}

// classify maps connection-level failures to store.ErrUnavailable and leaves
// everything else untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}

func uniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func encodeJSONColumn(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(payload) == "null" {
		return []byte("[]"), nil
	}
	return payload, nil
}

func decodeJSONColumn(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
