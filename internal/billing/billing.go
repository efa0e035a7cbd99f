// Package billing holds the invoice, payment and customer-balance arithmetic.
// Functions here are pure: callers load and persist the records.
package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
)

const moneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Figures are the computed amounts of a single invoice.
type Figures struct {
	Subtotal         decimal.Decimal
	DiscountType     string
	DiscountValue    decimal.Decimal
	Total            decimal.Decimal
	AdvancePaid      decimal.Decimal
	RemainingBalance decimal.Decimal
	PaymentStatus    string
}

func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(moneyPlaces)
}

func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// NormalizeDiscountType maps an empty type to none. The second result is
// false for unknown types.
func NormalizeDiscountType(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", domain.DiscountNone:
		return domain.DiscountNone, true
	case domain.DiscountPercent:
		return domain.DiscountPercent, true
	case domain.DiscountFixed:
		return domain.DiscountFixed, true
	default:
		return "", false
	}
}

// ApplyDiscount returns the discounted total, never below zero.
func ApplyDiscount(subtotal decimal.Decimal, discountType string, value decimal.Decimal) decimal.Decimal {
	value = NonNegative(value)
	var total decimal.Decimal
	switch discountType {
	case domain.DiscountPercent:
		total = subtotal.Sub(subtotal.Mul(value).Div(hundred))
	case domain.DiscountFixed:
		total = subtotal.Sub(value)
	default:
		total = subtotal
	}
	return Money(NonNegative(total))
}

func RemainingBalance(total decimal.Decimal, advancePaid decimal.Decimal) decimal.Decimal {
	return Money(NonNegative(total.Sub(advancePaid)))
}

func PaymentStatus(remaining decimal.Decimal, advancePaid decimal.Decimal) string {
	switch {
	case !remaining.IsPositive():
		return domain.PaymentStatusPaid
	case advancePaid.IsPositive():
		return domain.PaymentStatusPartial
	default:
		return domain.PaymentStatusCredit
	}
}

// Compute derives every invoice amount from the subtotal and options.
// Negative discount values and advances are clamped to zero.
func Compute(subtotal decimal.Decimal, discountType string, discountValue decimal.Decimal, advancePaid decimal.Decimal) Figures {
	discountValue = NonNegative(discountValue)
	advancePaid = Money(NonNegative(advancePaid))
	subtotal = Money(NonNegative(subtotal))

	total := ApplyDiscount(subtotal, discountType, discountValue)
	remaining := RemainingBalance(total, advancePaid)
	return Figures{
		Subtotal:         subtotal,
		DiscountType:     discountType,
		DiscountValue:    discountValue,
		Total:            total,
		AdvancePaid:      advancePaid,
		RemainingBalance: remaining,
		PaymentStatus:    PaymentStatus(remaining, advancePaid),
	}
}

// UnitPrice splits a sale total across its quantity.
func UnitPrice(total decimal.Decimal, quantity int) decimal.Decimal {
	if quantity <= 0 {
		return Money(total)
	}
	return total.DivRound(decimal.NewFromInt(int64(quantity)), moneyPlaces)
}

func LineTotal(price decimal.Decimal, quantity int) decimal.Decimal {
	return Money(price.Mul(decimal.NewFromInt(int64(quantity))))
}

func FormatInvoiceNumber(seq int64) string {
	return fmt.Sprintf("INV-%04d", seq)
}

// ParseInvoiceNumber reads the numeric suffix after the last dash.
func ParseInvoiceNumber(number string) (int64, bool) {
	idx := strings.LastIndex(number, "-")
	if idx < 0 || idx == len(number)-1 {
		return 0, false
	}
	seq, err := strconv.ParseInt(number[idx+1:], 10, 64)
	if err != nil || seq < 0 {
		return 0, false
	}
	return seq, true
}

// ApplyPayment reduces a remaining balance. Any amount beyond the balance is
// returned as unapplied instead of becoming a credit.
func ApplyPayment(remaining decimal.Decimal, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	next := remaining.Sub(amount)
	if next.IsNegative() {
		return decimal.Zero, Money(next.Neg())
	}
	return Money(next), decimal.Zero
}

func NewPaymentEntry(amount decimal.Decimal, paymentType string, method string, reference string, note string, at time.Time) domain.PaymentEntry {
	method = strings.TrimSpace(method)
	if method == "" {
		method = domain.DefaultPaymentMethod
	}
	return domain.PaymentEntry{
		Amount:    Money(amount),
		Date:      at.UTC(),
		Type:      paymentType,
		Method:    method,
		Reference: strings.TrimSpace(reference),
		Note:      strings.TrimSpace(note),
	}
}

// PayCustomer records a direct payment on the customer and returns the entry
// as appended to its history.
func PayCustomer(customer *domain.Customer, entry domain.PaymentEntry) domain.PaymentEntry {
	remaining, unapplied := ApplyPayment(customer.RemainingBalance, entry.Amount)
	entry.Unapplied = unapplied
	customer.TotalPaid = Money(customer.TotalPaid.Add(entry.Amount))
	customer.RemainingBalance = remaining
	customer.IsCredit = remaining.IsPositive()
	customer.PaymentHistory = append(customer.PaymentHistory, entry)
	return entry
}

// PayInvoice records a payment against the invoice and recomputes its status.
func PayInvoice(invoice *domain.Invoice, entry domain.PaymentEntry) domain.PaymentEntry {
	remaining, unapplied := ApplyPayment(invoice.RemainingBalance, entry.Amount)
	entry.Unapplied = unapplied
	entry.InvoiceID = invoice.ID
	invoice.AdvancePaid = Money(invoice.AdvancePaid.Add(entry.Amount))
	invoice.RemainingBalance = remaining
	invoice.PaymentStatus = PaymentStatus(remaining, invoice.AdvancePaid)
	invoice.PaymentHistory = append(invoice.PaymentHistory, entry)
	return entry
}

// ChargeCustomer folds a new invoice into the customer's running totals:
// the advance counts as paid and the invoice's remaining balance is owed.
func ChargeCustomer(customer *domain.Customer, invoice domain.Invoice) {
	customer.TotalPaid = Money(customer.TotalPaid.Add(invoice.AdvancePaid))
	customer.RemainingBalance = Money(customer.RemainingBalance.Add(invoice.RemainingBalance))
	customer.IsCredit = customer.RemainingBalance.IsPositive()
	if invoice.AdvancePaid.IsPositive() {
		entry := NewPaymentEntry(invoice.AdvancePaid, domain.PaymentTypeAdvance, invoice.PaymentMethod, invoice.PaymentReference, "advance for "+invoice.InvoiceNumber, invoice.CreatedAt)
		entry.InvoiceID = invoice.ID
		customer.PaymentHistory = append(customer.PaymentHistory, entry)
	}
}

func AddPurchase(customer *domain.Customer, total decimal.Decimal) {
	customer.TotalPurchases = Money(customer.TotalPurchases.Add(total))
}

// Replay folds ledger entries, in order, into running totals. Payments floor
// the balance at zero exactly as live payments do. Charges are recorded net of
// any advance, so advances only count towards the paid total.
func Replay(entries []domain.LedgerEntry) domain.Balances {
	var b domain.Balances
	for _, entry := range entries {
		switch entry.Kind {
		case domain.LedgerPurchase:
			b.TotalPurchases = b.TotalPurchases.Add(entry.Amount)
		case domain.LedgerCharge:
			b.RemainingBalance = b.RemainingBalance.Add(entry.Amount)
		case domain.LedgerAdvance:
			b.TotalPaid = b.TotalPaid.Add(entry.Amount)
		case domain.LedgerPayment:
			b.TotalPaid = b.TotalPaid.Add(entry.Amount)
			b.RemainingBalance, _ = ApplyPayment(b.RemainingBalance, entry.Amount)
		case domain.LedgerAdjustment:
			b.RemainingBalance = NonNegative(b.RemainingBalance.Add(entry.Amount))
		}
	}
	return domain.Balances{
		TotalPurchases:   Money(b.TotalPurchases),
		TotalPaid:        Money(b.TotalPaid),
		RemainingBalance: Money(b.RemainingBalance),
	}
}

func BalancesOf(customer domain.Customer) domain.Balances {
	return domain.Balances{
		TotalPurchases:   Money(customer.TotalPurchases),
		TotalPaid:        Money(customer.TotalPaid),
		RemainingBalance: Money(customer.RemainingBalance),
	}
}

func SameBalances(a domain.Balances, b domain.Balances) bool {
	return a.TotalPurchases.Equal(b.TotalPurchases) &&
		a.TotalPaid.Equal(b.TotalPaid) &&
		a.RemainingBalance.Equal(b.RemainingBalance)
}
