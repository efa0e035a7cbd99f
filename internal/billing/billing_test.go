package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestComputePercentDiscountWithAdvance(t *testing.T) {
	got := Compute(dec("300"), domain.DiscountPercent, dec("10"), dec("100"))

	if !got.Subtotal.Equal(dec("300")) {
		t.Fatalf("expected subtotal 300, got %s", got.Subtotal)
	}
	if !got.Total.Equal(dec("270")) {
		t.Fatalf("expected total 270, got %s", got.Total)
	}
	if !got.RemainingBalance.Equal(dec("170")) {
		t.Fatalf("expected remaining 170, got %s", got.RemainingBalance)
	}
	if got.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("expected Partial, got %s", got.PaymentStatus)
	}
}

func TestApplyDiscountNeverNegative(t *testing.T) {
	cases := []struct {
		name     string
		subtotal string
		kind     string
		value    string
		want     string
	}{
		{"percent", "200", domain.DiscountPercent, "25", "150"},
		{"percent over hundred", "200", domain.DiscountPercent, "150", "0"},
		{"fixed", "200", domain.DiscountFixed, "50", "150"},
		{"fixed above subtotal", "200", domain.DiscountFixed, "500", "0"},
		{"none ignores value", "200", domain.DiscountNone, "50", "200"},
		{"negative value clamped", "200", domain.DiscountFixed, "-30", "200"},
		{"fractional percent", "99.99", domain.DiscountPercent, "12.5", "87.49"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ApplyDiscount(dec(tc.subtotal), tc.kind, dec(tc.value))
			if !got.Equal(dec(tc.want)) {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestPaymentStatusDerivation(t *testing.T) {
	cases := []struct {
		remaining string
		advance   string
		want      string
	}{
		{"0", "0", domain.PaymentStatusPaid},
		{"0", "50", domain.PaymentStatusPaid},
		{"10", "50", domain.PaymentStatusPartial},
		{"10", "0", domain.PaymentStatusCredit},
	}
	for _, tc := range cases {
		if got := PaymentStatus(dec(tc.remaining), dec(tc.advance)); got != tc.want {
			t.Fatalf("remaining=%s advance=%s: expected %s, got %s", tc.remaining, tc.advance, tc.want, got)
		}
	}
}

func TestComputeClampsNegativeAdvance(t *testing.T) {
	got := Compute(dec("80"), domain.DiscountNone, decimal.Zero, dec("-20"))
	if !got.AdvancePaid.IsZero() {
		t.Fatalf("expected advance clamped to 0, got %s", got.AdvancePaid)
	}
	if !got.RemainingBalance.Equal(dec("80")) || got.PaymentStatus != domain.PaymentStatusCredit {
		t.Fatalf("unexpected figures: %+v", got)
	}
}

func TestNormalizeDiscountType(t *testing.T) {
	if got, ok := NormalizeDiscountType(""); !ok || got != domain.DiscountNone {
		t.Fatalf("expected empty to map to none, got %q %v", got, ok)
	}
	if got, ok := NormalizeDiscountType(" Percent "); !ok || got != domain.DiscountPercent {
		t.Fatalf("expected percent, got %q %v", got, ok)
	}
	if _, ok := NormalizeDiscountType("bogo"); ok {
		t.Fatal("expected unknown discount type to be rejected")
	}
}

func TestInvoiceNumberFormatAndParse(t *testing.T) {
	cases := map[int64]string{
		1:     "INV-0001",
		42:    "INV-0042",
		9999:  "INV-9999",
		10000: "INV-10000",
	}
	for seq, want := range cases {
		got := FormatInvoiceNumber(seq)
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
		parsed, ok := ParseInvoiceNumber(got)
		if !ok || parsed != seq {
			t.Fatalf("round trip of %s gave %d %v", got, parsed, ok)
		}
	}
	for _, bad := range []string{"", "INV-", "INV-abc", "0001"} {
		if _, ok := ParseInvoiceNumber(bad); ok {
			t.Fatalf("expected %q to fail parsing", bad)
		}
	}
}

func TestUnitPriceRounds(t *testing.T) {
	if got := UnitPrice(dec("300"), 30); !got.Equal(dec("10")) {
		t.Fatalf("expected 10, got %s", got)
	}
	if got := UnitPrice(dec("100"), 3); !got.Equal(dec("33.33")) {
		t.Fatalf("expected 33.33, got %s", got)
	}
}

func TestPayCustomerFloorsAndTracksUnapplied(t *testing.T) {
	customer := domain.Customer{RemainingBalance: dec("50"), TotalPaid: dec("10"), IsCredit: true}
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	entry := PayCustomer(&customer, NewPaymentEntry(dec("80"), domain.PaymentTypePayment, "", "", "manual", at))

	if !customer.RemainingBalance.IsZero() {
		t.Fatalf("expected balance floored at 0, got %s", customer.RemainingBalance)
	}
	if !customer.TotalPaid.Equal(dec("90")) {
		t.Fatalf("expected total paid 90, got %s", customer.TotalPaid)
	}
	if customer.IsCredit {
		t.Fatal("expected isCredit false after full payment")
	}
	if !entry.Unapplied.Equal(dec("30")) {
		t.Fatalf("expected unapplied 30, got %s", entry.Unapplied)
	}
	if len(customer.PaymentHistory) != 1 || !customer.PaymentHistory[0].Amount.Equal(dec("80")) {
		t.Fatalf("expected one history entry of 80, got %+v", customer.PaymentHistory)
	}
	if entry.Method != domain.DefaultPaymentMethod || !entry.Date.Equal(at) {
		t.Fatalf("unexpected entry defaults: %+v", entry)
	}
}

func TestPayInvoiceRecomputesStatus(t *testing.T) {
	invoice := domain.Invoice{ID: "inv-1", Total: dec("270"), AdvancePaid: dec("100"), RemainingBalance: dec("170"), PaymentStatus: domain.PaymentStatusPartial}

	PayInvoice(&invoice, NewPaymentEntry(dec("70"), domain.PaymentTypePayment, "Card", "", "", time.Now()))
	if !invoice.RemainingBalance.Equal(dec("100")) || invoice.PaymentStatus != domain.PaymentStatusPartial {
		t.Fatalf("after first payment: %s %s", invoice.RemainingBalance, invoice.PaymentStatus)
	}

	entry := PayInvoice(&invoice, NewPaymentEntry(dec("100"), domain.PaymentTypePayment, "Card", "", "", time.Now()))
	if !invoice.RemainingBalance.IsZero() || invoice.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("after second payment: %s %s", invoice.RemainingBalance, invoice.PaymentStatus)
	}
	if !invoice.AdvancePaid.Equal(dec("270")) {
		t.Fatalf("expected advance 270, got %s", invoice.AdvancePaid)
	}
	if entry.InvoiceID != "inv-1" || len(invoice.PaymentHistory) != 2 {
		t.Fatalf("expected history linked to invoice, got %+v", invoice.PaymentHistory)
	}
}

func TestChargeCustomerAppendsAdvance(t *testing.T) {
	customer := domain.Customer{RemainingBalance: dec("20")}
	invoice := domain.Invoice{ID: "inv-9", InvoiceNumber: "INV-0009", AdvancePaid: dec("100"), RemainingBalance: dec("170"), CreatedAt: time.Now()}

	ChargeCustomer(&customer, invoice)

	if !customer.RemainingBalance.Equal(dec("190")) || !customer.TotalPaid.Equal(dec("100")) || !customer.IsCredit {
		t.Fatalf("unexpected customer totals: %+v", customer)
	}
	if len(customer.PaymentHistory) != 1 || customer.PaymentHistory[0].Type != domain.PaymentTypeAdvance {
		t.Fatalf("expected advance entry, got %+v", customer.PaymentHistory)
	}

	noAdvance := domain.Customer{}
	ChargeCustomer(&noAdvance, domain.Invoice{RemainingBalance: dec("50")})
	if len(noAdvance.PaymentHistory) != 0 {
		t.Fatalf("expected no history entry without advance, got %+v", noAdvance.PaymentHistory)
	}
}

func TestReplayMatchesLiveUpdates(t *testing.T) {
	live := domain.Customer{}
	var entries []domain.LedgerEntry

	AddPurchase(&live, dec("300"))
	entries = append(entries, domain.LedgerEntry{Kind: domain.LedgerPurchase, Amount: dec("300")})

	invoice := domain.Invoice{AdvancePaid: dec("100"), RemainingBalance: dec("170"), CreatedAt: time.Now()}
	ChargeCustomer(&live, invoice)
	entries = append(entries,
		domain.LedgerEntry{Kind: domain.LedgerCharge, Amount: dec("170")},
		domain.LedgerEntry{Kind: domain.LedgerAdvance, Amount: dec("100")},
	)

	PayCustomer(&live, NewPaymentEntry(dec("250"), domain.PaymentTypePayment, "", "", "", time.Now()))
	entries = append(entries, domain.LedgerEntry{Kind: domain.LedgerPayment, Amount: dec("250")})

	replayed := Replay(entries)
	if !SameBalances(replayed, BalancesOf(live)) {
		t.Fatalf("replay %+v does not match live %+v", replayed, BalancesOf(live))
	}
	if !replayed.RemainingBalance.IsZero() || !replayed.TotalPaid.Equal(dec("350")) {
		t.Fatalf("unexpected replay totals: %+v", replayed)
	}
}
