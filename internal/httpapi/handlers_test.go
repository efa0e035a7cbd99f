package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := memory.New()
	svc := service.New(repo, service.Options{Logger: logger})
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, repo)
	return New(svc, auth, Options{AllowedOrigin: "*", Logger: logger})
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (body: %s)", err, rec.Body.String())
	}
	return out
}

// signupOwner registers a fresh owner and returns its bearer token.
func signupOwner(t *testing.T, handler http.Handler, email string) string {
	t.Helper()

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"name":     "Owner",
		"email":    email,
		"password": "secret123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup failed: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.LoginResponse](t, rec)
	if strings.TrimSpace(resp.AccessToken) == "" {
		t.Fatalf("expected access token in signup response")
	}
	return resp.AccessToken
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true || body["store"] != "up" {
		t.Fatalf("expected ok:true store:up, got %v", body)
	}
}

func TestSignupLoginAndMe(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	token := signupOwner(t, handler, "Owner@Shop.test")

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    "owner@shop.test",
		"password": "another1",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate email, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "owner@shop.test",
		"password": "secret123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sawCookie bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == tokenCookie && c.Value != "" && c.HttpOnly {
			sawCookie = true
		}
	}
	if !sawCookie {
		t.Fatalf("expected %s cookie on login", tokenCookie)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from me, got %d", rec.Code)
	}
	profile := decodeBody[domain.OwnerProfile](t, rec)
	if profile.Email != "owner@shop.test" || profile.Role != domain.RoleOwner {
		t.Fatalf("unexpected profile %+v", profile)
	}
}

func TestSignupValidation(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":    "not-an-email",
		"password": "123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	body := decodeBody[struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}](t, rec)
	if body.Fields["email"] == "" || body.Fields["password"] == "" {
		t.Fatalf("expected email and password field errors, got %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	signupOwner(t, handler, "owner@shop.test")

	rec := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "owner@shop.test",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api.Handler(), http.MethodGet, "/api/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = doJSON(t, api.Handler(), http.MethodGet, "/api/products", "not-a-jwt", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestSaleToInvoiceToPaymentFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := signupOwner(t, handler, "owner@shop.test")

	rec := doJSON(t, handler, http.MethodPost, "/api/products", token, map[string]any{
		"name":          "Urea",
		"category":      "fertilizer",
		"price":         10,
		"totalQuantity": 100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: %d %s", rec.Code, rec.Body.String())
	}
	product := decodeBody[domain.Product](t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/api/customers", token, map[string]any{
		"name":    "Ali",
		"phone":   "0301 2345678",
		"address": "Main Bazaar",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer: %d %s", rec.Code, rec.Body.String())
	}
	customer := decodeBody[domain.Customer](t, rec)

	rec = doJSON(t, handler, http.MethodPost, "/api/sales", token, map[string]any{
		"customer":      "Ali",
		"product":       "Urea",
		"quantity":      30,
		"total":         300,
		"createInvoice": true,
		"discountType":  "percent",
		"discountValue": 10,
		"advancePaid":   100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create sale: %d %s", rec.Code, rec.Body.String())
	}
	sale := decodeBody[domain.Sale](t, rec)
	if sale.InvoiceID == "" || sale.ProductID != product.ID || sale.CustomerID != customer.ID {
		t.Fatalf("unexpected sale %+v", sale)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/invoices/"+sale.InvoiceID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get invoice: %d", rec.Code)
	}
	invoice := decodeBody[domain.Invoice](t, rec)
	if invoice.InvoiceNumber != "INV-0001" || invoice.PaymentStatus != domain.PaymentStatusPartial || invoice.RemainingBalance.String() != "170" {
		t.Fatalf("unexpected invoice %+v", invoice)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/invoices/from-sale/"+sale.ID, token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("invoice from sale: %d %s", rec.Code, rec.Body.String())
	}
	if again := decodeBody[domain.Invoice](t, rec); again.ID != invoice.ID {
		t.Fatalf("expected existing invoice back, got %s", again.ID)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/invoices/"+invoice.ID+"/pay", token, map[string]any{"amount": 170})
	if rec.Code != http.StatusOK {
		t.Fatalf("pay invoice: %d %s", rec.Code, rec.Body.String())
	}
	if paid := decodeBody[domain.Invoice](t, rec); paid.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("expected Paid, got %s", paid.PaymentStatus)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/customers/"+customer.ID, token, nil)
	if got := decodeBody[domain.Customer](t, rec); !got.RemainingBalance.IsZero() || got.TotalPurchases.String() != "300" {
		t.Fatalf("unexpected customer totals %+v", got)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/customers/"+customer.ID+"/reconcile", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", rec.Code, rec.Body.String())
	}
	if report := decodeBody[domain.ReconcileReport](t, rec); report.Drift || report.Entries != 4 {
		t.Fatalf("unexpected reconcile report %+v", report)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/products/"+product.ID, token, nil)
	if got := decodeBody[domain.Product](t, rec); got.RemainingQuantity != 70 {
		t.Fatalf("expected remaining 70, got %d", got.RemainingQuantity)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := signupOwner(t, handler, "owner@shop.test")

	rec := doJSON(t, handler, http.MethodPost, "/api/products", token, map[string]any{"name": "DAP", "totalQuantity": 2})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create product: %d", rec.Code)
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{name: "insufficient stock", method: http.MethodPost, path: "/api/sales", body: map[string]any{"customer": "x", "product": "DAP", "quantity": 5}, want: http.StatusBadRequest},
		{name: "missing quantity", method: http.MethodPost, path: "/api/sales", body: map[string]any{"customer": "x", "product": "DAP"}, want: http.StatusBadRequest},
		{name: "unknown field", method: http.MethodPost, path: "/api/sales", body: map[string]any{"customer": "x", "product": "DAP", "quantity": 1, "bogus": true}, want: http.StatusBadRequest},
		{name: "missing sale", method: http.MethodPost, path: "/api/invoices/from-sale/sal-missing", body: nil, want: http.StatusNotFound},
		{name: "missing product", method: http.MethodGet, path: "/api/products/prd-missing", body: nil, want: http.StatusNotFound},
		{name: "zero payment", method: http.MethodPost, path: "/api/invoices/inv-1/pay", body: map[string]any{"amount": 0}, want: http.StatusBadRequest},
		{name: "unknown invoice action", method: http.MethodPost, path: "/api/invoices/inv-1/void", body: nil, want: http.StatusNotFound},
		{name: "bad settings", method: http.MethodPut, path: "/api/settings", body: map[string]any{"nearExpiryDays": 0}, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, handler, tc.method, tc.path, token, tc.body)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d (body: %s)", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestOwnersSeeOnlyTheirRecords(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	alice := signupOwner(t, handler, "alice@shop.test")
	bob := signupOwner(t, handler, "bob@shop.test")

	rec := doJSON(t, handler, http.MethodPost, "/api/products", alice, map[string]any{"name": "Urea", "totalQuantity": 10})
	product := decodeBody[domain.Product](t, rec)

	rec = doJSON(t, handler, http.MethodGet, "/api/products/"+product.ID, bob, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 across owners, got %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/products", bob, nil)
	if page := decodeBody[domain.Page[domain.Product]](t, rec); page.Total != 0 {
		t.Fatalf("expected empty list for other owner, got %d", page.Total)
	}
}

func TestDashboardAndAlerts(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := signupOwner(t, handler, "owner@shop.test")

	soon := time.Now().UTC().AddDate(0, 0, 3).Format(domain.DateLayout)
	doJSON(t, handler, http.MethodPost, "/api/products", token, map[string]any{"name": "Spray", "totalQuantity": 3, "expiryDate": soon})
	doJSON(t, handler, http.MethodPost, "/api/sales", token, map[string]any{"customer": "x", "product": "Spray", "quantity": 1})

	rec := doJSON(t, handler, http.MethodGet, "/api/dashboard/stats", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: %d", rec.Code)
	}
	stats := decodeBody[domain.DashboardStats](t, rec)
	if stats.TotalProducts != 1 || stats.TotalSales != 1 || stats.LowStockProducts != 1 || stats.NearExpiryCount != 1 || len(stats.SalesChartData) != 7 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/dashboard/alerts/low-stock?limit=500", token, nil)
	low := decodeBody[domain.Page[domain.Product]](t, rec)
	if low.Total != 1 || low.Limit != 100 {
		t.Fatalf("unexpected low-stock page %+v", low)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/dashboard/alerts/near-expiry?days=1", token, nil)
	expiring := decodeBody[domain.ExpiryPage](t, rec)
	if expiring.Total != 0 || expiring.Cutoff.IsZero() {
		t.Fatalf("expected nothing within 1 day, got %+v", expiring)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/dashboard/alerts/near-expiry", token, nil)
	if expiring = decodeBody[domain.ExpiryPage](t, rec); expiring.Total != 1 {
		t.Fatalf("expected 1 product within the default window, got %d", expiring.Total)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := signupOwner(t, handler, "owner@shop.test")

	rec := doJSON(t, handler, http.MethodGet, "/api/settings", token, nil)
	if got := decodeBody[domain.Settings](t, rec); got.ShopName != domain.DefaultShopName || got.NearExpiryDays != 30 {
		t.Fatalf("unexpected default settings %+v", got)
	}

	rec = doJSON(t, handler, http.MethodPut, "/api/settings", token, map[string]any{"shopName": "Agri Center", "nearExpiryDays": 14})
	if rec.Code != http.StatusOK {
		t.Fatalf("update settings: %d %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/settings", token, nil)
	if got := decodeBody[domain.Settings](t, rec); got.ShopName != "Agri Center" || got.NearExpiryDays != 14 || got.LogoURL != domain.DefaultLogoURL {
		t.Fatalf("unexpected saved settings %+v", got)
	}
}

func TestExportInvoicesReturnsWorkbook(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := signupOwner(t, handler, "owner@shop.test")

	rec := doJSON(t, handler, http.MethodPost, "/api/invoices", token, map[string]any{
		"customer": "Walk-in",
		"items":    []map[string]any{{"product": "Urea", "quantity": 2, "price": 5}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("manual invoice: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/exports/invoices.xlsx", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export: %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != service.XLSXContentType {
		t.Fatalf("unexpected content type %q", got)
	}
	f, err := excelize.OpenReader(rec.Body)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer func() { _ = f.Close() }()
	number, _ := f.GetCellValue("Sheet1", "A2")
	if number != "INV-0001" {
		t.Fatalf("expected INV-0001 in A2, got %q", number)
	}
}
