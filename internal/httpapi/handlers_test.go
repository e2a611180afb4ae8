package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thechillpixel0/tallyra/internal/calculator"
	"github.com/thechillpixel0/tallyra/internal/domain"
	"github.com/thechillpixel0/tallyra/internal/service"
	"github.com/thechillpixel0/tallyra/internal/store/memory"
)

const (
	ownerPasscode = "8642"
	staffPasscode = "2468"
)

type testServer struct {
	api     *API
	handler http.Handler
	repo    *memory.Store
}

// newTestServer wires the real service and auth manager over the seeded
// in-memory store so handler tests exercise the full request path.
func newTestServer(t *testing.T) testServer {
	t.Helper()

	repo, err := memory.NewSeeded(ownerPasscode, staffPasscode)
	require.NoError(t, err)
	svc := service.New(repo, nil, service.Options{Logger: zerolog.Nop()})
	auth := NewAuthManager("test-secret-key-test-secret-key!", time.Hour)
	api := New(svc, auth, Options{AllowedOrigin: "*", LoginAttemptsPerMinute: 5, Logger: zerolog.Nop()})
	return testServer{api: api, handler: api.Handler(), repo: repo}
}

func (s testServer) do(t *testing.T, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s testServer) login(t *testing.T, role domain.Role, passcode string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"shop_id":  memory.DemoShopID,
		"role":     string(role),
		"passcode": passcode,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.NotEmpty(t, resp.AccessToken)
	return resp.AccessToken
}

type calculatorResponse struct {
	Calculator calculator.Snapshot `json:"calculator"`
	Error      string              `json:"error"`
}

func (s testServer) calc(t *testing.T, token string, action string, body any) (int, calculatorResponse) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/calculator/"+action, token, body)
	var resp calculatorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp), rec.Body.String())
	return rec.Code, resp
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["ok"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestLoginOwnerAndStaff(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"shop_id": memory.DemoShopID, "role": "owner", "passcode": ownerPasscode,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp domain.LoginResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, domain.RoleOwner, resp.Session.Role)
	assert.NotEmpty(t, resp.Session.ID)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"shop_id": memory.DemoShopID, "role": "staff", "passcode": staffPasscode,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "Asha", resp.Session.StaffName)
}

func TestLoginRejectsWrongPasscode(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"shop_id": memory.DemoShopID, "role": "owner", "passcode": "0000",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid credentials", decodeBody(t, rec)["error"])
}

func TestLoginRejectsUnknownFields(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"shop_id": memory.DemoShopID, "role": "owner", "passcode": ownerPasscode, "username": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t)

	var lastCode int
	for i := 0; i < 6; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"shop_id": memory.DemoShopID, "role": "owner", "passcode": "0000",
		})
		lastCode = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, lastCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/items", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/calculator", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffCannotManageCatalogOrStaff(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, domain.RoleStaff, staffPasscode)

	rec := s.do(t, http.MethodPost, "/api/v1/items", token, map[string]any{"name": "Pen", "base_price": "10"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/staff", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/items", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := decodeBody(t, rec)["items"].([]any)
	assert.Len(t, items, 6)
}

func TestOwnerItemLifecycle(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, domain.RoleOwner, ownerPasscode)

	rec := s.do(t, http.MethodPost, "/api/v1/items", token, map[string]any{
		"name": "Pen", "base_price": "12.50", "stock_quantity": 3, "min_stock_alert": 5,
		"max_discount_percentage": "10", "max_discount_fixed": "1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		Item domain.Item `json:"item"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.True(t, created.Item.BasePrice.Equal(decimal.RequireFromString("12.5")))

	rec = s.do(t, http.MethodGet, "/api/v1/items/low-stock", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), created.Item.ID)

	rec = s.do(t, http.MethodPost, "/api/v1/items/"+created.Item.ID+"/stock", token, map[string]any{
		"movement_type": "RESTOCK", "quantity": 10, "notes": "delivery",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPatch, "/api/v1/items/"+created.Item.ID, token, map[string]any{"name": "Gel Pen"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "Gel Pen", created.Item.Name)
	assert.Equal(t, 13, created.Item.StockQuantity)

	rec = s.do(t, http.MethodGet, "/api/v1/items/"+created.Item.ID+"/movements", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	movements := decodeBody(t, rec)["movements"].([]any)
	assert.Len(t, movements, 2)

	rec = s.do(t, http.MethodPatch, "/api/v1/items/item-missing", token, map[string]any{"name": "X"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/items", token, map[string]any{"name": "", "base_price": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCalculatorCashSaleEndToEnd(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, domain.RoleStaff, staffPasscode)

	code, resp := s.calc(t, token, "keys", map[string]any{"keys": []string{"2", "0"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "20", resp.Calculator.Amount)

	code, resp = s.calc(t, token, "confirm", nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, calculator.StateItemConfirmed, resp.Calculator.State)
	require.NotNil(t, resp.Calculator.Draft)
	assert.Equal(t, "Tea", resp.Calculator.Draft.Match.Item.Name)
	teaID := resp.Calculator.Draft.Match.Item.ID

	code, resp = s.calc(t, token, "proceed", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, calculator.StatePaymentModeSelection, resp.Calculator.State)

	code, resp = s.calc(t, token, "payment-mode", map[string]any{"mode": "CASH"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, calculator.StatePaymentDetailCapture, resp.Calculator.State)

	code, resp = s.calc(t, token, "cash-received", map[string]any{"cash_received": "10"})
	require.Equal(t, http.StatusOK, code)
	code, resp = s.calc(t, token, "payment/confirm", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, calculator.StatePaymentDetailCapture, resp.Calculator.State)

	code, _ = s.calc(t, token, "cash-received", map[string]any{"cash_received": "50"})
	require.Equal(t, http.StatusOK, code)
	code, resp = s.calc(t, token, "payment/confirm", nil)
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, calculator.StateCommitted, resp.Calculator.State)
	require.NotNil(t, resp.Calculator.LastTransaction)
	require.NotNil(t, resp.Calculator.LastTransaction.ChangeAmount)
	assert.True(t, resp.Calculator.LastTransaction.ChangeAmount.Equal(decimal.NewFromInt(30)))

	item, err := s.repo.GetItem(context.Background(), teaID)
	require.NoError(t, err)
	assert.Equal(t, 199, item.StockQuantity)

	rec := s.do(t, http.MethodGet, "/api/v1/transactions", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txs := decodeBody(t, rec)["transactions"].([]any)
	assert.Len(t, txs, 1)
}

func TestCalculatorStaffDiscountReview(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, domain.RoleStaff, staffPasscode)

	s.calc(t, token, "keys", map[string]any{"keys": []string{"1", "5"}})
	code, resp := s.calc(t, token, "confirm", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Water Bottle", resp.Calculator.Draft.Match.Item.Name)
	assert.True(t, resp.Calculator.NeedsReview)

	_, resp = s.calc(t, token, "proceed", nil)
	assert.Equal(t, calculator.StateDiscountReview, resp.Calculator.State)

	code, resp = s.calc(t, token, "payment-mode", map[string]any{"mode": "UPI"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, calculator.StateDiscountReview, resp.Calculator.State)

	code, _ = s.calc(t, token, "discount-review", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	_, resp = s.calc(t, token, "discount-review", map[string]any{"approve": true})
	assert.Equal(t, calculator.StatePaymentModeSelection, resp.Calculator.State)

	_, resp = s.calc(t, token, "payment-mode", map[string]any{"mode": "UPI"})
	assert.Equal(t, "upi://pay?pa=demostore@upi&pn=Tallyra%20Demo%20Store&am=15.00&cu=INR&tn=Payment%20to%20Tallyra%20Demo%20Store", resp.Calculator.PaymentReference)

	code, resp = s.calc(t, token, "payment/confirm", nil)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, resp.Calculator.LastTransaction)
	assert.True(t, resp.Calculator.LastTransaction.IsDiscountOverride)
	assert.Equal(t, "discount override approved", resp.Calculator.LastTransaction.Notes)
}

func TestCalculatorRejectsBadInput(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, domain.RoleOwner, ownerPasscode)

	code, resp := s.calc(t, token, "confirm", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid amount", resp.Error)
	assert.Equal(t, calculator.StateEnteringAmount, resp.Calculator.State)

	code, _ = s.calc(t, token, "keys", map[string]any{"keys": []string{}})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.calc(t, token, "payment-mode", map[string]any{"mode": "CHEQUE"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.calc(t, token, "proceed", nil)
	assert.Equal(t, http.StatusConflict, code)
}

func TestCalculatorCreditAndCustomItem(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, domain.RoleOwner, ownerPasscode)

	code, resp := s.calc(t, token, "select-item", map[string]any{"name": "Gift wrap", "base_price": "30"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	require.NotNil(t, resp.Calculator.SelectedItem)

	s.calc(t, token, "keys", map[string]any{"keys": []string{"3", "0"}})
	_, resp = s.calc(t, token, "confirm", nil)
	assert.Equal(t, domain.MatchCustom, resp.Calculator.Draft.Match.Kind)
	s.calc(t, token, "proceed", nil)

	code, resp = s.calc(t, token, "payment-mode", map[string]any{"mode": "CREDIT"})
	require.Equal(t, http.StatusOK, code, resp.Error)
	assert.Equal(t, calculator.StateCommitted, resp.Calculator.State)
	assert.False(t, resp.Calculator.LastTransaction.IsCreditSettled)
	assert.Empty(t, resp.Calculator.LastTransaction.InferredItemID)

	code, resp = s.calc(t, token, "clear", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, calculator.StateEnteringAmount, resp.Calculator.State)

	code, _ = s.calc(t, token, "select-item", map[string]any{"item_id": "item-missing"})
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = s.calc(t, token, "select-item", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestInferencePreview(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, domain.RoleStaff, staffPasscode)

	rec := s.do(t, http.MethodPost, "/api/v1/inference", token, map[string]any{"amount": "30"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var preview service.Preview
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&preview))
	require.True(t, preview.Result.Found())
	assert.Equal(t, "Samosa (3 pcs)", preview.Result.Match.Item.Name)
	assert.False(t, preview.NeedsReview)

	rec = s.do(t, http.MethodPost, "/api/v1/inference", token, map[string]any{"amount": "0"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogoutEndsSessionAndCalculator(t *testing.T) {
	s := newTestServer(t)
	token := s.login(t, domain.RoleOwner, ownerPasscode)

	rec := s.do(t, http.MethodGet, "/api/v1/calculator", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.api.workflows.count())

	rec = s.do(t, http.MethodPost, "/api/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, s.api.workflows.count())

	rec = s.do(t, http.MethodGet, "/api/v1/calculator", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginReleasesCalculatorsOfExpiredSessions(t *testing.T) {
	s := newTestServer(t)
	now := time.Now().UTC()
	s.api.auth.now = func() time.Time { return now }

	token := s.login(t, domain.RoleStaff, staffPasscode)
	rec := s.do(t, http.MethodGet, "/api/v1/calculator", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, s.api.workflows.count())

	now = now.Add(2 * time.Hour)
	fresh := s.login(t, domain.RoleOwner, ownerPasscode)
	assert.Equal(t, 0, s.api.workflows.count())

	rec = s.do(t, http.MethodGet, "/api/v1/calculator", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/calculator", fresh, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.api.workflows.count())
}

func TestDeactivatingStaffEndsTheirSessions(t *testing.T) {
	s := newTestServer(t)
	owner := s.login(t, domain.RoleOwner, ownerPasscode)
	staff := s.login(t, domain.RoleStaff, staffPasscode)

	rec := s.do(t, http.MethodGet, "/api/v1/staff", owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Staff []domain.Staff `json:"staff"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	require.Len(t, listed.Staff, 1)

	rec = s.do(t, http.MethodPatch, "/api/v1/staff/"+listed.Staff[0].ID, owner, map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/v1/calculator", staff, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"shop_id": memory.DemoShopID, "role": "staff", "passcode": staffPasscode,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOwnerCreatesStaff(t *testing.T) {
	s := newTestServer(t)
	owner := s.login(t, domain.RoleOwner, ownerPasscode)

	rec := s.do(t, http.MethodPost, "/api/v1/staff", owner, map[string]any{"name": "Ravi", "passcode": "13579"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/v1/staff", owner, map[string]any{"name": "Meera", "passcode": staffPasscode})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/staff", owner, map[string]any{"name": "Kiran", "passcode": "abc"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	token := s.login(t, domain.RoleStaff, "13579")
	assert.NotEmpty(t, token)
}
