package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"awards-miles-api/internal/awards"
	"awards-miles-api/internal/config"
	"awards-miles-api/internal/database"
	"awards-miles-api/internal/models"
	"awards-miles-api/internal/service"
	"awards-miles-api/internal/validation"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	dayBeforeYesterday = "1989-12-12T12:12:00Z"
	yesterday          = "1989-12-13T12:12:00Z"
	today              = "1989-12-14T12:12:00Z"
)

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "handler.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	settings := config.LoyaltyConfig{DefaultMilesBonusValue: 10, MilesExpirationInDays: 365}
	svc := service.NewService(db, db, settings, service.Options{})
	return NewHandler(svc)
}

func setupRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
		reader = bytes.NewBuffer(data)
	}

	var req *http.Request
	if reader != nil {
		req = httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func activeCustomer(t *testing.T, r http.Handler) string {
	t.Helper()
	customerID := uuid.New().String()

	rr := do(t, r, "POST", "/customers/"+customerID+"/account?now="+dayBeforeYesterday,
		models.CreateAccountRequest{Active: true})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}
	return customerID
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rr.Code)
	}

	if rr.Body.String() != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", rr.Body.String())
	}
}

func TestRegisterToProgram_Success(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := uuid.New().String()

	rr := do(t, r, "POST", "/customers/"+customerID+"/account?now="+today, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var response models.AccountResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if response.CustomerID != customerID {
		t.Errorf("Expected customer ID %s, got %s", customerID, response.CustomerID)
	}
	if response.Active {
		t.Error("Expected a new account to be inactive")
	}

	rr = do(t, r, "POST", "/customers/"+customerID+"/account", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for duplicate account, got %d", rr.Code)
	}
}

func TestRegisterToProgram_InvalidCustomerID(t *testing.T) {
	r := setupRouter(setupTestHandler(t))

	rr := do(t, r, "POST", "/customers/not-a-uuid/account", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestActivateAndDeactivate(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := uuid.New().String()

	rr := do(t, r, "POST", "/customers/"+customerID+"/account/activate", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing account, got %d", rr.Code)
	}

	do(t, r, "POST", "/customers/"+customerID+"/account", nil)

	rr = do(t, r, "POST", "/customers/"+customerID+"/miles", models.RegisterMilesRequest{TransitID: "T-1"})
	if rr.Code != http.StatusConflict {
		t.Errorf("Expected status 409 for inactive account, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, r, "POST", "/customers/"+customerID+"/account/activate", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, r, "POST", "/customers/"+customerID+"/miles", models.RegisterMilesRequest{TransitID: "T-1"})
	if rr.Code != http.StatusCreated {
		t.Errorf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, r, "POST", "/customers/"+customerID+"/account/deactivate", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var response models.AccountResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if response.Active || response.TransitCount != 1 {
		t.Errorf("Expected inactive account with 1 transit, got %+v", response)
	}
}

func TestRegisterMiles_Success(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := activeCustomer(t, r)

	rr := do(t, r, "POST", "/customers/"+customerID+"/miles?now="+today, models.RegisterMilesRequest{TransitID: "T-1"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var batch models.MilesBatch
	if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if batch.OriginalAmount != 10 || batch.Amount != 10 {
		t.Errorf("Expected 10 miles, got %+v", batch)
	}
	if batch.ExpiresOn == nil {
		t.Fatal("Expected an expiration date")
	}
	wantExpiry := time.Date(1990, 12, 14, 12, 12, 0, 0, time.UTC)
	if !batch.ExpiresOn.Equal(wantExpiry) {
		t.Errorf("Expected expiration %s, got %s", wantExpiry, batch.ExpiresOn)
	}

	rr = do(t, r, "POST", "/customers/"+customerID+"/miles?now="+today,
		models.RegisterMilesRequest{NonExpiring: true, Amount: 7})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	batch = models.MilesBatch{}
	if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if batch.ExpiresOn != nil || batch.OriginalAmount != 7 {
		t.Errorf("Expected 7 non-expiring miles, got %+v", batch)
	}
}

func TestRegisterMiles_InvalidRequests(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := activeCustomer(t, r)

	tests := []struct {
		name string
		body any
	}{
		{"missing transit", models.RegisterMilesRequest{}},
		{"amount without non-expiring", models.RegisterMilesRequest{TransitID: "T-1", Amount: 5}},
		{"non-expiring without amount", models.RegisterMilesRequest{NonExpiring: true}},
		{"negative non-expiring", models.RegisterMilesRequest{NonExpiring: true, Amount: -1}},
		{"bad transit id", models.RegisterMilesRequest{TransitID: "has spaces"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, "POST", "/customers/"+customerID+"/miles", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d. Body: %s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRegisterMiles_InvalidJSON(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := activeCustomer(t, r)

	req := httptest.NewRequest("POST", "/customers/"+customerID+"/miles", bytes.NewBufferString("invalid json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	r.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}

	var response models.ErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Failed to unmarshal error response: %v", err)
	}

	if response.Error == "" {
		t.Error("Expected error message in response")
	}
}

func TestRemoveMiles_VIPConsumesSoonestExpiring(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := activeCustomer(t, r)

	rr := do(t, r, "PUT", "/customers/"+customerID+"/profile", models.ProfileRequest{Tier: "VIP"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	do(t, r, "POST", "/customers/"+customerID+"/miles?now="+dayBeforeYesterday, models.RegisterMilesRequest{TransitID: "T-1"})
	do(t, r, "POST", "/customers/"+customerID+"/miles?now="+yesterday, models.RegisterMilesRequest{NonExpiring: true, Amount: 5})

	rr = do(t, r, "POST", "/customers/"+customerID+"/miles/removals?now="+today, models.RemoveMilesRequest{Miles: 12})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var removal models.RemoveMilesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &removal); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if removal.Strategy != "vip" {
		t.Errorf("Expected strategy vip, got %s", removal.Strategy)
	}
	if removal.Removed != 12 || len(removal.Reductions) != 2 {
		t.Errorf("Expected 12 removed from 2 batches, got %+v", removal)
	}
	if removal.Reductions[0].Amount != 10 || removal.Reductions[1].Amount != 2 {
		t.Errorf("Expected expiring batch drained before non-expiring, got %+v", removal.Reductions)
	}

	rr = do(t, r, "GET", "/customers/"+customerID+"/balance?now="+today, nil)
	var balance models.BalanceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &balance); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if balance.Balance != 3 {
		t.Errorf("Expected balance 3, got %d", balance.Balance)
	}
}

func TestRemoveMiles_Errors(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := activeCustomer(t, r)

	tests := []struct {
		name     string
		path     string
		body     any
		expected int
	}{
		{"zero miles", "/customers/" + customerID + "/miles/removals", models.RemoveMilesRequest{Miles: 0}, http.StatusBadRequest},
		{"negative miles", "/customers/" + customerID + "/miles/removals", models.RemoveMilesRequest{Miles: -4}, http.StatusBadRequest},
		{"empty body", "/customers/" + customerID + "/miles/removals", nil, http.StatusBadRequest},
		{"unknown account", "/customers/" + uuid.New().String() + "/miles/removals", models.RemoveMilesRequest{Miles: 1}, http.StatusNotFound},
		{"invalid now", "/customers/" + customerID + "/miles/removals?now=yesterday", models.RemoveMilesRequest{Miles: 1}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, r, "POST", tt.path, tt.body)
			if rr.Code != tt.expected {
				t.Errorf("Expected status %d, got %d. Body: %s", tt.expected, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestRemoveMiles_ShortfallIsNotAnError(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := activeCustomer(t, r)

	do(t, r, "POST", "/customers/"+customerID+"/miles?now="+yesterday, models.RegisterMilesRequest{TransitID: "T-1"})

	rr := do(t, r, "POST", "/customers/"+customerID+"/miles/removals?now="+today, models.RemoveMilesRequest{Miles: 100})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var removal models.RemoveMilesResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &removal); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}
	if removal.Requested != 100 || removal.Removed != 10 {
		t.Errorf("Expected 10 of 100 removed, got %d of %d", removal.Removed, removal.Requested)
	}
}

func TestListMiles_ShowsExpiredBatches(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := activeCustomer(t, r)

	do(t, r, "POST", "/customers/"+customerID+"/miles?now="+yesterday, models.RegisterMilesRequest{TransitID: "T-1"})
	do(t, r, "POST", "/customers/"+customerID+"/miles?now="+yesterday, models.RegisterMilesRequest{NonExpiring: true, Amount: 3})

	rr := do(t, r, "GET", "/customers/"+customerID+"/miles?now=1991-01-01T00:00:00Z", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d. Body: %s", rr.Code, rr.Body.String())
	}

	var ledger models.MilesListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &ledger); err != nil {
		t.Fatalf("Failed to unmarshal response: %v", err)
	}

	if len(ledger.Miles) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(ledger.Miles))
	}
	if !ledger.Miles[0].Expired || ledger.Miles[0].Amount != 0 || ledger.Miles[0].RemainingAmount != 10 {
		t.Errorf("Expected first batch expired with 10 remaining, got %+v", ledger.Miles[0])
	}
	if ledger.Miles[1].Expired || ledger.Miles[1].Amount != 3 {
		t.Errorf("Expected non-expiring batch to keep 3 miles, got %+v", ledger.Miles[1])
	}
	if ledger.Balance != 3 {
		t.Errorf("Expected balance 3, got %d", ledger.Balance)
	}
}

func TestUpsertProfile_InvalidTier(t *testing.T) {
	r := setupRouter(setupTestHandler(t))
	customerID := uuid.New().String()

	rr := do(t, r, "PUT", "/customers/"+customerID+"/profile", models.ProfileRequest{Tier: "gold"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d. Body: %s", rr.Code, rr.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"validation", &validation.ValidationError{Field: "miles", Message: "must be positive"}, http.StatusBadRequest},
		{"invalid amount", awards.ErrInvalidAmount, http.StatusBadRequest},
		{"wrapped not found", fmt.Errorf("failed to remove miles: %w", awards.ErrAccountNotFound), http.StatusNotFound},
		{"inactive", awards.ErrInactiveAccount, http.StatusConflict},
		{"exists", awards.ErrAccountExists, http.StatusConflict},
		{"plain error", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, got)
			}
		})
	}
}
