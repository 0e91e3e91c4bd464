package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/custodix/omnivault/config"
	"github.com/custodix/omnivault/internal/custody"
	"github.com/custodix/omnivault/internal/journal"
	"github.com/custodix/omnivault/internal/vault"
	"github.com/custodix/omnivault/internal/venue/fake"
)

const adminID = "admin"

func newTestServer(t *testing.T) (*Server, *custody.Memory, *fake.Venue) {
	t.Helper()
	cfg := config.Default()
	cfg.AdminIdentity = adminID
	cfg.CapacityCap = decimal.NewFromInt(1000)
	cfg.WithdrawalLimit = decimal.NewFromInt(100)

	fakeVenue := fake.NewVenue("WETH")
	custodian := custody.NewMemory()
	v, err := vault.New(cfg, fakeVenue, custodian, vault.WithJournal(journal.NewMemory()))
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}
	return NewServer(v), custodian, fakeVenue
}

func doJSON(t *testing.T, server *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestDepositAndBalanceRoundTrip(t *testing.T) {
	server, custodian, _ := newTestServer(t)
	custodian.Fund("alice", "USDC", decimal.NewFromInt(500))

	rec := doJSON(t, server, http.MethodPost, "/v1/deposits",
		`{"account":"alice","asset":"USDC","amount":"300"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp balanceResponse
	decodeBody(t, rec, &resp)
	if resp.Balance != "300" {
		t.Errorf("balance = %s, want 300", resp.Balance)
	}

	rec = doJSON(t, server, http.MethodGet, "/v1/accounts/alice/balance", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d", rec.Code)
	}
	decodeBody(t, rec, &resp)
	if resp.Balance != "300" {
		t.Errorf("queried balance = %s, want 300", resp.Balance)
	}
}

func TestWithdrawOverLimitReturnsUnprocessable(t *testing.T) {
	server, custodian, _ := newTestServer(t)
	custodian.Fund("alice", "USDC", decimal.NewFromInt(500))
	doJSON(t, server, http.MethodPost, "/v1/deposits",
		`{"account":"alice","asset":"USDC","amount":"500"}`, nil)

	rec := doJSON(t, server, http.MethodPost, "/v1/withdrawals",
		`{"account":"alice","amount":"101"}`, nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error.Reason != "exceeds_withdrawal_limit" {
		t.Errorf("reason = %s, want exceeds_withdrawal_limit", resp.Error.Reason)
	}
}

func TestAdminEndpointsRequireIdentity(t *testing.T) {
	server, _, fakeVenue := newTestServer(t)
	fakeVenue.SetRate("DAI", "USDC", decimal.NewFromInt(1))

	rec := doJSON(t, server, http.MethodPost, "/v1/admin/assets",
		`{"symbol":"DAI","requiresConversion":true}`, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("anonymous registration status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, server, http.MethodPost, "/v1/admin/assets",
		`{"symbol":"DAI","requiresConversion":true}`,
		map[string]string{IdentityHeader: adminID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin registration status = %d, body %s", rec.Code, rec.Body.String())
	}
	var view assetView
	decodeBody(t, rec, &view)
	if !view.Supported || !view.RequiresConversion {
		t.Errorf("unexpected asset view %+v", view)
	}

	rec = doJSON(t, server, http.MethodDelete, "/v1/admin/assets/DAI", "",
		map[string]string{IdentityHeader: adminID})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("deregistration status = %d", rec.Code)
	}
}

func TestEstimateEndpoint(t *testing.T) {
	server, _, fakeVenue := newTestServer(t)
	fakeVenue.SetRate("DAI", "USDC", decimal.NewFromInt(1))
	doJSON(t, server, http.MethodPost, "/v1/admin/assets",
		`{"symbol":"DAI","requiresConversion":true}`,
		map[string]string{IdentityHeader: adminID})

	rec := doJSON(t, server, http.MethodGet, "/v1/estimate?asset=DAI&amount=100", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("estimate status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp estimateResponse
	decodeBody(t, rec, &resp)
	if resp.Expected != "100" || resp.MinAcceptable != "99.5" {
		t.Errorf("unexpected estimate %+v", resp)
	}
	if len(resp.Route) != 2 {
		t.Errorf("expected 2-hop route, got %v", resp.Route)
	}
}

func TestUnsupportedDepositMapsToConflict(t *testing.T) {
	server, custodian, _ := newTestServer(t)
	custodian.Fund("alice", "DOGE", decimal.NewFromInt(10))

	rec := doJSON(t, server, http.MethodPost, "/v1/deposits",
		`{"account":"alice","asset":"DOGE","amount":"10"}`, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body %s", rec.Code, rec.Body.String())
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error.Reason != "asset_not_supported" {
		t.Errorf("reason = %s, want asset_not_supported", resp.Error.Reason)
	}
}

func TestMalformedAmountRejected(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodPost, "/v1/deposits",
		`{"account":"alice","asset":"USDC","amount":"not-a-number"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestUnknownEndpointStructured404(t *testing.T) {
	server, _, _ := newTestServer(t)
	rec := doJSON(t, server, http.MethodGet, "/v1/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var resp errorResponse
	decodeBody(t, rec, &resp)
	if resp.Error.Code != "not_found" {
		t.Errorf("code = %s, want not_found", resp.Error.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	server, custodian, _ := newTestServer(t)
	custodian.Fund("alice", "USDC", decimal.NewFromInt(100))
	doJSON(t, server, http.MethodPost, "/v1/deposits",
		`{"account":"alice","asset":"USDC","amount":"100"}`, nil)

	rec := doJSON(t, server, http.MethodGet, "/v1/stats", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var resp statsResponse
	decodeBody(t, rec, &resp)
	if resp.Aggregate != "100" || resp.RemainingCapacity != "900" {
		t.Errorf("unexpected stats %+v", resp)
	}
	if resp.SettlementAsset != "USDC" {
		t.Errorf("settlement asset = %s", resp.SettlementAsset)
	}
	if resp.SupportedAssetCount != 1 {
		t.Errorf("supported asset count = %d, want 1", resp.SupportedAssetCount)
	}
}

func TestRegisterParAssetViaAPI(t *testing.T) {
	server, custodian, _ := newTestServer(t)

	rec := doJSON(t, server, http.MethodPost, "/v1/admin/assets",
		`{"symbol":"USDT","requiresConversion":false}`,
		map[string]string{IdentityHeader: adminID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("registration status = %d, body %s", rec.Code, rec.Body.String())
	}
	var view assetView
	decodeBody(t, rec, &view)
	if !view.Supported || view.RequiresConversion {
		t.Fatalf("unexpected asset view %+v", view)
	}

	custodian.Fund("alice", "USDT", decimal.NewFromInt(50))
	rec = doJSON(t, server, http.MethodPost, "/v1/deposits",
		`{"account":"alice","asset":"USDT","amount":"50"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp balanceResponse
	decodeBody(t, rec, &resp)
	if resp.Balance != "50" {
		t.Errorf("balance = %s, want 50 (1:1 credit)", resp.Balance)
	}

	rec = doJSON(t, server, http.MethodGet, "/v1/stats", "", nil)
	var stats statsResponse
	decodeBody(t, rec, &stats)
	if stats.SupportedAssetCount != 2 {
		t.Errorf("supported asset count = %d, want 2", stats.SupportedAssetCount)
	}
}
