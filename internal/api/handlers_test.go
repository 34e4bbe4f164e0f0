package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/atmx/payment-ledger/internal/api"
	"github.com/atmx/payment-ledger/internal/balance"
	"github.com/atmx/payment-ledger/internal/events"
	"github.com/atmx/payment-ledger/internal/ledger"
	"github.com/atmx/payment-ledger/internal/model"
	"github.com/atmx/payment-ledger/internal/store"
)

type testEnv struct {
	ms     *store.MemoryStore
	cache  *store.MemoryBalanceCache
	router chi.Router
	hub    *api.WSHub
}

// newTestEnv wires the API over in-memory stores with in-process event
// delivery, the same way the server runs without Postgres and Redis.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ms := store.NewMemoryStore()
	cache := store.NewMemoryBalanceCache()
	hub := api.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	engine := balance.NewEngine(ms, cache, hub)
	pub := events.NewDirectPublisher(engine.HandleLedgerEvent)
	svc := ledger.NewService(ms, ms, pub, "", time.Second)
	flusher := balance.NewFlusher(ms, cache, func() time.Time { return time.Now().UTC() })
	h := api.NewHandlers(svc, engine, balance.NewQuery(ms, cache), flusher, balance.NewBackfiller(ms, engine, flusher, 0))

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) { h.Routes(r, hub) })
	return &testEnv{ms: ms, cache: cache, router: r, hub: hub}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func recordCmd(status model.PaymentOrderStatus, amount string) ledger.RecordLedgerEntriesCommand {
	return ledger.RecordLedgerEntriesCommand{
		PaymentOrderID: "po-1",
		PaymentID:      "pay-1",
		SellerID:       "A",
		Amount:         decimal.RequireFromString(amount),
		Currency:       "EUR",
		Status:         status,
	}
}

func getBalance(t *testing.T, env *testEnv, code string) api.BalanceResponse {
	t.Helper()
	w := env.do(t, "GET", "/api/v1/balances/"+code, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.BalanceResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

// --- Recording ---

func TestRecord_CaptureUpdatesBalances(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/ledger/record", recordCmd(model.StatusCaptured, "100.00"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp api.RecordResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Recorded != 1 || resp.Entries[0].JournalEntry.ID != "CAPTURE:po-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	merchant := getBalance(t, env, "MERCHANT_ACCOUNT.A.EUR")
	if !merchant.Balance.Equal(decimal.RequireFromString("100")) {
		t.Errorf("merchant balance = %s, want 100", merchant.Balance)
	}
	if merchant.BalanceMinor != 10000 {
		t.Errorf("merchant minor = %d, want 10000", merchant.BalanceMinor)
	}
	auth := getBalance(t, env, "AUTH_RECEIVABLE.GLOBAL.EUR")
	if auth.BalanceMinor != -10000 {
		t.Errorf("auth receivable minor = %d, want -10000", auth.BalanceMinor)
	}
}

func TestRecord_AuthThenCaptureNetsAuthAccounts(t *testing.T) {
	env := newTestEnv(t)

	for _, status := range []model.PaymentOrderStatus{model.StatusAuthorized, model.StatusCaptured} {
		if w := env.do(t, "POST", "/api/v1/ledger/record", recordCmd(status, "25.50")); w.Code != http.StatusCreated {
			t.Fatalf("%s: expected 201, got %d: %s", status, w.Code, w.Body.String())
		}
	}

	for _, code := range []string{"AUTH_RECEIVABLE.GLOBAL.EUR", "AUTH_LIABILITY.GLOBAL.EUR"} {
		if got := getBalance(t, env, code).BalanceMinor; got != 0 {
			t.Errorf("%s = %d, want 0", code, got)
		}
	}
	if got := getBalance(t, env, "PSP_RECEIVABLES.GLOBAL.EUR").BalanceMinor; got != 2550 {
		t.Errorf("psp receivables = %d, want 2550", got)
	}
}

func TestRecord_FailedStatusIsNoOp(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/ledger/record", recordCmd(model.StatusFailedFinal, "10.00"))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp api.RecordResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Recorded != 0 || resp.Entries == nil {
		t.Errorf("expected empty entries array, got %+v", resp)
	}
	if rows, _ := env.ms.ListLedgerEntriesAfter(context.Background(), 0, 10); len(rows) != 0 {
		t.Errorf("expected no ledger rows, got %d", len(rows))
	}
}

func TestRecord_DuplicateIsNotReapplied(t *testing.T) {
	env := newTestEnv(t)
	cmd := recordCmd(model.StatusCaptured, "10.00")

	env.do(t, "POST", "/api/v1/ledger/record", cmd)
	w := env.do(t, "POST", "/api/v1/ledger/record", cmd)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", w.Code)
	}
	if got := getBalance(t, env, "MERCHANT_ACCOUNT.A.EUR").BalanceMinor; got != 1000 {
		t.Errorf("merchant = %d, want 1000", got)
	}
}

func TestRecord_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"malformed json", "{not json"},
		{"bad currency", func() ledger.RecordLedgerEntriesCommand {
			c := recordCmd(model.StatusCaptured, "1.00")
			c.Currency = "euro"
			return c
		}()},
		{"too many decimals", recordCmd(model.StatusCaptured, "1.001")},
		{"seller outside account code charset", func() ledger.RecordLedgerEntriesCommand {
			c := recordCmd(model.StatusCaptured, "1.00")
			c.SellerID = "seller.42"
			return c
		}()},
		{"negative", recordCmd(model.StatusAuthorized, "-1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := env.do(t, "POST", "/api/v1/ledger/record", tt.body); w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

// --- Balances ---

func TestGetBalance_InvalidCode(t *testing.T) {
	env := newTestEnv(t)
	for _, code := range []string{"nope", "UNKNOWN_TYPE.X.EUR", "CASH.GLOBAL.eur"} {
		if w := env.do(t, "GET", "/api/v1/balances/"+code, nil); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", code, w.Code)
		}
	}
}

func TestGetBalance_ZeroDecimalCurrency(t *testing.T) {
	env := newTestEnv(t)
	env.ms.PutSnapshot(model.AccountBalanceSnapshot{AccountCode: "MERCHANT_ACCOUNT.A.JPY", Balance: 1500, LastAppliedEntryID: 4})

	resp := getBalance(t, env, "MERCHANT_ACCOUNT.A.JPY")
	if !resp.Balance.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("balance = %s, want 1500", resp.Balance)
	}
	if resp.LastAppliedEntryID != 4 || resp.Currency != "JPY" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestApplyAndFlush(t *testing.T) {
	env := newTestEnv(t)

	// Persist directly, then fold via the apply endpoint.
	env.do(t, "POST", "/api/v1/ledger/record", recordCmd(model.StatusAuthorized, "5.00"))
	rows, err := env.ms.ListLedgerEntriesAfter(context.Background(), 0, 10)
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d (%v)", len(rows), err)
	}

	// Already applied through the event path: re-applying after flush is a no-op.
	w := env.do(t, "POST", "/api/v1/balances/flush", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("flush: expected 200, got %d", w.Code)
	}
	var flushed api.FlushResponse
	json.NewDecoder(w.Body).Decode(&flushed)
	if flushed.Flushed != 2 {
		t.Errorf("flushed = %d, want 2", flushed.Flushed)
	}

	w = env.do(t, "POST", "/api/v1/balances/apply", api.ApplyRequest{LedgerEntries: rows})
	if w.Code != http.StatusOK {
		t.Fatalf("apply: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var applied api.ApplyResponse
	json.NewDecoder(w.Body).Decode(&applied)
	if len(applied.AppliedEntryIDs) != 0 {
		t.Errorf("expected no applied ids on replay, got %v", applied.AppliedEntryIDs)
	}

	if got := getBalance(t, env, "AUTH_RECEIVABLE.GLOBAL.EUR"); got.BalanceMinor != 500 || got.LastAppliedEntryID != 1 {
		t.Errorf("unexpected auth receivable: %+v", got)
	}
}

func TestApply_RejectsInvalidEntries(t *testing.T) {
	env := newTestEnv(t)

	unbalanced := model.LedgerEntry{ID: 3, JournalEntry: model.JournalEntry{
		ID: "X:1",
		Postings: []model.Posting{
			{Account: model.Account{Code: "CASH.GLOBAL.EUR", Type: model.AccountCash, Category: model.CategoryAsset, Currency: "EUR"},
				Amount: 100, Direction: model.Debit, Currency: "EUR"},
			{Account: model.Account{Code: "MERCHANT_ACCOUNT.A.EUR", Type: model.AccountMerchant, Category: model.CategoryLiability, Currency: "EUR"},
				Amount: 90, Direction: model.Credit, Currency: "EUR"},
		},
	}}
	unpersisted := unbalanced
	unpersisted.ID = 0

	for name, body := range map[string]any{
		"empty":       api.ApplyRequest{},
		"unbalanced":  api.ApplyRequest{LedgerEntries: []model.LedgerEntry{unbalanced}},
		"no entry id": api.ApplyRequest{LedgerEntries: []model.LedgerEntry{unpersisted}},
	} {
		if w := env.do(t, "POST", "/api/v1/balances/apply", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, w.Code)
		}
	}
}

func TestApply_RejectsAccountsThatContradictTheirCode(t *testing.T) {
	env := newTestEnv(t)

	psp := model.Account{Code: "PSP_RECEIVABLES.GLOBAL.EUR", Type: model.AccountPSPReceivables, Category: model.CategoryAsset, Currency: "EUR"}
	merchant := model.Account{Code: "MERCHANT_ACCOUNT.A.EUR", Type: model.AccountMerchant, Category: model.CategoryLiability, Currency: "EUR"}
	entry := func(credited model.Account) api.ApplyRequest {
		return api.ApplyRequest{LedgerEntries: []model.LedgerEntry{{ID: 1, JournalEntry: model.JournalEntry{
			ID: "CAPTURE:po-9",
			Postings: []model.Posting{
				{Account: psp, Amount: 10000, Direction: model.Debit, Currency: "EUR"},
				{Account: credited, Amount: 10000, Direction: model.Credit, Currency: "EUR"},
			},
		}}}}
	}

	flipped := merchant
	flipped.Category = model.CategoryAsset
	bogus := merchant
	bogus.Code = "not-an-account"

	for name, acct := range map[string]model.Account{"flipped category": flipped, "unparsable code": bogus} {
		if w := env.do(t, "POST", "/api/v1/balances/apply", entry(acct)); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", name, w.Code, w.Body.String())
		}
	}
	if got := getBalance(t, env, "MERCHANT_ACCOUNT.A.EUR").BalanceMinor; got != 0 {
		t.Fatalf("rejected entries must not move the balance, got %d", got)
	}

	if w := env.do(t, "POST", "/api/v1/balances/apply", entry(merchant)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for canonical accounts, got %d: %s", w.Code, w.Body.String())
	}
	if got := getBalance(t, env, "MERCHANT_ACCOUNT.A.EUR").BalanceMinor; got != 10000 {
		t.Errorf("merchant = %d, want 10000", got)
	}
}

func TestBackfill_AppliesEntriesThatWereNeverPublished(t *testing.T) {
	env := newTestEnv(t)

	psp := model.Account{Code: "PSP_RECEIVABLES.GLOBAL.EUR", Type: model.AccountPSPReceivables, Category: model.CategoryAsset, Currency: "EUR"}
	merchant := model.Account{Code: "MERCHANT_ACCOUNT.A.EUR", Type: model.AccountMerchant, Category: model.CategoryLiability, Currency: "EUR"}
	// Persisted without an event, as when publishing fails after the commit.
	_, err := env.ms.PostLedgerEntriesAtomic(context.Background(), []model.JournalEntry{{
		ID:     "CAPTURE:po-lost",
		TxType: model.TxCapture,
		Postings: []model.Posting{
			{Account: psp, Amount: 2500, Direction: model.Debit, Currency: "EUR"},
			{Account: merchant, Amount: 2500, Direction: model.Credit, Currency: "EUR"},
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if got := getBalance(t, env, "MERCHANT_ACCOUNT.A.EUR").BalanceMinor; got != 0 {
		t.Fatalf("merchant = %d before backfill, want 0", got)
	}

	for i := 0; i < 2; i++ {
		w := env.do(t, "POST", "/api/v1/balances/backfill", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("backfill: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var res balance.BackfillResult
		json.NewDecoder(w.Body).Decode(&res)
		if res.Scanned != 1 || res.LastEntryID != 1 {
			t.Errorf("run %d: unexpected result %+v", i, res)
		}
	}

	got := getBalance(t, env, "MERCHANT_ACCOUNT.A.EUR")
	if got.BalanceMinor != 2500 || got.LastAppliedEntryID != 1 {
		t.Errorf("merchant after backfill = %+v, want 2500 at watermark 1", got)
	}

	if w := env.do(t, "POST", "/api/v1/balances/backfill", `{"after_id":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative after_id: expected 400, got %d", w.Code)
	}
}

// --- WebSocket ---

func TestWS_BroadcastsBalanceUpdates(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for env.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.hub.Clients() != 1 {
		t.Fatalf("expected 1 client, got %d", env.hub.Clients())
	}

	env.do(t, "POST", "/api/v1/ledger/record", recordCmd(model.StatusAuthorized, "1.00"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	seen := map[string]api.WSMessage{}
	for len(seen) < 2 {
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type != api.MsgBalanceUpdated {
			t.Fatalf("unexpected message type %q", msg.Type)
		}
		seen[msg.AccountCode] = msg
	}
	if got := seen["AUTH_RECEIVABLE.GLOBAL.EUR"]; got.Delta != "100" || got.Watermark != 1 {
		t.Errorf("unexpected update: %+v", got)
	}
}
