package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/akulinin/cardvault/internal/cardnumber"
	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/handler"
	"github.com/akulinin/cardvault/internal/infra/cache"
	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/port"
	"github.com/akulinin/cardvault/internal/service"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// In-memory store
// ============================================================

// memStore backs the full API stack without Postgres. A single mutex
// serializes everything, which also makes InTransaction trivially
// atomic from the caller's point of view.
type memStore struct {
	mu sync.Mutex

	cards     map[string]*domain.Card
	transfers map[string]*domain.Transfer
	users     map[string]*domain.User
	tokens    map[string]*domain.RefreshToken
	apps      map[string]*domain.CardApplication
	blocks    map[string]*domain.CardBlockRequest
}

func newMemStore() *memStore {
	return &memStore{
		cards:     make(map[string]*domain.Card),
		transfers: make(map[string]*domain.Transfer),
		users:     make(map[string]*domain.User),
		tokens:    make(map[string]*domain.RefreshToken),
		apps:      make(map[string]*domain.CardApplication),
		blocks:    make(map[string]*domain.CardBlockRequest),
	}
}

func (m *memStore) CreateCard(_ context.Context, c *domain.Card) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	cp := *c
	m.cards[c.ID] = &cp
	return nil
}

func (m *memStore) GetCard(_ context.Context, id string) (*domain.Card, error) {
	c, ok := m.cards[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "card", ID: id}
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) GetCardForUpdate(ctx context.Context, id string) (*domain.Card, error) {
	return m.GetCard(ctx, id)
}

func (m *memStore) GetCardByFingerprint(_ context.Context, fp string) (*domain.Card, error) {
	for _, c := range m.cards {
		if c.NumberHash == fp {
			cp := *c
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "card", ID: "by-number"}
}

func (m *memStore) FingerprintExists(_ context.Context, fp string) (bool, error) {
	for _, c := range m.cards {
		if c.NumberHash == fp {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) ListCardsByOwner(_ context.Context, ownerID string, _, _ int) ([]domain.Card, error) {
	var out []domain.Card
	for _, c := range m.cards {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) ListActiveCardsByOwner(_ context.Context, ownerID string) ([]domain.Card, error) {
	var out []domain.Card
	for _, c := range m.cards {
		if c.OwnerID == ownerID && c.Status == domain.CardStatusActive {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) UpdateCard(_ context.Context, c *domain.Card) error {
	if _, ok := m.cards[c.ID]; !ok {
		return &domain.ErrNotFound{Resource: "card", ID: c.ID}
	}
	cp := *c
	m.cards[c.ID] = &cp
	return nil
}

func (m *memStore) DeleteCard(_ context.Context, id string) error {
	if _, ok := m.cards[id]; !ok {
		return &domain.ErrNotFound{Resource: "card", ID: id}
	}
	delete(m.cards, id)
	return nil
}

func (m *memStore) ListExpiredCardIDs(_ context.Context, before time.Time) ([]string, error) {
	var out []string
	for _, c := range m.cards {
		if c.Status != domain.CardStatusExpired && c.ExpiryDate.Before(before) {
			out = append(out, c.ID)
		}
	}
	return out, nil
}

func (m *memStore) MarkCardExpired(_ context.Context, id string) (bool, error) {
	c, ok := m.cards[id]
	if !ok {
		return false, &domain.ErrNotFound{Resource: "card", ID: id}
	}
	if c.Status == domain.CardStatusExpired {
		return false, nil
	}
	c.Status = domain.CardStatusExpired
	return true, nil
}

func (m *memStore) CreateTransfer(_ context.Context, t *domain.Transfer) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	cp := *t
	m.transfers[t.ID] = &cp
	return nil
}

func (m *memStore) GetTransfer(_ context.Context, id string) (*domain.Transfer, error) {
	t, ok := m.transfers[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transfer", ID: id}
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) ListTransfersByUser(ctx context.Context, userID string, _, _ int) ([]domain.Transfer, error) {
	owned := make(map[string]bool)
	for _, c := range m.cards {
		if c.OwnerID == userID {
			owned[c.ID] = true
		}
	}
	var out []domain.Transfer
	for _, t := range m.transfers {
		if owned[t.FromCardID] || owned[t.ToCardID] {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) ListTransfersByCard(_ context.Context, cardID string, _, _ int) ([]domain.Transfer, error) {
	var out []domain.Transfer
	for _, t := range m.transfers {
		if t.FromCardID == cardID || t.ToCardID == cardID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memStore) CreateUser(_ context.Context, u *domain.User) error {
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return &domain.ErrConflict{Message: "email already registered"}
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "user", ID: email}
}

func (m *memStore) StoreRefreshToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.tokens[tokenHash] = &domain.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *memStore) GetRefreshToken(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	t, ok := m.tokens[tokenHash]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "refresh token", ID: "hash"}
	}
	cp := *t
	return &cp, nil
}

func (m *memStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	delete(m.tokens, tokenHash)
	return nil
}

func (m *memStore) RevokeAllRefreshTokens(_ context.Context, userID string) error {
	for h, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, h)
		}
	}
	return nil
}

func (m *memStore) CreateApplication(_ context.Context, a *domain.CardApplication) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	m.apps[a.ID] = &cp
	return nil
}

func (m *memStore) GetApplication(_ context.Context, id string) (*domain.CardApplication, error) {
	a, ok := m.apps[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "application", ID: id}
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) UpdateApplication(_ context.Context, a *domain.CardApplication) error {
	if _, ok := m.apps[a.ID]; !ok {
		return &domain.ErrNotFound{Resource: "application", ID: a.ID}
	}
	cp := *a
	m.apps[a.ID] = &cp
	return nil
}

func (m *memStore) ListApplicationsByUser(_ context.Context, userID string, _, _ int) ([]domain.CardApplication, error) {
	var out []domain.CardApplication
	for _, a := range m.apps {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) ListApplicationsByStatus(_ context.Context, status domain.RequestStatus, _, _ int) ([]domain.CardApplication, error) {
	var out []domain.CardApplication
	for _, a := range m.apps {
		if a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) CreateBlockRequest(_ context.Context, r *domain.CardBlockRequest) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	cp := *r
	m.blocks[r.ID] = &cp
	return nil
}

func (m *memStore) GetBlockRequest(_ context.Context, id string) (*domain.CardBlockRequest, error) {
	r, ok := m.blocks[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "block request", ID: id}
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) UpdateBlockRequest(_ context.Context, r *domain.CardBlockRequest) error {
	if _, ok := m.blocks[r.ID]; !ok {
		return &domain.ErrNotFound{Resource: "block request", ID: r.ID}
	}
	cp := *r
	m.blocks[r.ID] = &cp
	return nil
}

func (m *memStore) ListBlockRequestsByStatus(_ context.Context, status domain.RequestStatus, _, _ int) ([]domain.CardBlockRequest, error) {
	var out []domain.CardBlockRequest
	for _, r := range m.blocks {
		if r.Status == status {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) InTransaction(_ context.Context, fn func(tx port.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *memStore) SweepLock(context.Context) (func(), bool, error) {
	return func() {}, true, nil
}

func (m *memStore) Ping(context.Context) error { return nil }

// ============================================================
// Test stack
// ============================================================

func newAPIStack(t *testing.T) (http.Handler, *memStore) {
	t.Helper()

	store := newMemStore()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	codec, err := cardnumber.New("integration-encryption-secret", "integration-fingerprint-secret", "4000")
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	cardCache := cache.New[domain.CardView](time.Minute)
	t.Cleanup(cardCache.Close)

	cardsSvc := service.NewCardsService(store, codec, cardCache, metrics, logger)
	ledgerSvc := service.NewLedgerService(store, codec, nil, cardsSvc, metrics, logger, 5)
	transferSvc := service.NewTransferService(store, ledgerSvc, cardsSvc, metrics, logger)
	lifecycleSvc := service.NewLifecycleService(store, metrics, logger, 4)
	workflowSvc := service.NewWorkflowService(store, ledgerSvc, logger)
	authSvc := service.NewAuthService(store, "integration-jwt-secret", 15*time.Minute, time.Hour, logger)

	router := handler.NewRouter(handler.Services{
		Auth:      authSvc,
		Cards:     cardsSvc,
		Ledger:    ledgerSvc,
		Transfer:  transferSvc,
		Workflow:  workflowSvc,
		Lifecycle: lifecycleSvc,
	}, store, metrics, logger)

	return router, store
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
}

// registerAndLogin creates a user through the API and returns its id
// and access token.
func registerAndLogin(t *testing.T, router http.Handler, email, password string) (string, string) {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/v1/auth/register", "", domain.RegisterRequest{
		Email:    email,
		FullName: "Integration Tester",
		Password: password,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/v1/auth/login", "", domain.LoginRequest{
		Email:    email,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeInto(t, rec, &resp)
	return resp.UserID, resp.AccessToken
}

// promoteToAdmin flips a user's role directly in the store and returns
// a fresh token carrying it.
func promoteToAdmin(t *testing.T, router http.Handler, store *memStore, userID, email, password string) string {
	t.Helper()

	store.users[userID].Role = domain.RoleAdmin
	rec := doJSON(t, router, http.MethodPost, "/v1/auth/login", "", domain.LoginRequest{
		Email:    email,
		Password: password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d", rec.Code)
	}
	var resp domain.LoginResponse
	decodeInto(t, rec, &resp)
	return resp.AccessToken
}

// ============================================================
// Full API flow
// ============================================================

func TestIntegration_CardAndTransferFlow(t *testing.T) {
	router, store := newAPIStack(t)

	userID, userToken := registerAndLogin(t, router, "alice@example.com", "s3cret-pass")
	adminID, _ := registerAndLogin(t, router, "admin@example.com", "s3cret-admin")
	adminToken := promoteToAdmin(t, router, store, adminID, "admin@example.com", "s3cret-admin")

	// No cards yet.
	rec := doJSON(t, router, http.MethodGet, "/v1/cards", userToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list cards: expected 200, got %d", rec.Code)
	}

	// Admin issues two cards for the user.
	issue := func() domain.CardView {
		rec := doJSON(t, router, http.MethodPost, "/v1/admin/cards", adminToken, map[string]string{
			"owner_id":  userID,
			"card_type": "DEBIT",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("issue card: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
		}
		var view domain.CardView
		decodeInto(t, rec, &view)
		return view
	}
	card1 := issue()
	card2 := issue()

	// Admin funds the first card.
	rec = doJSON(t, router, http.MethodPost, "/v1/admin/cards/"+card1.ID+"/credit", adminToken,
		map[string]string{"amount": "100.00"})
	if rec.Code != http.StatusOK {
		t.Fatalf("credit: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// The owner sees the full card number, the admin only a mask.
	rec = doJSON(t, router, http.MethodGet, "/v1/cards/"+card1.ID, userToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner get card: expected 200, got %d", rec.Code)
	}
	var ownerView domain.CardView
	decodeInto(t, rec, &ownerView)
	if !cardnumber.IsValid(ownerView.Number) {
		t.Errorf("owner should see a valid full card number, got %q", ownerView.Number)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/cards/"+card1.ID, adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin get card: expected 200, got %d", rec.Code)
	}
	var adminView domain.CardView
	decodeInto(t, rec, &adminView)
	if adminView.Number == ownerView.Number {
		t.Error("admin must not see the full card number")
	}

	// Transfer between the user's own cards.
	rec = doJSON(t, router, http.MethodPost, "/v1/transfers", userToken, map[string]string{
		"from_card_id": card1.ID,
		"to_card_id":   card2.ID,
		"amount":       "40.00",
		"description":  "savings top-up",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("transfer: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var transfer domain.Transfer
	decodeInto(t, rec, &transfer)
	if transfer.Status != domain.TransferStatusSuccess {
		t.Errorf("expected SUCCESS transfer, got %s", transfer.Status)
	}

	// Balances moved atomically.
	c1, _ := store.GetCard(context.Background(), card1.ID)
	c2, _ := store.GetCard(context.Background(), card2.ID)
	if !c1.Balance.Equal(decimal.RequireFromString("60.00")) {
		t.Errorf("card1 balance: expected 60.00, got %s", c1.Balance)
	}
	if !c2.Balance.Equal(decimal.RequireFromString("40.00")) {
		t.Errorf("card2 balance: expected 40.00, got %s", c2.Balance)
	}

	// The transfer shows up in the user's history.
	rec = doJSON(t, router, http.MethodGet, "/v1/transfers", userToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list transfers: expected 200, got %d", rec.Code)
	}

	// A stranger cannot read the transfer.
	_, strangerToken := registerAndLogin(t, router, "mallory@example.com", "s3cret-mallory")
	rec = doJSON(t, router, http.MethodGet, "/v1/transfers/"+transfer.ID, strangerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("stranger reading transfer: expected 403, got %d", rec.Code)
	}

	// Insufficient funds never moves money.
	rec = doJSON(t, router, http.MethodPost, "/v1/transfers", userToken, map[string]string{
		"from_card_id": card1.ID,
		"to_card_id":   card2.ID,
		"amount":       "500.00",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("overdraft transfer: expected 400, got %d", rec.Code)
	}
	c1, _ = store.GetCard(context.Background(), card1.ID)
	if !c1.Balance.Equal(decimal.RequireFromString("60.00")) {
		t.Errorf("card1 balance after failed transfer: expected 60.00, got %s", c1.Balance)
	}
}

func TestIntegration_ApplicationApprovalFlow(t *testing.T) {
	router, store := newAPIStack(t)

	_, userToken := registerAndLogin(t, router, "bob@example.com", "s3cret-pass")
	adminID, _ := registerAndLogin(t, router, "root@example.com", "s3cret-admin")
	adminToken := promoteToAdmin(t, router, store, adminID, "root@example.com", "s3cret-admin")

	// User applies for a card.
	rec := doJSON(t, router, http.MethodPost, "/v1/applications", userToken, map[string]string{
		"card_type": "CREDIT",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("apply: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var app domain.CardApplication
	decodeInto(t, rec, &app)

	// User cannot reach moderation endpoints.
	rec = doJSON(t, router, http.MethodGet, "/v1/admin/applications", userToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("user on admin route: expected 403, got %d", rec.Code)
	}

	// Admin approves, which issues the card.
	rec = doJSON(t, router, http.MethodPost, "/v1/admin/applications/"+app.ID+"/approve", adminToken,
		map[string]string{"comment": "verified"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var issued domain.CardView
	decodeInto(t, rec, &issued)
	if issued.Type != domain.CardTypeCredit {
		t.Errorf("expected CREDIT card, got %s", issued.Type)
	}

	// User now owns the card and can request a block for it.
	rec = doJSON(t, router, http.MethodPost, "/v1/cards/"+issued.ID+"/block-request", userToken,
		map[string]string{"reason": "card lost"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("block request: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var blockReq domain.CardBlockRequest
	decodeInto(t, rec, &blockReq)

	rec = doJSON(t, router, http.MethodPost, "/v1/admin/block-requests/"+blockReq.ID+"/approve", adminToken,
		map[string]string{"admin_comment": "confirmed by phone"})
	if rec.Code != http.StatusOK {
		t.Fatalf("approve block: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	card, _ := store.GetCard(context.Background(), issued.ID)
	if card.Status != domain.CardStatusBlocked {
		t.Errorf("expected BLOCKED card after approved request, got %s", card.Status)
	}
}

func TestIntegration_SweepEndpoint(t *testing.T) {
	router, store := newAPIStack(t)

	adminID, _ := registerAndLogin(t, router, "ops@example.com", "s3cret-admin")
	adminToken := promoteToAdmin(t, router, store, adminID, "ops@example.com", "s3cret-admin")

	// Plant an already-expired card.
	store.cards["old"] = &domain.Card{
		ID:         "old",
		OwnerID:    adminID,
		Type:       domain.CardTypeDebit,
		Status:     domain.CardStatusActive,
		Balance:    decimal.Zero,
		ExpiryDate: time.Now().AddDate(-1, 0, 0),
	}

	rec := doJSON(t, router, http.MethodPost, "/v1/admin/cards/sweep", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sweep: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var result service.SweepResult
	decodeInto(t, rec, &result)
	if result.Expired != 1 {
		t.Errorf("expected 1 expired card, got %d", result.Expired)
	}
	if store.cards["old"].Status != domain.CardStatusExpired {
		t.Errorf("card not transitioned, status %s", store.cards["old"].Status)
	}
}
