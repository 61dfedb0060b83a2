package service_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/port"
)

// --- In-memory store fake ---
//
// memStore implements port.Store over plain maps. A single mutex spans
// each transaction, giving the same serialization guarantee the real
// store gets from row locks. Transactions run on a deep copy that
// replaces the live data only on success.

type memData struct {
	cards     map[string]domain.Card
	transfers map[string]domain.Transfer
	users     map[string]domain.User
	tokens    map[string]domain.RefreshToken
	apps      map[string]domain.CardApplication
	blocks    map[string]domain.CardBlockRequest
}

func newMemData() *memData {
	return &memData{
		cards:     map[string]domain.Card{},
		transfers: map[string]domain.Transfer{},
		users:     map[string]domain.User{},
		tokens:    map[string]domain.RefreshToken{},
		apps:      map[string]domain.CardApplication{},
		blocks:    map[string]domain.CardBlockRequest{},
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.cards {
		c.cards[k] = v
	}
	for k, v := range d.transfers {
		c.transfers[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.tokens {
		c.tokens[k] = v
	}
	for k, v := range d.apps {
		c.apps[k] = v
	}
	for k, v := range d.blocks {
		c.blocks[k] = v
	}
	return c
}

type memStore struct {
	mu      *sync.Mutex // nil inside a transaction
	sweepMu *sync.Mutex
	d       *memData
}

func newMemStore() *memStore {
	return &memStore{mu: &sync.Mutex{}, sweepMu: &sync.Mutex{}, d: newMemData()}
}

func (s *memStore) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *memStore) InTransaction(_ context.Context, fn func(tx port.Store) error) error {
	if s.mu == nil {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := s.d.clone()
	if err := fn(&memStore{d: clone, sweepMu: s.sweepMu}); err != nil {
		return err
	}
	s.d = clone
	return nil
}

func (s *memStore) SweepLock(context.Context) (func(), bool, error) {
	if !s.sweepMu.TryLock() {
		return nil, false, nil
	}
	return s.sweepMu.Unlock, true, nil
}

func (s *memStore) Ping(context.Context) error { return nil }

func paginate[T any](items []T, page, pageSize int) []T {
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return nil
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// --- Cards ---

func (s *memStore) CreateCard(_ context.Context, card *domain.Card) error {
	defer s.lock()()
	for _, c := range s.d.cards {
		if c.NumberHash == card.NumberHash {
			return &domain.ErrConflict{Message: "card number already exists"}
		}
	}
	s.d.cards[card.ID] = *card
	return nil
}

func (s *memStore) GetCard(_ context.Context, cardID string) (*domain.Card, error) {
	defer s.lock()()
	c, ok := s.d.cards[cardID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "card", ID: cardID}
	}
	return &c, nil
}

func (s *memStore) GetCardForUpdate(ctx context.Context, cardID string) (*domain.Card, error) {
	return s.GetCard(ctx, cardID)
}

func (s *memStore) GetCardByFingerprint(_ context.Context, fingerprint string) (*domain.Card, error) {
	defer s.lock()()
	for _, c := range s.d.cards {
		if c.NumberHash == fingerprint {
			return &c, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "card", ID: ""}
}

func (s *memStore) FingerprintExists(_ context.Context, fingerprint string) (bool, error) {
	defer s.lock()()
	for _, c := range s.d.cards {
		if c.NumberHash == fingerprint {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) ListCardsByOwner(_ context.Context, ownerID string, page, pageSize int) ([]domain.Card, error) {
	defer s.lock()()
	var cards []domain.Card
	for _, c := range s.d.cards {
		if c.OwnerID == ownerID {
			cards = append(cards, c)
		}
	}
	sort.Slice(cards, func(i, j int) bool { return cards[i].CreatedAt.After(cards[j].CreatedAt) })
	return paginate(cards, page, pageSize), nil
}

func (s *memStore) ListActiveCardsByOwner(_ context.Context, ownerID string) ([]domain.Card, error) {
	defer s.lock()()
	var cards []domain.Card
	for _, c := range s.d.cards {
		if c.OwnerID == ownerID && c.Status == domain.CardStatusActive {
			cards = append(cards, c)
		}
	}
	return cards, nil
}

func (s *memStore) UpdateCard(_ context.Context, card *domain.Card) error {
	defer s.lock()()
	if _, ok := s.d.cards[card.ID]; !ok {
		return &domain.ErrNotFound{Resource: "card", ID: card.ID}
	}
	s.d.cards[card.ID] = *card
	return nil
}

func (s *memStore) DeleteCard(_ context.Context, cardID string) error {
	defer s.lock()()
	if _, ok := s.d.cards[cardID]; !ok {
		return &domain.ErrNotFound{Resource: "card", ID: cardID}
	}
	delete(s.d.cards, cardID)
	return nil
}

func (s *memStore) ListExpiredCardIDs(_ context.Context, before time.Time) ([]string, error) {
	defer s.lock()()
	var ids []string
	for id, c := range s.d.cards {
		if c.ExpiryDate.Before(before) && c.Status != domain.CardStatusExpired {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memStore) MarkCardExpired(_ context.Context, cardID string) (bool, error) {
	defer s.lock()()
	c, ok := s.d.cards[cardID]
	if !ok || c.Status == domain.CardStatusExpired {
		return false, nil
	}
	c.Status = domain.CardStatusExpired
	c.UpdatedAt = time.Now().UTC()
	s.d.cards[cardID] = c
	return true, nil
}

// --- Transfers ---

func (s *memStore) CreateTransfer(_ context.Context, transfer *domain.Transfer) error {
	defer s.lock()()
	s.d.transfers[transfer.ID] = *transfer
	return nil
}

func (s *memStore) GetTransfer(_ context.Context, transferID string) (*domain.Transfer, error) {
	defer s.lock()()
	tr, ok := s.d.transfers[transferID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "transfer", ID: transferID}
	}
	return &tr, nil
}

func (s *memStore) ListTransfersByUser(_ context.Context, userID string, page, pageSize int) ([]domain.Transfer, error) {
	defer s.lock()()
	owned := map[string]bool{}
	for id, c := range s.d.cards {
		if c.OwnerID == userID {
			owned[id] = true
		}
	}
	var out []domain.Transfer
	for _, tr := range s.d.transfers {
		if owned[tr.FromCardID] || owned[tr.ToCardID] {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page, pageSize), nil
}

func (s *memStore) ListTransfersByCard(_ context.Context, cardID string, page, pageSize int) ([]domain.Transfer, error) {
	defer s.lock()()
	var out []domain.Transfer
	for _, tr := range s.d.transfers {
		if tr.FromCardID == cardID || tr.ToCardID == cardID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page, pageSize), nil
}

// --- Users ---

func (s *memStore) CreateUser(_ context.Context, user *domain.User) error {
	defer s.lock()()
	for _, u := range s.d.users {
		if u.Email == user.Email {
			return &domain.ErrConflict{Message: "email already registered"}
		}
	}
	s.d.users[user.ID] = *user
	return nil
}

func (s *memStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	defer s.lock()()
	u, ok := s.d.users[userID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
	}
	return &u, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	defer s.lock()()
	for _, u := range s.d.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "user", ID: email}
}

// --- Refresh tokens ---

func (s *memStore) StoreRefreshToken(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	defer s.lock()()
	s.d.tokens[tokenHash] = domain.RefreshToken{
		ID:        tokenHash,
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (s *memStore) GetRefreshToken(_ context.Context, tokenHash string) (*domain.RefreshToken, error) {
	defer s.lock()()
	tok, ok := s.d.tokens[tokenHash]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "refresh token", ID: ""}
	}
	return &tok, nil
}

func (s *memStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	defer s.lock()()
	delete(s.d.tokens, tokenHash)
	return nil
}

func (s *memStore) RevokeAllRefreshTokens(_ context.Context, userID string) error {
	defer s.lock()()
	for hash, tok := range s.d.tokens {
		if tok.UserID == userID {
			delete(s.d.tokens, hash)
		}
	}
	return nil
}

// --- Applications ---

func (s *memStore) CreateApplication(_ context.Context, app *domain.CardApplication) error {
	defer s.lock()()
	s.d.apps[app.ID] = *app
	return nil
}

func (s *memStore) GetApplication(_ context.Context, appID string) (*domain.CardApplication, error) {
	defer s.lock()()
	a, ok := s.d.apps[appID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "application", ID: appID}
	}
	return &a, nil
}

func (s *memStore) UpdateApplication(_ context.Context, app *domain.CardApplication) error {
	defer s.lock()()
	if _, ok := s.d.apps[app.ID]; !ok {
		return &domain.ErrNotFound{Resource: "application", ID: app.ID}
	}
	s.d.apps[app.ID] = *app
	return nil
}

func (s *memStore) ListApplicationsByUser(_ context.Context, userID string, page, pageSize int) ([]domain.CardApplication, error) {
	defer s.lock()()
	var out []domain.CardApplication
	for _, a := range s.d.apps {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, page, pageSize), nil
}

func (s *memStore) ListApplicationsByStatus(_ context.Context, status domain.RequestStatus, page, pageSize int) ([]domain.CardApplication, error) {
	defer s.lock()()
	var out []domain.CardApplication
	for _, a := range s.d.apps {
		if a.Status == status {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, page, pageSize), nil
}

// --- Block requests ---

func (s *memStore) CreateBlockRequest(_ context.Context, req *domain.CardBlockRequest) error {
	defer s.lock()()
	s.d.blocks[req.ID] = *req
	return nil
}

func (s *memStore) GetBlockRequest(_ context.Context, requestID string) (*domain.CardBlockRequest, error) {
	defer s.lock()()
	r, ok := s.d.blocks[requestID]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "block request", ID: requestID}
	}
	return &r, nil
}

func (s *memStore) UpdateBlockRequest(_ context.Context, req *domain.CardBlockRequest) error {
	defer s.lock()()
	if _, ok := s.d.blocks[req.ID]; !ok {
		return &domain.ErrNotFound{Resource: "block request", ID: req.ID}
	}
	s.d.blocks[req.ID] = *req
	return nil
}

func (s *memStore) ListBlockRequestsByStatus(_ context.Context, status domain.RequestStatus, page, pageSize int) ([]domain.CardBlockRequest, error) {
	defer s.lock()()
	var out []domain.CardBlockRequest
	for _, r := range s.d.blocks {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return paginate(out, page, pageSize), nil
}
