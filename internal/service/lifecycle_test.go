package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/akulinin/cardvault/internal/domain"
	"github.com/akulinin/cardvault/internal/infra/observability"
	"github.com/akulinin/cardvault/internal/service"

	"go.uber.org/zap"
)

func newLifecycle(env *testEnv) *service.LifecycleService {
	return service.NewLifecycleService(env.store, observability.NewMetrics(), zap.NewNop(), 4)
}

func TestSweepExpiredCards(t *testing.T) {
	env := newTestEnv(t)
	lifecycle := newLifecycle(env)
	owner := env.addUser(t, domain.RoleUser)

	past := time.Now().UTC().AddDate(0, 0, -10)
	expiredActive := env.addCard(t, owner.ID, "0", domain.CardStatusActive, past)
	expiredBlocked := env.addCard(t, owner.ID, "0", domain.CardStatusBlocked, past)
	alreadyExpired := env.addCard(t, owner.ID, "0", domain.CardStatusExpired, past)
	current := env.addCard(t, owner.ID, "0", domain.CardStatusActive, futureExpiry())

	result, err := lifecycle.SweepExpiredCards(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if result.Skipped {
		t.Fatal("sweep unexpectedly skipped")
	}
	if result.Expired != 2 {
		t.Errorf("expected 2 cards expired, got %d", result.Expired)
	}

	for _, id := range []string{expiredActive.ID, expiredBlocked.ID, alreadyExpired.ID} {
		card, _ := env.store.GetCard(context.Background(), id)
		if card.Status != domain.CardStatusExpired {
			t.Errorf("card %s: expected EXPIRED, got %s", id, card.Status)
		}
	}
	untouched, _ := env.store.GetCard(context.Background(), current.ID)
	if untouched.Status != domain.CardStatusActive {
		t.Errorf("unexpired card transitioned to %s", untouched.Status)
	}
}

// Running the sweep twice on the same dataset is a no-op the second time.
func TestSweepExpiredCards_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	lifecycle := newLifecycle(env)
	owner := env.addUser(t, domain.RoleUser)

	past := time.Now().UTC().AddDate(0, 0, -1)
	env.addCard(t, owner.ID, "0", domain.CardStatusActive, past)
	env.addCard(t, owner.ID, "0", domain.CardStatusActive, past)

	first, err := lifecycle.SweepExpiredCards(context.Background())
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.Expired != 2 {
		t.Fatalf("first sweep: expected 2, got %d", first.Expired)
	}

	second, err := lifecycle.SweepExpiredCards(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.Expired != 0 || second.Candidates != 0 {
		t.Errorf("second sweep not a no-op: expired=%d candidates=%d", second.Expired, second.Candidates)
	}
}

func TestSweepExpiredCards_SkipsWhenLockHeld(t *testing.T) {
	env := newTestEnv(t)
	lifecycle := newLifecycle(env)

	release, ok, err := env.store.SweepLock(context.Background())
	if err != nil || !ok {
		t.Fatalf("taking sweep lock: ok=%v err=%v", ok, err)
	}
	defer release()

	result, err := lifecycle.SweepExpiredCards(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !result.Skipped {
		t.Error("expected sweep to skip while lock is held elsewhere")
	}
}
