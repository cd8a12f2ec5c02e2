package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lunaria-live/lunaria/internal/config"
	"github.com/lunaria-live/lunaria/internal/ledger"
	"github.com/lunaria-live/lunaria/internal/model"
	"github.com/lunaria-live/lunaria/internal/rate"
	"github.com/lunaria-live/lunaria/internal/store"
	"github.com/lunaria-live/lunaria/pkg/logger"
)

type noticeRecorder struct {
	mu   sync.Mutex
	sent []model.Envelope
}

func (r *noticeRecorder) NotifyProvider(providerID string, env model.Envelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, env)
}

func (r *noticeRecorder) last(t *testing.T) model.Envelope {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		t.Fatal("no notifications sent")
	}
	return r.sent[len(r.sent)-1]
}

func newTestManager(t *testing.T) (*Manager, *gorm.DB, *noticeRecorder) {
	t.Helper()
	st, err := store.NewStore("sqlite", filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	cfg := &config.Config{
		SessionFloorMinutes:   2,
		CreatedSessionTimeout: time.Minute,
		SweepInterval:         time.Minute,
	}
	calc := rate.NewCalculator(dec("0.30"))
	rec := &noticeRecorder{}
	m := NewManager(st.DB(), ledger.NewService(st.DB(), calc), st, cfg, logger.NewNop(), rec)
	return m, st.DB(), rec
}

func seedClient(t *testing.T, db *gorm.DB, id, balance string) {
	t.Helper()
	w := model.Wallet{AccountID: id, Balance: dec(balance), UpdatedAt: time.Now()}
	if err := db.Create(&w).Error; err != nil {
		t.Fatalf("seed client wallet: %v", err)
	}
}

func seedReader(t *testing.T, db *gorm.DB, id, chatRate string, online, available bool) {
	t.Helper()
	p := model.ProviderProfile{
		AccountID:   id,
		ChatRate:    dec(chatRate),
		IsOnline:    online,
		IsAvailable: available,
		UpdatedAt:   time.Now(),
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("seed provider profile: %v", err)
	}
}

func profileOf(t *testing.T, db *gorm.DB, id string) model.ProviderProfile {
	t.Helper()
	var p model.ProviderProfile
	if err := db.Where("account_id = ?", id).First(&p).Error; err != nil {
		t.Fatalf("load profile %s: %v", id, err)
	}
	return p
}

func balanceOf(t *testing.T, db *gorm.DB, id string) decimal.Decimal {
	t.Helper()
	var w model.Wallet
	if err := db.Where("account_id = ?", id).First(&w).Error; err != nil {
		t.Fatalf("load wallet %s: %v", id, err)
	}
	return w.Balance
}

func backdateStart(t *testing.T, db *gorm.DB, sessionID string, ago time.Duration) {
	t.Helper()
	err := db.Model(&model.Session{}).Where("id = ?", sessionID).
		Update("started_at", time.Now().Add(-ago)).Error
	if err != nil {
		t.Fatalf("backdate started_at: %v", err)
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ─────────────────────────────────────────────
// StartSession
// ─────────────────────────────────────────────

func TestStartSessionClaimsProvider(t *testing.T) {
	m, db, rec := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)

	desc, err := m.StartSession(ctx, "c1", &model.StartSessionRequest{ProviderID: "r1", Channel: model.ChannelChat})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if desc.Status != model.SessionCreated {
		t.Errorf("status = %s, want created", desc.Status)
	}
	if !desc.RatePerMinute.Equal(dec("2.00")) {
		t.Errorf("rate = %s, want 2.00", desc.RatePerMinute)
	}
	if desc.ChannelName == "" || len(desc.ChannelName) > 64 {
		t.Errorf("bad channel name %q", desc.ChannelName)
	}

	if p := profileOf(t, db, "r1"); p.IsAvailable {
		t.Error("provider still available after claim")
	}
	if env := rec.last(t); env.Type != model.MsgTypeSessionRequested {
		t.Errorf("notified %s, want SESSION_REQUESTED", env.Type)
	}
}

func TestStartSessionValidation(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)

	_, err := m.StartSession(ctx, "c1", &model.StartSessionRequest{ProviderID: "r1", Channel: "carrier-pigeon"})
	if !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("bad channel: got %v, want ErrInvalidChannel", err)
	}

	_, err = m.StartSession(ctx, "r1", &model.StartSessionRequest{ProviderID: "r1", Channel: model.ChannelChat})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("self session: got %v, want ErrProviderUnavailable", err)
	}

	_, err = m.StartSession(ctx, "c1", &model.StartSessionRequest{ProviderID: "ghost", Channel: model.ChannelChat})
	if !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("unknown provider: got %v, want ErrProviderNotFound", err)
	}

	// Channel without a configured rate cannot be booked.
	_, err = m.StartSession(ctx, "c1", &model.StartSessionRequest{ProviderID: "r1", Channel: model.ChannelVideo})
	if !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("unpriced channel: got %v, want ErrProviderUnavailable", err)
	}
}

func TestStartSessionBalanceFloor(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	// Floor is 2 minutes at 2.00/min. 3.99 misses it, 4.00 meets it.
	seedClient(t, db, "poor", "3.99")
	seedClient(t, db, "exact", "4.00")
	seedReader(t, db, "r1", "2.00", true, true)

	_, err := m.StartSession(ctx, "poor", &model.StartSessionRequest{ProviderID: "r1", Channel: model.ChannelChat})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
	if p := profileOf(t, db, "r1"); !p.IsAvailable {
		t.Error("failed start must not claim the provider")
	}

	if _, err := m.StartSession(ctx, "exact", &model.StartSessionRequest{ProviderID: "r1", Channel: model.ChannelChat}); err != nil {
		t.Fatalf("exact floor balance rejected: %v", err)
	}
}

func TestStartSessionUnavailableProvider(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "busy", "2.00", true, false)
	seedReader(t, db, "offline", "2.00", false, false)

	for _, id := range []string{"busy", "offline"} {
		_, err := m.StartSession(ctx, "c1", &model.StartSessionRequest{ProviderID: id, Channel: model.ChannelChat})
		if !errors.Is(err, ErrProviderUnavailable) {
			t.Errorf("%s: got %v, want ErrProviderUnavailable", id, err)
		}
	}
}

func TestConcurrentStartSingleWinner(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedClient(t, db, "c2", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, client := range []string{"c1", "c2"} {
		wg.Add(1)
		go func(i int, client string) {
			defer wg.Done()
			_, errs[i] = m.StartSession(ctx, client, &model.StartSessionRequest{ProviderID: "r1", Channel: model.ChannelChat})
		}(i, client)
	}
	wg.Wait()

	won := 0
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrProviderUnavailable):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("%d starts won the provider, want exactly 1", won)
	}

	var count int64
	db.Model(&model.Session{}).Count(&count)
	if count != 1 {
		t.Fatalf("%d session rows, want 1", count)
	}
}

// ─────────────────────────────────────────────
// Activate / End / Cancel
// ─────────────────────────────────────────────

func startTestSession(t *testing.T, m *Manager, clientID, providerID string) string {
	t.Helper()
	desc, err := m.StartSession(context.Background(), clientID, &model.StartSessionRequest{
		ProviderID: providerID, Channel: model.ChannelChat,
	})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	return desc.SessionID
}

func TestActivateSession(t *testing.T) {
	m, db, rec := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	id := startTestSession(t, m, "c1", "r1")

	if _, err := m.ActivateSession(ctx, id, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger activate: got %v, want ErrNotParticipant", err)
	}

	desc, err := m.ActivateSession(ctx, id, "r1")
	if err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	if desc.Status != model.SessionActive {
		t.Errorf("status = %s, want active", desc.Status)
	}
	if env := rec.last(t); env.Type != model.MsgTypeSessionActivated {
		t.Errorf("notified %s, want SESSION_ACTIVATED", env.Type)
	}

	var sess model.Session
	db.Where("id = ?", id).First(&sess)
	if sess.StartedAt == nil {
		t.Error("started_at not stamped")
	}

	if _, err := m.ActivateSession(ctx, id, "c1"); !errors.Is(err, ErrSessionNotPending) {
		t.Errorf("double activate: got %v, want ErrSessionNotPending", err)
	}
}

func TestEndSessionSettles(t *testing.T) {
	m, db, rec := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	id := startTestSession(t, m, "c1", "r1")
	if _, err := m.ActivateSession(ctx, id, "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	backdateStart(t, db, id, 150*time.Second)

	rating := 5
	sess, err := m.EndSession(ctx, id, "c1", &model.EndSessionRequest{Rating: &rating, Review: "spot on"})
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if sess.Status != model.SessionCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}
	// 150s rounds up to 3 billable minutes at 2.00/min.
	if !sess.TotalCost.Equal(dec("6.00")) {
		t.Errorf("cost = %s, want 6.00", sess.TotalCost)
	}
	if sess.DurationSeconds < 150 || sess.DurationSeconds > 155 {
		t.Errorf("duration = %ds, want ~150", sess.DurationSeconds)
	}

	if got := balanceOf(t, db, "c1"); !got.Equal(dec("4.00")) {
		t.Errorf("client balance = %s, want 4.00", got)
	}
	p := profileOf(t, db, "r1")
	if !p.PendingEarnings.Equal(dec("4.20")) {
		t.Errorf("pending earnings = %s, want 4.20", p.PendingEarnings)
	}
	if !p.IsAvailable {
		t.Error("provider not available again after session end")
	}
	if p.TotalReviews != 1 {
		t.Errorf("total reviews = %d, want 1", p.TotalReviews)
	}
	if p.RatingAvg.Sub(dec("5.00")).Abs().GreaterThan(dec("0.01")) {
		t.Errorf("rating avg = %s, want 5.00", p.RatingAvg)
	}

	var txns []model.Transaction
	db.Where("session_id = ?", id).Order("id").Find(&txns)
	if len(txns) != 2 {
		t.Fatalf("%d transactions for session, want charge+earning", len(txns))
	}
	if txns[0].Type != model.TxCharge || !txns[0].Amount.Equal(dec("6.00")) {
		t.Errorf("charge leg = %s %s", txns[0].Type, txns[0].Amount)
	}
	if txns[1].Type != model.TxEarning || !txns[1].Amount.Equal(dec("4.20")) {
		t.Errorf("earning leg = %s %s", txns[1].Type, txns[1].Amount)
	}

	if env := rec.last(t); env.Type != model.MsgTypeSessionClosed {
		t.Errorf("notified %s, want SESSION_CLOSED", env.Type)
	}

	if _, err := m.EndSession(ctx, id, "c1", &model.EndSessionRequest{}); !errors.Is(err, ErrSessionNotActive) {
		t.Errorf("double end: got %v, want ErrSessionNotActive", err)
	}
}

func TestEndSessionZeroDuration(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	id := startTestSession(t, m, "c1", "r1")
	if _, err := m.ActivateSession(ctx, id, "r1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	sess, err := m.EndSession(ctx, id, "c1", &model.EndSessionRequest{})
	if err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if sess.Status != model.SessionCompleted {
		t.Errorf("status = %s, want completed", sess.Status)
	}
	if !sess.TotalCost.IsZero() {
		t.Errorf("cost = %s, want 0", sess.TotalCost)
	}
	if got := balanceOf(t, db, "c1"); !got.Equal(dec("10.00")) {
		t.Errorf("balance = %s, want untouched 10.00", got)
	}
	var count int64
	db.Model(&model.Transaction{}).Count(&count)
	if count != 0 {
		t.Errorf("%d ledger rows for a free session, want 0", count)
	}
}

func TestEndSessionSettlementFailure(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	id := startTestSession(t, m, "c1", "r1")
	if _, err := m.ActivateSession(ctx, id, "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	// 11 minutes at 2.00/min is 22.00, more than the client holds.
	backdateStart(t, db, id, 11*time.Minute)

	_, err := m.EndSession(ctx, id, "c1", &model.EndSessionRequest{})
	if !errors.Is(err, ErrSettlementFailed) {
		t.Fatalf("got %v, want ErrSettlementFailed", err)
	}

	var sess model.Session
	db.Where("id = ?", id).First(&sess)
	if sess.Status != model.SessionFailed {
		t.Errorf("status = %s, want failed", sess.Status)
	}
	if got := balanceOf(t, db, "c1"); !got.Equal(dec("10.00")) {
		t.Errorf("balance = %s, want untouched 10.00", got)
	}
	p := profileOf(t, db, "r1")
	if !p.PendingEarnings.IsZero() {
		t.Errorf("pending earnings = %s, want 0", p.PendingEarnings)
	}
	if !p.IsAvailable {
		t.Error("provider must be freed even when settlement fails")
	}

	var failed model.Transaction
	if err := db.Where("session_id = ? AND type = ? AND status = ?", id, model.TxCharge, model.TxFailed).
		First(&failed).Error; err != nil {
		t.Fatalf("failed charge row missing: %v", err)
	}
	if !failed.Amount.Equal(dec("22.00")) {
		t.Errorf("failed charge amount = %s, want 22.00", failed.Amount)
	}
}

func TestEndSessionRatingRules(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	id := startTestSession(t, m, "c1", "r1")
	if _, err := m.ActivateSession(ctx, id, "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	five, six := 5, 6
	if _, err := m.EndSession(ctx, id, "r1", &model.EndSessionRequest{Rating: &five}); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("provider rating: got %v, want ErrInvalidRating", err)
	}
	if _, err := m.EndSession(ctx, id, "c1", &model.EndSessionRequest{Rating: &six}); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("rating 6: got %v, want ErrInvalidRating", err)
	}

	var sess model.Session
	db.Where("id = ?", id).First(&sess)
	if sess.Status != model.SessionActive {
		t.Errorf("rejected end must leave the session active, got %s", sess.Status)
	}
}

func TestRatingFoldAveraging(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	err := db.Model(&model.ProviderProfile{}).Where("account_id = ?", "r1").
		Updates(map[string]interface{}{"rating_avg": dec("4.00"), "total_reviews": 10}).Error
	if err != nil {
		t.Fatalf("seed rating history: %v", err)
	}

	id := startTestSession(t, m, "c1", "r1")
	if _, err := m.ActivateSession(ctx, id, "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	rating := 5
	if _, err := m.EndSession(ctx, id, "c1", &model.EndSessionRequest{Rating: &rating}); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	p := profileOf(t, db, "r1")
	if p.TotalReviews != 11 {
		t.Errorf("total reviews = %d, want 11", p.TotalReviews)
	}
	// (4.00*10 + 5) / 11 = 4.0909...
	if p.RatingAvg.Sub(dec("4.09")).Abs().GreaterThan(dec("0.01")) {
		t.Errorf("rating avg = %s, want ~4.09", p.RatingAvg)
	}
}

func TestCancelSession(t *testing.T) {
	m, db, rec := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	id := startTestSession(t, m, "c1", "r1")

	if err := m.CancelSession(ctx, id, "r1"); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	var sess model.Session
	db.Where("id = ?", id).First(&sess)
	if sess.Status != model.SessionCancelled {
		t.Errorf("status = %s, want cancelled", sess.Status)
	}
	if p := profileOf(t, db, "r1"); !p.IsAvailable {
		t.Error("provider not freed on cancel")
	}
	if env := rec.last(t); env.Type != model.MsgTypeSessionClosed {
		t.Errorf("notified %s, want SESSION_CLOSED", env.Type)
	}

	if err := m.CancelSession(ctx, id, "c1"); !errors.Is(err, ErrSessionNotPending) {
		t.Errorf("double cancel: got %v, want ErrSessionNotPending", err)
	}
	if _, err := m.ActivateSession(ctx, id, "c1"); !errors.Is(err, ErrSessionNotPending) {
		t.Errorf("activate after cancel: got %v, want ErrSessionNotPending", err)
	}
}

func TestCancelActiveSessionRefused(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	id := startTestSession(t, m, "c1", "r1")
	if _, err := m.ActivateSession(ctx, id, "c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := m.CancelSession(ctx, id, "c1"); !errors.Is(err, ErrSessionNotPending) {
		t.Fatalf("cancel active: got %v, want ErrSessionNotPending", err)
	}
}

// ─────────────────────────────────────────────
// Queries
// ─────────────────────────────────────────────

func TestGetSessionParticipantsOnly(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)
	id := startTestSession(t, m, "c1", "r1")

	for _, actor := range []string{"c1", "r1"} {
		if _, err := m.GetSession(ctx, id, actor); err != nil {
			t.Errorf("GetSession as %s: %v", actor, err)
		}
	}
	if _, err := m.GetSession(ctx, id, "stranger"); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger: got %v, want ErrNotParticipant", err)
	}
	if _, err := m.GetSession(ctx, "nope", "c1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("unknown id: got %v, want ErrSessionNotFound", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "50.00")
	seedReader(t, db, "r1", "2.00", true, true)

	first := startTestSession(t, m, "c1", "r1")
	if err := m.CancelSession(ctx, first, "c1"); err != nil {
		t.Fatalf("cancel first: %v", err)
	}
	if err := db.Model(&model.Session{}).Where("id = ?", first).
		Update("created_at", time.Now().Add(-time.Hour)).Error; err != nil {
		t.Fatalf("backdate first: %v", err)
	}
	second := startTestSession(t, m, "c1", "r1")

	got, err := m.ListSessions(ctx, "c1", 0, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("%d sessions, want 2", len(got))
	}
	if got[0].ID != second || got[1].ID != first {
		t.Errorf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}

	// The provider sees the same sessions from their side.
	fromProvider, err := m.ListSessions(ctx, "r1", 0, 0)
	if err != nil {
		t.Fatalf("ListSessions as provider: %v", err)
	}
	if len(fromProvider) != 2 {
		t.Errorf("%d sessions for provider, want 2", len(fromProvider))
	}
}

// ─────────────────────────────────────────────
// Gifts
// ─────────────────────────────────────────────

func TestSendGiftSettles(t *testing.T) {
	m, db, rec := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedReader(t, db, "r1", "2.00", true, true)

	var rose model.Gift
	if err := db.Where("name = ?", "Rose").First(&rose).Error; err != nil {
		t.Fatalf("seeded catalog missing Rose: %v", err)
	}

	res, err := m.SendGift(ctx, "c1", &model.SendGiftRequest{GiftID: rose.ID, ProviderID: "r1"})
	if err != nil {
		t.Fatalf("SendGift: %v", err)
	}
	// 1.99 splits into 0.60 fee and 1.39 share.
	if !res.Share.Equal(dec("1.39")) || !res.Fee.Equal(dec("0.60")) {
		t.Errorf("split = share %s fee %s, want 1.39/0.60", res.Share, res.Fee)
	}
	if got := balanceOf(t, db, "c1"); !got.Equal(dec("8.01")) {
		t.Errorf("balance = %s, want 8.01", got)
	}
	if p := profileOf(t, db, "r1"); !p.PendingEarnings.Equal(dec("1.39")) {
		t.Errorf("pending earnings = %s, want 1.39", p.PendingEarnings)
	}
	if env := rec.last(t); env.Type != model.MsgTypeGiftReceived {
		t.Errorf("notified %s, want GIFT_RECEIVED", env.Type)
	}
}

func TestSendGiftValidation(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "10.00")
	seedClient(t, db, "c2", "10.00")
	seedClient(t, db, "broke", "0.50")
	seedReader(t, db, "r1", "2.00", true, true)

	if _, err := m.SendGift(ctx, "c1", &model.SendGiftRequest{GiftID: 9999, ProviderID: "r1"}); !errors.Is(err, ErrGiftNotFound) {
		t.Errorf("unknown gift: got %v, want ErrGiftNotFound", err)
	}

	var rose model.Gift
	if err := db.Where("name = ?", "Rose").First(&rose).Error; err != nil {
		t.Fatalf("seeded catalog missing Rose: %v", err)
	}

	if _, err := m.SendGift(ctx, "broke", &model.SendGiftRequest{GiftID: rose.ID, ProviderID: "r1"}); !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("broke client: got %v, want ErrInsufficientBalance", err)
	}

	// A gift pinned to a session must come from that session's client.
	id := startTestSession(t, m, "c1", "r1")
	if _, err := m.SendGift(ctx, "c2", &model.SendGiftRequest{GiftID: rose.ID, ProviderID: "r1", SessionID: &id}); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("foreign session link: got %v, want ErrNotParticipant", err)
	}
}

// ─────────────────────────────────────────────
// Sweeper
// ─────────────────────────────────────────────

func TestSweepCancelsStaleSessions(t *testing.T) {
	m, db, _ := newTestManager(t)
	ctx := context.Background()
	seedClient(t, db, "c1", "50.00")
	seedReader(t, db, "r1", "2.00", true, true)
	seedReader(t, db, "r2", "2.00", true, true)
	seedReader(t, db, "r3", "2.00", true, true)

	stale := startTestSession(t, m, "c1", "r1")
	if err := db.Model(&model.Session{}).Where("id = ?", stale).
		Update("created_at", time.Now().Add(-5*time.Minute)).Error; err != nil {
		t.Fatalf("backdate stale: %v", err)
	}

	fresh := startTestSession(t, m, "c1", "r2")

	running := startTestSession(t, m, "c1", "r3")
	if _, err := m.ActivateSession(ctx, running, "c1"); err != nil {
		t.Fatalf("activate running: %v", err)
	}
	if err := db.Model(&model.Session{}).Where("id = ?", running).
		Update("created_at", time.Now().Add(-5*time.Minute)).Error; err != nil {
		t.Fatalf("backdate running: %v", err)
	}

	m.sweepStale(ctx)

	var sess model.Session
	db.Where("id = ?", stale).First(&sess)
	if sess.Status != model.SessionCancelled {
		t.Errorf("stale session = %s, want cancelled", sess.Status)
	}
	if p := profileOf(t, db, "r1"); !p.IsAvailable {
		t.Error("swept provider not freed")
	}

	sess = model.Session{}
	db.Where("id = ?", fresh).First(&sess)
	if sess.Status != model.SessionCreated {
		t.Errorf("fresh session = %s, want still created", sess.Status)
	}
	sess = model.Session{}
	db.Where("id = ?", running).First(&sess)
	if sess.Status != model.SessionActive {
		t.Errorf("active session = %s, must never be swept", sess.Status)
	}
}
