package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/pauljones0/free-games-bot/internal/ledger"
	"github.com/pauljones0/free-games-bot/internal/logging"
	"github.com/pauljones0/free-games-bot/internal/models"
	"github.com/pauljones0/free-games-bot/internal/source"
)

// --- Mock backend ---

type memBackend struct {
	mu         sync.Mutex
	stored     []models.GiveawayRecord
	persistErr error
}

func (m *memBackend) Load(_ context.Context) ([]models.GiveawayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.GiveawayRecord(nil), m.stored...), nil
}

func (m *memBackend) Persist(_ context.Context, _ ledger.Change, snapshot []models.GiveawayRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.persistErr != nil {
		return m.persistErr
	}
	m.stored = snapshot
	return nil
}

func (m *memBackend) failPersist(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persistErr = err
}

// --- Mock sink ---

type mockSink struct {
	mu        sync.Mutex
	created   []models.Notification
	updated   []models.Notification
	deleted   []models.NotificationHandle
	createErr error
	updateErr error
	deleteErr error
	delay     time.Duration
	next      int
}

func (m *mockSink) Create(_ context.Context, n models.Notification) (*models.NotificationHandle, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, n)
	m.next++
	return &models.NotificationHandle{ChannelID: "chan", MessageID: fmt.Sprintf("msg-%d", m.next)}, nil
}

func (m *mockSink) Update(_ context.Context, _ models.NotificationHandle, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	m.updated = append(m.updated, n)
	return nil
}

func (m *mockSink) Delete(_ context.Context, h models.NotificationHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, h)
	return nil
}

func (m *mockSink) setCreateErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

func (m *mockSink) count(kind models.NotificationKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.created {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

func (m *mockSink) calls() (created, updated, deleted int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.created), len(m.updated), len(m.deleted)
}

// --- Mock feed ---

type mockChecker struct {
	live map[string]bool
	err  error
}

func (m *mockChecker) CheckLiveness(_ context.Context, externalID string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.live[externalID], nil
}

type mockFeed struct {
	mu       sync.Mutex
	order    []models.Source
	offers   map[models.Source][]models.LiveOffer
	errs     map[models.Source]error
	checkers map[models.Source]source.LivenessChecker
}

func newFeed(sources ...models.Source) *mockFeed {
	return &mockFeed{
		order:    sources,
		offers:   make(map[models.Source][]models.LiveOffer),
		errs:     make(map[models.Source]error),
		checkers: make(map[models.Source]source.LivenessChecker),
	}
}

func (m *mockFeed) set(src models.Source, offers ...models.LiveOffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers[src] = offers
	delete(m.errs, src)
}

func (m *mockFeed) fail(src models.Source, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[src] = err
}

func (m *mockFeed) FetchAll(ctx context.Context) []source.Result {
	results := make([]source.Result, 0, len(m.order))
	for _, src := range m.order {
		offers, err := m.Fetch(ctx, src)
		results = append(results, source.Result{Source: src, Offers: offers, Err: err})
	}
	return results
}

func (m *mockFeed) Fetch(_ context.Context, name models.Source) ([]models.LiveOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[name]; err != nil {
		return nil, err
	}
	out := make([]models.LiveOffer, 0, len(m.offers[name]))
	for _, o := range m.offers[name] {
		out = append(out, o.Clone())
	}
	return out, nil
}

func (m *mockFeed) LivenessChecker(name models.Source) (source.LivenessChecker, bool) {
	c, ok := m.checkers[name]
	return c, ok
}

// --- Helpers ---

var (
	jan1 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jan8 = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	jan9 = time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)
)

func epicOffer(title string, status models.Status, start, end time.Time) models.LiveOffer {
	return models.LiveOffer{
		Title:     title,
		Source:    models.SourceEpic,
		Status:    status,
		StartDate: start,
		EndDate:   end,
		Prices:    models.Prices{"USD": {Original: 19.99, Current: 0}},
		Regions:   []models.Region{"CA", "US"},
		PageURL:   "https://store.epicgames.com/p/" + strings.ToLower(strings.TrimSpace(title)),
	}
}

type harness struct {
	engine  *Engine
	ledger  *ledger.Ledger
	backend *memBackend
	sink    *mockSink
	feed    *mockFeed
	clock   time.Time
}

func newHarness(t *testing.T, sources ...models.Source) *harness {
	t.Helper()
	if len(sources) == 0 {
		sources = []models.Source{models.SourceEpic}
	}
	h := &harness{
		backend: &memBackend{},
		sink:    &mockSink{},
		feed:    newFeed(sources...),
		clock:   jan1.Add(time.Hour),
	}
	h.ledger = ledger.Open(context.Background(), h.backend)
	h.engine = New(h.ledger, h.sink, h.feed, Config{NotifyTimeout: time.Second, CheckTimeout: time.Second})
	h.engine.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) cycle(t *testing.T) Stats {
	t.Helper()
	stats, err := h.engine.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}
	return stats
}

// --- Tests ---

func TestRunCycle_NewOfferIsRecordedAndAnnounced(t *testing.T) {
	h := newHarness(t)
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))

	stats := h.cycle(t)
	if stats.Created != 1 {
		t.Errorf("Created = %d, want 1", stats.Created)
	}

	rec, ok := h.ledger.Find("alpha")
	if !ok {
		t.Fatal("record for Alpha not found")
	}
	if rec.Status != models.StatusActive || rec.PostType != models.PostTypeAuto {
		t.Errorf("record = %+v, want active auto", rec)
	}
	if rec.Handle == nil || rec.Handle.MessageID != "msg-1" {
		t.Errorf("Handle = %+v, want msg-1", rec.Handle)
	}
	if got := h.sink.count(models.NotificationNew); got != 1 {
		t.Errorf("new notifications = %d, want 1", got)
	}
	if len(h.backend.stored) != 1 {
		t.Errorf("persisted %d records, want 1", len(h.backend.stored))
	}
}

func TestRunCycle_IsIdempotent(t *testing.T) {
	h := newHarness(t, models.SourceEpic, models.SourceSteam)
	h.feed.set(models.SourceEpic,
		epicOffer("Alpha", models.StatusActive, jan1, jan8),
		epicOffer("Beta", models.StatusUpcoming, jan8, jan8.Add(7*24*time.Hour)),
	)
	h.feed.set(models.SourceSteam, models.LiveOffer{
		Title: "Gamma", Source: models.SourceSteam, Status: models.StatusActive, StartDate: jan1, DiscountPercent: 100,
	})

	h.cycle(t)
	before := h.ledger.Snapshot()
	c1, u1, d1 := h.sink.calls()

	stats := h.cycle(t)
	if stats.Created != 0 || stats.Ended != 0 || stats.Activated != 0 {
		t.Errorf("second cycle stats = %+v, want no changes", stats)
	}
	c2, u2, d2 := h.sink.calls()
	if c1 != c2 || u1 != u2 || d1 != d2 {
		t.Errorf("sink calls changed: (%d,%d,%d) -> (%d,%d,%d)", c1, u1, d1, c2, u2, d2)
	}
	if after := h.ledger.Snapshot(); !reflect.DeepEqual(before, after) {
		t.Errorf("ledger changed:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestRunCycle_EndsStrictlyAfterEndDate(t *testing.T) {
	h := newHarness(t)
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))
	h.cycle(t)
	h.feed.set(models.SourceEpic)

	h.clock = jan8
	if stats := h.cycle(t); stats.Ended != 0 {
		t.Fatalf("ended at exactly the end date")
	}
	if _, ok := h.ledger.Find("Alpha"); !ok {
		t.Fatal("record removed at exactly the end date")
	}

	h.clock = jan8.Add(time.Second)
	if stats := h.cycle(t); stats.Ended != 1 {
		t.Errorf("Ended = %d, want 1", stats.Ended)
	}
	if _, ok := h.ledger.Find("Alpha"); ok {
		t.Error("record still present after end date")
	}
	if got := h.sink.count(models.NotificationEnded); got != 1 {
		t.Errorf("ended notifications = %d, want 1", got)
	}
	if _, _, deleted := h.sink.calls(); deleted != 1 {
		t.Errorf("deleted posts = %d, want 1", deleted)
	}

	h.cycle(t)
	if got := h.sink.count(models.NotificationEnded); got != 1 {
		t.Errorf("ended notifications after another cycle = %d, want 1", got)
	}
}

func TestRunCycle_ZeroEndDateNeverEndsByDate(t *testing.T) {
	h := newHarness(t, models.SourceSteam)
	h.feed.set(models.SourceSteam, models.LiveOffer{
		Title: "Gamma", Source: models.SourceSteam, Status: models.StatusActive, StartDate: jan1,
	})
	h.cycle(t)

	h.clock = jan1.AddDate(1, 0, 0)
	if stats := h.cycle(t); stats.Ended != 0 {
		t.Errorf("Ended = %d, want 0", stats.Ended)
	}
}

func TestRunCycle_FailedAnnouncementRetriesNextCycle(t *testing.T) {
	h := newHarness(t)
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))
	h.sink.setCreateErr(errors.New("webhook down"))

	stats := h.cycle(t)
	if stats.Failed != 1 || stats.Created != 0 {
		t.Errorf("stats = %+v, want 1 failed", stats)
	}
	if _, ok := h.ledger.Find("Alpha"); ok {
		t.Fatal("record written despite failed announcement")
	}

	h.sink.setCreateErr(nil)
	if stats := h.cycle(t); stats.Created != 1 {
		t.Errorf("Created = %d, want 1 on retry", stats.Created)
	}
	if _, ok := h.ledger.Find("Alpha"); !ok {
		t.Error("record missing after retry")
	}
}

func TestRunCycle_AlphaLifecycle(t *testing.T) {
	h := newHarness(t)
	alpha := epicOffer("Alpha", models.StatusActive, jan1, jan8)

	h.clock = jan1.Add(12 * time.Hour)
	h.feed.set(models.SourceEpic, alpha)
	h.cycle(t)

	h.clock = jan1.Add(36 * time.Hour)
	h.cycle(t)

	h.clock = jan9
	h.feed.set(models.SourceEpic)
	stats := h.cycle(t)

	if stats.Ended != 1 {
		t.Errorf("Ended = %d, want 1", stats.Ended)
	}
	if h.ledger.Len() != 0 {
		t.Errorf("ledger has %d records, want 0", h.ledger.Len())
	}
	if got := h.sink.count(models.NotificationNew); got != 1 {
		t.Errorf("new notifications = %d, want 1", got)
	}
	if got := h.sink.count(models.NotificationEnded); got != 1 {
		t.Errorf("ended notifications = %d, want 1", got)
	}
}

func TestRunCycle_ExpiredOfferStillInFeedIsNotReannounced(t *testing.T) {
	h := newHarness(t)
	alpha := epicOffer("Alpha", models.StatusActive, jan1, jan8)
	h.feed.set(models.SourceEpic, alpha)
	h.cycle(t)

	h.clock = jan9
	stats := h.cycle(t)
	if stats.Ended != 1 || stats.Created != 0 {
		t.Errorf("stats = %+v, want 1 ended and 0 created", stats)
	}
	if h.ledger.Len() != 0 {
		t.Errorf("ledger has %d records, want 0", h.ledger.Len())
	}
}

func TestRunCycle_EndedTitleNotRecreatedInSameCycle(t *testing.T) {
	h := newHarness(t, models.SourceSteam)
	checker := &mockChecker{live: map[string]bool{"440": true}}
	h.feed.checkers[models.SourceSteam] = checker
	gamma := models.LiveOffer{
		Title: "Gamma", Source: models.SourceSteam, Status: models.StatusActive, StartDate: jan1, ExternalID: "440",
	}
	h.feed.set(models.SourceSteam, gamma)
	h.cycle(t)

	// The check says ended while the search page still lists it.
	checker.live["440"] = false
	stats := h.cycle(t)
	if stats.Ended != 1 || stats.Created != 0 {
		t.Errorf("stats = %+v, want 1 ended and 0 created", stats)
	}

	if stats := h.cycle(t); stats.Created != 1 {
		t.Errorf("Created = %d on the following cycle, want 1", stats.Created)
	}
}

func TestDetectEnded_LivenessCheck(t *testing.T) {
	tests := []struct {
		name      string
		live      bool
		err       error
		wantEnded int
		wantKept  bool
	}{
		{"still live", true, nil, 0, true},
		{"no longer live", false, nil, 1, false},
		{"check fails", false, errors.New("timeout"), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, models.SourceSteam)
			h.feed.set(models.SourceSteam, models.LiveOffer{
				Title: "Gamma", Source: models.SourceSteam, Status: models.StatusActive, StartDate: jan1, ExternalID: "440",
			})
			h.cycle(t)

			h.feed.checkers[models.SourceSteam] = &mockChecker{live: map[string]bool{"440": tt.live}, err: tt.err}
			got, err := h.engine.DetectEnded(context.Background())
			if err != nil {
				t.Fatalf("DetectEnded() error = %v", err)
			}
			if got != tt.wantEnded {
				t.Errorf("DetectEnded() = %d, want %d", got, tt.wantEnded)
			}
			if _, ok := h.ledger.Find("Gamma"); ok != tt.wantKept {
				t.Errorf("record kept = %v, want %v", ok, tt.wantKept)
			}
		})
	}
}

func TestDetectEnded_SinkFailuresStillRemove(t *testing.T) {
	h := newHarness(t)
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))
	h.cycle(t)

	h.sink.mu.Lock()
	h.sink.deleteErr = errors.New("delete failed")
	h.sink.createErr = errors.New("create failed")
	h.sink.mu.Unlock()

	h.clock = jan9
	got, err := h.engine.DetectEnded(context.Background())
	if err != nil {
		t.Fatalf("DetectEnded() error = %v", err)
	}
	if got != 1 {
		t.Errorf("DetectEnded() = %d, want 1", got)
	}
	if _, ok := h.ledger.Find("Alpha"); ok {
		t.Error("record kept after sink failures")
	}
}

func TestDetectEnded_PersistFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))
	h.cycle(t)

	h.backend.failPersist(errors.New("disk full"))
	h.clock = jan9
	if _, err := h.engine.RunCycle(context.Background()); err == nil {
		t.Fatal("RunCycle() error = nil, want persist failure")
	}
	if _, ok := h.ledger.Find("Alpha"); !ok {
		t.Error("record removed from memory although persisting failed")
	}
}

func TestActivateStarted(t *testing.T) {
	start := jan8
	end := jan8.Add(7 * 24 * time.Hour)

	t.Run("updates existing post", func(t *testing.T) {
		h := newHarness(t)
		h.feed.set(models.SourceEpic, epicOffer("Beta", models.StatusUpcoming, start, end))
		h.cycle(t)

		h.clock = start.Add(time.Minute)
		active := epicOffer("Beta", models.StatusActive, start, end)
		active.ImageURL = "https://cdn.example.com/beta.jpg"
		h.feed.set(models.SourceEpic, active)

		if stats := h.cycle(t); stats.Activated != 1 {
			t.Fatalf("Activated = %d, want 1", stats.Activated)
		}
		rec, _ := h.ledger.Find("Beta")
		if rec.Status != models.StatusActive {
			t.Errorf("Status = %q, want active", rec.Status)
		}
		if rec.ImageURL != active.ImageURL {
			t.Errorf("ImageURL = %q, want %q", rec.ImageURL, active.ImageURL)
		}
		if rec.Handle == nil || rec.Handle.MessageID != "msg-1" {
			t.Errorf("Handle = %+v, want original msg-1", rec.Handle)
		}
		if _, updated, _ := h.sink.calls(); updated != 1 {
			t.Errorf("updates = %d, want 1", updated)
		}
	})

	t.Run("creates post when none recorded", func(t *testing.T) {
		h := newHarness(t)
		rec := models.NewRecord(epicOffer("Beta", models.StatusUpcoming, start, end), models.PostTypeManual, jan1, nil)
		if err := h.ledger.Upsert(context.Background(), rec); err != nil {
			t.Fatal(err)
		}
		h.clock = start.Add(time.Minute)
		h.feed.set(models.SourceEpic, epicOffer("Beta", models.StatusActive, start, end))

		got, err := h.engine.ActivateStarted(context.Background(), map[models.Source][]models.LiveOffer{
			models.SourceEpic: {epicOffer("Beta", models.StatusActive, start, end)},
		})
		if err != nil || got != 1 {
			t.Fatalf("ActivateStarted() = %d, %v; want 1, nil", got, err)
		}
		updated, _ := h.ledger.Find("Beta")
		if updated.Handle == nil {
			t.Error("Handle not recorded after creating the post")
		}
		if updated.PostType != models.PostTypeManual {
			t.Errorf("PostType = %q, want manual", updated.PostType)
		}
		if got := h.sink.count(models.NotificationUpdated); got != 1 {
			t.Errorf("updated notifications created = %d, want 1", got)
		}
	})

	t.Run("future start untouched", func(t *testing.T) {
		h := newHarness(t)
		h.feed.set(models.SourceEpic, epicOffer("Beta", models.StatusUpcoming, start, end))
		h.cycle(t)

		got, err := h.engine.ActivateStarted(context.Background(), map[models.Source][]models.LiveOffer{
			models.SourceEpic: {epicOffer("Beta", models.StatusActive, start, end)},
		})
		if err != nil || got != 0 {
			t.Errorf("ActivateStarted() = %d, %v; want 0, nil", got, err)
		}
	})

	t.Run("unfetched source untouched", func(t *testing.T) {
		h := newHarness(t)
		h.feed.set(models.SourceEpic, epicOffer("Beta", models.StatusUpcoming, start, end))
		h.cycle(t)

		h.clock = start.Add(time.Minute)
		got, err := h.engine.ActivateStarted(context.Background(), map[models.Source][]models.LiveOffer{})
		if err != nil || got != 0 {
			t.Errorf("ActivateStarted() = %d, %v; want 0, nil", got, err)
		}
		rec, _ := h.ledger.Find("Beta")
		if rec.Status != models.StatusUpcoming {
			t.Errorf("Status = %q, want upcoming", rec.Status)
		}
	})
}

func TestPublishManual_AlreadyPosted(t *testing.T) {
	h := newHarness(t)
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))
	h.cycle(t)

	_, err := h.engine.PublishManual(context.Background(), epicOffer("ALPHA", models.StatusActive, jan1, jan8))
	if !errors.Is(err, models.ErrAlreadyPosted) {
		t.Errorf("PublishManual() error = %v, want ErrAlreadyPosted", err)
	}
	if got := h.sink.count(models.NotificationNew); got != 1 {
		t.Errorf("new notifications = %d, want 1", got)
	}
}

func TestPublishTitle(t *testing.T) {
	h := newHarness(t)
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))

	if _, err := h.engine.PublishTitle(context.Background(), models.SourceEpic, "Missing"); !errors.Is(err, models.ErrOfferNotFound) {
		t.Errorf("PublishTitle(Missing) error = %v, want ErrOfferNotFound", err)
	}

	rec, err := h.engine.PublishTitle(context.Background(), models.SourceEpic, "alpha")
	if err != nil {
		t.Fatalf("PublishTitle(alpha) error = %v", err)
	}
	if rec.PostType != models.PostTypeManual || rec.Title != "Alpha" {
		t.Errorf("record = %+v, want manual Alpha", rec)
	}
	h.sink.mu.Lock()
	gotType := h.sink.created[0].PostType
	h.sink.mu.Unlock()
	if gotType != models.PostTypeManual {
		t.Errorf("notification PostType = %q, want manual", gotType)
	}

	if _, err := h.engine.PublishTitle(context.Background(), models.SourceEpic, "Alpha"); !errors.Is(err, models.ErrAlreadyPosted) {
		t.Errorf("second PublishTitle() error = %v, want ErrAlreadyPosted", err)
	}
}

func TestPublish_ManualAndAutoRace(t *testing.T) {
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		h.sink.delay = time.Millisecond
		offer := epicOffer("Alpha", models.StatusActive, jan1, jan8)
		h.feed.set(models.SourceEpic, offer)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = h.engine.RunCycle(context.Background())
		}()
		go func() {
			defer wg.Done()
			_, _ = h.engine.PublishManual(context.Background(), offer)
		}()
		wg.Wait()

		if got := h.sink.count(models.NotificationNew); got != 1 {
			t.Fatalf("run %d: new notifications = %d, want 1", i, got)
		}
		if h.ledger.Len() != 1 {
			t.Fatalf("run %d: ledger has %d records, want 1", i, h.ledger.Len())
		}
	}
}

func TestPublish_PersistFailureRetractsPost(t *testing.T) {
	h := newHarness(t)
	h.backend.failPersist(errors.New("disk full"))
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))

	if _, err := h.engine.RunCycle(context.Background()); err == nil {
		t.Fatal("RunCycle() error = nil, want persist failure")
	}
	if h.ledger.Len() != 0 {
		t.Errorf("ledger has %d records, want 0", h.ledger.Len())
	}
	if _, _, deleted := h.sink.calls(); deleted != 1 {
		t.Errorf("deleted posts = %d, want 1", deleted)
	}
}

func TestRunCycle_AllSourcesFailed(t *testing.T) {
	h := newHarness(t, models.SourceEpic, models.SourceSteam)
	h.feed.fail(models.SourceEpic, errors.New("epic down"))
	h.feed.fail(models.SourceSteam, errors.New("steam down"))

	stats, err := h.engine.RunCycle(context.Background())
	if !errors.Is(err, ErrNoSourceObserved) {
		t.Errorf("RunCycle() error = %v, want ErrNoSourceObserved", err)
	}
	if stats.SourceErrors != 2 {
		t.Errorf("SourceErrors = %d, want 2", stats.SourceErrors)
	}
}

func TestRunCycle_OneSourceFailingDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t, models.SourceEpic, models.SourceSteam)
	h.feed.fail(models.SourceEpic, errors.New("epic down"))
	h.feed.set(models.SourceSteam, models.LiveOffer{
		Title: "Gamma", Source: models.SourceSteam, Status: models.StatusActive, StartDate: jan1,
	})

	stats := h.cycle(t)
	if stats.SourceErrors != 1 || stats.Created != 1 {
		t.Errorf("stats = %+v, want 1 source error and 1 created", stats)
	}
}

func TestDiscoverNew_SkipsInvalidOffer(t *testing.T) {
	h := newHarness(t)
	bad := epicOffer("Broken", models.StatusActive, jan8, jan1)
	good := epicOffer("Alpha", models.StatusActive, jan1, jan8)

	created, failed, err := h.engine.DiscoverNew(context.Background(), models.SourceEpic, []models.LiveOffer{bad, good})
	if err != nil {
		t.Fatalf("DiscoverNew() error = %v", err)
	}
	if created != 1 || failed != 0 {
		t.Errorf("DiscoverNew() = %d created, %d failed; want 1, 0", created, failed)
	}
	if _, ok := h.ledger.Find("Broken"); ok {
		t.Error("invalid offer recorded")
	}
}

// Each generated int picks one of four offers and whether it appears in that
// cycle's feed; the ledger must never hold two records for a title and no
// record may move backwards in its lifecycle.
func TestRunCycle_LedgerProperties(t *testing.T) {
	titles := []string{"Alpha", "alpha", "Beta", "BETA"}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("dedup and monotonic status across cycles", prop.ForAll(
		func(steps []int) bool {
			h := newHarness(t)
			ranks := map[string]int{}
			for c := 0; c+3 <= len(steps); c += 3 {
				var offers []models.LiveOffer
				for _, s := range steps[c : c+3] {
					status := models.StatusUpcoming
					if s%2 == 1 {
						status = models.StatusActive
					}
					offers = append(offers, epicOffer(titles[s%4], status, jan8, jan8.Add(7*24*time.Hour)))
				}
				h.feed.set(models.SourceEpic, offers...)
				h.clock = jan1.Add(time.Duration(c) * 24 * time.Hour)
				if _, err := h.engine.RunCycle(context.Background()); err != nil {
					return false
				}

				seen := map[string]bool{}
				for _, rec := range h.ledger.Snapshot() {
					if seen[rec.Key()] {
						return false
					}
					seen[rec.Key()] = true
					if rec.Status.Rank() < ranks[rec.Key()] {
						return false
					}
					ranks[rec.Key()] = rec.Status.Rank()
				}
				for key := range ranks {
					if !seen[key] {
						delete(ranks, key)
					}
				}
			}
			return true
		},
		gen.SliceOfN(18, gen.IntRange(0, 4)),
	))

	properties.TestingRun(t)
}

func TestRunCycle_LogsThroughContextLogger(t *testing.T) {
	h := newHarness(t)
	h.feed.set(models.SourceEpic, epicOffer("Alpha", models.StatusActive, jan1, jan8))

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil)).With("cycle", "c-42")
	ctx := logging.NewContext(context.Background(), logger)
	if _, err := h.engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle() error = %v", err)
	}

	var found bool
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "Giveaway announced") {
			found = true
			if !strings.Contains(line, "cycle=c-42") {
				t.Errorf("cycle id missing from %q", line)
			}
		}
	}
	if !found {
		t.Errorf("no announcement logged:\n%s", buf.String())
	}
}
