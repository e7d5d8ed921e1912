// Package ledger keeps the durable record of every giveaway that has been
// announced, keyed by normalized title.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/pauljones0/free-games-bot/internal/models"
)

// Op is the kind of mutation handed to a Backend.
type Op int

const (
	OpUpsert Op = iota + 1
	OpRemove
)

// Change describes the single mutation that produced a snapshot.
type Change struct {
	Op     Op
	Record models.GiveawayRecord
}

// Backend persists ledger state. Persist receives both the change and the full
// resulting snapshot so that whole-file and per-document stores can each use
// what suits them. A Persist error must leave the stored state unchanged.
type Backend interface {
	Load(ctx context.Context) ([]models.GiveawayRecord, error)
	Persist(ctx context.Context, change Change, snapshot []models.GiveawayRecord) error
}

// Ledger is safe for concurrent use. Find, Upsert, Remove and Snapshot are
// atomic with respect to each other; Lock additionally serializes whole
// check-then-act sequences for one title.
type Ledger struct {
	mu      sync.RWMutex
	backend Backend
	order   []string
	records map[string]models.GiveawayRecord
	titles  keyedMutex
}

// Open loads the ledger from backend. A store that cannot be read is treated as
// empty: previously announced titles may be announced again after such a reset.
func Open(ctx context.Context, backend Backend) *Ledger {
	l := &Ledger{
		backend: backend,
		records: make(map[string]models.GiveawayRecord),
	}

	loaded, err := backend.Load(ctx)
	if err != nil {
		slog.Error("Ledger unreadable, starting empty", "error", err)
		return l
	}

	for _, rec := range loaded {
		if err := checkRecord(rec); err != nil {
			slog.Warn("Dropping invalid ledger record", "title", rec.Title, "error", err)
			continue
		}
		if !rec.Status.Live() {
			slog.Warn("Dropping ledger record with terminal status", "title", rec.Title, "status", rec.Status)
			continue
		}
		key := rec.Key()
		if _, dup := l.records[key]; dup {
			slog.Warn("Dropping duplicate ledger record", "title", rec.Title)
			continue
		}
		l.order = append(l.order, key)
		l.records[key] = cloneRecord(rec)
	}
	slog.Info("Ledger loaded", "records", len(l.order))
	return l
}

// Lock acquires the critical section for title and returns its release func.
func (l *Ledger) Lock(title string) (unlock func()) {
	return l.titles.lock(models.NormalizeTitle(title))
}

// Find looks a record up by case-insensitive title.
func (l *Ledger) Find(title string) (models.GiveawayRecord, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[models.NormalizeTitle(title)]
	if !ok {
		return models.GiveawayRecord{}, false
	}
	return cloneRecord(rec), true
}

// Upsert inserts rec or replaces the record with the same normalized title.
// A replacement keeps its position in the snapshot order and may not move the
// status backwards.
func (l *Ledger) Upsert(ctx context.Context, rec models.GiveawayRecord) error {
	if err := checkRecord(rec); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := rec.Key()
	order := l.order
	if existing, ok := l.records[key]; ok {
		if rec.Status.Rank() < existing.Status.Rank() {
			return fmt.Errorf("%w: %q %s -> %s", models.ErrStatusRegression, rec.Title, existing.Status, rec.Status)
		}
	} else {
		order = append(slices.Clone(l.order), key)
	}

	rec = cloneRecord(rec)
	snapshot := l.snapshotWith(order, key, &rec)
	if err := l.backend.Persist(ctx, Change{Op: OpUpsert, Record: rec}, snapshot); err != nil {
		return fmt.Errorf("failed to persist ledger upsert for %q: %w", rec.Title, err)
	}

	l.order = order
	l.records[key] = rec
	return nil
}

// Remove deletes the record with the given case-insensitive title.
func (l *Ledger) Remove(ctx context.Context, title string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := models.NormalizeTitle(title)
	rec, ok := l.records[key]
	if !ok {
		return fmt.Errorf("%w: %q", models.ErrRecordNotFound, title)
	}

	order := slices.DeleteFunc(slices.Clone(l.order), func(k string) bool { return k == key })
	snapshot := l.snapshotWith(order, key, nil)
	if err := l.backend.Persist(ctx, Change{Op: OpRemove, Record: rec}, snapshot); err != nil {
		return fmt.Errorf("failed to persist ledger removal for %q: %w", title, err)
	}

	l.order = order
	delete(l.records, key)
	return nil
}

// Snapshot returns a consistent copy of all records in insertion order.
func (l *Ledger) Snapshot() []models.GiveawayRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotWith(l.order, "", nil)
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// snapshotWith renders order against the current records, with key replaced
// by override. Callers hold l.mu.
func (l *Ledger) snapshotWith(order []string, key string, override *models.GiveawayRecord) []models.GiveawayRecord {
	out := make([]models.GiveawayRecord, 0, len(order))
	for _, k := range order {
		if k == key && override != nil {
			out = append(out, cloneRecord(*override))
			continue
		}
		out = append(out, cloneRecord(l.records[k]))
	}
	return out
}

func checkRecord(rec models.GiveawayRecord) error {
	if strings.TrimSpace(rec.Title) == "" {
		return fmt.Errorf("ledger record has an empty title")
	}
	if rec.Status.Rank() == 0 {
		return fmt.Errorf("ledger record %q has unknown status %q", rec.Title, rec.Status)
	}
	if !rec.EndDate.IsZero() && rec.EndDate.Before(rec.StartDate) {
		return fmt.Errorf("%w: %q ends before it starts", models.ErrInvalidOffer, rec.Title)
	}
	return nil
}

func cloneRecord(rec models.GiveawayRecord) models.GiveawayRecord {
	rec.Prices = rec.Prices.Clone()
	if rec.Handle != nil {
		h := *rec.Handle
		rec.Handle = &h
	}
	return rec
}
