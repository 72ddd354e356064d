package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	dbtypes "github.com/nitesh/meal_match/internal/db"
	"github.com/nitesh/meal_match/internal/lock"
	"github.com/nitesh/meal_match/pkg/models"
)

var errBoom = errors.New("boom")

var testNow = time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)

// memStore is an in-memory stand-in for the Postgres store.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	rows       []models.Match
	donors     map[string]*models.DonorReport
	candidates []models.Candidate
	listNil    bool
	listErr    error
	fail       map[string]error

	writes       int
	staleToday   dbtypes.Date
	staleCascade bool
	staleSweeps  int
}

func newMemStore() *memStore {
	return &memStore{donors: map[string]*models.DonorReport{}, fail: map[string]error{}}
}

func (m *memStore) addDonor(id string, lat, lon float64) {
	m.donors[id] = &models.DonorReport{ID: id, Latitude: lat, Longitude: lon}
}

func (m *memStore) addCandidate(c models.Candidate) {
	if c.Status == "" {
		c.Status = models.StatusOpen
	}
	if c.Location == "" {
		c.Location = "loc-" + c.ID
	}
	m.candidates = append(m.candidates, c)
}

func (m *memStore) seed(batchID, donorID, candidateID string, dist float64, day dbtypes.Date, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.rows = append(m.rows, models.Match{
		ID: m.nextID, BatchID: batchID, DonorID: donorID, CandidateID: candidateID, DistanceKm: dist,
		Snapshot: models.Snapshot{CaptureDate: day, Location: "loc-" + candidateID, Status: status},
	})
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memStore) pick(keep func(models.Match) bool) []*models.Match {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.Match{}
	for _, r := range m.rows {
		if keep(r) {
			r := r
			out = append(out, &r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out
}

func (m *memStore) remove(drop func(models.Match) bool) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.rows[:0]
	var n int64
	for _, r := range m.rows {
		if drop(r) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.rows = kept
	m.writes++
	return n
}

func (m *memStore) FindMatch(_ context.Context, donorID, candidateID string, day dbtypes.Date, location string) (*models.Match, error) {
	if err := m.fail["find"]; err != nil {
		return nil, err
	}
	rows := m.pick(func(r models.Match) bool {
		return r.DonorID == donorID && r.CandidateID == candidateID && r.CaptureDate == day && r.Location == location
	})
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (m *memStore) InsertMatch(_ context.Context, match *models.Match) error {
	if err := m.fail["insert"]; err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	match.ID = m.nextID
	match.CreatedAt = testNow
	m.rows = append(m.rows, *match)
	m.writes++
	return nil
}

func (m *memStore) MatchesByDonor(_ context.Context, donorID string) ([]*models.Match, error) {
	if err := m.fail["by_donor"]; err != nil {
		return nil, err
	}
	return m.pick(func(r models.Match) bool { return r.DonorID == donorID }), nil
}

func (m *memStore) MatchesByBatch(_ context.Context, batchID string) ([]*models.Match, error) {
	return m.pick(func(r models.Match) bool { return r.BatchID == batchID }), nil
}

func (m *memStore) MatchesByDonorAndCandidate(_ context.Context, donorID, candidateID string) ([]*models.Match, error) {
	return m.pick(func(r models.Match) bool { return r.DonorID == donorID && r.CandidateID == candidateID }), nil
}

func (m *memStore) UpdateMatches(_ context.Context, batchID string, fields map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	for i := range m.rows {
		if m.rows[i].BatchID != batchID {
			continue
		}
		if s, ok := fields["status"].(string); ok {
			m.rows[i].Status = s
		}
	}
	return nil
}

func (m *memStore) DeleteMatchesByBatch(_ context.Context, batchID string) error {
	if err := m.fail["delete"]; err != nil {
		return err
	}
	m.remove(func(r models.Match) bool { return r.BatchID == batchID })
	return nil
}

func (m *memStore) DeleteMatchesByDonor(_ context.Context, donorID string) error {
	m.remove(func(r models.Match) bool { return r.DonorID == donorID })
	return nil
}

func (m *memStore) DeleteMatch(_ context.Context, id int64) error {
	if err := m.fail["delete"]; err != nil {
		return err
	}
	m.remove(func(r models.Match) bool { return r.ID == id })
	return nil
}

func (m *memStore) DeleteStaleMatches(_ context.Context, today dbtypes.Date, cascadeBatch bool) (int64, error) {
	if err := m.fail["sweep"]; err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.staleToday, m.staleCascade = today, cascadeBatch
	m.staleSweeps++
	stale := map[string]bool{}
	for _, r := range m.rows {
		if r.Stale(today) {
			stale[r.BatchID] = true
		}
	}
	m.mu.Unlock()
	return m.remove(func(r models.Match) bool {
		if cascadeBatch {
			return stale[r.BatchID]
		}
		return r.Stale(today)
	}), nil
}

func (m *memStore) LatestDonorMeal(_ context.Context, donorID string) (*models.DonorReport, error) {
	if err := m.fail["donor"]; err != nil {
		return nil, err
	}
	return m.donors[donorID], nil
}

func (m *memStore) ListInformers(_ context.Context) ([]models.Candidate, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	if m.listNil {
		return nil, nil
	}
	out := make([]models.Candidate, len(m.candidates))
	copy(out, m.candidates)
	return out, nil
}

type stubLocker struct {
	err      error
	released int
}

func (l *stubLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() { l.released++ }, l.err
}

var _ lock.Locker = (*stubLocker)(nil)

func newTestService(st *memStore, opts Options) *Service {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewFakeClockAt(testNow)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return NewService(st, st, st, opts)
}
