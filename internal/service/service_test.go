package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nitesh/meal_match/internal/apperr"
	dbtypes "github.com/nitesh/meal_match/internal/db"
	"github.com/nitesh/meal_match/internal/lock"
	"github.com/nitesh/meal_match/pkg/models"
)

var (
	today     = dbtypes.DateOf(testNow)
	yesterday = dbtypes.DateOf(testNow.AddDate(0, 0, -1))
)

func TestComputeMatchesRadius(t *testing.T) {
	st := newMemStore()
	st.addDonor("d", 0, 0)
	st.addCandidate(models.Candidate{ID: "near", Latitude: 0, Longitude: 0.01})
	st.addCandidate(models.Candidate{ID: "far", Latitude: 0, Longitude: 0.5})
	svc := newTestService(st, Options{NewBatchID: func() string { return "batch-1" }})

	run, err := svc.ComputeMatches(context.Background(), "d")
	if err != nil {
		t.Fatalf("ComputeMatches: %v", err)
	}
	if run.BatchID != "batch-1" || run.Stored != 1 || run.Skipped != 0 {
		t.Fatalf("run = %+v", run)
	}
	rows, _ := st.MatchesByDonor(context.Background(), "d")
	if len(rows) != 1 || rows[0].CandidateID != "near" {
		t.Fatalf("stored = %+v", rows)
	}
	m := rows[0]
	if m.DistanceKm < 1.1 || m.DistanceKm > 1.12 {
		t.Errorf("distance = %v, want ~1.11", m.DistanceKm)
	}
	if m.CaptureDate != today || m.BatchID != "batch-1" || m.Location != "loc-near" {
		t.Errorf("snapshot = %+v", m)
	}
}

func TestComputeMatchesCapsAtFive(t *testing.T) {
	for _, n := range []int{0, 1, 5, 6, 50} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			st := newMemStore()
			st.addDonor("d", 12.9, 77.6)
			for i := 0; i < n; i++ {
				st.addCandidate(models.Candidate{ID: fmt.Sprintf("c%d", i), Latitude: 12.9, Longitude: 77.6 + float64(i)*0.0005})
			}
			svc := newTestService(st, Options{})
			run, err := svc.ComputeMatches(context.Background(), "d")
			if err != nil {
				t.Fatalf("ComputeMatches: %v", err)
			}
			want := n
			if want > MaxMatches {
				want = MaxMatches
			}
			if run.Stored != want || st.count() != want {
				t.Fatalf("stored = %d (rows %d), want %d", run.Stored, st.count(), want)
			}
		})
	}
}

func TestComputeMatchesSingleBatchID(t *testing.T) {
	st := newMemStore()
	st.addDonor("d", 0, 0)
	for i := 0; i < 3; i++ {
		st.addCandidate(models.Candidate{ID: fmt.Sprintf("c%d", i), Latitude: 0, Longitude: float64(i) * 0.001})
	}
	svc := newTestService(st, Options{})
	run, err := svc.ComputeMatches(context.Background(), "d")
	if err != nil {
		t.Fatalf("ComputeMatches: %v", err)
	}
	rows, _ := st.MatchesByBatch(context.Background(), run.BatchID)
	if len(rows) != 3 {
		t.Fatalf("rows in batch = %d, want 3", len(rows))
	}
}

func TestComputeMatchesExcludesSelf(t *testing.T) {
	st := newMemStore()
	st.addDonor("d", 0, 0)
	st.addCandidate(models.Candidate{ID: "d", Latitude: 0, Longitude: 0})
	st.addCandidate(models.Candidate{ID: "other", Latitude: 0, Longitude: 0.001})
	svc := newTestService(st, Options{})

	if _, err := svc.ComputeMatches(context.Background(), "d"); err != nil {
		t.Fatalf("ComputeMatches: %v", err)
	}
	rows, _ := st.MatchesByDonor(context.Background(), "d")
	for _, r := range rows {
		if r.CandidateID == "d" {
			t.Fatal("donor matched against its own report")
		}
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
}

func TestComputeMatchesIdempotentSameDay(t *testing.T) {
	st := newMemStore()
	st.addDonor("d", 0, 0)
	st.addCandidate(models.Candidate{ID: "a", Latitude: 0, Longitude: 0.001})
	st.addCandidate(models.Candidate{ID: "b", Latitude: 0, Longitude: 0.002})
	svc := newTestService(st, Options{})
	ctx := context.Background()

	first, err := svc.ComputeMatches(ctx, "d")
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.ComputeMatches(ctx, "d")
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Stored != 2 || second.Stored != 0 || second.Skipped != 2 {
		t.Fatalf("first = %+v, second = %+v", first, second)
	}
	if first.BatchID == second.BatchID {
		t.Fatal("each run must get a fresh batch id")
	}
	if st.count() != 2 {
		t.Fatalf("rows = %d, want 2", st.count())
	}
}

func TestComputeMatchesSameReporterTwoLocations(t *testing.T) {
	st := newMemStore()
	st.addDonor("d", 0, 0)
	st.addCandidate(models.Candidate{ID: "r", Location: "bus stand", Latitude: 0, Longitude: 0.001})
	st.addCandidate(models.Candidate{ID: "r", Location: "temple", Latitude: 0, Longitude: 0.002})
	svc := newTestService(st, Options{})

	run, err := svc.ComputeMatches(context.Background(), "d")
	if err != nil {
		t.Fatalf("ComputeMatches: %v", err)
	}
	if run.Stored != 2 {
		t.Fatalf("stored = %d, want 2 (dedup key includes location)", run.Stored)
	}
}

func TestComputeMatchesErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(st *memStore)
		donor string
		want  error
	}{
		{"empty donor id", func(st *memStore) {}, "", apperr.ErrInvalidArgument},
		{"no donor report", func(st *memStore) {}, "ghost", apperr.ErrNotFound},
		{"donor lookup fails", func(st *memStore) { st.fail["donor"] = errBoom }, "d", apperr.ErrStorage},
		{"listing not a list", func(st *memStore) { st.listNil = true }, "d", apperr.ErrUpstreamUnavailable},
		{"listing upstream error", func(st *memStore) {
			st.listErr = fmt.Errorf("%w: status=503", apperr.ErrUpstreamUnavailable)
		}, "d", apperr.ErrUpstreamUnavailable},
		{"listing storage error", func(st *memStore) { st.listErr = errBoom }, "d", apperr.ErrStorage},
		{"dedup lookup fails", func(st *memStore) { st.fail["find"] = errBoom }, "d", apperr.ErrStorage},
		{"insert fails", func(st *memStore) { st.fail["insert"] = errBoom }, "d", apperr.ErrStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			st.addDonor("d", 0, 0)
			st.addCandidate(models.Candidate{ID: "a", Latitude: 0, Longitude: 0.001})
			tt.setup(st)
			svc := newTestService(st, Options{})
			run, err := svc.ComputeMatches(context.Background(), tt.donor)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if run != nil {
				t.Fatalf("run = %+v on error", run)
			}
		})
	}
}

func TestComputeMatchesStorageErrorKeepsCause(t *testing.T) {
	st := newMemStore()
	st.addDonor("d", 0, 0)
	st.addCandidate(models.Candidate{ID: "a", Latitude: 0, Longitude: 0.001})
	st.fail["insert"] = errBoom
	svc := newTestService(st, Options{})
	_, err := svc.ComputeMatches(context.Background(), "d")
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v does not wrap cause", err)
	}
}

func TestComputeMatchesLocking(t *testing.T) {
	st := newMemStore()
	st.addDonor("d", 0, 0)
	st.addCandidate(models.Candidate{ID: "a", Latitude: 0, Longitude: 0.001})

	held := &stubLocker{err: lock.ErrHeld}
	svc := newTestService(st, Options{Locker: held})
	if _, err := svc.ComputeMatches(context.Background(), "d"); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if st.count() != 0 {
		t.Fatal("rows written while lock was held elsewhere")
	}

	down := &stubLocker{err: errBoom}
	svc = newTestService(st, Options{Locker: down})
	run, err := svc.ComputeMatches(context.Background(), "d")
	if err != nil {
		t.Fatalf("ComputeMatches with lock backend down: %v", err)
	}
	if run.Stored != 1 || down.released != 1 {
		t.Fatalf("run = %+v released = %d", run, down.released)
	}
}

func TestMatchesByDonorDropsYesterday(t *testing.T) {
	st := newMemStore()
	st.seed("old", "d", "a", 0.5, yesterday, models.StatusOpen)
	st.seed("new", "d", "b", 0.7, today, models.StatusOpen)
	svc := newTestService(st, Options{})

	got, err := svc.MatchesByDonor(context.Background(), "d")
	if err != nil {
		t.Fatalf("MatchesByDonor: %v", err)
	}
	if len(got) != 1 || got[0].CandidateID != "b" {
		t.Fatalf("got %+v, want only b", got)
	}
	if rows, _ := st.MatchesByBatch(context.Background(), "old"); len(rows) != 0 {
		t.Fatal("yesterday's match still stored after read")
	}
}

func TestMatchesByDonorDropsDelivered(t *testing.T) {
	st := newMemStore()
	st.seed("b1", "d", "a", 0.5, today, models.StatusDelivered)
	st.seed("b2", "d", "b", 0.7, today, models.StatusClaimed)
	svc := newTestService(st, Options{})

	got, err := svc.MatchesByDonor(context.Background(), "d")
	if err != nil {
		t.Fatalf("MatchesByDonor: %v", err)
	}
	if len(got) != 1 || got[0].CandidateID != "b" {
		t.Fatalf("got %+v, want only b", got)
	}
}

func TestMatchesNotFoundMessages(t *testing.T) {
	st := newMemStore()
	svc := newTestService(st, Options{})
	_, err := svc.MatchesByDonor(context.Background(), "d")
	if !errors.Is(err, apperr.ErrNotFound) || !strings.Contains(err.Error(), "no matches found") {
		t.Fatalf("empty: err = %v", err)
	}

	st.seed("b", "d", "a", 0.5, yesterday, models.StatusOpen)
	_, err = svc.MatchesByDonor(context.Background(), "d")
	if !errors.Is(err, apperr.ErrNotFound) || !strings.Contains(err.Error(), "were stale") {
		t.Fatalf("stale: err = %v", err)
	}
}

func TestSweepCascadesWholeBatch(t *testing.T) {
	st := newMemStore()
	st.seed("b", "d", "fresh", 0.2, today, models.StatusOpen)
	st.seed("b", "d", "old", 0.4, yesterday, models.StatusOpen)
	svc := newTestService(st, Options{})

	got, err := svc.MatchesByBatch(context.Background(), "b")
	if err != nil {
		t.Fatalf("MatchesByBatch: %v", err)
	}
	if len(got) != 1 || got[0].CandidateID != "fresh" {
		t.Fatalf("got %+v", got)
	}
	if st.count() != 0 {
		t.Fatalf("batch mode left %d rows", st.count())
	}
}

func TestSweepPerRow(t *testing.T) {
	st := newMemStore()
	st.seed("b", "d", "fresh", 0.2, today, models.StatusOpen)
	st.seed("b", "d", "old", 0.4, yesterday, models.StatusOpen)
	svc := newTestService(st, Options{PerRowSweep: true})

	got, err := svc.MatchesByBatch(context.Background(), "b")
	if err != nil {
		t.Fatalf("MatchesByBatch: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d rows", len(got))
	}
	rows, _ := st.MatchesByBatch(context.Background(), "b")
	if len(rows) != 1 || rows[0].CandidateID != "fresh" {
		t.Fatalf("stored = %+v, want only fresh", rows)
	}
}

func TestSweepDeleteFailureStillExcludes(t *testing.T) {
	st := newMemStore()
	st.seed("b", "d", "old", 0.4, yesterday, models.StatusOpen)
	st.seed("c", "d", "ok", 0.6, today, models.StatusOpen)
	st.fail["delete"] = errBoom
	svc := newTestService(st, Options{})

	got, err := svc.MatchesByDonor(context.Background(), "d")
	if err != nil {
		t.Fatalf("MatchesByDonor: %v", err)
	}
	if len(got) != 1 || got[0].CandidateID != "ok" {
		t.Fatalf("got %+v", got)
	}
	if st.count() != 2 {
		t.Fatalf("rows = %d, delete should have failed", st.count())
	}
}

func TestMatchesReadStorageFailure(t *testing.T) {
	st := newMemStore()
	st.fail["by_donor"] = errBoom
	svc := newTestService(st, Options{})
	if _, err := svc.MatchesByDonor(context.Background(), "d"); !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
}

func TestMatchesForCandidate(t *testing.T) {
	st := newMemStore()
	st.seed("b", "d", "a", 0.4, today, models.StatusOpen)
	st.seed("b", "d", "x", 0.6, today, models.StatusOpen)
	svc := newTestService(st, Options{})

	got, err := svc.MatchesForCandidate(context.Background(), "d", "a")
	if err != nil {
		t.Fatalf("MatchesForCandidate: %v", err)
	}
	if len(got) != 1 || got[0].CandidateID != "a" {
		t.Fatalf("got %+v", got)
	}
	if _, err := svc.MatchesForCandidate(context.Background(), "d", "zzz"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMatch(t *testing.T) {
	st := newMemStore()
	st.seed("b", "d", "a", 0.4, today, models.StatusOpen)
	svc := newTestService(st, Options{})
	ctx := context.Background()

	before := st.writes
	if err := svc.UpdateMatch(ctx, "b", map[string]any{}); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if err := svc.UpdateMatch(ctx, "b", nil); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Fatalf("nil fields: err = %v", err)
	}
	if st.writes != before {
		t.Fatal("empty update reached the store")
	}

	if err := svc.UpdateMatch(ctx, "b", map[string]any{"status": models.StatusClaimed}); err != nil {
		t.Fatalf("UpdateMatch: %v", err)
	}
	rows, _ := st.MatchesByBatch(ctx, "b")
	if rows[0].Status != models.StatusClaimed {
		t.Fatalf("status = %q", rows[0].Status)
	}
}

func TestDeletes(t *testing.T) {
	st := newMemStore()
	st.seed("b1", "d", "a", 0.4, today, models.StatusOpen)
	st.seed("b2", "d", "b", 0.5, today, models.StatusOpen)
	st.seed("b3", "e", "c", 0.5, today, models.StatusOpen)
	svc := newTestService(st, Options{})
	ctx := context.Background()

	if err := svc.DeleteBatch(ctx, "b1"); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if st.count() != 2 {
		t.Fatalf("rows = %d after batch delete", st.count())
	}
	if err := svc.DeleteDonorMatches(ctx, "d"); err != nil {
		t.Fatalf("DeleteDonorMatches: %v", err)
	}
	if st.count() != 1 {
		t.Fatalf("rows = %d after donor delete", st.count())
	}
}

// D at (12.90,77.60); A open ~0.16 km, B open ~70 km, C delivered ~0.3 km.
func TestEndToEndDeliveredFilteredOnRead(t *testing.T) {
	for _, perRow := range []bool{false, true} {
		t.Run(fmt.Sprintf("per_row=%v", perRow), func(t *testing.T) {
			st := newMemStore()
			st.addDonor("D", 12.90, 77.60)
			st.addCandidate(models.Candidate{ID: "A", Latitude: 12.901, Longitude: 77.601, Status: models.StatusOpen})
			st.addCandidate(models.Candidate{ID: "B", Latitude: 13.50, Longitude: 78.00, Status: models.StatusOpen})
			st.addCandidate(models.Candidate{ID: "C", Latitude: 12.902, Longitude: 77.602, Status: models.StatusDelivered})
			svc := newTestService(st, Options{PerRowSweep: perRow})
			ctx := context.Background()

			run, err := svc.ComputeMatches(ctx, "D")
			if err != nil {
				t.Fatalf("ComputeMatches: %v", err)
			}
			stored, _ := st.MatchesByBatch(ctx, run.BatchID)
			if len(stored) != 2 || stored[0].CandidateID != "A" || stored[1].CandidateID != "C" {
				t.Fatalf("stored = %+v, want A then C", stored)
			}

			got, err := svc.MatchesByDonor(ctx, "D")
			if err != nil {
				t.Fatalf("MatchesByDonor: %v", err)
			}
			if len(got) != 1 || got[0].CandidateID != "A" {
				t.Fatalf("got %+v, want only A", got)
			}

			left, _ := st.MatchesByDonor(ctx, "D")
			wantLeft := 0
			if perRow {
				wantLeft = 1
			}
			if len(left) != wantLeft {
				t.Fatalf("rows left = %d, want %d", len(left), wantLeft)
			}
		})
	}
}

func TestSweepStale(t *testing.T) {
	for _, perRow := range []bool{false, true} {
		st := newMemStore()
		st.seed("b", "d", "fresh", 0.2, today, models.StatusOpen)
		st.seed("b", "d", "old", 0.4, yesterday, models.StatusOpen)
		svc := newTestService(st, Options{PerRowSweep: perRow})

		n, err := svc.SweepStale(context.Background())
		if err != nil {
			t.Fatalf("SweepStale: %v", err)
		}
		if st.staleToday != today || st.staleCascade == perRow {
			t.Fatalf("sweep called with today=%v cascade=%v", st.staleToday, st.staleCascade)
		}
		want := int64(2)
		if perRow {
			want = 1
		}
		if n != want {
			t.Fatalf("per_row=%v removed %d, want %d", perRow, n, want)
		}
	}

	st := newMemStore()
	st.fail["sweep"] = errBoom
	if _, err := newTestService(st, Options{}).SweepStale(context.Background()); !errors.Is(err, apperr.ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
}
