package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/nitesh/meal_match/internal/apperr"
	dbtypes "github.com/nitesh/meal_match/internal/db"
	"github.com/nitesh/meal_match/internal/lock"
	"github.com/nitesh/meal_match/internal/logger"
	"github.com/nitesh/meal_match/pkg/models"
)

// runLockTTL bounds how long one donor's matching run may hold the lock.
const runLockTTL = 30 * time.Second

type MatchStore interface {
	FindMatch(ctx context.Context, donorID, candidateID string, day dbtypes.Date, location string) (*models.Match, error)
	InsertMatch(ctx context.Context, m *models.Match) error
	MatchesByDonor(ctx context.Context, donorID string) ([]*models.Match, error)
	MatchesByBatch(ctx context.Context, batchID string) ([]*models.Match, error)
	MatchesByDonorAndCandidate(ctx context.Context, donorID, candidateID string) ([]*models.Match, error)
	UpdateMatches(ctx context.Context, batchID string, fields map[string]any) error
	DeleteMatchesByBatch(ctx context.Context, batchID string) error
	DeleteMatchesByDonor(ctx context.Context, donorID string) error
	DeleteMatch(ctx context.Context, id int64) error
	DeleteStaleMatches(ctx context.Context, today dbtypes.Date, cascadeBatch bool) (int64, error)
}

// DonorSource resolves a donor's current report. A nil report with a nil
// error means the donor has none.
type DonorSource interface {
	LatestDonorMeal(ctx context.Context, donorID string) (*models.DonorReport, error)
}

// CandidateSource lists every informer report. A nil slice means the
// source did not produce a list.
type CandidateSource interface {
	ListInformers(ctx context.Context) ([]models.Candidate, error)
}

type Options struct {
	Clock    clockwork.Clock
	Location *time.Location
	// PerRowSweep deletes only the stale row instead of its whole batch.
	PerRowSweep bool
	Locker      lock.Locker
	NewBatchID  func() string
	Log         *logger.Logger
}

type Service struct {
	matches     MatchStore
	donors      DonorSource
	candidates  CandidateSource
	clock       clockwork.Clock
	loc         *time.Location
	perRowSweep bool
	locker      lock.Locker
	newBatchID  func() string
	log         *logger.Logger
}

func NewService(matches MatchStore, donors DonorSource, candidates CandidateSource, opts Options) *Service {
	s := &Service{
		matches:     matches,
		donors:      donors,
		candidates:  candidates,
		clock:       opts.Clock,
		loc:         opts.Location,
		perRowSweep: opts.PerRowSweep,
		locker:      opts.Locker,
		newBatchID:  opts.NewBatchID,
		log:         opts.Log,
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.loc == nil {
		s.loc = time.Local
	}
	if s.locker == nil {
		s.locker = lock.Nop{}
	}
	if s.newBatchID == nil {
		s.newBatchID = uuid.NewString
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.With("service", "MatchService")
	return s
}

// Run summarises one ComputeMatches call.
type Run struct {
	BatchID string `json:"batch_id"`
	Stored  int    `json:"stored"`
	Skipped int    `json:"skipped"`
}

// today is the service's current calendar day in its configured zone.
func (s *Service) today() dbtypes.Date {
	return dbtypes.DateOf(s.clock.Now().In(s.loc))
}

// ComputeMatches finds the informers nearest to the donor's report and
// stores them under one new batch id. Informers already matched to this
// donor today at the same location are skipped.
func (s *Service) ComputeMatches(ctx context.Context, donorID string) (*Run, error) {
	if donorID == "" {
		return nil, fmt.Errorf("%w: donor id is required", apperr.ErrInvalidArgument)
	}

	release, err := s.locker.Acquire(ctx, "donor:"+donorID, runLockTTL)
	switch {
	case errors.Is(err, lock.ErrHeld):
		return nil, fmt.Errorf("%w: matching already running for donor %s", apperr.ErrConflict, donorID)
	case err != nil:
		s.log.Warn("run lock unavailable, continuing without it", "donor_uuid", donorID, "error", err)
	}
	defer release()

	donor, err := s.donors.LatestDonorMeal(ctx, donorID)
	if err != nil {
		return nil, s.storageErr("fetch donor meal", err)
	}
	if donor == nil {
		return nil, fmt.Errorf("%w: donor meal not found for %s", apperr.ErrNotFound, donorID)
	}

	candidates, err := s.candidates.ListInformers(ctx)
	if err != nil {
		if errors.Is(err, apperr.ErrUpstreamUnavailable) {
			s.log.Error("informer listing unavailable", "error", err)
			return nil, err
		}
		return nil, s.storageErr("list informers", err)
	}
	if candidates == nil {
		s.log.Error("informer listing returned no list", "donor_uuid", donorID)
		return nil, fmt.Errorf("%w: informer listing is not a list", apperr.ErrUpstreamUnavailable)
	}

	picked := nearest(donorID, donor.Latitude, donor.Longitude, candidates)
	run := &Run{BatchID: s.newBatchID()}
	day := s.today()

	for _, p := range picked {
		c := p.candidate
		existing, err := s.matches.FindMatch(ctx, donorID, c.ID, day, c.Location)
		if err != nil {
			return nil, s.storageErr("find match", err)
		}
		if existing != nil {
			run.Skipped++
			continue
		}
		m := &models.Match{
			BatchID:     run.BatchID,
			DonorID:     donorID,
			CandidateID: c.ID,
			DistanceKm:  p.distanceKm,
			Snapshot: models.Snapshot{
				Description: c.Description,
				ImageURL:    c.ImageURL,
				CaptureDate: day,
				CaptureTime: c.CaptureTime,
				Count:       c.Count,
				Location:    c.Location,
				Latitude:    c.Latitude,
				Longitude:   c.Longitude,
				Status:      c.Status,
			},
		}
		if err := s.matches.InsertMatch(ctx, m); err != nil {
			return nil, s.storageErr("insert match", err)
		}
		run.Stored++
	}

	s.log.Info("matches computed",
		"donor_uuid", donorID,
		"batch_id", run.BatchID,
		"candidates", len(candidates),
		"in_radius", len(picked),
		"stored", run.Stored,
		"skipped", run.Skipped,
	)
	return run, nil
}

// MatchesByDonor returns the donor's fresh matches, closest first.
func (s *Service) MatchesByDonor(ctx context.Context, donorID string) ([]*models.Match, error) {
	rows, err := s.matches.MatchesByDonor(ctx, donorID)
	if err != nil {
		return nil, s.storageErr("matches by donor", err)
	}
	return s.freshOrNotFound(ctx, rows, "donor "+donorID)
}

// MatchesByBatch returns the fresh matches of one run, closest first.
func (s *Service) MatchesByBatch(ctx context.Context, batchID string) ([]*models.Match, error) {
	rows, err := s.matches.MatchesByBatch(ctx, batchID)
	if err != nil {
		return nil, s.storageErr("matches by batch", err)
	}
	return s.freshOrNotFound(ctx, rows, "batch "+batchID)
}

// MatchesForCandidate returns the donor's fresh matches against one informer.
func (s *Service) MatchesForCandidate(ctx context.Context, donorID, candidateID string) ([]*models.Match, error) {
	rows, err := s.matches.MatchesByDonorAndCandidate(ctx, donorID, candidateID)
	if err != nil {
		return nil, s.storageErr("matches by donor and informer", err)
	}
	return s.freshOrNotFound(ctx, rows, "donor "+donorID+" and informer "+candidateID)
}

func (s *Service) freshOrNotFound(ctx context.Context, rows []*models.Match, subject string) ([]*models.Match, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no matches found for %s", apperr.ErrNotFound, subject)
	}
	fresh := s.sweep(ctx, rows)
	if len(fresh) == 0 {
		return nil, fmt.Errorf("%w: all matches for %s were stale", apperr.ErrNotFound, subject)
	}
	return fresh, nil
}

// UpdateMatch sets fields on every row of the batch.
func (s *Service) UpdateMatch(ctx context.Context, batchID string, fields map[string]any) error {
	if len(fields) == 0 {
		return fmt.Errorf("%w: no fields to update", apperr.ErrInvalidArgument)
	}
	if err := s.matches.UpdateMatches(ctx, batchID, fields); err != nil {
		return s.storageErr("update matches", err)
	}
	return nil
}

func (s *Service) DeleteBatch(ctx context.Context, batchID string) error {
	if err := s.matches.DeleteMatchesByBatch(ctx, batchID); err != nil {
		return s.storageErr("delete batch", err)
	}
	return nil
}

func (s *Service) DeleteDonorMatches(ctx context.Context, donorID string) error {
	if err := s.matches.DeleteMatchesByDonor(ctx, donorID); err != nil {
		return s.storageErr("delete donor matches", err)
	}
	return nil
}

// storageErr classifies a store error. Input and lookup errors raised by
// the store keep their kind; everything else is a storage failure.
func (s *Service) storageErr(op string, err error) error {
	if errors.Is(err, apperr.ErrInvalidArgument) || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	s.log.Error("storage failure", "op", op, "error", err)
	return fmt.Errorf("%w: %s: %w", apperr.ErrStorage, op, err)
}
