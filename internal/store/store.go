package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	dbtypes "github.com/nitesh/meal_match/internal/db"
	"github.com/nitesh/meal_match/pkg/models"
)

type PgStore struct {
	db *sqlx.DB
}

func NewPgStore(db *sql.DB) *PgStore {
	return &PgStore{db: sqlx.NewDb(db, "postgres")}
}

// RunMigrations creates every table the service uses. It is safe to run on
// each start.
func RunMigrations(db *sql.DB) error {
	initSQL := `
CREATE TABLE IF NOT EXISTS informers(
  id BIGSERIAL PRIMARY KEY,
  uuid TEXT NOT NULL,
  image_url TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL,
  capture_date DATE NOT NULL,
  capture_time TEXT NOT NULL,
  count INT NOT NULL,
  location TEXT NOT NULL,
  latitude NUMERIC(18,15) NOT NULL,
  longitude NUMERIC(18,15) NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_informers_uuid ON informers(uuid);

CREATE TABLE IF NOT EXISTS donor_meals(
  id BIGSERIAL PRIMARY KEY,
  uuid TEXT NOT NULL,
  image_url TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL,
  donation_date DATE NOT NULL,
  donation_time TEXT NOT NULL,
  quantity INT NOT NULL,
  location TEXT NOT NULL,
  latitude NUMERIC(18,15) NOT NULL,
  longitude NUMERIC(18,15) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_donor_meals_uuid ON donor_meals(uuid, created_at DESC);

CREATE TABLE IF NOT EXISTS closest_informers(
  id BIGSERIAL PRIMARY KEY,
  batch_id TEXT NOT NULL,
  donor_uuid TEXT NOT NULL,
  informer_uuid TEXT NOT NULL,
  distance NUMERIC(10,6) NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  image_url TEXT NOT NULL DEFAULT '',
  capture_date DATE NOT NULL,
  capture_time TEXT NOT NULL DEFAULT '',
  count INT NOT NULL DEFAULT 0,
  location TEXT NOT NULL DEFAULT '',
  latitude NUMERIC(18,15) NOT NULL,
  longitude NUMERIC(18,15) NOT NULL,
  status TEXT NOT NULL DEFAULT 'open',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_closest_informers_donor ON closest_informers(donor_uuid);
CREATE INDEX IF NOT EXISTS idx_closest_informers_batch ON closest_informers(batch_id);
CREATE INDEX IF NOT EXISTS idx_closest_informers_dedup ON closest_informers(donor_uuid, informer_uuid, capture_date, location);
`
	_, err := db.Exec(initSQL)
	return err
}

func (p *PgStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const matchColumns = `id, batch_id, donor_uuid, informer_uuid, distance, description, image_url,
capture_date, capture_time, count, location, latitude, longitude, status, created_at`

// FindMatch returns the stored match for the dedup key, or nil when there is none.
func (p *PgStore) FindMatch(ctx context.Context, donorID, candidateID string, day dbtypes.Date, location string) (*models.Match, error) {
	query := `
SELECT ` + matchColumns + `
FROM closest_informers
WHERE donor_uuid = $1 AND informer_uuid = $2 AND capture_date = $3 AND location = $4
LIMIT 1
`
	var m models.Match
	err := p.db.GetContext(ctx, &m, query, donorID, candidateID, day, location)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (p *PgStore) InsertMatch(ctx context.Context, m *models.Match) error {
	query := `
INSERT INTO closest_informers (batch_id, donor_uuid, informer_uuid, distance, description, image_url,
  capture_date, capture_time, count, location, latitude, longitude, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
RETURNING id, created_at
`
	row := p.db.QueryRowxContext(ctx, query,
		m.BatchID,
		m.DonorID,
		m.CandidateID,
		m.DistanceKm,
		m.Description,
		m.ImageURL,
		m.CaptureDate,
		m.CaptureTime,
		m.Count,
		m.Location,
		m.Latitude,
		m.Longitude,
		m.Status,
	)
	if err := row.Scan(&m.ID, &m.CreatedAt); err != nil {
		return fmt.Errorf("insert match donor=%s informer=%s: %w", m.DonorID, m.CandidateID, err)
	}
	return nil
}

func (p *PgStore) MatchesByDonor(ctx context.Context, donorID string) ([]*models.Match, error) {
	rows := []*models.Match{}
	query := `
SELECT ` + matchColumns + `
FROM closest_informers
WHERE donor_uuid = $1
ORDER BY distance ASC
`
	err := p.db.SelectContext(ctx, &rows, query, donorID)
	return rows, err
}

func (p *PgStore) MatchesByBatch(ctx context.Context, batchID string) ([]*models.Match, error) {
	rows := []*models.Match{}
	query := `
SELECT ` + matchColumns + `
FROM closest_informers
WHERE batch_id = $1
ORDER BY distance ASC
`
	err := p.db.SelectContext(ctx, &rows, query, batchID)
	return rows, err
}

func (p *PgStore) MatchesByDonorAndCandidate(ctx context.Context, donorID, candidateID string) ([]*models.Match, error) {
	rows := []*models.Match{}
	query := `
SELECT ` + matchColumns + `
FROM closest_informers
WHERE donor_uuid = $1 AND informer_uuid = $2
ORDER BY distance ASC
`
	err := p.db.SelectContext(ctx, &rows, query, donorID, candidateID)
	return rows, err
}

// UpdateMatches applies fields to every row of the batch. Column names are
// checked against the snapshot whitelist before they reach SQL.
func (p *PgStore) UpdateMatches(ctx context.Context, batchID string, fields map[string]any) error {
	sets, args, err := buildUpdate(fields)
	if err != nil {
		return err
	}
	args = append(args, batchID)
	query := fmt.Sprintf("UPDATE closest_informers SET %s WHERE batch_id = $%d", sets, len(args))
	_, err = p.db.ExecContext(ctx, query, args...)
	return err
}

func (p *PgStore) DeleteMatchesByBatch(ctx context.Context, batchID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM closest_informers WHERE batch_id = $1", batchID)
	return err
}

func (p *PgStore) DeleteMatchesByDonor(ctx context.Context, donorID string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM closest_informers WHERE donor_uuid = $1", donorID)
	return err
}

func (p *PgStore) DeleteMatch(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM closest_informers WHERE id = $1", id)
	return err
}

// DeleteStaleMatches removes matches captured before today or already
// delivered. With cascadeBatch every batch holding such a row goes entirely.
func (p *PgStore) DeleteStaleMatches(ctx context.Context, today dbtypes.Date, cascadeBatch bool) (int64, error) {
	query := `DELETE FROM closest_informers WHERE capture_date < $1 OR status = $2`
	if cascadeBatch {
		query = `
DELETE FROM closest_informers
WHERE batch_id IN (
  SELECT DISTINCT batch_id FROM closest_informers WHERE capture_date < $1 OR status = $2
)
`
	}
	res, err := p.db.ExecContext(ctx, query, today, models.StatusDelivered)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
