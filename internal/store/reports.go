package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nitesh/meal_match/internal/apperr"
	"github.com/nitesh/meal_match/pkg/models"
)

func (p *PgStore) CreateInformer(ctx context.Context, c *models.Candidate) error {
	if c.Status == "" {
		c.Status = models.StatusOpen
	}
	query := `
INSERT INTO informers (uuid, image_url, description, capture_date, capture_time, count, location, latitude, longitude, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id, created_at
`
	row := p.db.QueryRowxContext(ctx, query,
		c.ID, c.ImageURL, c.Description, c.CaptureDate, c.CaptureTime,
		c.Count, c.Location, c.Latitude, c.Longitude, c.Status,
	)
	if err := row.Scan(&c.RowID, &c.CreatedAt); err != nil {
		return fmt.Errorf("insert informer uuid=%s: %w", c.ID, err)
	}
	return nil
}

// ListInformers returns every informer report, whatever its status.
func (p *PgStore) ListInformers(ctx context.Context) ([]models.Candidate, error) {
	rows := []models.Candidate{}
	query := `
SELECT id AS row_id, uuid, image_url, description, capture_date, capture_time, count, location, latitude, longitude, status, created_at
FROM informers
ORDER BY id ASC
`
	err := p.db.SelectContext(ctx, &rows, query)
	return rows, err
}

func (p *PgStore) UpdateInformerStatus(ctx context.Context, rowID int64, status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidArgument, status)
	}
	res, err := p.db.ExecContext(ctx, "UPDATE informers SET status = $1 WHERE id = $2", status, rowID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: informer %d", apperr.ErrNotFound, rowID)
	}
	return nil
}

func (p *PgStore) CreateDonorMeal(ctx context.Context, d *models.DonorReport) error {
	query := `
INSERT INTO donor_meals (uuid, image_url, description, donation_date, donation_time, quantity, location, latitude, longitude)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id, created_at
`
	row := p.db.QueryRowxContext(ctx, query,
		d.ID, d.ImageURL, d.Description, d.DonationDate, d.DonationTime,
		d.Quantity, d.Location, d.Latitude, d.Longitude,
	)
	if err := row.Scan(&d.RowID, &d.CreatedAt); err != nil {
		return fmt.Errorf("insert donor meal uuid=%s: %w", d.ID, err)
	}
	return nil
}

// LatestDonorMeal returns the donor's most recent report, or nil when the
// donor has none.
func (p *PgStore) LatestDonorMeal(ctx context.Context, donorID string) (*models.DonorReport, error) {
	query := `
SELECT id AS row_id, uuid, image_url, description, donation_date, donation_time, quantity, location, latitude, longitude, created_at
FROM donor_meals
WHERE uuid = $1
ORDER BY created_at DESC, id DESC
LIMIT 1
`
	var d models.DonorReport
	err := p.db.GetContext(ctx, &d, query, donorID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
