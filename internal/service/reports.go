package service

import (
	"context"
	"fmt"
	"io"
	"math"

	"github.com/nitesh/meal_match/internal/apperr"
	"github.com/nitesh/meal_match/internal/logger"
	"github.com/nitesh/meal_match/internal/upload"
	"github.com/nitesh/meal_match/pkg/models"
)

type ReportStore interface {
	CreateInformer(ctx context.Context, c *models.Candidate) error
	ListInformers(ctx context.Context) ([]models.Candidate, error)
	UpdateInformerStatus(ctx context.Context, rowID int64, status string) error
	CreateDonorMeal(ctx context.Context, d *models.DonorReport) error
	LatestDonorMeal(ctx context.Context, donorID string) (*models.DonorReport, error)
}

// Image is an uploaded picture attached to a report.
type Image struct {
	Name        string
	ContentType string
	Body        io.Reader
}

// Reports handles informer and donor meal reports, the inputs of matching.
type Reports struct {
	store ReportStore
	files upload.Storage
	log   *logger.Logger
}

func NewReports(store ReportStore, files upload.Storage, log *logger.Logger) *Reports {
	if log == nil {
		log = logger.Nop()
	}
	return &Reports{store: store, files: files, log: log.With("service", "ReportService")}
}

func validCoordinates(lat, lon float64) error {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return fmt.Errorf("%w: invalid latitude/longitude %v,%v", apperr.ErrInvalidArgument, lat, lon)
	}
	return nil
}

func (r *Reports) saveImage(ctx context.Context, img *Image) (string, error) {
	if img == nil {
		return "", nil
	}
	ref, err := r.files.Save(ctx, img.Name, img.ContentType, img.Body)
	if err != nil {
		r.log.Error("image upload failed", "file", img.Name, "error", err)
		return "", fmt.Errorf("upload image: %w", err)
	}
	return ref, nil
}

func (r *Reports) CreateInformer(ctx context.Context, c *models.Candidate, img *Image) error {
	if err := validCoordinates(c.Latitude, c.Longitude); err != nil {
		return err
	}
	if c.Count < 0 {
		return fmt.Errorf("%w: count must not be negative", apperr.ErrInvalidArgument)
	}
	if c.Status == "" {
		c.Status = models.StatusOpen
	}
	if !models.ValidStatus(c.Status) {
		return fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidArgument, c.Status)
	}
	ref, err := r.saveImage(ctx, img)
	if err != nil {
		return err
	}
	c.ImageURL = ref
	if err := r.store.CreateInformer(ctx, c); err != nil {
		r.log.Error("create informer failed", "uuid", c.ID, "error", err)
		return fmt.Errorf("%w: create informer: %w", apperr.ErrStorage, err)
	}
	return nil
}

func (r *Reports) ListInformers(ctx context.Context) ([]models.Candidate, error) {
	rows, err := r.store.ListInformers(ctx)
	if err != nil {
		r.log.Error("list informers failed", "error", err)
		return nil, fmt.Errorf("%w: list informers: %w", apperr.ErrStorage, err)
	}
	return rows, nil
}

func (r *Reports) UpdateInformerStatus(ctx context.Context, rowID int64, status string) error {
	if !models.ValidStatus(status) {
		return fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidArgument, status)
	}
	err := r.store.UpdateInformerStatus(ctx, rowID, status)
	if err == nil {
		return nil
	}
	if code, _ := apperr.Status(err); code < 500 {
		return err
	}
	r.log.Error("update informer status failed", "id", rowID, "error", err)
	return fmt.Errorf("%w: update informer status: %w", apperr.ErrStorage, err)
}

func (r *Reports) CreateDonorMeal(ctx context.Context, d *models.DonorReport, img *Image) error {
	if err := validCoordinates(d.Latitude, d.Longitude); err != nil {
		return err
	}
	if d.Quantity < 0 {
		return fmt.Errorf("%w: quantity must not be negative", apperr.ErrInvalidArgument)
	}
	ref, err := r.saveImage(ctx, img)
	if err != nil {
		return err
	}
	d.ImageURL = ref
	if err := r.store.CreateDonorMeal(ctx, d); err != nil {
		r.log.Error("create donor meal failed", "uuid", d.ID, "error", err)
		return fmt.Errorf("%w: create donor meal: %w", apperr.ErrStorage, err)
	}
	return nil
}

func (r *Reports) DonorMeal(ctx context.Context, donorID string) (*models.DonorReport, error) {
	d, err := r.store.LatestDonorMeal(ctx, donorID)
	if err != nil {
		r.log.Error("fetch donor meal failed", "uuid", donorID, "error", err)
		return nil, fmt.Errorf("%w: fetch donor meal: %w", apperr.ErrStorage, err)
	}
	if d == nil {
		return nil, fmt.Errorf("%w: donor meal not found for %s", apperr.ErrNotFound, donorID)
	}
	return d, nil
}
