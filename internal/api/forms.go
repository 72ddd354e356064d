package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/meal_match/internal/apperr"
	dbtypes "github.com/nitesh/meal_match/internal/db"
	"github.com/nitesh/meal_match/internal/service"
	"github.com/nitesh/meal_match/pkg/models"
)

type formField struct {
	key  string
	name string
}

var informerFields = []formField{
	{"uuid", "UUID"},
	{"description", "Description"},
	{"capture_date", "Capture Date"},
	{"capture_time", "Capture Time"},
	{"location", "Location"},
	{"latitude", "Latitude"},
	{"longitude", "Longitude"},
	{"count", "Count"},
}

var donorMealFields = []formField{
	{"uuid", "UUID"},
	{"description", "Description"},
	{"donation_date", "Donation Date"},
	{"donation_time", "Donation Time"},
	{"location", "Location"},
	{"latitude", "Latitude"},
	{"longitude", "Longitude"},
	{"quantity", "Quantity"},
}

// form collects values from a multipart request and remembers the first
// parse error.
type form struct {
	c   *gin.Context
	err error
}

func (f *form) requireAll(fields []formField) error {
	var missing []string
	for _, fld := range fields {
		if strings.TrimSpace(f.c.PostForm(fld.key)) == "" {
			missing = append(missing, fld.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: please provide the following required fields: %s", apperr.ErrInvalidArgument, strings.Join(missing, ", "))
	}
	return nil
}

func (f *form) str(key string) string {
	return strings.TrimSpace(f.c.PostForm(key))
}

func (f *form) number(key string) float64 {
	v, err := strconv.ParseFloat(f.str(key), 64)
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("%w: %s must be a number", apperr.ErrInvalidArgument, key)
	}
	return v
}

func (f *form) integer(key string) int {
	v, err := strconv.Atoi(f.str(key))
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("%w: %s must be an integer", apperr.ErrInvalidArgument, key)
	}
	return v
}

func (f *form) date(key string) dbtypes.Date {
	v, err := dbtypes.ParseDate(f.str(key))
	if err != nil && f.err == nil {
		f.err = fmt.Errorf("%w: %s must be YYYY-MM-DD", apperr.ErrInvalidArgument, key)
	}
	return v
}

func candidateFromForm(c *gin.Context) (*models.Candidate, error) {
	f := &form{c: c}
	if err := f.requireAll(informerFields); err != nil {
		return nil, err
	}
	cand := &models.Candidate{
		ID:          f.str("uuid"),
		Description: f.str("description"),
		CaptureDate: f.date("capture_date"),
		CaptureTime: f.str("capture_time"),
		Count:       f.integer("count"),
		Location:    f.str("location"),
		Latitude:    f.number("latitude"),
		Longitude:   f.number("longitude"),
		Status:      f.str("status"),
	}
	if f.err != nil {
		return nil, f.err
	}
	return cand, nil
}

func donorMealFromForm(c *gin.Context) (*models.DonorReport, error) {
	f := &form{c: c}
	if err := f.requireAll(donorMealFields); err != nil {
		return nil, err
	}
	meal := &models.DonorReport{
		ID:           f.str("uuid"),
		Description:  f.str("description"),
		DonationDate: f.date("donation_date"),
		DonationTime: f.str("donation_time"),
		Quantity:     f.integer("quantity"),
		Location:     f.str("location"),
		Latitude:     f.number("latitude"),
		Longitude:    f.number("longitude"),
	}
	if f.err != nil {
		return nil, f.err
	}
	return meal, nil
}

// imageFromForm opens the optional "image" file. The returned func closes
// it and is safe to call when there is no image.
func imageFromForm(c *gin.Context) (*service.Image, func(), error) {
	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: read image: %v", apperr.ErrInvalidArgument, err)
	}
	if fh.Size == 0 {
		return nil, func() {}, nil
	}
	file, err := fh.Open()
	if err != nil {
		return nil, func() {}, fmt.Errorf("%w: open image: %v", apperr.ErrInvalidArgument, err)
	}
	img := &service.Image{
		Name:        fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        file,
	}
	return img, func() { _ = file.Close() }, nil
}
