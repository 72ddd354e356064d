package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nitesh/meal_match/internal/apperr"
	"github.com/nitesh/meal_match/internal/logger"
	"github.com/nitesh/meal_match/internal/service"
	"github.com/nitesh/meal_match/pkg/models"
)

type MatchService interface {
	ComputeMatches(ctx context.Context, donorID string) (*service.Run, error)
	MatchesByDonor(ctx context.Context, donorID string) ([]*models.Match, error)
	MatchesByBatch(ctx context.Context, batchID string) ([]*models.Match, error)
	MatchesForCandidate(ctx context.Context, donorID, candidateID string) ([]*models.Match, error)
	UpdateMatch(ctx context.Context, batchID string, fields map[string]any) error
	DeleteBatch(ctx context.Context, batchID string) error
	DeleteDonorMatches(ctx context.Context, donorID string) error
}

type ReportService interface {
	CreateInformer(ctx context.Context, c *models.Candidate, img *service.Image) error
	ListInformers(ctx context.Context) ([]models.Candidate, error)
	UpdateInformerStatus(ctx context.Context, rowID int64, status string) error
	CreateDonorMeal(ctx context.Context, d *models.DonorReport, img *service.Image) error
	DonorMeal(ctx context.Context, donorID string) (*models.DonorReport, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	matches MatchService
	reports ReportService
	db      Pinger
	log     *logger.Logger
}

func NewHandler(matches MatchService, reports ReportService, db Pinger, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{matches: matches, reports: reports, db: db, log: log.With("component", "Handler")}
}

// RegisterRoutes mounts the API on r. Writes go through RequireAuth; reads
// are public. uploadDir, when set, is served under /uploads.
func RegisterRoutes(r *gin.Engine, h *Handler, v Verifier, uploadDir string) {
	r.GET("/healthz", h.Health)
	if uploadDir != "" {
		r.Static("/uploads", uploadDir)
	}

	authed := RequireAuth(v, h.log)
	v1 := r.Group("/v1")
	{
		v1.POST("/donors/:donorId/matches", authed, h.ComputeMatches)
		v1.GET("/donors/:donorId/matches", h.MatchesByDonor)
		v1.DELETE("/donors/:donorId/matches", authed, h.DeleteDonorMatches)
		v1.GET("/donors/:donorId/matches/:candidateId", h.MatchesForCandidate)

		v1.GET("/matches/:batchId", h.MatchesByBatch)
		v1.PATCH("/matches/:batchId", authed, h.UpdateMatch)
		v1.DELETE("/matches/:batchId", authed, h.DeleteBatch)

		v1.POST("/informers", authed, h.CreateInformer)
		v1.GET("/informers", h.ListInformers)
		v1.PATCH("/informers/:id/status", authed, h.UpdateInformerStatus)

		v1.POST("/donor-meals", authed, h.CreateDonorMeal)
		v1.GET("/donor-meals/:donorId", h.DonorMeal)
	}
}

// Health: GET /healthz
func (h *Handler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		h.log.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ComputeMatches: POST /v1/donors/:donorId/matches
func (h *Handler) ComputeMatches(c *gin.Context) {
	run, err := h.matches.ComputeMatches(c.Request.Context(), c.Param("donorId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// MatchesByDonor: GET /v1/donors/:donorId/matches
func (h *Handler) MatchesByDonor(c *gin.Context) {
	res, err := h.matches.MatchesByDonor(c.Request.Context(), c.Param("donorId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondList(c, res, len(res))
}

// MatchesForCandidate: GET /v1/donors/:donorId/matches/:candidateId
func (h *Handler) MatchesForCandidate(c *gin.Context) {
	res, err := h.matches.MatchesForCandidate(c.Request.Context(), c.Param("donorId"), c.Param("candidateId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondList(c, res, len(res))
}

func (h *Handler) DeleteDonorMatches(c *gin.Context) {
	if err := h.matches.DeleteDonorMatches(c.Request.Context(), c.Param("donorId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MatchesByBatch: GET /v1/matches/:batchId
func (h *Handler) MatchesByBatch(c *gin.Context) {
	res, err := h.matches.MatchesByBatch(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondList(c, res, len(res))
}

// UpdateMatch: PATCH /v1/matches/:batchId
// Body: JSON object of column -> value
func (h *Handler) UpdateMatch(c *gin.Context) {
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		respondError(c, fmt.Errorf("%w: invalid json: %v", apperr.ErrInvalidArgument, err))
		return
	}
	batchID := c.Param("batchId")
	if err := h.matches.UpdateMatch(c.Request.Context(), batchID, fields); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch_id": batchID, "updated": len(fields)})
}

func (h *Handler) DeleteBatch(c *gin.Context) {
	if err := h.matches.DeleteBatch(c.Request.Context(), c.Param("batchId")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateInformer: POST /v1/informers (multipart, optional "image" file)
func (h *Handler) CreateInformer(c *gin.Context) {
	cand, err := candidateFromForm(c)
	if err != nil {
		respondError(c, err)
		return
	}
	img, closeImg, err := imageFromForm(c)
	if err != nil {
		respondError(c, err)
		return
	}
	defer closeImg()

	if err := h.reports.CreateInformer(c.Request.Context(), cand, img); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cand)
}

// ListInformers: GET /v1/informers
func (h *Handler) ListInformers(c *gin.Context) {
	res, err := h.reports.ListInformers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondList(c, res, len(res))
}

// UpdateInformerStatus: PATCH /v1/informers/:id/status
// Body: {"status": "claimed"}
func (h *Handler) UpdateInformerStatus(c *gin.Context) {
	rowID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || rowID <= 0 {
		respondError(c, fmt.Errorf("%w: invalid informer id %q", apperr.ErrInvalidArgument, c.Param("id")))
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, fmt.Errorf("%w: invalid json: %v", apperr.ErrInvalidArgument, err))
		return
	}
	if err := h.reports.UpdateInformerStatus(c.Request.Context(), rowID, body.Status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": rowID, "status": body.Status})
}

// CreateDonorMeal: POST /v1/donor-meals (multipart, optional "image" file)
func (h *Handler) CreateDonorMeal(c *gin.Context) {
	meal, err := donorMealFromForm(c)
	if err != nil {
		respondError(c, err)
		return
	}
	img, closeImg, err := imageFromForm(c)
	if err != nil {
		respondError(c, err)
		return
	}
	defer closeImg()

	if err := h.reports.CreateDonorMeal(c.Request.Context(), meal, img); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, meal)
}

// DonorMeal: GET /v1/donor-meals/:donorId
func (h *Handler) DonorMeal(c *gin.Context) {
	res, err := h.reports.DonorMeal(c.Request.Context(), c.Param("donorId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
