package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"classifieds/internal/infrastructure/metrics"
	"classifieds/internal/service"
	"classifieds/pkg/logger"
	"classifieds/pkg/utils"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type AdHandler struct {
	service        service.AdService
	logger         *logger.Loggers
	metrics        *metrics.HandlerMetrics
	tracer         trace.Tracer
	maxUploadBytes int64
}

type MutationResponse struct {
	Message  string  `json:"message"`
	ID       int64   `json:"id"`
	ImageKey *string `json:"image_key"`
}

type DeleteResponse struct {
	Message     string `json:"message"`
	ID          int64  `json:"id"`
	DeletedRows int64  `json:"deleted_rows"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

func NewAdHandler(service service.AdService, logger *logger.Loggers, metrics *metrics.HandlerMetrics, maxUploadBytes int64) *AdHandler {
	tracer := otel.Tracer("classifieds/handler")
	return &AdHandler{
		service:        service,
		logger:         logger,
		metrics:        metrics,
		tracer:         tracer,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *AdHandler) observe(method, endpoint string, startTime time.Time, status *string) {
	duration := time.Since(startTime).Seconds()
	h.metrics.RequestCount.WithLabelValues(method, endpoint, *status).Inc()
	h.metrics.RequestDuration.WithLabelValues(method, endpoint, *status).Observe(duration)
}

func parseID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// respondServiceError maps a service error to its client response and
// returns the metrics status label.
func (h *AdHandler) respondServiceError(w http.ResponseWriter, r *http.Request, span trace.Span, err error, action string) string {
	switch {
	case errors.Is(err, service.ErrInvalidID):
		utils.RespondWithErrorJSON(w, r, http.StatusBadRequest, "invalid id parameter")
		return "error"
	case errors.Is(err, service.ErrValidation):
		utils.RespondWithErrorJSON(w, r, http.StatusBadRequest, "seller_name and ad_title are required")
		return "invalid"
	case errors.Is(err, service.ErrAdNotFound):
		utils.RespondWithErrorJSON(w, r, http.StatusNotFound, "ad not found")
		return "not_found"
	case errors.Is(err, service.ErrStorageWrite):
		h.logger.ErrorLogger.Error("failed to "+action, utils.Err(err))
		span.RecordError(err)
		utils.RespondWithErrorJSON(w, r, http.StatusInternalServerError, "could not store image")
		return "error"
	default:
		h.logger.ErrorLogger.Error("failed to "+action, utils.Err(err))
		span.RecordError(err)
		utils.RespondWithErrorJSON(w, r, http.StatusInternalServerError, "internal server error")
		return "error"
	}
}

func (h *AdHandler) respondUploadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrFileTooLarge):
		utils.RespondWithErrorJSON(w, r, http.StatusBadRequest,
			"image exceeds the "+humanize.Bytes(uint64(h.maxUploadBytes))+" limit")
	case errors.Is(err, ErrUnsupportedMedia):
		utils.RespondWithErrorJSON(w, r, http.StatusBadRequest, "only image files are allowed")
	default:
		utils.RespondWithErrorJSON(w, r, http.StatusBadRequest, "invalid request payload")
	}
}

func (h *AdHandler) Health(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithJSON(w, r, http.StatusOK, HealthResponse{
		Status:    "OK",
		Message:   "API is running",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *AdHandler) GetAdByID(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetAdByID")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer h.observe("GET", "/ads/{id}", startTime, &status)

	id, ok := parseID(r)
	if !ok {
		status = "error"
		utils.RespondWithErrorJSON(w, r, http.StatusBadRequest, "invalid id parameter")
		return
	}

	span.SetAttributes(attribute.Int64("ad.id", id))

	ad, err := h.service.GetAdByID(ctx, id)
	if err != nil {
		status = h.respondServiceError(w, r, span, err, "get ad by ID")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, ad)
}

func (h *AdHandler) GetAllAds(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "GetAllAds")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer h.observe("GET", "/ads", startTime, &status)

	ads, err := h.service.GetAllAds(ctx)
	if err != nil {
		status = "error"
		h.logger.ErrorLogger.Error("failed to retrieve ads", utils.Err(err))
		span.RecordError(err)
		utils.RespondWithErrorJSON(w, r, http.StatusInternalServerError, "could not retrieve ads")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, ads)
}

func (h *AdHandler) CreateAd(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateAd")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer h.observe("POST", "/ads", startTime, &status)

	fields, attachment, err := h.parseAdForm(w, r)
	if err != nil {
		status = "invalid"
		h.logger.InfoLogger.Info("rejected ad payload", utils.Err(err))
		span.RecordError(err)
		h.respondUploadError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.String("ad.title", fields.AdTitle),
		attribute.Bool("ad.has_image", attachment != nil),
	)

	ad, err := h.service.CreateAd(ctx, fields, attachment)
	if err != nil {
		status = h.respondServiceError(w, r, span, err, "create ad")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, MutationResponse{
		Message:  "ad created",
		ID:       ad.ID,
		ImageKey: ad.ImageKey,
	})
}

func (h *AdHandler) UpdateAd(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateAd")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer h.observe("PUT", "/ads/{id}", startTime, &status)

	id, ok := parseID(r)
	if !ok {
		status = "error"
		utils.RespondWithErrorJSON(w, r, http.StatusBadRequest, "invalid id parameter")
		return
	}

	fields, attachment, err := h.parseAdForm(w, r)
	if err != nil {
		status = "invalid"
		h.logger.InfoLogger.Info("rejected ad payload", utils.Err(err))
		span.RecordError(err)
		h.respondUploadError(w, r, err)
		return
	}

	span.SetAttributes(
		attribute.Int64("ad.id", id),
		attribute.String("ad.title", fields.AdTitle),
		attribute.Bool("ad.has_image", attachment != nil),
	)

	ad, err := h.service.UpdateAd(ctx, id, fields, attachment)
	if err != nil {
		status = h.respondServiceError(w, r, span, err, "update ad")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, MutationResponse{
		Message:  "ad updated",
		ID:       ad.ID,
		ImageKey: ad.ImageKey,
	})
}

func (h *AdHandler) DeleteAd(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "DeleteAd")
	defer span.End()

	startTime := time.Now()
	status := "success"
	defer h.observe("DELETE", "/ads/{id}", startTime, &status)

	id, ok := parseID(r)
	if !ok {
		status = "error"
		utils.RespondWithErrorJSON(w, r, http.StatusBadRequest, "invalid id parameter")
		return
	}

	span.SetAttributes(attribute.Int64("ad.id", id))

	result, err := h.service.DeleteAd(ctx, id)
	if err != nil {
		status = h.respondServiceError(w, r, span, err, "delete ad")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, DeleteResponse{
		Message:     "ad deleted",
		ID:          result.ID,
		DeletedRows: result.AffectedRows,
	})
}
