package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/reportree/internal/jobs"
	"github.com/ternarybob/reportree/internal/models"
)

// OwnerHeader carries the requesting user when the body does not name one
const OwnerHeader = "X-User-ID"

const maxRequestBytes = 1 << 20

// JobHandler serves job submission, polling and results
type JobHandler struct {
	jobService JobService
	logger     arbor.ILogger
}

func NewJobHandler(jobService JobService, logger arbor.ILogger) *JobHandler {
	return &JobHandler{
		jobService: jobService,
		logger:     logger,
	}
}

// CreateJobHandler handles POST /api/jobs
func (h *JobHandler) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req jobs.SubmitRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = r.Header.Get(OwnerHeader)
	}

	resp, err := h.jobService.Submit(r.Context(), &req)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("name", req.Name).Msg("Failed to submit job")
		WriteError(w, http.StatusInternalServerError, "Failed to submit job")
		return
	}

	WriteJSON(w, http.StatusAccepted, resp)
}

// ListJobsHandler handles GET /api/jobs?owner_id=
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		ownerID = r.Header.Get(OwnerHeader)
	}

	records, err := h.jobService.List(r.Context(), ownerID, GetLimitParam(r))
	if err != nil {
		h.logger.Error().Err(err).Str("owner_id", ownerID).Msg("Failed to list jobs")
		WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  records,
		"count": len(records),
	})
}

// JobStatusHandler handles GET /api/jobs/{id}/status
func (h *JobHandler) JobStatusHandler(w http.ResponseWriter, r *http.Request, recordID string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	status, err := h.jobService.Status(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, models.ErrReportNotFound) {
			WriteError(w, http.StatusNotFound, "Job not found")
			return
		}
		h.logger.Error().Err(err).Str("record_id", recordID).Msg("Failed to get job status")
		WriteError(w, http.StatusInternalServerError, "Failed to get job status")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// ResultHandler handles GET /api/results/{handle}/{key}
func (h *JobHandler) ResultHandler(w http.ResponseWriter, r *http.Request, handle, resultKey string) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	payload, err := h.jobService.Result(r.Context(), handle, resultKey)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrTaskNotFound), errors.Is(err, models.ErrResultKeyNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, models.ErrTaskNotFinished):
		WriteError(w, http.StatusConflict, err.Error())
		return
	default:
		h.logger.Error().Err(err).Str("job_id", handle).Msg("Failed to get result")
		WriteError(w, http.StatusInternalServerError, "Failed to get result")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}
