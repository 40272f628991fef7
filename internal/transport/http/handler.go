package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"media-download-service/internal/entity"
	"media-download-service/internal/service"
)

type Handler struct {
	downloads *service.DownloadService
}

func NewHandler(downloads *service.DownloadService) *Handler {
	return &Handler{downloads: downloads}
}

type startDownloadDTO struct {
	ContentID string `json:"contentId"`
	Title     string `json:"title"`
	Artist    string `json:"artist,omitempty"`
	Duration  int    `json:"duration,omitempty"`
	CoverURL  string `json:"coverUrl,omitempty"`
}

type startDownloadResp struct {
	ID     string `json:"id"`
	Cached bool   `json:"cached"`
}

type cancelResp struct {
	Cancelled bool `json:"cancelled"`
}

// StartDownload godoc
// @Summary Submit a download request
// @Description Admits a download job for the content id, or joins/reuses an existing one.
// @Tags downloads
// @Accept json
// @Produce json
// @Param request body startDownloadDTO true "content id plus display metadata"
// @Success 202 {object} startDownloadResp
// @Failure 400 {object} apiError
// @Failure 429 {object} apiError
// @Failure 500 {object} apiError
// @Router /downloads [post]
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var dto startDownloadDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(dto.ContentID) == "" {
		writeErr(w, http.StatusBadRequest, "contentId is required")
		return
	}

	res, err := h.downloads.StartDownload(r.Context(), dto.ContentID, service.TrackMetadata{
		Title:    dto.Title,
		Artist:   dto.Artist,
		Duration: dto.Duration,
		CoverURL: dto.CoverURL,
	})
	if err != nil {
		if errors.Is(err, service.ErrTooManyDownloads) {
			writeErr(w, http.StatusTooManyRequests, err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, startDownloadResp{ID: res.ID.String(), Cached: res.Cached})
}

// GetDownload godoc
// @Summary Get download job by id
// @Tags downloads
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /downloads/{id} [get]
func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	job, err := h.downloads.GetStatus(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeErr(w, http.StatusNotFound, "download not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListDownloads godoc
// @Summary List all download jobs
// @Tags downloads
// @Produce json
// @Success 200 {array} entity.Job
// @Router /downloads [get]
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.downloads.ListAll(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobsOrEmpty(jobs))
}

// ListCompleted godoc
// @Summary List completed download jobs
// @Tags downloads
// @Produce json
// @Success 200 {array} entity.Job
// @Router /downloads/completed [get]
func (h *Handler) ListCompleted(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.downloads.ListCompleted(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobsOrEmpty(jobs))
}

// CancelDownload godoc
// @Summary Cancel an active download
// @Description Cancelled is false when the job has no active attempt (unknown id or already terminal).
// @Tags downloads
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} cancelResp
// @Failure 400 {object} apiError
// @Router /downloads/{id}/cancel [post]
func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, cancelResp{Cancelled: h.downloads.CancelDownload(id)})
}

// DeleteDownload godoc
// @Summary Delete a download job and its file
// @Tags downloads
// @Param id path string true "job id (uuid)"
// @Success 204
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /downloads/{id} [delete]
func (h *Handler) DeleteDownload(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}

	deleted, err := h.downloads.DeleteDownload(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !deleted {
		writeErr(w, http.StatusNotFound, "download not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}

func jobsOrEmpty(jobs []*entity.Job) []*entity.Job {
	if jobs == nil {
		return []*entity.Job{}
	}
	return jobs
}
