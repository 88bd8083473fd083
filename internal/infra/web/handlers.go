package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"intellidoc-pipeline/internal/domain"
	"intellidoc-pipeline/internal/domain/model"
	"intellidoc-pipeline/internal/usecase"
)

const (
	maxUploadBytes = 50 << 20
	maxBatchFiles  = 20
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrDuplicateSubmission):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotReady):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrUnsupportedFormat):
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrUnknownStage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// readUpload reads one multipart file and determines its media type from the
// content, not the client-supplied header.
func readUpload(fh *multipart.FileHeader) (string, string, []byte, error) {
	f, err := fh.Open()
	if err != nil {
		return "", "", nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		return "", "", nil, err
	}
	if len(data) > maxUploadBytes {
		return "", "", nil, domain.ErrInvalidArgument
	}
	return fh.Filename, http.DetectContentType(data), data, nil
}

func parseStages(raw string) []string {
	if raw == "" {
		return nil
	}
	var stages []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			stages = append(stages, s)
		}
	}
	return stages
}

type submitResponse struct {
	JobID  string          `json:"job_id"`
	Status model.JobStatus `json:"status"`
	Stages []string        `json:"stages"`
}

func (s *Server) submitHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, domain.ErrInvalidArgument)
			return
		}
		files := r.MultipartForm.File["file"]
		if len(files) != 1 {
			writeError(w, domain.ErrInvalidArgument)
			return
		}
		filename, mimeType, data, err := readUpload(files[0])
		if err != nil {
			writeError(w, err)
			return
		}

		job, err := s.jobUC.Submit(r.Context(), usecase.CreateJobParams{
			Filename: filename,
			MimeType: mimeType,
			Raw:      data,
			Stages:   parseStages(r.FormValue("stages")),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, submitResponse{JobID: job.ID, Status: job.Status, Stages: job.Stages})
	}
}

type batchItemResponse struct {
	Filename string `json:"filename"`
	JobID    string `json:"job_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) submitBatchHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, domain.ErrInvalidArgument)
			return
		}
		files := r.MultipartForm.File["files"]
		if len(files) == 0 || len(files) > maxBatchFiles {
			writeError(w, domain.ErrInvalidArgument)
			return
		}

		stages := parseStages(r.FormValue("stages"))
		items := make([]usecase.CreateJobParams, 0, len(files))
		for _, fh := range files {
			filename, mimeType, data, err := readUpload(fh)
			if err != nil {
				writeError(w, err)
				return
			}
			items = append(items, usecase.CreateJobParams{
				Filename: filename,
				MimeType: mimeType,
				Raw:      data,
				Stages:   stages,
			})
		}

		batch, results, err := s.batchUC.Submit(r.Context(), items)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]batchItemResponse, len(results))
		for i, res := range results {
			out[i] = batchItemResponse{Filename: res.Filename, JobID: res.JobID}
			if res.Err != nil {
				out[i].Error = res.Err.Error()
			}
		}
		writeJSON(w, http.StatusAccepted, struct {
			BatchID string              `json:"batch_id"`
			Jobs    []batchItemResponse `json:"jobs"`
		}{BatchID: batch.ID, Jobs: out})
	}
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.jobUC.GetStatus(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) cancelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := s.jobUC.Cancel(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			JobID  string          `json:"job_id"`
			Status model.JobStatus `json:"status"`
			Reason string          `json:"reason,omitempty"`
		}{JobID: job.ID, Status: job.Status, Reason: job.Reason})
	}
}

func (s *Server) resultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := s.resultUC.GetResult(r.Context(), chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) downloadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")
		format := strings.ToLower(chi.URLParam(r, "format"))

		filename, contentType, data, err := s.resultUC.Download(r.Context(), jobID, format)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		_, _ = w.Write(data)
	}
}

func (s *Server) batchStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.batchUC.GetStatus(r.Context(), chi.URLParam(r, "batchID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

type subscribeRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}

func (s *Server) subscribeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subscribeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, domain.ErrInvalidArgument)
			return
		}
		sub, err := s.webhookUC.Subscribe(r.Context(), req.URL, req.Events, req.Secret)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, struct {
			ID     string   `json:"id"`
			URL    string   `json:"url"`
			Events []string `json:"events"`
		}{ID: sub.ID, URL: sub.URL, Events: sub.Events})
	}
}

func (s *Server) infoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Service string `json:"service"`
			Version string `json:"version"`
			Docs    string `json:"docs"`
		}{Service: "intellidoc-pipeline", Version: "1.0.0", Docs: "/api/v1"})
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		components := make(map[string]string, len(s.pingers))
		for name, ping := range s.pingers {
			if err := ping(ctx); err != nil {
				components[name] = "down"
				status = http.StatusServiceUnavailable
			} else {
				components[name] = "up"
			}
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, struct {
			Status     string            `json:"status"`
			Components map[string]string `json:"components"`
		}{Status: overall, Components: components})
	}
}
