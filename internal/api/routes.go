package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/framesight/framesight-agent/internal/broker"
	"github.com/framesight/framesight-agent/internal/entity"
	"github.com/framesight/framesight-agent/internal/jobs"
	"github.com/framesight/framesight-agent/internal/report"
	"github.com/framesight/framesight-agent/internal/search"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.Config.RateLimitRPS(), cfg.Config.RateLimitBurst()))

		r.Get("/capabilities", capabilitiesHandler(cfg))
		r.Get("/search", searchHandler(cfg))

		r.Post("/videos", uploadVideoHandler(cfg))
		r.Post("/videos/url", submitURLHandler(cfg))
		r.Get("/videos", listVideosHandler(cfg))
		r.Get("/videos/{videoID}", getVideoHandler(cfg))
		r.Delete("/videos/{videoID}", deleteVideoHandler(cfg))
		r.Post("/videos/{videoID}/cancel", cancelVideoHandler(cfg))
		r.Get("/videos/{videoID}/status", videoStatusHandler(cfg))
		r.Get("/videos/{videoID}/report", videoReportHandler(cfg))
		r.Get("/videos/{videoID}/frames", listFramesHandler(cfg))
		r.Get("/videos/{videoID}/frames/nearest", nearestFrameHandler(cfg))
		r.Get("/videos/{videoID}/frames/{index}/image", frameImageHandler(cfg))
		r.Get("/videos/{videoID}/stream", streamVideoHandler(cfg))
	})

	return r
}

// writeServiceError maps the jobs error taxonomy onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, jobs.ErrInputInvalid):
		WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
	case errors.Is(err, jobs.ErrNotReady):
		WriteError(w, http.StatusConflict, err.Error(), "NOT_READY")
	case errors.Is(err, jobs.ErrConflict):
		WriteError(w, http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, broker.ErrQueueFull):
		WriteError(w, http.StatusServiceUnavailable, "queue full, retry later", "QUEUE_FULL")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			UptimeS: uptime,
		})
	}
}

func capabilitiesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Doctor == nil {
			WriteError(w, http.StatusServiceUnavailable, "capability probe unavailable", "SIDECAR_UNAVAILABLE")
			return
		}
		caps, err := cfg.Doctor.Get(r.Context())
		if err != nil {
			WriteError(w, http.StatusServiceUnavailable, "capability probe failed", "SIDECAR_UNAVAILABLE")
			return
		}
		WriteJSON(w, http.StatusOK, CapabilitiesToResponse(caps))
	}
}

func uploadVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.Config.MaxUploadBytes())
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit", "TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "invalid multipart body", "BAD_REQUEST")
			return
		}
		defer r.MultipartForm.RemoveAll()

		video, header, err := r.FormFile("video")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "video file is required", "BAD_REQUEST")
			return
		}
		defer video.Close()

		req := jobs.SubmitRequest{
			Filename:    header.Filename,
			IntervalSec: formInt(r, "interval_sec", cfg.Config.DefaultIntervalSec()),
			Video:       video,
		}
		if voice, vh, err := r.FormFile("voice_file"); err == nil {
			defer voice.Close()
			req.Voice = voice
			req.VoiceName = vh.Filename
		}

		job, err := cfg.Service.Submit(r.Context(), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, CreateVideoResponse{
			VideoID:     job.VideoID,
			Status:      job.Status,
			IntervalSec: job.IntervalSec,
		})
	}
}

func submitURLHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SubmitURLRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.URL == "" {
			WriteError(w, http.StatusBadRequest, "url is required", "BAD_REQUEST")
			return
		}
		u, err := url.ParseRequestURI(req.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			WriteError(w, http.StatusBadRequest, "url must be http or https", "BAD_REQUEST")
			return
		}

		interval := req.IntervalSec
		if interval < 1 {
			interval = cfg.Config.DefaultIntervalSec()
		}
		submit := jobs.SubmitRequest{
			Filename:    downloadFilename(u),
			IntervalSec: interval,
			SourceURL:   req.URL,
		}
		if req.Cookies != "" {
			submit.Cookies = strings.NewReader(req.Cookies)
		}

		job, err := cfg.Service.Submit(r.Context(), submit)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, CreateVideoResponse{
			VideoID:     job.VideoID,
			Status:      job.Status,
			IntervalSec: job.IntervalSec,
		})
	}
}

// downloadFilename keeps the URL's basename when it already names a
// video file; everything else lands as video.mp4.
func downloadFilename(u *url.URL) string {
	base := path.Base(u.Path)
	if jobs.IsVideoFile(base) {
		return base
	}
	return "video.mp4"
}

func listVideosHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := queryInt(q, "page", 1)
		pageSize := queryInt(q, "page_size", 20)
		if pageSize > 100 {
			pageSize = 100
		}

		list, total, err := cfg.Service.List(r.Context(), q.Get("status"), page, pageSize)
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := VideosResponse{
			Videos:   make([]VideoResponse, len(list)),
			Page:     page,
			PageSize: pageSize,
			Total:    total,
		}
		for i, j := range list {
			resp.Videos[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "videoID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		resp := VideoDetailResponse{VideoResponse: JobToResponse(job)}
		if rep, err := cfg.Service.Report(r.Context(), job.VideoID); err == nil {
			resp.ReportAvailable = true
			resp.Report = rep
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func deleteVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Service.Delete(r.Context(), chi.URLParam(r, "videoID")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func cancelVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Cancel(r.Context(), chi.URLParam(r, "videoID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobToStatus(job))
	}
}

func videoStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "videoID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToStatus(job))
	}
}

func videoReportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := cfg.Service.Report(r.Context(), chi.URLParam(r, "videoID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rep)
	}
}

func listFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "videoID")
		frames, err := report.ReadFrames(cfg.Service.Layout().FramesIndexPath(videoID))
		if err != nil {
			if os.IsNotExist(err) {
				WriteError(w, http.StatusNotFound, "frames not ready", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to read frame index", "INTERNAL_ERROR")
			return
		}

		q := r.URL.Query()
		annotated := q.Get("annotated") == "true"
		if label := q.Get("entity"); label != "" {
			frames = filterFrames(frames, label)
		}

		page := queryInt(q, "page", 1)
		pageSize := queryInt(q, "page_size", 24)
		if pageSize > 100 {
			pageSize = 100
		}

		total := len(frames)
		start := (page - 1) * pageSize
		if start > total {
			start = total
		}
		end := start + pageSize
		if end > total {
			end = total
		}

		resp := FramesPageResponse{
			Page:     page,
			PageSize: pageSize,
			Total:    total,
			Frames:   make([]FrameResponse, 0, end-start),
		}
		for _, f := range frames[start:end] {
			resp.Frames = append(resp.Frames, FrameToResponse(videoID, f, annotated))
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func nearestFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "videoID")
		q := r.URL.Query()

		ts, err := strconv.ParseFloat(q.Get("timestamp_sec"), 64)
		if err != nil || ts < 0 {
			WriteError(w, http.StatusBadRequest, "timestamp_sec is required", "BAD_REQUEST")
			return
		}

		frames, err := report.ReadFrames(cfg.Service.Layout().FramesIndexPath(videoID))
		if err != nil {
			if os.IsNotExist(err) {
				WriteError(w, http.StatusNotFound, "frames not ready", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to read frame index", "INTERNAL_ERROR")
			return
		}
		if label := q.Get("entity"); label != "" {
			frames = filterFrames(frames, label)
		}
		if len(frames) == 0 {
			WriteError(w, http.StatusNotFound, "no matching frames", "NOT_FOUND")
			return
		}

		// Ties resolve to the earlier frame.
		pos := 0
		for i, f := range frames[1:] {
			if math.Abs(f.TimestampSec-ts) < math.Abs(frames[pos].TimestampSec-ts) {
				pos = i + 1
			}
		}

		pageSize := queryInt(q, "page_size", 24)
		if pageSize > 100 {
			pageSize = 100
		}

		f := frames[pos]
		WriteJSON(w, http.StatusOK, NearestFrameResponse{
			Page:         pos/pageSize + 1,
			PageSize:     pageSize,
			FrameIndex:   f.Index,
			TimestampSec: f.TimestampSec,
			Frame:        FrameToResponse(videoID, f, false),
		})
	}
}

func frameImageHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		videoID := chi.URLParam(r, "videoID")
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			WriteError(w, http.StatusBadRequest, "invalid frame index", "BAD_REQUEST")
			return
		}
		annotated := r.URL.Query().Get("annotated") == "true"

		if err := cfg.Streamer.ServeFrame(w, r, videoID, index, annotated); err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "frame not found", "NOT_FOUND")
				return
			}
			cfg.Logger.Error("frame serve error", "error", err, "video_id", videoID, "frame_index", index)
			WriteError(w, http.StatusInternalServerError, "failed to serve frame", "INTERNAL_ERROR")
		}
	}
}

func streamVideoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.Service.Get(r.Context(), chi.URLParam(r, "videoID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		if err := cfg.Streamer.ServeVideo(w, r, job); err != nil {
			if errors.Is(err, jobs.ErrNotFound) {
				WriteError(w, http.StatusNotFound, "no stored video", "NOT_FOUND")
				return
			}
			cfg.Logger.Error("video stream error", "error", err, "video_id", job.VideoID)
			WriteError(w, http.StatusInternalServerError, "failed to stream video", "INTERNAL_ERROR")
		}
	}
}

func searchHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := search.Query{
			Q:           q.Get("q"),
			Similarity:  queryFloat(q, "similarity", 0.7),
			MinPresence: queryFloat(q, "min_presence", 0),
			MinFrames:   queryInt(q, "min_frames", 0),
		}
		WriteJSON(w, http.StatusOK, cfg.Search.Search(r.Context(), query))
	}
}

// filterFrames keeps frames with at least one detection whose
// normalized label matches the queried entity.
func filterFrames(frames []entity.Frame, label string) []entity.Frame {
	want := entity.NormalizeLabel(label)
	var kept []entity.Frame
	for _, f := range frames {
		for _, d := range f.Detections {
			if entity.NormalizeLabel(d.Label) == want {
				kept = append(kept, f)
				break
			}
		}
	}
	return kept
}

func formInt(r *http.Request, key string, fallback int) int {
	v := r.FormValue(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func queryInt(q url.Values, key string, fallback int) int {
	v := q.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}

func queryFloat(q url.Values, key string, fallback float64) float64 {
	v := q.Get(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return fallback
	}
	return f
}
