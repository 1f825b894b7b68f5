package api

import (
	"fmt"
	"time"

	"github.com/framesight/framesight-agent/internal/capability"
	"github.com/framesight/framesight-agent/internal/entity"
	"github.com/framesight/framesight-agent/internal/jobs"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type SubmitURLRequest struct {
	URL         string `json:"url"`
	IntervalSec int    `json:"interval_sec,omitempty"`
	Cookies     string `json:"cookies,omitempty"`
}

type CreateVideoResponse struct {
	VideoID     string `json:"video_id"`
	Status      string `json:"status"`
	IntervalSec int    `json:"interval_sec"`
}

type VideoResponse struct {
	VideoID        string  `json:"video_id"`
	Filename       string  `json:"filename"`
	Status         string  `json:"status"`
	SourceURL      string  `json:"source_url,omitempty"`
	Stage          string  `json:"current_stage,omitempty"`
	Progress       int     `json:"progress"`
	StatusText     string  `json:"status_text,omitempty"`
	Error          string  `json:"error,omitempty"`
	DurationSec    float64 `json:"duration_sec,omitempty"`
	IntervalSec    int     `json:"interval_sec"`
	FramesAnalyzed int     `json:"frames_analyzed,omitempty"`
	UniqueEntities int     `json:"unique_entities,omitempty"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type VideoDetailResponse struct {
	VideoResponse
	ReportAvailable bool           `json:"report_available"`
	Report          *entity.Report `json:"report,omitempty"`
}

type VideosResponse struct {
	Videos   []VideoResponse `json:"videos"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
}

type StatusResponse struct {
	VideoID    string `json:"video_id"`
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	Stage      string `json:"current_stage,omitempty"`
	StatusText string `json:"status_text,omitempty"`
	Error      string `json:"error,omitempty"`
}

type FrameResponse struct {
	Index             int                `json:"frame_index"`
	TimestampSec      float64            `json:"timestamp_sec"`
	Filename          string             `json:"filename"`
	AnnotatedFilename string             `json:"annotated_filename,omitempty"`
	Detections        []entity.Detection `json:"detections"`
	URL               string             `json:"url"`
}

type FramesPageResponse struct {
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Total    int             `json:"total"`
	Frames   []FrameResponse `json:"frames"`
}

type NearestFrameResponse struct {
	Page         int           `json:"page"`
	PageSize     int           `json:"page_size"`
	FrameIndex   int           `json:"frame_index"`
	TimestampSec float64       `json:"timestamp_sec"`
	Frame        FrameResponse `json:"frame"`
}

type CapabilitiesResponse struct {
	HasObjects     bool   `json:"has_objects"`
	HasCaptions    bool   `json:"has_captions"`
	HasOpenVocab   bool   `json:"has_open_vocab"`
	HasOCR         bool   `json:"has_ocr"`
	HasSpeech      bool   `json:"has_speech"`
	HasVAD         bool   `json:"has_vad"`
	HasEmbeddings  bool   `json:"has_embeddings"`
	GPUAvailable   bool   `json:"gpu_available"`
	DepsAvailable  int    `json:"deps_available"`
	DepsTotal      int    `json:"deps_total"`
	PackageVersion string `json:"package_version,omitempty"`
	LastProbeAt    string `json:"last_probe_at,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *jobs.Job) VideoResponse {
	return VideoResponse{
		VideoID:        j.VideoID,
		Filename:       j.Filename,
		Status:         j.Status,
		SourceURL:      j.SourceURL,
		Stage:          j.Stage,
		Progress:       j.Progress,
		StatusText:     j.StatusText,
		Error:          j.Error,
		DurationSec:    j.DurationSec,
		IntervalSec:    j.IntervalSec,
		FramesAnalyzed: j.FramesAnalyzed,
		UniqueEntities: j.UniqueEntities,
		CreatedAt:      j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      j.UpdatedAt.Format(time.RFC3339),
	}
}

func JobToStatus(j *jobs.Job) StatusResponse {
	return StatusResponse{
		VideoID:    j.VideoID,
		Status:     j.Status,
		Progress:   j.Progress,
		Stage:      j.Stage,
		StatusText: j.StatusText,
		Error:      j.Error,
	}
}

// FrameToResponse renders one frame row. The URL always points at the
// image endpoint; when the caller asked for annotated frames and an
// overlay exists, the URL selects it.
func FrameToResponse(videoID string, f entity.Frame, annotated bool) FrameResponse {
	url := fmt.Sprintf("/api/v1/videos/%s/frames/%d/image", videoID, f.Index)
	if annotated && f.AnnotatedFilename != "" {
		url += "?annotated=true"
	}
	return FrameResponse{
		Index:             f.Index,
		TimestampSec:      f.TimestampSec,
		Filename:          f.Filename,
		AnnotatedFilename: f.AnnotatedFilename,
		Detections:        f.Detections,
		URL:               url,
	}
}

func CapabilitiesToResponse(c *capability.Capabilities) CapabilitiesResponse {
	resp := CapabilitiesResponse{
		HasObjects:     c.HasObjects,
		HasCaptions:    c.HasCaptions,
		HasOpenVocab:   c.HasOpenVocab,
		HasOCR:         c.HasOCR,
		HasSpeech:      c.HasSpeech,
		HasVAD:         c.HasVAD,
		HasEmbeddings:  c.HasEmbeddings,
		GPUAvailable:   c.GPU.CUDAAvailable,
		DepsAvailable:  c.Summary.Available,
		DepsTotal:      c.Summary.Total,
		PackageVersion: c.PackageVersion,
	}
	if !c.ProbedAt.IsZero() {
		resp.LastProbeAt = c.ProbedAt.Format(time.RFC3339)
	}
	return resp
}
