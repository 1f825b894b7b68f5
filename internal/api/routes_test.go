package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/framesight/framesight-agent/internal/broker"
	"github.com/framesight/framesight-agent/internal/capability"
	"github.com/framesight/framesight-agent/internal/config"
	"github.com/framesight/framesight-agent/internal/db"
	"github.com/framesight/framesight-agent/internal/entity"
	"github.com/framesight/framesight-agent/internal/jobs"
	"github.com/framesight/framesight-agent/internal/playback"
	"github.com/framesight/framesight-agent/internal/report"
	"github.com/framesight/framesight-agent/internal/search"
)

type fakeDoctorRunner struct {
	caps *capability.Capabilities
	err  error
}

func (f *fakeDoctorRunner) RunDoctor(ctx context.Context) (*capability.Capabilities, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.caps, nil
}

func newTestRouter(t *testing.T) (http.Handler, ServerConfig) {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "state.db"), nil)
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	queue := broker.NewChannelBroker(16)
	t.Cleanup(func() { queue.Close() })

	conf, err := config.New()
	if err != nil {
		t.Fatalf("config.New() error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	layout := jobs.NewLayout(dir)
	svc := jobs.NewService(jobs.NewRepository(database.Conn()), queue, layout, 15*time.Minute, logger)

	cfg := ServerConfig{
		Config:    conf,
		Service:   svc,
		Search:    search.New(layout.LabelCachePath(), nil, logger),
		Streamer:  playback.NewStreamer(layout, logger),
		StartTime: time.Now().Add(-10 * time.Second),
		Logger:    logger,
	}
	return NewRouter(cfg), cfg
}

func decodeJSONBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	return body
}

// multipartVideo builds an upload body with a video part and any extra
// form fields. A "voice:<content>" field becomes a voice_file part.
func multipartVideo(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	if filename != "" {
		part, err := mw.CreateFormFile("video", filename)
		if err != nil {
			t.Fatalf("CreateFormFile() error = %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("write video part: %v", err)
		}
	}
	for key, value := range fields {
		if key == "voice_file" {
			part, err := mw.CreateFormFile("voice_file", "voice.txt")
			if err != nil {
				t.Fatalf("CreateFormFile() error = %v", err)
			}
			part.Write([]byte(value))
			continue
		}
		mw.WriteField(key, value)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func submitUpload(t *testing.T, router http.Handler, filename string) string {
	t.Helper()
	body, contentType := multipartVideo(t, filename, []byte("fake video bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("upload status = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	videoID, ok := decodeJSONBody(t, rr)["video_id"].(string)
	if !ok || videoID == "" {
		t.Fatal("upload response missing video_id")
	}
	return videoID
}

func completeWithReport(t *testing.T, cfg ServerConfig, videoID string, rep *entity.Report) {
	t.Helper()
	ctx := context.Background()
	rep.VideoID = videoID
	if err := report.WriteReport(cfg.Service.Layout().ReportPath(videoID), rep); err != nil {
		t.Fatalf("WriteReport() error = %v", err)
	}
	if err := cfg.Service.BeginProcessing(ctx, videoID); err != nil {
		t.Fatalf("BeginProcessing() error = %v", err)
	}
	if err := cfg.Service.Complete(ctx, videoID, rep); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
}

func testReport(entities map[string]*entity.Summary) *entity.Report {
	if entities == nil {
		entities = map[string]*entity.Summary{}
	}
	return &entity.Report{
		Filename:       "patrol.mp4",
		DurationSec:    30,
		IntervalSec:    5,
		FramesAnalyzed: 6,
		UniqueEntities: len(entities),
		Entities:       entities,
	}
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["uptime_s"].(float64) < 10 {
		t.Errorf("uptime_s = %v, want >= 10", body["uptime_s"])
	}
}

func TestUploadVideo(t *testing.T) {
	router, cfg := newTestRouter(t)

	body, contentType := multipartVideo(t, "patrol.mp4", []byte("fake video bytes"), map[string]string{
		"interval_sec": "7",
		"voice_file":   "(00:05) radio check\n",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	resp := decodeJSONBody(t, rr)
	videoID := resp["video_id"].(string)
	if len(videoID) != 8 {
		t.Errorf("video_id = %q, want 8 chars", videoID)
	}
	if resp["status"] != "queued" {
		t.Errorf("status = %v, want queued", resp["status"])
	}
	if resp["interval_sec"].(float64) != 7 {
		t.Errorf("interval_sec = %v, want 7", resp["interval_sec"])
	}

	layout := cfg.Service.Layout()
	if _, err := os.Stat(layout.VideoPath(videoID, "patrol.mp4")); err != nil {
		t.Errorf("stored video missing: %v", err)
	}
	if _, err := os.Stat(layout.VoicePath(videoID, "voice.txt")); err != nil {
		t.Errorf("stored voice file missing: %v", err)
	}
}

func TestUploadVideo_MissingFile(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartVideo(t, "", nil, map[string]string{"interval_sec": "5"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestUploadVideo_UnsupportedType(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := multipartVideo(t, "notes.txt", []byte("not a video"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "BAD_REQUEST" {
		t.Errorf("code = %v, want BAD_REQUEST", code)
	}
}

func TestSubmitURL(t *testing.T) {
	router, cfg := newTestRouter(t)

	payload := `{"url":"https://example.com/watch?v=abc","interval_sec":3,"cookies":"SESSION=abc"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/url", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusAccepted, rr.Body.String())
	}
	resp := decodeJSONBody(t, rr)
	videoID := resp["video_id"].(string)

	job, err := cfg.Service.Get(context.Background(), videoID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.SourceURL != "https://example.com/watch?v=abc" {
		t.Errorf("source url = %q", job.SourceURL)
	}
	if job.Filename != "video.mp4" {
		t.Errorf("filename = %q, want video.mp4", job.Filename)
	}

	cookies, err := os.ReadFile(cfg.Service.Layout().CookiesPath(videoID))
	if err != nil {
		t.Fatalf("cookie file missing: %v", err)
	}
	if string(cookies) != "SESSION=abc" {
		t.Errorf("cookie content = %q", cookies)
	}
}

func TestSubmitURL_KeepsVideoBasename(t *testing.T) {
	router, cfg := newTestRouter(t)

	payload := `{"url":"https://cdn.example.com/clips/patrol.mkv"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/url", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusAccepted)
	}
	videoID := decodeJSONBody(t, rr)["video_id"].(string)
	job, err := cfg.Service.Get(context.Background(), videoID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Filename != "patrol.mkv" {
		t.Errorf("filename = %q, want patrol.mkv", job.Filename)
	}
}

func TestSubmitURL_RejectsBadURL(t *testing.T) {
	router, _ := newTestRouter(t)

	for _, payload := range []string{
		`{"url":""}`,
		`{"url":"ftp://example.com/video.mp4"}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/videos/url", strings.NewReader(payload))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("payload %q: status = %d, want %d", payload, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestListVideos(t *testing.T) {
	router, _ := newTestRouter(t)

	first := submitUpload(t, router, "alpha.mp4")
	second := submitUpload(t, router, "bravo.mp4")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["total"].(float64) != 2 {
		t.Errorf("total = %v, want 2", body["total"])
	}
	videos := body["videos"].([]interface{})
	if len(videos) != 2 {
		t.Fatalf("videos len = %d, want 2", len(videos))
	}
	listed := map[string]bool{}
	for _, v := range videos {
		listed[v.(map[string]interface{})["video_id"].(string)] = true
	}
	if !listed[first] || !listed[second] {
		t.Errorf("listed ids = %v, want both %s and %s", listed, first, second)
	}
}

func TestListVideos_StatusFilter(t *testing.T) {
	router, cfg := newTestRouter(t)

	videoID := submitUpload(t, router, "alpha.mp4")
	submitUpload(t, router, "bravo.mp4")
	completeWithReport(t, cfg, videoID, testReport(nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos?status=completed", nil))

	body := decodeJSONBody(t, rr)
	if body["total"].(float64) != 1 {
		t.Errorf("total = %v, want 1", body["total"])
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos?status=bogus", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("bogus filter status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetVideo(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["video_id"] != videoID {
		t.Errorf("video_id = %v, want %s", body["video_id"], videoID)
	}
	if body["report_available"].(bool) {
		t.Error("report_available = true for queued job")
	}
	if _, ok := body["report"]; ok {
		t.Error("report should be omitted before completion")
	}

	completeWithReport(t, cfg, videoID, testReport(map[string]*entity.Summary{
		"military personnel": {Count: 4, Presence: 0.6667},
	}))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID, nil))
	body = decodeJSONBody(t, rr)
	if !body["report_available"].(bool) {
		t.Error("report_available = false after completion")
	}
	rep := body["report"].(map[string]interface{})
	if rep["video_id"] != videoID {
		t.Errorf("report.video_id = %v, want %s", rep["video_id"], videoID)
	}
}

func TestGetVideo_NotFound(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/deadbeef", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", code)
	}
}

func TestVideoStatus(t *testing.T) {
	router, _ := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/status", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "queued" {
		t.Errorf("status = %v, want queued", body["status"])
	}
	if body["progress"].(float64) != 0 {
		t.Errorf("progress = %v, want 0", body["progress"])
	}
}

func TestVideoReport_NotReadyUntilCompleted(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/report", nil))

	if rr.Code != http.StatusConflict {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusConflict)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "NOT_READY" {
		t.Errorf("code = %v, want NOT_READY", code)
	}

	completeWithReport(t, cfg, videoID, testReport(map[string]*entity.Summary{
		"tank": {Count: 2, Presence: 0.5},
	}))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/report", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	entities := body["entities"].(map[string]interface{})
	if _, ok := entities["tank"]; !ok {
		t.Error("report entities missing tank")
	}
}

func TestCancelVideo(t *testing.T) {
	router, _ := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+videoID+"/cancel", nil))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusAccepted)
	}
	body := decodeJSONBody(t, rr)
	if body["status"] != "failed" {
		t.Errorf("status = %v, want failed", body["status"])
	}
	if body["error"] != "cancelled" {
		t.Errorf("error = %v, want cancelled", body["error"])
	}

	// A second cancel hits a terminal job.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/videos/"+videoID+"/cancel", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("second cancel status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestDeleteVideo(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")
	videoPath := cfg.Service.Layout().VideoPath(videoID, "patrol.mp4")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/videos/"+videoID, nil))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusNoContent)
	}
	if _, err := os.Stat(videoPath); !os.IsNotExist(err) {
		t.Errorf("stored video still present after delete: %v", err)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID, nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/v1/videos/"+videoID, nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("delete unknown = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func writeTestFrames(t *testing.T, cfg ServerConfig, videoID string, frames []entity.Frame) {
	t.Helper()
	path := cfg.Service.Layout().FramesIndexPath(videoID)
	if err := report.WriteFrames(path, frames); err != nil {
		t.Fatalf("WriteFrames() error = %v", err)
	}
}

func personFrame(index int, ts float64, annotated bool) entity.Frame {
	f := entity.Frame{
		Index:        index,
		TimestampSec: ts,
		Filename:     fmt.Sprintf("frame_%06d.jpg", index+1),
		Detections: []entity.Detection{
			{Label: "military personnel", Source: entity.SourceYOLO, Confidence: 0.9},
		},
	}
	if annotated {
		f.AnnotatedFilename = f.Filename
	}
	return f
}

func emptyFrame(index int, ts float64) entity.Frame {
	return entity.Frame{
		Index:        index,
		TimestampSec: ts,
		Filename:     fmt.Sprintf("frame_%06d.jpg", index+1),
		Detections:   []entity.Detection{},
	}
}

func TestListFrames(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")
	writeTestFrames(t, cfg, videoID, []entity.Frame{
		personFrame(0, 0, false),
		emptyFrame(1, 5),
		personFrame(2, 10, true),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/frames", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["total"].(float64) != 3 {
		t.Errorf("total = %v, want 3", body["total"])
	}
	frames := body["frames"].([]interface{})
	if len(frames) != 3 {
		t.Fatalf("frames len = %d, want 3", len(frames))
	}
	first := frames[0].(map[string]interface{})
	wantURL := "/api/v1/videos/" + videoID + "/frames/0/image"
	if first["url"] != wantURL {
		t.Errorf("url = %v, want %s", first["url"], wantURL)
	}
}

func TestListFrames_EntityFilterAndPaging(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")
	writeTestFrames(t, cfg, videoID, []entity.Frame{
		personFrame(0, 0, false),
		emptyFrame(1, 5),
		personFrame(2, 10, false),
		personFrame(3, 15, false),
	})

	url := "/api/v1/videos/" + videoID + "/frames?entity=Military+Personnel&page=2&page_size=2"
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, url, nil))

	body := decodeJSONBody(t, rr)
	if body["total"].(float64) != 3 {
		t.Errorf("total = %v, want 3 matching frames", body["total"])
	}
	frames := body["frames"].([]interface{})
	if len(frames) != 1 {
		t.Fatalf("page 2 frames len = %d, want 1", len(frames))
	}
	last := frames[0].(map[string]interface{})
	if last["frame_index"].(float64) != 3 {
		t.Errorf("frame_index = %v, want 3", last["frame_index"])
	}
}

func TestListFrames_AnnotatedURLs(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")
	writeTestFrames(t, cfg, videoID, []entity.Frame{
		personFrame(0, 0, true),
		personFrame(1, 5, false),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/frames?annotated=true", nil))

	frames := decodeJSONBody(t, rr)["frames"].([]interface{})
	withOverlay := frames[0].(map[string]interface{})
	if !strings.HasSuffix(withOverlay["url"].(string), "?annotated=true") {
		t.Errorf("annotated url = %v, want ?annotated=true suffix", withOverlay["url"])
	}
	withoutOverlay := frames[1].(map[string]interface{})
	if strings.Contains(withoutOverlay["url"].(string), "annotated") {
		t.Errorf("url = %v, want raw image url when no overlay exists", withoutOverlay["url"])
	}
}

func TestListFrames_NotReady(t *testing.T) {
	router, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/deadbeef/frames", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestNearestFrame(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")
	writeTestFrames(t, cfg, videoID, []entity.Frame{
		personFrame(0, 0, false),
		emptyFrame(1, 5),
		personFrame(2, 10, false),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/api/v1/videos/"+videoID+"/frames/nearest?timestamp_sec=6.9", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["frame_index"].(float64) != 1 {
		t.Errorf("frame_index = %v, want 1", body["frame_index"])
	}
	if body["page"].(float64) != 1 {
		t.Errorf("page = %v, want 1", body["page"])
	}
}

func TestNearestFrame_TieResolvesEarlier(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")
	writeTestFrames(t, cfg, videoID, []entity.Frame{
		emptyFrame(0, 5),
		emptyFrame(1, 10),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/api/v1/videos/"+videoID+"/frames/nearest?timestamp_sec=7.5", nil))

	if got := decodeJSONBody(t, rr)["frame_index"].(float64); got != 0 {
		t.Errorf("frame_index = %v, want 0 (earlier frame wins ties)", got)
	}
}

func TestNearestFrame_EntityFilter(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")
	writeTestFrames(t, cfg, videoID, []entity.Frame{
		emptyFrame(0, 0),
		personFrame(1, 5, false),
		emptyFrame(2, 10),
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/api/v1/videos/"+videoID+"/frames/nearest?timestamp_sec=10&entity=military+personnel", nil))

	if got := decodeJSONBody(t, rr)["frame_index"].(float64); got != 1 {
		t.Errorf("frame_index = %v, want 1 (only frame with the entity)", got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/api/v1/videos/"+videoID+"/frames/nearest?timestamp_sec=10&entity=submarine", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("no-match status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestNearestFrame_RequiresTimestamp(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")
	writeTestFrames(t, cfg, videoID, []entity.Frame{emptyFrame(0, 0)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/api/v1/videos/"+videoID+"/frames/nearest", nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestFrameImage(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")

	layout := cfg.Service.Layout()
	if err := os.MkdirAll(layout.FramesDir(videoID), 0755); err != nil {
		t.Fatalf("mkdir frames: %v", err)
	}
	if err := os.WriteFile(filepath.Join(layout.FramesDir(videoID), "frame_000001.jpg"), []byte("jpeg-bytes"), 0644); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	writeTestFrames(t, cfg, videoID, []entity.Frame{personFrame(0, 0, false)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/api/v1/videos/"+videoID+"/frames/0/image", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d: %s", rr.Code, http.StatusOK, rr.Body.String())
	}
	if rr.Body.String() != "jpeg-bytes" {
		t.Errorf("body = %q, want frame bytes", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/api/v1/videos/"+videoID+"/frames/99/image", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown index status = %d, want %d", rr.Code, http.StatusNotFound)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet,
		"/api/v1/videos/"+videoID+"/frames/-1/image", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative index status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestStreamVideo_RangeRequest(t *testing.T) {
	router, _ := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/videos/"+videoID+"/stream", nil)
	req.Header.Set("Range", "bytes=5-9")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusPartialContent {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusPartialContent)
	}
	if rr.Body.String() != "video" {
		t.Errorf("body = %q, want bytes 5-9 of upload", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/videos/deadbeef/stream", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown video status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestSearchEndpoint(t *testing.T) {
	router, cfg := newTestRouter(t)
	videoID := submitUpload(t, router, "patrol.mp4")

	rep := testReport(map[string]*entity.Summary{
		"military personnel": {Count: 4, Presence: 0.6667, Appearances: 4},
	})
	completeWithReport(t, cfg, videoID, rep)

	job, err := cfg.Service.Get(context.Background(), videoID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := cfg.Search.IngestReport(context.Background(), job, rep); err != nil {
		t.Fatalf("IngestReport() error = %v", err)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=personnel", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if body["total_unique_videos"].(float64) != 1 {
		t.Errorf("total_unique_videos = %v, want 1", body["total_unique_videos"])
	}
	results := body["results"].([]interface{})
	if len(results) != 1 {
		t.Fatalf("results len = %d, want 1", len(results))
	}

	// Blank query returns an empty result set, not an error.
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("blank query status = %d, want %d", rr.Code, http.StatusOK)
	}
	if got := decodeJSONBody(t, rr)["results"].([]interface{}); len(got) != 0 {
		t.Errorf("blank query results len = %d, want 0", len(got))
	}
}

func TestCapabilitiesEndpoint(t *testing.T) {
	router, cfg := newTestRouter(t)
	cfg.Doctor = capability.NewCachedDoctor(&fakeDoctorRunner{
		caps: &capability.Capabilities{
			HasObjects:    true,
			HasEmbeddings: true,
			ProbedAt:      time.Now(),
			Summary:       capability.SummaryInfo{Available: 4, Total: 6},
		},
	}, cfg.Logger)
	router = NewRouter(cfg)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/capabilities", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	body := decodeJSONBody(t, rr)
	if got, ok := body["has_objects"].(bool); !ok || !got {
		t.Errorf("has_objects = %v, want true", body["has_objects"])
	}
	if body["deps_available"].(float64) != 4 {
		t.Errorf("deps_available = %v, want 4", body["deps_available"])
	}
}

func TestCapabilitiesEndpoint_SidecarDown(t *testing.T) {
	router, cfg := newTestRouter(t)
	cfg.Doctor = capability.NewCachedDoctor(&fakeDoctorRunner{err: fmt.Errorf("spawn failed")}, cfg.Logger)
	router = NewRouter(cfg)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/capabilities", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	if code := decodeJSONBody(t, rr)["code"]; code != "SIDECAR_UNAVAILABLE" {
		t.Errorf("code = %v, want SIDECAR_UNAVAILABLE", code)
	}
}
