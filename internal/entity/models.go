// Package entity holds the domain model shared across the ingestion
// pipeline: sampled frames, per-frame detections, aggregated entity
// summaries, and the canonical report artifact.
package entity

// Detection sources. A detection carries the name of the model family
// that produced it; the aggregator and the search surface rely on it.
const (
	SourceYOLO      = "yolo"
	SourceDiscovery = "discovery"
	SourceOpenVocab = "open_vocab"
	SourceVerify    = "verify"
	SourceOCR       = "ocr"
)

// SourceCount is the number of sources that may contribute detections,
// used as the denominator of the diversity term in confidence scoring.
const SourceCount = 5

// Box is an axis-aligned bounding box in pixel units.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Detection is a single observation attached to a frame.
type Detection struct {
	Label      string  `json:"label"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Box        *Box    `json:"bbox,omitempty"`
	RawText    string  `json:"raw_text,omitempty"`
}

// Frame is one sampled still image. Detections are attached during the
// detection stage; frames are never mutated after that.
type Frame struct {
	Index             int         `json:"frame_index"`
	TimestampSec      float64     `json:"timestamp_sec"`
	Filename          string      `json:"filename"`
	AnnotatedFilename string      `json:"annotated_filename,omitempty"`
	Detections        []Detection `json:"detections"`
}

// FrameIndex is the persisted frames.json artifact: the replayable input
// of the aggregator.
type FrameIndex struct {
	Frames []Frame `json:"frames"`
}

// TimeRange is a closed interval during which an entity was continuously
// present. Endpoint labels are mm:ss renderings of the seconds.
type TimeRange struct {
	StartSec   float64 `json:"start_sec"`
	EndSec     float64 `json:"end_sec"`
	StartLabel string  `json:"start_label"`
	EndLabel   string  `json:"end_label"`
}

// Summary is the aggregated view of one label across a whole job.
type Summary struct {
	Count           int         `json:"count"`
	Presence        float64     `json:"presence"`
	Appearances     int         `json:"appearances"`
	TimeRanges      []TimeRange `json:"time_ranges"`
	ConfidenceScore float64     `json:"confidence_score"`
	Sources         []string    `json:"sources"`
}

// TranscriptSegment is one timed span of transcribed speech.
type TranscriptSegment struct {
	SegmentID int     `json:"segment_id"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	Text      string  `json:"text"`
}

// AudioAnalysis summarises the voice-activity profile of the audio track.
// Pointer fields are null in JSON when the VAD never ran.
type AudioAnalysis struct {
	SpeechRatio   *float64 `json:"speech_ratio"`
	SpeechSeconds *float64 `json:"speech_seconds"`
	MusicDetected *bool    `json:"music_detected"`
	VADAvailable  bool     `json:"vad_available"`
}

// Transcript is the optional speech companion of a report. A transcript
// error is recorded here without failing the job.
type Transcript struct {
	Language      string              `json:"language,omitempty"`
	Text          string              `json:"text"`
	Segments      []TranscriptSegment `json:"segments"`
	AudioAnalysis *AudioAnalysis      `json:"audio_analysis,omitempty"`
	Error         string              `json:"error,omitempty"`
}

// Report is the canonical durable artifact of a completed job.
type Report struct {
	VideoID        string              `json:"video_id"`
	Filename       string              `json:"filename"`
	DurationSec    float64             `json:"duration_sec"`
	IntervalSec    int                 `json:"interval_sec"`
	FramesAnalyzed int                 `json:"frames_analyzed"`
	UniqueEntities int                 `json:"unique_entities"`
	Entities       map[string]*Summary `json:"entities"`
	Transcript     *Transcript         `json:"transcript,omitempty"`
}

// Round1 rounds seconds to one decimal for report output.
func Round1(v float64) float64 {
	return roundTo(v, 10)
}

// Round3 rounds transcript timecodes to three decimals.
func Round3(v float64) float64 {
	return roundTo(v, 1000)
}

// Round4 rounds presence and confidence values to four decimals.
func Round4(v float64) float64 {
	return roundTo(v, 10000)
}

func roundTo(v float64, scale float64) float64 {
	if v < 0 {
		return -roundTo(-v, scale)
	}
	return float64(int64(v*scale+0.5)) / scale
}
