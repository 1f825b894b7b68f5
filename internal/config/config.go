// Package config provides configuration management for the FrameSight agent.
// Configuration is loaded from environment variables with sensible defaults.
// All values are read once at process start; workers never re-read them.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// Default values
	DefaultPort     = 8790
	DefaultLogLevel = "info"
	DefaultDataDir  = ".framesight"

	DefaultWorkers   = 2
	DefaultQueueSize = 64

	DefaultIntervalSec                = 5
	DefaultSmartSampling              = true
	DefaultSmartSamplingDiffThreshold = 0.06
	DefaultSmartSamplingMinKeep       = 6

	DefaultMinConfidence  = 0.25
	DefaultMinConsecutive = 2
	DefaultAnnotateFrames = true

	DefaultOpenVocabEnabled        = false
	DefaultOpenVocabThreshold      = 0.27
	DefaultOpenVocabEveryN         = 1
	DefaultOpenVocabMinConsecutive = 1

	DefaultDiscoveryEnabled        = true
	DefaultDiscoveryEveryN         = 1
	DefaultDiscoveryMinScore       = 0.2
	DefaultDiscoveryMinConsecutive = 1
	DefaultDiscoveryMaxPhrases     = 8
	DefaultDiscoveryOnlyMilitary   = true

	DefaultVerifyEnabled   = true
	DefaultVerifyThreshold = 0.27
	DefaultVerifyEveryN    = 3
	DefaultVerifyMaxLabels = 12

	DefaultOcrEnabled       = true
	DefaultOcrEveryN        = 4
	DefaultOcrMinConfidence = 60.0

	DefaultConfidenceMinScore = 0.1
	DefaultStaleAfterMin      = 15

	DefaultRateLimitRPS   = 10.0
	DefaultRateLimitBurst = 20
	DefaultMaxUploadBytes = 2 << 30 // 2GB

	// Environment variable names
	EnvPort      = "FRAMESIGHT_PORT"
	EnvLogLevel  = "FRAMESIGHT_LOG_LEVEL"
	EnvDataDir   = "FRAMESIGHT_DATA_DIR"
	EnvStateDB   = "FRAMESIGHT_STATE_DB"
	EnvBrokerURL = "FRAMESIGHT_BROKER_URL"
	EnvWorkers   = "FRAMESIGHT_WORKERS"
	EnvQueueSize = "FRAMESIGHT_QUEUE_SIZE"

	EnvDefaultIntervalSec   = "FRAMESIGHT_DEFAULT_INTERVAL_SEC"
	EnvSmartSampling        = "FRAMESIGHT_SMART_SAMPLING"
	EnvSmartSamplingDiff    = "FRAMESIGHT_SMART_SAMPLING_DIFF_THRESHOLD"
	EnvSmartSamplingMinKeep = "FRAMESIGHT_SMART_SAMPLING_MIN_KEEP"

	EnvMinConfidence  = "FRAMESIGHT_MIN_CONFIDENCE"
	EnvMinConsecutive = "FRAMESIGHT_MIN_CONSECUTIVE"
	EnvAnnotateFrames = "FRAMESIGHT_ANNOTATE_FRAMES"

	EnvOpenVocabEnabled        = "FRAMESIGHT_OPEN_VOCAB_ENABLED"
	EnvOpenVocabThreshold      = "FRAMESIGHT_OPEN_VOCAB_THRESHOLD"
	EnvOpenVocabEveryN         = "FRAMESIGHT_OPEN_VOCAB_EVERY_N"
	EnvOpenVocabMinConsecutive = "FRAMESIGHT_OPEN_VOCAB_MIN_CONSECUTIVE"
	EnvOpenVocabLabels         = "FRAMESIGHT_OPEN_VOCAB_LABELS"

	EnvDiscoveryEnabled        = "FRAMESIGHT_DISCOVERY_ENABLED"
	EnvDiscoveryEveryN         = "FRAMESIGHT_DISCOVERY_EVERY_N"
	EnvDiscoveryMinScore       = "FRAMESIGHT_DISCOVERY_MIN_SCORE"
	EnvDiscoveryMinConsecutive = "FRAMESIGHT_DISCOVERY_MIN_CONSECUTIVE"
	EnvDiscoveryMaxPhrases     = "FRAMESIGHT_DISCOVERY_MAX_PHRASES"
	EnvDiscoveryOnlyMilitary   = "FRAMESIGHT_DISCOVERY_ONLY_MILITARY"

	EnvVerifyEnabled   = "FRAMESIGHT_VERIFY_ENABLED"
	EnvVerifyThreshold = "FRAMESIGHT_VERIFY_THRESHOLD"
	EnvVerifyEveryN    = "FRAMESIGHT_VERIFY_EVERY_N"
	EnvVerifyMaxLabels = "FRAMESIGHT_VERIFY_MAX_LABELS"

	EnvOcrEnabled       = "FRAMESIGHT_OCR_ENABLED"
	EnvOcrEveryN        = "FRAMESIGHT_OCR_EVERY_N"
	EnvOcrMinConfidence = "FRAMESIGHT_OCR_MIN_CONFIDENCE"

	EnvConfidenceMinScore = "FRAMESIGHT_CONFIDENCE_MIN_SCORE"
	EnvStaleAfterMin      = "FRAMESIGHT_STALE_AFTER_MIN"

	EnvSidecarPython = "FRAMESIGHT_SIDECAR_PYTHON"
	EnvSidecarModule = "FRAMESIGHT_SIDECAR_MODULE"
	EnvFFmpegPath    = "FRAMESIGHT_FFMPEG"
	EnvFFprobePath   = "FRAMESIGHT_FFPROBE"

	EnvExtractTimeoutSec    = "FRAMESIGHT_EXTRACT_TIMEOUT_SEC"
	EnvTranscribeTimeoutSec = "FRAMESIGHT_TRANSCRIBE_TIMEOUT_SEC"
	EnvDetectTimeoutSec     = "FRAMESIGHT_DETECT_TIMEOUT_SEC"
	EnvAggregateTimeoutSec  = "FRAMESIGHT_AGGREGATE_TIMEOUT_SEC"
	EnvIndexTimeoutSec      = "FRAMESIGHT_INDEX_TIMEOUT_SEC"

	EnvRateLimitRPS   = "FRAMESIGHT_RATE_LIMIT_RPS"
	EnvRateLimitBurst = "FRAMESIGHT_RATE_LIMIT_BURST"
	EnvMaxUploadBytes = "FRAMESIGHT_MAX_UPLOAD_BYTES"

	// Database filename under the data dir when FRAMESIGHT_STATE_DB is unset
	DBFilename = "state.db"

	// Sidecar defaults
	DefaultSidecarModule        = "framesight_pipelines"
	DefaultDoctorTimeoutSec     = 30
	DefaultExtractTimeoutSec    = 600  // 10 minutes
	DefaultTranscribeTimeoutSec = 1800 // 30 minutes
	DefaultDetectTimeoutSec     = 3600 // 60 minutes
	DefaultAggregateTimeoutSec  = 300  // 5 minutes
	DefaultIndexTimeoutSec      = 300  // 5 minutes
)

// DefaultOpenVocabLabels is the label list scored by the open-vocabulary
// source when FRAMESIGHT_OPEN_VOCAB_LABELS is unset.
func DefaultOpenVocabLabels() []string {
	return []string{
		"military personnel",
		"civilian",
		"military truck",
		"armored vehicle",
		"artillery vehicle",
		"military vehicle",
		"trailer",
		"aircraft",
		"helicopter",
		"drone",
		"weapon",
		"turret",
		"equipment",
	}
}

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	BrokerURL() string
	Workers() int
	QueueSize() int

	DefaultIntervalSec() int
	SmartSampling() bool
	SmartSamplingDiffThreshold() float64
	SmartSamplingMinKeep() int

	MinConfidence() float64
	MinConsecutive() int
	AnnotateFrames() bool

	OpenVocabEnabled() bool
	OpenVocabThreshold() float64
	OpenVocabEveryN() int
	OpenVocabMinConsecutive() int
	OpenVocabLabels() []string

	DiscoveryEnabled() bool
	DiscoveryEveryN() int
	DiscoveryMinScore() float64
	DiscoveryMinConsecutive() int
	DiscoveryMaxPhrases() int
	DiscoveryOnlyMilitary() bool

	VerifyEnabled() bool
	VerifyThreshold() float64
	VerifyEveryN() int
	VerifyMaxLabels() int

	OcrEnabled() bool
	OcrEveryN() int
	OcrMinConfidence() float64

	ConfidenceMinScore() float64
	StaleAfter() time.Duration

	SidecarPython() string
	SidecarModule() string
	FFmpegPath() string
	FFprobePath() string

	DoctorTimeout() time.Duration
	ExtractTimeout() time.Duration
	TranscribeTimeout() time.Duration
	DetectTimeout() time.Duration
	AggregateTimeout() time.Duration
	IndexTimeout() time.Duration

	RateLimitRPS() float64
	RateLimitBurst() int
	MaxUploadBytes() int64
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	logLevel  string
	dataDir   string
	dbPath    string
	brokerURL string
	workers   int
	queueSize int

	defaultIntervalSec   int
	smartSampling        bool
	smartSamplingDiff    float64
	smartSamplingMinKeep int

	minConfidence  float64
	minConsecutive int
	annotateFrames bool

	openVocabEnabled        bool
	openVocabThreshold      float64
	openVocabEveryN         int
	openVocabMinConsecutive int
	openVocabLabels         []string

	discoveryEnabled        bool
	discoveryEveryN         int
	discoveryMinScore       float64
	discoveryMinConsecutive int
	discoveryMaxPhrases     int
	discoveryOnlyMilitary   bool

	verifyEnabled   bool
	verifyThreshold float64
	verifyEveryN    int
	verifyMaxLabels int

	ocrEnabled       bool
	ocrEveryN        int
	ocrMinConfidence float64

	confidenceMinScore float64
	staleAfter         time.Duration

	extractTimeout    time.Duration
	transcribeTimeout time.Duration
	detectTimeout     time.Duration
	aggregateTimeout  time.Duration
	indexTimeout      time.Duration

	sidecarPython string
	sidecarModule string
	ffmpegPath    string
	ffprobePath   string

	rateLimitRPS   float64
	rateLimitBurst int
	maxUploadBytes int64
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:      DefaultPort,
		logLevel:  DefaultLogLevel,
		dataDir:   defaultDataDir(),
		workers:   DefaultWorkers,
		queueSize: DefaultQueueSize,

		defaultIntervalSec:   DefaultIntervalSec,
		smartSampling:        DefaultSmartSampling,
		smartSamplingDiff:    DefaultSmartSamplingDiffThreshold,
		smartSamplingMinKeep: DefaultSmartSamplingMinKeep,

		minConfidence:  DefaultMinConfidence,
		minConsecutive: DefaultMinConsecutive,
		annotateFrames: DefaultAnnotateFrames,

		openVocabEnabled:        DefaultOpenVocabEnabled,
		openVocabThreshold:      DefaultOpenVocabThreshold,
		openVocabEveryN:         DefaultOpenVocabEveryN,
		openVocabMinConsecutive: DefaultOpenVocabMinConsecutive,
		openVocabLabels:         DefaultOpenVocabLabels(),

		discoveryEnabled:        DefaultDiscoveryEnabled,
		discoveryEveryN:         DefaultDiscoveryEveryN,
		discoveryMinScore:       DefaultDiscoveryMinScore,
		discoveryMinConsecutive: DefaultDiscoveryMinConsecutive,
		discoveryMaxPhrases:     DefaultDiscoveryMaxPhrases,
		discoveryOnlyMilitary:   DefaultDiscoveryOnlyMilitary,

		verifyEnabled:   DefaultVerifyEnabled,
		verifyThreshold: DefaultVerifyThreshold,
		verifyEveryN:    DefaultVerifyEveryN,
		verifyMaxLabels: DefaultVerifyMaxLabels,

		ocrEnabled:       DefaultOcrEnabled,
		ocrEveryN:        DefaultOcrEveryN,
		ocrMinConfidence: DefaultOcrMinConfidence,

		confidenceMinScore: DefaultConfidenceMinScore,
		staleAfter:         DefaultStaleAfterMin * time.Minute,

		extractTimeout:    DefaultExtractTimeoutSec * time.Second,
		transcribeTimeout: DefaultTranscribeTimeoutSec * time.Second,
		detectTimeout:     DefaultDetectTimeoutSec * time.Second,
		aggregateTimeout:  DefaultAggregateTimeoutSec * time.Second,
		indexTimeout:      DefaultIndexTimeoutSec * time.Second,

		sidecarModule: DefaultSidecarModule,
		ffmpegPath:    "ffmpeg",
		ffprobePath:   "ffprobe",

		rateLimitRPS:   DefaultRateLimitRPS,
		rateLimitBurst: DefaultRateLimitBurst,
		maxUploadBytes: DefaultMaxUploadBytes,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.dbPath = os.Getenv(EnvStateDB)
	cfg.brokerURL = os.Getenv(EnvBrokerURL)
	cfg.sidecarPython = os.Getenv(EnvSidecarPython)

	if sm := os.Getenv(EnvSidecarModule); sm != "" {
		cfg.sidecarModule = sm
	}
	if fp := os.Getenv(EnvFFmpegPath); fp != "" {
		cfg.ffmpegPath = fp
	}
	if fp := os.Getenv(EnvFFprobePath); fp != "" {
		cfg.ffprobePath = fp
	}

	var err error
	if cfg.workers, err = envInt(EnvWorkers, cfg.workers); err != nil {
		return nil, err
	}
	if cfg.workers < 1 {
		return nil, fmt.Errorf("invalid %s: must be >= 1", EnvWorkers)
	}
	if cfg.queueSize, err = envInt(EnvQueueSize, cfg.queueSize); err != nil {
		return nil, err
	}
	if cfg.queueSize < 1 {
		return nil, fmt.Errorf("invalid %s: must be >= 1", EnvQueueSize)
	}

	if cfg.defaultIntervalSec, err = envInt(EnvDefaultIntervalSec, cfg.defaultIntervalSec); err != nil {
		return nil, err
	}
	if cfg.defaultIntervalSec < 1 {
		cfg.defaultIntervalSec = 1
	}
	if cfg.smartSampling, err = envBool(EnvSmartSampling, cfg.smartSampling); err != nil {
		return nil, err
	}
	if cfg.smartSamplingDiff, err = envFloat(EnvSmartSamplingDiff, cfg.smartSamplingDiff); err != nil {
		return nil, err
	}
	if cfg.smartSamplingMinKeep, err = envInt(EnvSmartSamplingMinKeep, cfg.smartSamplingMinKeep); err != nil {
		return nil, err
	}

	if cfg.minConfidence, err = envFloat(EnvMinConfidence, cfg.minConfidence); err != nil {
		return nil, err
	}
	if cfg.minConsecutive, err = envInt(EnvMinConsecutive, cfg.minConsecutive); err != nil {
		return nil, err
	}
	if cfg.annotateFrames, err = envBool(EnvAnnotateFrames, cfg.annotateFrames); err != nil {
		return nil, err
	}

	if cfg.openVocabEnabled, err = envBool(EnvOpenVocabEnabled, cfg.openVocabEnabled); err != nil {
		return nil, err
	}
	if cfg.openVocabThreshold, err = envFloat(EnvOpenVocabThreshold, cfg.openVocabThreshold); err != nil {
		return nil, err
	}
	if cfg.openVocabEveryN, err = envInt(EnvOpenVocabEveryN, cfg.openVocabEveryN); err != nil {
		return nil, err
	}
	if cfg.openVocabMinConsecutive, err = envInt(EnvOpenVocabMinConsecutive, cfg.openVocabMinConsecutive); err != nil {
		return nil, err
	}
	if labels := os.Getenv(EnvOpenVocabLabels); labels != "" {
		cfg.openVocabLabels = nil
		for _, l := range strings.Split(labels, ",") {
			if l = strings.TrimSpace(l); l != "" {
				cfg.openVocabLabels = append(cfg.openVocabLabels, l)
			}
		}
	}

	if cfg.discoveryEnabled, err = envBool(EnvDiscoveryEnabled, cfg.discoveryEnabled); err != nil {
		return nil, err
	}
	if cfg.discoveryEveryN, err = envInt(EnvDiscoveryEveryN, cfg.discoveryEveryN); err != nil {
		return nil, err
	}
	if cfg.discoveryMinScore, err = envFloat(EnvDiscoveryMinScore, cfg.discoveryMinScore); err != nil {
		return nil, err
	}
	if cfg.discoveryMinConsecutive, err = envInt(EnvDiscoveryMinConsecutive, cfg.discoveryMinConsecutive); err != nil {
		return nil, err
	}
	if cfg.discoveryMaxPhrases, err = envInt(EnvDiscoveryMaxPhrases, cfg.discoveryMaxPhrases); err != nil {
		return nil, err
	}
	if cfg.discoveryOnlyMilitary, err = envBool(EnvDiscoveryOnlyMilitary, cfg.discoveryOnlyMilitary); err != nil {
		return nil, err
	}

	if cfg.verifyEnabled, err = envBool(EnvVerifyEnabled, cfg.verifyEnabled); err != nil {
		return nil, err
	}
	if cfg.verifyThreshold, err = envFloat(EnvVerifyThreshold, cfg.verifyThreshold); err != nil {
		return nil, err
	}
	if cfg.verifyEveryN, err = envInt(EnvVerifyEveryN, cfg.verifyEveryN); err != nil {
		return nil, err
	}
	if cfg.verifyMaxLabels, err = envInt(EnvVerifyMaxLabels, cfg.verifyMaxLabels); err != nil {
		return nil, err
	}

	if cfg.ocrEnabled, err = envBool(EnvOcrEnabled, cfg.ocrEnabled); err != nil {
		return nil, err
	}
	if cfg.ocrEveryN, err = envInt(EnvOcrEveryN, cfg.ocrEveryN); err != nil {
		return nil, err
	}
	if cfg.ocrMinConfidence, err = envFloat(EnvOcrMinConfidence, cfg.ocrMinConfidence); err != nil {
		return nil, err
	}

	if cfg.confidenceMinScore, err = envFloat(EnvConfidenceMinScore, cfg.confidenceMinScore); err != nil {
		return nil, err
	}
	staleMin, err := envInt(EnvStaleAfterMin, DefaultStaleAfterMin)
	if err != nil {
		return nil, err
	}
	if staleMin < 1 {
		return nil, fmt.Errorf("invalid %s: must be >= 1", EnvStaleAfterMin)
	}
	cfg.staleAfter = time.Duration(staleMin) * time.Minute

	if cfg.extractTimeout, err = envSeconds(EnvExtractTimeoutSec, cfg.extractTimeout); err != nil {
		return nil, err
	}
	if cfg.transcribeTimeout, err = envSeconds(EnvTranscribeTimeoutSec, cfg.transcribeTimeout); err != nil {
		return nil, err
	}
	if cfg.detectTimeout, err = envSeconds(EnvDetectTimeoutSec, cfg.detectTimeout); err != nil {
		return nil, err
	}
	if cfg.aggregateTimeout, err = envSeconds(EnvAggregateTimeoutSec, cfg.aggregateTimeout); err != nil {
		return nil, err
	}
	if cfg.indexTimeout, err = envSeconds(EnvIndexTimeoutSec, cfg.indexTimeout); err != nil {
		return nil, err
	}

	if cfg.rateLimitRPS, err = envFloat(EnvRateLimitRPS, cfg.rateLimitRPS); err != nil {
		return nil, err
	}
	if cfg.rateLimitBurst, err = envInt(EnvRateLimitBurst, cfg.rateLimitBurst); err != nil {
		return nil, err
	}
	if mb := os.Getenv(EnvMaxUploadBytes); mb != "" {
		v, err := strconv.ParseInt(mb, 10, 64)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("invalid %s: %q", EnvMaxUploadBytes, mb)
		}
		cfg.maxUploadBytes = v
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int { return c.port }

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string { return c.logLevel }

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string { return c.dataDir }

// DBPath returns the full path to the SQLite state database file
func (c *EnvConfig) DBPath() string {
	if c.dbPath != "" {
		return c.dbPath
	}
	return filepath.Join(c.dataDir, DBFilename)
}

// BrokerURL returns the out-of-process broker URL; empty selects the
// in-process channel broker.
func (c *EnvConfig) BrokerURL() string { return c.brokerURL }

func (c *EnvConfig) Workers() int   { return c.workers }
func (c *EnvConfig) QueueSize() int { return c.queueSize }

func (c *EnvConfig) DefaultIntervalSec() int             { return c.defaultIntervalSec }
func (c *EnvConfig) SmartSampling() bool                 { return c.smartSampling }
func (c *EnvConfig) SmartSamplingDiffThreshold() float64 { return c.smartSamplingDiff }
func (c *EnvConfig) SmartSamplingMinKeep() int           { return c.smartSamplingMinKeep }

func (c *EnvConfig) MinConfidence() float64 { return c.minConfidence }
func (c *EnvConfig) MinConsecutive() int    { return c.minConsecutive }
func (c *EnvConfig) AnnotateFrames() bool   { return c.annotateFrames }

func (c *EnvConfig) OpenVocabEnabled() bool       { return c.openVocabEnabled }
func (c *EnvConfig) OpenVocabThreshold() float64  { return c.openVocabThreshold }
func (c *EnvConfig) OpenVocabEveryN() int         { return c.openVocabEveryN }
func (c *EnvConfig) OpenVocabMinConsecutive() int { return c.openVocabMinConsecutive }
func (c *EnvConfig) OpenVocabLabels() []string    { return c.openVocabLabels }

func (c *EnvConfig) DiscoveryEnabled() bool       { return c.discoveryEnabled }
func (c *EnvConfig) DiscoveryEveryN() int         { return c.discoveryEveryN }
func (c *EnvConfig) DiscoveryMinScore() float64   { return c.discoveryMinScore }
func (c *EnvConfig) DiscoveryMinConsecutive() int { return c.discoveryMinConsecutive }
func (c *EnvConfig) DiscoveryMaxPhrases() int     { return c.discoveryMaxPhrases }
func (c *EnvConfig) DiscoveryOnlyMilitary() bool  { return c.discoveryOnlyMilitary }

func (c *EnvConfig) VerifyEnabled() bool      { return c.verifyEnabled }
func (c *EnvConfig) VerifyThreshold() float64 { return c.verifyThreshold }
func (c *EnvConfig) VerifyEveryN() int        { return c.verifyEveryN }
func (c *EnvConfig) VerifyMaxLabels() int     { return c.verifyMaxLabels }

func (c *EnvConfig) OcrEnabled() bool          { return c.ocrEnabled }
func (c *EnvConfig) OcrEveryN() int            { return c.ocrEveryN }
func (c *EnvConfig) OcrMinConfidence() float64 { return c.ocrMinConfidence }

func (c *EnvConfig) ConfidenceMinScore() float64 { return c.confidenceMinScore }
func (c *EnvConfig) StaleAfter() time.Duration   { return c.staleAfter }

func (c *EnvConfig) SidecarPython() string { return c.sidecarPython }
func (c *EnvConfig) SidecarModule() string { return c.sidecarModule }
func (c *EnvConfig) FFmpegPath() string    { return c.ffmpegPath }
func (c *EnvConfig) FFprobePath() string   { return c.ffprobePath }

func (c *EnvConfig) DoctorTimeout() time.Duration {
	return DefaultDoctorTimeoutSec * time.Second
}

// Per-stage soft budgets. Zero disables the budget for that stage.
func (c *EnvConfig) ExtractTimeout() time.Duration    { return c.extractTimeout }
func (c *EnvConfig) TranscribeTimeout() time.Duration { return c.transcribeTimeout }
func (c *EnvConfig) DetectTimeout() time.Duration     { return c.detectTimeout }
func (c *EnvConfig) AggregateTimeout() time.Duration  { return c.aggregateTimeout }
func (c *EnvConfig) IndexTimeout() time.Duration      { return c.indexTimeout }

func (c *EnvConfig) RateLimitRPS() float64 { return c.rateLimitRPS }
func (c *EnvConfig) RateLimitBurst() int   { return c.rateLimitBurst }
func (c *EnvConfig) MaxUploadBytes() int64 { return c.maxUploadBytes }

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return time.Duration(n) * time.Second, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
