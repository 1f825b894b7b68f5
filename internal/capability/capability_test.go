package capability

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLimitedWriter_KeepsTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("0123456789"))
	lw.Write([]byte("abcdef"))

	if got := buf.String(); got != "6789abcdef" {
		t.Errorf("tail = %q, want last 10 bytes", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	long := strings.Repeat("x", 20) + "TAIL"
	got := truncate(long, 8)
	if !strings.HasPrefix(got, "...") || !strings.HasSuffix(got, "TAIL") {
		t.Errorf("truncate(long) = %q", got)
	}
}

func TestFormatFloat(t *testing.T) {
	if got := formatFloat(0.27); got != "0.27" {
		t.Errorf("formatFloat(0.27) = %q", got)
	}
	if got := formatFloat(1); got != "1" {
		t.Errorf("formatFloat(1) = %q", got)
	}
}

func TestNewSet_NilCapabilitiesForMissingDeps(t *testing.T) {
	runner := &SidecarRunner{}
	caps := &Capabilities{HasObjects: true, HasSpeech: true}

	set := NewSet(runner, caps)
	if set.Objects == nil {
		t.Error("Objects should be wired")
	}
	if set.Transcriber == nil {
		t.Error("Transcriber should be wired")
	}
	if set.Captions != nil || set.OpenVocab != nil || set.Verifier != nil || set.OCR != nil || set.Embedder != nil {
		t.Error("unavailable capabilities should stay nil")
	}
}

func TestNewSet_VerifierRidesOnOpenVocab(t *testing.T) {
	set := NewSet(&SidecarRunner{}, &Capabilities{HasOpenVocab: true})
	if set.OpenVocab == nil || set.Verifier == nil {
		t.Error("open vocab availability should wire both scorer and verifier")
	}
}

type fakeDoctor struct {
	caps  *Capabilities
	err   error
	calls int
}

func (f *fakeDoctor) RunDoctor(ctx context.Context) (*Capabilities, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c := *f.caps
	c.ProbedAt = time.Now()
	return &c, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedDoctor_CachesWithinTTL(t *testing.T) {
	fake := &fakeDoctor{caps: &Capabilities{HasObjects: true}}
	doctor := NewCachedDoctor(fake, testLogger())
	ctx := context.Background()

	if _, err := doctor.Get(ctx); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := doctor.Get(ctx); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if fake.calls != 1 {
		t.Errorf("probe calls = %d, want 1 (cached)", fake.calls)
	}
}

func TestCachedDoctor_StaleFallbackOnProbeFailure(t *testing.T) {
	fake := &fakeDoctor{caps: &Capabilities{HasObjects: true}}
	doctor := NewCachedDoctor(fake, testLogger())
	ctx := context.Background()

	first, err := doctor.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	fake.err = errors.New("sidecar missing")
	got, err := doctor.Refresh(ctx)
	if err != nil {
		t.Fatalf("Refresh() with stale cache error = %v", err)
	}
	if got != first {
		t.Error("Refresh() should return the stale capabilities")
	}

	doctor.Invalidate()
	if _, err := doctor.Refresh(ctx); err == nil {
		t.Error("Refresh() with no cache should surface the probe error")
	}
}
