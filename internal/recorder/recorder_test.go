package recorder

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GriffinCanCode/meetscribe/internal/audio"
	"github.com/GriffinCanCode/meetscribe/internal/audio/audiotest"
	apperrors "github.com/GriffinCanCode/meetscribe/internal/errors"
	"github.com/GriffinCanCode/meetscribe/internal/pause"
)

const (
	micIdx = 0
	sysIdx = 1
)

var testCfg = Config{Window: 60 * time.Millisecond, DrainTimeout: 200 * time.Millisecond, PopTimeout: 10 * time.Millisecond}

type rig struct {
	host *audiotest.Host
	mic  *audio.CaptureSource
	sys  *audio.CaptureSource
	rec  *Recorder
}

func newRig(t *testing.T, opts ...audio.SourceOption) *rig {
	t.Helper()
	micDev := audiotest.Input(micIdx, "Built-in Microphone")
	sysDev := audiotest.Input(sysIdx, "BlackHole 2ch")
	host := audiotest.NewHost(micDev, sysDev)
	host.SetSignal(micIdx, audiotest.Tone(1000))
	host.SetSignal(sysIdx, audiotest.Tone(2000))

	r := &rig{
		host: host,
		mic:  audio.NewCaptureSource(audio.Mic, host, opts...),
		sys:  audio.NewCaptureSource(audio.System, host, opts...),
	}
	r.rec = New(testCfg, Input{Source: r.mic, Device: micDev}, Input{Source: r.sys, Device: sysDev})
	t.Cleanup(r.rec.Abort)
	return r
}

func (r *rig) start(t *testing.T) {
	t.Helper()
	if err := r.rec.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func TestWindowCycle(t *testing.T) {
	r := newRig(t)
	r.start(t)

	for i := 0; i < 2; i++ {
		seg, err := r.rec.Next(nil)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if seg.Index != i || seg.Final {
			t.Errorf("segment %d: index=%d final=%v", i, seg.Index, seg.Final)
		}
		if len(seg.Buffers[audio.Mic]) == 0 || len(seg.Buffers[audio.System]) == 0 {
			t.Errorf("segment %d: mic=%d system=%d samples", i, len(seg.Buffers[audio.Mic]), len(seg.Buffers[audio.System]))
		}
		if audio.Peak(seg.Buffers[audio.Mic]) != 1000 || audio.Peak(seg.Buffers[audio.System]) != 2000 {
			t.Error("buffers mixed up between sources")
		}
		if len(seg.Degraded) != 0 {
			t.Errorf("unexpected degraded: %+v", seg.Degraded)
		}
		if elapsed := seg.End.Sub(seg.Start); elapsed < testCfg.Window {
			t.Errorf("window closed after %v, want >= %v", elapsed, testCfg.Window)
		}
	}

	if got := r.host.Opens(micIdx); got != 3 {
		t.Errorf("mic opened %d times, want 3 (start + 2 restarts)", got)
	}
	if r.rec.State() != Recording {
		t.Errorf("state = %v, want recording", r.rec.State())
	}
}

func TestStopMidWindowKeepsAudio(t *testing.T) {
	r := newRig(t)
	r.start(t)

	stop := make(chan struct{})
	time.AfterFunc(25*time.Millisecond, func() { close(stop) })

	seg, err := r.rec.Next(stop)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if !seg.Final {
		t.Error("segment after stop should be final")
	}
	if len(seg.Buffers[audio.Mic]) == 0 {
		t.Error("audio captured before stop was lost")
	}
	if r.rec.State() != Stopped {
		t.Errorf("state = %v, want stopped", r.rec.State())
	}
	if r.host.Opens(micIdx) != 1 {
		t.Error("sources must not restart after a stop request")
	}
	if _, err := r.rec.Next(nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Next() after final = %v, want ErrStopped", err)
	}
}

func TestSourceFailureMidWindow(t *testing.T) {
	r := newRig(t)
	r.start(t)

	time.Sleep(20 * time.Millisecond)
	r.host.Stream(sysIdx).Crash(errors.New("loopback device removed"))

	seg, err := r.rec.Next(nil)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, ok := seg.Buffers[audio.System]; ok {
		t.Error("failed source's partial buffer must be excluded")
	}
	if len(seg.Buffers[audio.Mic]) == 0 {
		t.Error("surviving source was not flushed")
	}
	if len(seg.Degraded) != 1 || seg.Degraded[0].Source != audio.System {
		t.Fatalf("Degraded = %+v, want system once", seg.Degraded)
	}
	if !apperrors.IsCode(seg.Degraded[0].Err, apperrors.CodeCapture) {
		t.Errorf("degraded error = %v", seg.Degraded[0].Err)
	}

	seg, err = r.rec.Next(nil)
	if err != nil {
		t.Fatalf("second Next() error = %v", err)
	}
	if len(seg.Degraded) != 0 {
		t.Errorf("failure reported again: %+v", seg.Degraded)
	}
	if r.host.Opens(sysIdx) != 1 {
		t.Error("failed source must not be restarted")
	}
}

func TestAllSourcesFailed(t *testing.T) {
	r := newRig(t)
	r.start(t)

	r.host.Stream(micIdx).Crash(errors.New("mic unplugged"))
	r.host.Stream(sysIdx).Crash(errors.New("loopback gone"))

	seg, err := r.rec.Next(nil)
	if !IsAllSourcesFailed(err) {
		t.Fatalf("Next() error = %v, want ErrAllSourcesFailed", err)
	}
	if !apperrors.IsCode(err, apperrors.CodePipelineLifecycle) || !apperrors.IsCode(err, apperrors.CodeCapture) {
		t.Errorf("error codes wrong: %v", err)
	}
	if !seg.Final || len(seg.Degraded) != 2 {
		t.Errorf("segment = %+v", seg)
	}
	if r.rec.State() != Stopped {
		t.Errorf("state = %v, want stopped", r.rec.State())
	}
	if r.rec.Err() == nil {
		t.Error("Err() should report lost sources")
	}
}

func TestStallEndsSession(t *testing.T) {
	dev := audiotest.Input(micIdx, "Mic")
	host := audiotest.NewHost(dev) // no signal: the driver never calls back
	src := audio.NewCaptureSource(audio.Mic, host, audio.WithStallTimeout(20*time.Millisecond))
	rec := New(Config{Window: time.Second, DrainTimeout: 100 * time.Millisecond, PopTimeout: 5 * time.Millisecond}, Input{Source: src, Device: dev})
	t.Cleanup(rec.Abort)

	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	begin := time.Now()
	_, err := rec.Next(nil)
	if !IsAllSourcesFailed(err) {
		t.Fatalf("Next() error = %v, want ErrAllSourcesFailed", err)
	}
	if time.Since(begin) > 500*time.Millisecond {
		t.Error("stall not detected before the window elapsed")
	}
	if !errors.Is(src.Err(), audio.ErrStalled) {
		t.Errorf("source error = %v", src.Err())
	}
}

func TestOpenFailureReportedInFirstSegment(t *testing.T) {
	r := newRig(t)
	r.host.FailOpen(sysIdx, errors.New("exclusive mode"))
	r.start(t)

	seg, err := r.rec.Next(nil)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if len(seg.Degraded) != 1 || seg.Degraded[0].Source != audio.System {
		t.Errorf("Degraded = %+v", seg.Degraded)
	}
	if len(seg.Buffers[audio.Mic]) == 0 {
		t.Error("mic should still record")
	}
}

func TestStartFailures(t *testing.T) {
	r := newRig(t)
	r.host.FailOpen(micIdx, errors.New("busy"))
	r.host.FailOpen(sysIdx, errors.New("busy"))

	if err := r.rec.Start(context.Background()); !IsAllSourcesFailed(err) {
		t.Errorf("Start() = %v, want ErrAllSourcesFailed", err)
	}
	if err := r.rec.Start(context.Background()); !apperrors.IsCode(err, apperrors.CodePipelineLifecycle) {
		t.Errorf("second Start() = %v, want PIPELINE_LIFECYCLE", err)
	}

	empty := New(testCfg)
	if err := empty.Start(context.Background()); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("Start() without inputs = %v", err)
	}
}

func TestPausedFramesNeverReachSegment(t *testing.T) {
	gate := pause.New()
	dev := audiotest.Input(micIdx, "Mic")
	host := audiotest.NewHost(dev)
	src := audio.NewCaptureSource(audio.Mic, host, audio.WithGate(gate))
	rec := New(testCfg, Input{Source: src, Device: dev})
	t.Cleanup(rec.Abort)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	stream := host.Stream(micIdx)
	stream.Emit([]int16{100, 100})
	gate.Pause()
	stream.Emit([]int16{7777, 7777})
	gate.Pause()
	gate.Resume()
	stream.Emit([]int16{200})

	stop := make(chan struct{})
	close(stop)
	seg, err := rec.Next(stop)
	if err != nil {
		t.Fatal(err)
	}
	if got := seg.Buffers[audio.Mic]; !slices.Equal(got, []int16{100, 100, 200}) {
		t.Errorf("mic buffer = %v, want paused samples dropped", got)
	}
	if src.Stats().Discarded != 1 {
		t.Errorf("Discarded = %d, want 1", src.Stats().Discarded)
	}
}

func TestRestartGapMeasured(t *testing.T) {
	r := newRig(t)
	r.start(t)

	first, err := r.rec.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.RestartGap != 0 {
		t.Errorf("first segment gap = %v, want 0", first.RestartGap)
	}
	second, err := r.rec.Next(nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.RestartGap <= 0 || second.RestartGap > testCfg.Window {
		t.Errorf("restart gap = %v", second.RestartGap)
	}
}

// seqFrame encodes n as a two-sample frame so long runs do not overflow int16.
func seqFrame(n int) []int16 { return []int16{int16(n >> 15), int16(n & 0x7fff)} }

func TestSegmentFramesStayInOrder(t *testing.T) {
	dev := audiotest.Input(micIdx, "Mic")
	host := audiotest.NewHost(dev)
	src := audio.NewCaptureSource(audio.Mic, host, audio.WithQueueFrames(64))
	rec := New(Config{Window: 15 * time.Millisecond, DrainTimeout: 200 * time.Millisecond, PopTimeout: 5 * time.Millisecond}, Input{Source: src, Device: dev})
	t.Cleanup(rec.Abort)
	if err := rec.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var stopEmit atomic.Bool
	emitted := make(chan struct{})
	go func() {
		defer close(emitted)
		for n := 1; !stopEmit.Load(); n++ {
			host.Stream(micIdx).Emit(seqFrame(n))
		}
	}()

	last := 0
	for i := 0; i < 20; i++ {
		seg, err := rec.Next(nil)
		if err != nil {
			t.Fatalf("segment %d: %v", i, err)
		}
		buf := seg.Buffers[audio.Mic]
		if len(buf)%2 != 0 {
			t.Fatalf("segment %d: split frame, %d samples", i, len(buf))
		}
		for j := 0; j < len(buf); j += 2 {
			n := int(buf[j])<<15 | int(buf[j+1])
			if n <= last {
				t.Fatalf("segment %d: frame %d after %d at sample %d of %d", i, n, last, j, len(buf))
			}
			last = n
		}
	}
	stopEmit.Store(true)
	<-emitted
}

func TestAbortDuringFlushDoesNotReopen(t *testing.T) {
	r := newRig(t)
	r.start(t)
	r.host.Stream(micIdx).HangOnStop(80 * time.Millisecond)

	// lands while the mic stop is still hanging
	time.AfterFunc(testCfg.Window+30*time.Millisecond, r.rec.Abort)

	seg, err := r.rec.Next(nil)
	if err != nil && !errors.Is(err, ErrStopped) {
		t.Fatalf("Next() error = %v", err)
	}
	if err == nil && !seg.Final {
		t.Error("segment flushed across an abort must be final")
	}
	if r.rec.State() != Stopped {
		t.Errorf("state = %v, want stopped", r.rec.State())
	}
	if _, err := r.rec.Next(nil); !errors.Is(err, ErrStopped) {
		t.Errorf("Next() after abort = %v, want ErrStopped", err)
	}
	for _, idx := range []int{micIdx, sysIdx} {
		if got := r.host.Opens(idx); got != 1 {
			t.Errorf("device %d opened %d times after abort, want 1", idx, got)
		}
	}
}
