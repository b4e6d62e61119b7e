package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matryer/is"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/chriscow/rtvad/internal/observe"
	"github.com/chriscow/rtvad/pkg/audio/wav"
	"github.com/chriscow/rtvad/pkg/plugin"
	"github.com/chriscow/rtvad/pkg/vad"
	vadfake "github.com/chriscow/rtvad/pkg/vad/fake"
)

// segmentScript starts speech at frame 3 and ends it at frame 6 under
// testThresholds, with frame 2 as pre-roll.
var segmentScript = []float64{0.1, 0.1, 0.9, 0.9, 0.9, 0.1, 0.1}

func testThresholds() vad.Thresholds {
	return vad.Thresholds{
		VADStartProb:    0.5,
		VADEndProb:      0.5,
		StartTrueRatio:  1,
		EndFalseRatio:   1,
		StartFrameCount: 2,
		EndFrameCount:   2,
	}
}

type testServer struct {
	srv  *Server
	http *httptest.Server
	url  string
}

// newTestServer serves a "scripted" source replaying script, failing at the
// given calls.
func newTestServer(t *testing.T, script []float64, failAt ...int) *testServer {
	t.Helper()

	reg := plugin.NewRegistry()
	reg.Register("scripted", func(map[string]any) (vad.ProbabilitySource, error) {
		return vadfake.NewScripted(script, 0.1).FailAt(failAt...), nil
	})

	metrics, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	cfg := vad.DefaultConfig()
	cfg.Thresholds = testThresholds()
	srv, err := NewServer(Options{
		Engine:       cfg,
		Source:       "scripted",
		WriteTimeout: time.Second,
		PingInterval: time.Second,
	}, WithRegistry(reg), WithMetrics(metrics), WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return &testServer{srv: srv, http: hs, url: "ws" + strings.TrimPrefix(hs.URL, "http") + Path}
}

func (ts *testServer) dial(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, ts.url, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	expect(t, c, TypeReady)
	return c
}

func expect(t *testing.T, c *Client, want string) *Message {
	t.Helper()
	msg, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (want %s): %v", want, err)
	}
	if msg.Type != want {
		t.Fatalf("message type = %q (%v), want %q", msg.Type, msg.Data, want)
	}
	return msg
}

func TestServer_SegmentOverWebsocket(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, segmentScript)
	c := ts.dial(t)

	frameSize := vad.DefaultConfig().FrameSize()
	is.NoErr(c.SendAudio(make([]float32, len(segmentScript)*frameSize)))

	start := expect(t, c, TypeVoiceStart)
	frame, ok := start.Int("frame")
	is.True(ok)
	is.Equal(frame, int64(3)) // third frame confirms

	for _, want := range []int64{4, 5} {
		cont := expect(t, c, TypeVoiceContinue)
		got, _ := cont.Int("frame")
		is.Equal(got, want)
		pcm, err := cont.Bytes("pcm")
		is.NoErr(err)
		is.Equal(len(pcm), frameSize*4) // one float32 frame
	}

	end := expect(t, c, TypeVoiceEnd)
	frames, _ := end.Int("frames")
	is.Equal(frames, int64(5)) // pre-roll, start, two continues, end frame
	preroll, _ := end.Int("preroll_frames")
	is.Equal(preroll, int64(1))

	data, err := end.Bytes("wav")
	is.NoErr(err)
	hdr, samples, err := wav.Decode(data)
	is.NoErr(err)
	is.Equal(int(hdr.SampleRate), 16000)
	is.Equal(len(samples), 5*frameSize)
}

func TestServer_PingPong(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	is.NoErr(c.Ping(map[string]any{"id": "test-ping"}))
	pong := expect(t, c, TypePong)
	is.Equal(pong.Text("id"), "test-ping") // pong echoes ping data
}

func TestServer_Configure(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	is.NoErr(c.Configure(ConfigureRequest{SampleRate: 8000, Model: "v4"}))
	msg := expect(t, c, TypeConfigured)
	rate, _ := msg.Int("sample_rate")
	is.Equal(rate, int64(8000))
	size, _ := msg.Int("frame_size")
	is.Equal(size, int64(512)) // 64 ms at 8 kHz
	is.Equal(msg.Text("model"), "v4")
}

func TestServer_ConfigureConflict(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	is.NoErr(c.SendAudio(make([]float32, 100))) // partial frame stays buffered
	is.NoErr(c.Configure(ConfigureRequest{SampleRate: 8000}))

	msg := expect(t, c, TypeError)
	is.Equal(msg.Text("kind"), "configuration_conflict")
	is.Equal(msg.Data["recoverable"], false)
}

func TestServer_ConfigureInvalid(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	is.NoErr(c.Configure(ConfigureRequest{SampleRate: 11025}))
	msg := expect(t, c, TypeError)
	is.Equal(msg.Text("kind"), "invalid_config")

	is.NoErr(c.Ping(nil))
	expect(t, c, TypePong)
}

func TestServer_InferenceErrorIsRecoverable(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, nil, 1)
	c := ts.dial(t)

	is.NoErr(c.SendAudio(make([]float32, 3*vad.DefaultConfig().FrameSize())))

	msg := expect(t, c, TypeError)
	is.Equal(msg.Text("kind"), "inference")
	is.Equal(msg.Data["recoverable"], true)
	frame, ok := msg.Int("frame")
	is.True(ok)
	is.Equal(frame, int64(1))

	// The stream is still alive.
	is.NoErr(c.Ping(nil))
	expect(t, c, TypePong)
}

func TestServer_BadAudio(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	is.NoErr(c.conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})) // not a multiple of 4
	msg := expect(t, c, TypeError)
	is.Equal(msg.Text("kind"), "bad_message")
	is.True(strings.Contains(msg.Text("message"), "multiple of 4"))

	// One error per bad message: the next reply is the pong.
	is.NoErr(c.Ping(nil))
	expect(t, c, TypePong)
}

func TestServer_UnknownMessage(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, nil)
	c := ts.dial(t)

	is.NoErr(c.Send(Message{Type: "dance"}))
	msg := expect(t, c, TypeError)
	is.Equal(msg.Text("kind"), "bad_message")
	is.True(strings.Contains(msg.Text("message"), "dance"))

	is.NoErr(c.Ping(nil))
	expect(t, c, TypePong)
}

func TestServer_Release(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, segmentScript)
	c := ts.dial(t)

	// Speech is active when released, so no end event may follow.
	is.NoErr(c.SendAudio(make([]float32, 4*vad.DefaultConfig().FrameSize())))
	expect(t, c, TypeVoiceStart)

	is.NoErr(c.Release())
	expect(t, c, TypeReleased)

	_, err := c.ReadMessage()
	is.True(err != nil) // server closes the stream after release
}

func TestServer_UnknownSource(t *testing.T) {
	is := is.New(t)

	srv, err := NewServer(Options{Engine: vad.DefaultConfig(), Source: "missing"},
		WithRegistry(plugin.NewRegistry()),
		WithLogger(slog.New(slog.DiscardHandler)))
	is.NoErr(err)

	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	c, err := Dial(context.Background(), hs.URL, nil)
	is.NoErr(err)
	defer c.Close()

	msg, err := c.ReadMessage()
	is.NoErr(err)
	is.Equal(msg.Type, TypeError)
	is.Equal(msg.Text("kind"), "invalid_config")
}

func TestServer_ClosesSourceWhenEngineFails(t *testing.T) {
	is := is.New(t)

	src := vadfake.NewScripted(nil, 0)
	src.LoadErr = errors.New("model missing")
	reg := plugin.NewRegistry()
	reg.Register("unloadable", func(map[string]any) (vad.ProbabilitySource, error) {
		return src, nil
	})

	srv, err := NewServer(Options{Engine: vad.DefaultConfig(), Source: "unloadable"},
		WithRegistry(reg),
		WithLogger(slog.New(slog.DiscardHandler)))
	is.NoErr(err)

	_, err = srv.newEngine(slog.New(slog.DiscardHandler))
	is.True(errors.Is(err, vad.ErrResourceUnavailable))
	is.True(src.Closed())
}

func TestServer_Shutdown(t *testing.T) {
	is := is.New(t)
	ts := newTestServer(t, nil)
	c := ts.dial(t)
	is.Equal(ts.srv.Active(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	is.NoErr(ts.srv.Shutdown(ctx))
	is.Equal(ts.srv.Active(), 0)

	_, err := c.ReadMessage()
	is.True(err != nil) // connection was closed by the server
}

func TestNewServer_InvalidConfig(t *testing.T) {
	is := is.New(t)

	cfg := vad.DefaultConfig()
	cfg.SampleRate = 11025
	_, err := NewServer(Options{Engine: cfg, Source: "scripted"})
	is.True(errors.Is(err, vad.ErrInvalidConfig))

	_, err = NewServer(Options{Engine: vad.DefaultConfig()})
	is.True(errors.Is(err, vad.ErrInvalidConfig))
}

func TestConfigureRequest_Merge(t *testing.T) {
	off := false
	path := "/models/v4.onnx"
	th := testThresholds()

	tests := []struct {
		name    string
		req     ConfigureRequest
		check   func(vad.Config) bool
		wantErr bool
	}{
		{"empty keeps base", ConfigureRequest{}, func(c vad.Config) bool { return c == vad.DefaultConfig() }, false},
		{"sample rate", ConfigureRequest{SampleRate: 48000}, func(c vad.Config) bool { return c.SampleRate == vad.SampleRate48k }, false},
		{"model and path", ConfigureRequest{Model: "v4", ModelPath: &path}, func(c vad.Config) bool {
			return c.ModelVersion == vad.ModelV4 && c.ModelPath == path
		}, false},
		{"thresholds", ConfigureRequest{Thresholds: &th}, func(c vad.Config) bool { return c.Thresholds == th }, false},
		{"continue events off", ConfigureRequest{ContinueEvents: &off}, func(c vad.Config) bool { return !c.ContinueEvents }, false},
		{"encoding", ConfigureRequest{Encoding: "float32"}, func(c vad.Config) bool { return c.Encoding == wav.Float32 }, false},
		{"bad rate", ConfigureRequest{SampleRate: 44100}, nil, true},
		{"bad model", ConfigureRequest{Model: "v9"}, nil, true},
		{"bad encoding", ConfigureRequest{Encoding: "mp3"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			got, err := tt.req.merge(vad.DefaultConfig())
			if tt.wantErr {
				is.True(err != nil)
				is.Equal(got, vad.DefaultConfig()) // base returned on error
				return
			}
			is.NoErr(err)
			is.True(tt.check(got))
		})
	}
}

func TestErrorMessages_SplitsJoined(t *testing.T) {
	is := is.New(t)

	e1 := &vad.Error{Op: "push", Kind: vad.ErrInference, Frame: 4, Err: errors.New("boom")}
	e2 := &vad.Error{Op: "push", Kind: vad.ErrInvalidProbability, Frame: 7}
	msgs := errorMessages(errors.Join(e1, e2))

	is.Equal(len(msgs), 2)
	is.Equal(msgs[0].Data["kind"], "inference")
	is.Equal(msgs[0].Data["frame"], int64(4))
	is.Equal(msgs[1].Data["kind"], "invalid_probability")
	is.Equal(msgs[1].Data["recoverable"], true)

	single := errorMessages(e1)
	is.Equal(len(single), 1) // a *vad.Error is not split into kind and cause
}

func TestErrorMessages_WrappedErrorIsOneMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"bad message", badMessage(errors.New("float32 PCM length 3 is not a multiple of 4")), "bad_message"},
		{"invalid configure", &vad.Error{Op: "configure", Kind: vad.ErrInvalidConfig, Frame: -1, Err: errors.New("bad rate")}, "invalid_config"},
		{"two causes", fmt.Errorf("%w: %w", errBadMessage, errors.New("cause")), "bad_message"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)
			msgs := errorMessages(tt.err)
			is.Equal(len(msgs), 1)
			is.Equal(msgs[0].Data["kind"], tt.kind)
			is.Equal(msgs[0].Data["recoverable"], false)
			_, hasFrame := msgs[0].Data["frame"]
			is.True(!hasFrame)
		})
	}
}

func TestErrorMessages_NestedFrameErrors(t *testing.T) {
	is := is.New(t)

	// Push joins per-frame results, which may themselves be joins.
	e1 := &vad.Error{Op: "push", Kind: vad.ErrInvalidProbability, Frame: 2}
	e2 := &vad.Error{Op: "push", Kind: vad.ErrInference, Frame: 5, Err: errors.New("boom")}
	e3 := &vad.Error{Op: "push", Kind: vad.ErrInference, Frame: 6, Err: errors.New("boom")}
	msgs := errorMessages(errors.Join(errors.Join(e1, e2), e3))

	is.Equal(len(msgs), 3)
	for i, want := range []int64{2, 5, 6} {
		is.Equal(msgs[i].Data["frame"], want)
	}
}
