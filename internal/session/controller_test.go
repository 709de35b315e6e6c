package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/manash/seedgraph/internal/graph"
	"github.com/manash/seedgraph/internal/logging"
	"github.com/manash/seedgraph/internal/stream"
	"github.com/manash/seedgraph/pkg/models"
)

// fakeBackend serves a canned event stream.
type fakeBackend struct {
	body      string
	submitErr error
	readErr   error
	cancelErr error

	mu         sync.Mutex
	submitted  []*models.Request
	cancels    int
	cancelOnce sync.Once
	// onCancel is closed by Cancel; blockUntilCancel makes the stream wait
	// for it before delivering body.
	onCancel         chan struct{}
	blockUntilCancel bool
}

func (f *fakeBackend) Submit(ctx context.Context, req *models.Request) (io.ReadCloser, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	gate := f.onCancel
	f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	var r io.Reader = strings.NewReader(f.body)
	if f.readErr != nil {
		r = io.MultiReader(r, errReader{f.readErr})
	}
	if f.blockUntilCancel {
		r = &gatedReader{gate: gate, r: r}
	}
	return io.NopCloser(r), nil
}

func (f *fakeBackend) Cancel(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	if f.onCancel != nil {
		f.cancelOnce.Do(func() { close(f.onCancel) })
	}
	return f.cancelErr
}

func (f *fakeBackend) History(ctx context.Context) ([]models.GenerationRecord, error) {
	return nil, nil
}

func (f *fakeBackend) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return nil, nil
}

func (f *fakeBackend) ResolveURL(ref string) (string, error) {
	return "http://localhost:9090/" + ref, nil
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

type gatedReader struct {
	gate <-chan struct{}
	r    io.Reader
	open bool
}

func (g *gatedReader) Read(p []byte) (int, error) {
	if !g.open {
		<-g.gate
		g.open = true
	}
	return g.r.Read(p)
}

// recordingObserver keeps every callback.
type recordingObserver struct {
	states   []State
	progress []Progress
	produced []string
	status   []string
}

func (o *recordingObserver) StateChanged(_ string, s State) { o.states = append(o.states, s) }
func (o *recordingObserver) Progressed(p Progress)          { o.progress = append(o.progress, p) }
func (o *recordingObserver) Produced(rec models.GenerationRecord, _ []graph.Edge) {
	o.produced = append(o.produced, rec.URL)
}
func (o *recordingObserver) Status(msg string) { o.status = append(o.status, msg) }

const (
	stepLine     = `{"event":"step","step":1,"url":"outputs/intermediates/000001.png"}` + "\n"
	step2Line    = `{"event":"step","step":2}` + "\n"
	resultA      = `{"event":"result","url":"outputs/a.png","seed":42,"config":{"prompt":"fox","seed":42,"steps":50,"sampler_name":"k_lms","cfg_scale":7.5}}` + "\n"
	resultB      = `{"event":"result","url":"outputs/b.png","seed":99,"config":{"prompt":"fox","seed":42,"steps":50,"with_variations":"42:0.3"}}` + "\n"
	canceledLine = `{"event":"canceled"}` + "\n"
)

func TestController_CompletedWithResults(t *testing.T) {
	backend := &fakeBackend{body: stepLine + resultA + step2Line + resultB}
	obs := &recordingObserver{}
	c := NewController(backend, graph.New(), WithObserver(obs))

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Nil(t, res.Alert)
	require.Len(t, res.Outputs, 2)
	assert.Equal(t, "outputs/a.png", res.Outputs[0].URL)
	assert.Equal(t, int64(42), res.Outputs[1].BaseSeed)
	assert.Equal(t, []graph.Edge{{Source: "outputs/a.png", Target: "outputs/b.png", Weight: 0.3}}, res.Edges)
	assert.Equal(t, 2, c.Graph().Len())
	assert.NotEmpty(t, res.SessionID)

	assert.Equal(t, []State{StateSubmitted, StateStreaming, StateCompleted}, obs.states)
	assert.Equal(t, []string{"outputs/a.png", "outputs/b.png"}, obs.produced)
	assert.Equal(t, StateCompleted, c.State())
}

func TestController_StepEventsNeverBecomeNodes(t *testing.T) {
	backend := &fakeBackend{body: stepLine + resultA}
	c := NewController(backend, graph.New())

	_, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	_, ok := c.Graph().Node("outputs/intermediates/000001.png")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Graph().Len())
}

func TestController_ProgressResetsOnResult(t *testing.T) {
	backend := &fakeBackend{body: stepLine + step2Line + resultA}
	obs := &recordingObserver{}
	c := NewController(backend, graph.New(), WithObserver(obs))

	_, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	require.Len(t, obs.progress, 4)
	assert.Equal(t, Progress{Total: 50}, obs.progress[0])
	assert.Equal(t, Progress{Step: 1, Total: 50, PreviewURL: "outputs/intermediates/000001.png"}, obs.progress[1])
	assert.Equal(t, 2, obs.progress[2].Step)
	assert.Equal(t, "outputs/intermediates/000001.png", obs.progress[2].PreviewURL)
	assert.Equal(t, Progress{Total: 50}, obs.progress[3])
}

func TestController_ZeroOutputStreamFails(t *testing.T) {
	backend := &fakeBackend{body: stepLine + step2Line}
	c := NewController(backend, graph.New())

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Alert, ErrNoOutput)
	assert.Empty(t, res.Outputs)
}

func TestController_CanceledStream(t *testing.T) {
	backend := &fakeBackend{body: stepLine + canceledLine}
	c := NewController(backend, graph.New())

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	assert.Equal(t, StateCanceled, res.State)
	assert.Nil(t, res.Alert)
}

func TestController_CanceledWinsOverOutputs(t *testing.T) {
	backend := &fakeBackend{body: resultA + canceledLine}
	c := NewController(backend, graph.New())

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	assert.Equal(t, StateCanceled, res.State)
	assert.Len(t, res.Outputs, 1)
}

func TestController_FramingErrorFails(t *testing.T) {
	backend := &fakeBackend{body: resultA + "{not json\n" + resultB}
	c := NewController(backend, graph.New())

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.Error(t, err)

	var fe *stream.FramingError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, 2, fe.Line)
	assert.Equal(t, StateFailed, res.State)
	assert.Len(t, res.Outputs, 1)
	assert.Equal(t, 1, c.Graph().Len())
}

func TestController_UnknownEventKindFails(t *testing.T) {
	backend := &fakeBackend{body: `{"event":"teleport"}` + "\n"}
	c := NewController(backend, graph.New())

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	assert.ErrorIs(t, err, stream.ErrUnknownKind)
	assert.Equal(t, StateFailed, res.State)
}

func TestController_TransportErrorReturnsToIdle(t *testing.T) {
	readErr := errors.New("connection reset by peer")
	backend := &fakeBackend{body: resultA, readErr: readErr}
	c := NewController(backend, graph.New())

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, readErr)
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, StateIdle, c.State())

	backend.readErr = nil
	res, err = c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err, "controller must accept a new request after a transport error")
	assert.Equal(t, StateCompleted, res.State)
}

func TestController_SubmitErrorReturnsToIdle(t *testing.T) {
	backend := &fakeBackend{submitErr: errors.New("dial tcp: connection refused")}
	c := NewController(backend, graph.New())

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, StateIdle, res.State)
	assert.Equal(t, 0, c.Graph().Len())
}

func TestController_InvalidRequestNotSubmitted(t *testing.T) {
	backend := &fakeBackend{body: resultA}
	c := NewController(backend, graph.New())

	_, err := c.Submit(context.Background(), models.NewRequest(""))
	assert.ErrorIs(t, err, models.ErrEmptyPrompt)
	assert.Empty(t, backend.submitted)
}

func TestController_TotalStepsWithSeedImage(t *testing.T) {
	tests := []struct {
		name     string
		initImg  bool
		strength float64
		steps    int
		want     int
	}{
		{"no seed image", false, 0.75, 50, 50},
		{"seed image", true, 0.75, 50, 37},
		{"seed image full strength", true, 1.0, 40, 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{body: resultA}
			c := NewController(backend, graph.New())

			req := models.NewRequest("fox")
			req.Steps = tt.steps
			req.Strength = tt.strength
			if tt.initImg {
				req.InitImage = "data:image/png;base64,iVBORw0KGgo="
				req.InitImageName = "fox.png"
			}

			res, err := c.Submit(context.Background(), req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.TotalSteps)
		})
	}
}

func TestController_CancelIsOutOfBand(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	backend := &fakeBackend{
		body:             stepLine + canceledLine,
		onCancel:         make(chan struct{}),
		blockUntilCancel: true,
	}
	c := NewController(backend, graph.New(), WithControllerLogger(logging.FromZap(zap.New(core))))

	done := make(chan *Result, 1)
	go func() {
		res, err := c.Submit(context.Background(), models.NewRequest("fox"))
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool { return c.State() == StateStreaming }, timeout, tick)
	c.Cancel(context.Background())
	res := <-done

	assert.Equal(t, StateCanceled, res.State)
	assert.True(t, res.CancelRequested)
	assert.Equal(t, 1, backend.cancels)
	assert.Equal(t, 1, logs.FilterMessage("server canceled generation").Len())
}

func TestController_CancelWithoutCanceledEventFails(t *testing.T) {
	backend := &fakeBackend{
		body:             stepLine,
		onCancel:         make(chan struct{}),
		blockUntilCancel: true,
	}
	c := NewController(backend, graph.New())

	done := make(chan *Result, 1)
	go func() {
		res, _ := c.Submit(context.Background(), models.NewRequest("fox"))
		done <- res
	}()

	require.Eventually(t, func() bool { return c.State() == StateStreaming }, timeout, tick)
	c.Cancel(context.Background())
	res := <-done

	assert.Equal(t, StateFailed, res.State)
	assert.ErrorIs(t, res.Alert, ErrNoOutput)
}

func TestController_CancelFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	backend := &fakeBackend{cancelErr: errors.New("unreachable")}
	c := NewController(backend, graph.New(), WithControllerLogger(logging.FromZap(zap.New(core))))

	c.Cancel(context.Background())
	assert.Equal(t, 1, logs.FilterMessage("cancel request failed").Len())
}

func TestController_RejectsConcurrentSubmit(t *testing.T) {
	backend := &fakeBackend{
		body:             resultA,
		onCancel:         make(chan struct{}),
		blockUntilCancel: true,
	}
	c := NewController(backend, graph.New())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Submit(context.Background(), models.NewRequest("fox"))
	}()

	require.Eventually(t, func() bool { return c.State() == StateStreaming }, timeout, tick)
	_, err := c.Submit(context.Background(), models.NewRequest("fox"))
	assert.ErrorIs(t, err, ErrSessionActive)

	c.Cancel(context.Background())
	<-done
}

func TestController_UpscalingIsStatusOnly(t *testing.T) {
	backend := &fakeBackend{body: resultA +
		`{"event":"upscaling-started","processed_file_cnt":1}` + "\n" +
		`{"event":"upscaling-done"}` + "\n"}
	obs := &recordingObserver{}
	c := NewController(backend, graph.New(), WithObserver(obs))

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, res.State)
	assert.Equal(t, []string{"upscaling 1 image(s)", "upscaling done"}, obs.status)
	assert.Equal(t, 1, c.Graph().Len())
}

func TestController_StoresRecordsAndSessions(t *testing.T) {
	store, cleanup := testStore(t)
	defer cleanup()

	backend := &fakeBackend{body: resultA + resultB}
	c := NewController(backend, graph.New(), WithStore(store))

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	records, err := store.ListRecords(context.Background())
	require.NoError(t, err)
	assert.Equal(t, res.Outputs, records)

	sessions, err := store.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, res.SessionID, sessions[0].ID)
	assert.Equal(t, StateCompleted, sessions[0].State)
	assert.Equal(t, 2, sessions[0].OutputCount)
}

func TestController_SharedGraphAcrossSessions(t *testing.T) {
	g := graph.New()
	g.Load([]models.GenerationRecord{record("outputs/a.png", 42, "")})

	backend := &fakeBackend{body: resultB}
	c := NewController(backend, g)

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)
	assert.Equal(t, []graph.Edge{{Source: "outputs/a.png", Target: "outputs/b.png", Weight: 0.3}}, res.Edges)
	assert.Equal(t, g.Edges(), res.Edges)
}

func TestController_FirstStepVariationLinksToBase(t *testing.T) {
	variation := `{"event":"result","url":"outputs/000002.99.png","seed":99,"config":{"prompt":"fox","seed":42,"steps":50,"sampler_name":"k_lms","cfg_scale":7.5,"with_variations":"","variation_amount":0.3}}` + "\n"
	backend := &fakeBackend{body: resultA + variation}
	c := NewController(backend, graph.New())

	res, err := c.Submit(context.Background(), models.NewRequest("fox"))
	require.NoError(t, err)

	require.Len(t, res.Outputs, 2)
	assert.Equal(t, int64(42), res.Outputs[1].BaseSeed)
	assert.Equal(t, "99:0.3", res.Outputs[1].DisplayChain())
	assert.Equal(t, []graph.Edge{{Source: "outputs/a.png", Target: "outputs/000002.99.png", Weight: 1.0}}, res.Edges)
}

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)
