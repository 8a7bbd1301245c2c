package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	cst "wuyrush.io/voicememo/constants"
	pe "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
)

type fakeInput struct {
	ch        chan []byte
	autoClose bool
	stopOnce  sync.Once
	closeOnce sync.Once
	stopped   chan struct{}
}

func newFakeInput(autoClose bool) *fakeInput {
	return &fakeInput{ch: make(chan []byte), autoClose: autoClose, stopped: make(chan struct{})}
}

func (in *fakeInput) Fragments() <-chan []byte { return in.ch }

func (in *fakeInput) Stop() {
	in.stopOnce.Do(func() { close(in.stopped) })
	if in.autoClose {
		in.finish()
	}
}

// feed blocks until the fragment has been received
func (in *fakeInput) feed(f []byte) { in.ch <- f }

func (in *fakeInput) finish() { in.closeOnce.Do(func() { close(in.ch) }) }

type fakeDevice struct {
	availErr error
	openErr  error
	gate     chan struct{} // Open blocks on it when set
	mu       sync.Mutex
	inputs   []*fakeInput
	noClose  bool
}

func (d *fakeDevice) Available() error { return d.availErr }

func (d *fakeDevice) Open(ctx context.Context) (Input, error) {
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.openErr != nil {
		return nil, d.openErr
	}
	in := newFakeInput(!d.noClose)
	d.mu.Lock()
	d.inputs = append(d.inputs, in)
	d.mu.Unlock()
	return in, nil
}

func (d *fakeDevice) last() *fakeInput {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inputs[len(d.inputs)-1]
}

type fakeView struct {
	mu         sync.Mutex
	indicators []Indicator
	preview    *md.Asset
	previews   int
	notices    []string
	confirm    bool
	asked      int
}

func (v *fakeView) SetIndicator(i Indicator) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.indicators = append(v.indicators, i)
}

func (v *fakeView) ShowPreview(a *md.Asset) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.preview = a
	v.previews++
}

func (v *fakeView) HidePreview() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.preview = nil
}

func (v *fakeView) Notify(msg string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notices = append(v.notices, msg)
}

func (v *fakeView) Confirm(string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.asked++
	return v.confirm
}

func (v *fakeView) indicator() Indicator {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.indicators) == 0 {
		return IndicatorRecord
	}
	return v.indicators[len(v.indicators)-1]
}

func (v *fakeView) shown() *md.Asset {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.preview
}

type mockUploader struct {
	mock.Mock
}

func (m *mockUploader) Send(ctx context.Context, a *md.Asset, suggestedName string) (*md.UploadResult, error) {
	args := m.Called(ctx, a, suggestedName)
	res, _ := args.Get(0).(*md.UploadResult)
	return res, args.Error(1)
}

type mockRefresher struct {
	mock.Mock
}

func (m *mockRefresher) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func awaitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// record runs one full capture of frags and waits for it to finalize
func record(t *testing.T, c *Controller, d *fakeDevice, frags ...[]byte) *md.Asset {
	ctx := awaitCtx(t)
	require.NoError(t, c.ToggleRecord(ctx))
	require.Equal(t, StateRecording, c.State())
	in := d.last()
	for _, f := range frags {
		in.feed(f)
	}
	require.NoError(t, c.ToggleRecord(ctx))
	a, err := c.AwaitFinalize(ctx)
	require.NoError(t, err)
	require.Equal(t, StateStopped, c.State())
	return a
}

func TestController_ToggleRecordProducesAsset(t *testing.T) {
	tcs := []struct {
		name  string
		frags [][]byte
		exp   []byte
	}{
		{name: "SingleFragment", frags: [][]byte{[]byte("abc")}, exp: []byte("abc")},
		{name: "FragmentsInOrder", frags: [][]byte{[]byte("ab"), []byte("cd"), []byte("e")}, exp: []byte("abcde")},
		{name: "NoFragments", frags: nil, exp: []byte{}},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			d, v := &fakeDevice{}, &fakeView{}
			c := NewController(d, v, &mockUploader{})
			a := record(t, c, d, tc.frags...)
			require.NotNil(t, a)
			assert.Equal(t, tc.exp, a.Data)
			assert.Equal(t, cst.AssetContentType, a.ContentType)
			assert.Same(t, a, v.shown())
			assert.Same(t, a, c.Preview())
			assert.Equal(t, []Indicator{IndicatorStop, IndicatorRecord}, v.indicators)
		})
	}
}

func TestController_StopIsAsynchronous(t *testing.T) {
	d, v := &fakeDevice{noClose: true}, &fakeView{}
	c := NewController(d, v, &mockUploader{})
	ctx := awaitCtx(t)
	require.NoError(t, c.ToggleRecord(ctx))
	in := d.last()
	in.feed([]byte("x"))
	require.NoError(t, c.ToggleRecord(ctx))
	<-in.stopped
	// still recording until the input delivers its tail
	assert.Equal(t, StateRecording, c.State())
	assert.Equal(t, IndicatorStop, v.indicator())
	// repeated toggles while stopping are no-ops
	require.NoError(t, c.ToggleRecord(ctx))
	in.feed([]byte("y"))
	in.finish()
	a, err := c.AwaitFinalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("xy"), a.Data)
	assert.Equal(t, StateStopped, c.State())
}

func TestController_InputEndsOnItsOwn(t *testing.T) {
	d, v := &fakeDevice{noClose: true}, &fakeView{}
	c := NewController(d, v, &mockUploader{})
	ctx := awaitCtx(t)
	require.NoError(t, c.ToggleRecord(ctx))
	in := d.last()
	in.feed([]byte("z"))
	in.finish()
	a, err := c.AwaitFinalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("z"), a.Data)
	assert.Equal(t, IndicatorRecord, v.indicator())
}

func TestController_ToggleRecordFailures(t *testing.T) {
	tcs := []struct {
		name       string
		device     *fakeDevice
		expErrCode pe.ErrCode
	}{
		{
			name:       "CapabilityUnavailable",
			device:     &fakeDevice{availErr: errors.New("no ffmpeg")},
			expErrCode: pe.ErrCodeCapabilityUnavailable,
		},
		{
			name:       "PermissionDenied",
			device:     &fakeDevice{openErr: errors.New("device busy")},
			expErrCode: pe.ErrCodePermissionDenied,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			v := &fakeView{}
			c := NewController(tc.device, v, &mockUploader{})
			err := c.ToggleRecord(awaitCtx(t))
			require.Error(t, err)
			assert.True(t, pe.HasCode(err, tc.expErrCode))
			assert.Equal(t, StateIdle, c.State())
			assert.Equal(t, IndicatorRecord, v.indicator())
			assert.Len(t, v.notices, 1)
			assert.Nil(t, c.Preview())
		})
	}
}

func TestController_StopWhenCapabilityLost(t *testing.T) {
	d, v := &fakeDevice{}, &fakeView{}
	c := NewController(d, v, &mockUploader{})
	ctx := awaitCtx(t)
	require.NoError(t, c.ToggleRecord(ctx))
	in := d.last()
	in.feed([]byte("kept"))
	// ffmpeg vanishing from PATH mid-recording must not block stopping
	d.availErr = errors.New("no ffmpeg")
	require.NoError(t, c.ToggleRecord(ctx))
	<-in.stopped
	a, err := c.AwaitFinalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("kept"), a.Data)
	assert.Equal(t, StateStopped, c.State())
	// a Stopped recording is still reported as such, not as a capability failure
	err = c.ToggleRecord(ctx)
	assert.True(t, pe.HasCode(err, pe.ErrCodeInvalidState))
	assert.Empty(t, v.notices)
}

func TestController_RetryAfterPermissionDenied(t *testing.T) {
	d, v := &fakeDevice{openErr: errors.New("denied")}, &fakeView{}
	c := NewController(d, v, &mockUploader{})
	require.Error(t, c.ToggleRecord(awaitCtx(t)))
	d.openErr = nil
	a := record(t, c, d, []byte("ok"))
	assert.Equal(t, []byte("ok"), a.Data)
}

func TestController_ToggleWhileAcquiring(t *testing.T) {
	d, v := &fakeDevice{gate: make(chan struct{})}, &fakeView{}
	c := NewController(d, v, &mockUploader{})
	ctx := awaitCtx(t)
	done := make(chan error)
	go func() { done <- c.ToggleRecord(ctx) }()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.acquiring
	}, time.Second, time.Millisecond)
	err := c.ToggleRecord(ctx)
	assert.True(t, pe.HasCode(err, pe.ErrCodeInvalidState))
	close(d.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateRecording, c.State())
	c.Close()
}

func TestController_ToggleWhileStopped(t *testing.T) {
	d, v := &fakeDevice{}, &fakeView{}
	c := NewController(d, v, &mockUploader{})
	record(t, c, d, []byte("a"))
	err := c.ToggleRecord(awaitCtx(t))
	assert.True(t, pe.HasCode(err, pe.ErrCodeInvalidState))
	assert.Equal(t, StateStopped, c.State())
}

func TestController_Discard(t *testing.T) {
	tcs := []struct {
		name     string
		confirm  bool
		expState State
	}{
		{name: "Confirmed", confirm: true, expState: StateIdle},
		{name: "Declined", confirm: false, expState: StateStopped},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			d, v := &fakeDevice{}, &fakeView{confirm: tc.confirm}
			c := NewController(d, v, &mockUploader{})
			a := record(t, c, d, []byte("a"))
			discarded, err := c.Discard()
			require.NoError(t, err)
			assert.Equal(t, tc.confirm, discarded)
			assert.Equal(t, 1, v.asked)
			assert.Equal(t, tc.expState, c.State())
			if tc.confirm {
				assert.Nil(t, v.shown())
				assert.Nil(t, c.Preview())
			} else {
				assert.Same(t, a, v.shown())
				assert.Same(t, a, c.Preview())
			}
		})
	}
}

func TestController_DiscardWithoutRecording(t *testing.T) {
	v := &fakeView{confirm: true}
	c := NewController(&fakeDevice{}, v, &mockUploader{})
	_, err := c.Discard()
	assert.True(t, pe.HasCode(err, pe.ErrCodeInvalidState))
	assert.Zero(t, v.asked)
}

func TestController_Save(t *testing.T) {
	tcs := []struct {
		name       string
		res        *md.UploadResult
		err        error
		expErrCode pe.ErrCode
		reloads    bool
	}{
		{
			name:    "HappyCase",
			res:     &md.UploadResult{Success: true},
			reloads: true,
		},
		{
			name:       "UploadFailure",
			err:        pe.NewUploadFailure("connection refused"),
			expErrCode: pe.ErrCodeUploadFailure,
		},
		{
			name:       "OtherFailure",
			err:        errors.New("boom"),
			expErrCode: pe.ErrCodeUploadFailure,
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			d, v := &fakeDevice{}, &fakeView{}
			u, r := &mockUploader{}, &mockRefresher{}
			c := NewController(d, v, u, WithRefresher(r))
			a := record(t, c, d, []byte("data"))
			u.On("Send", mock.Anything, a, cst.SuggestedFilename).Return(tc.res, tc.err).Once()
			if tc.reloads {
				r.On("Reload", mock.Anything).Return(nil).Once()
			}
			err := c.Save(awaitCtx(t))
			if tc.expErrCode != "" {
				require.Error(t, err)
				assert.True(t, pe.HasCode(err, tc.expErrCode))
				assert.Contains(t, v.notices[len(v.notices)-1], "Error saving recording")
			} else {
				require.NoError(t, err)
				assert.Equal(t, "Your recording is saved", v.notices[len(v.notices)-1])
			}
			// state is cleared whatever the outcome
			assert.Equal(t, StateIdle, c.State())
			assert.Nil(t, v.shown())
			assert.Nil(t, c.Preview())
			u.AssertExpectations(t)
			r.AssertExpectations(t)
			if !tc.reloads {
				r.AssertNotCalled(t, "Reload", mock.Anything)
			}
		})
	}
}

func TestController_SaveWithoutRecording(t *testing.T) {
	u := &mockUploader{}
	c := NewController(&fakeDevice{}, &fakeView{}, u)
	err := c.Save(awaitCtx(t))
	assert.True(t, pe.HasCode(err, pe.ErrCodeInvalidState))
	u.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestController_CloseDropsLateFragments(t *testing.T) {
	d, v := &fakeDevice{noClose: true}, &fakeView{}
	c := NewController(d, v, &mockUploader{})
	ctx := awaitCtx(t)
	require.NoError(t, c.ToggleRecord(ctx))
	in := d.last()
	in.feed([]byte("early"))
	awaitDone := make(chan error)
	go func() {
		_, err := c.AwaitFinalize(ctx)
		awaitDone <- err
	}()
	c.Close()
	<-in.stopped
	in.feed([]byte("late"))
	in.finish()
	err := <-awaitDone
	assert.True(t, pe.HasCode(err, pe.ErrCodeInvalidState))
	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.Preview())
	assert.Zero(t, v.previews)
	err = c.ToggleRecord(ctx)
	assert.True(t, pe.HasCode(err, pe.ErrCodeInvalidState))
}

func TestController_NewRecordingAfterSave(t *testing.T) {
	d, v := &fakeDevice{}, &fakeView{}
	u := &mockUploader{}
	u.On("Send", mock.Anything, mock.Anything, cst.SuggestedFilename).Return(&md.UploadResult{Success: true}, nil)
	c := NewController(d, v, u)
	record(t, c, d, []byte("one"))
	require.NoError(t, c.Save(awaitCtx(t)))
	a := record(t, c, d, []byte("two"))
	assert.Equal(t, []byte("two"), a.Data)
	assert.Equal(t, 2, v.previews)
}
