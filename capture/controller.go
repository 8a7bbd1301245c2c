package capture

import (
	"context"
	"fmt"
	"sync"

	"wuyrush.io/voicememo/common/logging"
	cst "wuyrush.io/voicememo/constants"
	pe "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
)

// Device is the platform's audio capture capability
type Device interface {
	// Available reports why capture is unsupported on this platform, nil if it is supported
	Available() error
	// Open requests exclusive access to the audio input. It blocks until access is granted or refused.
	Open(ctx context.Context) (Input, error)
}

// Input is an opened audio input
type Input interface {
	// Fragments delivers captured data in capture order; the receiver owns every fragment. The channel is
	// closed once the input has fully stopped, whether asked to or not.
	Fragments() <-chan []byte
	// Stop asks the input to stop without waiting for it to do so
	Stop()
}

// Indicator is what the record control currently offers to do
type Indicator int

const (
	IndicatorRecord Indicator = iota
	IndicatorStop
)

// View is the user facing side of the Controller. Except Confirm, its methods are called with the
// Controller's lock held and must not call back into the Controller.
type View interface {
	SetIndicator(Indicator)
	// ShowPreview exposes the unsaved capture for playback, replacing any previous one
	ShowPreview(*md.Asset)
	HidePreview()
	Notify(msg string)
	// Confirm asks a yes/no question and blocks for the answer
	Confirm(prompt string) bool
}

// Uploader sends a finalized capture to the server
type Uploader interface {
	Send(ctx context.Context, a *md.Asset, suggestedName string) (*md.UploadResult, error)
}

// Refresher reloads the list of saved recordings
type Refresher interface {
	Reload(ctx context.Context) error
}

// Controller is the state machine behind the record, discard and save controls. At most one Session exists
// at a time, which keeps the audio input exclusively held.
type Controller struct {
	device    Device
	view      View
	uploader  Uploader
	refresher Refresher

	mu        sync.Mutex
	session   *Session
	preview   *md.Asset
	acquiring bool
	saving    bool
	closed    bool
}

type Option func(*Controller)

// WithRefresher reloads r after every successful save
func WithRefresher(r Refresher) Option {
	return func(c *Controller) { c.refresher = r }
}

func NewController(d Device, v View, u Uploader, opts ...Option) *Controller {
	c := &Controller{device: d, view: v, uploader: u}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the state of the current session, Idle if there is none
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return StateIdle
	}
	return c.session.state
}

// Preview returns the finalized, unsaved capture if any
func (c *Controller) Preview() *md.Asset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.preview
}

// ToggleRecord starts a recording from Idle and asks the input to stop from Recording. Stopping is
// asynchronous: the session turns Stopped once its input has delivered the last fragment.
func (c *Controller) ToggleRecord(ctx context.Context) error {
	clog := logging.WithFuncName()
	c.mu.Lock()
	switch s := c.session; {
	case c.closed:
		c.mu.Unlock()
		return pe.NewInvalidState("recorder closed")
	case c.acquiring:
		c.mu.Unlock()
		return pe.NewInvalidState("audio input request already pending")
	case s == nil:
		c.acquiring = true
		c.mu.Unlock()
		return c.start(ctx)
	case s.state == StateRecording:
		if s.stopping {
			c.mu.Unlock()
			return nil
		}
		s.stopping = true
		in := s.input
		c.mu.Unlock()
		clog.WithField("sessionID", s.ID).Debug("stop requested")
		in.Stop()
		return nil
	default:
		c.mu.Unlock()
		return pe.NewInvalidState(fmt.Sprintf("recording is %s; discard or save it first", s.state))
	}
}

// start opens the device for a new session. Callers set c.acquiring.
func (c *Controller) start(ctx context.Context) error {
	clog := logging.WithFuncName()
	if err := c.device.Available(); err != nil {
		clog.WithError(err).Warn("audio capture unavailable")
		c.mu.Lock()
		c.acquiring = false
		c.view.Notify("Audio recording is not supported on this device")
		c.mu.Unlock()
		return pe.NewCapabilityUnavailable("audio capture unavailable").WithCause(err)
	}
	in, err := c.device.Open(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquiring = false
	if err != nil {
		clog.WithError(err).Warn("audio input access refused")
		c.view.SetIndicator(IndicatorRecord)
		c.view.Notify(fmt.Sprintf("Could not access the microphone: %v", err))
		return pe.NewPermissionDenied("audio input access refused").WithCause(err)
	}
	if c.closed {
		in.Stop()
		go drain(in)
		return pe.NewInvalidState("recorder closed")
	}
	s := newSession(in)
	c.session = s
	go c.pump(s)
	c.view.SetIndicator(IndicatorStop)
	clog.WithField("sessionID", s.ID).Info("recording started")
	return nil
}

// pump collects the fragments of s and finalizes s once its input is done
func (c *Controller) pump(s *Session) {
	for f := range s.input.Fragments() {
		c.mu.Lock()
		s.append(f)
		c.mu.Unlock()
	}
	c.finalize(s)
}

func (c *Controller) finalize(s *Session) {
	clog := logging.WithFuncName().WithField("sessionID", s.ID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s {
		clog.Debug("dropping finalize of a discarded session")
		return
	}
	a := s.finalize()
	if a == nil {
		return
	}
	if c.preview != nil {
		clog.WithField("replacedID", c.preview.ID).Info("replacing unsaved recording")
	}
	c.preview = a
	c.view.ShowPreview(a)
	c.view.SetIndicator(IndicatorRecord)
	close(s.finalized)
	clog.WithField("size", a.Size()).Info("recording finalized")
}

// AwaitFinalize blocks until the current session turns Stopped and returns its asset
func (c *Controller) AwaitFinalize(ctx context.Context) (*md.Asset, error) {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil, pe.NewInvalidState("no recording in progress")
	}
	select {
	case <-s.finalized:
		c.mu.Lock()
		defer c.mu.Unlock()
		return s.asset, nil
	case <-s.ctx.Done():
		return nil, pe.NewInvalidState("recording discarded")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Discard drops the stopped recording once the user confirms. It reports whether the recording was dropped.
func (c *Controller) Discard() (bool, error) {
	c.mu.Lock()
	s := c.session
	if s == nil || s.state != StateStopped || c.saving {
		c.mu.Unlock()
		return false, pe.NewInvalidState("no finished recording to discard")
	}
	c.mu.Unlock()
	if !c.view.Confirm("Are you sure you want to discard the recording?") {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != s || c.saving {
		return false, pe.NewInvalidState("recording changed while confirming discard")
	}
	c.reset()
	logging.WithFuncName().WithField("sessionID", s.ID).Info("recording discarded")
	return true, nil
}

// Save uploads the stopped recording. The local copy is dropped whatever the outcome; a failed upload is not
// retried.
func (c *Controller) Save(ctx context.Context) error {
	clog := logging.WithFuncName()
	c.mu.Lock()
	s := c.session
	switch {
	case s == nil || s.state != StateStopped || s.asset == nil:
		c.mu.Unlock()
		return pe.NewInvalidState("no finished recording to save")
	case c.saving:
		c.mu.Unlock()
		return pe.NewInvalidState("save already in progress")
	}
	c.saving = true
	a := s.asset
	c.mu.Unlock()

	clog = clog.WithField("sessionID", s.ID).WithField("size", a.Size())
	_, err := c.uploader.Send(ctx, a, cst.SuggestedFilename)

	c.mu.Lock()
	c.saving = false
	if c.session == s {
		c.reset()
	}
	if err != nil {
		c.view.Notify(fmt.Sprintf("Error saving recording: %v", err))
		c.mu.Unlock()
		clog.WithError(err).Error("error saving recording")
		if pe.HasCode(err, pe.ErrCodeUploadFailure) {
			return err
		}
		return pe.NewUploadFailure("error saving recording").WithCause(err)
	}
	c.view.Notify("Your recording is saved")
	c.mu.Unlock()
	clog.Info("recording saved")
	if c.refresher != nil {
		// listing failures are handled by the refresher; the save itself went through
		_ = c.refresher.Reload(ctx)
	}
	return nil
}

// Close destroys the current session, stopping its input if it is still recording
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	s := c.session
	if s == nil {
		return
	}
	if s.state == StateRecording && !s.stopping {
		s.stopping = true
		s.input.Stop()
	}
	c.reset()
}

// reset destroys the current session and clears the preview. Callers hold c.mu.
func (c *Controller) reset() {
	if c.session != nil {
		c.session.destroy()
		c.session = nil
	}
	if c.preview != nil {
		c.preview = nil
		c.view.HidePreview()
	}
}

func drain(in Input) {
	for range in.Fragments() {
	}
}
