// Package capture drives one in-progress recording at a time: a Session accumulates the fragments of a
// capture and a Controller moves it through Idle -> Recording -> Stopped -> Idle on user intent.
package capture

import (
	"bytes"
	"context"

	"github.com/segmentio/ksuid"
	cst "wuyrush.io/voicememo/constants"
	md "wuyrush.io/voicememo/models"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRecording:
		return "Recording"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Session is one recording attempt. It is not safe for concurrent use; the owning Controller serializes
// access to it.
type Session struct {
	ID        string
	state     State
	fragments [][]byte
	asset     *md.Asset
	input     Input
	stopping  bool
	// ctx is cancelled once the session is destroyed so that late fragments and finalize calls from its input
	// are dropped
	ctx       context.Context
	cancel    context.CancelFunc
	finalized chan struct{}
}

func newSession(in Input) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:        ksuid.New().String(),
		state:     StateRecording,
		input:     in,
		ctx:       ctx,
		cancel:    cancel,
		finalized: make(chan struct{}),
	}
}

func (s *Session) State() State { return s.state }

// Asset returns the finalized capture, nil before the session is stopped
func (s *Session) Asset() *md.Asset { return s.asset }

func (s *Session) live() bool {
	return s.ctx.Err() == nil
}

func (s *Session) append(f []byte) {
	if s.state != StateRecording || !s.live() {
		return
	}
	s.fragments = append(s.fragments, f)
}

// finalize joins all fragments into the session's asset. It takes effect once.
func (s *Session) finalize() *md.Asset {
	if s.state != StateRecording || !s.live() {
		return nil
	}
	s.asset = &md.Asset{
		ID:          s.ID,
		Data:        bytes.Join(s.fragments, nil),
		ContentType: cst.AssetContentType,
	}
	s.fragments = nil
	s.state = StateStopped
	return s.asset
}

func (s *Session) destroy() {
	s.cancel()
	s.fragments = nil
	s.asset = nil
	s.state = StateIdle
}
