package device

import (
	"errors"
	"os/exec"
	"sync"

	"wuyrush.io/voicememo/common/logging"
	"wuyrush.io/voicememo/gallery"
)

var errPlayerClosed = errors.New("player closed")

// FFPlayer plays one source with ffplay. Pausing suspends the ffplay process.
type FFPlayer struct {
	src     string
	onEnded func()
	// optional
	Command func(name string, args ...string) *exec.Cmd

	mu     sync.Mutex
	cmd    *exec.Cmd
	paused bool
	closed bool
}

func NewFFPlayer(src string, onEnded func()) *FFPlayer {
	return &FFPlayer{src: src, onEnded: onEnded}
}

// FFPlayerFactory builds FFPlayers for a gallery
func FFPlayerFactory(src string, onEnded func()) gallery.Player {
	return NewFFPlayer(src, onEnded)
}

func (p *FFPlayer) command(name string, args ...string) *exec.Cmd {
	if p.Command != nil {
		return p.Command(name, args...)
	}
	return exec.Command(name, args...)
}

// Play resumes a paused playback or starts the source over
func (p *FFPlayer) Play() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPlayerClosed
	}
	if p.cmd != nil {
		if !p.paused {
			return nil
		}
		if err := resume(p.cmd.Process); err != nil {
			return err
		}
		p.paused = false
		return nil
	}
	cmd := p.command("ffplay", "-nodisp", "-autoexit", "-hide_banner", "-loglevel", "error", p.src)
	if err := cmd.Start(); err != nil {
		return err
	}
	p.cmd, p.paused = cmd, false
	go p.wait(cmd)
	return nil
}

func (p *FFPlayer) wait(cmd *exec.Cmd) {
	err := cmd.Wait()
	p.mu.Lock()
	ended := p.cmd == cmd
	if ended {
		p.cmd, p.paused = nil, false
	}
	p.mu.Unlock()
	if !ended {
		return
	}
	if err != nil {
		logging.WithFuncName().WithError(err).WithField("src", p.src).Warn("ffplay exited abnormally")
	}
	if p.onEnded != nil {
		p.onEnded()
	}
}

func (p *FFPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.paused {
		return nil
	}
	if err := suspend(p.cmd.Process); err != nil {
		return err
	}
	p.paused = true
	return nil
}

// Close stops playback for good. The end callback is not called for a closed player.
func (p *FFPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.cmd == nil {
		return nil
	}
	cmd := p.cmd
	p.cmd = nil
	return cmd.Process.Kill()
}
