// Package device captures and plays audio through ffmpeg subprocesses.
package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"wuyrush.io/voicememo/capture"
	"wuyrush.io/voicememo/common/logging"
	pe "wuyrush.io/voicememo/errors"
)

const (
	chunkSize     = 16 * 1024
	fragmentQueue = 16
)

// DefaultInput returns the ffmpeg input format and device of the platform's default microphone
func DefaultInput() (format, device string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// Mic records the microphone by running ffmpeg and reading mp3 frames off its stdout
type Mic struct {
	InputFormat string
	InputDevice string
	// fields below are optional
	LookPath func(file string) (string, error)
	Command  func(name string, args ...string) *exec.Cmd
}

func (m *Mic) lookPath(file string) (string, error) {
	if m.LookPath != nil {
		return m.LookPath(file)
	}
	return exec.LookPath(file)
}

func (m *Mic) command(name string, args ...string) *exec.Cmd {
	if m.Command != nil {
		return m.Command(name, args...)
	}
	return exec.Command(name, args...)
}

func (m *Mic) args() []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", m.InputFormat,
		"-i", m.InputDevice,
		"-ac", "1",
		"-f", "mp3",
		"pipe:1",
	}
}

// Available reports whether ffmpeg can be found
func (m *Mic) Available() error {
	if _, err := m.lookPath("ffmpeg"); err != nil {
		return pe.NewCapabilityUnavailable("ffmpeg not found").WithCause(err)
	}
	return nil
}

// Open starts ffmpeg and waits for its first frame, which confirms the microphone is accessible
func (m *Mic) Open(ctx context.Context) (capture.Input, error) {
	clog := logging.WithFuncName().WithField("format", m.InputFormat).WithField("device", m.InputDevice)
	bin, err := m.lookPath("ffmpeg")
	if err != nil {
		return nil, pe.NewCapabilityUnavailable("ffmpeg not found").WithCause(err)
	}
	cmd := m.command(bin, m.args()...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pe.NewServiceFailure("error piping ffmpeg output").WithCause(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, pe.NewServiceFailure("error starting ffmpeg").WithCause(err)
	}
	type readResult struct {
		n   int
		err error
	}
	buf := make([]byte, chunkSize)
	rc := make(chan readResult, 1)
	go func() {
		n, err := io.ReadAtLeast(stdout, buf, 1)
		rc <- readResult{n, err}
	}()
	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-rc
		_ = cmd.Wait()
		return nil, ctx.Err()
	case r := <-rc:
		if r.err != nil {
			werr := cmd.Wait()
			clog.WithError(werr).WithField("stderr", stderr.String()).Warn("ffmpeg exited before capturing")
			return nil, pe.NewPermissionDenied(fmt.Sprintf("microphone not accessible: %s", lastLine(stderr.String()))).WithCause(werr)
		}
		in := &ffmpegInput{cmd: cmd, stdout: stdout, stderr: stderr, ch: make(chan []byte, fragmentQueue)}
		go in.pump(buf[:r.n])
		clog.Debug("microphone opened")
		return in, nil
	}
}

type ffmpegInput struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr *bytes.Buffer
	ch     chan []byte
	once   sync.Once
}

func (in *ffmpegInput) Fragments() <-chan []byte { return in.ch }

// Stop interrupts ffmpeg, which flushes its last frames and exits
func (in *ffmpegInput) Stop() {
	in.once.Do(func() {
		if err := interrupt(in.cmd.Process); err != nil {
			logging.WithFuncName().WithError(err).Warn("error interrupting ffmpeg")
		}
	})
}

func (in *ffmpegInput) pump(first []byte) {
	defer close(in.ch)
	in.ch <- first
	for {
		buf := make([]byte, chunkSize)
		n, err := in.stdout.Read(buf)
		if n > 0 {
			in.ch <- buf[:n]
		}
		if err != nil {
			break
		}
	}
	if err := in.cmd.Wait(); err != nil {
		logging.WithFuncName().WithError(err).WithField("stderr", in.stderr.String()).Debug("ffmpeg exited")
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
