package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"wuyrush.io/voicememo/capture"
	"wuyrush.io/voicememo/common/logging"
	"wuyrush.io/voicememo/device"
	md "wuyrush.io/voicememo/models"
)

// termView renders the recorder on a terminal. Answers are read off in line by line.
type termView struct {
	out io.Writer
	in  *bufio.Reader

	mu      sync.Mutex
	preview *md.Asset
}

func newTermView(out io.Writer, in io.Reader) *termView {
	return &termView{out: out, in: bufio.NewReader(in)}
}

func (v *termView) SetIndicator(i capture.Indicator) {
	if i == capture.IndicatorStop {
		fmt.Fprintln(v.out, "* recording, press Enter to stop")
		return
	}
	fmt.Fprintln(v.out, "- ready")
}

func (v *termView) ShowPreview(a *md.Asset) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.preview = a
	fmt.Fprintf(v.out, "recorded %d bytes\n", a.Size())
}

func (v *termView) HidePreview() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.preview = nil
}

func (v *termView) Notify(msg string) {
	fmt.Fprintln(v.out, msg)
}

func (v *termView) Confirm(prompt string) bool {
	fmt.Fprintf(v.out, "%s [y/N] ", prompt)
	line, _ := v.readLine()
	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// readLine returns the next trimmed line; io.EOF comes with the last, possibly unterminated, line
func (v *termView) readLine() (string, error) {
	line, err := v.in.ReadString('\n')
	return strings.TrimSpace(line), err
}

// playPreview plays the unsaved recording to its end
func (v *termView) playPreview() error {
	v.mu.Lock()
	a := v.preview
	v.mu.Unlock()
	if a == nil {
		fmt.Fprintln(v.out, "nothing to play")
		return nil
	}
	f, err := os.CreateTemp("", "voicememo-*.mp3")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(a.Data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	ended := make(chan struct{})
	p := device.NewFFPlayer(f.Name(), func() { close(ended) })
	defer p.Close()
	if err := p.Play(); err != nil {
		logging.WithFuncName().WithError(err).Error("error playing preview")
		return err
	}
	<-ended
	return nil
}
