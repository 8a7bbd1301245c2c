//go:build windows

package device

import (
	"errors"
	"os"
)

var errPauseUnsupported = errors.New("pausing playback is not supported on windows")

// interrupt kills p since console processes can't be sent os.Interrupt
func interrupt(p *os.Process) error { return p.Kill() }

func suspend(*os.Process) error { return errPauseUnsupported }

func resume(*os.Process) error { return errPauseUnsupported }
