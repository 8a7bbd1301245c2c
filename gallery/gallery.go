// Package gallery keeps the playable entries of saved recordings and their playback state.
package gallery

import (
	"context"
	"sync"

	"wuyrush.io/voicememo/common/logging"
	pe "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
)

type PlaybackState int

const (
	Paused PlaybackState = iota
	Playing
)

func (s PlaybackState) String() string {
	if s == Playing {
		return "Playing"
	}
	return "Paused"
}

// Player plays one media source. Play after the media ended starts it over.
type Player interface {
	Play() error
	Pause() error
	Close() error
}

// PlayerFactory builds the player of src. onEnded is called when the media plays to its end; it must not be
// called from within Play, Pause or Close.
type PlayerFactory func(src string, onEnded func()) Player

// Lister fetches the listing of saved recordings
type Lister interface {
	List(ctx context.Context, page md.Page) ([]string, error)
	// Resolve turns a listed reference into a source a player can open
	Resolve(ref string) (string, error)
}

// Entry is one playable recording of the gallery
type Entry struct {
	SourceRef string
	Src       string
	gen       int
	state     PlaybackState
	player    Player
}

// Gallery holds one entry per saved recording. Entries from before the latest refresh are stale.
type Gallery struct {
	lister    Lister
	newPlayer PlayerFactory
	page      md.Page

	mu      sync.Mutex
	gen     int
	entries []*Entry
}

func New(l Lister, f PlayerFactory, page md.Page) *Gallery {
	return &Gallery{lister: l, newPlayer: f, page: page}
}

// Entries returns the current entries in listing order
func (g *Gallery) Entries() []*Entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	es := make([]*Entry, len(g.entries))
	copy(es, g.entries)
	return es
}

// State returns the playback state of e
func (g *Gallery) State(e *Entry) PlaybackState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return e.state
}

// Refresh tears down every entry and builds one Paused entry per listed reference
func (g *Gallery) Refresh(listing []string) {
	clog := logging.WithFuncName()
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.entries {
		if e.player == nil {
			continue
		}
		if err := e.player.Close(); err != nil {
			clog.WithError(err).WithField("src", e.Src).Warn("error closing player")
		}
	}
	g.gen++
	g.entries = make([]*Entry, 0, len(listing))
	for _, ref := range listing {
		src, err := g.lister.Resolve(ref)
		if err != nil {
			clog.WithError(err).WithField("ref", ref).Warn("unresolvable recording reference")
			src = ref
		}
		g.entries = append(g.entries, &Entry{SourceRef: ref, Src: src, gen: g.gen})
	}
	clog.WithField("count", len(g.entries)).Debug("gallery refreshed")
}

// Reload fetches the listing and refreshes the gallery with it. The gallery is left as is on failure.
func (g *Gallery) Reload(ctx context.Context) error {
	files, err := g.lister.List(ctx, g.page)
	if err != nil {
		logging.WithFuncName().WithError(err).Error("error listing recordings")
		if pe.HasCode(err, pe.ErrCodeListingFailure) {
			return err
		}
		return pe.NewListingFailure("error listing recordings").WithCause(err)
	}
	g.Refresh(files)
	return nil
}

// TogglePlay starts playing a Paused entry and pauses a Playing one. Entries play independently.
func (g *Gallery) TogglePlay(e *Entry) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e.gen != g.gen {
		return pe.NewInvalidState("entry is gone since the gallery was refreshed")
	}
	switch e.state {
	case Paused:
		if e.player == nil {
			e.player = g.newPlayer(e.Src, func() { g.ended(e) })
		}
		if err := e.player.Play(); err != nil {
			return pe.NewServiceFailure("error starting playback").WithCause(err)
		}
		e.state = Playing
	case Playing:
		if err := e.player.Pause(); err != nil {
			return pe.NewServiceFailure("error pausing playback").WithCause(err)
		}
		e.state = Paused
	}
	return nil
}

// Close closes the players of all entries and leaves the gallery empty
func (g *Gallery) Close() {
	g.Refresh(nil)
}

func (g *Gallery) ended(e *Entry) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if e.gen != g.gen {
		return
	}
	e.state = Paused
}
