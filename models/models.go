package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

/*
 Application layer data models shared by the server and the client.
*/

// Recording is an audio clip persisted by the server. It is never mutated once written.
type Recording struct {
	Name             string    `json:"name"`
	Location         string    `json:"-"` // path on the storage layer
	Size             int64     `json:"size"`
	StoredAt         time.Time `json:"storedAt"`
	OriginalFilename string    `json:"originalFilename,omitempty"`
	ContentType      string    `json:"contentType,omitempty"`
}

// RecordingName is the parsed form of a stored recording's filename: <millis>[-<seq>][.<ext>]
type RecordingName struct {
	Millis int64
	Seq    int
	Ext    string
}

func (n RecordingName) String() string {
	b := &strings.Builder{}
	b.WriteString(strconv.FormatInt(n.Millis, 10))
	if n.Seq > 0 {
		fmt.Fprintf(b, "-%d", n.Seq)
	}
	if n.Ext != "" {
		b.WriteString(".")
		b.WriteString(n.Ext)
	}
	return b.String()
}

// ParseName parses a stored recording filename. ok is false for names not minted by the store.
func ParseName(name string) (n RecordingName, ok bool) {
	stem := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		stem, n.Ext = name[:i], name[i+1:]
	}
	if i := strings.IndexByte(stem, '-'); i >= 0 {
		seq, err := strconv.Atoi(stem[i+1:])
		if err != nil || seq <= 0 {
			return RecordingName{}, false
		}
		n.Seq, stem = seq, stem[:i]
	}
	millis, err := strconv.ParseInt(stem, 10, 64)
	if err != nil || millis < 0 {
		return RecordingName{}, false
	}
	n.Millis = millis
	return n, true
}

// ExtOf returns the text after the final '.' of filename's base name, or "" if there is none.
func ExtOf(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return filename[i+1:]
}

// LessName orders recording names by derived timestamp, then sequence, then name. Names the store
// did not mint sort after the ones it did.
func LessName(a, b string) bool {
	na, oka := ParseName(a)
	nb, okb := ParseName(b)
	switch {
	case oka && !okb:
		return true
	case !oka && okb:
		return false
	case oka && okb:
		if na.Millis != nb.Millis {
			return na.Millis < nb.Millis
		}
		if na.Seq != nb.Seq {
			return na.Seq < nb.Seq
		}
	}
	return a < b
}

// Page selects a window of a listing. A zero Limit selects everything from Offset on.
type Page struct {
	Offset int
	Limit  int
}

// Bounds returns the half-open index range of the page within a listing of n items.
func (p Page) Bounds(n int) (lo, hi int) {
	lo, hi = p.Offset, n
	if lo > n {
		lo = n
	}
	if p.Limit > 0 && p.Limit < hi-lo {
		hi = lo + p.Limit
	}
	return lo, hi
}

// Listing holds the public references of playable recordings
type Listing struct {
	Files []string
	Total int // count of playable recordings before paging
}

// Asset is a finalized capture ready for preview and upload.
type Asset struct {
	ID          string // id of the capture session producing it
	Data        []byte
	ContentType string
}

func (a *Asset) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

// UploadResult is the body answered to an upload
type UploadResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ListingResult is the body answered to a listing request
type ListingResult struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
	Total   int      `json:"total"`
	Error   string   `json:"error,omitempty"`
}
