package stores

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bluele/gcache"
	"github.com/segmentio/ksuid"

	"wuyrush.io/voicememo/common/logging"
	cst "wuyrush.io/voicememo/constants"
	pe "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
)

// RecordingStore persists uploaded audio clips and enumerates the playable ones
type RecordingStore interface {
	// Accept stores the bytes read from r under a fresh collision-free name derived from the current time
	// and the extension of originalFilename. Neither content nor extension is validated.
	Accept(r io.Reader, originalFilename, contentType string) (*md.Recording, *pe.Err)
	// List returns public references of stored recordings carrying the canonical extension, ordered by
	// upload time
	List(p md.Page) (*md.Listing, *pe.Err)
	// Ref returns the public reference a stored recording is served under
	Ref(name string) string
	Stat(name string) (*md.Recording, *pe.Err)
	Open(name string) (io.ReadCloser, *pe.Err)
	Close() *pe.Err
}

// maxNameSeq bounds the search for a free name within one millisecond
const maxNameSeq = 1 << 16

// LocalConfig configures a LocalRecordingStore
type LocalConfig struct {
	Dir         string
	PublicPath  string
	MaxSizeByte int64 // zero means no limit
	// listing cache; a non-positive CacheSize disables caching
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
}

// LocalRecordingStore implements RecordingStore backed by a local directory. Every regular file in Dir is a
// recording; in-flight uploads are hidden temp files.
type LocalRecordingStore struct {
	Dir         string
	PublicPath  string
	MaxSizeByte int64
	now         func() time.Time
	listings    gcache.Cache
}

func NewLocalRecordingStore(cfg *LocalConfig) (*LocalRecordingStore, *pe.Err) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, pe.NewServiceFailure("error preparing upload directory").WithCause(err)
	}
	s := &LocalRecordingStore{
		Dir:         cfg.Dir,
		PublicPath:  cfg.PublicPath,
		MaxSizeByte: cfg.MaxSizeByte,
		now:         cfg.Now,
	}
	if s.PublicPath == "" {
		s.PublicPath = "/"
	}
	if s.now == nil {
		s.now = time.Now
	}
	if cfg.CacheSize > 0 {
		b := gcache.New(cfg.CacheSize).LRU()
		if cfg.CacheTTL > 0 {
			b = b.Expiration(cfg.CacheTTL)
		}
		s.listings = b.Build()
	}
	return s, nil
}

func (s *LocalRecordingStore) Accept(r io.Reader, originalFilename, contentType string) (*md.Recording, *pe.Err) {
	clog := logging.WithFuncName().WithField("originalFilename", originalFilename)
	// 1. spool the upload into a hidden temp file so a half written upload never shows up as a recording
	tmp, size, perr := s.spool(r)
	if perr != nil {
		clog.WithError(perr).Error("error spooling upload")
		return nil, perr
	}
	// the temp name goes away either way; on success the data stays reachable through its final link
	defer os.Remove(tmp)
	// 2. claim the first free name for the current millisecond. Link fails rather than replaces an existing
	// name, which keeps concurrent uploads within the same millisecond apart
	storedAt := s.now()
	name := md.RecordingName{Millis: storedAt.UnixNano() / int64(time.Millisecond), Ext: md.ExtOf(originalFilename)}
	var dst string
	for ; ; name.Seq++ {
		if name.Seq >= maxNameSeq {
			clog.WithField("millis", name.Millis).Error("ran out of names within one millisecond")
			return nil, pe.NewServiceFailure("error naming recording")
		}
		dst = filepath.Join(s.Dir, name.String())
		err := os.Link(tmp, dst)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			clog.WithError(err).WithField("name", name.String()).Error("error linking recording into place")
			return nil, pe.NewServiceFailure("error saving recording").WithCause(err)
		}
		clog.WithField("name", name.String()).Debug("recording name taken, trying next sequence")
	}
	s.purgeListings()
	rec := &md.Recording{
		Name:             name.String(),
		Location:         dst,
		Size:             size,
		StoredAt:         storedAt,
		OriginalFilename: originalFilename,
		ContentType:      contentType,
	}
	clog.WithField("name", rec.Name).WithField("size", size).Info("recording stored")
	return rec, nil
}

func (s *LocalRecordingStore) spool(r io.Reader) (string, int64, *pe.Err) {
	errMsg := "error allocating recording storage space"
	tmp := filepath.Join(s.Dir, tempName(ksuid.New().String()))
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, pe.NewServiceFailure(errMsg).WithCause(err)
	}
	fail := func(e *pe.Err) (string, int64, *pe.Err) {
		f.Close()
		os.Remove(tmp)
		return "", 0, e
	}
	src := r
	if s.MaxSizeByte > 0 {
		// read one byte past the limit to tell an exact fit from an oversized upload
		src = io.LimitReader(r, s.MaxSizeByte+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return fail(pe.NewServiceFailure("error saving recording data").WithCause(err))
	}
	if s.MaxSizeByte > 0 && n > s.MaxSizeByte {
		return fail(pe.NewOversized().WithMsg(fmt.Sprintf("recording exceeds %d bytes", s.MaxSizeByte)))
	}
	if err := f.Sync(); err != nil {
		return fail(pe.NewServiceFailure("error flushing recording data").WithCause(err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", 0, pe.NewServiceFailure("error closing recording data").WithCause(err)
	}
	return tmp, n, nil
}

func (s *LocalRecordingStore) List(p md.Page) (*md.Listing, *pe.Err) {
	clog := logging.WithFuncName()
	if p.Offset < 0 || p.Limit < 0 {
		return nil, pe.NewBadInput(fmt.Sprintf("got negative page offset %d or limit %d", p.Offset, p.Limit))
	}
	key := fmt.Sprintf("%d:%d", p.Offset, p.Limit)
	if s.listings != nil {
		if v, err := s.listings.Get(key); err == nil {
			return v.(*md.Listing), nil
		} else if err != gcache.KeyNotFoundError {
			clog.WithError(err).Warn("error reading listing cache")
		}
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		clog.WithError(err).Error("error reading upload directory")
		return nil, pe.NewServiceFailure("error listing recordings").WithCause(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		n := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(n, ".") || md.ExtOf(n) != cst.CanonicalExt {
			continue
		}
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return md.LessName(names[i], names[j]) })
	lo, hi := p.Bounds(len(names))
	l := &md.Listing{Files: make([]string, 0, hi-lo), Total: len(names)}
	for _, n := range names[lo:hi] {
		l.Files = append(l.Files, s.Ref(n))
	}
	if s.listings != nil {
		if err := s.listings.Set(key, l); err != nil {
			clog.WithError(err).Warn("error caching listing")
		}
	}
	return l, nil
}

// Ref returns the public reference a stored recording is served under
func (s *LocalRecordingStore) Ref(name string) string {
	return path.Join(s.PublicPath, url.PathEscape(name))
}

func (s *LocalRecordingStore) Stat(name string) (*md.Recording, *pe.Err) {
	loc, perr := s.locate(name)
	if perr != nil {
		return nil, perr
	}
	fi, err := os.Stat(loc)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pe.NewNotFound(fmt.Sprintf("recording %s not found", name)).WithCause(err)
		}
		return nil, pe.NewServiceFailure("error reading recording").WithCause(err)
	}
	if !fi.Mode().IsRegular() {
		return nil, pe.NewNotFound(fmt.Sprintf("recording %s not found", name))
	}
	rec := &md.Recording{Name: name, Location: loc, Size: fi.Size(), StoredAt: fi.ModTime()}
	if n, ok := md.ParseName(name); ok {
		rec.StoredAt = time.Unix(0, n.Millis*int64(time.Millisecond))
	}
	return rec, nil
}

func (s *LocalRecordingStore) Open(name string) (io.ReadCloser, *pe.Err) {
	loc, perr := s.locate(name)
	if perr != nil {
		return nil, perr
	}
	f, err := os.Open(loc)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pe.NewNotFound(fmt.Sprintf("recording %s not found", name)).WithCause(err)
		}
		return nil, pe.NewServiceFailure("error opening recording").WithCause(err)
	}
	return f, nil
}

// locate maps a recording name to its path, refusing names which are hidden or leave the directory
func (s *LocalRecordingStore) locate(name string) (string, *pe.Err) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", pe.NewNotFound(fmt.Sprintf("recording %s not found", name))
	}
	return filepath.Join(s.Dir, name), nil
}

// Junk returns the names of up to max temp files left by uploads which started more than olderThan ago.
// It returns all of them when max == 0.
func (s *LocalRecordingStore) Junk(max int, olderThan time.Duration) ([]string, *pe.Err) {
	if max < 0 {
		return nil, pe.NewBadInput(fmt.Sprintf("got negative max item count %d", max))
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil, pe.NewServiceFailure("error reading upload directory").WithCause(err)
	}
	deadline := s.now().Add(-olderThan)
	jks := []string{}
	for _, e := range entries {
		if !isTempName(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		if fi.ModTime().Before(deadline) {
			jks = append(jks, e.Name())
			if max > 0 && len(jks) >= max {
				break
			}
		}
	}
	return jks, nil
}

// DeleteTemp removes an abandoned temp upload. DeleteTemp is idempotent and refuses to touch recordings.
func (s *LocalRecordingStore) DeleteTemp(name string) *pe.Err {
	if name != filepath.Base(name) || !isTempName(name) {
		return pe.NewBadInput(fmt.Sprintf("%s is not a temp upload", name))
	}
	if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !os.IsNotExist(err) {
		return pe.NewServiceFailure("error removing temp upload").WithCause(err)
	}
	return nil
}

func (s *LocalRecordingStore) Close() *pe.Err {
	s.purgeListings()
	return nil
}

func (s *LocalRecordingStore) purgeListings() {
	if s.listings != nil {
		s.listings.Purge()
	}
}

func tempName(id string) string {
	return "." + id + "." + cst.TempFileExt
}

func isTempName(name string) bool {
	return strings.HasPrefix(name, ".") && md.ExtOf(name) == cst.TempFileExt && len(name) > len(cst.TempFileExt)+2
}
