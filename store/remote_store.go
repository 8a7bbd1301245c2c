// Package store is the client side of the recorder server: it uploads finalized captures and fetches the
// listing of saved recordings.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	cst "wuyrush.io/voicememo/constants"
	se "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
)

// RemoteRecordingStore talks to the recorder server over HTTP. Requests are never retried.
type RemoteRecordingStore struct {
	C          *http.Client
	serverAddr string
}

type RemoteConfig struct {
	ServerAddr string
	RT         http.RoundTripper
	// fields below are optional
	RequestTimeout time.Duration
}

func NewRemoteRecordingStore(cfg *RemoteConfig) *RemoteRecordingStore {
	c := &http.Client{
		Transport: cfg.RT,
		Timeout:   cfg.RequestTimeout,
	}
	return &RemoteRecordingStore{
		C:          c,
		serverAddr: strings.TrimSuffix(cfg.ServerAddr, "/"),
	}
}

// Send uploads a as a multipart form under the audio field with a single POST
func (s *RemoteRecordingStore) Send(ctx context.Context, a *md.Asset, suggestedName string) (*md.UploadResult, error) {
	clog := log.WithField("assetID", a.ID).WithField("size", a.Size())
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeAssetForm(mw, a, suggestedName))
	}()
	defer pr.Close()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.serverAddr+cst.RouteRecord, pr)
	if err != nil {
		return nil, se.NewUploadFailure("error creating upload request").WithCause(err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := s.C.Do(req)
	if err != nil {
		clog.WithError(err).Error("error getting response from recorder server")
		return nil, se.NewUploadFailure("error getting response from server when uploading").WithCause(err)
	}
	defer resp.Body.Close()
	res := &md.UploadResult{}
	if err := unmarshalJSON(resp.Body, res); err != nil {
		clog.WithError(err).WithField("status", resp.StatusCode).Error("undecodable upload response")
		return nil, se.NewUploadFailure(fmt.Sprintf("unexpected response with status %d", resp.StatusCode)).WithCause(err)
	}
	if resp.StatusCode >= 300 || !res.Success {
		serr := &ServerErr{Status: resp.StatusCode, Msg: res.Error}
		clog.WithError(serr).Error("recorder server refused upload")
		return nil, se.NewUploadFailure("failed to save recording").WithCause(serr)
	}
	return res, nil
}

func writeAssetForm(mw *multipart.Writer, a *md.Asset, filename string) error {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, cst.FormFieldAudio, filename))
	h.Set("Content-Type", a.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(a.Data); err != nil {
		return err
	}
	return mw.Close()
}

// List fetches one page of public references of saved recordings, as answered by the server
func (s *RemoteRecordingStore) List(ctx context.Context, page md.Page) ([]string, error) {
	q := url.Values{}
	if page.Offset > 0 {
		q.Set("offset", strconv.Itoa(page.Offset))
	}
	if page.Limit > 0 {
		q.Set("limit", strconv.Itoa(page.Limit))
	}
	addr := s.serverAddr + cst.RouteRecordings
	if len(q) > 0 {
		addr += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, se.NewListingFailure("error creating listing request").WithCause(err)
	}
	resp, err := s.C.Do(req)
	if err != nil {
		log.WithError(err).Error("error getting response from recorder server")
		return nil, se.NewListingFailure("error getting response from server when listing").WithCause(err)
	}
	defer resp.Body.Close()
	res := &md.ListingResult{}
	if err := unmarshalJSON(resp.Body, res); err != nil {
		return nil, se.NewListingFailure(fmt.Sprintf("unexpected response with status %d", resp.StatusCode)).WithCause(err)
	}
	if resp.StatusCode >= 300 || !res.Success {
		return nil, se.NewListingFailure("failed to list recordings").WithCause(&ServerErr{Status: resp.StatusCode, Msg: res.Error})
	}
	return res.Files, nil
}

// Resolve turns a public reference from a listing into an absolute URL on the server
func (s *RemoteRecordingStore) Resolve(ref string) (string, error) {
	base, err := url.Parse(s.serverAddr + "/")
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(r).String(), nil
}

func (s *RemoteRecordingStore) Close() error {
	// release the connections held by C
	s.C.CloseIdleConnections()
	return nil
}

// ServerErr is a refusal answered by the recorder server
type ServerErr struct {
	Status int
	Msg    string
}

func (e *ServerErr) Error() string {
	var b strings.Builder
	b.WriteString("status: ")
	b.WriteString(strconv.Itoa(e.Status))
	if e.Msg != "" {
		b.WriteString(" error: ")
		b.WriteString(e.Msg)
	}
	return b.String()
}

// helper to unmarshal stream data from r into value pointed by ptr
func unmarshalJSON(r io.Reader, ptr interface{}) error {
	d := json.NewDecoder(r)
	return d.Decode(ptr)
}
