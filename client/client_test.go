package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wuyrush.io/voicememo/capture"
	"wuyrush.io/voicememo/gallery"
	cst "wuyrush.io/voicememo/constants"
	md "wuyrush.io/voicememo/models"
	rst "wuyrush.io/voicememo/store"
)

type cannedMic struct {
	frags [][]byte
}

func (m *cannedMic) Available() error { return nil }

func (m *cannedMic) Open(ctx context.Context) (capture.Input, error) {
	ch := make(chan []byte, len(m.frags))
	for _, f := range m.frags {
		ch <- f
	}
	return &cannedInput{ch: ch}, nil
}

type cannedInput struct {
	ch   chan []byte
	once sync.Once
}

func (in *cannedInput) Fragments() <-chan []byte { return in.ch }

func (in *cannedInput) Stop() { in.once.Do(func() { close(in.ch) }) }

// fakeRecorderServer records uploads and lists one reference per upload
func fakeRecorderServer(t *testing.T) (*httptest.Server, *[][]byte) {
	var mu sync.Mutex
	uploads := &[][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc(cst.RouteRecord, func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile(cst.FormFieldAudio)
		require.NoError(t, err)
		b, err := io.ReadAll(f)
		require.NoError(t, err)
		mu.Lock()
		*uploads = append(*uploads, b)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(md.UploadResult{Success: true})
	})
	mux.HandleFunc(cst.RouteRecordings, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		files := []string{}
		for i := range *uploads {
			files = append(files, "/"+string(rune('1'+i))+".mp3")
		}
		_ = json.NewEncoder(w).Encode(md.ListingResult{Success: true, Files: files, Total: len(files)})
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, uploads
}

func TestRunRecording(t *testing.T) {
	tcs := []struct {
		name       string
		input      string
		opts       *recordOptions
		expUploads int
		expOut     string
	}{
		{name: "Save", input: "\ns\n", opts: &recordOptions{}, expUploads: 1, expOut: "Your recording is saved"},
		{name: "SaveWithoutAsking", input: "\n", opts: &recordOptions{save: true}, expUploads: 1, expOut: "Your recording is saved"},
		{name: "Discard", input: "\nd\ny\n", opts: &recordOptions{}, expUploads: 0, expOut: "discard the recording?"},
		{name: "DiscardDeclinedThenSave", input: "\nd\nn\ns\n", opts: &recordOptions{}, expUploads: 1, expOut: "Your recording is saved"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			ts, uploads := fakeRecorderServer(t)
			rs := rst.NewRemoteRecordingStore(&rst.RemoteConfig{ServerAddr: ts.URL})
			out := &bytes.Buffer{}
			view := newTermView(out, strings.NewReader(tc.input))
			c := capture.NewController(&cannedMic{frags: [][]byte{[]byte("ab"), []byte("c")}}, view, rs)
			defer c.Close()
			require.NoError(t, runRecording(context.Background(), c, view, tc.opts))
			require.Len(t, *uploads, tc.expUploads)
			if tc.expUploads > 0 {
				assert.Equal(t, []byte("abc"), (*uploads)[0])
			}
			assert.Contains(t, out.String(), tc.expOut)
			assert.Equal(t, capture.StateIdle, c.State())
		})
	}
}

func TestTermView_Confirm(t *testing.T) {
	tcs := []struct {
		input string
		exp   bool
	}{
		{input: "y\n", exp: true},
		{input: "YES\n", exp: true},
		{input: " y ", exp: true},
		{input: "n\n", exp: false},
		{input: "\n", exp: false},
		{input: "", exp: false},
	}
	for _, tc := range tcs {
		v := newTermView(io.Discard, strings.NewReader(tc.input))
		assert.Equal(t, tc.exp, v.Confirm("sure?"), "input %q", tc.input)
	}
}

func TestListCmd(t *testing.T) {
	ts, uploads := fakeRecorderServer(t)
	*uploads = [][]byte{[]byte("a"), []byte("b")}
	out := &bytes.Buffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetArgs([]string{"list", "--server", ts.URL})
	require.NoError(t, cmd.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], ts.URL+"/1.mp3")
	assert.Contains(t, lines[0], "Paused")
	assert.Contains(t, lines[1], ts.URL+"/2.mp3")
}

func TestListCmdServerDown(t *testing.T) {
	ts, _ := fakeRecorderServer(t)
	ts.Close()
	cmd := newRootCmd()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"list", "--server", ts.URL})
	assert.Error(t, cmd.Execute())
}

type silentPlayer struct{}

func (silentPlayer) Play() error  { return nil }
func (silentPlayer) Pause() error { return nil }
func (silentPlayer) Close() error { return nil }

func TestBrowse_ReloadFailureKeepsGallery(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n > 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(md.ListingResult{Error: "disk gone"})
			return
		}
		_ = json.NewEncoder(w).Encode(md.ListingResult{Success: true, Files: []string{"/1.mp3", "/2.mp3"}, Total: 2})
	}))
	defer ts.Close()
	rs := rst.NewRemoteRecordingStore(&rst.RemoteConfig{ServerAddr: ts.URL})
	g := gallery.New(rs, func(string, func()) gallery.Player { return silentPlayer{} }, md.Page{})
	defer g.Close()
	out := &bytes.Buffer{}
	v := newTermView(out, strings.NewReader("1\nr\nq\n"))
	require.NoError(t, browse(context.Background(), g, v))
	assert.Equal(t, 2, calls)
	// the stale gallery is kept with its playback state
	es := g.Entries()
	require.Len(t, es, 2)
	assert.Equal(t, gallery.Playing, g.State(es[0]))
	assert.NotContains(t, out.String(), "disk gone")
	assert.NotContains(t, out.String(), "could not")
}
