package main

import (
	"net/http"
	"path"
	"strings"

	hr "github.com/julienschmidt/httprouter"
	mw "wuyrush.io/voicememo/common/middleware"
	cst "wuyrush.io/voicememo/constants"
)

// set up routes
func (s *recorderServer) SetupRoutes() {
	r := hr.New()
	chain := func(h hr.Handle) hr.Handle {
		return mw.Chain(h, mw.PanicRecoverer(), mw.AccessLogger())
	}
	r.POST(cst.RouteRecord, chain(s.HandleTaskSaveRecording()))
	r.GET(cst.RouteRecordings, chain(s.HandleTaskListRecordings()))
	r.GET(cst.RouteRecordings+"/:name", chain(s.HandleTaskGetRecording()))

	// stored recordings, read-only. http.FileServer answers Range requests so players can seek
	files := s.recordingFiles()
	prefix := strings.TrimSuffix(s.PublicPath, "/")
	if prefix == "" {
		// a catch-all at root would clash with the API routes
		r.NotFound = files
	} else {
		r.Handler(http.MethodGet, prefix+"/*filepath", files)
		r.Handler(http.MethodHead, prefix+"/*filepath", files)
	}
	s.Router = r
}

func (s *recorderServer) recordingFiles() http.Handler {
	fs := http.StripPrefix(strings.TrimSuffix(s.PublicPath, "/"), http.FileServer(http.Dir(s.UploadDir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}
		// neither directory listings nor in-flight uploads are public
		if strings.HasSuffix(r.URL.Path, "/") || strings.HasPrefix(path.Base(r.URL.Path), ".") {
			http.NotFound(w, r)
			return
		}
		fs.ServeHTTP(w, r)
	})
}
