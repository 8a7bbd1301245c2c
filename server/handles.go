package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	hr "github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/voicememo/common/logging"
	cst "wuyrush.io/voicememo/constants"
	pe "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
)

// HandleTaskSaveRecording stores the file carried by the `audio` form field. The body is streamed part by
// part so that the upload never gets buffered in memory or in a second temp file.
func (s *recorderServer) HandleTaskSaveRecording() hr.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodPost)
	maxReqBodySize := viper.GetInt64(cst.EnvReqBodySizeMaxByte)
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		if maxReqBodySize > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxReqBodySize)
		}
		mr, err := r.MultipartReader()
		if err != nil {
			clog.WithError(err).Error("error getting multipart reader")
			respJSON(w, http.StatusBadRequest, md.UploadResult{Error: "error reading form data"}, clog)
			return
		}
		part, perr := nextPart(mr, cst.FormFieldAudio)
		if perr != nil {
			clog.WithError(perr).Error("error locating audio form field")
			respJSON(w, perr.StatusCode(), md.UploadResult{Error: perr.Error()}, clog)
			return
		}
		defer part.Close()
		flog := clog.WithField("filename", part.FileName())
		rec, serr := s.RS.Accept(part, part.FileName(), part.Header.Get("Content-Type"))
		if serr != nil {
			code := serr.StatusCode()
			if strings.Contains(serr.Trace(), cst.ErrMsgRequestBodyTooLarge) {
				code = http.StatusRequestEntityTooLarge
			}
			flog.WithError(serr).Error("error saving recording")
			respJSON(w, code, md.UploadResult{Error: serr.Error()}, flog)
			return
		}
		// the recording is durable at this point; the index only enriches metadata lookups
		if ierr := s.Index.Put(rec); ierr != nil {
			flog.WithError(ierr).WithField("name", rec.Name).Warn("error indexing recording")
		}
		respJSON(w, http.StatusOK, md.UploadResult{Success: true}, flog)
	}
}

// nextPart skips form parts until the one named field
func nextPart(mr *multipart.Reader, field string) (*multipart.Part, *pe.Err) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, pe.NewBadInput(fmt.Sprintf("form field %s not found", field))
		}
		if err != nil {
			if strings.Contains(err.Error(), cst.ErrMsgRequestBodyTooLarge) {
				return nil, pe.NewOversized().WithCause(err)
			}
			return nil, pe.NewBadInput("error reading form part").WithCause(err)
		}
		if part.FormName() == field {
			return part, nil
		}
		part.Close()
	}
}

// HandleTaskListRecordings answers the public references of all playable recordings, oldest first.
// Optional `offset` and `limit` query parameters select a page.
func (s *recorderServer) HandleTaskListRecordings() hr.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodGet)
	return func(w http.ResponseWriter, r *http.Request, _ hr.Params) {
		p, perr := parsePage(r)
		if perr != nil {
			respJSON(w, perr.StatusCode(), md.ListingResult{Files: []string{}, Error: perr.Error()}, clog)
			return
		}
		l, lerr := s.RS.List(p)
		if lerr != nil {
			clog.WithError(lerr).Error("error listing recordings")
			respJSON(w, lerr.StatusCode(), md.ListingResult{Files: []string{}, Error: lerr.Error()}, clog)
			return
		}
		respJSON(w, http.StatusOK, md.ListingResult{Success: true, Files: l.Files, Total: l.Total}, clog)
	}
}

func parsePage(r *http.Request) (md.Page, *pe.Err) {
	var p md.Page
	q := r.URL.Query()
	for _, f := range []struct {
		key string
		dst *int
	}{
		{"offset", &p.Offset},
		{"limit", &p.Limit},
	} {
		v := q.Get(f.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, pe.NewBadInput(fmt.Sprintf("invalid %s %q", f.key, v))
		}
		*f.dst = n
	}
	return p, nil
}

// HandleTaskGetRecording answers the metadata of one stored recording
func (s *recorderServer) HandleTaskGetRecording() hr.Handle {
	clog := logging.WithFuncName().WithField("httpMethod", http.MethodGet)
	type View struct {
		Success   bool          `json:"success"`
		Recording *md.Recording `json:"recording,omitempty"`
		URL       string        `json:"url,omitempty"`
		Error     string        `json:"error,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request, ps hr.Params) {
		name := ps.ByName("name")
		nlog := clog.WithField("name", name)
		rec, err := s.RS.Stat(name)
		if err != nil {
			nlog.WithError(err).Error("error getting recording")
			respJSON(w, err.StatusCode(), View{Error: err.Error()}, nlog)
			return
		}
		if meta, ierr := s.Index.Get(name); ierr == nil {
			rec.OriginalFilename, rec.ContentType = meta.OriginalFilename, meta.ContentType
		} else if ierr.Code != pe.ErrCodeNotFound {
			nlog.WithError(ierr).Warn("error reading recording index")
		}
		respJSON(w, http.StatusOK, View{Success: true, Recording: rec, URL: s.RS.Ref(name)}, nlog)
	}
}

// -------------- utils --------------
func respJSON(w http.ResponseWriter, statusCode int, data interface{}, log *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("error writing response body")
	}
}
