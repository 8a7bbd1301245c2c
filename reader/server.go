// Package main vends the reader: a read-only replica of the recorder server's listing and playback surface,
// meant to run next to the server on the same upload directory and take its read traffic.
package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/voicememo/common/logging"
	cst "wuyrush.io/voicememo/constants"
	pe "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
	st "wuyrush.io/voicememo/stores"
)

// reader handles read traffic of the recorder. Multiple readers may serve one upload directory.
type reader struct {
	RS         st.RecordingStore
	PublicPath string
	Router     *gin.Engine
}

func main() {
	if err := serve(); err != nil {
		log.WithError(err).Fatal("error running reader")
	}
}

func setDefaults() {
	viper.SetDefault(cst.EnvReaderPort, "3001")
	viper.SetDefault(cst.EnvUploadDir, "uploads")
	viper.SetDefault(cst.EnvPublicPath, "/")
	viper.SetDefault(cst.EnvListingCacheSize, 16)
	viper.SetDefault(cst.EnvListingCacheTTL, 2*time.Second)
}

func serve() error {
	viper.AutomaticEnv()
	setDefaults()
	logging.SetupLog("RecorderReader", viper.GetBool(cst.EnvVerbose))
	gin.SetMode(gin.ReleaseMode)
	rs, err := st.NewLocalRecordingStore(&st.LocalConfig{
		Dir:        viper.GetString(cst.EnvUploadDir),
		PublicPath: viper.GetString(cst.EnvPublicPath),
		CacheSize:  viper.GetInt(cst.EnvListingCacheSize),
		CacheTTL:   viper.GetDuration(cst.EnvListingCacheTTL),
	})
	if err != nil {
		return err
	}
	defer rs.Close()
	r := setup(rs)
	addr := fmt.Sprintf("%s:%s", viper.GetString(cst.EnvAppHost), viper.GetString(cst.EnvReaderPort))
	log.WithField("addr", addr).WithField("uploadDir", rs.Dir).WithField("build", version.Info()).Info("starting up reader")
	return r.Router.Run(addr)
}

func setup(rs *st.LocalRecordingStore) *reader {
	r := &reader{RS: rs, PublicPath: rs.PublicPath}
	r.SetupRoutes()
	return r
}

func (r *reader) SetupRoutes() {
	rt := gin.New()
	rt.Use(gin.Recovery(), accessLogger())

	rt.GET(cst.RouteRecordings, r.HandleTaskListRecordings)
	rt.GET(cst.RouteRecordings+"/:name", r.HandleTaskGetRecording)
	prefix := strings.TrimSuffix(r.PublicPath, "/")
	if prefix == "" {
		// a catch-all at root would clash with the API routes
		rt.NoRoute(r.HandleTaskServeRecording)
	} else {
		rt.GET(prefix+"/:name", r.HandleTaskServeRecording)
		rt.HEAD(prefix+"/:name", r.HandleTaskServeRecording)
	}
	r.Router = rt
}

type pageQuery struct {
	Offset int `form:"offset" binding:"min=0"`
	Limit  int `form:"limit" binding:"min=0"`
}

func (r *reader) HandleTaskListRecordings(ctx *gin.Context) {
	clog := logging.WithFuncName()
	var q pageQuery
	if err := ctx.ShouldBindQuery(&q); err != nil {
		ctx.JSON(http.StatusBadRequest, md.ListingResult{Files: []string{}, Error: "invalid offset or limit"})
		return
	}
	l, err := r.RS.List(md.Page{Offset: q.Offset, Limit: q.Limit})
	if err != nil {
		clog.WithError(err).Error("error listing recordings")
		ctx.JSON(err.StatusCode(), md.ListingResult{Files: []string{}, Error: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, md.ListingResult{Success: true, Files: l.Files, Total: l.Total})
}

func (r *reader) HandleTaskGetRecording(ctx *gin.Context) {
	name := ctx.Param("name")
	rec, err := r.RS.Stat(name)
	if err != nil {
		if err.Code != pe.ErrCodeNotFound {
			logging.WithFuncName().WithError(err).WithField("name", name).Error("error getting recording")
		}
		ctx.JSON(err.StatusCode(), gin.H{"success": false, "error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "recording": rec, "url": r.RS.Ref(name)})
}

// HandleTaskServeRecording serves the bytes of a stored recording, honoring Range requests
func (r *reader) HandleTaskServeRecording(ctx *gin.Context) {
	if ctx.Request.Method != http.MethodGet && ctx.Request.Method != http.MethodHead {
		ctx.Status(http.StatusNotFound)
		return
	}
	name := ctx.Param("name")
	if name == "" {
		name = strings.TrimPrefix(ctx.Request.URL.Path, "/")
	}
	// hidden temp files and anything outside the upload directory are refused here
	rec, err := r.RS.Stat(name)
	if err != nil {
		ctx.Status(err.StatusCode())
		return
	}
	ctx.File(rec.Location)
}

func accessLogger() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		log.WithFields(log.Fields{
			"httpMethod": ctx.Request.Method,
			"path":       ctx.Request.URL.Path,
			"status":     ctx.Writer.Status(),
			"latency":    time.Since(start),
		}).Debug("request served")
	}
}
