package main

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis"
	hr "github.com/julienschmidt/httprouter"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/voicememo/common/logging"
	rt "wuyrush.io/voicememo/common/retry"
	cst "wuyrush.io/voicememo/constants"
	pe "wuyrush.io/voicememo/errors"
	st "wuyrush.io/voicememo/stores"
)

// recorderServer accepts uploaded recordings, lists them and serves them back for playback
type recorderServer struct {
	RS         st.RecordingStore
	Index      st.RecordingIndex
	UploadDir  string
	PublicPath string
	Router     *hr.Router
}

func (s *recorderServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

func main() {
	if err := serve(); err != nil {
		log.WithError(err).Fatal("error starting up recorder server")
	}
}

func setDefaults() {
	viper.SetDefault(cst.EnvAppPort, "3000")
	viper.SetDefault(cst.EnvUploadDir, "uploads")
	viper.SetDefault(cst.EnvPublicPath, "/")
	viper.SetDefault(cst.EnvListingCacheSize, 16)
	viper.SetDefault(cst.EnvListingCacheTTL, 2*time.Second)
	viper.SetDefault(cst.EnvRedisPort, "6379")
}

// start up recorder server and serve incoming requests
func serve() error {
	// read configuration from env vars
	viper.AutomaticEnv()
	setDefaults()
	logging.SetupLog("RecorderServer", viper.GetBool(cst.EnvVerbose))

	rs, err := setupRecordingStore()
	if err != nil {
		return err
	}
	defer rs.Close()
	idx, err := setupIndex()
	if err != nil {
		return err
	}
	defer idx.Close()

	svr := &recorderServer{
		RS:         rs,
		Index:      idx,
		UploadDir:  rs.Dir,
		PublicPath: rs.PublicPath,
	}
	svr.SetupRoutes()

	host, port := viper.GetString(cst.EnvAppHost), viper.GetString(cst.EnvAppPort)
	log.WithFields(log.Fields{
		"host":      host,
		"port":      port,
		"uploadDir": rs.Dir,
		"build":     version.Info(),
	}).Info("recorder server is starting up")
	s := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", host, port),
		Handler:        svr,
		ReadTimeout:    time.Minute,
		WriteTimeout:   time.Minute,
		MaxHeaderBytes: 1 << 16,
	}
	return s.ListenAndServe()
}

func setupRecordingStore() (*st.LocalRecordingStore, error) {
	rs, err := st.NewLocalRecordingStore(&st.LocalConfig{
		Dir:         viper.GetString(cst.EnvUploadDir),
		PublicPath:  viper.GetString(cst.EnvPublicPath),
		MaxSizeByte: viper.GetInt64(cst.EnvReqBodySizeMaxByte),
		CacheSize:   viper.GetInt(cst.EnvListingCacheSize),
		CacheTTL:    viper.GetDuration(cst.EnvListingCacheTTL),
	})
	if err != nil {
		return nil, err
	}
	return rs, nil
}

// setupIndex connects to Redis when it is configured; recordings are served from the upload directory alone
// otherwise
func setupIndex() (st.RecordingIndex, error) {
	host := viper.GetString(cst.EnvRedisHost)
	if strings.TrimSpace(host) == "" {
		log.Info("no Redis configured, running without recording index")
		return st.NopIndex{}, nil
	}
	retryOpts := []rt.RetryOption{
		rt.WithTimeout(3 * time.Second),
		rt.WithBaseDelay(100 * time.Millisecond),
		rt.WithExp(2.0),
		rt.WithRetryOn(rt.IsDepOffline),
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:       fmt.Sprintf("%s:%s", host, viper.GetString(cst.EnvRedisPort)),
		Password:   viper.GetString(cst.EnvRedisPasswd),
		DB:         viper.GetInt(cst.EnvRedisDB),
		MaxRetries: 3,
	})
	// verify the client is up correctly
	pingFn := func() error {
		_, err := redisClient.Ping().Result()
		return err
	}
	if err := rt.Retry(pingFn, retryOpts...); err != nil {
		redisClient.Close()
		return nil, pe.NewServiceFailure("failed initializing Redis").WithCause(err)
	}
	return &st.RedisIndex{DB: redisClient}, nil
}
