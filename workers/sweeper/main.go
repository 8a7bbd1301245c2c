// Package sweeper vends a long-running worker removing temp files left behind by interrupted uploads.
package main

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bluele/gcache"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"wuyrush.io/voicememo/common/logging"
	cst "wuyrush.io/voicememo/constants"
	pe "wuyrush.io/voicememo/errors"
	st "wuyrush.io/voicememo/stores"
)

func main() {
	if err := runSweeper(); err != nil {
		log.WithError(err).Fatal("error running sweeper")
	}
}

func setDefaults() {
	viper.SetDefault(cst.EnvUploadDir, "uploads")
	viper.SetDefault(cst.EnvSweeperSweepFreq, time.Minute)
	viper.SetDefault(cst.EnvSweeperTempExpiry, time.Hour)
	viper.SetDefault(cst.EnvSweeperExecPoolSize, 4)
	viper.SetDefault(cst.EnvSweeperMaxSweepLoad, 256)
	viper.SetDefault(cst.EnvSweeperWIPCacheExpiry, 5*time.Minute)
}

// junkStore is the part of the recording store the sweeper works with
type junkStore interface {
	Junk(max int, olderThan time.Duration) ([]string, *pe.Err)
	DeleteTemp(name string) *pe.Err
}

type sweeper struct {
	Store      junkStore
	wipCache   gcache.Cache
	quotas     chan struct{}
	maxLoad    int
	tempExpiry time.Duration
	wipExpiry  time.Duration
	wg         sync.WaitGroup
}

func newSweeper(s junkStore, poolSize, maxLoad int, tempExpiry, wipExpiry time.Duration) *sweeper {
	cacheSize := maxLoad
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	return &sweeper{
		Store:      s,
		wipCache:   gcache.New(cacheSize).LRU().Build(),
		quotas:     make(chan struct{}, poolSize),
		maxLoad:    maxLoad,
		tempExpiry: tempExpiry,
		wipExpiry:  wipExpiry,
	}
}

func runSweeper() error {
	viper.AutomaticEnv()
	setDefaults()
	logging.SetupLog("RecordingSweeper", viper.GetBool(cst.EnvVerbose))
	clog := logging.WithFuncName()
	rs, err := st.NewLocalRecordingStore(&st.LocalConfig{Dir: viper.GetString(cst.EnvUploadDir)})
	if err != nil {
		clog.WithError(err).Error("error setting up RecordingStore")
		return err
	}
	defer rs.Close()
	poolSize := viper.GetInt(cst.EnvSweeperExecPoolSize)
	if poolSize <= 0 {
		clog.WithField("execPoolSize", poolSize).Fatal("got non-positive sweeper executor pool size")
	}
	s := newSweeper(
		rs,
		poolSize,
		viper.GetInt(cst.EnvSweeperMaxSweepLoad),
		viper.GetDuration(cst.EnvSweeperTempExpiry),
		viper.GetDuration(cst.EnvSweeperWIPCacheExpiry),
	)
	return s.Run()
}

func (s *sweeper) Run() error {
	clog := logging.WithFuncName()
	freq := viper.GetDuration(cst.EnvSweeperSweepFreq)
	if freq <= 0 {
		clog.WithField("sweepFrequency", freq).Fatal("got non-positive sweeper sweep frequency")
	}
	tkr := time.NewTicker(freq)
	defer tkr.Stop()
	// ensure the worker can be responsive to system signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	return s.loop(tkr.C, sigChan)
}

func (s *sweeper) loop(tick <-chan time.Time, stop <-chan os.Signal) error {
	clog := logging.WithFuncName()
LoopRun:
	for {
		select {
		case <-tick:
			if err := s.Sweep(); err != nil {
				// the upload directory is gone or unreadable
				return err
			}
		case sig := <-stop:
			clog.WithField("signal", sig).Info("got termination signal. Stopping")
			break LoopRun
		}
	}
	s.wg.Wait()
	return nil
}

// Sweep loads a batch of abandoned temp files and dispatches them to the executor pool for removal
func (s *sweeper) Sweep() *pe.Err {
	clog := logging.WithFuncName()
	jks, err := s.Load()
	if err != nil {
		clog.WithError(err).Error("error loading abandoned temp uploads")
		return err
	}
	clog.WithField("count", len(jks)).Debug("abandoned temp uploads loaded")
	for _, jk := range jks {
		s.wg.Add(1)
		go func(name string) {
			defer s.wg.Done()
			s.quotas <- struct{}{}
			defer func() { <-s.quotas }()
			if err := s.Delete(name); err != nil {
				clog.WithError(err).WithField("name", name).Error("error deleting temp upload")
				return
			}
			clog.WithField("name", name).Debug("temp upload deleted")
		}(jk)
	}
	return nil
}

// Load returns up to maxLoad abandoned temp files not already being deleted
func (s *sweeper) Load() ([]string, *pe.Err) {
	clog := logging.WithFuncName()
	jks, err := s.Store.Junk(s.maxLoad, s.tempExpiry)
	if err != nil {
		return nil, err
	}
	newJks := []string{}
	for _, jk := range jks {
		if _, err := s.wipCache.Get(jk); err != gcache.KeyNotFoundError {
			if err != nil {
				msg := "error getting temp upload name from local cache"
				clog.WithError(err).Error(msg)
				return nil, pe.NewServiceFailure(msg).WithCause(err)
			}
			continue
		}
		// best effort: a name we failed to mark is picked up again by a later sweep
		if err := s.wipCache.SetWithExpire(jk, struct{}{}, s.wipExpiry); err != nil {
			clog.WithError(err).WithField("name", jk).Warn("error marking temp upload in local cache")
		}
		newJks = append(newJks, jk)
	}
	return newJks, nil
}

func (s *sweeper) Delete(name string) *pe.Err {
	defer s.wipCache.Remove(name)
	return s.Store.DeleteTemp(name)
}
