package stores

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"wuyrush.io/voicememo/common/logging"
	pe "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
)

// RecordingIndex keeps upload metadata the file system does not retain, e.g. the original filename
type RecordingIndex interface {
	Put(rec *md.Recording) *pe.Err
	Get(name string) (*md.Recording, *pe.Err)
	Close() *pe.Err
}

// NopIndex is the RecordingIndex used when no index backend is configured
type NopIndex struct{}

func (NopIndex) Put(*md.Recording) *pe.Err { return nil }

func (NopIndex) Get(name string) (*md.Recording, *pe.Err) {
	return nil, pe.NewNotFound(fmt.Sprintf("recording %s not indexed", name))
}

func (NopIndex) Close() *pe.Err { return nil }

// RedisIndex is a RecordingIndex driven by Redis. Each recording is a hash; a sorted set scored by upload
// time keeps the names in upload order.
type RedisIndex struct {
	DB *redis.Client
}

const (
	fieldNameOriginalFilename = "originalFilename"
	fieldNameContentType      = "contentType"
	fieldNameSize             = "size"
	fieldNameStoredAt         = "storedAtMillis"

	// redis key of the sorted set whose score is the upload time in milliseconds
	keyRecordingSet  = "recordings"
	keyTmplRecording = `recording.%s`
)

func recordingKey(name string) string {
	return fmt.Sprintf(keyTmplRecording, name)
}

func (s *RedisIndex) Put(rec *md.Recording) *pe.Err {
	const errMsg = "error indexing recording"
	clog := logging.WithFuncName().WithField("name", rec.Name)
	millis := rec.StoredAt.UnixNano() / int64(time.Millisecond)
	if _, err := s.DB.TxPipelined(func(p redis.Pipeliner) error {
		p.HMSet(recordingKey(rec.Name), map[string]interface{}{
			fieldNameOriginalFilename: rec.OriginalFilename,
			fieldNameContentType:      rec.ContentType,
			fieldNameSize:             rec.Size,
			fieldNameStoredAt:         millis,
		})
		p.ZAdd(keyRecordingSet, redis.Z{Score: float64(millis), Member: rec.Name})
		return nil
	}); err != nil {
		clog.WithError(err).Error("error calling Redis to index recording")
		return pe.NewServiceFailure(errMsg).WithCause(err)
	}
	return nil
}

func (s *RedisIndex) Get(name string) (*md.Recording, *pe.Err) {
	clog := logging.WithFuncName().WithField("name", name)
	m, err := s.DB.HGetAll(recordingKey(name)).Result()
	if err != nil {
		msg := "error getting recording metadata"
		clog.WithError(err).Error(msg)
		return nil, pe.NewServiceFailure(msg).WithCause(err)
	}
	if len(m) == 0 {
		return nil, pe.NewNotFound(fmt.Sprintf("recording %s not indexed", name))
	}
	return recordingFromHash(name, m)
}

func recordingFromHash(name string, m map[string]string) (*md.Recording, *pe.Err) {
	rec := &md.Recording{
		Name:             name,
		OriginalFilename: m[fieldNameOriginalFilename],
		ContentType:      m[fieldNameContentType],
	}
	size, err := strconv.ParseInt(m[fieldNameSize], 10, 64)
	if err != nil {
		return nil, pe.NewServiceFailure("error unmarshalling recording size").WithCause(err)
	}
	rec.Size = size
	millis, err := strconv.ParseInt(m[fieldNameStoredAt], 10, 64)
	if err != nil {
		return nil, pe.NewServiceFailure("error unmarshalling recording upload time").WithCause(err)
	}
	rec.StoredAt = time.Unix(0, millis*int64(time.Millisecond))
	return rec, nil
}

func (s *RedisIndex) Close() *pe.Err {
	if err := s.DB.Close(); err != nil {
		return pe.NewServiceFailure("failed closing Redis client").WithCause(err)
	}
	return nil
}
