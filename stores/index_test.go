package stores

import (
	"testing"
	"time"

	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pe "wuyrush.io/voicememo/errors"
	md "wuyrush.io/voicememo/models"
)

func TestNopIndex(t *testing.T) {
	var idx RecordingIndex = NopIndex{}
	assert.Nil(t, idx.Put(&md.Recording{Name: "1700000000000.mp3"}))
	_, err := idx.Get("1700000000000.mp3")
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeNotFound, err.Code)
	assert.Nil(t, idx.Close())
}

func TestRecordingFromHash(t *testing.T) {
	tcs := []struct {
		name    string
		hash    map[string]string
		failed  bool
		expSize int64
	}{
		{
			name: "HappyCase",
			hash: map[string]string{
				fieldNameOriginalFilename: "recording.mp3",
				fieldNameContentType:      "audio/mp3",
				fieldNameSize:             "42",
				fieldNameStoredAt:         "1700000000123",
			},
			expSize: 42,
		},
		{
			name:   "BadSize",
			hash:   map[string]string{fieldNameSize: "junk", fieldNameStoredAt: "1"},
			failed: true,
		},
		{
			name:   "BadTime",
			hash:   map[string]string{fieldNameSize: "1", fieldNameStoredAt: "junk"},
			failed: true,
		},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			rec, err := recordingFromHash("1700000000123.mp3", c.hash)
			if c.failed {
				require.NotNil(t, err)
				assert.Equal(t, pe.ErrCodeServiceFailure, err.Code)
				return
			}
			require.Nil(t, err)
			assert.Equal(t, c.expSize, rec.Size)
			assert.Equal(t, "recording.mp3", rec.OriginalFilename)
			assert.Equal(t, "audio/mp3", rec.ContentType)
			assert.Equal(t, int64(1700000000123), rec.StoredAt.UnixNano()/int64(time.Millisecond))
		})
	}
}

func TestRedisIndex_Unreachable(t *testing.T) {
	idx := &RedisIndex{DB: redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  0,
		DialTimeout: 100 * time.Millisecond,
	})}
	defer idx.Close()

	err := idx.Put(&md.Recording{Name: "1700000000000.mp3", StoredAt: time.Now()})
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeServiceFailure, err.Code)

	_, err = idx.Get("1700000000000.mp3")
	require.NotNil(t, err)
	assert.Equal(t, pe.ErrCodeServiceFailure, err.Code)
}
