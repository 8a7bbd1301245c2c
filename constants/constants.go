// Package constants vends constants used in various components of voicememo, e.g., env var names
package constants

const (
	// -------------- env vars --------------
	// server
	EnvVerbose               = "RECORDER_VERBOSE"
	EnvAppHost               = "RECORDER_HOST"
	EnvAppPort               = "PORT"
	EnvUploadDir             = "RECORDER_UPLOAD_DIR"
	EnvPublicPath            = "RECORDER_PUBLIC_PATH"
	EnvReqBodySizeMaxByte    = "RECORDER_REQ_BODY_SIZE_MAX_BYTE"
	EnvListingCacheSize      = "RECORDER_LISTING_CACHE_SIZE"
	EnvListingCacheTTL       = "RECORDER_LISTING_CACHE_TTL"
	EnvReaderPort            = "RECORDER_READER_PORT"
	EnvRedisHost             = "REDIS_HOST"
	EnvRedisPort             = "REDIS_PORT"
	EnvRedisPasswd           = "REDIS_PASSWD"
	EnvRedisDB               = "REDIS_DB"
	EnvSweeperSweepFreq      = "RECORDER_SWEEPER_SWEEP_FREQ"
	EnvSweeperTempExpiry     = "RECORDER_SWEEPER_TEMP_EXPIRY"
	EnvSweeperExecPoolSize   = "RECORDER_SWEEPER_EXEC_POOL_SIZE"
	EnvSweeperMaxSweepLoad   = "RECORDER_SWEEPER_MAX_SWEEP_LOAD"
	EnvSweeperWIPCacheExpiry = "RECORDER_SWEEPER_WIP_CACHE_ENTRY_EXPIRY"
	// client
	EnvClientVerbose     = "RECORDER_CLIENT_VERBOSE"
	EnvServerURL         = "RECORDER_SERVER_URL"
	EnvFFmpegInputFormat = "RECORDER_FFMPEG_INPUT_FORMAT"
	EnvFFmpegInputDevice = "RECORDER_FFMPEG_INPUT_DEVICE"

	// -------------- recordings --------------
	// CanonicalExt is the only extension listed as a playable recording
	CanonicalExt = "mp3"
	// AssetContentType is the container type a finalized capture is tagged with
	AssetContentType = "audio/mp3"
	// SuggestedFilename is the filename a capture is uploaded under
	SuggestedFilename = "recording.mp3"
	// FormFieldAudio is the multipart form field carrying the upload
	FormFieldAudio = "audio"
	// TempFileExt marks in-flight uploads in the upload directory
	TempFileExt = "part"

	// -------------- routes --------------
	RouteRecord     = "/record"
	RouteRecordings = "/recordings"

	// -------------- error messages --------------
	ErrMsgRequestBodyTooLarge = "request body too large"

	// -------------- log fields --------------
	LogFieldFuncName = "funcName"
)
