package logging

import (
	"io"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	log "github.com/sirupsen/logrus"
	cst "wuyrush.io/voicememo/constants"
)

// ServiceFormatter is a Formatter that:
// 1. logs the unix time in milliseconds;
// 2. logs specified service/service component name;
type ServiceFormatter struct {
	svcName string
	log.Formatter
}

// NewServiceFormatter wraps a timestamp-less JSON formatter for service svc.
func NewServiceFormatter(svc string) *ServiceFormatter {
	return &ServiceFormatter{
		svcName:   svc,
		Formatter: &log.JSONFormatter{DisableTimestamp: true},
	}
}

// passing a mutated *log.Entry value to the downstream formatter has produced panic level logs with an
// empty message before, so only Data is touched here
func (f *ServiceFormatter) Format(e *log.Entry) ([]byte, error) {
	e.Data["epochTimeMillis"] = e.Time.UnixNano() / int64(time.Millisecond)
	e.Data["service"] = f.svcName
	return f.Formatter.Format(e)
}

// SetupLog setups service-specific logging on stdout.
func SetupLog(name string, verbose bool) {
	SetupLogTo(os.Stdout, name, verbose)
}

// SetupLogTo is SetupLog writing to w.
func SetupLogTo(w io.Writer, name string, verbose bool) {
	log.SetOutput(w)
	log.SetFormatter(NewServiceFormatter(name))
	log.SetLevel(log.InfoLevel)
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// WithFuncName returns a *logrus.Entry marked with the name of function calling WithFuncName
func WithFuncName() *logrus.Entry {
	// get the pc of the function that calls the current function
	pc, _, _, ok := runtime.Caller(1)
	var funcName string
	if ok {
		frs := runtime.CallersFrames([]uintptr{pc})
		fr, _ := frs.Next()
		funcName = fr.Function
	}
	return log.WithField(cst.LogFieldFuncName, funcName)
}
