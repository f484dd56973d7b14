package log

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// formatter renders a logrus.Entry through a simple token-substitution
// pattern rather than logrus's built-in TextFormatter, so relayd's plain
// log lines (spec.md §6's per-block/per-tx lines) and its structured
// fields share one layout. Recognized tokens: %time, %level, %field,
// %msg, %caller, %func, %goroutine.
type formatter struct {
	pattern string
	time    string
}

func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	out := f.pattern
	out = strings.Replace(out, "%time", entry.Time.Format(f.time), 1)
	out = strings.Replace(out, "%level", entry.Level.String(), 1)
	out = strings.Replace(out, "%field", formatFields(entry), 1)
	out = strings.Replace(out, "%msg", entry.Message, 1)
	out = strings.Replace(out, "%caller", callerLocation(entry), 1)
	out = strings.Replace(out, "%func", callerFunc(entry), 1)
	out = strings.Replace(out, "%goroutine", currentGoroutineID(), 1)
	return []byte(out + "\n"), nil
}

// callSkipDepth is how many stack frames separate runtime.Caller's own
// call site from the logrus entry method that invoked Format, used only
// when logrus hasn't already captured entry.Caller (SetReportCaller off).
const callSkipDepth = 8

// callerLocation returns "package/file.go:line" for where the log call
// originated, trimming the path down to the base filename.
func callerLocation(entry *logrus.Entry) string {
	if entry.HasCaller() {
		return fmt.Sprintf("%s/%s:%d", callerPackage(entry.Caller.Function), baseName(entry.Caller.File), entry.Caller.Line)
	}
	if _, file, line, ok := runtime.Caller(callSkipDepth); ok {
		return fmt.Sprintf("unknown/%s:%d", baseName(file), line)
	}
	return "unknown"
}

func baseName(path string) string {
	if i := strings.LastIndex(path, "/"); i != -1 && i+1 < len(path) {
		return path[i+1:]
	}
	return path
}

// callerPackage extracts the last path segment of a fully-qualified
// function name's package portion, e.g. "relaynet.dev/relayd/internal/relay.(*Peer).ReceiveTransaction"
// yields "relay".
func callerPackage(fn string) string {
	rest := fn[strings.LastIndex(fn, "/")+1:]
	if dot := strings.Index(rest, "."); dot != -1 {
		return rest[:dot]
	}
	return ""
}

// callerFunc returns just the method or function name, dropping its
// receiver/package qualification.
func callerFunc(entry *logrus.Entry) string {
	if entry.HasCaller() {
		return lastSegment(entry.Caller.Function)
	}
	pc, _, _, ok := runtime.Caller(callSkipDepth)
	if !ok {
		return "unknown"
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "unknown"
	}
	return lastSegment(fn.Name())
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i != -1 && i+1 < len(name) {
		return name[i+1:]
	}
	return name
}

// currentGoroutineID scrapes the calling goroutine's id off its own
// stack trace header ("goroutine 17 [running]:"). There is no supported
// API for this; it is diagnostic-only and never parsed back out.
func currentGoroutineID() string {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	stack := strings.TrimPrefix(string(buf[:n]), "goroutine ")
	if fields := strings.Fields(stack); len(fields) > 0 {
		return fields[0]
	}
	return "unknown"
}

func formatFields(entry *logrus.Entry) string {
	fields := make([]string, 0, len(entry.Data))
	for key, val := range entry.Data {
		s, ok := val.(string)
		if !ok {
			s = fmt.Sprint(val)
		}
		fields = append(fields, key+"="+s)
	}
	return strings.Join(fields, ",")
}
