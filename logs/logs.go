package logs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

/*
	简化版日志，带调用方文件和行号
	级别: 1=debug 2=info 3=warn, error永远输出
*/

var (
	mu       sync.Mutex
	writer   io.Writer = os.Stderr
	logLevel           = 2
)

func SetLevel(level int) {
	mu.Lock()
	logLevel = level
	mu.Unlock()
}

// Touch redirects output, mainly for tests.
func Touch(w io.Writer) {
	mu.Lock()
	writer = w
	mu.Unlock()
}

func DebugLog(format string, args ...interface{}) {
	if logLevel <= 1 {
		output("D", format, args...)
	}
}

func InfoLog(format string, args ...interface{}) {
	if logLevel <= 2 {
		output("I", format, args...)
	}
}

func WarnLog(format string, args ...interface{}) {
	if logLevel <= 3 {
		output("W", format, args...)
	}
}

func ErrorLog(format string, args ...interface{}) {
	output("E", format, args...)
}

func output(level, format string, args ...interface{}) {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	msg := fmt.Sprintf(format, args...)
	now := time.Now().Format("2006-01-02 15:04:05.000")
	mu.Lock()
	fmt.Fprintf(writer, "%s [%s] %s:%d %s\n", now, level, file, line, msg)
	mu.Unlock()
}
