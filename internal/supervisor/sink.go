package supervisor

import (
	"bytes"
	"sync"

	"github.com/darkware/zapretd/pkg/logger"
)

// maxLine bounds a buffered partial line; longer runs are logged in pieces.
const maxLine = 4096

// LogSink forwards process output to a logger one line at a time.
type LogSink struct {
	mu  sync.Mutex
	buf []byte
	log logger.Logger
}

// NewLogSink returns a writer that logs each complete line at debug level.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = append(s.buf, p...)
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimRight(s.buf[:i], "\r"); len(line) > 0 {
			s.log.Debug(string(line))
		}
		s.buf = s.buf[i+1:]
	}
	for len(s.buf) >= maxLine {
		s.log.Debug(string(s.buf[:maxLine]))
		s.buf = s.buf[maxLine:]
	}
	return len(p), nil
}

// Flush logs any trailing partial line. Spawned processes call it on exit.
func (s *LogSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) > 0 {
		s.log.Debug(string(s.buf))
		s.buf = nil
	}
}

// Personal.AI order the ending
