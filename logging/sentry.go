package logging

import (
	"bufio"
	"bytes"
	"log/slog"
	"strings"
)

// SentryWriter forwards the sentry SDK's debug output to slog at debug level.
type SentryWriter struct {
	logger *slog.Logger
}

func NewSentryWriter(logger *slog.Logger) *SentryWriter {
	return &SentryWriter{logger: logger}
}

func (s *SentryWriter) Write(p []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "[Sentry]") {
			// "[Sentry] 2024/01/02 15:04:05 message"
			if parts := strings.SplitN(line, " ", 4); len(parts) == 4 {
				line = parts[3]
			}
		}
		s.logger.Debug(line)
	}
	return len(p), nil
}
