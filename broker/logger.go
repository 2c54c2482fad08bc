package broker

import (
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

// emit forwards a single NSQ log line into the project logger, mapping the NSQ
// level tags onto our own levels. NSQ is chatty, so its levels are shifted one
// notch down (info becomes debug, debug becomes trace).
func emit(logger log.Logger, level string, source string, msg string) {
	switch level {
	case "DEBUG", "DBG":
		logger.Trace(source+" emitted log", "msg", msg)
	case "INFO", "INF":
		logger.Debug(source+" emitted log", "msg", msg)
	case "WARNING", "WRN":
		logger.Warn(source+" emitted log", "msg", msg)
	case "ERROR", "ERR", "FATAL":
		logger.Error(source+" emitted log", "msg", msg)
	default:
		logger.Error(source+" emitted unknown log", "level", level, "msg", msg)
	}
}

// nsqdLogger wraps the log messages emitted by the NSQ daemon into log messages
// native to this project.
type nsqdLogger struct {
	logger log.Logger
}

// Output implements the lg.Logger interface used by NSQ. Lines have the form of
// "LEVEL: [module: ]message".
func (l *nsqdLogger) Output(maxdepth int, s string) error {
	level, rest := splitWord(s)
	level = strings.TrimSuffix(level, ":")

	logger := l.logger
	if module, msg := splitWord(rest); strings.HasSuffix(module, ":") {
		logger, rest = l.logger.New("module", strings.ToLower(strings.TrimSuffix(module, ":"))), msg
	}
	emit(logger, level, "Discovery broker", rest)
	return nil
}

// nsqProducerLogger wraps the log messages emitted by NSQ producers into log
// messages native to this project.
type nsqProducerLogger struct {
	logger log.Logger
}

// Output implements the lg.Logger interface used by NSQ. Lines have the form of
// "LVL id (addr) message".
func (l *nsqProducerLogger) Output(maxdepth int, s string) error {
	if len(s) < 3 {
		return nil
	}
	level, rest := s[:3], strings.TrimSpace(s[3:])

	id, rest := splitWord(rest)
	addr, rest := splitWord(rest)

	emit(l.logger.New("id", id, "nsqd", strings.Trim(addr, "()")), level, "Discovery producer", rest)
	return nil
}

// nsqConsumerLogger wraps the log messages emitted by NSQ consumers into log
// messages native to this project.
type nsqConsumerLogger struct {
	logger log.Logger
}

// Output implements the lg.Logger interface used by NSQ. Lines have the form of
// "LVL id [topic/channel] message".
func (l *nsqConsumerLogger) Output(maxdepth int, s string) error {
	if len(s) < 3 {
		return nil
	}
	level, rest := s[:3], strings.TrimSpace(s[3:])

	id, rest := splitWord(rest)
	sub, rest := splitWord(rest)

	emit(l.logger.New("id", id, "sub", strings.Trim(sub, "[]")), level, "Discovery consumer", rest)
	return nil
}

// splitWord splits off the first space separated word of a string.
func splitWord(s string) (string, string) {
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return s, ""
	}
	return s[:idx], s[idx+1:]
}
