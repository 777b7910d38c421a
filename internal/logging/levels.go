package logging

import "go.uber.org/zap/zapcore"

// TraceLevel is a custom level below Debug for wire-protocol/byte-level
// detail that is almost always filtered in production. Debug is -1.
const TraceLevel = zapcore.Level(-2)

// LevelFromString parses a level string, additionally recognizing "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}
