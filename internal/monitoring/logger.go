package monitoring

import "go.uber.org/zap"

// Logf is the package-level diagnostic logger. It defaults to a zap production
// logger but may be replaced by SetLogger or UseZap. Tests or production code
// can redirect or mute it.
var Logf func(format string, v ...interface{}) = defaultLogf()

func defaultLogf() func(format string, v ...interface{}) {
	l, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop().Sugar().Infof
	}
	return l.Sugar().Infof
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// UseZap routes Logf through the given zap logger at info level.
func UseZap(l *zap.Logger) {
	if l == nil {
		SetLogger(nil)
		return
	}
	Logf = l.Sugar().Infof
}
