package runcontext

import (
	"fmt"
	"io"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	logy "go.ytsaurus.tech/library/go/core/log/zap"
)

// Loggers share one zap core: Logger is used by the harness packages and
// YTLogger is handed to the SDK clients.
type Loggers struct {
	Logger   logr.Logger
	YTLogger *logy.Logger
	zap      *zap.Logger
}

func (l *Loggers) Sync() {
	if l.zap != nil {
		_ = l.zap.Sync()
	}
}

// SetupLogging builds the loggers writing to w.
func SetupLogging(w io.Writer, level string, json bool) (*Loggers, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	var encoder zapcore.Encoder
	if json {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}
	logger := zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), lvl))
	return &Loggers{
		Logger: zapr.NewLogger(logger),
		YTLogger: &logy.Logger{
			L: logger.WithOptions(zap.IncreaseLevel(max(lvl, zap.InfoLevel))),
		},
		zap: logger,
	}, nil
}
