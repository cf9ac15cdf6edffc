package ytconfig

import (
	"fmt"
	"path"
)

type LogLevel string

const (
	LogLevelTrace   LogLevel = "trace"
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

type LogWriterType string

const (
	LogWriterTypeFile   LogWriterType = "file"
	LogWriterTypeStderr LogWriterType = "stderr"
)

type LogFormat string

const (
	LogFormatPlainText LogFormat = "plain_text"
	LogFormatJSON      LogFormat = "json"
)

// LoggerSpec describes one writer and the rule routing messages into it.
type LoggerSpec struct {
	Name        string
	MinLogLevel LogLevel
	WriterType  LogWriterType
	Format      LogFormat
	// Categories limits the rule to the listed categories when set.
	Categories []string
}

func defaultStderrLoggerSpec() LoggerSpec {
	return LoggerSpec{
		Name:        "stderr",
		MinLogLevel: LogLevelError,
		WriterType:  LogWriterTypeStderr,
	}
}

func defaultDebugLoggerSpec() LoggerSpec {
	return LoggerSpec{
		Name:        "debug",
		MinLogLevel: LogLevelDebug,
		WriterType:  LogWriterTypeFile,
	}
}

func defaultInfoLoggerSpec() LoggerSpec {
	return LoggerSpec{
		Name:        "info",
		MinLogLevel: LogLevelInfo,
		WriterType:  LogWriterTypeFile,
	}
}

type LoggingRule struct {
	MinLevel          LogLevel `yson:"min_level,omitempty"`
	Writers           []string `yson:"writers,omitempty"`
	IncludeCategories []string `yson:"include_categories,omitempty"`
}

type LoggingWriter struct {
	WriterType LogWriterType `yson:"type,omitempty"`
	FileName   string        `yson:"file_name,omitempty"`
	Format     LogFormat     `yson:"format,omitempty"`
}

type Logging struct {
	Writers     map[string]LoggingWriter `yson:"writers"`
	Rules       []LoggingRule            `yson:"rules"`
	FlushPeriod int                      `yson:"flush_period,omitempty"`
}

type loggingBuilder struct {
	loggingDirectory string
	componentName    string
	logging          Logging
}

func newLoggingBuilder(loggingDirectory string, componentName string) loggingBuilder {
	return loggingBuilder{
		loggingDirectory: loggingDirectory,
		componentName:    componentName,
		logging: Logging{
			Rules:   make([]LoggingRule, 0),
			Writers: make(map[string]LoggingWriter),
		},
	}
}

func (b *loggingBuilder) addLogger(loggerSpec LoggerSpec) *loggingBuilder {
	b.logging.Rules = append(b.logging.Rules, LoggingRule{
		MinLevel:          loggerSpec.MinLogLevel,
		Writers:           []string{loggerSpec.Name},
		IncludeCategories: loggerSpec.Categories,
	})

	writer := LoggingWriter{
		WriterType: loggerSpec.WriterType,
		Format:     loggerSpec.Format,
	}

	if writer.WriterType == LogWriterTypeFile {
		writer.FileName = path.Join(b.loggingDirectory, fmt.Sprintf("%s.%s.log", b.componentName, loggerSpec.Name))
	}

	b.logging.Writers[loggerSpec.Name] = writer

	return b
}

func (b *loggingBuilder) addDefaultDebug() *loggingBuilder {
	return b.addLogger(defaultDebugLoggerSpec())
}

func (b *loggingBuilder) addDefaultInfo() *loggingBuilder {
	return b.addLogger(defaultInfoLoggerSpec())
}

func (b *loggingBuilder) addDefaultStderr() *loggingBuilder {
	return b.addLogger(defaultStderrLoggerSpec())
}

// createLogging writes logs of one process into its sandbox directory.
func createLogging(dir string, componentName string, debug bool) Logging {
	b := newLoggingBuilder(dir, componentName)
	b.addDefaultInfo()
	if debug {
		b.addDefaultDebug()
	}
	b.addDefaultStderr()
	b.logging.FlushPeriod = 3000
	return b.logging
}
