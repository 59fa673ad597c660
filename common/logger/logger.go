package logger

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	Logger *zap.Logger
)

type LogLevel int8

const (
	DebugLevel LogLevel = iota - 1
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Options mirrors the [log] section of the machine config.
type Options struct {
	Level      string
	File       string
	Color      bool
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

func ParseLevel(level string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func newEncoder(supportColor bool) zapcore.Encoder {
	encodeLevel := zapcore.CapitalLevelEncoder
	if supportColor {
		encodeLevel = zapcore.CapitalColorLevelEncoder
	}
	encoderConfig := zapcore.EncoderConfig{
		MessageKey:       "message",
		LevelKey:         "level",
		TimeKey:          "time",
		CallerKey:        "caller",
		EncodeLevel:      encodeLevel,
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		ConsoleSeparator: " ",
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func newConsoleCore(encoder zapcore.Encoder, level zapcore.Level) zapcore.Core {
	return zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
}

func newFileCore(encoder zapcore.Encoder, level zapcore.Level, opts Options) zapcore.Core {
	logFile := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSize,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAge,
		Compress:   false,
		LocalTime:  true,
	}
	return zapcore.NewCore(encoder, zapcore.AddSync(logFile), level)
}

// InitLogger installs the package logger. The rotating file core is only
// attached when a file name is configured.
func InitLogger(opts Options) {
	encoder := newEncoder(opts.Color)
	level := zapcore.Level(ParseLevel(opts.Level))

	cores := []zapcore.Core{newConsoleCore(encoder, level)}
	if opts.File != "" {
		cores = append(cores, newFileCore(newEncoder(false), level, opts))
	}
	Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

// Named returns a child sugared logger for one mechanics component, or a
// no-op logger before InitLogger has run.
func Named(component string, fields ...interface{}) *zap.SugaredLogger {
	if Logger == nil {
		return zap.NewNop().Sugar()
	}
	return Logger.Named(component).WithOptions(zap.AddCallerSkip(-1)).Sugar().With(fields...)
}

func Sync() {
	if Logger != nil {
		err := Logger.Sync()
		if err != nil {
			log.Printf("failed to sync logger: %v", err)
		}
	}
}

func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Sugar().Infof(format, args...)
	}
}

func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Sugar().Info(args...)
	}
}

func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Sugar().Debugf(format, args...)
	}
}

func Debug(args ...interface{}) {
	if Logger != nil {
		Logger.Sugar().Debug(args...)
	}
}

func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Sugar().Warnf(format, args...)
	}
}

func Warn(args ...interface{}) {
	if Logger != nil {
		Logger.Sugar().Warn(args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Sugar().Errorf(format, args...)
	}
}

func Error(args ...interface{}) {
	if Logger != nil {
		Logger.Sugar().Error(args...)
	}
}

func Fatalf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	if Logger != nil {
		Logger.Error(message)
		Logger.Sync()
	} else {
		log.Print(message)
	}
	os.Exit(1)
}
