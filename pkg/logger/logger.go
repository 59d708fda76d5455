package logger

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger struct {
	*logrus.Logger
	fields logrus.Fields
}

type contextKey string

const (
	CallIDKey    contextKey = "call_id"
	SessionIDKey contextKey = "session_id"
	ChannelKey   contextKey = "channel"
)

var (
	defaultLogger = &Logger{Logger: logrus.New(), fields: logrus.Fields{}}
)

type Config struct {
	Level  string
	Format string
	File   FileConfig
	Fields map[string]interface{}
}

type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

func Init(cfg Config) error {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "@timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	}

	if cfg.File.Enabled {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSize,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAge,
			Compress:   cfg.File.Compress,
		})
	} else {
		log.SetOutput(os.Stdout)
	}

	fields := logrus.Fields{
		"app": "pbx-call-control",
		"pid": os.Getpid(),
	}
	for k, v := range cfg.Fields {
		fields[k] = v
	}

	defaultLogger = &Logger{
		Logger: log,
		fields: fields,
	}

	return nil
}

// WithContext returns a logger carrying the call identifiers stored in ctx.
func WithContext(ctx context.Context) *Logger {
	fields := logrus.Fields{}
	for _, key := range []contextKey{CallIDKey, SessionIDKey, ChannelKey} {
		if v := ctx.Value(key); v != nil {
			fields[string(key)] = v
		}
	}
	return defaultLogger.WithFields(fields)
}

// WithCall stores the call identifiers used by WithContext.
func WithCall(ctx context.Context, sessionID, callID, channel string) context.Context {
	ctx = context.WithValue(ctx, SessionIDKey, sessionID)
	ctx = context.WithValue(ctx, CallIDKey, callID)
	if channel != "" {
		ctx = context.WithValue(ctx, ChannelKey, channel)
	}
	return ctx
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newFields := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}
	return &Logger{Logger: l.Logger, fields: newFields}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithFields(map[string]interface{}{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	})
}

// entry turns trailing key/value pairs into fields. An odd trailing key is
// kept under "extra".
func (l *Logger) entry(keyvals []interface{}) *logrus.Entry {
	fields := make(logrus.Fields, len(l.fields)+len(keyvals)/2)
	for k, v := range l.fields {
		fields[k] = v
	}
	for i := 0; i < len(keyvals); i += 2 {
		if i+1 >= len(keyvals) {
			fields["extra"] = keyvals[i]
			break
		}
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		if err, isErr := keyvals[i+1].(error); isErr {
			fields[key] = err.Error()
			continue
		}
		fields[key] = keyvals[i+1]
	}
	return l.Logger.WithFields(fields)
}

func (l *Logger) Debug(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Debug(msg)
}

func (l *Logger) Info(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Info(msg)
}

func (l *Logger) Warn(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Warn(msg)
}

func (l *Logger) Error(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Error(msg)
}

func (l *Logger) Fatal(msg string, keyvals ...interface{}) {
	l.entry(keyvals).Fatal(msg)
}

// Convenience functions
func Debug(msg string, keyvals ...interface{}) { defaultLogger.Debug(msg, keyvals...) }

func Info(msg string, keyvals ...interface{}) { defaultLogger.Info(msg, keyvals...) }

func Warn(msg string, keyvals ...interface{}) { defaultLogger.Warn(msg, keyvals...) }

func Error(msg string, keyvals ...interface{}) { defaultLogger.Error(msg, keyvals...) }

func Fatal(msg string, keyvals ...interface{}) { defaultLogger.Fatal(msg, keyvals...) }

func WithField(key string, value interface{}) *Logger {
	return defaultLogger.WithField(key, value)
}

func WithError(err error) *Logger {
	return defaultLogger.WithError(err)
}
