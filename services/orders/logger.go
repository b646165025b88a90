package main

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const loggerKey = "logger"

// newLogger cria um logger zap JSON com o nível vindo de LOG_LEVEL
func newLogger(levelName string) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(levelName)))); err != nil {
		_ = level.UnmarshalText([]byte("info"))
	}

	encoderCfg := zapcore.EncoderConfig{
		MessageKey: "message",
		TimeKey:    "timestamp",
		LevelKey:   "severity",
		CallerKey:  "caller",
		EncodeTime: zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(strings.ToUpper(level.String()))
		},
		EncodeCaller: zapcore.ShortCallerEncoder,
	}

	cfg := zap.Config{
		Level:             level,
		Encoding:          "json",
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	return cfg.Build()
}

// RequestLogger injeta no contexto gin um logger com o trace_id da requisição
func RequestLogger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := base
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			logger = logger.With(zap.String("trace_id", sc.TraceID().String()))
		}
		c.Set(loggerKey, logger)

		c.Next()

		logger.Debug("request served",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
		)
	}
}

func loggerFrom(c *gin.Context) *zap.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if logger, ok := v.(*zap.Logger); ok {
			return logger
		}
	}
	return zap.NewNop()
}
