package lark

import (
	"context"
	"fmt"

	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/rs/zerolog"
)

// logger routes SDK log output through zerolog
type logger struct {
	log zerolog.Logger
}

// NewLogger adapts a zerolog logger to the SDK's logger interface
func NewLogger(log zerolog.Logger) larkcore.Logger {
	return &logger{log: log.With().Str("sdk", "lark").Logger()}
}

func (l *logger) Debug(ctx context.Context, args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprint(args...))
}

func (l *logger) Info(ctx context.Context, args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

func (l *logger) Warn(ctx context.Context, args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

func (l *logger) Error(ctx context.Context, args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}
