package logging

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewParsesLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"WARN":    zerolog.WarnLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for level, want := range cases {
		assert.Equal(t, want, New("test", "prod", level).GetLevel(), level)
	}
}

func TestFromContext(t *testing.T) {
	assert.Equal(t, zerolog.Disabled, FromContext(context.Background()).GetLevel())

	logger := New("test", "prod", "error")
	ctx := logger.WithContext(context.Background())
	assert.Equal(t, zerolog.ErrorLevel, FromContext(ctx).GetLevel())
}
