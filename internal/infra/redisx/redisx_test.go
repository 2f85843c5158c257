package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewClientFromURL_BadURL(t *testing.T) {
	_, err := NewClientFromURL(context.Background(), "http://not-redis", DefaultOptions())
	require.ErrorContains(t, err, "parse redis url")
	require.NotErrorIs(t, err, ErrUnreachable)
}

func TestNewClientFromURL_Unreachable(t *testing.T) {
	o := DefaultOptions()
	o.Timeout = 50 * time.Millisecond
	o.PingTimeout = 200 * time.Millisecond

	_, err := NewClientFromURL(context.Background(), "redis://127.0.0.1:1/0", o)
	require.ErrorContains(t, err, "ping redis 127.0.0.1:1")
	require.ErrorIs(t, err, ErrUnreachable)
}
