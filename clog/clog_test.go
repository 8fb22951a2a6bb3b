package clog

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJSONLogger(t *testing.T, level string, opts ...Option) (Logger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	opts = append(opts, WithWriter(buf))
	l, err := New(&Config{Level: level, Format: "json"}, opts...)
	require.NoError(t, err)
	return l, buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		m := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNew(t *testing.T) {
	t.Run("nil 配置使用开发默认值", func(t *testing.T) {
		l, err := New(nil)
		require.NoError(t, err)
		assert.NotNil(t, l)
	})

	t.Run("非法级别", func(t *testing.T) {
		_, err := New(&Config{Level: "verbose"})
		assert.Error(t, err)
	})

	t.Run("非法格式", func(t *testing.T) {
		_, err := New(&Config{Level: "info", Format: "xml"})
		assert.Error(t, err)
	})

	t.Run("pretty 作为 console 别名", func(t *testing.T) {
		_, err := New(&Config{Level: "info", Format: "pretty"})
		assert.NoError(t, err)
	})
}

func TestNamespaceAndFields(t *testing.T) {
	l, buf := newJSONLogger(t, "debug", WithNamespace("scoutquest"))

	l.WithNamespace("health").With(String("service", "user-service")).
		Info("instance down", Int("port", 3003), Error(errors.New("timeout")))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "scoutquest.health", lines[0][NamespaceKey])
	assert.Equal(t, "user-service", lines[0]["service"])
	assert.Equal(t, float64(3003), lines[0]["port"])
	assert.Equal(t, "timeout", lines[0]["err_msg"])
}

func TestSetLevel(t *testing.T) {
	l, buf := newJSONLogger(t, "info")
	child := l.WithNamespace("api")

	child.Debug("hidden")
	assert.Empty(t, buf.String())

	require.NoError(t, l.SetLevel(DebugLevel))
	child.Debug("visible")
	assert.Len(t, decodeLines(t, buf), 1)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
		err  bool
	}{
		{"DEBUG", DebugLevel, false},
		{"info", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"fatal", FatalLevel, false},
		{"nope", InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.err, err != nil, tt.in)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Info("nothing")
	assert.Equal(t, l, l.WithNamespace("x").With(String("k", "v")))
}
