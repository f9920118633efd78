package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *Logger {
	return New(&Options{Level: "debug", Format: "json", Output: buf, ServiceName: "test"})
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	return m
}

func TestContextFieldsPropagate(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())
	ctx = SetRequestID(ctx, "req-1")
	ctx = SetUserID(ctx, "u-7")

	CtxInfo(ctx, "hello %s", "world")

	line := decodeLine(t, &buf)
	assert.Equal(t, "hello world", line["message"])
	assert.Equal(t, "req-1", line[FieldRequestID])
	assert.Equal(t, "u-7", line[FieldUserID])
	assert.Equal(t, "test", line["service"])
	assert.Equal(t, "req-1", GetRequestID(ctx))
}

func TestEntryMergesFields(t *testing.T) {
	var buf bytes.Buffer
	ctx := newBufferLogger(&buf).WithContext(context.Background())

	With(Fields{FieldBranch: "arxiv"}).WithCount(3).WithStatus("ok").Warn(ctx, "branch done")

	line := decodeLine(t, &buf)
	assert.Equal(t, "arxiv", line[FieldBranch])
	assert.EqualValues(t, 3, line[FieldCount])
	assert.Equal(t, "ok", line[FieldStatus])
	assert.Equal(t, "warning", line["level"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	assert.Same(t, GetDefault(), FromContext(context.Background()))
	assert.Same(t, GetDefault(), FromContext(nil)) //nolint:staticcheck
}
