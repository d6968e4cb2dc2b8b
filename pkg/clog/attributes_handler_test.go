package clog

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newBufferedLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	handler := NewAttributesHandler(slog.NewTextHandler(&buf, nil))
	return slog.New(handler), &buf
}

func TestAttributesHandler_MergesContextAttributes(t *testing.T) {
	logger, buf := newBufferedLogger()

	ctx := ContextWithSlog(context.Background())
	AddAttribute(ctx, "task_id", "wf-1.build.compile")
	AddAttribute(ctx, "agent_id", "coder-a")

	logger.InfoContext(ctx, "executor: working", "role", "coder")

	out := buf.String()
	assert.Contains(t, out, "task_id=wf-1.build.compile")
	assert.Contains(t, out, "agent_id=coder-a")
	assert.Contains(t, out, "role=coder")
}

func TestAttributesHandler_UnseededContextPassesThrough(t *testing.T) {
	logger, buf := newBufferedLogger()

	logger.InfoContext(context.Background(), "plain record", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "plain record")
	assert.Contains(t, out, "key=value")
}

func TestAddError(t *testing.T) {
	logger, buf := newBufferedLogger()

	ctx := ContextWithSlog(context.Background())
	AddError(ctx, errors.New("executor crashed"))

	logger.ErrorContext(ctx, "task failed")
	assert.Contains(t, buf.String(), ErrorAttributeKey+"=")
	assert.Contains(t, buf.String(), "executor crashed")
}
