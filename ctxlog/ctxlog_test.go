package ctxlog_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Skryldev/image-loader/ctxlog"
)

func TestFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), ctxlog.FromContext(context.Background()))

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, nil))
	ctx := ctxlog.WithLogger(context.Background(), l)
	assert.Same(t, l, ctxlog.FromContext(ctx))

	ctxlog.FromContext(ctx).Info("loader.submitted", "key", "k")
	assert.Contains(t, buf.String(), "msg=loader.submitted key=k")
}
