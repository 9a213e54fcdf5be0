package app

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_Success(t *testing.T) {
	var stderr bytes.Buffer
	code := run("sync-server", RunnerFunc(func() error { return nil }), &stderr)

	assert.Equal(t, 0, code)
	assert.Empty(t, stderr.String())
}

func TestRun_FailureReportsAndExitsOne(t *testing.T) {
	var stderr bytes.Buffer
	code := run("sync-server", RunnerFunc(func() error { return errors.New("bind: address already in use") }), &stderr)

	assert.Equal(t, 1, code)
	assert.Equal(t, "sync-server: bind: address already in use\n", stderr.String())
}
