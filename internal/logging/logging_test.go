package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithOutput_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithOutput(&buf, "debug", "json")
	require.NoError(t, err)

	Component(logger, "test").Debug("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["msg"])
	assert.Equal(t, "test", line["component"])
	assert.Equal(t, "docker-queue", line["service"])
}

func TestNewWithOutput_BadLevel(t *testing.T) {
	_, err := NewWithOutput(&bytes.Buffer{}, "loud", "text")
	assert.Error(t, err)
}
