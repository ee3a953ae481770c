package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"Authorization=Bearer xyz", "X-Trace=abc=def"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer xyz", headers["Authorization"])
	assert.Equal(t, "abc=def", headers["X-Trace"])
}

func TestParseHeadersRejectsMissingEquals(t *testing.T) {
	_, err := parseHeaders([]string{"not-a-header"})
	assert.Error(t, err)
}

func TestSplitScope(t *testing.T) {
	assert.Equal(t, []string{"read", "write"}, splitScope("read write"))
	assert.Nil(t, splitScope(""))
}
