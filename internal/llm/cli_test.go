package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseStructuredOutputPrecedence(t *testing.T) {
	raw := []byte(`{"session_id":"abc","structured_output":{"tasks":["a"]},"result":"ignored","content":"also ignored"}`)
	content, sessionID, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "abc", sessionID)
	assert.JSONEq(t, `{"tasks":["a"]}`, content)
}

func TestParseResponseResultFallback(t *testing.T) {
	raw := []byte(`{"result":"{\"ok\":true}","content":"ignored"}`)
	content, _, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)
}

func TestParseResponseContentFallback(t *testing.T) {
	raw := []byte(`{"content":"hello world"}`)
	content, _, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)
}

func TestParseResponseBraceExtractionFallback(t *testing.T) {
	raw := []byte("warning: deprecated flag\n{\"ok\":true}\ntrailing noise")
	content, _, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, content)
}

func TestParseResponseNoJSON(t *testing.T) {
	content, sessionID, err := ParseResponse([]byte("no json here at all"))
	require.NoError(t, err)
	assert.Equal(t, "", content)
	assert.Equal(t, "", sessionID)
}
