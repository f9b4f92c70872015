package awss3

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectContentType_FallsBackToExtensionTable(t *testing.T) {
	assert.Equal(t, "application/json", detectContentType([]byte{0, 1, 2}, "payload.json"))
	assert.Equal(t, "text/css", detectContentType([]byte{0, 1, 2}, "style.css"))
}

func TestDetectContentType_SniffsKnownBinaryFromBody(t *testing.T) {
	body := []byte("<html><body>hi</body></html>")
	assert.Equal(t, http.DetectContentType(body), detectContentType(body, "unknown.bin"))
}

func TestAction_MissingBucketErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"operation": "upload"})
	require.Error(t, err)
}

func TestAction_UnknownOperationErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"bucket": "b", "operation": "rename"})
	require.Error(t, err)
}

func TestAction_UploadInvalidBase64Errors(t *testing.T) {
	a := Action{}
	_, err := a.upload(context.Background(), "b", "k", map[string]interface{}{
		"content":  "not-base64!!",
		"encoding": "base64",
	})
	require.Error(t, err)
}
