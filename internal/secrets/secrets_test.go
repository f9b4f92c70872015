package secrets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	b, err := NewBox(KeySource{Passphrase: "unit-test-passphrase", Salt: "unit-test-salt"})
	require.NoError(t, err)
	return b
}

func TestSealOpen_RoundTrips(t *testing.T) {
	b := testBox(t)

	ref, err := b.Seal("sk-live-abc123")
	require.NoError(t, err)
	assert.NotEqual(t, "sk-live-abc123", ref)

	plaintext, err := b.Open(ref)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-abc123", plaintext)
}

func TestOpen_PassesThroughPlainValues(t *testing.T) {
	b := testBox(t)

	out, err := b.Open("not-a-secret")
	require.NoError(t, err)
	assert.Equal(t, "not-a-secret", out)
}

func TestOpen_RejectsTamperedReference(t *testing.T) {
	b := testBox(t)

	ref, err := b.Seal("super-secret-token")
	require.NoError(t, err)

	_, err = b.Open(ref + "x")
	assert.Error(t, err)
}

func TestOpenAll_ResolvesNestedStructures(t *testing.T) {
	b := testBox(t)

	tokenRef, err := b.Seal("bearer-token")
	require.NoError(t, err)

	params := map[string]interface{}{
		"url": "https://api.example.com",
		"headers": map[string]interface{}{
			"Authorization": tokenRef,
		},
		"tags": []interface{}{"prod", tokenRef},
	}

	resolved, err := b.OpenAll(params)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", resolved["url"])
	headers := resolved["headers"].(map[string]interface{})
	assert.Equal(t, "bearer-token", headers["Authorization"])
	tags := resolved["tags"].([]interface{})
	assert.Equal(t, "bearer-token", tags[1])
}

func TestNewBox_RequiresPassphrase(t *testing.T) {
	_, err := NewBox(KeySource{})
	assert.Error(t, err)
}
