package email

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_SendsMultipartWhenBothContentTypesGiven(t *testing.T) {
	var gotTo []string
	var gotMsg []byte
	a := Action{SendMail: func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotTo = to
		gotMsg = msg
		return nil
	}}

	result, err := a.Execute(context.Background(), map[string]interface{}{
		"from_email":   "noreply@prana.run",
		"to_email":     "a@x.com, b@x.com",
		"subject":      "hi",
		"text_content": "plain body",
		"html_content": "<p>html body</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "multipart/alternative")
	assert.Contains(t, string(gotMsg), "plain body")
	assert.Contains(t, string(gotMsg), "<p>html body</p>")
	data := result.Data.(map[string]interface{})
	assert.Equal(t, 2, data["recipients"])
}

func TestAction_MissingBodyErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{
		"to_email": "a@x.com",
		"subject":  "hi",
	})
	require.Error(t, err)
}

func TestParseEmailList_TrimsAndSkipsEmpty(t *testing.T) {
	assert.Equal(t, []string{"a@x.com", "b@x.com"}, parseEmailList("a@x.com, , b@x.com"))
	assert.Nil(t, parseEmailList(""))
}
