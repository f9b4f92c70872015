package kafkapublish

import (
	"context"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_PublishesAndReportsOffset(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndSucceed()

	a := Action{Producer: producer}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"topic": "workflow-events",
		"key":   "wf-1",
		"value": map[string]interface{}{"status": "started"},
	})
	require.NoError(t, err)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, "workflow-events", data["topic"])
}

func TestAction_MissingTopicErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"value": "x"})
	require.Error(t, err)
}

func TestToHeaders_IgnoresNonStringValues(t *testing.T) {
	headers := toHeaders(map[string]interface{}{"a": "x", "b": 1})
	assert.Equal(t, map[string]string{"a": "x"}, headers)
}
