package mongoquery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestToBSON_ConvertsIDHexString(t *testing.T) {
	id := primitive.NewObjectID()
	result := toBSON(map[string]interface{}{"_id": id.Hex(), "name": "ada"})
	m := result.(bson.M)
	assert.Equal(t, id, m["_id"])
	assert.Equal(t, "ada", m["name"])
}

func TestToBSON_NilBecomesEmptyDocument(t *testing.T) {
	assert.Equal(t, bson.M{}, toBSON(nil))
}

func TestToBSON_NonMapPassesThrough(t *testing.T) {
	assert.Equal(t, "raw", toBSON("raw"))
}

func TestAction_MissingCollectionErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"operation": "find"})
	require.Error(t, err)
}
