// Package mongoquery implements find/insert/update/delete operations
// against MongoDB. Grounded on
// internal/node/runtime/nodes/mongodb_node.go's per-operation dispatch
// and its toBSON conversion (map[string]interface{} -> bson.M,
// recognizing "_id" string values as hex ObjectIDs), reworked to hold a
// shared *mongo.Database from a single pooled *mongo.Client instead of
// connecting per execution. Library: go.mongodb.org/mongo-driver.
package mongoquery

import (
	"context"
	"fmt"

	"github.com/prana-run/prana/internal/action"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Action runs one MongoDB operation per invocation against a shared
// *mongo.Database handle.
type Action struct {
	action.NopPrepare
	action.NopResume

	DB *mongo.Database
}

func (a Action) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	collectionName, _ := rendered["collection"].(string)
	if collectionName == "" {
		return action.Result{}, fmt.Errorf("mongoquery: collection is required")
	}
	coll := a.DB.Collection(collectionName)

	operation, _ := rendered["operation"].(string)
	var (
		result map[string]interface{}
		err    error
	)
	switch operation {
	case "find":
		result, err = find(ctx, coll, rendered)
	case "find_one":
		result, err = findOne(ctx, coll, rendered)
	case "insert_one":
		result, err = insertOne(ctx, coll, rendered)
	case "update_one":
		result, err = updateOne(ctx, coll, rendered)
	case "delete_one":
		result, err = deleteOne(ctx, coll, rendered)
	default:
		return action.Result{}, fmt.Errorf("mongoquery: unknown operation %q", operation)
	}
	if err != nil {
		return action.Result{}, fmt.Errorf("mongoquery: %w", err)
	}
	return action.Completed(result), nil
}

func find(ctx context.Context, coll *mongo.Collection, rendered map[string]interface{}) (map[string]interface{}, error) {
	filter := toBSON(rendered["filter"])
	opts := options.Find()
	if limit, ok := rendered["limit"].(float64); ok {
		opts.SetLimit(int64(limit))
	}
	cursor, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []map[string]interface{}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	return map[string]interface{}{"documents": docs, "count": len(docs)}, nil
}

func findOne(ctx context.Context, coll *mongo.Collection, rendered map[string]interface{}) (map[string]interface{}, error) {
	filter := toBSON(rendered["filter"])
	var doc map[string]interface{}
	err := coll.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return map[string]interface{}{"document": nil}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"document": doc}, nil
}

func insertOne(ctx context.Context, coll *mongo.Collection, rendered map[string]interface{}) (map[string]interface{}, error) {
	result, err := coll.InsertOne(ctx, toBSON(rendered["document"]))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"inserted_id": result.InsertedID}, nil
}

func updateOne(ctx context.Context, coll *mongo.Collection, rendered map[string]interface{}) (map[string]interface{}, error) {
	filter := toBSON(rendered["filter"])
	update := toBSON(rendered["update"])
	opts := options.Update()
	if upsert, ok := rendered["upsert"].(bool); ok {
		opts.SetUpsert(upsert)
	}
	result, err := coll.UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{
		"matched_count":  result.MatchedCount,
		"modified_count": result.ModifiedCount,
	}
	if result.UpsertedID != nil {
		out["upserted_id"] = result.UpsertedID
	}
	return out, nil
}

func deleteOne(ctx context.Context, coll *mongo.Collection, rendered map[string]interface{}) (map[string]interface{}, error) {
	result, err := coll.DeleteOne(ctx, toBSON(rendered["filter"]))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted_count": result.DeletedCount}, nil
}

// toBSON converts a plain map/value tree into bson.M, recognizing an
// "_id" string leaf as a hex ObjectID.
func toBSON(v interface{}) interface{} {
	if v == nil {
		return bson.M{}
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	result := bson.M{}
	for k, val := range m {
		if k == "_id" {
			if idStr, ok := val.(string); ok {
				if oid, err := primitive.ObjectIDFromHex(idStr); err == nil {
					result[k] = oid
					continue
				}
			}
		}
		result[k] = toBSON(val)
	}
	return result
}

// Register adds the MongoDB query action under the "mongodb" integration.
func Register(r *action.Registry, db *mongo.Database) error {
	return r.Register(action.Descriptor{
		IntegrationName: "mongodb",
		ActionName:      "query",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{DB: db},
	})
}
