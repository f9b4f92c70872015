// Package awss3 implements upload/download/delete/list operations
// against AWS S3. Grounded on
// internal/node/runtime/nodes/s3_node.go's operation dispatch, its
// content-type detection fallback chain (http.DetectContentType then
// extension guessing), and its base64/plain encoding switch for
// upload/download bodies, reworked to hold a shared *s3.Client (built
// once from host-level credentials) instead of loading AWS config per
// execution. Library: github.com/aws/aws-sdk-go-v2/service/s3.
package awss3

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prana-run/prana/internal/action"
)

// Action runs one S3 operation per invocation against a shared client.
type Action struct {
	action.NopPrepare
	action.NopResume

	Client *s3.Client
}

func (a Action) Execute(ctx context.Context, rendered map[string]interface{}) (action.Result, error) {
	bucket, _ := rendered["bucket"].(string)
	if bucket == "" {
		return action.Result{}, fmt.Errorf("awss3: bucket is required")
	}
	key, _ := rendered["key"].(string)

	var (
		result map[string]interface{}
		err    error
	)
	switch op, _ := rendered["operation"].(string); op {
	case "upload":
		result, err = a.upload(ctx, bucket, key, rendered)
	case "download":
		result, err = a.download(ctx, bucket, key, rendered)
	case "delete":
		result, err = a.deleteObject(ctx, bucket, key)
	case "list":
		result, err = a.list(ctx, bucket, rendered)
	default:
		return action.Result{}, fmt.Errorf("awss3: unknown operation %q", rendered["operation"])
	}
	if err != nil {
		return action.Result{}, fmt.Errorf("awss3: %w", err)
	}
	return action.Completed(result), nil
}

func (a Action) upload(ctx context.Context, bucket, key string, rendered map[string]interface{}) (map[string]interface{}, error) {
	content, _ := rendered["content"].(string)
	contentType, _ := rendered["content_type"].(string)

	var body []byte
	if enc, _ := rendered["encoding"].(string); enc == "base64" {
		decoded, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 content: %w", err)
		}
		body = decoded
	} else {
		body = []byte(content)
	}

	if contentType == "" {
		contentType = detectContentType(body, key)
	}

	result, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"bucket":       bucket,
		"key":          key,
		"etag":         aws.ToString(result.ETag),
		"content_type": contentType,
		"size":         len(body),
	}, nil
}

func (a Action) download(ctx context.Context, bucket, key string, rendered map[string]interface{}) (map[string]interface{}, error) {
	result, err := a.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		return nil, err
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, err
	}

	content := string(body)
	if enc, _ := rendered["encoding"].(string); enc == "base64" {
		content = base64.StdEncoding.EncodeToString(body)
	}

	return map[string]interface{}{
		"bucket":       bucket,
		"key":          key,
		"content":      content,
		"content_type": aws.ToString(result.ContentType),
		"size":         len(body),
	}, nil
}

func (a Action) deleteObject(ctx context.Context, bucket, key string) (map[string]interface{}, error) {
	if _, err := a.Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)}); err != nil {
		return nil, err
	}
	return map[string]interface{}{"bucket": bucket, "key": key, "deleted": true}, nil
}

func (a Action) list(ctx context.Context, bucket string, rendered map[string]interface{}) (map[string]interface{}, error) {
	prefix, _ := rendered["prefix"].(string)
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	output, err := a.Client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(output.Contents))
	for _, obj := range output.Contents {
		keys = append(keys, aws.ToString(obj.Key))
	}
	return map[string]interface{}{"keys": keys, "count": len(keys)}, nil
}

func detectContentType(body []byte, key string) string {
	detected := http.DetectContentType(body)
	if detected != "application/octet-stream" {
		return detected
	}
	switch filepath.Ext(key) {
	case ".json":
		return "application/json"
	case ".txt":
		return "text/plain"
	case ".html":
		return "text/html"
	case ".css":
		return "text/css"
	case ".js":
		return "application/javascript"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	default:
		return detected
	}
}

// Register adds the S3 action under the "aws_s3" integration.
func Register(r *action.Registry, client *s3.Client) error {
	return r.Register(action.Descriptor{
		IntegrationName: "aws_s3",
		ActionName:      "object",
		InputPorts:      []string{"main"},
		OutputPorts:     []string{"success"},
		Action:          Action{Client: client},
	})
}
