package devtools

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/reagent-go/reagent/pkg/reagent"
)

// S3Sink writes recorded event batches to an S3 bucket as JSON
// objects, one object per batch. Keys are time-prefixed so batches
// list in capture order:
//
//	<prefix><RFC3339 timestamp>-<random>.json
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	sink := devtools.NewS3Sink(s3.NewFromConfig(cfg), "my-bucket", "traces/")
//	rec := devtools.NewRecorder(sink)
//	engine := reagent.New(reagent.WithEventSink(rec))
type S3Sink struct {
	client  *s3.Client
	bucket  string
	prefix  string
	timeout time.Duration
}

// NewS3Sink creates an S3-backed trace sink.
func NewS3Sink(client *s3.Client, bucket, prefix string) *S3Sink {
	return &S3Sink{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		timeout: 30 * time.Second,
	}
}

// WithTimeout sets the per-batch upload timeout.
func (s *S3Sink) WithTimeout(d time.Duration) *S3Sink {
	s.timeout = d
	return s
}

// WriteBatch implements TraceSink.
func (s *S3Sink) WriteBatch(events []reagent.Event) error {
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("devtools: encode trace batch: %w", err)
	}

	key := s.prefix + batchKey(time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("devtools: upload trace batch %q: %w", key, err)
	}
	return nil
}

// batchKey builds a sortable, collision-resistant object key suffix.
func batchKey(t time.Time) string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		// Fall back to timestamp-only keys; collisions within the
		// same nanosecond overwrite, which is tolerable for traces.
		return t.UTC().Format(time.RFC3339Nano) + ".json"
	}
	return t.UTC().Format(time.RFC3339Nano) + "-" + hex.EncodeToString(b) + ".json"
}
