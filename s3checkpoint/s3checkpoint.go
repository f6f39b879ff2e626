// Package s3checkpoint persists per-consumer-group catch-up snapshots
// (topic, group, caught-up flag, update time) to S3 for callers that Save
// and Load them explicitly. Nothing else in this module reads the
// snapshots back, so they do not change where a consumer group resumes;
// that position is tracked by the topic substrate. Grounded
// on internal/storage/checkpoint.go's CheckpointManager (JSON snapshots
// keyed by a fixed S3 prefix) and internal/storage/s3/adapter.go's Adapter
// from the teacher, repurposed from per-stream flush-position tracking to
// per-consumer-group catch-up progress.
package s3checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config mirrors the teacher's s3.Config.
type Config struct {
	Endpoint        string
	Bucket          string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Store wraps an S3 client scoped to one bucket, mirroring the teacher's
// Adapter.
type Store struct {
	client *s3.Client
	bucket string
}

// Open constructs a Store, mirroring the teacher's NewAdapter.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(cfg.Region))
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &Store{client: s3.NewFromConfig(awsCfg, s3Opts...), bucket: cfg.Bucket}, nil
}

// Progress is one consumer group's catch-up state as saved by a caller.
type Progress struct {
	Topic     string    `json:"topic"`
	Group     string    `json:"group"`
	CaughtUp  bool      `json:"caught_up"`
	UpdatedAt time.Time `json:"updated_at"`
}

func key(topic, group string) string {
	return fmt.Sprintf("_checkpoints/%s/%s.json", topic, group)
}

// Save writes p to S3, overwriting any previous snapshot for the same
// topic/group pair.
func (s *Store) Save(ctx context.Context, p Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key(p.Topic, p.Group)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("S3 PutObject checkpoint: %w", err)
	}
	return nil
}

// Load reads the last saved Progress for topic/group. If none has ever been
// saved it returns, with no error, a Progress that carries only topic and
// group.
func (s *Store) Load(ctx context.Context, topic, group string) (Progress, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key(topic, group)),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NoSuchKey") || strings.Contains(err.Error(), "NotFound") {
			return Progress{Topic: topic, Group: group}, nil
		}
		return Progress{}, fmt.Errorf("S3 GetObject checkpoint: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Progress{}, fmt.Errorf("read checkpoint body: %w", err)
	}
	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return Progress{}, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return p, nil
}
