package eventlog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// ObjectPutter is the subset of *s3.Client the exporter needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config locates the audit bucket. Endpoint is set for S3-compatible
// stores such as MinIO.
type S3Config struct {
	Region   string
	User     string
	Password string
	Endpoint string
	Bucket   string
}

// NewS3Client builds a client with static credentials.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.User, cfg.Password, "")))
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Exporter writes a tenant's events to object storage as NDJSON.
type Exporter struct {
	log    *Log
	client ObjectPutter
	bucket string
}

func NewExporter(log *Log, client ObjectPutter, bucket string) *Exporter {
	return &Exporter{log: log, client: client, bucket: bucket}
}

// ExportKey is the object key for an export started at t.
func ExportKey(tenantID string, t time.Time) string {
	return fmt.Sprintf("audit/%s/%d/%02d/%02d/%s.ndjson", tenantID, t.Year(), t.Month(), t.Day(), uuid.NewString())
}

// Export uploads the tenant's events in [from, to] and returns the object key
// and event count.
func (x *Exporter) Export(ctx context.Context, tenantID string, from, to time.Time) (string, int, error) {
	evs, err := x.log.TenantEvents(ctx, tenantID, from, to, nil, 0)
	if err != nil {
		return "", 0, fmt.Errorf("load events: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range evs {
		if err := enc.Encode(e); err != nil {
			return "", 0, fmt.Errorf("encode event %s: %w", e.ID, err)
		}
	}

	key := ExportKey(tenantID, time.Now().UTC())
	_, err = x.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(x.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", 0, fmt.Errorf("upload export: %w", err)
	}
	return key, len(evs), nil
}
