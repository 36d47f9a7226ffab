// Package archive uploads completed scan results to S3-compatible object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/TobiSchelling/threadpilot/internal/config"
	"github.com/TobiSchelling/threadpilot/internal/logging"
	"github.com/TobiSchelling/threadpilot/internal/model"
)

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver writes one JSON object per scan.
type Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	now    func() time.Time
}

// Document is the archived form of a scan.
type Document struct {
	ScanID     string           `json:"scan_id"`
	ArchivedAt string           `json:"archived_at"`
	Result     model.ScanResult `json:"result"`
}

// New builds an S3 client from cfg. Static credentials are read from the
// environment variables named in cfg; when both are unset the default AWS
// credential chain applies. A custom endpoint switches to path-style addressing.
func New(ctx context.Context, cfg config.Archive) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, errors.New("archive is disabled")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	accessKey, secretKey := os.Getenv(cfg.AccessKeyEnv), os.Getenv(cfg.SecretKeyEnv)
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newArchiver(client, cfg), nil
}

func newArchiver(client putObjectAPI, cfg config.Archive) *Archiver {
	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}
}

// ObjectKey returns where a scan is stored.
// Format: {prefix}{year}/{month}/{day}/{scan_id}.json, dated by the scan timestamp.
func (a *Archiver) ObjectKey(scanID string, result model.ScanResult) string {
	ts, err := time.Parse(time.RFC3339, result.Timestamp)
	if err != nil {
		ts = a.now()
	}
	ts = ts.UTC()
	key := path.Join(ts.Format("2006"), ts.Format("01"), ts.Format("02"), scanID+".json")
	return strings.TrimPrefix(a.prefix, "/") + key
}

// ArchiveScan uploads the scan result as JSON.
func (a *Archiver) ArchiveScan(ctx context.Context, scanID string, result model.ScanResult) error {
	doc := Document{
		ScanID:     scanID,
		ArchivedAt: a.now().UTC().Format(time.RFC3339),
		Result:     result,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal scan: %w", err)
	}

	key := a.ObjectKey(scanID, result)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"scan-id": scanID,
			"status":  result.Status,
			"drafts":  fmt.Sprint(len(result.Drafts)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload scan %s: %w", scanID, err)
	}

	log := logging.With("archive")
	log.Debug().Str("bucket", a.bucket).Str("key", key).Int("size", len(data)).Msg("archived scan")
	return nil
}
