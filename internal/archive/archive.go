// Package archive copies each saved snapshot to S3-compatible object
// storage as JSON.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dsablic/linestat/internal/model"
)

// ErrNotFound is returned by Get for a missing snapshot object.
var ErrNotFound = errors.New("snapshot object not found")

// Config locates the bucket.
type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Object is the stored form of one snapshot.
type Object struct {
	AccountID int64                 `json:"account_id"`
	Date      string                `json:"date"`
	Languages []model.LanguageStats `json:"languages"`
	Total     model.Stats           `json:"total"`
}

// Archiver writes snapshots under snapshots/{account}/{date}.json.
type Archiver struct {
	client   *minio.Client
	bucket   string
	region   string
	initOnce sync.Once
	initErr  error
}

// New validates cfg and creates the client. No request is made until the
// first write.
func New(cfg Config) (*Archiver, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, errors.New("archive endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, errors.New("archive access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("archive bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init archive client: %w", err)
	}
	return &Archiver{client: client, bucket: bucket, region: region}, nil
}

func (a *Archiver) ensureBucket(ctx context.Context) error {
	a.initOnce.Do(func() {
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err != nil {
			a.initErr = err
			return
		}
		if exists {
			return
		}
		a.initErr = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{Region: a.region})
	})
	return a.initErr
}

// Key returns the object key of one snapshot.
func Key(accountID int64, date string) string {
	return fmt.Sprintf("snapshots/%d/%s.json", accountID, date)
}

// Archive stores totals as the snapshot of (accountID, date), replacing
// any earlier object for the same day.
func (a *Archiver) Archive(ctx context.Context, accountID int64, date string, totals model.Totals) error {
	if err := a.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	data, err := json.Marshal(Object{
		AccountID: accountID,
		Date:      date,
		Languages: totals.Sorted(),
		Total:     totals.Sum(),
	})
	if err != nil {
		return err
	}
	_, err = a.client.PutObject(ctx, a.bucket, Key(accountID, date), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put %s: %w", Key(accountID, date), err)
	}
	return nil
}

// Get reads back one archived snapshot.
func (a *Archiver) Get(ctx context.Context, accountID int64, date string) (Object, error) {
	obj, err := a.client.GetObject(ctx, a.bucket, Key(accountID, date), minio.GetObjectOptions{})
	if err != nil {
		return Object{}, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		code := minio.ToErrorResponse(err).Code
		if code == "NoSuchKey" || code == "NoSuchBucket" {
			return Object{}, ErrNotFound
		}
		return Object{}, err
	}
	var out Object
	if err := json.Unmarshal(data, &out); err != nil {
		return Object{}, fmt.Errorf("decode %s: %w", Key(accountID, date), err)
	}
	return out, nil
}

// Dates lists the archived snapshot dates of one account, oldest first.
func (a *Archiver) Dates(ctx context.Context, accountID int64) ([]string, error) {
	prefix := fmt.Sprintf("snapshots/%d/", accountID)
	var dates []string
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			code := minio.ToErrorResponse(obj.Err).Code
			if code == "NoSuchBucket" {
				return nil, nil
			}
			return nil, obj.Err
		}
		if d, ok := strings.CutSuffix(strings.TrimPrefix(obj.Key, prefix), ".json"); ok {
			dates = append(dates, d)
		}
	}
	sort.Strings(dates)
	return dates, nil
}
