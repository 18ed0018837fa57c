package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"mpsdash/internal/errs"
)

type S3Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	PathStyle bool
	// MaxEntrySize bounds how much of an object Read pulls.
	MaxEntrySize int64
	// Transport overrides the HTTP transport, e.g. for a private CA.
	Transport http.RoundTripper
}

// S3Backend stores slots as objects <prefix><storageId>.cache. A PutObject
// replaces the object atomically, so no lock is needed.
type S3Backend struct {
	client    *minio.Client
	bucket    string
	prefix    string
	readLimit int64
}

var _ Backend = (*S3Backend)(nil)

func NewS3Backend(ctx context.Context, opts S3Options) (*S3Backend, error) {
	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	}
	if opts.Transport != nil {
		minioOpts.Transport = opts.Transport
	}
	if opts.PathStyle {
		minioOpts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(opts.Endpoint, minioOpts)
	if err != nil {
		return nil, errs.Wrap(err, "init minio client")
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, errs.Wrapf(err, "check bucket %q", opts.Bucket)
	}
	if !exists {
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, errs.Wrapf(err, "create bucket %q", opts.Bucket)
		}
	}

	var limit int64
	if opts.MaxEntrySize > 0 {
		limit = opts.MaxEntrySize + readSlack
	}
	return &S3Backend{
		client:    client,
		bucket:    opts.Bucket,
		prefix:    normalizePrefix(opts.Prefix),
		readLimit: limit,
	}, nil
}

func (b *S3Backend) Name() string { return "s3" }

func (b *S3Backend) objectName(id string) string {
	return b.prefix + id + slotExt
}

func (b *S3Backend) Read(ctx context.Context, id string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.objectName(id), minio.GetObjectOptions{})
	if err != nil {
		return nil, b.translate(err, "get cache object")
	}
	defer obj.Close()

	var r io.Reader = obj
	if b.readLimit > 0 {
		r = io.LimitReader(obj, b.readLimit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, b.translate(err, "read cache object")
	}
	return data, nil
}

func (b *S3Backend) Write(ctx context.Context, id string, data []byte, _ time.Duration) error {
	_, err := b.client.PutObject(
		ctx,
		b.bucket,
		b.objectName(id),
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"},
	)
	if err != nil {
		return errs.Wrap(err, "put cache object")
	}
	return nil
}

func (b *S3Backend) Remove(ctx context.Context, id string) error {
	err := b.client.RemoveObject(ctx, b.bucket, b.objectName(id), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return errs.Wrap(err, "remove cache object")
	}
	return nil
}

func (b *S3Backend) List(ctx context.Context) ([]string, error) {
	var ids []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: b.prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errs.Wrap(obj.Err, "list cache objects")
		}
		id, ok := slotIDFromName(b.prefix, obj.Key)
		if ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (b *S3Backend) translate(err error, msg string) error {
	if isNoSuchKey(err) {
		return ErrSlotNotFound
	}
	return errs.Wrap(err, msg)
}

func isNoSuchKey(err error) bool {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		return resp.Code == "NoSuchKey"
	}
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimLeft(strings.TrimSpace(prefix), "/")
	if prefix != "" && !strings.HasSuffix(prefix, "/") && !strings.HasSuffix(prefix, ":") {
		prefix += "/"
	}
	return prefix
}

// slotIDFromName maps "<prefix><id>.cache" back to id.
func slotIDFromName(prefix string, name string) (string, bool) {
	rest, ok := strings.CutPrefix(name, prefix)
	if !ok {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, slotExt)
	if !ok || !isStorageID(id) {
		return "", false
	}
	return id, true
}

func (b *S3Backend) String() string {
	return fmt.Sprintf("s3://%s/%s", b.bucket, b.prefix)
}
