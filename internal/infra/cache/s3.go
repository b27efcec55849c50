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
)

// S3Options 是对象存储缓存的连接参数。
type S3Options struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Secure    bool
	// Prefix 是对象 key 前缀，默认 "pages/"。
	Prefix string
}

// S3Store 把页面缓存放在 S3 兼容存储（MinIO 等）里，供多个 worker 共享。
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewS3Store(opts S3Options) (*S3Store, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("cache.s3.endpoint 不能为空")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, errors.New("cache.s3.bucket 不能为空")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.Secure,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 16,
			IdleConnTimeout:     90 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("初始化对象存储客户端失败：%w", err)
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = "pages/"
	}
	return &S3Store{client: client, bucket: opts.Bucket, prefix: prefix}, nil
}

func (s *S3Store) objectKey(key string) string {
	return s.prefix + key[:2] + "/" + key + ".page"
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, time.Time, bool, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.objectKey(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, time.Time{}, false, err
	}
	defer obj.Close()

	info, err := obj.Stat()
	if isNoSuchKey(err) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	return body, info.LastModified, true, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.objectKey(key), bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	})
	return err
}

func isNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}
