package docstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"legalrag/internal/config"
	"legalrag/internal/model"
)

// MinIOStore keeps documents in an S3-compatible bucket under keys
// "folder/filename". Chunk sources use the s3://bucket/key form.
type MinIOStore struct {
	client *minio.Client
	bucket string
}

func NewMinIOStore(ctx context.Context, cfg config.MinIOConfig) (*MinIOStore, error) {
	endpoint := strings.TrimPrefix(strings.TrimPrefix(cfg.Endpoint, "https://"), "http://")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client failed: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check minio bucket failed: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create minio bucket failed: %w", err)
		}
	}
	return &MinIOStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *MinIOStore) Root() string {
	return "s3://" + s.bucket
}

func (s *MinIOStore) Save(ctx context.Context, folder, filename string, data []byte, overwrite bool) (model.Document, error) {
	key := objectKey(folder, filename)
	if !overwrite {
		exists, err := s.Exists(ctx, folder, filename)
		if err != nil {
			return model.Document{}, err
		}
		if exists {
			return model.Document{}, ErrExists
		}
	}
	info, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(filename),
	})
	if err != nil {
		return model.Document{}, fmt.Errorf("put object failed: %w", err)
	}
	doc := newDocument(folder, filename, s.sourcePath(key), info.Size)
	doc.ModifiedAt = info.LastModified
	return doc, nil
}

func (s *MinIOStore) Read(ctx context.Context, doc model.Document) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey(doc.Folder, doc.Filename), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object failed: %w", err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read object failed: %w", err)
	}
	return data, nil
}

func (s *MinIOStore) Locate(ctx context.Context, filename string, folders ...string) (model.Document, error) {
	for _, folder := range candidateFolders(folders) {
		key := objectKey(folder, filename)
		info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			if isNoSuchKey(err) {
				continue
			}
			return model.Document{}, fmt.Errorf("stat object failed: %w", err)
		}
		doc := newDocument(folder, filename, s.sourcePath(key), info.Size)
		doc.ModifiedAt = info.LastModified
		return doc, nil
	}
	return model.Document{}, ErrNotFound
}

func (s *MinIOStore) Exists(ctx context.Context, folder, filename string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, objectKey(folder, filename), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object failed: %w", err)
	}
	return true, nil
}

func (s *MinIOStore) List(ctx context.Context, folder *string) ([]model.Document, error) {
	opts := minio.ListObjectsOptions{Recursive: true}
	if folder != nil {
		opts.Recursive = false
		if *folder != "" {
			opts.Prefix = *folder + "/"
		}
	}

	var docs []model.Document
	for obj := range s.client.ListObjects(ctx, s.bucket, opts) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects failed: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		dir, name := path.Split(obj.Key)
		if !supported(name) {
			continue
		}
		doc := newDocument(strings.TrimSuffix(dir, "/"), name, s.sourcePath(obj.Key), obj.Size)
		doc.ModifiedAt = obj.LastModified
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs, nil
}

func (s *MinIOStore) Delete(ctx context.Context, doc model.Document) (int64, error) {
	key := objectKey(doc.Folder, doc.Filename)
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat object failed: %w", err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return 0, fmt.Errorf("remove object failed: %w", err)
	}
	return info.Size, nil
}

func (s *MinIOStore) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check minio bucket failed: %w", err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", s.bucket)
	}
	return nil
}

func (s *MinIOStore) sourcePath(key string) string {
	return "s3://" + s.bucket + "/" + key
}

func objectKey(folder, filename string) string {
	return path.Join(folder, filename)
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}
