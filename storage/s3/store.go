// Package s3 provides the S3 ObjectStore backend. A single PutObject
// is atomic on S3, so the Put contract holds without extra work;
// GetURL returns presigned GET URLs.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/AuralStack/ScribeFlow/fault"
	"github.com/AuralStack/ScribeFlow/storage"
)

// Client is the subset of the S3 API the store uses, satisfied by
// *s3.Client and by test fakes.
type Client interface {
	PutObject(ctx context.Context, in *awss3.PutObjectInput, opts ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *awss3.GetObjectInput, opts ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *awss3.HeadObjectInput, opts ...func(*awss3.Options)) (*awss3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *awss3.DeleteObjectInput, opts ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *awss3.ListObjectsV2Input, opts ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error)
}

// Store is an S3-backed ObjectStore.
type Store struct {
	client    Client
	presigner *awss3.PresignClient
	bucket    string
}

// New creates an S3 store over an SDK client.
func New(client *awss3.Client, bucket string) *Store {
	return &Store{
		client:    client,
		presigner: awss3.NewPresignClient(client),
		bucket:    bucket,
	}
}

// Put stores data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	return s.PutReader(ctx, key, bytes.NewReader(data))
}

// PutReader streams r into the object under key.
func (s *Store) PutReader(ctx context.Context, key string, r io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String(storage.ContentTypeForKey(key)),
	})
	if err != nil {
		return "", fault.Wrap(fault.KindUnavailable, "storage_write_failed", "could not store object", err)
	}
	return key, nil
}

// Get returns the object's bytes.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.GetReader(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fault.Wrap(fault.KindUnavailable, "storage_read_failed", "could not read object", err)
	}
	return data, nil
}

// GetReader returns a streaming reader over the object.
func (s *Store) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fault.NotFound("object_not_found", "object does not exist")
		}
		return nil, fault.Wrap(fault.KindUnavailable, "storage_read_failed", "could not read object", err)
	}
	return out.Body, nil
}

// GetURL returns a presigned GET URL valid for expiry.
func (s *Store) GetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, awss3.WithPresignExpires(expiry))
	if err != nil {
		return "", fault.Wrap(fault.KindUnavailable, "storage_presign_failed", "could not sign object URL", err)
	}
	return req.URL, nil
}

// Delete removes the object. S3 DeleteObject succeeds for absent keys,
// so the deleted flag reports whether the object existed beforehand.
func (s *Store) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := s.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if _, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return false, fault.Wrap(fault.KindUnavailable, "storage_delete_failed", "could not delete object", err)
	}
	return existed, nil
}

// Exists reports whether the key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fault.Wrap(fault.KindUnavailable, "storage_stat_failed", "could not stat object", err)
	}
	return true, nil
}

// Stat returns object metadata.
func (s *Store) Stat(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fault.NotFound("object_not_found", "object does not exist")
		}
		return nil, fault.Wrap(fault.KindUnavailable, "storage_stat_failed", "could not stat object", err)
	}

	info := &storage.ObjectInfo{
		Key:         key,
		ContentType: storage.ContentTypeForKey(key),
	}
	if out.ContentLength != nil {
		info.Size = *out.ContentLength
	}
	if out.ContentType != nil && *out.ContentType != "" {
		info.ContentType = *out.ContentType
	}
	if out.LastModified != nil {
		info.ModifiedAt = out.LastModified.UTC()
	}
	return info, nil
}

// List returns the objects under prefix, implementing storage.Lister.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	var token *string
	for {
		page, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fault.Wrap(fault.KindUnavailable, "storage_list_failed", "could not list objects", err)
		}
		for _, obj := range page.Contents {
			info := storage.ObjectInfo{
				Key:         aws.ToString(obj.Key),
				ContentType: storage.ContentTypeForKey(aws.ToString(obj.Key)),
			}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			if obj.LastModified != nil {
				info.ModifiedAt = obj.LastModified.UTC()
			}
			out = append(out, info)
		}
		if page.IsTruncated == nil || !*page.IsTruncated {
			break
		}
		token = page.NextContinuationToken
	}
	return out, nil
}

// isNotFound matches the SDK's NoSuchKey/NotFound error shapes.
func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return true
	}
	var notFound *s3types.NotFound
	return errors.As(err, &notFound)
}

var _ storage.ObjectStore = (*Store)(nil)
var _ storage.Lister = (*Store)(nil)
