// Package gcs stores user-supplied blobs in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"

	"github.com/ronoel/b2pix-stacks-sub000/clients"
)

const uriScheme = "gs://"

// Store is a clients.ObjectStorage over one bucket.
type Store struct {
	client *storage.Client
	bucket string
}

var _ clients.ObjectStorage = (*Store)(nil)

// New opens a storage client using ambient credentials.
func New(ctx context.Context, bucket string) (*Store, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not create storage client")
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Upload writes the blob and returns its gs:// URI.
func (s *Store) Upload(ctx context.Context, data []byte, path string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		return "", errors.Wrapf(err, "could not write object %s", path)
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "could not finish object %s", path)
	}
	return fmt.Sprintf("%s%s/%s", uriScheme, s.bucket, path), nil
}

// Download reads the blob behind a gs:// URI.
func (s *Store) Download(ctx context.Context, uri string) ([]byte, error) {
	trimmed := strings.TrimPrefix(uri, uriScheme)
	bucket, path, found := strings.Cut(trimmed, "/")
	if trimmed == uri || !found {
		return nil, errors.Errorf("malformed object uri %q", uri)
	}
	r, err := s.client.Bucket(bucket).Object(path).NewReader(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open object %s", uri)
	}
	defer func() {
		_ = r.Close()
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read object %s", uri)
	}
	return data, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
