// Package objectstore archives synthesized audio in a NATS JetStream object store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerContentType  = "Content-Type"
	defaultContentType = "application/octet-stream"
	wavContentType     = "audio/wav"
)

// ErrEmptyKey is returned when an object is addressed without a name.
var ErrEmptyKey = errors.New("object key cannot be empty")

// NatsObjectStore implements core.ObjectStore on a JetStream object store bucket.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to bucketName, creating the bucket first if it does not exist.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: "Synthesized EGTTS audio, one WAV object per job.",
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Open binds bucketName over a JetStream context on natsConnection.
func Open(natsConnection *nats.Conn, bucketName string) (*NatsObjectStore, error) {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return New(jetstreamContext, bucketName)
}

// Bucket returns the name of the underlying bucket.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download retrieves an object by key.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key. The content type is derived from the key's
// extension and recorded in the object headers.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	headers := nats.Header{}
	headers.Set(headerContentType, contentTypeFor(key))

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:    key,
		Headers: headers,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

func contentTypeFor(key string) string {
	ext := filepath.Ext(key)
	if ext == ".wav" {
		return wavContentType
	}

	if byExt := mime.TypeByExtension(ext); byExt != "" {
		return byExt
	}

	return defaultContentType
}
