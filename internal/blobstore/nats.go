package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore persists objects in a JetStream object store bucket. Object names
// cannot contain slashes, so keys are flattened with an unambiguous separator.
type NATSStore struct {
	conn   *nats.Conn
	bucket jetstream.ObjectStore
}

const natsKeySeparator = "__"

// NewNATS connects to the given NATS server and opens (or creates) the
// object store bucket.
func NewNATS(ctx context.Context, url, bucket string) (*NATSStore, error) {
	conn, err := nats.Connect(url, nats.Name("tessera"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	store, err := getOrCreateBucket(ctx, js, bucket)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open bucket %s: %w", bucket, err)
	}

	return &NATSStore{conn: conn, bucket: store}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.ObjectStore, error) {
	store, err := js.ObjectStore(ctx, name)
	if err == nil {
		return store, nil
	}
	return js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      name,
		Description: "Tessera pipeline artifacts",
	})
}

func (s *NATSStore) Put(ctx context.Context, key string, data []byte) error {
	_, err := s.bucket.PutBytes(ctx, flattenKey(key), data)
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

func (s *NATSStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.GetBytes(ctx, flattenKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	return data, nil
}

func (s *NATSStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func flattenKey(key string) string {
	return strings.ReplaceAll(key, "/", natsKeySeparator)
}
