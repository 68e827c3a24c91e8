// Package snapshot archives registry state to object storage.
//
// A snapshot is the JSON encoding of registry.State compressed with zstd and
// stored as snapshots/<unix-seconds>.json.zst. Concurrent Save calls are
// coalesced so a slow upload never queues a second identical one.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"perishable-ledger/core/registry"
	"perishable-ledger/core/storage"

	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// Prefix is the object key prefix of every snapshot.
	Prefix = "snapshots/"
	// Extension is the object key suffix of every snapshot.
	Extension = ".json.zst"

	contentType = "application/zstd"
)

// ErrNoSnapshot is returned by Latest when the bucket holds no snapshot.
var ErrNoSnapshot = errors.New("no snapshot found")

// Source provides the state to archive.
type Source interface {
	Snapshot() registry.State
}

// Info describes a stored snapshot.
type Info struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	TakenAt    time.Time `json:"taken_at"`
	Containers int       `json:"containers,omitempty"`
}

// Store writes and reads snapshots in one bucket.
type Store struct {
	client storage.Client
	bucket string
	logger *zap.Logger
	group  singleflight.Group
	enc    *zstd.Encoder
	dec    *zstd.Decoder
	now    func() time.Time
}

// NewStore creates a snapshot store.
func NewStore(client storage.Client, bucket string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Store{
		client: client,
		bucket: bucket,
		logger: logger,
		enc:    enc,
		dec:    dec,
		now:    time.Now,
	}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	s.logger.Info("Created snapshot bucket", zap.String("bucket", s.bucket))
	return nil
}

// Encode renders st as zstd-compressed JSON.
func (s *Store) Encode(st registry.State) ([]byte, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.enc.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// Decode reverses Encode.
func (s *Store) Decode(data []byte) (registry.State, error) {
	raw, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return registry.State{}, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	var st registry.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return registry.State{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	for _, c := range st.Containers {
		c.Entity = registry.Unresolved
	}
	return st, nil
}

// Save uploads the current state of src. Calls that overlap an upload in
// progress share its result.
func (s *Store) Save(ctx context.Context, src Source) (Info, error) {
	v, err, shared := s.group.Do("save", func() (any, error) {
		return s.save(ctx, src.Snapshot())
	})
	if err != nil {
		return Info{}, err
	}
	if shared {
		s.logger.Debug("Snapshot save coalesced")
	}
	return v.(Info), nil
}

func (s *Store) save(ctx context.Context, st registry.State) (Info, error) {
	data, err := s.Encode(st)
	if err != nil {
		return Info{}, err
	}
	taken := s.now().UTC()
	key := fmt.Sprintf("%s%d%s", Prefix, taken.Unix(), Extension)

	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Info{}, fmt.Errorf("failed to upload snapshot %s: %w", key, err)
	}

	s.logger.Info("Snapshot saved",
		zap.String("key", key),
		zap.Int("bytes", len(data)),
		zap.Int("containers", len(st.Containers)),
	)
	return Info{Key: key, Size: int64(len(data)), TakenAt: taken, Containers: len(st.Containers)}, nil
}

// Load downloads and decodes the snapshot stored under key.
func (s *Store) Load(ctx context.Context, key string) (registry.State, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return registry.State{}, fmt.Errorf("failed to fetch snapshot %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return registry.State{}, fmt.Errorf("failed to read snapshot %s: %w", key, err)
	}
	return s.Decode(data)
}

// List returns stored snapshots, newest first.
func (s *Store) List(ctx context.Context) ([]Info, error) {
	var out []Info
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: Prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list snapshots: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, Extension) {
			continue
		}
		out = append(out, Info{Key: obj.Key, Size: obj.Size, TakenAt: obj.LastModified})
	}
	// Keys embed the unix time; equal-length keys sort chronologically
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Key) != len(out[j].Key) {
			return len(out[i].Key) > len(out[j].Key)
		}
		return out[i].Key > out[j].Key
	})
	return out, nil
}

// Latest returns the key of the newest snapshot.
func (s *Store) Latest(ctx context.Context) (string, error) {
	list, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "", ErrNoSnapshot
	}
	return list[0].Key, nil
}

// Prune deletes all but the newest keep snapshots and returns how many were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int, error) {
	list, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	if len(list) <= keep {
		return 0, nil
	}
	stale := list[keep:]

	objects := make(chan minio.ObjectInfo, len(stale))
	for _, info := range stale {
		objects <- minio.ObjectInfo{Key: info.Key}
	}
	close(objects)

	var errs []error
	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("%s: %w", rerr.ObjectName, rerr.Err))
	}
	removed := len(stale) - len(errs)
	if len(errs) > 0 {
		return removed, fmt.Errorf("failed to prune snapshots: %w", errors.Join(errs...))
	}
	s.logger.Info("Pruned snapshots", zap.Int("removed", removed))
	return removed, nil
}

// ErrInvalidKey is returned for keys outside the snapshot prefix.
var ErrInvalidKey = errors.New("not a snapshot key")

// ValidKey reports whether key names a snapshot object.
func ValidKey(key string) bool {
	return strings.HasPrefix(key, Prefix) && strings.HasSuffix(key, Extension) &&
		!strings.Contains(strings.TrimPrefix(key, Prefix), "/")
}

// Delete removes one snapshot.
func (s *Store) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	s.logger.Info("Deleted snapshot", zap.String("key", key))
	return nil
}
