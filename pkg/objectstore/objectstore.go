package objectstore

import (
	"context"
	"time"

	"github.com/jinjinsansan/hachikai/pkg/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("objectstore",
	fx.Provide(
		registerClient,
		NewProofStore,
	),
)

func registerClient(c *config.Config) *minio.Client {
	client, err := minio.New(c.Minio.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Minio.AccessKey, c.Minio.SecretKey, ""),
		Secure: c.Minio.Secure,
	})
	if err != nil {
		zap.L().Fatal("failed to create MinIO client", zap.Error(err))
	}

	exists, err := client.BucketExists(context.Background(), c.Minio.BucketName)
	if err != nil {
		zap.L().Fatal("failed to check if bucket exists", zap.Error(err))
	}

	zap.L().Info("MinIO client initialized", zap.String("endpoint", c.Minio.Endpoint), zap.Bool("bucketExists", exists))
	return client
}

// ProofStat describes a stored purchase-proof object.
type ProofStat struct {
	Size         int64
	ContentType  string
	LastModified time.Time
	// Software carries the editing-software fingerprint recorded at upload
	// time (x-amz-meta-software), empty when absent.
	Software string
}

// ProofStore reads purchase-proof object metadata from the shared bucket.
type ProofStore struct {
	client *minio.Client
	bucket string
}

func NewProofStore(client *minio.Client, cfg *config.Config) *ProofStore {
	return &ProofStore{client: client, bucket: cfg.Minio.BucketName}
}

func (s *ProofStore) Stat(ctx context.Context, objectKey string) (*ProofStat, error) {
	info, err := s.client.StatObject(ctx, s.bucket, objectKey, minio.StatObjectOptions{})
	if err != nil {
		return nil, err
	}

	return &ProofStat{
		Size:         info.Size,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		Software:     info.UserMetadata["Software"],
	}, nil
}
