package data

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	"DocChat/server/internal/conf"
	"DocChat/server/internal/repository"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/qdrant/go-client/qdrant"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Data holds every remote handle the server talks to.
type Data struct {
	DB     *gorm.DB
	Redis  *redis.Client
	Minio  *minio.Client
	Qdrant *qdrant.Client

	bucket     string
	collection string
}

func NewData(cfg *conf.Config) (*Data, func(), error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.UpstreamTimeout)
	defer cancel()

	// 1. Postgres + schema
	db, err := gorm.Open(postgres.Open(cfg.Data.DatabaseSource), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := repository.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("schema migration: %w", err)
	}
	slog.Info("✅ database migrated")

	// 2. Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Data.RedisAddr,
		Password: cfg.Data.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("✅ redis connected", "addr", cfg.Data.RedisAddr)

	// 3. MinIO
	mc, err := minio.New(cfg.Data.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Data.MinioAccessKey, cfg.Data.MinioSecretKey, ""),
		Secure: cfg.Data.MinioSecure,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("minio client: %w", err)
	}
	if err := ensureBucket(ctx, mc, cfg.Data.MinioBucket); err != nil {
		return nil, nil, err
	}

	// 4. Qdrant
	host, port := parseHostPort(cfg.Data.QdrantAddr, "localhost", 6334)
	qc, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, nil, fmt.Errorf("qdrant client: %w", err)
	}
	if err := ensureCollection(ctx, qc, cfg.Data.QdrantCollection, cfg.Data.QdrantDim); err != nil {
		qc.Close()
		return nil, nil, err
	}

	d := &Data{
		DB:         db,
		Redis:      rdb,
		Minio:      mc,
		Qdrant:     qc,
		bucket:     cfg.Data.MinioBucket,
		collection: cfg.Data.QdrantCollection,
	}

	cleanup := func() {
		slog.Info("closing data layer")
		if sqlDB, err := d.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
		_ = d.Redis.Close()
		_ = d.Qdrant.Close()
	}
	return d, cleanup, nil
}

func (d *Data) Documents() repository.DocumentRepository { return repository.NewDocumentRepository(d.DB) }
func (d *Data) Users() repository.UserRepository         { return repository.NewUserRepository(d.DB) }
func (d *Data) AskLogs() repository.AskLogRepository     { return repository.NewAskLogRepository(d.DB) }

func (d *Data) Blobs() *MinioBlobStore     { return NewMinioBlobStore(d.Minio, d.bucket) }
func (d *Data) Vectors() *QdrantIndex      { return NewQdrantIndex(d.Qdrant, d.collection) }
func (d *Data) Tasks() *RedisTaskQueue     { return NewRedisTaskQueue(d.Redis, ReindexQueueKey) }
func (d *Data) History(cfg *conf.Config) *RedisHistoryStore {
	return NewRedisHistoryStore(d.Redis, cfg.History.TTL)
}

func ensureBucket(ctx context.Context, mc *minio.Client, bucket string) error {
	exists, err := mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("minio bucket check: %w", err)
	}
	if exists {
		slog.Info("✅ minio connected", "bucket", bucket)
		return nil
	}
	if err := mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("minio make bucket %s: %w", bucket, err)
	}
	slog.Info("🎉 minio bucket created", "bucket", bucket)
	return nil
}

// ensureCollection creates the page collection and the document_id index the
// scoped query filters on.
func ensureCollection(ctx context.Context, qc *qdrant.Client, name string, dim uint64) error {
	collections, err := qc.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("qdrant list collections: %w", err)
	}
	for _, c := range collections {
		if c == name {
			slog.Info("✅ qdrant connected", "collection", name)
			return nil
		}
	}

	err = qc.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     dim,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", name, err)
	}
	_, err = qc.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: name,
		FieldName:      payloadDocumentID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return fmt.Errorf("qdrant index %s.%s: %w", name, payloadDocumentID, err)
	}
	slog.Info("🎉 qdrant collection created", "collection", name, "dim", dim)
	return nil
}

func parseHostPort(addr string, defaultHost string, defaultPort int) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return defaultHost, defaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, defaultPort
	}
	return host, port
}
