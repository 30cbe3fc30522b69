package persist

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// bulkWriter 抽象集合的批量写入
type bulkWriter interface {
	BulkWrite(ctx context.Context, models []mongo.WriteModel, opts ...options.Lister[options.BulkWriteOptions]) (*mongo.BulkWriteResult, error)
}

// MongoWriter 把每个文件作为一条文档 upsert 到 documents 集合
type MongoWriter struct {
	coll   bulkWriter
	client *mongo.Client
	logger *zap.Logger
}

// NewMongoWriter 连接 MongoDB 并返回写入方
func NewMongoWriter(ctx context.Context, uri, database string, logger *zap.Logger) (*MongoWriter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	w := newMongoWriter(client.Database(database).Collection("documents"), logger)
	w.client = client
	w.logger.Info("mongo writer initialized", zap.String("database", database))
	return w, nil
}

func newMongoWriter(coll bulkWriter, logger *zap.Logger) *MongoWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoWriter{coll: coll, logger: logger.With(zap.String("writer", "mongo"))}
}

// Name 写入方名称
func (w *MongoWriter) Name() string { return "mongo" }

// Write 按文档 ID upsert，重复写入结果不变
func (w *MongoWriter) Write(ctx context.Context, job *Job) error {
	if len(job.Entries) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(job.Entries))
	for i := range job.Entries {
		e := &job.Entries[i]
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: e.DocumentID}}).
			SetReplacement(entryDocument(job, e)).
			SetUpsert(true))
	}

	res, err := w.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("mongo bulk write: %w", err)
	}
	w.logger.Debug("mongo bulk write completed",
		zap.String("batch_id", job.Meta.BatchID),
		zap.Int64("upserted", res.UpsertedCount),
		zap.Int64("modified", res.ModifiedCount),
	)
	return nil
}

func entryDocument(job *Job, e *Entry) bson.D {
	doc := bson.D{
		{Key: "_id", Value: e.DocumentID},
		{Key: "batch_id", Value: e.BatchID},
		{Key: "file_index", Value: e.Index},
		{Key: "user_id", Value: e.UserID},
		{Key: "tenant_id", Value: e.TenantID},
		{Key: "schema_id", Value: e.SchemaID},
		{Key: "filename", Value: e.Filename},
		{Key: "content_hash", Value: e.ContentHash},
		{Key: "document_type", Value: e.DocumentType},
		{Key: "workflow", Value: e.Workflow},
		{Key: "strategy", Value: job.Summary.Strategy},
		{Key: "status", Value: e.Status},
		{Key: "pages", Value: e.Pages},
		{Key: "duration_ms", Value: e.DurationMS},
		{Key: "created_at", Value: e.CreatedAt},
	}
	if e.Fields != nil {
		doc = append(doc, bson.E{Key: "extracted_data", Value: e.Fields.Map()})
	}
	if len(e.Timings) > 0 {
		doc = append(doc, bson.E{Key: "timings_ms", Value: e.Timings})
	}
	if e.ErrorCode != "" {
		doc = append(doc,
			bson.E{Key: "error_code", Value: e.ErrorCode},
			bson.E{Key: "error", Value: e.Error},
		)
	}
	return doc
}

// Close 断开连接
func (w *MongoWriter) Close() error {
	if w.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.client.Disconnect(ctx)
}
