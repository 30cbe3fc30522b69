package persist

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/docintake/internal/database"
)

// Transactor 提供事务执行，*database.PoolManager 满足该接口
type Transactor interface {
	WithTransaction(ctx context.Context, fn database.TransactionFunc) error
}

// GormWriter 把批次写入关系库
type GormWriter struct {
	db     Transactor
	logger *zap.Logger
}

// NewGormWriter 创建关系库写入方
func NewGormWriter(db Transactor, logger *zap.Logger) *GormWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormWriter{db: db, logger: logger.With(zap.String("writer", "database"))}
}

// Name 写入方名称
func (w *GormWriter) Name() string { return "database" }

// Write 在一个事务内写入批次、文件与抽取日志，主键冲突时跳过
func (w *GormWriter) Write(ctx context.Context, job *Job) error {
	batchRow := &database.BatchRow{
		ID:            job.Meta.BatchID,
		UserID:        database.Nullable(job.Meta.UserID),
		TenantID:      database.Nullable(job.Meta.TenantID),
		SchemaID:      database.Nullable(job.Meta.SchemaID),
		DocumentType:  database.Nullable(job.Summary.DocumentType),
		Strategy:      job.Summary.Strategy,
		Status:        job.Summary.Status,
		Total:         job.Summary.Total,
		Successful:    job.Summary.Successful,
		Failed:        job.Summary.Failed,
		TotalPages:    job.Summary.TotalPages,
		RefundedPages: job.Summary.RefundedPages,
		DurationMS:    job.Summary.DurationMS,
		CreatedAt:     job.Meta.CreatedAt,
	}

	docs := make([]database.DocumentRow, 0, len(job.Entries))
	var logs []database.ExtractionLogRow
	for i := range job.Entries {
		e := &job.Entries[i]
		docs = append(docs, database.DocumentRow{
			ID:           e.DocumentID,
			BatchID:      e.BatchID,
			FileIndex:    e.Index,
			UserID:       database.Nullable(e.UserID),
			TenantID:     database.Nullable(e.TenantID),
			Filename:     e.Filename,
			ContentHash:  e.ContentHash,
			DocumentType: database.Nullable(e.DocumentType),
			SchemaID:     database.Nullable(e.SchemaID),
			Workflow:     database.Nullable(e.Workflow),
			Status:       e.Status,
			Pages:        e.Pages,
			ErrorCode:    database.Nullable(e.ErrorCode),
			Error:        database.Nullable(e.Error),
			CreatedAt:    e.CreatedAt,
		})
		if !e.Succeeded() {
			continue
		}
		row, err := extractionLog(e)
		if err != nil {
			return err
		}
		logs = append(logs, row)
	}

	return w.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		skip := clause.OnConflict{DoNothing: true}
		if err := tx.Clauses(skip).Create(batchRow).Error; err != nil {
			return err
		}
		if len(docs) > 0 {
			if err := tx.Clauses(skip).Create(&docs).Error; err != nil {
				return err
			}
		}
		if len(logs) > 0 {
			if err := tx.Clauses(skip).Create(&logs).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// extractionLog 抽取日志复用文档 ID 作为主键
func extractionLog(e *Entry) (database.ExtractionLogRow, error) {
	row := database.ExtractionLogRow{
		ID:         e.DocumentID,
		DocumentID: e.DocumentID,
		BatchID:    e.BatchID,
		DurationMS: e.DurationMS,
		CreatedAt:  e.CreatedAt,
	}
	if e.Fields != nil {
		data, err := json.Marshal(e.Fields)
		if err != nil {
			return row, err
		}
		row.ExtractedData = database.Nullable(string(data))
	}
	if len(e.Timings) > 0 {
		data, err := json.Marshal(e.Timings)
		if err != nil {
			return row, err
		}
		row.Timings = database.Nullable(string(data))
	}
	return row, nil
}
