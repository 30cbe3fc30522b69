package persist

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/BaSui01/docintake/config"
)

// NewWriters 按配置构造写入方。database 写入方需要 db，为 nil 时报错。
// RunLogPath 非空时追加运行日志写入方。
func NewWriters(ctx context.Context, cfg config.PersistenceConfig, db Transactor, logger *zap.Logger) ([]Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var writers []Writer
	fail := func(err error) ([]Writer, error) {
		closeWriters(writers)
		return nil, err
	}

	for _, name := range cfg.Writers {
		switch name {
		case "database":
			if db == nil {
				return fail(errors.New("database writer requires a database connection"))
			}
			writers = append(writers, NewGormWriter(db, logger))
		case "mongo":
			w, err := NewMongoWriter(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
			if err != nil {
				return fail(err)
			}
			writers = append(writers, w)
		default:
			return fail(fmt.Errorf("unknown persistence writer %q", name))
		}
	}

	if cfg.RunLogPath != "" {
		w, err := NewRunLogWriter(cfg.RunLogPath)
		if err != nil {
			return fail(err)
		}
		writers = append(writers, w)
	}
	return writers, nil
}

func closeWriters(writers []Writer) {
	for _, w := range writers {
		if c, ok := w.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
