// Package sqlite provides the durable ports.Store backed by SQLite
// through GORM. It is the store of record for single-node deployments:
// one file on disk, three tables (instances, tokens, tasks), timestamps
// as ISO-8601 text and variable maps as opaque JSON blobs.
package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aretw0/sluice/pkg/domain"
)

const timeLayout = time.RFC3339Nano

// Store implements ports.Store on a SQLite database.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Option configures the store.
type Option func(*Store)

// WithLogger sets the logger used to report skipped rows during loads.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (or creates) the database at path and migrates the schema.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	return NewFromDB(db, opts...)
}

// NewFromDB wraps an existing GORM handle and migrates the schema.
func NewFromDB(db *gorm.DB, opts ...Option) (*Store, error) {
	if err := db.AutoMigrate(&instancePo{}, &tokenPo{}, &taskPo{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SaveInstance upserts the instance row and all of its token rows in one
// transaction, so the persisted active-token set can never be half
// written.
func (s *Store) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	row, err := instanceToPo(inst)
	if err != nil {
		return err
	}
	tokenRows := make([]tokenPo, 0, len(inst.Tokens))
	for _, tok := range inst.Tokens {
		tr, err := tokenToPo(tok)
		if err != nil {
			return err
		}
		tokenRows = append(tokenRows, tr)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return fmt.Errorf("upsert instance %s: %w", inst.ID, err)
		}
		for i := range tokenRows {
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&tokenRows[i]).Error; err != nil {
				return fmt.Errorf("upsert token %s: %w", tokenRows[i].ID, err)
			}
		}
		return nil
	})
}

// SaveTask upserts a single task row.
func (s *Store) SaveTask(ctx context.Context, task *domain.TaskInstance) error {
	row, err := taskToPo(task)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
		return fmt.Errorf("upsert task %s: %w", task.ID, err)
	}
	return nil
}

// LoadActiveInstances reads every ACTIVE instance and its active tokens.
// Rows that fail to decode are logged and skipped, never fatal for the
// whole load.
func (s *Store) LoadActiveInstances(ctx context.Context) ([]*domain.ProcessInstance, error) {
	var rows []instancePo
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(domain.InstanceActive)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query active instances: %w", err)
	}

	var out []*domain.ProcessInstance
	for _, row := range rows {
		inst, err := row.toDomain()
		if err != nil {
			s.logger.Warn("skipping undecodable instance row", "instance", row.ID, "err", err)
			continue
		}

		var tokenRows []tokenPo
		if err := s.db.WithContext(ctx).
			Where("instance_id = ? AND active = ?", row.ID, true).
			Order("created_at").
			Find(&tokenRows).Error; err != nil {
			return nil, fmt.Errorf("query tokens of %s: %w", row.ID, err)
		}
		for _, tr := range tokenRows {
			tok, err := tr.toDomain()
			if err != nil {
				s.logger.Warn("skipping undecodable token row", "token", tr.ID, "err", err)
				continue
			}
			inst.AddToken(tok)
		}
		out = append(out, inst)
	}
	return out, nil
}

// LoadActiveTasks reads every ACTIVE task row, skipping undecodable rows.
func (s *Store) LoadActiveTasks(ctx context.Context) ([]*domain.TaskInstance, error) {
	var rows []taskPo
	if err := s.db.WithContext(ctx).
		Where("status = ?", string(domain.TaskActive)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query active tasks: %w", err)
	}

	var out []*domain.TaskInstance
	for _, row := range rows {
		task, err := row.toDomain()
		if err != nil {
			s.logger.Warn("skipping undecodable task row", "task", row.ID, "err", err)
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

func marshalVariables(vars map[string]any) (string, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("marshal variables: %w", err)
	}
	return string(data), nil
}

func unmarshalVariables(blob string) (map[string]any, error) {
	if blob == "" {
		return map[string]any{}, nil
	}
	var vars map[string]any
	if err := json.Unmarshal([]byte(blob), &vars); err != nil {
		return nil, fmt.Errorf("unmarshal variables: %w", err)
	}
	return vars, nil
}
