package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/zhouzirui/grimoire/backend/internal/model/book"
	"github.com/zhouzirui/grimoire/backend/internal/model/chat"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string, logger *zap.Logger) (*GormStore, error) {
	gormLog := gormlogger.New(
		zap.NewStdLog(loggerOrNop(logger).Named("gorm")),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormStoreWithDB(db)
}

// NewGormStoreWithDB migrates the schema on an existing connection.
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&ConversationModel{}, &TurnModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, b book.Book) (chat.Conversation, error) {
	b = b.Normalize()
	if b.Title == "" {
		return chat.Conversation{}, ErrTitleRequired
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	conv := chat.Conversation{
		ID:           uuid.NewString(),
		Book:         b,
		Turns:        []chat.Turn{},
		CreatedAt:    now,
		LastActiveAt: now,
	}

	model := conversationToModel(conv)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// Append locks the conversation row so concurrent appends get consecutive positions.
func (s *GormStore) Append(ctx context.Context, conversationID string, turn chat.Turn) (chat.Turn, error) {
	if err := validateTurn(turn); err != nil {
		return chat.Turn{}, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv ConversationModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", conversationID).
			First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var last TurnModel
		seq := 0
		previous := conv.CreatedAt
		res := tx.Where("conversation_id = ?", conversationID).Order("seq DESC").Limit(1).Find(&last)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			seq = last.Seq + 1
			previous = last.CreatedAt
		}

		turn = stampTurn(turn, time.Now().UTC(), previous.UTC())
		turn.ID = uuid.NewString()

		model := turnToModel(conversationID, seq, turn)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&ConversationModel{}).
			Where("id = ?", conversationID).
			Update("last_active_at", turn.CreatedAt).Error
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return chat.Turn{}, err
		}
		return chat.Turn{}, fmt.Errorf("append turn: %w", err)
	}
	return turn, nil
}

func (s *GormStore) Get(ctx context.Context, id string) (chat.Conversation, error) {
	var model ConversationModel
	err := s.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("id = ?", id).
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return chat.Conversation{}, ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conversationFromModel(model), nil
}

func (s *GormStore) List(ctx context.Context) ([]chat.Conversation, error) {
	var models []ConversationModel
	if err := s.db.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Order("last_active_at DESC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	items := make([]chat.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// UpdateCover sets the cover when coverRef is non-empty and always bumps LastActiveAt.
func (s *GormStore) UpdateCover(ctx context.Context, id, coverRef string) (chat.Conversation, error) {
	updates := map[string]any{
		"last_active_at": gorm.Expr("GREATEST(last_active_at, ?)", time.Now().UTC()),
	}
	if coverRef = strings.TrimSpace(coverRef); coverRef != "" {
		updates["cover_ref"] = coverRef
	}

	res := s.db.WithContext(ctx).Model(&ConversationModel{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return chat.Conversation{}, fmt.Errorf("update cover: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return chat.Conversation{}, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
