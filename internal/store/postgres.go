package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"voltiq/internal/domain"
)

// TableNames holds environment-prefixed table names.
type TableNames struct {
	Chats        string
	Turns        string
	UsageRecords string
}

// NewTableNames creates table names with the given prefix.
func NewTableNames(prefix string) *TableNames {
	return &TableNames{
		Chats:        prefix + "chats",
		Turns:        prefix + "turns",
		UsageRecords: prefix + "usage_records",
	}
}

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	tables *TableNames
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, tables *TableNames, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		tables: tables,
		logger: logger,
	}
}

// CreateChat creates a new conversation.
func (s *PostgresStore) CreateChat(ctx context.Context, title string) (*Conversation, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id, title, created_at, updated_at
	`, s.tables.Chats)

	chat := &Conversation{}
	now := time.Now()
	err := s.pool.QueryRow(ctx, query, uuid.New().String(), title, now).Scan(
		&chat.ID,
		&chat.Title,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	return chat, nil
}

// GetChat retrieves a conversation by ID, without its turns.
func (s *PostgresStore) GetChat(ctx context.Context, chatID string) (*Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, title, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, s.tables.Chats)

	var chat Conversation
	err := s.pool.QueryRow(ctx, query, chatID).Scan(
		&chat.ID,
		&chat.Title,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		if IsPgNoRowsError(err) {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}

	return &chat, nil
}

// ListChats retrieves all conversations, most recently updated first.
func (s *PostgresStore) ListChats(ctx context.Context) ([]Conversation, error) {
	query := fmt.Sprintf(`
		SELECT id, title, created_at, updated_at
		FROM %s
		ORDER BY updated_at DESC
	`, s.tables.Chats)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	var chats []Conversation
	for rows.Next() {
		var chat Conversation
		if err := rows.Scan(&chat.ID, &chat.Title, &chat.CreatedAt, &chat.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, chat)
	}
	return chats, rows.Err()
}

// UpdateTitle updates a conversation's display title.
func (s *PostgresStore) UpdateTitle(ctx context.Context, chatID, title string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET title = $2, updated_at = $3 WHERE id = $1
	`, s.tables.Chats)

	tag, err := s.pool.Exec(ctx, query, chatID, title, time.Now())
	if err != nil {
		return fmt.Errorf("update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return nil
}

// DeleteChat removes a conversation and its turns.
func (s *PostgresStore) DeleteChat(ctx context.Context, chatID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tables.Chats)

	tag, err := s.pool.Exec(ctx, query, chatID)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	return nil
}

// AppendTurn persists one immutable turn. Tool invocations are stored as a
// fully resolved JSONB list or NULL, never partially.
func (s *PostgresStore) AppendTurn(ctx context.Context, turn *Turn) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, chat_id, role, content, tool_invocations, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, s.tables.Turns)

	var invocations []byte
	if len(turn.ToolInvocations) > 0 {
		var err error
		invocations, err = json.Marshal(turn.ToolInvocations)
		if err != nil {
			return fmt.Errorf("marshal tool invocations: %w", err)
		}
	}

	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now()
	}

	err := s.pool.QueryRow(ctx, query,
		turn.ID,
		turn.ChatID,
		turn.Role,
		turn.Content,
		invocations,
		turn.CreatedAt,
	).Scan(&turn.ID, &turn.CreatedAt)
	if err != nil {
		if IsPgForeignKeyError(err) {
			return fmt.Errorf("chat %s: %w", turn.ChatID, domain.ErrNotFound)
		}
		return fmt.Errorf("append turn: %w", err)
	}

	// Touch the conversation so sidebars sort by recency
	touch := fmt.Sprintf(`UPDATE %s SET updated_at = $2 WHERE id = $1`, s.tables.Chats)
	if _, err := s.pool.Exec(ctx, touch, turn.ChatID, turn.CreatedAt); err != nil {
		s.logger.Warn("failed to touch chat timestamp", "chat_id", turn.ChatID, "error", err)
	}

	return nil
}

// ListTurns retrieves a conversation's turns in chronological order.
// limit <= 0 returns all turns.
func (s *PostgresStore) ListTurns(ctx context.Context, chatID string, limit int) ([]Turn, error) {
	query := fmt.Sprintf(`
		SELECT id, chat_id, role, content, tool_invocations, created_at
		FROM %s
		WHERE chat_id = $1
		ORDER BY created_at ASC
	`, s.tables.Turns)
	args := []any{chatID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var turn Turn
		var invocations []byte
		err := rows.Scan(
			&turn.ID,
			&turn.ChatID,
			&turn.Role,
			&turn.Content,
			&invocations,
			&turn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if len(invocations) > 0 {
			if err := json.Unmarshal(invocations, &turn.ToolInvocations); err != nil {
				return nil, fmt.Errorf("unmarshal tool invocations: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}
