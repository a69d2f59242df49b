package messaging

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// ErrDuplicatePrivateChannel is returned by CreateChannel when another
// private channel for the same unordered user pair already exists. Callers
// are expected to re-query instead of failing.
var ErrDuplicatePrivateChannel = errors.New("private channel already exists for user pair")

// Repository is the persistence gateway the messaging core talks to. The
// message insert is transactional with its delivery records: a message must
// never be observable without them.
type Repository interface {
	// Channel operations
	CreateChannel(ctx context.Context, channel *Channel) error
	GetChannel(ctx context.Context, channelID uuid.UUID) (*Channel, error)
	FindPrivateChannel(ctx context.Context, userA, userB string) (*Channel, error)
	AddMember(ctx context.Context, channelID uuid.UUID, userID string) error
	GetMembers(ctx context.Context, channelID uuid.UUID) ([]string, error)
	ListChannelsForUser(ctx context.Context, userID string) ([]*Channel, error)

	// Message operations
	InsertMessage(ctx context.Context, message *Message, recipientIDs []string) error
	GetMessage(ctx context.Context, messageID uuid.UUID) (*Message, error)
	ListChannelMessages(ctx context.Context, channelID uuid.UUID) ([]*Message, error)
	LastChannelMessage(ctx context.Context, channelID uuid.UUID) (*Message, error)

	// Delivery record operations
	SetDeliveryRead(ctx context.Context, messageID uuid.UUID, recipientID string) (bool, error)
	IsDeliveryRead(ctx context.Context, messageID uuid.UUID, recipientID string) (bool, error)
	HasUnreadRecipients(ctx context.Context, messageID uuid.UUID, excludeUserID string) (bool, error)
	ListUnreadForUser(ctx context.Context, userID string) ([]*Message, error)
}

// PairKey builds the canonical lookup key for a private channel's unordered
// member pair. The unique index on it is what makes concurrent
// get-or-create race-free.
func PairKey(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return strings.Join(pair, "|")
}

const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the messaging tables when they do not exist yet.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id UUID PRIMARY KEY,
			name TEXT NOT NULL,
			is_private BOOLEAN NOT NULL,
			pair_key TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS channels_private_pair
			ON channels (pair_key) WHERE is_private`,
		`CREATE TABLE IF NOT EXISTS channel_members (
			channel_id UUID NOT NULL REFERENCES channels (channel_id),
			user_id TEXT NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (channel_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id UUID PRIMARY KEY,
			channel_id UUID NOT NULL REFERENCES channels (channel_id),
			author_id TEXT NOT NULL,
			text TEXT NOT NULL,
			sent_at TIMESTAMPTZ NOT NULL,
			is_action BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS message_receivers (
			message_id UUID NOT NULL REFERENCES messages (message_id),
			recipient_id TEXT NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (message_id, recipient_id)
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure messaging schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) CreateChannel(ctx context.Context, channel *Channel) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pairKey sql.NullString
	if channel.IsPrivate {
		pairKey = sql.NullString{String: PairKey(channel.MemberIDs[0], channel.MemberIDs[1]), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (channel_id, name, is_private, pair_key)
		VALUES ($1, $2, $3, $4)
	`, channel.ID, channel.Name, channel.IsPrivate, pairKey)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicatePrivateChannel
		}
		return fmt.Errorf("failed to insert channel: %w", err)
	}

	for _, userID := range channel.MemberIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO channel_members (channel_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, channel.ID, userID)
		if err != nil {
			return fmt.Errorf("failed to insert channel member: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetChannel(ctx context.Context, channelID uuid.UUID) (*Channel, error) {
	channel := &Channel{}
	err := r.db.QueryRowContext(ctx, `
		SELECT channel_id, name, is_private FROM channels WHERE channel_id = $1
	`, channelID).Scan(&channel.ID, &channel.Name, &channel.IsPrivate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	channel.MemberIDs, err = r.GetMembers(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return channel, nil
}

func (r *PostgresRepository) FindPrivateChannel(ctx context.Context, userA, userB string) (*Channel, error) {
	var channelID uuid.UUID
	err := r.db.QueryRowContext(ctx, `
		SELECT channel_id FROM channels WHERE is_private AND pair_key = $1
	`, PairKey(userA, userB)).Scan(&channelID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find private channel: %w", err)
	}
	return r.GetChannel(ctx, channelID)
}

func (r *PostgresRepository) AddMember(ctx context.Context, channelID uuid.UUID, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO channel_members (channel_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, channelID, userID)
	if err != nil {
		return fmt.Errorf("failed to add channel member: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetMembers(ctx context.Context, channelID uuid.UUID) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM channel_members WHERE channel_id = $1 ORDER BY joined_at
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

func (r *PostgresRepository) ListChannelsForUser(ctx context.Context, userID string) ([]*Channel, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.channel_id, c.name, c.is_private
		FROM channels c
		JOIN channel_members m ON m.channel_id = c.channel_id
		WHERE m.user_id = $1
		ORDER BY c.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		channel := &Channel{}
		if err := rows.Scan(&channel.ID, &channel.Name, &channel.IsPrivate); err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, channel := range channels {
		channel.MemberIDs, err = r.GetMembers(ctx, channel.ID)
		if err != nil {
			return nil, err
		}
	}
	return channels, nil
}

func (r *PostgresRepository) InsertMessage(ctx context.Context, message *Message, recipientIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (message_id, channel_id, author_id, text, sent_at, is_action)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, message.ID, message.ChannelID, message.AuthorID, message.Text, message.Timestamp, message.IsAction)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	for _, recipientID := range recipientIDs {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO message_receivers (message_id, recipient_id, is_read)
			VALUES ($1, $2, FALSE)
		`, message.ID, recipientID)
		if err != nil {
			return fmt.Errorf("failed to insert delivery record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetMessage(ctx context.Context, messageID uuid.UUID) (*Message, error) {
	message := &Message{}
	var sentAt time.Time
	err := r.db.QueryRowContext(ctx, `
		SELECT message_id, channel_id, author_id, text, sent_at, is_action
		FROM messages WHERE message_id = $1
	`, messageID).Scan(&message.ID, &message.ChannelID, &message.AuthorID, &message.Text, &sentAt, &message.IsAction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	message.Timestamp = sentAt
	return message, nil
}

func (r *PostgresRepository) ListChannelMessages(ctx context.Context, channelID uuid.UUID) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT message_id, channel_id, author_id, text, sent_at, is_action
		FROM messages WHERE channel_id = $1 ORDER BY sent_at
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channel messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *PostgresRepository) LastChannelMessage(ctx context.Context, channelID uuid.UUID) (*Message, error) {
	message := &Message{}
	err := r.db.QueryRowContext(ctx, `
		SELECT message_id, channel_id, author_id, text, sent_at, is_action
		FROM messages WHERE channel_id = $1 ORDER BY sent_at DESC LIMIT 1
	`, channelID).Scan(&message.ID, &message.ChannelID, &message.AuthorID, &message.Text, &message.Timestamp, &message.IsAction)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last channel message: %w", err)
	}
	return message, nil
}

func (r *PostgresRepository) SetDeliveryRead(ctx context.Context, messageID uuid.UUID, recipientID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE message_receivers SET is_read = TRUE
		WHERE message_id = $1 AND recipient_id = $2 AND NOT is_read
	`, messageID, recipientID)
	if err != nil {
		return false, fmt.Errorf("failed to set delivery read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (r *PostgresRepository) IsDeliveryRead(ctx context.Context, messageID uuid.UUID, recipientID string) (bool, error) {
	var isRead bool
	err := r.db.QueryRowContext(ctx, `
		SELECT is_read FROM message_receivers WHERE message_id = $1 AND recipient_id = $2
	`, messageID, recipientID).Scan(&isRead)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get delivery record: %w", err)
	}
	return isRead, nil
}

func (r *PostgresRepository) HasUnreadRecipients(ctx context.Context, messageID uuid.UUID, excludeUserID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM message_receivers
			WHERE message_id = $1 AND NOT is_read AND recipient_id <> $2
		)
	`, messageID, excludeUserID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check unread recipients: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) ListUnreadForUser(ctx context.Context, userID string) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.message_id, m.channel_id, m.author_id, m.text, m.sent_at, m.is_action
		FROM messages m
		JOIN message_receivers mr ON mr.message_id = m.message_id
		WHERE mr.recipient_id = $1 AND NOT mr.is_read
		ORDER BY m.sent_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	var messages []*Message
	for rows.Next() {
		message := &Message{}
		err := rows.Scan(&message.ID, &message.ChannelID, &message.AuthorID,
			&message.Text, &message.Timestamp, &message.IsAction)
		if err != nil {
			return nil, err
		}
		messages = append(messages, message)
	}
	return messages, rows.Err()
}
