// Copyright 2024-2026 Aiku AI

// Package store persists the pair directory and cross-platform message
// correlations in SQLite. Correlations are append-only; pruning is a
// retention concern handled outside this package.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

//go:embed init.sql
var initQuery string

// PairRecord is a persisted room↔chat binding row.
type PairRecord struct {
	ID            int64
	InstanceID    string
	RoomID        int64
	ChatID        int64
	ThreadID      int64
	ForwardMode   string
	NicknameMode  string
	IgnoreSenders []string
	IgnoreRegex   string
}

// Correlation links the native message ids produced on each side of one
// relay event.
type Correlation struct {
	InstanceID    string
	RoomID        int64
	OneBotMsgID   string
	ChatID        int64
	TelegramMsgID int64
}

// Database wraps the SQLite connection.
type Database struct {
	db  *sql.DB
	log zerolog.Logger
}

// New opens (creating if necessary) the database at filePath and applies
// the embedded schema.
func New(ctx context.Context, filePath string, log zerolog.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", filePath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	d := &Database{
		db:  db,
		log: log.With().Str("component", "store").Logger(),
	}
	if _, err := db.ExecContext(ctx, initQuery); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}
	return d, nil
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// ListPairs loads every pair of an instance.
func (d *Database) ListPairs(ctx context.Context, instanceID string) ([]PairRecord, error) {
	rows, err := d.db.QueryContext(
		ctx,
		`SELECT id, instance_id, room_id, chat_id, thread_id,
		        forward_mode, nickname_mode, ignore_senders, ignore_regex
		 FROM forward_pairs WHERE instance_id = ? ORDER BY id`,
		instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying pairs: %w", err)
	}
	defer rows.Close()

	var pairs []PairRecord
	for rows.Next() {
		rec, err := scanPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, rec)
	}
	return pairs, rows.Err()
}

func scanPair(rows *sql.Rows) (PairRecord, error) {
	var rec PairRecord
	var senders string
	err := rows.Scan(
		&rec.ID, &rec.InstanceID, &rec.RoomID, &rec.ChatID, &rec.ThreadID,
		&rec.ForwardMode, &rec.NicknameMode, &senders, &rec.IgnoreRegex,
	)
	if err != nil {
		return rec, fmt.Errorf("scanning pair: %w", err)
	}
	if err := json.Unmarshal([]byte(senders), &rec.IgnoreSenders); err != nil {
		// Corrupt filter data should not make the whole pair unusable.
		rec.IgnoreSenders = nil
	}
	return rec, nil
}

// InsertPair creates a binding row and returns its id.
func (d *Database) InsertPair(ctx context.Context, rec PairRecord) (int64, error) {
	senders, err := json.Marshal(sendersOrEmpty(rec.IgnoreSenders))
	if err != nil {
		return 0, fmt.Errorf("encoding ignore senders: %w", err)
	}
	result, err := d.db.ExecContext(
		ctx,
		`INSERT INTO forward_pairs (
			instance_id, room_id, chat_id, thread_id,
			forward_mode, nickname_mode, ignore_senders, ignore_regex
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.InstanceID, rec.RoomID, rec.ChatID, rec.ThreadID,
		rec.ForwardMode, rec.NicknameMode, string(senders), rec.IgnoreRegex,
	)
	if err != nil {
		return 0, fmt.Errorf("inserting pair: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("getting pair id: %w", err)
	}
	return id, nil
}

// UpdatePairModes persists forward and nickname mode flags for a pair.
func (d *Database) UpdatePairModes(ctx context.Context, id int64, forwardMode, nicknameMode string) error {
	_, err := d.db.ExecContext(
		ctx,
		`UPDATE forward_pairs SET forward_mode = ?, nickname_mode = ? WHERE id = ?`,
		forwardMode, nicknameMode, id,
	)
	if err != nil {
		return fmt.Errorf("updating pair modes: %w", err)
	}
	return nil
}

// UpdatePairFilters persists the sender blocklist and ignore regex.
func (d *Database) UpdatePairFilters(ctx context.Context, id int64, ignoreSenders []string, ignoreRegex string) error {
	senders, err := json.Marshal(sendersOrEmpty(ignoreSenders))
	if err != nil {
		return fmt.Errorf("encoding ignore senders: %w", err)
	}
	_, err = d.db.ExecContext(
		ctx,
		`UPDATE forward_pairs SET ignore_senders = ?, ignore_regex = ? WHERE id = ?`,
		string(senders), ignoreRegex, id,
	)
	if err != nil {
		return fmt.Errorf("updating pair filters: %w", err)
	}
	return nil
}

// SaveCorrelation appends one relay correlation row.
func (d *Database) SaveCorrelation(ctx context.Context, c Correlation) error {
	_, err := d.db.ExecContext(
		ctx,
		`INSERT INTO message_correlations (
			instance_id, room_id, onebot_msg_id, chat_id, telegram_msg_id
		) VALUES (?, ?, ?, ?, ?)`,
		c.InstanceID, c.RoomID, c.OneBotMsgID, c.ChatID, c.TelegramMsgID,
	)
	if err != nil {
		return fmt.Errorf("inserting correlation: %w", err)
	}
	return nil
}

// TelegramIDForOneBot resolves a OneBot native id to its Telegram
// counterpart. A missing correlation is reported via found, not an error.
func (d *Database) TelegramIDForOneBot(ctx context.Context, instanceID string, roomID int64, onebotMsgID string) (telegramMsgID int64, found bool, err error) {
	err = d.db.QueryRowContext(
		ctx,
		`SELECT telegram_msg_id FROM message_correlations
		 WHERE instance_id = ? AND room_id = ? AND onebot_msg_id = ?
		 ORDER BY id DESC LIMIT 1`,
		instanceID, roomID, onebotMsgID,
	).Scan(&telegramMsgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("querying correlation: %w", err)
	}
	return telegramMsgID, true, nil
}

// OneBotIDForTelegram resolves a Telegram message id to its OneBot
// counterpart.
func (d *Database) OneBotIDForTelegram(ctx context.Context, instanceID string, chatID int64, telegramMsgID int64) (onebotMsgID string, found bool, err error) {
	err = d.db.QueryRowContext(
		ctx,
		`SELECT onebot_msg_id FROM message_correlations
		 WHERE instance_id = ? AND chat_id = ? AND telegram_msg_id = ?
		 ORDER BY id DESC LIMIT 1`,
		instanceID, chatID, telegramMsgID,
	).Scan(&onebotMsgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("querying correlation: %w", err)
	}
	return onebotMsgID, true, nil
}

func sendersOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
