package postgres

import (
	"context"
	"errors"
	"time"

	"linkwave/module/chat/model"
	"linkwave/service/receipt"
	"linkwave/tools/errs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var (
	_ receipt.Store      = (*Store)(nil)
	_ receipt.Membership = (*Store)(nil)
)

// Store implements message persistence, read receipts and membership lookups
// on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ===== messages =====

// SaveMessage 以 message_id 为主键，重复投递的消息直接忽略
func (s *Store) SaveMessage(ctx context.Context, m model.ChatMessage) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_messages (message_id, room_id, sender_id, body, sent_at, delivered_at, read_at, retention_days)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (message_id) DO NOTHING`,
		m.MessageID, m.RoomID, m.SenderID, m.Body, m.SentAt, m.DeliveredAt, m.ReadAt, m.Retention(),
	)
	return err
}

// RecentMessages 最新的 limit 条，按时间倒序
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, room_id, sender_id, body, sent_at, delivered_at, read_at, retention_days
		FROM chat_messages
		WHERE room_id = $1
		ORDER BY sent_at DESC, message_id DESC
		LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ChatMessage, error) {
		var (
			m         model.ChatMessage
			retention int
		)
		err := row.Scan(&m.MessageID, &m.RoomID, &m.SenderID, &m.Body, &m.SentAt, &m.DeliveredAt, &m.ReadAt, &retention)
		m.SentAt = m.SentAt.UTC()
		m.RetentionDays = &retention
		return m, err
	})
}

func (s *Store) RoomOf(ctx context.Context, messageID string) (string, time.Time, error) {
	var (
		roomID string
		sentAt time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT room_id, sent_at FROM chat_messages WHERE message_id = $1`, messageID,
	).Scan(&roomID, &sentAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, errs.ErrMessageNotFound.WrapMsg("", "messageId", messageID)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return roomID, sentAt.UTC(), nil
}

// ===== receipts =====

func (s *Store) ReceiptExists(ctx context.Context, messageID, readerID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM read_receipts WHERE message_id = $1 AND reader_id = $2)`,
		messageID, readerID,
	).Scan(&exists)
	return exists, err
}

func (s *Store) InsertReceipt(ctx context.Context, r model.ReadReceipt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO read_receipts (message_id, room_id, reader_id, read_at)
		VALUES ($1, $2, $3, $4)`,
		r.MessageID, r.RoomID, r.ReaderID, r.ReadAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return receipt.ErrDuplicate
		case foreignKeyViolation:
			return errs.ErrMessageNotFound.WrapMsg("", "messageId", r.MessageID)
		}
	}
	return err
}

// InsertReceipts 一个事务里批量写入；并发写入的重复回执被忽略，只返回本次插入的
func (s *Store) InsertReceipts(ctx context.Context, rs []model.ReadReceipt) ([]model.ReadReceipt, error) {
	if len(rs) == 0 {
		return nil, nil
	}
	var inserted []model.ReadReceipt
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		inserted = inserted[:0]
		b := &pgx.Batch{}
		for _, r := range rs {
			b.Queue(`
				INSERT INTO read_receipts (message_id, room_id, reader_id, read_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (message_id, reader_id) DO NOTHING
				RETURNING message_id`,
				r.MessageID, r.RoomID, r.ReaderID, r.ReadAt,
			)
		}
		br := tx.SendBatch(ctx, b)
		for _, r := range rs {
			var id string
			err := br.QueryRow().Scan(&id)
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				_ = br.Close()
				return err
			}
			inserted = append(inserted, r)
		}
		return br.Close()
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// FindMaxReadTimestamp 读者在房间内已读消息中最新的 sent_at
func (s *Store) FindMaxReadTimestamp(ctx context.Context, roomID, readerID string) (time.Time, bool, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT MAX(m.sent_at)
		FROM read_receipts r
		JOIN chat_messages m ON m.message_id = r.message_id
		WHERE r.room_id = $1 AND r.reader_id = $2`,
		roomID, readerID,
	).Scan(&ts)
	if err != nil || ts == nil {
		return time.Time{}, false, err
	}
	return ts.UTC(), true, nil
}

func (s *Store) FindUnreadMessageIDs(ctx context.Context, roomID, readerID string, upTo time.Time, after *time.Time, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.message_id
		FROM chat_messages m
		WHERE m.room_id = $1
		  AND m.sent_at <= $3
		  AND ($4::timestamptz IS NULL OR m.sent_at > $4)
		  AND NOT EXISTS (
		      SELECT 1 FROM read_receipts r
		      WHERE r.message_id = m.message_id AND r.reader_id = $2
		  )
		ORDER BY m.sent_at ASC, m.message_id ASC
		LIMIT $5`,
		roomID, readerID, upTo, after, limit,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) Readers(ctx context.Context, messageID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT reader_id FROM read_receipts WHERE message_id = $1 ORDER BY read_at ASC, reader_id ASC`,
		messageID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (s *Store) CountReaders(ctx context.Context, messageID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM read_receipts WHERE message_id = $1`, messageID,
	).Scan(&n)
	return n, err
}

// ===== membership =====

func (s *Store) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2)`,
		roomID, userID,
	).Scan(&ok)
	return ok, err
}

func (s *Store) MembersOf(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id FROM room_members WHERE room_id = $1 ORDER BY user_id`, roomID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// AddMember 房间管理在别的服务；这里只给种子数据和测试用
func (s *Store) AddMember(ctx context.Context, roomID, userID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		roomID, userID,
	)
	return err
}
