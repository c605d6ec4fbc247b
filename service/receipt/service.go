package receipt

import (
	"context"
	"errors"
	"time"

	"linkwave/logger"
	"linkwave/module/chat/model"
	"linkwave/tools/errs"

	"go.uber.org/zap"
)

// MaxBatch 单次 MarkReadUpTo 最多写入的回执数
const MaxBatch = 50

// ErrDuplicate is returned by Store.InsertReceipt when (messageId, readerId)
// already has a receipt.
var ErrDuplicate = errors.New("receipt already exists")

// Store is the durable side of read receipts. Implementations return
// errs.ErrMessageNotFound from RoomOf for an unknown message.
type Store interface {
	ReceiptExists(ctx context.Context, messageID, readerID string) (bool, error)
	InsertReceipt(ctx context.Context, r model.ReadReceipt) error
	// InsertReceipts writes all receipts in one transaction and returns the
	// ones actually inserted; rows that already existed are skipped.
	InsertReceipts(ctx context.Context, rs []model.ReadReceipt) ([]model.ReadReceipt, error)
	RoomOf(ctx context.Context, messageID string) (roomID string, sentAt time.Time, err error)
	FindMaxReadTimestamp(ctx context.Context, roomID, readerID string) (ts time.Time, ok bool, err error)
	// FindUnreadMessageIDs returns ids of messages in roomID that readerID has
	// no receipt for, with after < sentAt <= upTo, oldest first.
	FindUnreadMessageIDs(ctx context.Context, roomID, readerID string, upTo time.Time, after *time.Time, limit int) ([]string, error)
	Readers(ctx context.Context, messageID string) ([]string, error)
	CountReaders(ctx context.Context, messageID string) (int64, error)
}

type Membership interface {
	IsMember(ctx context.Context, userID, roomID string) (bool, error)
}

type Service struct {
	store   Store
	members Membership
	now     func() time.Time
	log     *zap.Logger
}

func NewService(store Store, members Membership) *Service {
	return &Service{
		store:   store,
		members: members,
		now:     time.Now,
		log:     logger.Named("receipt"),
	}
}

// MarkRead records that readerID has read messageID. It is idempotent: a
// second call reports AlreadyRead and writes nothing.
func (s *Service) MarkRead(ctx context.Context, messageID, roomID, readerID string) (Result, error) {
	exists, err := s.store.ReceiptExists(ctx, messageID, readerID)
	if err != nil {
		return nil, errs.ErrStore.WrapMsg(err.Error(), "op", "receiptExists")
	}
	if exists {
		return AlreadyRead{MessageID: messageID, ReaderID: readerID}, nil
	}
	// 回执的 roomId 必须是消息自己的房间
	if _, err := s.roomOf(ctx, messageID, roomID); err != nil {
		return nil, err
	}
	if err := s.checkMember(ctx, readerID, roomID); err != nil {
		return nil, err
	}

	r := model.ReadReceipt{
		MessageID: messageID,
		RoomID:    roomID,
		ReaderID:  readerID,
		ReadAt:    model.Millis(s.now()),
	}
	if err := s.store.InsertReceipt(ctx, r); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// 并发的另一次调用先写入了
			return AlreadyRead{MessageID: messageID, ReaderID: readerID}, nil
		}
		if errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		return nil, errs.ErrStore.WrapMsg(err.Error(), "op", "insertReceipt")
	}
	return NewRead{Receipt: r}, nil
}

// MarkReadUpTo acknowledges every unread message in roomID up to and
// including messageID, oldest first, at most MaxBatch per call. Progress is
// strictly monotonic: a target at or before the reader's latest receipt
// yields no receipts.
func (s *Service) MarkReadUpTo(ctx context.Context, roomID, messageID, readerID string) ([]model.ReadReceipt, error) {
	sentAt, err := s.roomOf(ctx, messageID, roomID)
	if err != nil {
		return nil, err
	}
	if err := s.checkMember(ctx, readerID, roomID); err != nil {
		return nil, err
	}

	prevMax, hasPrev, err := s.store.FindMaxReadTimestamp(ctx, roomID, readerID)
	if err != nil {
		return nil, errs.ErrStore.WrapMsg(err.Error(), "op", "findMaxReadTimestamp")
	}
	var after *time.Time
	if hasPrev {
		if !sentAt.After(prevMax) {
			return nil, nil
		}
		after = &prevMax
	}

	ids, err := s.store.FindUnreadMessageIDs(ctx, roomID, readerID, sentAt, after, MaxBatch)
	if err != nil {
		return nil, errs.ErrStore.WrapMsg(err.Error(), "op", "findUnread")
	}
	if len(ids) > MaxBatch {
		ids = ids[:MaxBatch]
	}
	if len(ids) == 0 {
		return nil, nil
	}

	readAt := model.Millis(s.now())
	receipts := make([]model.ReadReceipt, 0, len(ids))
	for _, id := range ids {
		receipts = append(receipts, model.ReadReceipt{
			MessageID: id,
			RoomID:    roomID,
			ReaderID:  readerID,
			ReadAt:    readAt,
		})
	}
	// 并发的同一调用可能已写入部分回执，只返回本次真正写入的
	receipts, err = s.store.InsertReceipts(ctx, receipts)
	if err != nil {
		return nil, errs.ErrStore.WrapMsg(err.Error(), "op", "insertReceipts")
	}
	if len(receipts) == 0 {
		return nil, nil
	}
	s.log.Debug("read up to",
		zap.String("room", roomID),
		zap.String("reader", readerID),
		zap.Int("n", len(receipts)),
	)
	return receipts, nil
}

// RoomOf resolves the room a message belongs to.
func (s *Service) RoomOf(ctx context.Context, messageID string) (string, error) {
	roomID, _, err := s.store.RoomOf(ctx, messageID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return "", err
		}
		return "", errs.ErrStore.WrapMsg(err.Error(), "op", "roomOf")
	}
	return roomID, nil
}

// roomOf 找到消息并确认它属于 roomID，返回其 sentAt
func (s *Service) roomOf(ctx context.Context, messageID, roomID string) (time.Time, error) {
	msgRoom, sentAt, err := s.store.RoomOf(ctx, messageID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return time.Time{}, err
		}
		return time.Time{}, errs.ErrStore.WrapMsg(err.Error(), "op", "roomOf")
	}
	if msgRoom != roomID {
		return time.Time{}, errs.ErrRoomMismatch.WrapMsg("", "messageId", messageID, "roomId", roomID)
	}
	return sentAt, nil
}

func (s *Service) Readers(ctx context.Context, messageID string) ([]string, error) {
	readers, err := s.store.Readers(ctx, messageID)
	if err != nil {
		return nil, errs.ErrStore.WrapMsg(err.Error(), "op", "readers")
	}
	return readers, nil
}

func (s *Service) ReadCount(ctx context.Context, messageID string) (int64, error) {
	n, err := s.store.CountReaders(ctx, messageID)
	if err != nil {
		return 0, errs.ErrStore.WrapMsg(err.Error(), "op", "countReaders")
	}
	return n, nil
}

func (s *Service) checkMember(ctx context.Context, userID, roomID string) error {
	ok, err := s.members.IsMember(ctx, userID, roomID)
	if err != nil {
		return errs.ErrStore.WrapMsg(err.Error(), "op", "isMember")
	}
	if !ok {
		return errs.ErrNotRoomMember.WrapMsg("", "roomId", roomID)
	}
	return nil
}
