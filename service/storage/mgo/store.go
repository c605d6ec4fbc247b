package mgo

import (
	"context"
	"errors"
	"time"

	"linkwave/module/chat/model"
	"linkwave/service/receipt"
	"linkwave/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	_ receipt.Store      = (*Store)(nil)
	_ receipt.Membership = (*Store)(nil)
)

type messageDoc struct {
	ID            string     `bson:"_id"`
	RoomID        string     `bson:"room_id"`
	SenderID      string     `bson:"sender_id"`
	Body          string     `bson:"body"`
	SentAt        time.Time  `bson:"sent_at"`
	DeliveredAt   *time.Time `bson:"delivered_at,omitempty"`
	ReadAt        *time.Time `bson:"read_at,omitempty"`
	RetentionDays int        `bson:"retention_days"`
}

func (d messageDoc) toModel() model.ChatMessage {
	retention := d.RetentionDays
	return model.ChatMessage{
		MessageID:     d.ID,
		RoomID:        d.RoomID,
		SenderID:      d.SenderID,
		Body:          d.Body,
		SentAt:        d.SentAt.UTC(),
		DeliveredAt:   d.DeliveredAt,
		ReadAt:        d.ReadAt,
		RetentionDays: &retention,
	}
}

// receiptDoc 的 _id 由 message_id + reader_id 拼成，唯一性靠主键保证。
// msg_sent_at 冗余了消息的发送时间，FindMaxReadTimestamp 不用 join。
type receiptDoc struct {
	ID        string    `bson:"_id"`
	MessageID string    `bson:"message_id"`
	RoomID    string    `bson:"room_id"`
	ReaderID  string    `bson:"reader_id"`
	ReadAt    time.Time `bson:"read_at"`
	MsgSentAt time.Time `bson:"msg_sent_at"`
}

type memberDoc struct {
	ID     string `bson:"_id"`
	RoomID string `bson:"room_id"`
	UserID string `bson:"user_id"`
}

func receiptKey(messageID, readerID string) string { return messageID + "|" + readerID }
func memberKey(roomID, userID string) string       { return roomID + "|" + userID }

// Store is the MongoDB rendition of the message, receipt and membership
// store. It mirrors the PostgreSQL store method for method.
type Store struct {
	db       *mongo.Database
	msgs     *mongo.Collection
	receipts *mongo.Collection
	members  *mongo.Collection
	useTx    bool
}

func NewStore(db *mongo.Database, transactions bool) *Store {
	return &Store{
		db:       db,
		msgs:     db.Collection(collMessages),
		receipts: db.Collection(collReceipts),
		members:  db.Collection(collMembers),
		useTx:    transactions,
	}
}

// ===== messages =====

func (s *Store) SaveMessage(ctx context.Context, m model.ChatMessage) error {
	doc := messageDoc{
		ID:            m.MessageID,
		RoomID:        m.RoomID,
		SenderID:      m.SenderID,
		Body:          m.Body,
		SentAt:        m.SentAt,
		DeliveredAt:   m.DeliveredAt,
		ReadAt:        m.ReadAt,
		RetentionDays: m.Retention(),
	}
	_, err := s.msgs.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]model.ChatMessage, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))
	cur, err := s.msgs.Find(ctx, bson.M{"room_id": roomID}, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]model.ChatMessage, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (s *Store) RoomOf(ctx context.Context, messageID string) (string, time.Time, error) {
	var d messageDoc
	err := s.msgs.FindOne(ctx, bson.M{"_id": messageID},
		options.FindOne().SetProjection(bson.M{"room_id": 1, "sent_at": 1}),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", time.Time{}, errs.ErrMessageNotFound.WrapMsg("", "messageId", messageID)
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return d.RoomID, d.SentAt.UTC(), nil
}

// ===== receipts =====

func (s *Store) ReceiptExists(ctx context.Context, messageID, readerID string) (bool, error) {
	n, err := s.receipts.CountDocuments(ctx,
		bson.M{"_id": receiptKey(messageID, readerID)},
		options.Count().SetLimit(1),
	)
	return n > 0, err
}

func (s *Store) InsertReceipt(ctx context.Context, r model.ReadReceipt) error {
	_, sentAt, err := s.RoomOf(ctx, r.MessageID)
	if err != nil {
		return err
	}
	_, err = s.receipts.InsertOne(ctx, toReceiptDoc(r, sentAt))
	if mongo.IsDuplicateKeyError(err) {
		return receipt.ErrDuplicate
	}
	return err
}

// InsertReceipts 无序批量写入，重复键忽略；开启事务时整批原子提交。
// 返回真正插入的回执。
func (s *Store) InsertReceipts(ctx context.Context, rs []model.ReadReceipt) ([]model.ReadReceipt, error) {
	if len(rs) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.MessageID)
	}

	write := func(ctx context.Context) ([]model.ReadReceipt, error) {
		sentAt, err := s.sentTimes(ctx, ids)
		if err != nil {
			return nil, err
		}
		docs := make([]interface{}, 0, len(rs))
		for _, r := range rs {
			docs = append(docs, toReceiptDoc(r, sentAt[r.MessageID]))
		}
		_, err = s.receipts.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if err == nil {
			return rs, nil
		}
		skipped, ok := duplicateIndexes(err)
		if !ok {
			return nil, err
		}
		inserted := make([]model.ReadReceipt, 0, len(rs))
		for i, r := range rs {
			if _, dup := skipped[i]; !dup {
				inserted = append(inserted, r)
			}
		}
		return inserted, nil
	}

	if !s.useTx {
		return write(ctx)
	}
	sess, err := s.db.Client().StartSession()
	if err != nil {
		return nil, err
	}
	defer sess.EndSession(ctx)
	res, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return write(sc)
	})
	if err != nil {
		return nil, err
	}
	return res.([]model.ReadReceipt), nil
}

func (s *Store) sentTimes(ctx context.Context, ids []string) (map[string]time.Time, error) {
	cur, err := s.msgs.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetProjection(bson.M{"sent_at": 1}),
	)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(docs))
	for _, d := range docs {
		out[d.ID] = d.SentAt
	}
	return out, nil
}

func toReceiptDoc(r model.ReadReceipt, sentAt time.Time) receiptDoc {
	return receiptDoc{
		ID:        receiptKey(r.MessageID, r.ReaderID),
		MessageID: r.MessageID,
		RoomID:    r.RoomID,
		ReaderID:  r.ReaderID,
		ReadAt:    r.ReadAt,
		MsgSentAt: sentAt,
	}
}

// duplicateIndexes 批量写入的错误全部是重复键时，返回被跳过的文档下标
func duplicateIndexes(err error) (map[int]struct{}, bool) {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
		return nil, false
	}
	out := make(map[int]struct{}, len(bwe.WriteErrors))
	for _, we := range bwe.WriteErrors {
		if !isDuplicateCode(we.Code) {
			return nil, false
		}
		out[we.Index] = struct{}{}
	}
	return out, true
}

func isDuplicateCode(code int) bool {
	return code == 11000 || code == 11001 || code == 12582
}

func (s *Store) FindMaxReadTimestamp(ctx context.Context, roomID, readerID string) (time.Time, bool, error) {
	var d receiptDoc
	err := s.receipts.FindOne(ctx,
		bson.M{"room_id": roomID, "reader_id": readerID},
		options.FindOne().SetSort(bson.D{{Key: "msg_sent_at", Value: -1}}),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return d.MsgSentAt.UTC(), true, nil
}

func (s *Store) FindUnreadMessageIDs(ctx context.Context, roomID, readerID string, upTo time.Time, after *time.Time, limit int) ([]string, error) {
	window := bson.M{"$lte": upTo}
	if after != nil {
		window["$gt"] = *after
	}

	// 先取窗口内已读的 id，再排除
	read, err := s.receipts.Distinct(ctx, "message_id", bson.M{
		"room_id":     roomID,
		"reader_id":   readerID,
		"msg_sent_at": window,
	})
	if err != nil {
		return nil, err
	}

	filter := bson.M{"room_id": roomID, "sent_at": window}
	if len(read) > 0 {
		filter["_id"] = bson.M{"$nin": read}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"_id": 1})
	cur, err := s.msgs.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *Store) Readers(ctx context.Context, messageID string) ([]string, error) {
	cur, err := s.receipts.Find(ctx, bson.M{"message_id": messageID},
		options.Find().SetSort(bson.D{{Key: "read_at", Value: 1}, {Key: "reader_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []receiptDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	readers := make([]string, 0, len(docs))
	for _, d := range docs {
		readers = append(readers, d.ReaderID)
	}
	return readers, nil
}

func (s *Store) CountReaders(ctx context.Context, messageID string) (int64, error) {
	return s.receipts.CountDocuments(ctx, bson.M{"message_id": messageID})
}

// ===== membership =====

func (s *Store) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	n, err := s.members.CountDocuments(ctx,
		bson.M{"_id": memberKey(roomID, userID)},
		options.Count().SetLimit(1),
	)
	return n > 0, err
}

func (s *Store) MembersOf(ctx context.Context, roomID string) ([]string, error) {
	cur, err := s.members.Find(ctx, bson.M{"room_id": roomID},
		options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	var docs []memberDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.UserID)
	}
	return out, nil
}

func (s *Store) AddMember(ctx context.Context, roomID, userID string) error {
	_, err := s.members.UpdateOne(ctx,
		bson.M{"_id": memberKey(roomID, userID)},
		bson.M{"$setOnInsert": bson.M{"room_id": roomID, "user_id": userID}},
		options.Update().SetUpsert(true),
	)
	return err
}
