package model

import "time"

// ReadReceipt “readerId 已读 messageId”；(messageId, readerId) 唯一，写入后不再修改
type ReadReceipt struct {
	MessageID string    `json:"messageId"`
	RoomID    string    `json:"roomId"`
	ReaderID  string    `json:"readerId"`
	ReadAt    time.Time `json:"readAt"`
}
