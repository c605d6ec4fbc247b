package receipt

import "linkwave/module/chat/model"

// Result is the outcome of MarkRead: exactly one of AlreadyRead or NewRead.
type Result interface {
	isResult()
}

// AlreadyRead 已有回执，本次调用没有写入
type AlreadyRead struct {
	MessageID string
	ReaderID  string
}

// NewRead 本次调用新建的回执
type NewRead struct {
	Receipt model.ReadReceipt
}

func (AlreadyRead) isResult() {}
func (NewRead) isResult()     {}
