package errs

import (
	"errors"
	"net/http"
)

// ===== 业务码 =====

const (
	CodeProtocol        = 1400
	CodeInvalidArgument = 1401
	CodeUnauthorized    = 1403
	CodeNotFound        = 1404
	CodeNotRoomMember   = 1431
	CodeRoomMismatch    = 1432
	CodeMessageNotFound = 1441
	CodePublishFailed   = 1500
	CodeStore           = 1501
	CodeInternal        = 1502
)

var (
	ErrProtocol        = NewCodeError(CodeProtocol, "protocol error")
	ErrInvalidArgument = NewCodeError(CodeInvalidArgument, "invalid argument")
	ErrUnauthorized    = NewCodeError(CodeUnauthorized, "unauthorized")
	ErrNotFound        = NewCodeError(CodeNotFound, "not found")

	ErrNotRoomMember   = NewCodeError(CodeNotRoomMember, "not a room member")
	ErrRoomMismatch    = NewCodeError(CodeRoomMismatch, "message does not belong to room")
	ErrMessageNotFound = NewCodeError(CodeMessageNotFound, "message not found")

	ErrPublishFailed = NewCodeError(CodePublishFailed, "publish failed")
	ErrStore         = NewCodeError(CodeStore, "store error")
	ErrInternal      = NewCodeError(CodeInternal, "internal error")
)

func init() {
	_ = DefaultCodeRelation.Add(CodeUnauthorized, CodeNotRoomMember)
	_ = DefaultCodeRelation.Add(CodeUnauthorized, CodeRoomMismatch)
	_ = DefaultCodeRelation.Add(CodeNotFound, CodeMessageNotFound)
}

// HTTPStatus maps an error class to the status the REST layer answers with.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrProtocol):
		return http.StatusBadRequest
	case errors.Is(err, ErrPublishFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
