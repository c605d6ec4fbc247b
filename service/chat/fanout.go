package chat

import (
	"context"
	"encoding/json"
)

// MemberLister resolves the members of a room.
type MemberLister interface {
	MembersOf(ctx context.Context, roomID string) ([]string, error)
}

// Fanout 把一帧推给房间内所有在线成员；离线成员直接跳过
type Fanout struct {
	reg     *Registry
	members MemberLister
}

func NewFanout(reg *Registry, members MemberLister) *Fanout {
	return &Fanout{reg: reg, members: members}
}

// ToRoom returns how many members had the payload queued. Members listed in
// exclude are skipped.
func (f *Fanout) ToRoom(ctx context.Context, roomID string, payload []byte, exclude ...string) (int, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	members, err := f.members.MembersOf(ctx, roomID)
	if err != nil {
		return 0, err
	}
	delivered := 0
	for _, uid := range members {
		if contains(exclude, uid) {
			continue
		}
		if f.reg.SendTo(uid, payload) {
			delivered++
		}
	}
	return delivered, nil
}

func (f *Fanout) ToRoomJSON(ctx context.Context, roomID string, v any, exclude ...string) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return f.ToRoom(ctx, roomID, b, exclude...)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
