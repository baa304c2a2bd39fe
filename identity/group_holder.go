package identity

import (
	"sync"
)

// GroupHolder owns the session's current group value. Updates install a new
// immutable group; readers holding a previous value stay valid for the
// duration of their handler.
type GroupHolder struct {
	mtx   sync.RWMutex
	group Group
}

func NewGroupHolder(group Group) *GroupHolder {
	return &GroupHolder{group: group}
}

func (h *GroupHolder) Group() Group {
	h.mtx.RLock()
	defer h.mtx.RUnlock()
	return h.group
}

func (h *GroupHolder) Update(group Group) {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	h.group = group
}
