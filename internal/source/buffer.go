package source

import (
	"sort"
	"sync"

	"checkpointfeed/internal/models"
)

// recentBuffer keeps the newest messages per channel, ordered by id.
type recentBuffer struct {
	mu       sync.Mutex
	capacity int
	byKey    map[string][]models.RawMessage
}

func newRecentBuffer(capacity int) *recentBuffer {
	if capacity <= 0 {
		capacity = 500
	}
	return &recentBuffer{capacity: capacity, byKey: map[string][]models.RawMessage{}}
}

func (b *recentBuffer) add(key string, msg models.RawMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.byKey[key]
	i := sort.Search(len(list), func(i int) bool { return list[i].MessageID >= msg.MessageID })
	if i < len(list) && list[i].MessageID == msg.MessageID {
		list[i] = msg
		return
	}
	list = append(list, models.RawMessage{})
	copy(list[i+1:], list[i:])
	list[i] = msg
	if len(list) > b.capacity {
		list = append([]models.RawMessage(nil), list[len(list)-b.capacity:]...)
	}
	b.byKey[key] = list
}

// recent returns a copy of the newest limit messages for key.
func (b *recentBuffer) recent(key string, limit int) []models.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.byKey[key]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	out := make([]models.RawMessage, len(list))
	copy(out, list)
	return out
}
