package permission

import "sync"

// EditQueue correlates write permission requests with the edit tool calls
// that caused them. Calls are recorded per file in the order their start
// events arrive and are handed out in the same order, so the runtime must
// request permission for edits to one file in the order it started them.
// Edits to different files do not affect each other.
type EditQueue struct {
	mu      sync.Mutex
	pending map[string][]string // file -> toolCallIDs, oldest first
}

// NewEditQueue creates an empty queue.
func NewEditQueue() *EditQueue {
	return &EditQueue{pending: make(map[string][]string)}
}

// Record appends toolCallID to the queue for file.
func (q *EditQueue) Record(file, toolCallID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[file] = append(q.pending[file], toolCallID)
}

// Next removes and returns the oldest pending tool call for file.
func (q *EditQueue) Next(file string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ids := q.pending[file]
	if len(ids) == 0 {
		return "", false
	}
	id := ids[0]
	if len(ids) == 1 {
		delete(q.pending, file)
	} else {
		q.pending[file] = ids[1:]
	}
	return id, true
}

// Remove drops toolCallID wherever it is queued. Used when a call completes
// without ever asking for permission.
func (q *EditQueue) Remove(toolCallID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for file, ids := range q.pending {
		for i, id := range ids {
			if id != toolCallID {
				continue
			}
			ids = append(ids[:i:i], ids[i+1:]...)
			if len(ids) == 0 {
				delete(q.pending, file)
			} else {
				q.pending[file] = ids
			}
			return true
		}
	}
	return false
}

// Len returns the number of queued calls for file.
func (q *EditQueue) Len(file string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[file])
}
