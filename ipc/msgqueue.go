package ipc

import (
	"sync"

	"github.com/m512i/ZurichOS-sub001/defs"
	"github.com/m512i/ZurichOS-sub001/ksync"
	"github.com/m512i/ZurichOS-sub001/limits"
)

/// MAX_MSG_QUEUES, MAX_MSG_SIZE, and MAX_MSGS_PER_QUEUE match
/// msg_queue_t limits.
const (
	MAX_MSG_QUEUES     = 16
	MAX_MSG_SIZE       = 256
	MAX_MSGS_PER_QUEUE = 32
)

/// Msg_t is one queued message: a type tag used by Receive's
/// selective match, plus its payload.
type Msg_t struct {
	Mtype int64
	Text  [MAX_MSG_SIZE]byte
	Msize uint32
}

/// MsgQueue_t is a bounded FIFO of messages, blocking Send when full
/// and blocking Receive when empty or when no message matches the
/// requested type.
type MsgQueue_t struct {
	mu       sync.Mutex
	key      uint32
	messages [MAX_MSGS_PER_QUEUE]Msg_t
	head, tail, count uint32
	notEmpty ksync.Waitqueue_t
	notFull  ksync.Waitqueue_t
	inUse    bool
}

/// MsgqTable_t is the message-queue registry: a fixed array of queues
/// plus a key index.
type MsgqTable_t struct {
	mu      sync.Mutex
	queues  [MAX_MSG_QUEUES]*MsgQueue_t
	byKey   map[uint32]int
}

/// NewMsgqTable returns an empty message-queue registry.
func NewMsgqTable() *MsgqTable_t {
	return &MsgqTable_t{byKey: make(map[uint32]int)}
}

/// Create allocates a queue under key, returning EEXIST if the key is
/// already in use.
func (t *MsgqTable_t) Create(key uint32) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byKey[key]; exists {
		return -1, defs.EEXIST
	}
	id := -1
	for i := range t.queues {
		if t.queues[i] == nil {
			id = i
			break
		}
	}
	if id < 0 {
		return -1, defs.ENOMEM
	}
	if !limits.Syslimit.Msgqueues.Take() {
		return -1, defs.ENOMEM
	}
	t.queues[id] = &MsgQueue_t{key: key, inUse: true}
	t.byKey[key] = id
	return id, 0
}

/// Get returns the queue with the given id, or nil.
func (t *MsgqTable_t) Get(id int) *MsgQueue_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= MAX_MSG_QUEUES {
		return nil
	}
	return t.queues[id]
}

/// Destroy removes the queue with the given id.
func (t *MsgqTable_t) Destroy(id int) defs.Err_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id < 0 || id >= MAX_MSG_QUEUES || t.queues[id] == nil {
		return defs.EINVAL
	}
	delete(t.byKey, t.queues[id].key)
	t.queues[id] = nil
	limits.Syslimit.Msgqueues.Give()
	return 0
}

/// Send enqueues a message of the given type, blocking while the
/// queue is full.
func (q *MsgQueue_t) Send(payload []byte, mtype int64) defs.Err_t {
	if len(payload) > MAX_MSG_SIZE {
		return defs.EINVAL
	}
	for {
		q.mu.Lock()
		if q.count < MAX_MSGS_PER_QUEUE {
			m := &q.messages[q.tail]
			m.Mtype = mtype
			m.Msize = uint32(copy(m.Text[:], payload))
			q.tail = (q.tail + 1) % MAX_MSGS_PER_QUEUE
			q.count++
			q.mu.Unlock()
			q.notEmpty.Wakeone()
			return 0
		}
		q.mu.Unlock()
		q.notFull.Wait()
	}
}

/// Receive dequeues the first message matching mtype (mtype == 0
/// matches any message, mtype > 0 requires an exact match, mirroring
/// System V msgrcv's selection rules), blocking while no match is
/// queued. The message body is copied into dst, truncated to
/// len(dst).
func (q *MsgQueue_t) Receive(dst []byte, mtype int64) (int, defs.Err_t) {
	for {
		q.mu.Lock()
		idx, found := q.findMatch(mtype)
		if found {
			m := q.messages[idx]
			q.removeAt(idx)
			q.mu.Unlock()
			q.notFull.Wakeone()
			n := copy(dst, m.Text[:m.Msize])
			return n, 0
		}
		q.mu.Unlock()
		q.notEmpty.Wait()
	}
}

func (q *MsgQueue_t) findMatch(mtype int64) (uint32, bool) {
	for i := uint32(0); i < q.count; i++ {
		idx := (q.head + i) % MAX_MSGS_PER_QUEUE
		if mtype == 0 || q.messages[idx].Mtype == mtype {
			return idx, true
		}
	}
	return 0, false
}

func (q *MsgQueue_t) removeAt(idx uint32) {
	for i := idx; i != q.head; {
		prev := (i + MAX_MSGS_PER_QUEUE - 1) % MAX_MSGS_PER_QUEUE
		q.messages[i] = q.messages[prev]
		i = prev
	}
	q.head = (q.head + 1) % MAX_MSGS_PER_QUEUE
	q.count--
}
