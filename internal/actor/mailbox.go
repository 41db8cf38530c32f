package actor

import (
	"sync"
)

const mailboxCompactThreshold = 64

// Mailbox 进程邮箱，任意 goroutine 可以 Push，只有所属进程取出
// 锁只在入队出队期间持有
type Mailbox struct {
	mu     sync.Mutex
	queue  []*Message
	head   int
	closed bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Push 追加消息，邮箱关闭后返回 false
func (mb *Mailbox) Push(msg *Message) bool {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return false
	}
	mb.queue = append(mb.queue, msg)
	return true
}

// Pop 取出最早的一条消息
func (mb *Mailbox) Pop() (*Message, bool) {
	return mb.PopMatch(nil)
}

// PopMatch 取出第一条满足 match 的消息，其余消息保持原有顺序
func (mb *Mailbox) PopMatch(match func(*Message) bool) (*Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.popLocked(match)
}

// popOrPark 没有匹配消息时在锁内调用 park，保证 park 之后的 Push 一定能看到等待状态
func (mb *Mailbox) popOrPark(match func(*Message) bool, park func()) (*Message, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if msg, ok := mb.popLocked(match); ok {
		return msg, true
	}
	park()
	return nil, false
}

func (mb *Mailbox) popLocked(match func(*Message) bool) (*Message, bool) {
	for i := mb.head; i < len(mb.queue); i++ {
		msg := mb.queue[i]
		if match != nil && !match(msg) {
			continue
		}
		if i == mb.head {
			mb.queue[i] = nil
			mb.head++
		} else {
			copy(mb.queue[i:], mb.queue[i+1:])
			mb.queue[len(mb.queue)-1] = nil
			mb.queue = mb.queue[:len(mb.queue)-1]
		}
		mb.compact()
		return msg, true
	}
	return nil, false
}

func (mb *Mailbox) compact() {
	if mb.head == len(mb.queue) {
		mb.queue = mb.queue[:0]
		mb.head = 0
		return
	}
	if mb.head >= mailboxCompactThreshold && mb.head*2 >= len(mb.queue) {
		n := copy(mb.queue, mb.queue[mb.head:])
		clear(mb.queue[n:])
		mb.queue = mb.queue[:n]
		mb.head = 0
	}
}

// RemoveIf 删除所有满足条件的消息，返回删除数量
func (mb *Mailbox) RemoveIf(match func(*Message) bool) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	kept := mb.queue[:mb.head]
	removed := 0
	for _, msg := range mb.queue[mb.head:] {
		if match(msg) {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	clear(mb.queue[len(kept):])
	mb.queue = kept
	mb.compact()
	return removed
}

func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.queue) - mb.head
}

func (mb *Mailbox) IsEmpty() bool {
	return mb.Len() == 0
}

// Close 关闭邮箱并丢弃剩余消息，返回丢弃的数量
func (mb *Mailbox) Close() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := len(mb.queue) - mb.head
	mb.closed = true
	mb.queue = nil
	mb.head = 0
	return n
}
