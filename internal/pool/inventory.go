package pool

import (
	"container/list"

	"github.com/google/uuid"
)

// inventory is the ordered sequence of idle listeners. It satisfies two
// independent orderings on one structure: LIFO pop from the tail for
// cache-warm reuse on checkout, and FIFO inspection from the head for
// the idle sweep. container/list gives O(1) for both ends; the side
// index gives O(1) arbitrary removal so a double-return or an async
// destroy doesn't force an O(n) scan.
//
// Not safe for concurrent use on its own — callers hold Pool.mu.
type inventory struct {
	l     *list.List
	index map[uuid.UUID]*list.Element
}

func newInventory() *inventory {
	return &inventory{
		l:     list.New(),
		index: make(map[uuid.UUID]*list.Element),
	}
}

func (inv *inventory) len() int {
	return inv.l.Len()
}

func (inv *inventory) contains(id uuid.UUID) bool {
	_, ok := inv.index[id]
	return ok
}

// pushTail appends the most-recently-returned listener. No-op (logged by
// the caller) if already present, tolerating a double return.
func (inv *inventory) pushTail(lst *Listener) {
	if inv.contains(lst.ID()) {
		return
	}
	inv.index[lst.ID()] = inv.l.PushBack(lst)
}

// popTail removes and returns the most-recently-returned listener (LIFO).
func (inv *inventory) popTail() (*Listener, bool) {
	back := inv.l.Back()
	if back == nil {
		return nil, false
	}
	lst := back.Value.(*Listener)
	inv.l.Remove(back)
	delete(inv.index, lst.ID())
	return lst, true
}

// peekHead returns, without removing, the oldest-idle listener (FIFO).
func (inv *inventory) peekHead() (*Listener, bool) {
	front := inv.l.Front()
	if front == nil {
		return nil, false
	}
	return front.Value.(*Listener), true
}

// popHead removes and returns the oldest-idle listener.
func (inv *inventory) popHead() (*Listener, bool) {
	front := inv.l.Front()
	if front == nil {
		return nil, false
	}
	lst := front.Value.(*Listener)
	inv.l.Remove(front)
	delete(inv.index, lst.ID())
	return lst, true
}

// remove deletes a listener from the inventory regardless of its
// position, returning whether it was present. Used by the defensive
// "remove from inventory" step in ReturnConnection's kill path, which
// tolerates a listener asynchronously landing somewhere unexpected.
func (inv *inventory) remove(lst *Listener) bool {
	el, ok := inv.index[lst.ID()]
	if !ok {
		return false
	}
	inv.l.Remove(el)
	delete(inv.index, lst.ID())
	return true
}
