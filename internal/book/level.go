// Package book implements the price-ordered order book: a FIFO list of
// resting orders at a single price (PriceLevel, C1) and a price-ordered
// collection of levels for one side of an instrument (SideBook, C2).
package book

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fenrir/internal/common"
)

// node is an intrusive doubly-linked-list element. PriceLevel owns the
// arena of nodes for its orders; there are no back-pointers from Order to
// its book position — lookups go through PriceLevel.index.
type node struct {
	order      *common.Order
	prev, next *node
}

// PriceLevel is a FIFO sequence of resting orders sharing one price and
// side. Ordering is strictly by insertion (§4.1); ties in external
// timestamp never reorder. RemoveByID is O(1) via the id→node index; it is
// the index, not a linear scan, that gives the spec's "expected O(1)
// amortized" removal.
type PriceLevel struct {
	Price decimal.Decimal

	head, tail *node
	index      map[uuid.UUID]*node
	count      int
}

// NewPriceLevel creates an empty level at price. A level with zero orders
// must never be left reachable from a SideBook — callers pop it via
// SideBook.PopIfEmpty as soon as IsEmpty() becomes true.
func NewPriceLevel(price decimal.Decimal) *PriceLevel {
	return &PriceLevel{
		Price: price,
		index: make(map[uuid.UUID]*node),
	}
}

func (l *PriceLevel) IsEmpty() bool { return l.count == 0 }

func (l *PriceLevel) Len() int { return l.count }

// PushBack appends order to the tail of the FIFO.
func (l *PriceLevel) PushBack(order *common.Order) {
	n := &node{order: order}
	if l.tail == nil {
		l.head, l.tail = n, n
	} else {
		n.prev = l.tail
		l.tail.next = n
		l.tail = n
	}
	l.index[order.ID] = n
	l.count++
}

// PeekFront returns the oldest order at this level without removing it,
// or nil if the level is empty.
func (l *PriceLevel) PeekFront() *common.Order {
	if l.head == nil {
		return nil
	}
	return l.head.order
}

// PopFront removes and returns the oldest order, or nil if empty.
func (l *PriceLevel) PopFront() *common.Order {
	if l.head == nil {
		return nil
	}
	n := l.head
	l.unlink(n)
	return n.order
}

// RemoveByID removes the order with the given id from anywhere in the
// FIFO, preserving the relative order of the remainder. Used by
// cancellation (§4.3).
func (l *PriceLevel) RemoveByID(id uuid.UUID) (*common.Order, bool) {
	n, ok := l.index[id]
	if !ok {
		return nil, false
	}
	l.unlink(n)
	return n.order, true
}

func (l *PriceLevel) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		l.tail = n.prev
	}
	delete(l.index, n.order.ID)
	l.count--
}

// Orders returns the resting orders at this level in FIFO order. It is
// used only by snapshot/test code — the matcher never needs a full
// materialization.
func (l *PriceLevel) Orders() []*common.Order {
	out := make([]*common.Order, 0, l.count)
	for n := l.head; n != nil; n = n.next {
		out = append(out, n.order)
	}
	return out
}
