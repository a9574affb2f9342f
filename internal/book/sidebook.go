package book

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"

	"fenrir/internal/common"
)

// SideBook maintains the price levels for one side (bids or asks) of one
// instrument. The price index is a balanced tree (github.com/tidwall/btree,
// the teacher's choice in internal/engine/orderbook.go) so Insert is
// O(log n) and BestPrice is a Min() lookup that descends one root-to-leaf
// path, also O(log n); the best level is not cached, so the lookup is not
// O(1). There is no parallel hash map:
// the btree's comparator already treats equal decimal values as equal
// regardless of their internal scale (via decimal.Decimal.Cmp), which is
// exactly the normalization §9 requires and a map keyed by Decimal.String()
// would get wrong for values like "1.5" vs "1.50".
type SideBook struct {
	side   common.Side
	levels *btree.BTreeG[*PriceLevel]
}

// NewSideBook builds a side book. Bids sort descending (highest first);
// asks sort ascending (lowest first) — in both cases Min() on the
// underlying tree yields the most aggressive price, mirroring the
// teacher's inverted-comparator trick.
func NewSideBook(side common.Side) *SideBook {
	var less func(a, b *PriceLevel) bool
	if side == common.Buy {
		less = func(a, b *PriceLevel) bool { return a.Price.Cmp(b.Price) > 0 }
	} else {
		less = func(a, b *PriceLevel) bool { return a.Price.Cmp(b.Price) < 0 }
	}
	return &SideBook{
		side:   side,
		levels: btree.NewBTreeG(less),
	}
}

// BestPrice returns the most aggressive resting price, or ok=false if the
// side is empty.
func (b *SideBook) BestPrice() (decimal.Decimal, bool) {
	lvl, ok := b.levels.Min()
	if !ok {
		return decimal.Decimal{}, false
	}
	return lvl.Price, true
}

// BestLevel returns the level at the most aggressive price.
func (b *SideBook) BestLevel() (*PriceLevel, bool) {
	return b.levels.Min()
}

// PeekBestOrder returns the oldest order at the best price, or nil if the
// side is empty.
func (b *SideBook) PeekBestOrder() *common.Order {
	lvl, ok := b.levels.Min()
	if !ok {
		return nil
	}
	return lvl.PeekFront()
}

// Insert places order into the level matching its price, creating the
// level if absent. New levels preserve side ordering automatically via the
// tree's comparator.
func (b *SideBook) Insert(order *common.Order) {
	lvl, ok := b.levels.Get(&PriceLevel{Price: order.Price.Decimal})
	if !ok {
		lvl = NewPriceLevel(order.Price.Decimal)
		b.levels.Set(lvl)
	}
	lvl.PushBack(order)
}

// LevelAt returns the level at price, if one exists.
func (b *SideBook) LevelAt(price decimal.Decimal) (*PriceLevel, bool) {
	return b.levels.Get(&PriceLevel{Price: price})
}

// PopIfEmpty removes the level at price if it has no resting orders.
// Invariant (§3): a level with zero orders must not exist — callers must
// invoke this whenever a level's last order is removed.
func (b *SideBook) PopIfEmpty(price decimal.Decimal) {
	lvl, ok := b.levels.Get(&PriceLevel{Price: price})
	if ok && lvl.IsEmpty() {
		b.levels.Delete(lvl)
	}
}

// Remove removes order id from the level at price, used by cancellation.
// It pops the level if that was its last order.
func (b *SideBook) Remove(id uuid.UUID, price decimal.Decimal) (*common.Order, bool) {
	lvl, ok := b.levels.Get(&PriceLevel{Price: price})
	if !ok {
		return nil, false
	}
	order, removed := lvl.RemoveByID(id)
	if !removed {
		return nil, false
	}
	b.PopIfEmpty(price)
	return order, true
}

// IsEmpty reports whether the side has no resting levels at all.
func (b *SideBook) IsEmpty() bool {
	return b.levels.Len() == 0
}

// Levels returns up to depth price levels in best-first order, each paired
// with its aggregated remaining quantity. depth<=0 returns every level.
// This backs the read-only book query contract of §6.
type LevelDepth struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Orders   int
}

func (b *SideBook) Levels(depth int) []LevelDepth {
	out := make([]LevelDepth, 0)
	b.levels.Scan(func(lvl *PriceLevel) bool {
		if depth > 0 && len(out) >= depth {
			return false
		}
		total := decimal.Zero
		for _, o := range lvl.Orders() {
			total = total.Add(o.Remaining)
		}
		out = append(out, LevelDepth{Price: lvl.Price, Quantity: total, Orders: lvl.Len()})
		return true
	})
	return out
}
