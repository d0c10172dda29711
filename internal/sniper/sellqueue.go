package sniper

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/membot-trading/membot/internal/solana"
)

// SellItem is one pending sell attempt.
type SellItem struct {
	Mint         solana.Pubkey
	Due          time.Time
	Attempt      int
	CostLamports uint64
}

type sellHeap []SellItem

func (h sellHeap) Len() int           { return len(h) }
func (h sellHeap) Less(i, j int) bool { return h[i].Due.Before(h[j].Due) }
func (h sellHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *sellHeap) Push(x any)        { *h = append(*h, x.(SellItem)) }
func (h *sellHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// SellQueue orders pending sells by due time. An item pushed with an
// earlier deadline than the current head wakes any waiter immediately, so
// one late item never delays the rest.
type SellQueue struct {
	mu    sync.Mutex
	items sellHeap
	wake  chan struct{}
}

func NewSellQueue() *SellQueue {
	return &SellQueue{wake: make(chan struct{}, 1)}
}

func (q *SellQueue) Push(item SellItem) {
	q.mu.Lock()
	heap.Push(&q.items, item)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// PopWait blocks until the earliest item is due, then removes and returns
// it. Returns the context error when ctx ends first.
func (q *SellQueue) PopWait(ctx context.Context) (SellItem, error) {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return SellItem{}, ctx.Err()
			case <-q.wake:
			}
			continue
		}

		head := q.items[0]
		wait := time.Until(head.Due)
		if wait <= 0 {
			item := heap.Pop(&q.items).(SellItem)
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return SellItem{}, ctx.Err()
		case <-q.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (q *SellQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
