// Package merger selects the best-ranked document scores from one or more
// score lists.
package merger

import (
	"container/heap"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/trieindex/internal/indexer/index"
)

// Better reports whether a ranks before b: higher score first, then lower
// document id.
func Better(a, b index.DocumentScore) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocumentID < b.DocumentID
}

// Sort orders scores best first.
func Sort(scores []index.DocumentScore) {
	sort.Slice(scores, func(i, j int) bool { return Better(scores[i], scores[j]) })
}

// Merge returns the limit best scores across lists, best first. A
// non-positive limit keeps every score.
func Merge(lists [][]index.DocumentScore, limit int) []index.DocumentScore {
	if limit <= 0 {
		all := []index.DocumentScore{}
		for _, list := range lists {
			all = append(all, list...)
		}
		Sort(all)
		return all
	}
	h := &scoreHeap{}
	heap.Init(h)
	for _, list := range lists {
		for _, doc := range list {
			if h.Len() == limit && !Better(doc, (*h)[0]) {
				continue
			}
			heap.Push(h, doc)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]index.DocumentScore, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(index.DocumentScore)
	}
	return result
}

// TopK returns the k best scores of one list, best first.
func TopK(scores []index.DocumentScore, k int) []index.DocumentScore {
	return Merge([][]index.DocumentScore{scores}, k)
}

// scoreHeap keeps the worst retained score at the root.
type scoreHeap []index.DocumentScore

func (h scoreHeap) Len() int { return len(h) }

func (h scoreHeap) Less(i, j int) bool { return Better(h[j], h[i]) }

func (h scoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoreHeap) Push(x interface{}) {
	*h = append(*h, x.(index.DocumentScore))
}

func (h *scoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
