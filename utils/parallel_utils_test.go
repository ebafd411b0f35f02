package utils

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionMap(t *testing.T) {
	{ // Test PartitionMap
		getHisto := func(K, Np int) (histo map[int]int) {
			pm := NewPartitionMap(Np, K)
			histo = make(map[int]int)
			for np := 0; np < pm.ParallelDegree; np++ {
				kMin, kMax := pm.GetBucketRange(np)
				histo[kMax-kMin]++
			}
			return
		}
		getTotal := func(histo map[int]int) (total int) {
			for key, count := range histo {
				total += key * count
			}
			return
		}
		assert.Equal(t, map[int]int{0: 30, 1: 2}, getHisto(2, 32))
		assert.Equal(t, map[int]int{1: 32}, getHisto(32, 32))
		assert.Equal(t, map[int]int{8: 32}, getHisto(256, 32))
		assert.Equal(t, map[int]int{8: 1, 9: 31}, getHisto(287, 32))
		assert.Equal(t, 287, getTotal(getHisto(287, 32)))
		for n := 64; n < 10000; n++ {
			var (
				keys   [2]float64
				keyNum int
			)
			histo := getHisto(n, 32)
			for key := range histo {
				keys[keyNum] = float64(key)
				keyNum++
			}
			if keyNum == 2 {
				assert.Equal(t, 1., math.Abs(keys[0]-keys[1])) // Maximum imbalance of 1
			}
			assert.Equal(t, n, getTotal(histo))
		}
	}
	{ // Test the buckets tile the index range in order
		for maxIndex := 10; maxIndex < 1000; maxIndex++ {
			pm := NewPartitionMap(5, maxIndex)
			var next int
			for bn := 0; bn < pm.ParallelDegree; bn++ {
				kMin, kMax := pm.GetBucketRange(bn)
				assert.Equal(t, next, kMin)
				assert.LessOrEqual(t, kMin, kMax)
				next = kMax
			}
			assert.Equal(t, maxIndex, next)
		}
	}
}

func TestMailBox(t *testing.T) {
	{ // Test point to point delivery from several threads
		mb := NewMailBox[int](3, 0)
		mb.PostMessage(0, 2, 7)
		mb.PostMessage(0, 2, 8)
		mb.PostMessage(1, 2, 9)
		mb.PostMessage(1, 0, 9)
		assert.False(t, mb.DeliverMyMessages(0))
		assert.False(t, mb.DeliverMyMessages(1))
		mb.ReceiveMyMessages(2)
		got := mb.TakeMyMessages(2)
		assert.ElementsMatch(t, []int{7, 8, 9}, got)
		mb.ReceiveMyMessages(0)
		assert.Equal(t, []int{9}, mb.TakeMyMessages(0))
		assert.Nil(t, mb.TakeMyMessages(0))
	}
	{ // Test a full inbox keeps the batch queued rather than blocking
		mb := NewMailBox[int](1, 1)
		mb.PostMessage(0, 0, 1)
		assert.False(t, mb.DeliverMyMessages(0))
		mb.PostMessage(0, 0, 2)
		assert.True(t, mb.DeliverMyMessages(0))
		mb.ReceiveMyMessages(0)
		assert.False(t, mb.DeliverMyMessages(0))
		mb.ReceiveMyMessages(0)
		assert.Equal(t, []int{1, 2}, mb.TakeMyMessages(0))
	}
}
