package norm

import (
	"runtime"
	"sync"
)

type rowTask struct {
	fn     func(block, rs, re int)
	block  int
	rs, re int
	done   chan struct{}
}

type rowPool struct {
	size      int
	tasks     chan rowTask
	doneSlots chan chan struct{}
}

var normRowPool *rowPool

var rowPoolOnce sync.Once

func getRowPool() *rowPool {
	rowPoolOnce.Do(func() {
		normRowPool = newRowPool()
	})
	return normRowPool
}

func newRowPool() *rowPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &rowPool{
		size:      size,
		tasks:     make(chan rowTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, size)
	}
	for i := 0; i < size; i++ {
		go func() {
			for task := range p.tasks {
				task.fn(task.block, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

// rowBlocks returns the block partition used for n1 rows: block count and
// rows per block. The partition depends only on n1 and the pool size, so a
// given process always reduces gamma/beta partials in the same order.
func rowBlocks(n1 int) (blocks, chunk int) {
	blocks = getRowPool().size
	if blocks > n1 {
		blocks = n1
	}
	if blocks < 1 {
		blocks = 1
	}
	chunk = (n1 + blocks - 1) / blocks
	// chunk rounding can leave trailing empty blocks; drop them
	blocks = (n1 + chunk - 1) / chunk
	return blocks, chunk
}

// parallelRows runs fn over a fixed partition of [0, n1) row blocks. fn is
// invoked once per block with the block index and its half-open row range;
// blocks run concurrently on the shared pool. Small inputs run inline.
func parallelRows(n1 int, fn func(block, rs, re int)) {
	if n1 <= 0 {
		return
	}
	blocks, chunk := rowBlocks(n1)
	if blocks <= 1 {
		fn(0, 0, n1)
		return
	}

	pool := getRowPool()
	done := <-pool.doneSlots
	active := 0
	for b := 0; b < blocks; b++ {
		rs := b * chunk
		re := rs + chunk
		if re > n1 {
			re = n1
		}
		if rs >= re {
			break
		}
		active++
		pool.tasks <- rowTask{fn: fn, block: b, rs: rs, re: re, done: done}
	}
	for i := 0; i < active; i++ {
		<-done
	}
	pool.doneSlots <- done
}
