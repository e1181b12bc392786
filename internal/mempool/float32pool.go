// Package mempool pools the large scratch buffers used per detection call.
package mempool

import "sync"

const classStep = 1024

var (
	float32Pools sync.Map // size class -> *sync.Pool
	boolPools    sync.Map
)

// sizeClass rounds n up to the next multiple of 1024 (minimum 1024).
func sizeClass(n int) int {
	if n <= classStep {
		return classStep
	}
	return ((n + classStep - 1) / classStep) * classStep
}

func poolFor(m *sync.Map, cls int, alloc func(int) any) *sync.Pool {
	p, _ := m.LoadOrStore(cls, &sync.Pool{New: func() any { return alloc(cls) }})
	return p.(*sync.Pool)
}

// GetFloat32 returns a buffer of length n. Contents are not zeroed.
// Return it with PutFloat32.
func GetFloat32(n int) []float32 {
	cls := sizeClass(n)
	buf, ok := poolFor(&float32Pools, cls, func(c int) any { return make([]float32, c) }).Get().([]float32)
	if !ok || cap(buf) < cls {
		buf = make([]float32, cls)
	}
	return buf[:n]
}

// PutFloat32 returns a buffer to the pool. Nil is ignored.
func PutFloat32(buf []float32) {
	if buf == nil {
		return
	}
	cls := sizeClass(cap(buf))
	if cls != cap(buf) {
		return
	}
	poolFor(&float32Pools, cls, func(c int) any { return make([]float32, c) }).Put(buf[:cap(buf)]) //nolint:staticcheck
}

// GetBool returns a zeroed buffer of length n. Return it with PutBool.
func GetBool(n int) []bool {
	cls := sizeClass(n)
	buf, ok := poolFor(&boolPools, cls, func(c int) any { return make([]bool, c) }).Get().([]bool)
	if !ok || cap(buf) < cls {
		buf = make([]bool, cls)
	}
	buf = buf[:n]
	clear(buf)
	return buf
}

// PutBool returns a buffer to the pool. Nil is ignored.
func PutBool(buf []bool) {
	if buf == nil {
		return
	}
	cls := sizeClass(cap(buf))
	if cls != cap(buf) {
		return
	}
	poolFor(&boolPools, cls, func(c int) any { return make([]bool, c) }).Put(buf[:cap(buf)]) //nolint:staticcheck
}
