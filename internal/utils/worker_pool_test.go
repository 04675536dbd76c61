package utils

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPool_RunsJobs(t *testing.T) {
	p := NewWorkerPool(4, 64, nil)
	p.Start()

	var n atomic.Int32
	for range 50 {
		assert.True(t, p.Submit(func() { n.Add(1) }))
	}
	p.Stop()
	assert.Equal(t, int32(50), n.Load())
}

func TestWorkerPool_RecoversPanic(t *testing.T) {
	p := NewWorkerPool(1, 4, nil)
	p.Start()

	var ran atomic.Bool
	p.Submit(func() { panic("boom") })
	p.Submit(func() { ran.Store(true) })
	p.Stop()
	assert.True(t, ran.Load())
}

func TestWorkerPool_TrySubmitFullQueue(t *testing.T) {
	// 未启动的池不会消费任务
	p := NewWorkerPool(1, 1, nil)
	assert.True(t, p.TrySubmit(func() {}))
	assert.False(t, p.TrySubmit(func() {}))

	p.Start()
	p.Stop()
	assert.False(t, p.TrySubmit(func() {}))
	assert.False(t, p.Submit(func() {}))
}
