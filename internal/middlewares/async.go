package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Submitter 阻塞式提交任务，*utils.WorkerPool 实现了它
type Submitter interface {
	Submit(job func()) bool
}

// Async 把后续处理链放进协程池执行，限制同时处理会话意图的请求数。
// 调用方 goroutine 阻塞等待，所以同一时刻只有一个 goroutine 操作 c。
// pool 为 nil 时降级为同步执行。
func (m *MiddlewareManager) Async(pool Submitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if pool == nil {
			c.Next()
			return
		}

		done := make(chan struct{})
		if !pool.Submit(func() {
			defer close(done)
			c.Next()
		}) {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
			return
		}
		<-done
	}
}
