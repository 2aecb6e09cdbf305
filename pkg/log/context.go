package log

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// contextKey 是用于存储 RequestContext 的私有 key 类型
type contextKey string

const requestContextKey contextKey = "gradelane_request_context"

// RequestContext 存储请求追踪信息，通过 Context 跨模块传递。
type RequestContext struct {
	RequestID string    // 唯一请求 ID（10位短ID，如 mgrn0zfqda）
	TaskID    string    // 关联的评分任务 ID（没有则为空）
	StartTime time.Time // 请求开始时间
}

var (
	randSource = rand.NewSource(time.Now().UnixNano())
	randMutex  sync.Mutex

	base36Chars = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// GenerateRequestID 生成10位 base36 随机请求ID，避免 UUID 的开销。
func GenerateRequestID() string {
	randMutex.Lock()
	defer randMutex.Unlock()

	b := make([]byte, 10)
	for i := range b {
		b[i] = base36Chars[randSource.Int63()%36]
	}
	return string(b)
}

// WithRequestContext 将追踪信息注入 Context，通常在中间件中调用。
func WithRequestContext(ctx context.Context, requestID, taskID string) context.Context {
	return context.WithValue(ctx, requestContextKey, &RequestContext{
		RequestID: requestID,
		TaskID:    taskID,
		StartTime: time.Now(),
	})
}

// GetRequestContext 从 Context 中提取追踪信息；不存在时返回默认值，
// 调用方无需做 nil 检查。
func GetRequestContext(ctx context.Context) *RequestContext {
	if ctx != nil {
		if reqCtx, ok := ctx.Value(requestContextKey).(*RequestContext); ok {
			return reqCtx
		}
	}
	return &RequestContext{RequestID: "unknown"}
}

// GetRequestID 便捷方法，直接取 Request ID。
func GetRequestID(ctx context.Context) string {
	return GetRequestContext(ctx).RequestID
}
