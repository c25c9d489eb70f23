// Package timeout defines centralized timeout constants for conversation rounds.
// Package timeout 定义会话轮次的集中式超时常量。
package timeout

import "time"

// Round timeout constants.
// 轮次超时常量。
const (
	// TaskTimeout is the hard deadline of one persona's generation task.
	// TaskTimeout 是单个角色生成任务的硬性截止时间。
	TaskTimeout = 30 * time.Second

	// CompletionTimeout bounds a single upstream completion call.
	// CompletionTimeout 是单次上游补全调用的超时时间。
	CompletionTimeout = 20 * time.Second

	// PersistTimeout bounds durable writes at the end of a round.
	// PersistTimeout 是轮次结束时持久化写入的超时时间。
	PersistTimeout = 5 * time.Second

	// StreamWriteTimeout is how long one event may block on a slow client before it is dropped.
	// StreamWriteTimeout 是单个事件在慢客户端上阻塞的最长时间，超时后丢弃。
	StreamWriteTimeout = 2 * time.Second

	// ShutdownTimeout is the grace period for in-flight rounds on shutdown.
	// ShutdownTimeout 是关闭时等待进行中轮次的宽限期。
	ShutdownTimeout = 45 * time.Second

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)
