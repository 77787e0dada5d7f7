// Package timeout defines centralized timeout constants for AI operations.
// Package timeout 定义 AI 操作的集中式超时常量。
package timeout

import "time"

// AI operation timeout constants.
// AI 操作超时常量。
const (
	// AgentTimeout bounds a whole agent run, from question to final answer.
	// AgentTimeout 是 Agent 执行的超时时间。
	AgentTimeout = 2 * time.Minute

	// ToolExecutionTimeout is the timeout for individual tool execution.
	// ToolExecutionTimeout 是单个工具执行的超时时间。
	ToolExecutionTimeout = 30 * time.Second

	// EmbeddingTimeout is the timeout for embedding generation.
	// EmbeddingTimeout 是向量生成的超时时间。
	EmbeddingTimeout = 15 * time.Second

	// DomainGuardTimeout bounds the classification call made before the agent loop.
	DomainGuardTimeout = 10 * time.Second

	// SummaryTimeout bounds the dashboard summary completion.
	SummaryTimeout = 60 * time.Second

	// MaxIterations is the default maximum number of agent loop steps.
	// MaxIterations 是循环的最大迭代次数。
	MaxIterations = 8

	// MaxQueryRetries is the number of corrective query rewrites allowed per question.
	MaxQueryRetries = 1

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)
