// Package providers 定义外部改写服务（LLM）的消费侧契约。核心算法层
// 从不信任改写结果，所有产物都会被重新校验。
package providers

import "context"

// 消息角色
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message 一条对话消息
type Message struct {
	Role    string
	Content string
}

// ChatClient 同步的对话补全客户端。瞬时失败（限流、5xx）由实现自行
// 重试退避，调用方只看到最终结果或最终错误。
type ChatClient interface {
	// ChatCompletion 执行一次对话补全，jsonMode 要求模型输出纯 JSON
	ChatCompletion(ctx context.Context, messages []Message, jsonMode bool) (string, error)

	// ModelID 返回用于 API 请求的模型标识
	ModelID() string
}

// SystemMessage 构造 system 消息
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// UserMessage 构造 user 消息
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}
