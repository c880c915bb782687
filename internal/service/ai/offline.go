package ai

import (
	"context"
	"strings"
)

const offlineSnippet = 80

// OfflineGenerator 不调用模型的离线回复。
// 未配置 Ark 凭证时使用，回合仍可完整跑通。
type OfflineGenerator struct{}

// Generate 回显截断后的最新一条消息
func (OfflineGenerator) Generate(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", classify(err)
	}
	if len(req.History) == 0 {
		return "(offline) I have nothing to add yet.", nil
	}

	last := strings.TrimSpace(req.History[len(req.History)-1].Content)
	if runes := []rune(last); len(runes) > offlineSnippet {
		last = string(runes[:offlineSnippet]) + "…"
	}
	return "(offline) Thinking about \"" + last + "\".", nil
}
