package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/peer-essay/backend/internal/config"
	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
)

// Generator 调度器使用的语言模型接口
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Request 一次生成调用
type Request struct {
	History            []chat.Turn
	SystemInstructions string
	// ModelID 非空时覆盖配置的模型
	ModelID     string
	MaxTokens   *int
	Temperature *float32
}

// GenerationError 生成失败时携带类 HTTP 状态码的错误
type GenerationError struct {
	Status  int
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed (status %d): %s", e.Status, e.Message)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Service 通过 eino chain 执行生成：先系统提示，再历史消息
type Service struct {
	chatModel model.BaseChatModel
	cfg       config.AIConfig
	chain     compose.Runnable[map[string]any, *schema.Message]
}

// NewService 创建基于 Ark 的生成服务
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}
	return NewServiceWithModel(ctx, chatModel, cfg)
}

// NewServiceWithModel 围绕已有的 chat model 编译 chain
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, cfg config.AIConfig) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", false),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		chatModel: chatModel,
		cfg:       cfg,
		chain:     runnable,
	}, nil
}

// Generate 返回模型回复。请求的模型失败且配置了备用模型时，在备用模型上重试一次。
func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	modelID := req.ModelID
	if modelID == "" {
		modelID = s.cfg.Model
	}

	text, err := s.invoke(ctx, req, modelID)
	if err == nil {
		return text, nil
	}

	fallback := s.cfg.FallbackModel
	if fallback == "" || fallback == modelID || ctx.Err() != nil {
		return "", classify(err)
	}

	log.Printf("[ai] model %s failed, retrying on fallback %s: %v", modelID, fallback, err)
	text, err = s.invoke(ctx, req, fallback)
	if err != nil {
		return "", classify(err)
	}
	return text, nil
}

func (s *Service) invoke(ctx context.Context, req Request, modelID string) (string, error) {
	input := map[string]any{
		"system":  req.SystemInstructions,
		"history": toSchemaMessages(req.History),
	}

	opts := []model.Option{model.WithModel(modelID)}
	if req.MaxTokens != nil {
		opts = append(opts, model.WithMaxTokens(*req.MaxTokens))
	}
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(*req.Temperature))
	}

	response, err := s.chain.Invoke(ctx, input, compose.WithChatModelOption(opts...))
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}
	if response == nil {
		return "", errors.New("model returned no message")
	}

	log.Printf("[ai] generated response model=%s turns=%d length=%d", modelID, len(req.History), len(response.Content))
	return response.Content, nil
}

func toSchemaMessages(turns []chat.Turn) []*schema.Message {
	history := make([]*schema.Message, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(turn.Content, nil))
		default:
			history = append(history, schema.UserMessage(turn.Content))
		}
	}
	return history
}

func classify(err error) error {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr
	}

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = 499
	}
	return &GenerationError{Status: status, Message: err.Error(), Err: err}
}
