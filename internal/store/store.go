// Package store 持久化已结束的回合。
package store

import (
	"context"
	"errors"

	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
)

var ErrResultNotFound = errors.New("result not found")

// Repository 回合结果存储
type Repository interface {
	SaveResult(ctx context.Context, result roundmodel.Result) error
	GetResult(ctx context.Context, roundID string) (roundmodel.Result, error)
	// ListResults 按时间倒序返回结果，topic 为空时列出所有话题
	ListResults(ctx context.Context, topic string, limit int) ([]roundmodel.Result, error)
	Ping(ctx context.Context) error
	Close() error
}
