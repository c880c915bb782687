// Package session 负责作废过期的异步回复链。
package session

import "sync/atomic"

// Token 回复链启动时捕获的令牌值。
type Token int64

// Guard 单个回合内单调递增的计数器。
// 捕获的令牌不再等于 Current 的回复链必须停止，且不产生副作用。
type Guard struct {
	value atomic.Int64
}

// Bump 作废此前发出的全部令牌并返回新令牌。
func (g *Guard) Bump() Token {
	return Token(g.value.Add(1))
}

// Current 返回当前有效的令牌。
func (g *Guard) Current() Token {
	return Token(g.value.Load())
}

// Valid 判断 t 是否仍是当前令牌。
func (g *Guard) Valid(t Token) bool {
	return g.Current() == t
}

// Check 返回绑定 t 的判定函数，供 store 的条件写入使用。
func (g *Guard) Check(t Token) func() bool {
	return func() bool { return g.Valid(t) }
}
