// Package typing 将已生成的文本以模拟打字动画的形式重放。
package typing

import (
	"math/rand/v2"
	"regexp"
	"strings"
)

const (
	maxChunkWords = 4
	// pauseEvery 每到第 pauseEvery 个单词强制单独成块
	pauseEvery = 15
)

// tokenPattern 匹配一个单词及其周围空白，所有匹配拼接后即为原文。
var tokenPattern = regexp.MustCompile(`\s*\S+\s*`)

// Chunk 将文本切成不规则的词组，模拟逐 token 输出。
// 按顺序拼接分块即得到原文，空输入不产生分块。
func Chunk(text string, rng *rand.Rand) []string {
	if text == "" {
		return nil
	}

	tokens := tokenPattern.FindAllString(text, -1)
	if len(tokens) == 0 {
		// 纯空白
		return []string{text}
	}

	chunks := make([]string, 0, len(tokens)/2+1)
	var current strings.Builder
	words, target := 0, 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		words = 0
	}

	for i, tok := range tokens {
		if (i+1)%pauseEvery == 0 {
			flush()
			chunks = append(chunks, tok)
			continue
		}

		if words == 0 {
			target = 1 + intN(rng, maxChunkWords)
		}
		current.WriteString(tok)
		words++
		if words >= target {
			flush()
		}
	}
	flush()

	return chunks
}

func intN(rng *rand.Rand, n int) int {
	if rng == nil {
		return rand.IntN(n)
	}
	return rng.IntN(n)
}

func float64n(rng *rand.Rand) float64 {
	if rng == nil {
		return rand.Float64()
	}
	return rng.Float64()
}
