package persona

import (
	"math/rand/v2"
	"sort"
	"strings"
)

// Catalog 提供回合开始时读取的话题到角色映射。
type Catalog interface {
	Topics() []string
	ForTopic(topic string) []Persona
	Teacher(topic string) (Persona, bool)
	FindByID(id string) (Persona, bool)
}

// MemoryCatalog 基于内存切片的 Catalog 实现。
type MemoryCatalog struct {
	topics map[string][]Persona
}

// NewMemoryCatalog 用给定话题预先填充目录。
func NewMemoryCatalog(topics map[string][]Persona) *MemoryCatalog {
	copied := make(map[string][]Persona, len(topics))
	for topic, items := range topics {
		copied[normalizeTopic(topic)] = append([]Persona(nil), items...)
	}
	return &MemoryCatalog{topics: copied}
}

// Topics 按字典序列出已知话题。
func (c *MemoryCatalog) Topics() []string {
	out := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// ForTopic 返回话题下的全部角色，包括老师。
func (c *MemoryCatalog) ForTopic(topic string) []Persona {
	return append([]Persona(nil), c.topics[normalizeTopic(topic)]...)
}

// Teacher 返回话题的老师角色。
func (c *MemoryCatalog) Teacher(topic string) (Persona, bool) {
	for _, item := range c.topics[normalizeTopic(topic)] {
		if item.IsTeacher() {
			return item, true
		}
	}
	return Persona{}, false
}

// FindByID 在所有话题中按标识查找角色。
func (c *MemoryCatalog) FindByID(id string) (Persona, bool) {
	for _, items := range c.topics {
		for _, item := range items {
			if item.ID == id {
				return item, true
			}
		}
	}
	return Persona{}, false
}

// Peers 去掉其中的老师角色。
func Peers(items []Persona) []Persona {
	out := make([]Persona, 0, len(items))
	for _, item := range items {
		if !item.IsTeacher() {
			out = append(out, item)
		}
	}
	return out
}

// Pick 从 pool 中随机抽取最多 limit 个角色，不修改 pool。
func Pick(pool []Persona, limit int, rng *rand.Rand) []Persona {
	shuffled := append([]Persona(nil), pool...)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	if limit >= 0 && len(shuffled) > limit {
		shuffled = shuffled[:limit]
	}
	return shuffled
}

// Match 返回第一个名字或关键词以完整单词形式出现在 text 中的候选角色，忽略大小写。
func Match(candidates []Persona, text string) (Persona, bool) {
	lowered := strings.ToLower(text)
	for _, candidate := range candidates {
		terms := append([]string{candidate.Name}, candidate.Keywords...)
		for _, term := range terms {
			if containsWord(lowered, strings.ToLower(strings.TrimSpace(term))) {
				return candidate, true
			}
		}
	}
	return Persona{}, false
}

func containsWord(text, word string) bool {
	if word == "" {
		return false
	}
	for offset := 0; ; {
		idx := strings.Index(text[offset:], word)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(word)
		if boundary(text, start-1) && boundary(text, end) {
			return true
		}
		offset = start + 1
	}
}

// boundary 判断位置 i 的字节是否在单词之外。
func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_' || c >= 0x80)
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
