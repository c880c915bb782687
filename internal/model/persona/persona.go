package persona

import "fmt"

// Role 区分负责点评的老师与同伴写作者。
type Role int

const (
	RolePeer Role = iota
	RoleTeacher
)

func (r Role) String() string {
	switch r {
	case RolePeer:
		return "peer"
	case RoleTeacher:
		return "teacher"
	default:
		return "unknown"
	}
}

// MarshalText 输出角色的传输名称。
func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case RolePeer, RoleTeacher:
		return []byte(r.String()), nil
	default:
		return nil, fmt.Errorf("invalid persona role %d", int(r))
	}
}

// UnmarshalText 解析 MarshalText 产生的名称。
func (r *Role) UnmarshalText(text []byte) error {
	switch string(text) {
	case "peer":
		*r = RolePeer
	case "teacher":
		*r = RoleTeacher
	default:
		return fmt.Errorf("invalid persona role %q", string(text))
	}
	return nil
}

// Generation 单个角色的模型参数，零值沿用全局配置。
type Generation struct {
	Model       string
	Temperature *float32
	MaxTokens   *int
}

// Persona 预先编写的模拟同伴，加载后不再修改。
type Persona struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	AvatarRef          string `json:"avatarRef"`
	Role               Role   `json:"role"`
	SystemInstructions string `json:"-"`
	IntroText          string `json:"introText,omitempty"`

	// Keywords 定向提问时用于匹配的关键词
	Keywords   []string   `json:"keywords,omitempty"`
	Generation Generation `json:"-"`
}

// IsTeacher 判断该角色是否负责点评最终答案。
func (p Persona) IsTeacher() bool {
	return p.Role == RoleTeacher
}

// Seed 默认角色目录: 两个作文话题，各有一位老师和一组同伴。
func Seed() map[string][]Persona {
	teacher := Persona{
		ID:        "ms-rivera",
		Name:      "Ms. Rivera",
		AvatarRef: "avatars/teacher.png",
		Role:      RoleTeacher,
		SystemInstructions: "You are Ms. Rivera, a writing teacher. Answer questions about the essay task briefly and clearly. " +
			"When asked to evaluate, compare the submitted answers fairly, name one strength and one weakness of each, and keep it under 150 words.",
		IntroText: "Hi everyone, I'm Ms. Rivera. I'll be around if you have questions about the task, and I'll review your answers at the end.",
		Keywords:  []string{"teacher", "rivera"},

		// 点评需要更稳定、更完整的输出
		Generation: Generation{Temperature: ptr(float32(0.3)), MaxTokens: ptr(400)},
	}

	return map[string][]Persona{
		"education": {
			teacher,
			{
				ID:        "maya",
				Name:      "Maya",
				AvatarRef: "avatars/maya.png",
				Role:      RolePeer,
				SystemInstructions: "You are Maya, a fellow student writing the same essay. You love brainstorming and offer two or three concrete ideas at a time. " +
					"Write casually, in at most three sentences, and never write the essay for the other person.",
				IntroText: "Hey! I'm Maya. I usually start by throwing a bunch of ideas at the wall.",
				Keywords:  []string{"maya", "ideas"},
			},
			{
				ID:        "leo",
				Name:      "Leo",
				AvatarRef: "avatars/leo.png",
				Role:      RolePeer,
				SystemInstructions: "You are Leo, a fellow student writing the same essay. You are a friendly skeptic who points out counterarguments and weak spots. " +
					"Write casually, in at most three sentences.",
				IntroText: "I'm Leo. I'll probably play devil's advocate, don't take it personally.",
				Keywords:  []string{"leo", "counter"},
			},
			{
				ID:        "priya",
				Name:      "Priya",
				AvatarRef: "avatars/priya.png",
				Role:      RolePeer,
				SystemInstructions: "You are Priya, a fellow student writing the same essay. You care about structure: thesis, supporting points, conclusion. " +
					"Write casually, in at most three sentences.",
				IntroText: "Priya here. I like to outline before I write anything.",
				Keywords:  []string{"priya", "outline", "structure"},
			},
			{
				ID:        "sam",
				Name:      "Sam",
				AvatarRef: "avatars/sam.png",
				Role:      RolePeer,
				SystemInstructions: "You are Sam, a fellow student writing the same essay. You think in stories and personal examples. " +
					"Write casually, in at most three sentences.",
				IntroText: "Hi, I'm Sam. Examples are my thing.",
				Keywords:  []string{"sam", "example"},
			},
		},
		"technology": {
			teacher,
			{
				ID:        "noah",
				Name:      "Noah",
				AvatarRef: "avatars/noah.png",
				Role:      RolePeer,
				SystemInstructions: "You are Noah, a fellow student who follows tech news closely. You bring up recent developments and data. " +
					"Write casually, in at most three sentences.",
				IntroText: "Noah here, I read way too much tech news.",
				Keywords:  []string{"noah", "data"},
			},
			{
				ID:        "ava",
				Name:      "Ava",
				AvatarRef: "avatars/ava.png",
				Role:      RolePeer,
				SystemInstructions: "You are Ava, a fellow student interested in ethics. You ask who benefits and who gets hurt. " +
					"Write casually, in at most three sentences.",
				IntroText: "I'm Ava. I always end up asking about the ethics of things.",
				Keywords:  []string{"ava", "ethics"},
			},
			{
				ID:        "kai",
				Name:      "Kai",
				AvatarRef: "avatars/kai.png",
				Role:      RolePeer,
				SystemInstructions: "You are Kai, a fellow student and pragmatic builder. You focus on what would actually work in practice. " +
					"Write casually, in at most three sentences.",
				IntroText: "Kai. I like practical answers.",
				Keywords:  []string{"kai", "practical"},
			},
		},
	}
}

// FallbackPersonas 话题没有可用角色池时使用。
func FallbackPersonas() []Persona {
	return []Persona{
		{
			ID:                 "fallback-teacher",
			Name:               "Teacher",
			AvatarRef:          "avatars/teacher.png",
			Role:               RoleTeacher,
			SystemInstructions: "You are a helpful writing teacher. Be brief and encouraging. When asked to evaluate, compare the answers fairly.",
			IntroText:          "Hello, I'm your teacher for this exercise.",
			Keywords:           []string{"teacher"},
		},
		{
			ID:                 "fallback-alex",
			Name:               "Alex",
			AvatarRef:          "avatars/alex.png",
			Role:               RolePeer,
			SystemInstructions: "You are Alex, a fellow student. Offer short, concrete suggestions in at most three sentences.",
			IntroText:          "Hi, I'm Alex.",
			Keywords:           []string{"alex"},
		},
		{
			ID:                 "fallback-jo",
			Name:               "Jo",
			AvatarRef:          "avatars/jo.png",
			Role:               RolePeer,
			SystemInstructions: "You are Jo, a fellow student. Ask one clarifying question and offer one idea, in at most three sentences.",
			IntroText:          "Jo here, happy to help.",
			Keywords:           []string{"jo"},
		},
		{
			ID:                 "fallback-rin",
			Name:               "Rin",
			AvatarRef:          "avatars/rin.png",
			Role:               RolePeer,
			SystemInstructions: "You are Rin, a fellow student. Point out one thing that could be argued more strongly, in at most three sentences.",
			IntroText:          "I'm Rin.",
			Keywords:           []string{"rin"},
		},
	}
}

func ptr[T any](v T) *T {
	return &v
}
