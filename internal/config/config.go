package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Round  RoundConfig
	Typing TypingConfig
	Store  StoreConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	round, err := loadRoundConfig()
	if err != nil {
		return nil, err
	}

	typing, err := loadTypingConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{Server: server, AI: ai, Round: round, Typing: typing, Store: store}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate 拒绝回合引擎无法运行的配置。
func (c *Config) Validate() error {
	r := c.Round
	durations := map[string]time.Duration{
		"ROUND_DURATION":       r.Duration,
		"ROUND_TICK":           r.Tick,
		"IDLE_POLL_INTERVAL":   r.IdlePoll,
		"IDLE_THRESHOLD":       r.IdleThreshold,
		"ROUND_RETENTION":      r.Retention,
		"ROUND_SWEEP_INTERVAL": r.SweepInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", key)
		}
	}
	if r.PacingDelay < 0 || r.IntroDelay < 0 {
		return fmt.Errorf("PACING_DELAY and INTRO_DELAY cannot be negative")
	}
	if r.WordFeedbackIncrement <= 0 {
		return fmt.Errorf("WORD_FEEDBACK_INCREMENT must be > 0")
	}
	if r.IdleMinWords < 0 {
		return fmt.Errorf("IDLE_MIN_WORDS cannot be negative")
	}
	if r.FollowupProbability < 0 || r.FollowupProbability > 1 {
		return fmt.Errorf("FOLLOWUP_PROBABILITY must be within [0,1]")
	}
	if r.MaxPersonas <= 0 {
		return fmt.Errorf("MAX_PERSONAS must be > 0")
	}
	if c.Typing.Enabled && (c.Typing.Speed <= 0 || c.Typing.Frame <= 0) {
		return fmt.Errorf("TYPING_SPEED and TYPING_FRAME must be > 0")
	}
	if c.Store.Enabled && c.Store.Path == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	return nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	origins := loadOrigins()

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// loadOrigins 解析 CORS_ALLOWED_ORIGINS, 逗号分隔, 默认 "*"。
func loadOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if raw == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey        string
	AccessKey     string
	SecretKey     string
	Model         string
	FallbackModel string
	BaseURL       string
	Region        string
	Temperature   *float64
	TopP          *float64
	MaxTokens     *int
	HistoryLimit  int
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	historyLimit := 20
	if override, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return AIConfig{}, err
	} else if override != nil {
		if *override < 1 {
			historyLimit = 1
		} else {
			historyLimit = *override
		}
	}

	return AIConfig{
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		FallbackModel: strings.TrimSpace(os.Getenv("ARK_FALLBACK_MODEL")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:   temperature,
		TopP:          topP,
		MaxTokens:     maxTokens,
		HistoryLimit:  historyLimit,
	}, nil
}

// RoundConfig 描述回合计时与反馈触发参数。
type RoundConfig struct {
	Duration              time.Duration
	Tick                  time.Duration
	IdlePoll              time.Duration
	IdleThreshold         time.Duration
	IdleMinWords          int
	WordFeedbackIncrement int
	PacingDelay           time.Duration
	IntroDelay            time.Duration
	FollowupProbability   float64
	MaxPersonas           int
	// Retention 未被操作的回合在内存中保留的时长。
	Retention     time.Duration
	SweepInterval time.Duration
}

func loadRoundConfig() (RoundConfig, error) {
	var cfg RoundConfig
	var err error

	if cfg.Duration, err = parseDurationEnv("ROUND_DURATION", 600*time.Second); err != nil {
		return RoundConfig{}, err
	}
	if cfg.Tick, err = parseDurationEnv("ROUND_TICK", time.Second); err != nil {
		return RoundConfig{}, err
	}
	if cfg.IdlePoll, err = parseDurationEnv("IDLE_POLL_INTERVAL", 5*time.Second); err != nil {
		return RoundConfig{}, err
	}
	if cfg.IdleThreshold, err = parseDurationEnv("IDLE_THRESHOLD", 60*time.Second); err != nil {
		return RoundConfig{}, err
	}
	if cfg.PacingDelay, err = parseDurationEnv("PACING_DELAY", 1500*time.Millisecond); err != nil {
		return RoundConfig{}, err
	}
	if cfg.IntroDelay, err = parseDurationEnv("INTRO_DELAY", time.Second); err != nil {
		return RoundConfig{}, err
	}
	if cfg.Retention, err = parseDurationEnv("ROUND_RETENTION", 30*time.Minute); err != nil {
		return RoundConfig{}, err
	}
	if cfg.SweepInterval, err = parseDurationEnv("ROUND_SWEEP_INTERVAL", time.Minute); err != nil {
		return RoundConfig{}, err
	}
	if cfg.IdleMinWords, err = parseIntEnv("IDLE_MIN_WORDS", 10); err != nil {
		return RoundConfig{}, err
	}
	if cfg.WordFeedbackIncrement, err = parseIntEnv("WORD_FEEDBACK_INCREMENT", 35); err != nil {
		return RoundConfig{}, err
	}
	if cfg.MaxPersonas, err = parseIntEnv("MAX_PERSONAS", 3); err != nil {
		return RoundConfig{}, err
	}

	cfg.FollowupProbability = 0.2
	if p, err := parseOptionalFloatEnv("FOLLOWUP_PROBABILITY"); err != nil {
		return RoundConfig{}, err
	} else if p != nil {
		cfg.FollowupProbability = *p
	}

	return cfg, nil
}

// TypingConfig 描述打字动画节奏。
type TypingConfig struct {
	Enabled bool
	Speed   float64
	Frame   time.Duration
}

func loadTypingConfig() (TypingConfig, error) {
	enabled, err := parseBoolEnv("TYPING_ENABLED", true)
	if err != nil {
		return TypingConfig{}, err
	}

	speed := 30.0
	if override, err := parseOptionalFloatEnv("TYPING_SPEED"); err != nil {
		return TypingConfig{}, err
	} else if override != nil {
		speed = *override
	}

	frame, err := parseDurationEnv("TYPING_FRAME", 16*time.Millisecond)
	if err != nil {
		return TypingConfig{}, err
	}

	return TypingConfig{Enabled: enabled, Speed: speed, Frame: frame}, nil
}

// StoreConfig 描述回合结果的持久化配置。
type StoreConfig struct {
	Enabled bool
	Path    string
}

func loadStoreConfig() (StoreConfig, error) {
	enabled, err := parseBoolEnv("STORE_ENABLED", true)
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{
		Enabled: enabled,
		Path:    getEnvOrDefault("DB_PATH", "./data/rounds.db"),
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

// parseDurationEnv 接受 Go 时长字符串（"1500ms"、"2m"），纯整数按秒解析。
func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue, nil
	}

	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return d, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
