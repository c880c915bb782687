package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/peer-essay/backend/internal/config"
	"github.com/zhouzirui/peer-essay/backend/internal/model/chat"
	"github.com/zhouzirui/peer-essay/backend/internal/model/persona"
	roundmodel "github.com/zhouzirui/peer-essay/backend/internal/model/round"
	"github.com/zhouzirui/peer-essay/backend/internal/service/ai"
	"github.com/zhouzirui/peer-essay/backend/internal/service/broadcast"
	"github.com/zhouzirui/peer-essay/backend/internal/service/round"
)

// resultSink 把已关闭的回合交回 main。

type resultSink chan roundmodel.Result

func (s resultSink) SaveResult(ctx context.Context, result roundmodel.Result) error {
	select {
	case s <- result:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	topic := flag.String("topic", "education", "回合话题")
	modeName := flag.String("mode", "group", "提问模式: group, multi 或 single")
	duration := flag.Duration("duration", 0, "回合时长, 0 表示使用配置值")
	question := flag.String("ask", "", "开场后向角色提出的问题")
	answer := flag.String("answer", "", "提交前写入的答案草稿")
	offline := flag.Bool("offline", false, "不调用模型, 使用离线回复")
	typingOn := flag.Bool("typing", false, "启用打字动画")
	timeout := flag.Duration("timeout", 0, "整体超时时间, 0 表示回合时长再加 5 分钟")

	flag.Parse()

	mode, err := roundmodel.ParseMode(*modeName)
	if err != nil {
		log.Fatalf("无效的模式: %v", err)
	}
	if *duration > 0 {
		cfg.Round.Duration = *duration
	}
	cfg.Typing.Enabled = *typingOn

	limit, err := runTimeout(*timeout, cfg.Round.Duration)
	if err != nil {
		log.Fatalf("无效的超时时间: %v", err)
	}

	var generator ai.Generator = ai.OfflineGenerator{}
	if !*offline {
		if !cfg.AI.Enabled() {
			log.Fatal("Ark 凭证未配置，请使用 -offline 或配置 ARK_* 环境变量")
		}
		svc, err := ai.NewService(context.Background(), cfg.AI)
		if err != nil {
			log.Fatalf("AI 服务初始化失败: %v", err)
		}
		generator = svc
	}

	ctx, cancel := context.WithTimeout(context.Background(), limit)
	defer cancel()

	sink := make(resultSink, 1)
	manager := round.NewManager(ctx, round.Deps{
		Catalog:   persona.NewMemoryCatalog(persona.Seed()),
		Questions: roundmodel.NewQuestionBank(roundmodel.SeedQuestions()),
		Generator: generator,
		Prompts:   ai.NewPersonaPromptManager(cfg.AI.HistoryLimit),
		Sink:      sink,
	}, cfg.Round, cfg.Typing)

	ctrl, err := manager.Create(*topic, mode)
	if err != nil {
		log.Fatalf("创建回合失败: %v", err)
	}
	events, unsubscribe := ctrl.Hub().Subscribe(1024)
	defer unsubscribe()

	view := ctrl.View()
	log.Printf("[roundsim] round=%s question=%q", view.ID, view.Question.Prompt)

	result, err := drive(ctx, ctrl, events, *question, *answer)
	if err != nil {
		log.Fatalf("回合未完成: %v", err)
	}

	select {
	case result = <-sink:
	case <-ctx.Done():
		log.Printf("[roundsim] result not persisted before timeout")
	}
	fmt.Printf("\n== round %s closed after %s ==\nfinal answer: %s\nmessages: %d\n",
		result.RoundID, result.Elapsed.Round(time.Second), result.FinalAnswer, len(result.Transcript))
}

// timeoutSlack 默认超时在回合时长之外留出的评估时间。
const timeoutSlack = 5 * time.Minute

// runTimeout 返回整体超时; 不长于回合时长的值会导致回合在关闭前被取消。
func runTimeout(requested, roundDuration time.Duration) (time.Duration, error) {
	if requested == 0 {
		return roundDuration + timeoutSlack, nil
	}
	if requested <= roundDuration {
		return 0, fmt.Errorf("timeout %s must exceed the round duration %s", requested, roundDuration)
	}
	return requested, nil
}

// drive 扮演参与者: 开场后提问, 等所有回复落定再写入草稿并提交。
func drive(ctx context.Context, ctrl *round.Controller, events <-chan broadcast.Event, question, answer string) (roundmodel.Result, error) {
	asked, submitted := false, false
	phase := roundmodel.PhaseAwaitingIntros
	for {
		select {
		case <-ctx.Done():
			return roundmodel.Result{}, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return roundmodel.Result{}, fmt.Errorf("round stopped")
			}
			printEvent(ctrl, ev)
			if ev.Type == broadcast.EventStatus && ev.Status.Phase != phase {
				phase = ev.Status.Phase
				fmt.Printf("-- phase=%s remaining=%ds\n", phase, ev.Status.TimeRemaining)
			}
			switch phase {
			case roundmodel.PhaseOpen:
				if !asked {
					asked = true
					if strings.TrimSpace(question) != "" {
						if err := ctrl.Ask(question); err != nil {
							log.Printf("[roundsim] ask failed: %v", err)
						}
					}
					continue
				}
				// 提交会作废进行中的批次, 所以先等调度器清空
				if submitted || strings.TrimSpace(answer) == "" || !ctrl.Orchestrator().Idle() {
					continue
				}
				submitted = true
				if err := ctrl.Edit(answer); err != nil {
					log.Printf("[roundsim] edit failed: %v", err)
				}
				if err := ctrl.Submit(); err != nil {
					log.Printf("[roundsim] submit failed: %v", err)
				}
			case roundmodel.PhaseClosed:
				view := ctrl.View()
				return roundmodel.Result{RoundID: view.ID, Transcript: view.Transcript, FinalAnswer: view.Answer}, nil
			}
		}
	}
}

func printEvent(ctrl *round.Controller, ev broadcast.Event) {
	if ev.Type != broadcast.EventMessage || ev.Message == nil || ev.Message.Placeholder {
		return
	}
	fmt.Printf("[%s] %s: %s\n", ev.Change, speaker(ctrl, *ev.Message), ev.Message.Text)
}

func speaker(ctrl *round.Controller, msg chat.Message) string {
	if msg.Sender != chat.SenderAgent {
		return msg.Sender.String()
	}
	view := ctrl.View()
	for _, p := range append(view.Personas, view.Teacher) {
		if p.ID == msg.AgentID {
			return p.Name
		}
	}
	return msg.AgentID
}
