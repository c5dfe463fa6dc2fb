package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/ragbot/backend/internal/config"
	"github.com/zhouzirui/ragbot/backend/internal/model/chat"
	"github.com/zhouzirui/ragbot/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/ragbot/backend/internal/service/chat"
	"github.com/zhouzirui/ragbot/backend/internal/service/conversation"
)

// chattester 在本地终端里直接驱动对话流程，不经过 HTTP。
func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}

	session := flag.String("session", "", "会话 key，留空则自动生成")
	prompt := flag.String("prompt", "", "覆盖 SYSTEM_PROMPT")
	timeout := flag.Duration("timeout", 60*time.Second, "单轮对话超时时间")
	echo := flag.Bool("echo", false, "不调用模型，使用回声回复")
	flag.Parse()

	sessionKey := *session
	if sessionKey == "" {
		sessionKey = "manual-" + uuid.NewString()
	}

	systemPrompt := cfg.AI.SystemPrompt
	if *prompt != "" {
		systemPrompt = *prompt
	}

	var inference conversation.InferenceClient = ai.EchoClient{}
	if !*echo {
		chatModel, err := cfg.AI.NewChatModel(context.Background())
		if err != nil {
			log.Fatalf("模型初始化失败（可使用 -echo 跳过）: %v", err)
		}
		client, err := ai.NewClient(chatModel, cfg.AI.InferenceTimeout)
		if err != nil {
			log.Fatalf("AI 客户端初始化失败: %v", err)
		}
		inference = client
	}

	store := chatservice.NewStore()
	orchestrator, err := conversation.New(store, inference, systemPrompt)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	fmt.Printf("session=%s，输入消息后回车；/history 查看历史，/quit 退出\n", sessionKey)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return
		case "/history":
			history, _ := store.History(context.Background(), sessionKey)
			printHistory(history)
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		history, err := orchestrator.HandleTurn(ctx, sessionKey, line)
		cancel()
		if err != nil {
			log.Printf("[ERROR] 本轮失败: %v", err)
			continue
		}
		if last, ok := history.Last(); ok {
			fmt.Printf("%s: %s\n", last.Role, last.Content)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Fatalf("读取输入失败: %v", err)
	}
}

func printHistory(history chat.History) {
	for i, msg := range history {
		fmt.Printf("%3d %s [%s] %s\n", i, msg.Timestamp.Format(time.RFC3339), msg.Role, msg.Content)
	}
}
