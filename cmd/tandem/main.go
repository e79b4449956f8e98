package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/ymatsuda/tandem/internal/agent"
	"github.com/ymatsuda/tandem/internal/chat"
	"github.com/ymatsuda/tandem/internal/engine"
	"github.com/ymatsuda/tandem/internal/events"
	"github.com/ymatsuda/tandem/internal/fsio"
	"github.com/ymatsuda/tandem/internal/ledger"
	"github.com/ymatsuda/tandem/internal/logx"
	"github.com/ymatsuda/tandem/internal/model"
	"github.com/ymatsuda/tandem/internal/node"
	"github.com/ymatsuda/tandem/internal/store"
	"github.com/ymatsuda/tandem/internal/transport"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// .env carries the bearer token and chat credentials; absence is fine.
	_ = godotenv.Load()

	switch os.Args[1] {
	case "run":
		runSingle(os.Args[2:])
	case "comm":
		runComm(os.Args[2:])
	case "exec":
		runExec(os.Args[2:])
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		fmt.Printf("tandem %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tandem - chat-driven iterative task engine

Usage:
  tandem run    [-dir DIR] [-chat ID]      single process (both roles, console chat)
  tandem comm   [-dir DIR] [-chat ID]      communication node (HTTP listener)
  tandem exec   [-dir DIR]                 execution node
  tandem submit [-dir DIR] [options]       submit a task (HTTP or inbox file)
  tandem status [-url URL]                 probe a node's /health endpoint
  tandem version`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "tandem: "+format+"\n", args...)
	os.Exit(1)
}

// loadConfig reads DIR/config.yaml. Configuration errors abort the process;
// a degraded node is worse than no node.
func loadConfig(dir string) model.Config {
	cfg, err := model.LoadConfig(filepath.Join(dir, "config.yaml"))
	if err != nil {
		fatalf("%v", err)
	}
	return cfg
}

func requireAgents(cfg model.Config) {
	if cfg.Agents.Evaluator.Command == "" {
		fatalf("config: agents.evaluator.command is required")
	}
	if cfg.Agents.Executor.Command == "" {
		fatalf("config: agents.executor.command is required")
	}
}

// buildEngine assembles the store-backed engine stack shared by run and exec.
func buildEngine(dir string, cfg model.Config, bus *events.Bus, logger *logx.Logger) (*store.Store, *engine.Orchestrator) {
	st := store.New(dir)
	evaluator := agent.NewCLI(cfg.Agents.Evaluator, logger.WithComponent("evaluator"))
	executor := agent.NewCLI(cfg.Agents.Executor, logger.WithComponent("executor"))
	eng := engine.New(st, evaluator, executor, cfg.Agents, logger.WithComponent("engine"))
	orch := engine.NewOrchestrator(eng, cfg.Engine.MaxIterations, bus, logger.WithComponent("orchestrator"))
	return st, orch
}

// subscribeEventLog records run lifecycle events in the node log.
func subscribeEventLog(bus *events.Bus, logger *logx.Logger) {
	for _, t := range []events.EventType{
		events.EventTaskReceived,
		events.EventIterationStarted,
		events.EventIterationCompleted,
		events.EventTaskCompleted,
		events.EventTaskFailed,
		events.EventTaskCleaned,
	} {
		bus.Subscribe(t, func(ev events.Event) {
			logger.Infof("event=%s task=%s chat=%s iteration=%d detail=%s",
				ev.Type, ev.TaskID, ev.ChatID, ev.Iteration, ev.Detail)
		})
	}
}

func runSingle(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	dir := fs.String("dir", ".tandem", "state directory")
	chatID := fs.String("chat", "console", "conversation ID for the console chat")
	fs.Parse(args)

	cfg := loadConfig(*dir)
	requireAgents(cfg)

	logger, closer, err := logx.Open(*dir, "tandem.log", "node", logx.ParseLevel(cfg.Logging.Level))
	if err != nil {
		fatalf("%v", err)
	}
	defer closer.Close()

	bus := events.NewBus(100)
	defer bus.Close()
	subscribeEventLog(bus, logger.WithComponent("events"))

	led := ledger.New(*dir)
	if err := led.Load(); err != nil {
		fatalf("load ledger: %v", err)
	}

	st, orch := buildEngine(*dir, cfg, bus, logger)
	tr := transport.NewLocal()

	execNode := node.NewExecution(*dir, cfg, tr, st, led, orch, bus, logger.WithComponent("exec"))
	if err := execNode.Start(); err != nil {
		fatalf("%v", err)
	}
	defer execNode.Shutdown()

	console := chat.NewConsole(*chatID, os.Stdin, os.Stdout)
	commNode := node.NewCommunication(tr, console, led, logger.WithComponent("comm"))
	commNode.Start()

	fmt.Printf("tandem %s ready; type a task, /reset, or /restart (Ctrl-D to quit)\n", version)
	if err := console.ReadLoop(context.Background(), func(m chat.InboundMessage) {
		commNode.HandleInbound(context.Background(), m)
	}); err != nil && err != context.Canceled {
		fatalf("console: %v", err)
	}
}

func runComm(args []string) {
	fs := flag.NewFlagSet("comm", flag.ExitOnError)
	dir := fs.String("dir", ".tandem", "state directory")
	chatID := fs.String("chat", "console", "conversation ID for the console chat")
	fs.Parse(args)

	cfg := loadConfig(*dir)
	if cfg.Transport.ListenAddr == "" && cfg.Transport.PeerURL == "" {
		fatalf("config: transport.listen_addr or transport.peer_url is required for comm mode")
	}

	logger, closer, err := logx.Open(*dir, "comm.log", "comm", logx.ParseLevel(cfg.Logging.Level))
	if err != nil {
		fatalf("%v", err)
	}
	defer closer.Close()

	led := ledger.New(*dir)
	if err := led.Load(); err != nil {
		fatalf("load ledger: %v", err)
	}
	defer led.Close()

	tr := transport.NewHTTP(transport.HTTPOptions{
		ListenAddr: cfg.Transport.ListenAddr,
		PeerURL:    cfg.Transport.PeerURL,
		AuthToken:  cfg.AuthToken(),
		Mode:       "communication",
		Timeout:    cfg.TransportTimeout(),
	})
	if err := tr.Start(); err != nil {
		fatalf("%v", err)
	}
	defer tr.Stop(context.Background())

	console := chat.NewConsole(*chatID, os.Stdin, os.Stdout)
	commNode := node.NewCommunication(tr, console, led, logger)
	commNode.Start()

	if addr := tr.Addr(); addr != "" {
		fmt.Printf("tandem comm listening on %s\n", addr)
	}
	if err := console.ReadLoop(context.Background(), func(m chat.InboundMessage) {
		commNode.HandleInbound(context.Background(), m)
	}); err != nil && err != context.Canceled {
		fatalf("console: %v", err)
	}
}

func runExec(args []string) {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	dir := fs.String("dir", ".tandem", "state directory")
	fs.Parse(args)

	cfg := loadConfig(*dir)
	requireAgents(cfg)
	if cfg.Transport.PeerURL == "" && cfg.Transport.ListenAddr == "" {
		fatalf("config: transport.peer_url or transport.listen_addr is required for exec mode")
	}

	logger, closer, err := logx.Open(*dir, "exec.log", "exec", logx.ParseLevel(cfg.Logging.Level))
	if err != nil {
		fatalf("%v", err)
	}
	defer closer.Close()

	bus := events.NewBus(100)
	defer bus.Close()
	subscribeEventLog(bus, logger.WithComponent("events"))

	led := ledger.New(*dir)
	if err := led.Load(); err != nil {
		fatalf("load ledger: %v", err)
	}

	tr := transport.NewHTTP(transport.HTTPOptions{
		ListenAddr: cfg.Transport.ListenAddr,
		PeerURL:    cfg.Transport.PeerURL,
		AuthToken:  cfg.AuthToken(),
		Mode:       "execution",
		Timeout:    cfg.TransportTimeout(),
	})
	if err := tr.Start(); err != nil {
		fatalf("%v", err)
	}
	defer tr.Stop(context.Background())

	st, orch := buildEngine(*dir, cfg, bus, logger)
	execNode := node.NewExecution(*dir, cfg, tr, st, led, orch, bus, logger)
	if err := execNode.Run(); err != nil {
		fatalf("%v", err)
	}
}

func runSubmit(args []string) {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	dir := fs.String("dir", ".tandem", "state directory")
	chatID := fs.String("chat", "console", "conversation ID")
	message := fs.String("message", "", "task text (required)")
	taskID := fs.String("task", "", "task ID (generated when empty)")
	taskCtx := fs.String("context", "", "additional context")
	url := fs.String("url", "", "peer base URL; when empty the task is dropped into the inbox")
	fs.Parse(args)

	if *message == "" {
		fatalf("submit: -message is required")
	}

	id := *taskID
	if id == "" {
		generated, err := model.GenerateID(model.IDTypeTask)
		if err != nil {
			fatalf("generate task id: %v", err)
		}
		id = generated
	}

	if *url != "" {
		cfg := model.Config{}
		cfg.ApplyDefaults()
		tr := transport.NewHTTP(transport.HTTPOptions{
			PeerURL:   *url,
			AuthToken: os.Getenv("TANDEM_AUTH_TOKEN"),
			Timeout:   cfg.TransportTimeout(),
		})
		resp, err := tr.SendTask(context.Background(), model.TaskRequest{
			TaskID:    id,
			ChatID:    *chatID,
			Message:   *message,
			MessageID: uuid.NewString(),
			Context:   *taskCtx,
		})
		if err != nil {
			fatalf("submit: %v", err)
		}
		if !resp.Success {
			fatalf("submit rejected: %s", resp.Error)
		}
		fmt.Printf("task %s submitted\n", resp.TaskID)
		return
	}

	path := filepath.Join(*dir, "inbox", fmt.Sprintf("%d_%s.yaml", time.Now().Unix(), id))
	entry := map[string]string{
		"task_id":    id,
		"chat_id":    *chatID,
		"message":    *message,
		"message_id": uuid.NewString(),
		"context":    *taskCtx,
	}
	if err := fsio.WriteYAML(path, entry); err != nil {
		fatalf("write inbox file: %v", err)
	}
	fmt.Printf("task %s dropped into %s\n", id, path)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8787", "node base URL")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*url + "/health")
	if err != nil {
		fatalf("health check: %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status string `json:"status"`
		Mode   string `json:"mode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		fatalf("decode health response: %v", err)
	}
	fmt.Printf("status=%s mode=%s\n", health.Status, health.Mode)
}
