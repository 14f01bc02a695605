package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/23skdu/longbow-scout/internal/logger"
	"github.com/23skdu/longbow-scout/internal/server"
	"github.com/23skdu/longbow-scout/internal/tui"
)

// Session is one interactive conversation with a loaded engine. The
// whole history is sent with every turn, so the model sees the full
// conversation context.
type Session struct {
	client  *server.Client
	reg     *Registry
	engine  string
	opts    server.ChatOptions
	history []server.ChatMessage

	lastTPS   float64
	lastTTFT  float64
	completed int

	in      io.Reader
	out     io.Writer
	animate bool

	log *logger.Logger
}

// NewSession builds a session talking to engine through client.
func NewSession(client *server.Client, engine string, opts server.ChatOptions) *Session {
	s := &Session{
		client:  client,
		reg:     NewRegistry(),
		engine:  engine,
		opts:    opts,
		in:      os.Stdin,
		out:     os.Stdout,
		animate: term.IsTerminal(int(os.Stdout.Fd())),
		log:     logger.Log.With("chat"),
	}
	s.registerBuiltins()
	return s
}

func (s *Session) registerBuiltins() {
	s.reg.Register(Command{"help", "Show available commands", "/help [command]", s.cmdHelp})
	s.reg.Register(Command{"exit", "Exit the chat session", "/exit", s.cmdExit})
	s.reg.Register(Command{"clear", "Clear the conversation history", "/clear", s.cmdClear})
	s.reg.Register(Command{"history", "Show the conversation so far", "/history", s.cmdHistory})
	s.reg.Register(Command{"stats", "Show generation statistics", "/stats", s.cmdStats})
	s.reg.Register(Command{"engines", "List engines loaded on the server", "/engines", s.cmdEngines})
	s.reg.Register(Command{"switch", "Switch to another engine", "/switch <engine>", s.cmdSwitch})
}

// Run drives the conversation loop until /exit, EOF or context
// cancellation.
func (s *Session) Run(ctx context.Context) error {
	fmt.Fprint(s.out, "\033[2J\033[H")
	fmt.Fprintf(s.out, "Running: \033[35m%s\033[0m\n", s.engine)
	fmt.Fprintln(s.out, "Type '/exit' or press Ctrl+C to quit")
	fmt.Fprintln(s.out, "Type '/help' to see available commands")

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(s.out, "\n> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			fmt.Fprintln(s.out)
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if s.reg.IsCommand(input) {
			res := s.reg.Execute(ctx, input)
			if res.Message != "" {
				fmt.Fprintf(s.out, "\n\033[33m> %s\033[0m\n", res.Message)
			}
			if res.ShouldExit {
				return nil
			}
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		s.send(ctx, input)
	}
}

// send streams one completion, rendering chunks as they arrive and a
// stats line once the model finishes.
func (s *Session) send(ctx context.Context, text string) {
	s.history = append(s.history, server.ChatMessage{Role: "user", Content: text})

	var spin *tui.Spinner
	if s.animate {
		spin = tui.NewSpinner(s.out, "")
		spin.Start()
	}

	var response strings.Builder
	awaitingFirst := true
	err := s.client.StreamChatCompletion(ctx, s.engine, s.history, s.opts, func(ch server.ChatChunk) {
		if ch.TPS > 0 {
			s.lastTPS = ch.TPS
		}
		if ch.TTFT > 0 {
			s.lastTTFT = ch.TTFT
		}
		if ch.Text == "" {
			return
		}
		if awaitingFirst {
			awaitingFirst = false
			if spin != nil {
				spin.Stop()
			}
			fmt.Fprint(s.out, "\033[32m> \033[0m")
		}
		response.WriteString(ch.Text)
		fmt.Fprint(s.out, ch.Text)
	})
	if spin != nil {
		spin.Stop()
	}

	if err != nil && response.Len() == 0 {
		s.log.Debug("completion failed", "engine", s.engine, "error", err)
		fmt.Fprintln(s.out, "❌ Error: Failed to get response from the model. Please try again.")
		return
	}
	if awaitingFirst {
		fmt.Fprint(s.out, "\033[32m> \033[0m")
	}
	fmt.Fprintln(s.out)

	if response.Len() > 0 {
		s.history = append(s.history, server.ChatMessage{Role: "assistant", Content: response.String()})
		s.completed++
	}

	if s.lastTTFT > 0 || s.lastTPS > 0 {
		fmt.Fprint(s.out, "\033[90m")
		if s.lastTTFT > 0 {
			fmt.Fprintf(s.out, "TTFT: %.2fms", s.lastTTFT)
		}
		if s.lastTPS > 0 {
			if s.lastTTFT > 0 {
				fmt.Fprint(s.out, " | ")
			}
			fmt.Fprintf(s.out, "TPS: %.1f", s.lastTPS)
		}
		fmt.Fprintln(s.out, "\033[0m")
	}
}

func (s *Session) cmdHelp(ctx context.Context, args []string) CommandResult {
	if len(args) > 0 {
		for _, cmd := range s.reg.Commands() {
			if cmd.Name == args[0] {
				return CommandResult{Message: fmt.Sprintf(
					"Command: /%s\nDescription: %s\nUsage: %s",
					cmd.Name, cmd.Description, cmd.Usage)}
			}
		}
		return CommandResult{Message: "Unknown command: /" + args[0]}
	}

	var sb strings.Builder
	sb.WriteString("Available commands:\n\n")
	for _, cmd := range s.reg.Commands() {
		fmt.Fprintf(&sb, "%-15s - %s\n", "/"+cmd.Name, cmd.Description)
	}
	sb.WriteString("\nType '/help <command>' for detailed usage of a specific command.")
	return CommandResult{Message: sb.String()}
}

func (s *Session) cmdExit(ctx context.Context, args []string) CommandResult {
	return CommandResult{Message: "Goodbye! 👋", ShouldExit: true}
}

func (s *Session) cmdClear(ctx context.Context, args []string) CommandResult {
	s.history = nil
	return CommandResult{Message: "Conversation history cleared."}
}

func (s *Session) cmdHistory(ctx context.Context, args []string) CommandResult {
	if len(s.history) == 0 {
		return CommandResult{Message: "No messages yet."}
	}
	var sb strings.Builder
	for i, m := range s.history {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, m.Role, m.Content)
	}
	return CommandResult{Message: strings.TrimRight(sb.String(), "\n")}
}

func (s *Session) cmdStats(ctx context.Context, args []string) CommandResult {
	if s.completed == 0 {
		return CommandResult{Message: "No completions yet."}
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Messages: %d\nCompletions: %d", len(s.history), s.completed)
	if s.lastTTFT > 0 {
		fmt.Fprintf(&sb, "\nTTFT: %.2fms", s.lastTTFT)
	}
	if s.lastTPS > 0 {
		fmt.Fprintf(&sb, "\nTPS: %.1f", s.lastTPS)
	}
	return CommandResult{Message: sb.String()}
}

func (s *Session) cmdEngines(ctx context.Context, args []string) CommandResult {
	ids, err := s.client.ListEngines(ctx)
	if err != nil {
		return CommandResult{Message: "Could not list engines: " + err.Error()}
	}
	if len(ids) == 0 {
		return CommandResult{Message: "No engines loaded."}
	}
	var sb strings.Builder
	sb.WriteString("Engines:\n")
	for _, id := range ids {
		marker := "  "
		if id == s.engine {
			marker = "* "
		}
		sb.WriteString(marker + id + "\n")
	}
	return CommandResult{Message: strings.TrimRight(sb.String(), "\n")}
}

func (s *Session) cmdSwitch(ctx context.Context, args []string) CommandResult {
	if len(args) != 1 {
		return CommandResult{Message: "Usage: /switch <engine>"}
	}
	ok, err := s.client.EngineExists(ctx, args[0])
	if err != nil {
		return CommandResult{Message: "Could not check engine: " + err.Error()}
	}
	if !ok {
		return CommandResult{Message: fmt.Sprintf("Engine %q is not registered. Use /engines to see what is loaded.", args[0])}
	}
	s.engine = args[0]
	return CommandResult{Message: "Switched to " + args[0] + "."}
}
