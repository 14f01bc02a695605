// Package chat runs the interactive conversation loop against a loaded
// engine, including the slash-command registry.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// CommandResult is what a slash command hands back to the loop.
type CommandResult struct {
	Message    string
	ShouldExit bool
}

// Handler executes one slash command with its arguments.
type Handler func(ctx context.Context, args []string) CommandResult

// Command is one registered slash command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Handler     Handler
}

// Registry dispatches slash commands by name.
type Registry struct {
	commands map[string]Command
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name] = cmd
}

// IsCommand reports whether input invokes a slash command.
func (r *Registry) IsCommand(input string) bool {
	return strings.HasPrefix(input, "/")
}

// Commands returns every registered command sorted by name.
func (r *Registry) Commands() []Command {
	cmds := make([]Command, 0, len(r.commands))
	for _, cmd := range r.commands {
		cmds = append(cmds, cmd)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })
	return cmds
}

// Suggestions returns the names of commands matching a partial input
// like "/he", sorted.
func (r *Registry) Suggestions(partial string) []string {
	if !strings.HasPrefix(partial, "/") {
		return nil
	}
	prefix := strings.TrimPrefix(partial, "/")
	var names []string
	for name := range r.commands {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Execute parses and runs one command line.
func (r *Registry) Execute(ctx context.Context, input string) CommandResult {
	if !r.IsCommand(input) {
		return CommandResult{Message: "Not a command"}
	}
	fields := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(fields) == 0 {
		return CommandResult{Message: "Invalid command format"}
	}
	cmd, ok := r.commands[fields[0]]
	if !ok {
		return CommandResult{Message: fmt.Sprintf("Unknown command: /%s\nType /help to see available commands.", fields[0])}
	}
	return cmd.Handler(ctx, fields[1:])
}
