// Package liaison is the conversational agent. It answers chat messages
// and acts on the user's behalf through a small set of tagged tools.
package liaison

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/nidhogg/vitalcore/internal/oracle"
	"go.uber.org/zap"
)

const (
	maxTurns      = 3
	pauseReply    = "I'm thinking too much. Let's pause."
	troubleReply  = "Sorry, I can't gather my thoughts right now. Let's try again in a moment."
	maxToolOutput = 2000
)

// Step records one tool call made while answering.
type Step struct {
	Tool     ToolName      `json:"tool"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Reply is the liaison's answer to one message.
type Reply struct {
	Content string `json:"content"`
	Steps   []Step `json:"steps,omitempty"`
}

// Liaison runs the chat loop.
type Liaison struct {
	oracle   oracle.Oracle
	system   string
	profiles Profiles
	tools    *ToolRegistry
	logger   *zap.Logger
}

// New creates a liaison. system is the persona prompt; its {{profile}}
// placeholder is filled from profiles on every message.
func New(o oracle.Oracle, system string, profiles Profiles, tools *ToolRegistry, logger *zap.Logger) *Liaison {
	if tools == nil {
		tools = NewToolRegistry()
	}
	return &Liaison{oracle: o, system: system, profiles: profiles, tools: tools, logger: logger}
}

// Tools returns the liaison's tool registry.
func (l *Liaison) Tools() *ToolRegistry { return l.tools }

// Chat answers msg given the prior conversation. It never fails: Oracle
// errors degrade to an apology.
func (l *Liaison) Chat(ctx context.Context, history []oracle.Message, msg string) Reply {
	messages := make([]oracle.Message, 0, len(history)+2)
	messages = append(messages, oracle.Message{Role: "system", Content: l.systemPrompt()})
	messages = append(messages, history...)
	messages = append(messages, oracle.Message{Role: "user", Content: msg})

	var reply Reply
	for turn := 0; turn < maxTurns; turn++ {
		text, err := l.oracle.GenerateChat(ctx, messages)
		if err != nil {
			l.logger.Warn("liaison chat failed", zap.Int("turn", turn), zap.Error(err))
			reply.Content = troubleReply
			return reply
		}

		cmd, found, err := ParseCommand(text)
		if !found {
			reply.Content = text
			return reply
		}

		var output string
		if err != nil {
			output = "Tool Execution Error: " + err.Error()
		} else {
			start := time.Now()
			output = l.execute(ctx, cmd)
			reply.Steps = append(reply.Steps, Step{Tool: cmd.Tool, Output: output, Duration: time.Since(start)})
		}
		l.logger.Debug("liaison tool round", zap.Int("turn", turn), zap.String("tool", string(cmd.Tool)))

		messages = append(messages,
			oracle.Message{Role: "assistant", Content: text},
			oracle.Message{Role: "user", Content: "Tool Output: " + truncate(output, maxToolOutput)},
		)
	}

	reply.Content = pauseReply
	return reply
}

func (l *Liaison) execute(ctx context.Context, cmd Command) string {
	out, err := l.tools.Execute(ctx, cmd)
	if err != nil {
		l.logger.Warn("tool failed", zap.String("tool", string(cmd.Tool)), zap.Error(err))
		return fmt.Sprintf("Error: %v", err)
	}
	return out
}

func (l *Liaison) systemPrompt() string {
	summary := "No profile available."
	if l.profiles != nil {
		summary = l.profiles.Summary()
	}
	return oracle.Render(l.system, map[string]string{"profile": summary})
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
