package generation

import (
	"github.com/pario-ai/semcache/pkg/ctxbuild"
	"github.com/pario-ai/semcache/pkg/models"
)

const completionSystem = "You are a code completion engine. Reply only with the code that continues at the cursor, without explanations or markdown fences."

var modeSystem = map[string]string{
	"chat":     "You are a helpful programming assistant.",
	"review":   "You are a senior engineer reviewing code. Point out bugs, risks and style problems concisely.",
	"fix":      "You fix bugs in code. Reply with the corrected code and a one-line explanation.",
	"optimize": "You optimize code for speed and clarity. Reply with the improved code and what changed.",
}

// ForCode builds the request for a code context.
func ForCode(c ctxbuild.Code, model string) Request {
	return Request{
		Model:  model,
		System: completionSystem,
		Prompt: c.Text(),
	}
}

// ForChat builds the request for a chat context. The full history is sent;
// only the cache key uses the abbreviated form.
func ForChat(c ctxbuild.Chat, model string) Request {
	system, ok := modeSystem[c.Kind()]
	if !ok {
		system = modeSystem[ctxbuild.DefaultMode]
	}

	msgs := make([]models.ChatMessage, 0, len(c.History)+1)
	for _, turn := range c.History {
		msgs = append(msgs, models.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, models.ChatMessage{Role: "user", Content: c.Message})

	return Request{Model: model, System: system, Messages: msgs}
}
