package dubbing

import (
	"context"
	"fmt"
	"strings"
)

// Localizer rewrites source text into the target spoken variant. ok=false
// means the segment should be skipped.
type Localizer interface {
	Localize(ctx context.Context, sourceText string) (targetText string, ok bool, err error)
}

// IdentityLocalizer passes text through unchanged; the synthesis voice does
// the localization.
type IdentityLocalizer struct{}

func (IdentityLocalizer) Localize(_ context.Context, sourceText string) (string, bool, error) {
	text := strings.TrimSpace(sourceText)
	return text, text != "", nil
}

// ChatFunc sends a system and user prompt to a chat model.
type ChatFunc func(ctx context.Context, system, user string) (string, error)

// ChatLocalizer translates each segment with a chat model.
type ChatLocalizer struct {
	chat   ChatFunc
	target string
}

func NewChatLocalizer(chat ChatFunc, targetLanguage string) *ChatLocalizer {
	return &ChatLocalizer{chat: chat, target: targetLanguage}
}

func (l *ChatLocalizer) systemPrompt() string {
	return fmt.Sprintf("Translate the user's text into %s as it would be spoken aloud. "+
		"Reply with the translation only, without quotes, notes or romanization.", l.target)
}

func (l *ChatLocalizer) Localize(ctx context.Context, sourceText string) (string, bool, error) {
	text := strings.TrimSpace(sourceText)
	if text == "" {
		return "", false, nil
	}
	answer, err := l.chat(ctx, l.systemPrompt(), text)
	if err != nil {
		return "", false, err
	}
	answer = strings.Trim(strings.TrimSpace(answer), `"“”`)
	if answer == "" {
		return "", false, nil
	}
	return answer, true, nil
}
