package guardrail

import (
	"context"
	"strings"

	"github.com/suPer8Hu/govchat/internal/ai"
	"go.uber.org/zap"
)

const topicPrompt = `You are a classification assistant for the Canada.ca tax chatbot.
Your job is to determine if the user's message is related to Canadian taxes, government benefits, the Canada Revenue Agency (CRA), or financial services provided by the government.

User Message: %MESSAGE%

Instructions:
- Respond with "yes" if the message is related to taxes, benefits, CRA, CRA account, tax forms, financial support, or general government services.
- Respond with "yes" if it is a greeting (hello, hi, etc.) or a meta-question about the bot's capabilities.
- Respond with "no" ONLY if the message is completely unrelated (e.g., cooking recipes, general health advice not related to tax credits, sports, coding advice, etc.).
- Even if the message is about health, if it could be related to the Disability Tax Credit or medical expenses tax credit, say "yes".

Reply ONLY with "yes" or "no".`

// TopicClassifier asks the model whether a message is in scope. Any failure
// counts as on topic.
type TopicClassifier struct {
	provider ai.Provider
	log      *zap.Logger
}

func NewTopicClassifier(p ai.Provider, log *zap.Logger) *TopicClassifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &TopicClassifier{provider: p, log: log}
}

func (c *TopicClassifier) OnTopic(ctx context.Context, message string) bool {
	if len(strings.TrimSpace(message)) < 2 {
		return true
	}
	prompt := strings.Replace(topicPrompt, "%MESSAGE%", message, 1)
	out, err := c.provider.Chat(ctx, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
	if err != nil {
		c.log.Warn("topic check failed, allowing message", zap.Error(err))
		return true
	}
	answer := strings.ToLower(strings.TrimSpace(out))
	answer = strings.TrimLeft(answer, "\"'*` ")
	return !strings.HasPrefix(answer, "no")
}
