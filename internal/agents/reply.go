package agents

import (
	"fmt"

	"github.com/tasklane/orchestrator/internal/orchestration"
)

// unknownTypeReply answers a message no agent dispatch arm claims.
func unknownTypeReply(agentID string, msg orchestration.Message) orchestration.Message {
	return orchestration.Reply(msg, agentID, orchestration.ErrorPayload{
		Error: fmt.Sprintf("Unknown message type: %s", msg.Type),
	})
}
