package orchestration

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMessageStartsCorrelationChain(t *testing.T) {
	m := NewMessage(SupervisorID, "search_agent", RequestPayload{Query: "find things"}, "")

	assert.NotEmpty(t, m.ID)
	assert.NotEmpty(t, m.CorrelationID)
	assert.NotEqual(t, m.ID, m.CorrelationID)
	assert.Equal(t, TypeRequest, m.Type)
	assert.False(t, m.Timestamp.IsZero())
}

func TestReplyCorrelatesToOriginID(t *testing.T) {
	req := NewMessage(SupervisorID, "search_agent", RequestPayload{Query: "find things"}, "")
	resp := Reply(req, "search_agent", ResponsePayload{Status: "completed"})

	assert.Equal(t, req.ID, resp.CorrelationID)
	assert.Equal(t, req.FromAgent, resp.ToAgent)
	assert.Equal(t, "search_agent", resp.FromAgent)
	assert.Equal(t, TypeResponse, resp.Type)
}

func TestReplyToCorrelatesAndAddresses(t *testing.T) {
	req := NewMessage("browser_agent", "search_agent", RequestPayload{Query: "x"}, "chain-1")
	errMsg := ReplyTo(req, "search_agent", SupervisorID, ErrorPayload{Error: "boom"})

	assert.Equal(t, req.ID, errMsg.CorrelationID)
	assert.Equal(t, SupervisorID, errMsg.ToAgent)
	assert.Equal(t, TypeError, errMsg.Type)
}

func TestMessageTypeFollowsPayload(t *testing.T) {
	cases := []struct {
		content Payload
		want    MessageType
	}{
		{RequestPayload{}, TypeRequest},
		{ResponsePayload{}, TypeResponse},
		{ErrorPayload{}, TypeError},
		{StatusPayload{}, TypeStatus},
		{NegotiatePayload{}, TypeNegotiate},
	}
	for _, tc := range cases {
		m := NewMessage("a", "b", tc.content, "")
		assert.Equal(t, tc.want, m.Type)
	}
}
