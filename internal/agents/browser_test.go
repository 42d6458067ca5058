package agents

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/browsercloud"
	"github.com/tasklane/orchestrator/internal/orchestration"
)

type fakeBrowserCloud struct {
	lastReq browsercloud.TaskRequest
	fail    bool
}

func (f *fakeBrowserCloud) RunTask(ctx context.Context, req browsercloud.TaskRequest) (*browsercloud.TaskCreated, error) {
	f.lastReq = req
	if f.fail {
		return nil, fmt.Errorf("browser cloud rejected task")
	}
	return &browsercloud.TaskCreated{
		TaskID:    "bt-123",
		SessionID: "sess-1",
		LiveURL:   "https://live.example.com/sess-1",
	}, nil
}

func TestBrowserAgentStartsTask(t *testing.T) {
	cloud := &fakeBrowserCloud{}
	a := NewBrowserAgent(cloud, zap.NewNop())
	state := orchestration.NewState("task-9", "return my order on amazon")

	req := orchestration.NewMessage(orchestration.SupervisorID, a.ID(), orchestration.RequestPayload{
		Query:  "return my order on amazon",
		TaskID: "task-9",
	}, "")
	resp := a.HandleMessage(context.Background(), req, state)

	assert.Equal(t, orchestration.TypeResponse, resp.Type)
	assert.Equal(t, req.ID, resp.CorrelationID)

	content, ok := resp.Content.(orchestration.ResponsePayload)
	require.True(t, ok)
	assert.Equal(t, "started", content.Status)
	assert.Equal(t, "bt-123", content.Data["task_id"])
	assert.Equal(t, "https://live.example.com/sess-1", content.Data["live_url"])

	// Storefront mention restricts the session and a return flow keeps
	// browser data for user takeover.
	assert.Contains(t, cloud.lastReq.AllowedDomains, "https://amazon.com/")
	assert.True(t, cloud.lastReq.SaveBrowserData)
	assert.False(t, cloud.lastReq.Wait)
	assert.Equal(t, "task-9", cloud.lastReq.ItemID)
}

func TestBrowserAgentConvertsFailureToErrorMessage(t *testing.T) {
	a := NewBrowserAgent(&fakeBrowserCloud{fail: true}, zap.NewNop())
	state := orchestration.NewState("task-9", "open the website example.com")

	req := orchestration.NewMessage(orchestration.SupervisorID, a.ID(), orchestration.RequestPayload{
		Query: "open the website example.com",
	}, "")
	resp := a.HandleMessage(context.Background(), req, state)

	assert.Equal(t, orchestration.TypeError, resp.Type)
	content, ok := resp.Content.(orchestration.ErrorPayload)
	require.True(t, ok)
	assert.Contains(t, content.Error, "rejected")
	assert.Equal(t, "open the website example.com", content.OriginalQuery)
}

func TestBrowserAgentCanHandleTiers(t *testing.T) {
	a := NewBrowserAgent(&fakeBrowserCloud{}, zap.NewNop())

	assert.Equal(t, 0.9, a.CanHandle(orchestration.Task{Request: "navigate to the website and log data"}))
	assert.Equal(t, 0.7, a.CanHandle(orchestration.Task{Request: "submit the application form please"}))
	assert.Equal(t, 0.6, a.CanHandle(orchestration.Task{Request: "see example.com for the thing"}))
	assert.Equal(t, 0.2, a.CanHandle(orchestration.Task{Request: "water the plants"}))
}

func TestExtractDomainsFromURL(t *testing.T) {
	domains := extractDomains("check https://news.ycombinator.com/item?id=1 for details")
	assert.Contains(t, domains, "https://news.ycombinator.com/")
	assert.Contains(t, domains, "https://*.news.ycombinator.com/")
}

func TestExtractDomainsEmpty(t *testing.T) {
	assert.Empty(t, extractDomains("nothing web related here"))
}

func TestShouldSaveBrowserData(t *testing.T) {
	assert.True(t, shouldSaveBrowserData("login to my account"))
	assert.True(t, shouldSaveBrowserData("cancel the order I made"))
	assert.False(t, shouldSaveBrowserData("read the front page"))
}

func TestBrowserAgentNegotiation(t *testing.T) {
	a := NewBrowserAgent(&fakeBrowserCloud{}, zap.NewNop())
	state := orchestration.NewState("task-9", "fill in the signup form on the site")

	msg := orchestration.NewMessage(orchestration.SupervisorID, a.ID(), orchestration.NegotiatePayload{}, "")
	resp := a.HandleMessage(context.Background(), msg, state)

	bid, ok := resp.Content.(orchestration.NegotiatePayload)
	require.True(t, ok)
	assert.Equal(t, 0.9, bid.Bid)
	assert.Equal(t, msg.ID, resp.CorrelationID)
}
