package agents

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tasklane/orchestrator/internal/browsercloud"
	"github.com/tasklane/orchestrator/internal/orchestration"
)

// BrowserAgentID is the browser agent's stable identifier.
const BrowserAgentID = "browser_agent"

// browserRunner is the slice of the browser cloud the agent needs.
type browserRunner interface {
	RunTask(ctx context.Context, req browsercloud.TaskRequest) (*browsercloud.TaskCreated, error)
}

// BrowserAgent handles web automation tasks by delegating to the browser
// automation cloud. Tasks start asynchronously; the response carries the
// live URL for progress, not a final result.
type BrowserAgent struct {
	cloud   browserRunner
	matcher *orchestration.TierMatcher
	logger  *zap.Logger
}

var (
	bareDomainRe = regexp.MustCompile(`\b[a-zA-Z0-9-]+\.(com|org|net|edu|gov)\b`)
	urlRe        = regexp.MustCompile(`https?://[^\s]+`)
	baseDomainRe = regexp.MustCompile(`(https?)://([^/\s]+)`)

	savePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(login|sign in|authenticate)\b`),
		regexp.MustCompile(`\b(return|refund|cancel)\b.*\b(order|purchase)\b`),
		regexp.MustCompile(`\b(shopping|checkout|cart)\b`),
		regexp.MustCompile(`\buser will take over\b`),
		regexp.MustCompile(`\b(fill|complete)\b.*\b(form|application)\b`),
	}

	storefronts = []struct {
		re      *regexp.Regexp
		domains []string
	}{
		{regexp.MustCompile(`\bamazon\b`), []string{"https://amazon.com/", "https://*.amazon.com/"}},
		{regexp.MustCompile(`\bebay\b`), []string{"https://ebay.com/", "https://*.ebay.com/"}},
		{regexp.MustCompile(`\bwalmart\b`), []string{"https://walmart.com/", "https://*.walmart.com/"}},
		{regexp.MustCompile(`\btarget\b`), []string{"https://target.com/", "https://*.target.com/"}},
	}
)

// NewBrowserAgent creates the browser agent.
func NewBrowserAgent(cloud browserRunner, logger *zap.Logger) *BrowserAgent {
	return &BrowserAgent{
		cloud: cloud,
		matcher: orchestration.NewTierMatcher(
			[]string{
				`\b(navigate|browse|visit|go to|open)\b.*\b(website|site|url|page)\b`,
				`\b(click|press|tap|select)\b.*\b(button|link|element)\b`,
				`\b(fill|enter|type|input)\b.*\b(form|field|text)\b`,
				`\b(screenshot|capture|save)\b.*\b(page|screen)\b`,
				`\b(login|sign in|authenticate)\b`,
				`\b(download|upload)\b.*\b(file|document)\b`,
				`\b(automate|automation)\b.*\b(web|browser)\b`,
				`\b(return|cancel|refund)\b.*\b(order|purchase|item)\b`,
				`\b(amazon|ebay|shopping|e-commerce)\b`,
				`\b(scrape|extract|get)\b.*\b(data|information|content)\b`,
			},
			[]string{
				`\b(check|verify|confirm)\b.*\b(online|website)\b`,
				`\b(submit|send)\b.*\b(form|application)\b`,
				`\b(interact|use)\b.*\b(website|web)\b`,
			},
			0.2,
		),
		logger: logger,
	}
}

func (a *BrowserAgent) ID() string { return BrowserAgentID }

func (a *BrowserAgent) Capabilities() []string {
	return []string{"web_automation", "browser_interaction", "form_filling", "navigation", "scraping"}
}

// CanHandle scores browser fitness. A bare domain mention that matches
// nothing else still gets a weak positive score.
func (a *BrowserAgent) CanHandle(task orchestration.Task) float64 {
	score := a.matcher.Score(task.Request)
	if score > 0.2 {
		return score
	}
	if bareDomainRe.MatchString(strings.ToLower(task.Request)) {
		return 0.6
	}
	return 0.2
}

func (a *BrowserAgent) HandleMessage(ctx context.Context, msg orchestration.Message, state *orchestration.State) orchestration.Message {
	switch msg.Type {
	case orchestration.TypeRequest:
		return a.handleRequest(ctx, msg, state)
	case orchestration.TypeNegotiate:
		return a.handleNegotiation(msg, state)
	default:
		return unknownTypeReply(a.ID(), msg)
	}
}

func (a *BrowserAgent) handleRequest(ctx context.Context, msg orchestration.Message, state *orchestration.State) orchestration.Message {
	query := state.OriginalRequest
	taskID := state.TaskID
	if req, ok := msg.Content.(orchestration.RequestPayload); ok {
		if req.Query != "" {
			query = req.Query
		}
		if req.TaskID != "" {
			taskID = req.TaskID
		}
	}

	created, err := a.cloud.RunTask(ctx, browsercloud.TaskRequest{
		Task:            query,
		ItemID:          taskID,
		AllowedDomains:  extractDomains(query),
		Wait:            false, // always async; progress arrives via the live URL
		SaveBrowserData: shouldSaveBrowserData(query),
	})
	if err != nil {
		a.logger.Warn("Browser task failed to start", zap.String("query", query), zap.Error(err))
		return orchestration.ReplyTo(msg, a.ID(), orchestration.SupervisorID, orchestration.ErrorPayload{
			Error:         err.Error(),
			OriginalQuery: query,
		})
	}

	return orchestration.ReplyTo(msg, a.ID(), orchestration.SupervisorID, orchestration.ResponsePayload{
		Status: "started",
		Data: map[string]interface{}{
			"task_id":    created.TaskID,
			"session_id": created.SessionID,
			"live_url":   created.LiveURL,
			"message":    "Browser task started. Check live URL for real-time progress.",
			"query":      query,
			"timestamp":  time.Now().Format(time.RFC3339),
		},
	})
}

func (a *BrowserAgent) handleNegotiation(msg orchestration.Message, state *orchestration.State) orchestration.Message {
	task := orchestration.Task{Request: state.OriginalRequest}
	if neg, ok := msg.Content.(orchestration.NegotiatePayload); ok && neg.Task != nil {
		task = *neg.Task
	}
	return orchestration.ReplyTo(msg, a.ID(), orchestration.SupervisorID, orchestration.NegotiatePayload{
		Bid:              a.CanHandle(task),
		Capabilities:     a.Capabilities(),
		CurrentLoad:      0,
		EstimatedSeconds: a.estimateSeconds(task.Request),
	})
}

// estimateSeconds: browser tasks run longer than searches, interactive
// flows longest of all.
func (a *BrowserAgent) estimateSeconds(request string) int {
	lowered := strings.ToLower(request)
	switch {
	case strings.Contains(lowered, "login") || strings.Contains(lowered, "return"):
		return 60
	case strings.Contains(lowered, "navigate") || strings.Contains(lowered, "click"):
		return 30
	default:
		return 20
	}
}

// extractDomains restricts the browser session to domains the request
// names, either as a known storefront or an explicit URL.
func extractDomains(query string) []string {
	var domains []string
	lowered := strings.ToLower(query)

	for _, sf := range storefronts {
		if sf.re.MatchString(lowered) {
			domains = append(domains, sf.domains...)
		}
	}

	for _, u := range urlRe.FindAllString(query, -1) {
		m := baseDomainRe.FindStringSubmatch(u)
		if m == nil {
			continue
		}
		scheme, host := m[1], m[2]
		domains = append(domains, scheme+"://"+host+"/")
		domains = append(domains, scheme+"://*."+host+"/")
	}

	return domains
}

// shouldSaveBrowserData marks sessions that may need user takeover.
func shouldSaveBrowserData(query string) bool {
	lowered := strings.ToLower(query)
	for _, re := range savePatterns {
		if re.MatchString(lowered) {
			return true
		}
	}
	return false
}
