package dispatch

import (
	"context"
	"encoding/json"

	"github.com/agentgate/agentgate/internal/apierr"
	"github.com/agentgate/agentgate/pkg/models"
)

// categoryServices maps each category tool to the fixed service keys it
// may act on.
var categoryServices = map[string][]string{
	"search":   {"brave", "google_search"},
	"social":   {"bluesky", "reddit", "mastodon", "linkedin"},
	"code":     {"github"},
	"personal": {"calendar", "google_calendar", "youtube", "jira", "fitbit"},
}

func categoryNames() []string {
	return []string{"search", "social", "code", "personal"}
}

func isCategory(name string) bool {
	_, ok := categoryServices[name]
	return ok
}

func serviceInCategory(category, service string) bool {
	for _, s := range categoryServices[category] {
		if s == service {
			return true
		}
	}
	return false
}

// ── queue tool ───────────────────────────────────────────────

type queueArgs struct {
	Action  string `json:"action"`
	ID      string `json:"id"`
	Service string `json:"service"`
	Account string `json:"account"`
	Reason  string `json:"reason"`
	Text    string `json:"text"`
}

func (d *Dispatcher) callQueue(ctx context.Context, agentName string, raw json.RawMessage) *ToolResult {
	var a queueArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return errorResult(apierr.Wrap(apierr.BadRequest, err, "invalid arguments"))
	}
	switch a.Action {
	case "list":
		entries, err := d.queue.List(ctx, agentName, a.Service, a.Account)
		if err != nil {
			return errorResult(err)
		}
		return okResult(entries)
	case "status":
		entry, err := d.queue.Status(ctx, a.ID)
		if err != nil {
			return errorResult(err)
		}
		return okResult(entry)
	case "withdraw":
		if err := d.queue.Withdraw(ctx, a.ID, agentName, a.Reason); err != nil {
			return errorResult(err)
		}
		return okResult(map[string]string{"status": "withdrawn"})
	case "warn":
		warningID, err := d.queue.Warn(ctx, a.ID, agentName, a.Text)
		if err != nil {
			return errorResult(err)
		}
		return okResult(map[string]string{"warning_id": warningID})
	case "get_warnings":
		warnings, err := d.queue.Warnings(ctx, a.ID)
		if err != nil {
			return errorResult(err)
		}
		return okResult(warnings)
	default:
		return errorResult(apierr.Newf(apierr.BadRequest, "unknown queue action %q", a.Action))
	}
}

// ── messages tool ────────────────────────────────────────────

type messagesArgs struct {
	Action  string `json:"action"`
	ID      string `json:"id"`
	ToAgent string `json:"to_agent"`
	Message string `json:"message"`
	Unread  bool   `json:"unread"`
}

func (d *Dispatcher) callMessages(ctx context.Context, agentName string, raw json.RawMessage) *ToolResult {
	var a messagesArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return errorResult(apierr.Wrap(apierr.BadRequest, err, "invalid arguments"))
	}
	switch a.Action {
	case "send":
		msg, err := d.messaging.Send(ctx, agentName, a.ToAgent, a.Message)
		if err != nil {
			return errorResult(err)
		}
		return okResult(msg)
	case "get":
		msg, err := d.messaging.Get(ctx, a.ID)
		if err != nil {
			return errorResult(err)
		}
		return okResult(msg)
	case "mark_read":
		if err := d.messaging.MarkRead(ctx, a.ID, agentName); err != nil {
			return errorResult(err)
		}
		return okResult(map[string]string{"status": "read"})
	case "list_agents":
		agents, err := d.messaging.ListAgents(ctx)
		if err != nil {
			return errorResult(err)
		}
		return okResult(agents)
	case "status":
		return okResult(d.messaging.Status(ctx))
	case "broadcast":
		result, err := d.messaging.Broadcast(ctx, agentName, a.Message)
		if err != nil {
			return errorResult(err)
		}
		return okResult(result)
	case "list_broadcasts":
		broadcasts, err := d.messaging.ListBroadcasts(ctx, agentName)
		if err != nil {
			return errorResult(err)
		}
		return okResult(broadcasts)
	case "get_broadcast":
		b, err := d.messaging.GetBroadcast(ctx, a.ID)
		if err != nil {
			return errorResult(err)
		}
		recipients, err := d.messaging.BroadcastRecipients(ctx, a.ID)
		if err != nil {
			return errorResult(err)
		}
		return okResult(map[string]interface{}{"broadcast": b, "recipients": recipients})
	default:
		return errorResult(apierr.Newf(apierr.BadRequest, "unknown messages action %q", a.Action))
	}
}

// ── mementos tool ────────────────────────────────────────────

type mementosArgs struct {
	Action   string   `json:"action"`
	Content  string   `json:"content"`
	Keywords []string `json:"keywords"`
	Model    string   `json:"model"`
	Role     string   `json:"role"`
	IDs      []string `json:"ids"`
	Limit    int      `json:"limit"`
}

func (d *Dispatcher) callMementos(ctx context.Context, agentID string, raw json.RawMessage) *ToolResult {
	var a mementosArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return errorResult(apierr.Wrap(apierr.BadRequest, err, "invalid arguments"))
	}
	switch a.Action {
	case "save":
		m, err := d.memento.Save(ctx, agentID, a.Model, a.Role, a.Content, a.Keywords)
		if err != nil {
			return errorResult(err)
		}
		return okResult(m)
	case "search":
		matches, err := d.memento.Search(ctx, agentID, a.Keywords, a.Limit)
		if err != nil {
			return errorResult(err)
		}
		return okResult(matches)
	case "keywords":
		keywords, err := d.memento.Keywords(ctx, agentID)
		if err != nil {
			return errorResult(err)
		}
		return okResult(keywords)
	case "recent":
		mementos, err := d.memento.Recent(ctx, agentID, a.Limit)
		if err != nil {
			return errorResult(err)
		}
		return okResult(mementos)
	case "get_by_ids":
		mementos, err := d.memento.GetByIDs(ctx, agentID, a.IDs)
		if err != nil {
			return errorResult(err)
		}
		return okResult(mementos)
	default:
		return errorResult(apierr.Newf(apierr.BadRequest, "unknown mementos action %q", a.Action))
	}
}

// ── services tool ────────────────────────────────────────────

type servicesArgs struct {
	Action string `json:"action"`
}

func (d *Dispatcher) callServices(ctx context.Context, agentName string, raw json.RawMessage) *ToolResult {
	var a servicesArgs
	_ = json.Unmarshal(raw, &a)
	switch a.Action {
	case "whoami":
		agent, err := d.agents.GetAgent(ctx, agentName)
		if err != nil {
			return errorResult(err)
		}
		return okResult(map[string]interface{}{"name": agent.Name, "bio": agent.Bio, "enabled": agent.Enabled})
	case "list":
		return okResult(categoryServices)
	case "list_detail":
		detail := make(map[string]interface{}, len(categoryServices))
		for cat, services := range categoryServices {
			detail[cat] = services
		}
		return okResult(detail)
	default:
		return errorResult(apierr.Newf(apierr.BadRequest, "unknown services action %q", a.Action))
	}
}

// ── category tools (read/write) ──────────────────────────────

type categoryArgs struct {
	Action   string          `json:"action"`
	Service  string          `json:"service"`
	Account  string          `json:"account"`
	Path     string          `json:"path"`
	Requests json.RawMessage `json:"requests"`
	Comment  string          `json:"comment"`
}

// callCategory re-checks authorization on every invocation: the bound
// agent must exist and be enabled (already checked by the caller), the
// named service must belong to the category, and the access-control
// resolver must permit the (service, account, agent) tuple.
func (d *Dispatcher) callCategory(ctx context.Context, agentName, category string, raw json.RawMessage) *ToolResult {
	var a categoryArgs
	if err := json.Unmarshal(raw, &a); err != nil {
		return errorResult(apierr.Wrap(apierr.BadRequest, err, "invalid arguments"))
	}
	if !serviceInCategory(category, a.Service) {
		return errorResult(apierr.Newf(apierr.BadRequest, "service %q is not in category %q", a.Service, category))
	}
	if err := d.resolver.Allow(ctx, a.Service, a.Account, agentName); err != nil {
		return errorResult(err)
	}

	switch a.Action {
	case "read":
		status, contentType, body, err := d.reader.Read(ctx, a.Service, a.Account, a.Path)
		if err != nil {
			return errorResult(err)
		}
		return okResult(map[string]interface{}{"status": status, "content_type": contentType, "body": string(body)})
	case "write":
		var requests []models.QueueRequest
		if err := json.Unmarshal(a.Requests, &requests); err != nil {
			return errorResult(apierr.Wrap(apierr.BadRequest, err, "invalid requests"))
		}
		result, err := d.queue.Submit(ctx, agentName, a.Service, a.Account, requests, a.Comment)
		if err != nil {
			return errorResult(err)
		}
		return okResult(result)
	default:
		return errorResult(apierr.Newf(apierr.BadRequest, "unknown action %q for category %q", a.Action, category))
	}
}
