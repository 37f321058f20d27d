package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/example/driver-console-sync/internal/conversation"
	"github.com/example/driver-console-sync/internal/models"
	"github.com/example/driver-console-sync/internal/observability"
	"github.com/example/driver-console-sync/internal/session"
	"github.com/example/driver-console-sync/internal/wire"
)

func pathEscape(id models.ID) string { return url.PathEscape(id.String()) }

func (c *Client) fetchList(ctx context.Context, op, path string, query url.Values, keys ...string) ([]json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, path, query, nil, &raw); err != nil {
		return nil, err
	}
	items, err := listItems(raw, keys...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return items, nil
}

func (c *Client) dropped(op string, err error) {
	observability.RecordsDropped.WithLabelValues("malformed_record").Inc()
	c.logger.Debug("dropping malformed record", "op", op, "error", err)
}

// FetchJobs returns the driver's contracted jobs.
func (c *Client) FetchJobs(ctx context.Context) ([]models.Job, error) {
	const op = "api.FetchJobs"
	items, err := c.fetchList(ctx, op, "/jobs", nil, "jobs", "rides")
	if err != nil {
		return nil, err
	}
	jobs := make([]models.Job, 0, len(items))
	for _, it := range items {
		var p wire.JobPayload
		if err := json.Unmarshal(it, &p); err != nil {
			c.dropped(op, err)
			continue
		}
		job, _, err := p.Normalize()
		if err != nil {
			c.dropped(op, err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (c *Client) FetchRequests(ctx context.Context) ([]models.ApprovalRequest, error) {
	const op = "api.FetchRequests"
	items, err := c.fetchList(ctx, op, "/requests", url.Values{"status": {"pending"}}, "requests")
	if err != nil {
		return nil, err
	}
	out := make([]models.ApprovalRequest, 0, len(items))
	for _, it := range items {
		var p wire.RequestPayload
		if err := json.Unmarshal(it, &p); err != nil {
			c.dropped(op, err)
			continue
		}
		r, err := p.Normalize(models.KindShare)
		if err != nil {
			c.dropped(op, err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) FetchConversations(ctx context.Context) ([]models.Conversation, error) {
	const op = "api.FetchConversations"
	items, err := c.fetchList(ctx, op, "/conversations", nil, "conversations")
	if err != nil {
		return nil, err
	}
	out := make([]models.Conversation, 0, len(items))
	for _, it := range items {
		var p wire.ConversationPayload
		if err := json.Unmarshal(it, &p); err != nil {
			c.dropped(op, err)
			continue
		}
		conv, err := p.Normalize()
		if err != nil {
			c.dropped(op, err)
			continue
		}
		out = append(out, conv)
	}
	return out, nil
}

// FetchMessages returns one conversation's messages, oldest first as the
// server orders them. Identity checks happen when they are merged.
func (c *Client) FetchMessages(ctx context.Context, conversationID models.ID) ([]conversation.Remote, error) {
	const op = "api.FetchMessages"
	path := fmt.Sprintf("/conversations/%s/messages", pathEscape(conversationID))
	items, err := c.fetchList(ctx, op, path, nil, "messages")
	if err != nil {
		return nil, err
	}
	out := make([]conversation.Remote, 0, len(items))
	for _, it := range items {
		var p wire.MessagePayload
		if err := json.Unmarshal(it, &p); err != nil {
			c.dropped(op, err)
			continue
		}
		_, m := p.Normalize()
		out = append(out, m)
	}
	return out, nil
}

// FetchListings returns the viewer's own posts of one kind.
func (c *Client) FetchListings(ctx context.Context, kind models.ListingKind) ([]models.Listing, error) {
	const op = "api.FetchListings"
	items, err := c.fetchList(ctx, op, "/listings", url.Values{"kind": {string(kind)}, "mine": {"true"}}, "listings", "posts", "vehicles")
	if err != nil {
		return nil, err
	}
	out := make([]models.Listing, 0, len(items))
	for _, it := range items {
		var p wire.ListingPayload
		if err := json.Unmarshal(it, &p); err != nil {
			c.dropped(op, err)
			continue
		}
		l, err := p.Normalize(kind)
		if err != nil {
			c.dropped(op, err)
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (c *Client) FetchNotifications(ctx context.Context) ([]models.Notification, error) {
	const op = "api.FetchNotifications"
	items, err := c.fetchList(ctx, op, "/notifications", nil, "notifications")
	if err != nil {
		return nil, err
	}
	out := make([]models.Notification, 0, len(items))
	for _, it := range items {
		var p wire.NotificationPayload
		if err := json.Unmarshal(it, &p); err != nil {
			c.dropped(op, err)
			continue
		}
		out = append(out, p.Normalize())
	}
	return out, nil
}

// FetchProfile returns the signed-in user's profile, used to resolve the
// session identity when the token does not carry it.
func (c *Client) FetchProfile(ctx context.Context) (*session.Profile, error) {
	const op = "api.FetchProfile"
	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, "/me", nil, nil, &raw); err != nil {
		return nil, err
	}
	var p session.Profile
	if err := json.Unmarshal(wire.Unwrap(raw, "user", "profile"), &p); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &p, nil
}
