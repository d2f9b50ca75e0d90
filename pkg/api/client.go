package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/go-go-golems/velocity/pkg/gateway"
	"github.com/pkg/errors"
)

const (
	PathLogin          = "/auth/login"
	PathSignup         = "/auth/signup"
	PathChat           = "/api/chat"
	PathConversations  = "/api/conversations"
	PathActivityLog    = "/api/activity-log"
	PathIntegrations   = "/api/integrations/status"
	PathGoogleConnect  = "/api/integrations/google/connect"
	PathHealth         = "/health"
	DefaultGoogleScope = "google"
)

// googleServices are the values the connect endpoint accepts for ?service=.
var googleServices = map[string]struct{}{
	"google":   {},
	"gmail":    {},
	"calendar": {},
	"docs":     {},
	"sheets":   {},
	"drive":    {},
}

// Client exposes the remote service contract as typed calls over the gateway.
type Client struct {
	gw *gateway.Client
}

func NewClient(gw *gateway.Client) *Client {
	return &Client{gw: gw}
}

func (c *Client) Gateway() *gateway.Client {
	return c.gw
}

func (c *Client) Login(ctx context.Context, req LoginRequest) (*User, error) {
	return c.user(ctx, gateway.Request{Method: http.MethodPost, Path: PathLogin, Body: req, Anonymous: true})
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (*User, error) {
	return c.user(ctx, gateway.Request{Method: http.MethodPost, Path: PathSignup, Body: req, Anonymous: true})
}

func (c *Client) UpdateUser(ctx context.Context, userID int64, req UserUpdate) (*User, error) {
	return c.user(ctx, gateway.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("/auth/user/%d", userID),
		Body:   req,
	})
}

func (c *Client) user(ctx context.Context, req gateway.Request) (*User, error) {
	u, err := gateway.Do[User](ctx, c.gw, req).Value()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Chat sends one message. A nil conversation id lets the service decide.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	r, err := gateway.Do[ChatResponse](ctx, c.gw, gateway.Request{
		Method: http.MethodPost,
		Path:   PathChat,
		Body:   req,
	}).Value()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ApproveAction(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return c.action(ctx, "approve", conversationID)
}

func (c *Client) RejectAction(ctx context.Context, conversationID int64) (*ActionResult, error) {
	return c.action(ctx, "reject", conversationID)
}

func (c *Client) action(ctx context.Context, verb string, conversationID int64) (*ActionResult, error) {
	r, err := gateway.Do[ActionResult](ctx, c.gw, gateway.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("%s/%s/%d", PathChat, verb, conversationID),
	}).Value()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) ListConversations(ctx context.Context, userID int64) (*ConversationList, error) {
	l, err := gateway.Do[ConversationList](ctx, c.gw, gateway.Request{
		Path: fmt.Sprintf("%s/%d", PathConversations, userID),
	}).Value()
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (c *Client) CreateConversation(ctx context.Context, req CreateConversationRequest) (*Conversation, error) {
	return c.conversation(ctx, gateway.Request{Method: http.MethodPost, Path: PathConversations, Body: req})
}

func (c *Client) UpdateConversation(ctx context.Context, id int64, req UpdateConversationRequest) (*Conversation, error) {
	return c.conversation(ctx, gateway.Request{
		Method: http.MethodPut,
		Path:   fmt.Sprintf("%s/%d", PathConversations, id),
		Body:   req,
	})
}

func (c *Client) conversation(ctx context.Context, req gateway.Request) (*Conversation, error) {
	conv, err := gateway.Do[Conversation](ctx, c.gw, req).Value()
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation accepts both an empty 204 and a {status} body.
func (c *Client) DeleteConversation(ctx context.Context, id int64) error {
	return gateway.DoOptional[StatusResponse](ctx, c.gw, gateway.Request{
		Method: http.MethodDelete,
		Path:   fmt.Sprintf("%s/%d", PathConversations, id),
	}).Error()
}

func (c *Client) ListMessages(ctx context.Context, conversationID int64) ([]Message, error) {
	msgs, err := gateway.Do[[]Message](ctx, c.gw, gateway.Request{
		Path: fmt.Sprintf("%s/%d/messages", PathConversations, conversationID),
	}).Value()
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// ActivityLog lists the activity entries of one mode, newest first as the service orders them.
func (c *Client) ActivityLog(ctx context.Context, mode string) ([]ActivityEntry, error) {
	req := gateway.Request{Path: PathActivityLog}
	if mode != "" {
		req.Query = url.Values{"mode": {mode}}
	}
	return gateway.Do[[]ActivityEntry](ctx, c.gw, req).Value()
}

func (c *Client) IntegrationStatus(ctx context.Context) ([]IntegrationStatus, error) {
	return gateway.Do[[]IntegrationStatus](ctx, c.gw, gateway.Request{Path: PathIntegrations}).Value()
}

// GoogleConnectURL builds the URL that starts the OAuth consent flow. The
// service answers it with a redirect meant for a browser, so it is never
// followed here.
func (c *Client) GoogleConnectURL(service string) (string, error) {
	if service == "" {
		service = DefaultGoogleScope
	}
	if _, ok := googleServices[service]; !ok {
		return "", errors.Errorf("unknown google service %q (expected one of %v)", service, GoogleServices())
	}
	return c.gw.URL(PathGoogleConnect, url.Values{"service": {service}}), nil
}

func GoogleServices() []string {
	ret := make([]string, 0, len(googleServices))
	for s := range googleServices {
		ret = append(ret, s)
	}
	sort.Strings(ret)
	return ret
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	h, err := gateway.Do[Health](ctx, c.gw, gateway.Request{Path: PathHealth, Anonymous: true}).Value()
	if err != nil {
		return nil, err
	}
	return &h, nil
}
