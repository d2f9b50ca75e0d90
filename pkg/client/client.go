// Package client assembles the session layer: credential tiers, the request
// gateway, the mode selector, the conversation synchronizer, the mode-scoped
// read views and the in-process event bus.
package client

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/velocity/pkg/activity"
	"github.com/go-go-golems/velocity/pkg/api"
	"github.com/go-go-golems/velocity/pkg/conversation"
	"github.com/go-go-golems/velocity/pkg/credentials"
	"github.com/go-go-golems/velocity/pkg/dashboard"
	"github.com/go-go-golems/velocity/pkg/events"
	"github.com/go-go-golems/velocity/pkg/gateway"
	"github.com/go-go-golems/velocity/pkg/kv"
	"github.com/go-go-golems/velocity/pkg/mode"
	"github.com/go-go-golems/velocity/pkg/security"
	"github.com/go-go-golems/velocity/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type eventHandler struct {
	name string
	fn   func(ctx context.Context, ev events.Event) error
}

type options struct {
	handlers      []eventHandler
	gatewayOpts   []gateway.Option
	sessionStore  kv.Store
	verboseEvents bool
	dumpTo        io.Writer
}

type Option func(*options)

// WithEventHandler subscribes fn to every model-change event.
func WithEventHandler(name string, fn func(ctx context.Context, ev events.Event) error) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, eventHandler{name: name, fn: fn})
	}
}

// WithGatewayOptions passes extra options to the request gateway.
func WithGatewayOptions(opts ...gateway.Option) Option {
	return func(o *options) {
		o.gatewayOpts = append(o.gatewayOpts, opts...)
	}
}

// WithSessionStore replaces the in-memory session tier.
func WithSessionStore(store kv.Store) Option {
	return func(o *options) {
		o.sessionStore = store
	}
}

func WithVerboseEvents(verbose bool) Option {
	return func(o *options) {
		o.verboseEvents = verbose
	}
}

// WithEventDump prints every model-change event to w as JSON.
func WithEventDump(w io.Writer) Option {
	return func(o *options) {
		o.dumpTo = w
	}
}

type Client struct {
	Settings      *settings.ClientSettings
	Credentials   *credentials.Store
	Modes         *mode.Context
	Gateway       *gateway.Client
	API           *api.Client
	Conversations *conversation.Synchronizer
	Activity      *activity.Feed
	Dashboard     *dashboard.Dashboard
	Router        *events.EventRouter

	stores    []kv.Store
	cancelRun context.CancelFunc
	runGroup  *errgroup.Group
}

// New opens the stores named in s and starts the event router. The caller
// owns Close.
func New(ctx context.Context, s *settings.ClientSettings, opts ...Option) (*Client, error) {
	if s == nil {
		s = settings.NewClientSettings()
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{Settings: s.Clone()}
	ok := false
	defer func() {
		if !ok {
			_ = c.closeStores()
		}
	}()

	remember, err := kv.Open(s.RememberStore, s.RememberPath)
	if err != nil {
		return nil, errors.Wrap(err, "could not open remember store")
	}
	c.stores = append(c.stores, remember)

	session := o.sessionStore
	if session == nil {
		session = kv.NewInMemoryStore()
	}
	c.stores = append(c.stores, session)

	stateBackend := kv.BackendYAML
	if s.StatePath == "" {
		stateBackend = kv.BackendMemory
	}
	state, err := kv.Open(stateBackend, s.StatePath)
	if err != nil {
		return nil, errors.Wrap(err, "could not open state store")
	}
	c.stores = append(c.stores, state)

	c.Credentials = credentials.NewStore(remember, session)
	c.Modes = mode.New(ctx, state)

	gwOpts := []gateway.Option{
		gateway.WithCredentials(c.Credentials),
		gateway.WithTimeout(s.TimeoutOrDefault()),
		gateway.WithAuthRequired(s.AuthRequired),
		gateway.WithUserAgent(s.UserAgent),
		gateway.WithURLPolicy(security.BaseURLPolicy{
			AllowHTTP:          s.AllowHTTP,
			AllowLocalNetworks: s.AllowLocalNetworks,
		}),
	}
	c.Gateway, err = gateway.NewClient(s.BaseURL, append(gwOpts, o.gatewayOpts...)...)
	if err != nil {
		return nil, err
	}
	c.API = api.NewClient(c.Gateway)

	routerOpts := []events.EventRouterOption{events.WithLogger(events.NewWatermill(log.Logger))}
	if o.verboseEvents {
		routerOpts = append(routerOpts, events.WithVerbose(true))
	}
	if o.dumpTo != nil {
		routerOpts = append(routerOpts, events.WithOutput(o.dumpTo))
	}
	c.Router, err = events.NewEventRouter(routerOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "could not create event router")
	}
	// the router refuses to run without handlers
	c.Router.AddEventHandler("model-log", logEvent)
	if o.dumpTo != nil {
		c.Router.AddHandler("dump", events.TopicModel, c.Router.DumpEvents)
	}
	for _, h := range o.handlers {
		c.Router.AddEventHandler(h.name, h.fn)
	}

	sink := c.Router.Sink()
	c.Conversations = conversation.New(c.API, c.Credentials, c.Modes, conversation.WithSink(sink))
	c.Activity = activity.New(c.API, c.Modes, activity.WithSink(sink))
	c.Dashboard = dashboard.New(c.API, c.Modes, dashboard.WithSink(sink))

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	c.runGroup = &errgroup.Group{}
	c.runGroup.Go(func() error {
		return c.Router.Run(runCtx)
	})
	<-c.Router.Running()

	log.Debug().
		Str("base_url", c.Gateway.BaseURL()).
		Str("mode", c.Modes.Current().String()).
		Str("remember_store", string(s.RememberStore)).
		Msg("Client ready")

	ok = true
	return c, nil
}

func logEvent(_ context.Context, ev events.Event) error {
	log.Debug().
		Str("event_type", string(ev.Type())).
		Str("event_id", ev.Metadata().ID.String()).
		Str("mode", ev.Metadata().Mode).
		Msg("Model changed")
	return nil
}

// Login authenticates and persists the credential, in the remember tier when
// remember is set and in the session tier otherwise.
func (c *Client) Login(ctx context.Context, email, password string, remember bool) (*credentials.Credential, error) {
	u, err := c.API.Login(ctx, api.LoginRequest{
		Email:      strings.TrimSpace(email),
		Password:   password,
		RememberMe: remember,
	})
	if err != nil {
		return nil, err
	}
	return c.persist(ctx, u, "", remember)
}

// Signup registers a new account. When the service answers without a token
// the new account is logged in right away.
func (c *Client) Signup(ctx context.Context, email, password, name string, remember bool) (*credentials.Credential, error) {
	u, err := c.API.Signup(ctx, api.SignupRequest{
		Email:    strings.TrimSpace(email),
		Password: password,
		Name:     strings.TrimSpace(name),
	})
	if err != nil {
		return nil, err
	}
	if u.Token == "" {
		return c.Login(ctx, email, password, remember)
	}
	return c.persist(ctx, u, "", remember)
}

// Logout clears both credential tiers and forgets the conversation model.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.Credentials.Clear(ctx); err != nil {
		return err
	}
	c.Conversations.Reset()
	c.Activity.Invalidate()
	c.Dashboard.Invalidate()
	return nil
}

// UpdateProfile changes the signed-in user's account and refreshes the stored
// credential in the tier it came from.
func (c *Client) UpdateProfile(ctx context.Context, update api.UserUpdate) (*credentials.Credential, error) {
	current, tier, ok := c.Credentials.ResolveTier(ctx)
	if !ok {
		return nil, conversation.ErrNotAuthenticated
	}
	u, err := c.API.UpdateUser(ctx, current.UserID, update)
	if err != nil {
		return nil, err
	}
	return c.persist(ctx, u, current.Token, tier == credentials.TierRemember)
}

// Whoami returns the current credential.
func (c *Client) Whoami(ctx context.Context) (*credentials.Credential, bool) {
	return c.Credentials.Resolve(ctx)
}

func (c *Client) persist(ctx context.Context, u *api.User, fallbackToken string, remember bool) (*credentials.Credential, error) {
	cred := u.Credential(fallbackToken)
	if err := c.Credentials.Persist(ctx, cred, remember); err != nil {
		return nil, err
	}
	return cred, nil
}

// SetMode switches the mode and reloads the conversation list, the active
// conversation, the activity feed and the dashboard concurrently. The loads that ran before
// the switch are already discarded when SetMode starts reloading.
func (c *Client) SetMode(ctx context.Context, m mode.Mode) error {
	if err := c.Modes.Set(ctx, m); err != nil {
		return err
	}
	return c.Reload(ctx)
}

// Reload fetches the conversation list, the active conversation's messages,
// the activity feed and the dashboard.
func (c *Client) Reload(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if _, ok := c.Credentials.Resolve(ctx); ok {
		g.Go(func() error {
			if err := c.Conversations.Refresh(ctx); err != nil {
				return err
			}
			if active := c.Conversations.Active(); active != conversation.DraftID {
				return c.Conversations.LoadMessages(ctx, active)
			}
			return nil
		})
	}
	g.Go(func() error {
		return c.Activity.Load(ctx)
	})
	g.Go(func() error {
		return c.Dashboard.Load(ctx)
	})
	return g.Wait()
}

// Close stops the event router and releases every store. It is safe to call
// more than once.
func (c *Client) Close() error {
	if c.Conversations != nil {
		c.Conversations.Close()
	}
	if c.Activity != nil {
		c.Activity.Close()
	}
	if c.Dashboard != nil {
		c.Dashboard.Close()
	}
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
		if err := c.runGroup.Wait(); err != nil {
			log.Debug().Err(err).Msg("Event router stopped with error")
		}
		_ = c.Router.Close()
	}
	return c.closeStores()
}

func (c *Client) closeStores() error {
	var first error
	for _, s := range c.stores {
		if err := s.Close(); err != nil && !errors.Is(err, kv.ErrStoreClosed) {
			log.Warn().Err(err).Msg("Could not close store")
			if first == nil {
				first = err
			}
		}
	}
	c.stores = nil
	return first
}
