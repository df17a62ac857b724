// Package quickblox wires the SDK services together: the REST proxy with
// its session-expiry policy, authentication, custom objects and chat.
package quickblox

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/internal/storage/sqlite"
	"github.com/meszmate/qbsdk/pkg/auth"
	"github.com/meszmate/qbsdk/pkg/chat"
	"github.com/meszmate/qbsdk/pkg/config"
	"github.com/meszmate/qbsdk/pkg/data"
	"github.com/meszmate/qbsdk/pkg/rest"
	"github.com/meszmate/qbsdk/pkg/transport"
)

type options struct {
	transport  transport.Transport
	httpClient *http.Client
	onExpired  rest.SessionExpiredFunc
}

// Option configures a Client
type Option func(*options)

// WithTransport replaces the chat transport
func WithTransport(t transport.Transport) Option {
	return func(o *options) {
		o.transport = t
	}
}

// WithHTTPClient replaces the REST HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithSessionExpired installs an application session-expiry policy in
// place of automatic renewal
func WithSessionExpired(fn rest.SessionExpiredFunc) Option {
	return func(o *options) {
		o.onExpired = fn
	}
}

// Client is the SDK entry point
type Client struct {
	cfg *config.Config
	log logging.Prefixed

	REST *rest.Proxy
	Auth *auth.Service
	Data *data.Service
	Chat *chat.Client

	store     *sqlite.DB
	onExpired rest.SessionExpiredFunc
	renew     singleflight.Group

	mu       sync.Mutex
	lastUser *auth.UserParams
	created  bool
}

// New creates a client. A nil cfg selects the defaults.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		cfg:       cfg,
		log:       logging.Named("QB"),
		onExpired: o.onExpired,
	}

	if cfg.Storage.RosterCache {
		dir := cfg.Storage.DataDir
		if dir == "" {
			paths, err := config.GetPaths()
			if err != nil {
				return nil, err
			}
			dir = paths.DataDir
		}
		store, err := sqlite.New(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		c.store = store
	}

	var restOpts []rest.Option
	if o.httpClient != nil {
		restOpts = append(restOpts, rest.WithHTTPClient(o.httpClient))
	}
	restOpts = append(restOpts, rest.WithSessionExpired(c.sessionExpired))
	c.REST = rest.New(cfg, restOpts...)
	c.Auth = auth.New(c.REST)
	c.Data = data.New(c.REST)

	var chatOpts []chat.Option
	if c.store != nil {
		chatOpts = append(chatOpts, chat.WithRosterCache(c.store))
	}
	c.Chat = chat.New(cfg, o.transport, chatOpts...)

	return c, nil
}

// Config returns the client configuration
func (c *Client) Config() *config.Config {
	return c.cfg
}

// Store returns the local storage, nil unless the roster cache is enabled
func (c *Client) Store() *sqlite.DB {
	return c.store
}

// CreateSession opens a REST session. The user is remembered so an expired
// session can be renewed without the application's help.
func (c *Client) CreateSession(ctx context.Context, user *auth.UserParams) (*rest.Session, error) {
	sess, err := c.Auth.CreateSession(ctx, user)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if user != nil {
		u := *user
		c.lastUser = &u
	} else {
		c.lastUser = nil
	}
	c.created = true
	account := c.account()
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveSession(sqlite.Session{Account: account, Token: sess.Token, UserID: sess.UserID}); err != nil {
			c.log.Warn("failed to cache session: %v", err)
		}
	}
	return sess, nil
}

// RestoreSession reuses a cached session token for a user. It reports false
// when nothing was cached.
func (c *Client) RestoreSession(user *auth.UserParams) (bool, error) {
	if c.store == nil {
		return false, nil
	}

	c.mu.Lock()
	if user != nil {
		u := *user
		c.lastUser = &u
	}
	account := c.account()
	c.mu.Unlock()

	cached, err := c.store.GetSession(account)
	if err != nil || cached == nil {
		return false, err
	}

	c.REST.SetSession(&rest.Session{
		ApplicationID: c.cfg.Credentials.AppID,
		Token:         cached.Token,
		UserID:        cached.UserID,
	})
	c.mu.Lock()
	c.created = true
	c.mu.Unlock()
	return true, nil
}

// DestroySession closes the REST session and forgets it
func (c *Client) DestroySession(ctx context.Context) error {
	if err := c.Auth.DestroySession(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	account := c.account()
	c.created = false
	c.lastUser = nil
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.DeleteSession(account); err != nil {
			c.log.Warn("failed to drop cached session: %v", err)
		}
	}
	return nil
}

// ConnectChat connects to chat with the current REST session. Missing
// user id and password are taken from the session.
func (c *Client) ConnectChat(ctx context.Context, params chat.ConnectParams, cb chat.ConnectCallback) error {
	if sess := c.REST.Session(); sess != nil {
		if params.UserID == 0 && params.JID == "" {
			params.UserID = sess.UserID
		}
		if params.Password == "" {
			params.Password = sess.Token
		}
	}
	return c.Chat.Connect(ctx, params, cb)
}

// Close disconnects chat and releases local storage
func (c *Client) Close() error {
	if c.Chat.State() != chat.StateDisconnected {
		if err := c.Chat.Disconnect(); err != nil {
			c.log.Debug("chat disconnect: %v", err)
		}
	}
	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// account keys the cached session. Callers hold c.mu.
func (c *Client) account() string {
	key := strconv.FormatInt(c.cfg.Credentials.AppID, 10)
	if c.lastUser != nil {
		if c.lastUser.Login != "" {
			return key + ":" + c.lastUser.Login
		}
		return key + ":" + c.lastUser.Email
	}
	return key
}

// sessionExpired is the proxy's expiry policy. Without an application
// policy, the last session is recreated once and concurrent expiries share
// the renewal.
func (c *Client) sessionExpired(ctx context.Context, err error, retry rest.RetryFunc) (*rest.Response, error) {
	if c.onExpired != nil {
		return c.onExpired(ctx, err, retry)
	}

	c.mu.Lock()
	known := c.created
	var user *auth.UserParams
	if c.lastUser != nil {
		u := *c.lastUser
		user = &u
	}
	c.mu.Unlock()

	if !known {
		return nil, err
	}

	v, renewErr, _ := c.renew.Do("session", func() (any, error) {
		return c.CreateSession(ctx, user)
	})
	if renewErr != nil {
		c.log.Warn("session renewal failed: %v", renewErr)
		return nil, err
	}
	c.log.Info("session renewed")
	return retry(ctx, v.(*rest.Session))
}
