// Package auth creates and destroys REST sessions and logs users in.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"math/rand/v2"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/meszmate/qbsdk/internal/logging"
	"github.com/meszmate/qbsdk/pkg/config"
	"github.com/meszmate/qbsdk/pkg/rest"
)

// ErrNoCredentials is returned when the application credentials are missing
var ErrNoCredentials = errors.New("auth: application credentials are not configured")

// UserParams identifies a user. Either Login or Email is used with Password.
type UserParams struct {
	Login    string `json:"login,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

func (u *UserParams) empty() bool {
	return u == nil || (u.Login == "" && u.Email == "")
}

// User is the account returned by a login
type User struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Service talks to the session and login endpoints
type Service struct {
	proxy *rest.Proxy
	cfg   *config.Config
	log   logging.Prefixed

	now   func() time.Time
	nonce func() int64
}

// New creates a service on top of a proxy
func New(proxy *rest.Proxy) *Service {
	return &Service{
		proxy: proxy,
		cfg:   proxy.Config(),
		log:   logging.Named("QB-Auth"),
		now:   time.Now,
		nonce: func() int64 { return rand.Int64N(10000) },
	}
}

// CreateSession opens a signed session, optionally bound to a user, and
// makes it the proxy's current session
func (s *Service) CreateSession(ctx context.Context, user *UserParams) (*rest.Session, error) {
	creds := s.cfg.Credentials
	if creds.AppID <= 0 || creds.AuthKey == "" || creds.AuthSecret == "" {
		return nil, ErrNoCredentials
	}

	params := map[string]string{
		"application_id": strconv.FormatInt(creds.AppID, 10),
		"auth_key":       creds.AuthKey,
		"nonce":          strconv.FormatInt(s.nonce(), 10),
		"timestamp":      strconv.FormatInt(s.now().Unix(), 10),
	}
	if !user.empty() {
		if user.Login != "" {
			params["user[login]"] = user.Login
		} else {
			params["user[email]"] = user.Email
		}
		params["user[password]"] = user.Password
	}
	params["signature"] = Sign(params, creds.AuthSecret)

	data := make(map[string]any, len(params))
	for k, v := range params {
		data[k] = v
	}

	resp, err := s.proxy.Do(ctx, rest.Params{
		Method: http.MethodPost,
		URL:    s.cfg.APIURL(s.cfg.URLs.Session),
		Data:   data,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		Session rest.Session `json:"session"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	s.proxy.SetSession(&out.Session)
	s.log.Info("session %d created for user %d", out.Session.ID, out.Session.UserID)
	return &out.Session, nil
}

// DestroySession deletes the current session and clears it locally
func (s *Service) DestroySession(ctx context.Context) error {
	_, err := s.proxy.Do(ctx, rest.Params{
		Method: http.MethodDelete,
		URL:    s.cfg.APIURL(s.cfg.URLs.Session),
	})
	if err != nil {
		return err
	}
	s.proxy.SetSession(nil)
	return nil
}

// Login binds the current application session to a user
func (s *Service) Login(ctx context.Context, user UserParams) (*User, error) {
	data := map[string]any{"password": user.Password}
	if user.Login != "" {
		data["login"] = user.Login
	} else {
		data["email"] = user.Email
	}

	resp, err := s.proxy.Do(ctx, rest.Params{
		Method: http.MethodPost,
		URL:    s.cfg.APIURL(s.cfg.URLs.Login),
		Data:   data,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		User User `json:"user"`
	}
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// Logout unbinds the user from the current session
func (s *Service) Logout(ctx context.Context) error {
	_, err := s.proxy.Do(ctx, rest.Params{
		Method: http.MethodDelete,
		URL:    s.cfg.APIURL(s.cfg.URLs.Login),
	})
	return err
}

// Sign computes the hex HMAC-SHA1 of the sorted, unescaped key=value pairs.
// A "signature" key is ignored.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + params[k]
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}
