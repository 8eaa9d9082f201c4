// Package auth holds the Login-time cryptography (server key pair, verify tokens, session hash)
// and the authentication collaborator that turns a username into a verified profile.
package auth

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRejected means the lookup completed and the player is not who they claim to be.
	ErrRejected = errors.New("auth: rejected")
	// ErrUnavailable means the lookup could not complete (network, timeout, bad response).
	ErrUnavailable = errors.New("auth: unavailable")
)

// Profile is a verified player identity.
type Profile struct {
	ID   uuid.UUID
	Name string
}

// Authenticator verifies a username against the session hash derived during Login. It is called
// once per Login from the connection's own goroutine.
type Authenticator interface {
	Verify(ctx context.Context, username, serverHash string) (Profile, error)
}

// Offline accepts every username and derives a stable id from it.
type Offline struct{}

func (Offline) Verify(_ context.Context, username, _ string) (Profile, error) {
	return Profile{ID: OfflineID(username), Name: username}, nil
}

// OfflineID is the name-based (v3) UUID of "OfflinePlayer:<name>", hashed without a namespace
// so it matches what vanilla clients compute in offline mode.
func OfflineID(username string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + username))
	sum[6] = sum[6]&0x0f | 0x30
	sum[8] = sum[8]&0x3f | 0x80
	return uuid.UUID(sum)
}

// SessionServer asks a remote session service whether the client joined with the hash.
type SessionServer struct {
	BaseURL string
	Client  *http.Client
}

func NewSessionServer(baseURL string, timeout time.Duration) *SessionServer {
	return &SessionServer{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

type hasJoinedResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (s *SessionServer) Verify(ctx context.Context, username, serverHash string) (Profile, error) {
	q := url.Values{}
	q.Set("username", username)
	q.Set("serverId", serverHash)
	u := s.BaseURL + "/session/minecraft/hasJoined?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c := s.Client
	if c == nil {
		c = http.DefaultClient
	}
	resp, err := c.Do(req)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return Profile{}, ErrRejected
	default:
		return Profile{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body hasJoinedResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Profile{}, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	id, err := uuid.Parse(body.ID)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: profile id: %v", ErrUnavailable, err)
	}
	if !strings.EqualFold(body.Name, username) {
		return Profile{}, ErrRejected
	}
	return Profile{ID: id, Name: body.Name}, nil
}
