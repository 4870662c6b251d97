package channel

import (
	"context"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// Session identifies one logical client session. It is created once by the
// session bootstrap collaborator before Start, held for the lifetime of
// the Manager, and never mutated.
type Session struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	CreatedAt uint64 `json:"createdAt"`
}

// BootstrapSession calls the collaborator session endpoint once and
// returns the session the Manager should be started with.
func BootstrapSession(ctx context.Context, client *http.Client, url string) (Session, error) {
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return Session{}, errors.Wrap(err, "build session request")
	}

	resp, err := client.Do(req)
	if err != nil {
		return Session{}, errors.Wrap(err, "request session")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Session{}, errors.Errorf("session bootstrap status: %d", resp.StatusCode)
	}

	var session Session
	if err := sonic.ConfigFastest.NewDecoder(resp.Body).Decode(&session); err != nil {
		return Session{}, errors.Wrap(err, "decode session")
	}
	if session.SessionID == "" {
		return Session{}, errors.New("session bootstrap returned empty sessionId")
	}
	return session, nil
}
