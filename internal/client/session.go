package client

import (
	"context"
	"sync"
	"time"
)

// SessionState is the lifecycle state of the authenticated session
type SessionState string

const (
	StateLoggedOut     SessionState = "loggedOut"
	StateLoggingIn     SessionState = "loggingIn"
	StateAuthenticated SessionState = "authenticated"
	StateRefreshing    SessionState = "refreshing"
)

// maxParkedRequests bounds how many 401-interrupted requests may wait on a
// single in-flight token refresh. Requests beyond the cap fail with
// ErrRefreshQueueFull instead of queueing without limit.
const maxParkedRequests = 16

// Profile is the user profile returned by a successful login
type Profile struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

type tokenPair struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// session holds tokens and the user profile in memory only; nothing here is
// ever written to disk. It also owns the single-flight refresh protocol:
// the first 401 holder performs the refresh, later ones park in FIFO order.
// After a successful refresh the replay turn passes through the parked
// requests one at a time, in arrival order.
type session struct {
	mu         sync.Mutex
	state      SessionState
	tokens     tokenPair
	user       *Profile
	refreshing bool
	waiters    []chan error
	replayers  []chan error
}

func newSession() *session {
	return &session{state: StateLoggedOut}
}

// State returns the current session state
func (s *session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the logged-in profile, or nil
func (s *session) User() *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *session) accessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAuthenticated && s.state != StateRefreshing {
		return "", false
	}
	return s.tokens.accessToken, s.tokens.accessToken != ""
}

func (s *session) beginLogin() {
	s.mu.Lock()
	s.state = StateLoggingIn
	s.mu.Unlock()
}

func (s *session) setAuthenticated(tokens tokenPair, user *Profile) {
	s.mu.Lock()
	s.state = StateAuthenticated
	s.tokens = tokens
	if user != nil {
		s.user = user
	}
	s.mu.Unlock()
}

// clear drops tokens, profile and state. Parked waiters, if any, are
// released with ErrSessionExpired.
func (s *session) clear() {
	s.mu.Lock()
	s.state = StateLoggedOut
	s.tokens = tokenPair{}
	s.user = nil
	waiters := s.waiters
	replayers := s.replayers
	s.waiters = nil
	s.replayers = nil
	s.refreshing = false
	s.mu.Unlock()

	for _, ch := range waiters {
		ch <- ErrSessionExpired
	}
	for _, ch := range replayers {
		ch <- ErrSessionExpired
	}
}

// awaitRefresh implements the single-flight refresh. The caller that finds
// no refresh in flight becomes the leader and runs refreshFn with the
// current refresh token; everyone else parks. On success the leader holds
// the first replay turn; each parked caller is released with nil one at a
// time, in arrival order, as the previous holder calls replayDone after
// retrying its original request. On failure the session is cleared (forced
// logout) and every caller gets the same terminal error.
func (s *session) awaitRefresh(ctx context.Context, refreshFn func(refreshToken string) (tokenPair, error)) error {
	s.mu.Lock()

	if s.state == StateLoggedOut || s.tokens.refreshToken == "" {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}

	if s.refreshing {
		if len(s.waiters) >= maxParkedRequests {
			s.mu.Unlock()
			return ErrRefreshQueueFull
		}
		ch := make(chan error, 1)
		s.waiters = append(s.waiters, ch)
		s.mu.Unlock()

		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			s.abandon(ch)
			return ctx.Err()
		}
	}

	s.refreshing = true
	s.state = StateRefreshing
	refreshToken := s.tokens.refreshToken
	s.mu.Unlock()

	tokens, err := refreshFn(refreshToken)

	s.mu.Lock()
	s.refreshing = false
	waiters := s.waiters
	s.waiters = nil

	if err != nil {
		// refresh failure is terminal for the session, never retried
		s.state = StateLoggedOut
		s.tokens = tokenPair{}
		s.user = nil
		replayers := s.replayers
		s.replayers = nil
		s.mu.Unlock()

		for _, ch := range waiters {
			ch <- ErrSessionExpired
		}
		for _, ch := range replayers {
			ch <- ErrSessionExpired
		}
		return err
	}

	s.state = StateAuthenticated
	s.tokens = tokens
	// parked callers replay strictly after the leader, in arrival order;
	// each is released by the previous holder's replayDone
	s.replayers = append(s.replayers, waiters...)
	s.mu.Unlock()

	return nil
}

// replayDone passes the replay turn to the next parked caller. Every caller
// that got nil from awaitRefresh must call it once its retried request has
// completed, or the chain stalls.
func (s *session) replayDone() {
	s.mu.Lock()
	if len(s.replayers) == 0 {
		s.mu.Unlock()
		return
	}
	next := s.replayers[0]
	s.replayers = s.replayers[1:]
	s.mu.Unlock()
	next <- nil
}

// abandon removes a parked channel after its caller gave up on ctx. If the
// channel already left both queues a value is in flight on it, so the result
// is consumed here and a granted turn is forwarded rather than dropped.
func (s *session) abandon(ch chan error) {
	s.mu.Lock()
	var removed bool
	s.waiters, removed = removeWaiter(s.waiters, ch)
	if !removed {
		s.replayers, removed = removeWaiter(s.replayers, ch)
	}
	s.mu.Unlock()
	if removed {
		return
	}
	if err := <-ch; err == nil {
		s.replayDone()
	}
}

func removeWaiter(list []chan error, ch chan error) ([]chan error, bool) {
	for i, c := range list {
		if c == ch {
			return append(list[:i], list[i+1:]...), true
		}
	}
	return list, false
}
