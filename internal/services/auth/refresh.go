package auth

import (
	"context"
	"time"

	"github.com/ecan-labs/ecan/internal/models"
)

// startRefreshLoop spawns the background token refresh goroutine. Starting
// while one is already running is a no-op; at most one loop exists per
// manager.
func (m *Manager) startRefreshLoop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.refreshCancel = cancel
	m.refreshDone = done

	go m.refreshLoop(ctx, done)
}

// stopRefreshLoop cancels the loop and waits (bounded) for it to finish.
func (m *Manager) stopRefreshLoop() {
	m.mu.Lock()
	cancel := m.refreshCancel
	done := m.refreshDone
	m.refreshCancel = nil
	m.refreshDone = nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	select {
	case <-done:
	case <-time.After(logoutGrace):
		m.logger.Warn().Msg("Refresh loop did not stop in time")
	}
}

// refreshLoop sleeps for the refresh interval, then trades the refresh token
// for new access/id tokens. Cancellation interrupts the sleep immediately
// and is a normal exit, not an error. A provider rejection signs the session
// out and ends the loop.
func (m *Manager) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer m.clearLoopRef(done)

	// Without a refresh token there is nothing to keep fresh; exit before the
	// first sleep, not after. Reachable when a code exchange returns no
	// refresh token.
	if m.currentRefreshToken() == "" {
		m.logger.Debug().Msg("Refresh loop exiting: no refresh token")
		return
	}

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug().Msg("Refresh loop cancelled")
			return
		case <-time.After(m.refreshInterval):
		}

		refreshToken := m.currentRefreshToken()
		if refreshToken == "" {
			m.logger.Debug().Msg("Refresh loop exiting: no refresh token")
			return
		}

		bundle, err := m.idp.Refresh(ctx, refreshToken)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn().Str("kind", string(models.KindOf(err))).Msg("Token refresh failed; signing out")
			m.mu.Lock()
			m.signedIn = false
			m.mu.Unlock()
			return
		}

		// Replace access/id tokens in place; the refresh token is kept
		// unless the provider rotated it.
		merged := bundle.Merge(models.TokenBundle{RefreshToken: refreshToken})
		m.mu.Lock()
		m.tokens = &merged
		m.mu.Unlock()
		m.logger.Debug().Msg("Tokens refreshed")
	}
}

func (m *Manager) currentRefreshToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens == nil {
		return ""
	}
	return m.tokens.RefreshToken
}

// clearLoopRef drops the manager's reference to this loop unless a newer
// loop has already replaced it.
func (m *Manager) clearLoopRef(done chan struct{}) {
	m.mu.Lock()
	if m.refreshDone == done {
		m.refreshCancel = nil
		m.refreshDone = nil
	}
	m.mu.Unlock()
}
