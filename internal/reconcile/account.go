package reconcile

import (
	"log/slog"
	"sync"

	"github.com/habitstack/realtime/internal/model"
	"github.com/habitstack/realtime/internal/session"
)

// Account statuses that force a sign-out when they appear on the
// authenticated user's own row.
func accountDisabled(status string) bool {
	switch status {
	case "suspended", "disabled", "deleted":
		return true
	}
	return false
}

// Account reconciles the accounts collection. Security-critical: a
// transition of the authenticated user's own record into a disabled state
// triggers an immediate forced sign-out before any cache mutation and
// short-circuits normal reconciliation for that event.
type Account struct {
	selfID   func() string
	signOut  session.SignOutFunc
	fallback Strategy
	logger   *slog.Logger

	mu        sync.Mutex
	signedOut bool
}

// NewAccount creates the account strategy. selfID returns the current
// session's user id; signOut is invoked at most once.
func NewAccount(selfID func() string, signOut session.SignOutFunc, fallback Strategy, logger *slog.Logger) *Account {
	if logger == nil {
		logger = slog.Default()
	}
	return &Account{selfID: selfID, signOut: signOut, fallback: fallback, logger: logger}
}

// Reconcile applies one account event.
func (a *Account) Reconcile(ev model.ChangeEvent) error {
	if a.isForcedSignOut(ev) {
		a.mu.Lock()
		fire := !a.signedOut
		a.signedOut = true
		a.mu.Unlock()

		if fire {
			a.logger.Warn("own account disabled, forcing sign-out",
				"id", ev.RowID(),
				"status", ev.After.StringField("status"),
			)
			a.signOut()
		}
		// Short-circuit: no cache mutation for this event.
		return nil
	}
	return a.fallback.Reconcile(ev)
}

func (a *Account) isForcedSignOut(ev model.ChangeEvent) bool {
	if ev.RowID() != a.selfID() || a.selfID() == "" {
		return false
	}
	switch ev.Op {
	case model.OpDelete:
		return true
	case model.OpUpdate:
		return accountDisabled(ev.After.StringField("status"))
	}
	return false
}
