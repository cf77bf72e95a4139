package signals

import (
	"context"
	"log/slog"

	"github.com/StricklySoft/auth-gateway/pkg/directory"
	sserr "github.com/StricklySoft/auth-gateway/pkg/errors"
)

// Handler acts on one kind of event.
type Handler interface {
	// Check rejects events the handler cannot act on. It must not touch the
	// directory.
	Check(ev Event) error

	// Handle performs the event's directory operations and reports whether
	// all of them succeeded.
	Handle(ctx context.Context, ev Event) bool
}

// CredentialChangeHandler signs the user out on a password change, and
// signs them out and replaces their address on an email change.
type CredentialChangeHandler struct {
	dir    directory.Directory
	logger *slog.Logger
}

// NewCredentialChangeHandler returns a handler writing to dir.
func NewCredentialChangeHandler(dir directory.Directory, logger *slog.Logger) *CredentialChangeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialChangeHandler{dir: dir, logger: logger}
}

// Check accepts (update, password) and (update, email) with an address.
func (h *CredentialChangeHandler) Check(ev Event) error {
	switch ev.Change() {
	case ChangePassword:
		return nil
	case ChangeEmail:
		if !ev.HasEmail {
			return sserr.New(sserr.CodeValidationEvent, "signals: email change carries no email address")
		}
		return nil
	default:
		return sserr.Newf(sserr.CodeValidationChangeType,
			"signals: unsupported change %q for credential %q", ev.ChangeType, ev.CredentialType)
	}
}

func (h *CredentialChangeHandler) Handle(ctx context.Context, ev Event) bool {
	log := h.logger.With("user_id", ev.Subject, "jti", ev.ID, "request_type", ev.Change().String())

	switch ev.Change() {
	case ChangePassword:
		res, err := h.dir.ForceGlobalSignOut(ctx, ev.Subject)
		if err != nil || res != directory.ResultApplied {
			log.ErrorContext(ctx, "signals: password change sign-out failed", "result", res.String(), "error", err)
			return false
		}
		log.InfoContext(ctx, "signals: password change processed")
		return true

	case ChangeEmail:
		signedOut, missing := true, false
		res, err := h.dir.ForceGlobalSignOut(ctx, ev.Subject)
		switch {
		case err != nil:
			signedOut = false
			log.ErrorContext(ctx, "signals: email change sign-out failed", "error", err)
		case res == directory.ResultUserNotFound:
			missing = true
			log.WarnContext(ctx, "signals: user not found during sign-out, continuing with email update")
		case res != directory.ResultApplied:
			signedOut = false
			log.ErrorContext(ctx, "signals: email change sign-out not applied", "result", res.String())
		}

		res, err = h.dir.UpdateEmail(ctx, ev.Subject, ev.Email)
		if err == nil && missing && res == directory.ResultUserNotFound {
			// Removed between the existence check and the sign-out.
			log.WarnContext(ctx, "signals: user no longer exists, email change skipped")
			return true
		}
		updated := err == nil && res == directory.ResultApplied
		if !updated {
			log.ErrorContext(ctx, "signals: email update failed", "result", res.String(), "error", err)
		}
		if signedOut && updated {
			log.InfoContext(ctx, "signals: email change processed")
			return true
		}
		return false

	default:
		log.ErrorContext(ctx, "signals: unchecked credential change reached handler")
		return false
	}
}

// AccountPurgeHandler signs the user out and deletes the account.
type AccountPurgeHandler struct {
	dir    directory.Directory
	logger *slog.Logger
}

// NewAccountPurgeHandler returns a handler writing to dir.
func NewAccountPurgeHandler(dir directory.Directory, logger *slog.Logger) *AccountPurgeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountPurgeHandler{dir: dir, logger: logger}
}

// Check accepts every account-purged event.
func (h *AccountPurgeHandler) Check(Event) error { return nil }

// Handle deletes the account only after its sessions were revoked.
func (h *AccountPurgeHandler) Handle(ctx context.Context, ev Event) bool {
	log := h.logger.With("user_id", ev.Subject, "jti", ev.ID, "request_type", "PURGE_ACCOUNT")

	res, err := h.dir.ForceGlobalSignOut(ctx, ev.Subject)
	if err != nil || res != directory.ResultApplied {
		log.ErrorContext(ctx, "signals: account purge sign-out failed", "result", res.String(), "error", err)
		return false
	}
	res, err = h.dir.DeleteUser(ctx, ev.Subject)
	if err != nil || res != directory.ResultApplied {
		log.ErrorContext(ctx, "signals: account purge delete failed", "result", res.String(), "error", err)
		return false
	}
	log.InfoContext(ctx, "signals: account purged")
	return true
}
