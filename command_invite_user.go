package auth

import (
	"context"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// InviteTokenTTL is how long an invite link stays redeemable.
var InviteTokenTTL = 7 * 24 * time.Hour

type InviteUserMessage struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	OrganizationID string `json:"organization_id"`
	RoleID         string `json:"role_id"`
	ActorID        string `json:"-"`
	OnResponse     func(resp *InviteUserResponse)
}

func (e InviteUserMessage) Type() string { return "user.invite" }

type InviteUserResponse struct {
	User        *User
	InviteToken string
}

// InviteUserHandler creates an inactive member account holding an invite
// token. The account cannot log in until the invite is accepted.
type InviteUserHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
	notifier ResetNotifier
}

func NewInviteUserHandler(repo RepositoryManager) *InviteUserHandler {
	return &InviteUserHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
		notifier: printEmailNotification,
	}
}

func (h *InviteUserHandler) WithActivitySink(sink ActivitySink) *InviteUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *InviteUserHandler) WithLogger(logger Logger) *InviteUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InviteUserHandler) WithNotifier(notifier ResetNotifier) *InviteUserHandler {
	if notifier != nil {
		h.notifier = notifier
	}
	return h
}

func (h *InviteUserHandler) Execute(ctx context.Context, event InviteUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user invite",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InviteUserHandler) execute(ctx context.Context, event InviteUserMessage) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	orgID, err := uuid.Parse(event.OrganizationID)
	if err != nil {
		return goerrors.New("invalid organization id", goerrors.CategoryBadInput).
			WithCode(goerrors.CodeBadRequest)
	}

	email := NormalizeEmail(event.Email)

	if _, err := h.repo.Users().GetByEmail(ctx, email); err == nil {
		return ErrDuplicateUser
	} else if !repository.IsRecordNotFound(err) {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to check for existing user")
	}

	token := uuid.New().String()
	expiresAt := time.Now().Add(InviteTokenTTL)

	user := &User{
		OrganizationID: orgID,
		Email:          email,
		FirstName:      event.FirstName,
		LastName:       event.LastName,
		// No usable credential until the invite is accepted.
		PasswordHash:         RandomPasswordHash(),
		IsActive:             false,
		InviteToken:          token,
		InviteTokenExpiresAt: &expiresAt,
	}

	if event.RoleID != "" {
		roleID, err := uuid.Parse(event.RoleID)
		if err != nil {
			return goerrors.New("invalid role id", goerrors.CategoryBadInput).
				WithCode(goerrors.CodeBadRequest)
		}
		user.RoleID = &roleID
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create invited user")
		}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if errors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "user invite transaction failed")
	}

	go h.notifier(context.WithoutCancel(ctx), user.Email, token)

	h.recordActivity(ctx, ActivityEventUserInvited, event.ActorID, user)

	if event.OnResponse != nil {
		event.OnResponse(&InviteUserResponse{User: user, InviteToken: token})
	}

	return nil
}

func (h *InviteUserHandler) recordActivity(ctx context.Context, eventType ActivityEventType, actorID string, user *User) {
	event := ActivityEvent{
		EventType: eventType,
		Actor: ActorRef{
			ID:   actorID,
			Type: "user",
		},
		UserID:         user.ID.String(),
		OrganizationID: user.OrganizationID.String(),
		Metadata: map[string]any{
			"email": user.Email,
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during user invite: %v", err)
	}
}

type AcceptInviteMessage struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (e AcceptInviteMessage) Type() string { return "user.invite.accept" }

// AcceptInviteHandler redeems an invite token: the account gets its real
// credential, is activated, and the token is consumed.
type AcceptInviteHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

func NewAcceptInviteHandler(repo RepositoryManager) *AcceptInviteHandler {
	return &AcceptInviteHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

func (h *AcceptInviteHandler) WithActivitySink(sink ActivitySink) *AcceptInviteHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

func (h *AcceptInviteHandler) WithLogger(logger Logger) *AcceptInviteHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *AcceptInviteHandler) Execute(ctx context.Context, event AcceptInviteMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during invite acceptance",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *AcceptInviteHandler) execute(ctx context.Context, event AcceptInviteMessage) error {
	user := &User{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var err error

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = h.repo.Users().GetByInviteToken(ctx, event.Token)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrInviteTokenInvalid
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve invite")
		}

		now := time.Now()
		if user.InviteTokenExpiresAt == nil || !now.Before(*user.InviteTokenExpiresAt) {
			return ErrInviteTokenInvalid
		}

		passwordHash, err := HashPassword(event.Password)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
		}

		if err := h.repo.Users().ResetPasswordTx(ctx, tx, user.ID, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to set user password")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if errors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "invite acceptance transaction failed")
	}

	// Consumes the token and activates the account.
	if err := h.repo.Users().ClearInviteToken(ctx, user.ID); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to activate invited user")
	}

	h.recordActivity(ctx, user)

	return nil
}

func (h *AcceptInviteHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventInviteAccepted,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:         user.ID.String(),
		OrganizationID: user.OrganizationID.String(),
		OccurredAt:     time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during invite acceptance: %v", err)
	}
}
