package activities

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"kmp.org/internal/ids"
)

const (
	opRequest = "request"
	opApprove = "approve"
	opDeny    = "deny"
	opRevoke  = "revoke"
	opRetract = "retract"
	opExpire  = "expire"
	opRead    = "read"

	retractedReason = "retracted by requester"
)

// Config carries the workflow constants. It is passed in explicitly rather
// than read from global settings.
type Config struct {
	// ExpireBackdate is how far in the past expires_on is set when an
	// authorization is revoked or superseded.
	ExpireBackdate time.Duration `yaml:"expireBackdate" split_words:"true"`
	// RoleEndBackdate is how far in the past a granted role is ended.
	RoleEndBackdate time.Duration `yaml:"roleEndBackdate" split_words:"true"`
	// TokenBytes is the entropy of approval tokens.
	TokenBytes int `yaml:"tokenBytes" split_words:"true"`
}

// DefaultConfig returns the standard workflow constants.
func DefaultConfig() Config {
	return Config{
		ExpireBackdate:  24 * time.Hour,
		RoleEndBackdate: time.Second,
		TokenBytes:      32,
	}
}

// Observer receives the outcome of every operation.
type Observer func(op string, err error, elapsed time.Duration)

// Service orchestrates the authorization request and approval workflow.
type Service struct {
	store    Store
	notifier Notifier
	cfg      Config
	now      func() time.Time
	token    func(n int) (string, error)
	logger   *slog.Logger
	observe  Observer
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithConfig overrides the workflow constants. Zero fields keep defaults.
func WithConfig(cfg Config) ServiceOption {
	return func(s *Service) error {
		if cfg.ExpireBackdate < 0 || cfg.RoleEndBackdate < 0 || cfg.TokenBytes < 0 {
			return errors.New("activities: workflow config values must not be negative")
		}
		if cfg.ExpireBackdate > 0 {
			s.cfg.ExpireBackdate = cfg.ExpireBackdate
		}
		if cfg.RoleEndBackdate > 0 {
			s.cfg.RoleEndBackdate = cfg.RoleEndBackdate
		}
		if cfg.TokenBytes > 0 {
			s.cfg.TokenBytes = cfg.TokenBytes
		}
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithTokenGenerator overrides how approval tokens are produced.
func WithTokenGenerator(fn func(n int) (string, error)) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.token = fn
		}
		return nil
	}
}

// WithLogger sets the logger used for failed operations.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// WithObserver registers a hook called after every operation.
func WithObserver(fn Observer) ServiceOption {
	return func(s *Service) error {
		s.observe = fn
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, notifier Notifier, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("activities: store is required")
	}
	if notifier == nil {
		return nil, errors.New("activities: notifier is required")
	}
	svc := &Service{
		store:    store,
		notifier: notifier,
		cfg:      DefaultConfig(),
		now:      time.Now,
		token:    RandomToken,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// RandomToken returns n bytes of crypto/rand entropy, URL-safe encoded.
func RandomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RequestInput describes a new authorization request.
type RequestInput struct {
	RequesterID string
	ActivityID  string
	ApproverID  string
	IsRenewal   bool
}

// ApproveInput describes an approver accepting a request. ApproverID is
// the acting member; Token is the approval token from the request notice
// and lets a member other than the addressed approver act on it.
type ApproveInput struct {
	ApprovalID     string
	ApproverID     string
	Token          string
	NextApproverID string
}

// DenyInput describes an approver refusing a request.
type DenyInput struct {
	ApprovalID string
	ApproverID string
	Token      string
	Reason     string
}

// PendingApproval is an unanswered approval together with the
// authorization it decides.
type PendingApproval struct {
	AuthorizationApproval
	Authorization Authorization `json:"authorization"`
}

// RevokeInput describes an administrative revocation.
type RevokeInput struct {
	AuthorizationID string
	RevokerID       string
	Reason          string
}

// RetractInput describes a requester withdrawing an open request.
type RetractInput struct {
	AuthorizationID string
	RequesterID     string
}

// Request creates an authorization in status new and asks the approver.
func (s *Service) Request(ctx context.Context, in RequestInput) (Authorization, error) {
	var out Authorization
	if blank(in.RequesterID, in.ActivityID, in.ApproverID) {
		return out, s.finish(opRequest, time.Now(), fail(opRequest, ErrPrecondition, "requester, activity and approver are required"))
	}
	started := time.Now()
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now().UTC()
		activity, err := tx.Activities().Find(ctx, in.ActivityID)
		if err != nil {
			return lookupFailure(opRequest, err, "activity")
		}
		requester, err := tx.Members().Find(ctx, in.RequesterID)
		if err != nil {
			return lookupFailure(opRequest, err, "requester")
		}
		approver, err := tx.Members().Find(ctx, in.ApproverID)
		if err != nil {
			return lookupFailure(opRequest, err, "approver")
		}
		if approver.ID == requester.ID {
			return fail(opRequest, ErrPrecondition, "you cannot approve your own request")
		}

		auths := tx.Authorizations()
		if in.IsRenewal {
			n, err := auths.CountCurrent(ctx, in.RequesterID, in.ActivityID, now)
			if err != nil {
				return classify(opRequest, err, "failed to check existing authorizations")
			}
			if n == 0 {
				return fail(opRequest, ErrPrecondition, "there is no existing authorization to renew")
			}
		}
		n, err := auths.CountOpen(ctx, in.RequesterID, in.ActivityID)
		if err != nil {
			return classify(opRequest, err, "failed to check pending requests")
		}
		if n > 0 {
			return fail(opRequest, ErrPrecondition, "there is already a pending request for this activity")
		}

		auth := Authorization{
			ID:          ids.NewAt(now),
			MemberID:    in.RequesterID,
			ActivityID:  in.ActivityID,
			Status:      StatusNew,
			RequestedOn: now,
			IsRenewal:   in.IsRenewal,
		}
		if err := auths.Create(ctx, &auth); err != nil {
			return classify(opRequest, err, "failed to save authorization")
		}
		approval, err := s.openApproval(ctx, opRequest, tx, auth.ID, approver.ID, now)
		if err != nil {
			return err
		}
		if err := s.notifier.SendApprovalRequest(ctx, ApprovalRequestNotice{
			ActivityID:    activity.ID,
			ActivityName:  activity.Name,
			RequesterID:   requester.ID,
			RequesterName: requester.DisplayName,
			ApproverID:    approver.ID,
			ApproverName:  approver.DisplayName,
			ApproverEmail: approver.Email,
			Token:         approval.AuthorizationToken,
		}); err != nil {
			return notifyFailure(opRequest, err, "failed to send approval request notification")
		}
		out = auth
		return nil
	})
	return out, s.finish(opRequest, started, err)
}

// Approve records an acceptance and either forwards the request to the next
// approver or grants the authorization.
func (s *Service) Approve(ctx context.Context, in ApproveInput) (Authorization, error) {
	var out Authorization
	if blank(in.ApprovalID, in.ApproverID) {
		return out, s.finish(opApprove, time.Now(), fail(opApprove, ErrPrecondition, "approval and approver are required"))
	}
	started := time.Now()
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now().UTC()
		approval, auth, err := s.loadDecision(ctx, opApprove, tx, in.ApprovalID, in.ApproverID, in.Token)
		if err != nil {
			return err
		}
		activity, err := tx.Activities().Find(ctx, auth.ActivityID)
		if err != nil {
			return lookupFailure(opApprove, err, "activity")
		}

		approval.RespondedOn = &now
		approval.Approved = true
		if err := tx.Approvals().Update(ctx, approval); err != nil {
			return classify(opApprove, err, "failed to save authorization approval")
		}

		accepted, err := tx.Approvals().CountAccepted(ctx, auth.ID)
		if err != nil {
			return classify(opApprove, err, "failed to count approvals")
		}
		decision, required := Evaluate(auth.IsRenewal, activity, accepted)
		if decision == DecisionForward {
			out, err = s.forward(ctx, tx, activity, auth, in, required, now)
			return err
		}
		out, err = s.grant(ctx, tx, activity, auth, approval.ApproverID, required, now)
		return err
	})
	return out, s.finish(opApprove, started, err)
}

func (s *Service) forward(ctx context.Context, tx Tx, activity Activity, auth Authorization, in ApproveInput, required int, now time.Time) (Authorization, error) {
	nextID := strings.TrimSpace(in.NextApproverID)
	if nextID == "" {
		return auth, fail(opApprove, ErrPrecondition, "a next approver is required")
	}
	if nextID == auth.MemberID {
		return auth, fail(opApprove, ErrPrecondition, "the requester cannot approve their own authorization")
	}
	next, err := tx.Members().Find(ctx, nextID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return auth, fail(opApprove, ErrPrecondition, "next approver not found")
		}
		return auth, classify(opApprove, err, "failed to load next approver")
	}
	already, err := tx.Approvals().HasAccepted(ctx, auth.ID, next.ID)
	if err != nil {
		return auth, classify(opApprove, err, "failed to check next approver")
	}
	if already {
		return auth, fail(opApprove, ErrPrecondition, "next approver has already approved this authorization")
	}

	auth.Status = StatusPending
	auth.ApprovalCount = nextApprovalCount(auth.ApprovalCount, required)
	if err := tx.Authorizations().Update(ctx, auth); err != nil {
		return auth, classify(opApprove, err, "failed to save authorization")
	}
	approval, err := s.openApproval(ctx, opApprove, tx, auth.ID, next.ID, now)
	if err != nil {
		return auth, err
	}
	requester, err := tx.Members().Find(ctx, auth.MemberID)
	if err != nil {
		return auth, lookupFailure(opApprove, err, "requester")
	}
	if err := s.notifier.SendApprovalRequest(ctx, ApprovalRequestNotice{
		ActivityID:    activity.ID,
		ActivityName:  activity.Name,
		RequesterID:   requester.ID,
		RequesterName: requester.DisplayName,
		ApproverID:    next.ID,
		ApproverName:  next.DisplayName,
		ApproverEmail: next.Email,
		Token:         approval.AuthorizationToken,
	}); err != nil {
		return auth, notifyFailure(opApprove, err, "failed to send approval request notification")
	}
	notice, err := s.statusNotice(ctx, opApprove, tx, activity, auth, in.ApproverID)
	if err != nil {
		return auth, err
	}
	notice.NextApproverID = next.ID
	notice.NextApproverName = next.DisplayName
	if err := s.notifier.SendStatusChange(ctx, notice); err != nil {
		return auth, notifyFailure(opApprove, err, "failed to send authorization status to requester")
	}
	return auth, nil
}

func (s *Service) grant(ctx context.Context, tx Tx, activity Activity, auth Authorization, approverID string, required int, now time.Time) (Authorization, error) {
	if activity.TermYears < 1 {
		return auth, fail(opApprove, ErrPrecondition, "activity has no term length")
	}
	auths := tx.Authorizations()
	if err := auths.LockPair(ctx, auth.MemberID, auth.ActivityID); err != nil {
		return auth, classify(opApprove, err, "failed to lock member authorizations")
	}
	priors, err := auths.ListCurrent(ctx, auth.MemberID, auth.ActivityID, now)
	if err != nil {
		return auth, classify(opApprove, err, "failed to load current authorizations")
	}
	for _, prior := range priors {
		if prior.ID == auth.ID {
			continue
		}
		if err := s.closeWindow(ctx, opApprove, tx, &prior, now); err != nil {
			return auth, err
		}
		if err := auths.Update(ctx, prior); err != nil {
			return auth, classify(opApprove, err, "failed to expire current authorization")
		}
	}

	expires := now.AddDate(activity.TermYears, 0, 0)
	start := now
	auth.Status = StatusApproved
	auth.ApprovalCount = nextApprovalCount(auth.ApprovalCount, required)
	auth.StartOn = &start
	auth.ExpiresOn = &expires
	if activity.GrantsRoleID != "" {
		role := MemberRole{
			ID:         ids.NewAt(now),
			MemberID:   auth.MemberID,
			RoleID:     activity.GrantsRoleID,
			StartOn:    start,
			ExpiresOn:  expires,
			ApproverID: approverID,
			EntityType: EntityTypeAuthorization,
			EntityID:   auth.ID,
		}
		if err := tx.Roles().Grant(ctx, &role); err != nil {
			return auth, classify(opApprove, err, "failed to assign role to member")
		}
		auth.GrantedMemberRole = role.ID
	}
	if err := auths.Update(ctx, auth); err != nil {
		return auth, classify(opApprove, err, "failed to save authorization")
	}

	notice, err := s.statusNotice(ctx, opApprove, tx, activity, auth, approverID)
	if err != nil {
		return auth, err
	}
	if err := s.notifier.SendStatusChange(ctx, notice); err != nil {
		return auth, notifyFailure(opApprove, err, "failed to send authorization status to requester")
	}
	return auth, nil
}

// Deny records a refusal and rejects the authorization.
func (s *Service) Deny(ctx context.Context, in DenyInput) (Authorization, error) {
	var out Authorization
	if blank(in.ApprovalID, in.ApproverID) {
		return out, s.finish(opDeny, time.Now(), fail(opDeny, ErrPrecondition, "approval and approver are required"))
	}
	started := time.Now()
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now().UTC()
		approval, auth, err := s.loadDecision(ctx, opDeny, tx, in.ApprovalID, in.ApproverID, in.Token)
		if err != nil {
			return err
		}
		activity, err := tx.Activities().Find(ctx, auth.ActivityID)
		if err != nil {
			return lookupFailure(opDeny, err, "activity")
		}

		approval.RespondedOn = &now
		approval.Approved = false
		approval.ApproverNotes = in.Reason
		if err := tx.Approvals().Update(ctx, approval); err != nil {
			return classify(opDeny, err, "failed to save authorization approval")
		}
		auth.Status = StatusRejected
		if err := tx.Authorizations().Update(ctx, auth); err != nil {
			return classify(opDeny, err, "failed to save authorization")
		}

		notice, err := s.statusNotice(ctx, opDeny, tx, activity, auth, in.ApproverID)
		if err != nil {
			return err
		}
		if err := s.notifier.SendStatusChange(ctx, notice); err != nil {
			return notifyFailure(opDeny, err, "failed to send authorization status to requester")
		}
		out = auth
		return nil
	})
	return out, s.finish(opDeny, started, err)
}

// Revoke ends an authorization and any role it granted.
func (s *Service) Revoke(ctx context.Context, in RevokeInput) (Authorization, error) {
	var out Authorization
	if blank(in.AuthorizationID, in.RevokerID) {
		return out, s.finish(opRevoke, time.Now(), fail(opRevoke, ErrPrecondition, "authorization and revoker are required"))
	}
	started := time.Now()
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now().UTC()
		auth, err := tx.Authorizations().Find(ctx, in.AuthorizationID)
		if err != nil {
			return lookupFailure(opRevoke, err, "authorization")
		}
		if status := auth.EffectiveStatus(now); !CanTransition(status, StatusRevoked) {
			return fail(opRevoke, ErrPrecondition, fmt.Sprintf("authorization cannot be revoked from status %s", status))
		}
		activity, err := tx.Activities().Find(ctx, auth.ActivityID)
		if err != nil {
			return lookupFailure(opRevoke, err, "activity")
		}

		if err := s.closeWindow(ctx, opRevoke, tx, &auth, now); err != nil {
			return err
		}
		auth.Status = StatusRevoked
		auth.RevokerID = in.RevokerID
		auth.RevokedReason = in.Reason
		if err := tx.Authorizations().Update(ctx, auth); err != nil {
			return classify(opRevoke, err, "failed to save authorization")
		}

		notice, err := s.statusNotice(ctx, opRevoke, tx, activity, auth, in.RevokerID)
		if err != nil {
			return err
		}
		if err := s.notifier.SendStatusChange(ctx, notice); err != nil {
			return notifyFailure(opRevoke, err, "failed to send authorization status to requester")
		}
		out = auth
		return nil
	})
	return out, s.finish(opRevoke, started, err)
}

// Retract lets a requester withdraw an authorization that is still waiting
// on approvers. Approvers holding an open approval are told afterwards; a
// failed retraction notice does not undo the retraction.
func (s *Service) Retract(ctx context.Context, in RetractInput) (Authorization, error) {
	var (
		out     Authorization
		notices []RetractionNotice
	)
	if blank(in.AuthorizationID, in.RequesterID) {
		return out, s.finish(opRetract, time.Now(), fail(opRetract, ErrPrecondition, "authorization and requester are required"))
	}
	started := time.Now()
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		notices = notices[:0]
		now := s.now().UTC()
		auth, err := tx.Authorizations().Find(ctx, in.AuthorizationID)
		if err != nil {
			return lookupFailure(opRetract, err, "authorization")
		}
		if auth.MemberID != in.RequesterID {
			return fail(opRetract, ErrPrecondition, "you can only retract your own authorization requests")
		}
		if !CanTransition(auth.Status, StatusRetracted) {
			return fail(opRetract, ErrPrecondition, "only pending authorizations can be retracted")
		}
		activity, err := tx.Activities().Find(ctx, auth.ActivityID)
		if err != nil {
			return lookupFailure(opRetract, err, "activity")
		}
		requester, err := tx.Members().Find(ctx, auth.MemberID)
		if err != nil {
			return lookupFailure(opRetract, err, "requester")
		}

		auth.Status = StatusRetracted
		auth.RevokerID = in.RequesterID
		auth.RevokedReason = retractedReason
		if err := tx.Authorizations().Update(ctx, auth); err != nil {
			return classify(opRetract, err, "failed to retract authorization")
		}

		open, err := tx.Approvals().ListOpen(ctx, auth.ID)
		if err != nil {
			return classify(opRetract, err, "failed to load pending approvals")
		}
		for _, approval := range open {
			approval.RespondedOn = &now
			approval.Approved = false
			approval.ApproverNotes = retractedReason
			if err := tx.Approvals().Update(ctx, approval); err != nil {
				return classify(opRetract, err, "failed to close pending approval")
			}
			if approval.ApproverID == "" {
				continue
			}
			notice := RetractionNotice{
				ActivityID:    activity.ID,
				ActivityName:  activity.Name,
				RequesterID:   requester.ID,
				RequesterName: requester.DisplayName,
				ApproverID:    approval.ApproverID,
			}
			if approver, err := tx.Members().Find(ctx, approval.ApproverID); err == nil {
				notice.ApproverName = approver.DisplayName
				notice.ApproverEmail = approver.Email
			}
			notices = append(notices, notice)
		}
		out = auth
		return nil
	})
	if err == nil {
		for _, n := range notices {
			if nerr := s.notifier.SendRetraction(ctx, n); nerr != nil {
				s.logger.Warn("retraction notice failed",
					"event", "authorization_retraction_notice_failed",
					"authorization_id", out.ID,
					"approver_id", n.ApproverID,
					"error", nerr.Error(),
				)
			}
		}
	}
	return out, s.finish(opRetract, started, err)
}

// ExpireLapsed persists StatusExpired on approved authorizations whose
// window has closed.
func (s *Service) ExpireLapsed(ctx context.Context) (int, error) {
	var n int
	started := time.Now()
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		n, err = tx.Authorizations().ExpireLapsed(ctx, s.now().UTC())
		if err != nil {
			return classify(opExpire, err, "failed to expire authorizations")
		}
		return nil
	})
	return n, s.finish(opExpire, started, err)
}

// Authorization loads one authorization with its effective status.
func (s *Service) Authorization(ctx context.Context, id string) (Authorization, error) {
	var out Authorization
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		auth, err := tx.Authorizations().Get(ctx, id)
		if err != nil {
			return lookupFailure(opRead, err, "authorization")
		}
		auth.Status = auth.EffectiveStatus(s.now())
		out = auth
		return nil
	})
	if err != nil {
		return Authorization{}, classify(opRead, err, "failed to load authorization")
	}
	return out, nil
}

// MemberAuthorizations lists a member's authorizations with effective status.
func (s *Service) MemberAuthorizations(ctx context.Context, memberID string) ([]Authorization, error) {
	var out []Authorization
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		list, err := tx.Authorizations().ListByMember(ctx, memberID)
		if err != nil {
			return classify(opRead, err, "failed to list authorizations")
		}
		now := s.now()
		for i := range list {
			list[i].Status = list[i].EffectiveStatus(now)
		}
		out = list
		return nil
	})
	if err != nil {
		return nil, classify(opRead, err, "failed to list authorizations")
	}
	return out, nil
}

// PendingApprovals lists the unanswered approvals addressed to approverID
// whose authorization is still waiting on approvers.
func (s *Service) PendingApprovals(ctx context.Context, approverID string) ([]PendingApproval, error) {
	var out []PendingApproval
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		out = out[:0]
		list, err := tx.Approvals().ListPendingFor(ctx, approverID)
		if err != nil {
			return classify(opRead, err, "failed to list approvals")
		}
		now := s.now()
		for _, approval := range list {
			auth, err := tx.Authorizations().Get(ctx, approval.AuthorizationID)
			if err != nil {
				return lookupFailure(opRead, err, "authorization")
			}
			if !auth.Status.Open() {
				continue
			}
			auth.Status = auth.EffectiveStatus(now)
			out = append(out, PendingApproval{AuthorizationApproval: approval, Authorization: auth})
		}
		return nil
	})
	if err != nil {
		return nil, classify(opRead, err, "failed to list approvals")
	}
	return out, nil
}

// ApprovalByToken resolves the token sent in an approval request notice.
func (s *Service) ApprovalByToken(ctx context.Context, token string) (PendingApproval, error) {
	var out PendingApproval
	if blank(token) {
		return out, fail(opRead, ErrNotFound, "approval not found")
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		approval, err := tx.Approvals().FindByToken(ctx, token)
		if err != nil {
			return lookupFailure(opRead, err, "approval")
		}
		auth, err := tx.Authorizations().Get(ctx, approval.AuthorizationID)
		if err != nil {
			return lookupFailure(opRead, err, "authorization")
		}
		auth.Status = auth.EffectiveStatus(s.now())
		out = PendingApproval{AuthorizationApproval: approval, Authorization: auth}
		return nil
	})
	if err != nil {
		return PendingApproval{}, classify(opRead, err, "failed to load approval")
	}
	return out, nil
}

// loadDecision loads an unanswered approval and its open authorization and
// checks that actorID may answer it.
func (s *Service) loadDecision(ctx context.Context, op string, tx Tx, approvalID, actorID, token string) (AuthorizationApproval, Authorization, error) {
	approval, err := tx.Approvals().Find(ctx, approvalID)
	if err != nil {
		return approval, Authorization{}, lookupFailure(op, err, "approval")
	}
	auth, err := tx.Authorizations().Find(ctx, approval.AuthorizationID)
	if err != nil {
		return approval, auth, lookupFailure(op, err, "authorization")
	}
	if err := mayDecide(op, approval, auth, actorID, token); err != nil {
		return approval, auth, err
	}
	if approval.Responded() {
		return approval, auth, fail(op, ErrPrecondition, "approval has already been answered")
	}
	if !auth.Status.Open() {
		return approval, auth, fail(op, ErrPrecondition, fmt.Sprintf("authorization is %s, not awaiting approval", auth.Status))
	}
	return approval, auth, nil
}

func (s *Service) openApproval(ctx context.Context, op string, tx Tx, authorizationID, approverID string, now time.Time) (AuthorizationApproval, error) {
	token, err := s.token(s.cfg.TokenBytes)
	if err != nil {
		return AuthorizationApproval{}, classify(op, err, "failed to generate approval token")
	}
	approval := AuthorizationApproval{
		ID:                 ids.NewAt(now),
		AuthorizationID:    authorizationID,
		ApproverID:         approverID,
		AuthorizationToken: token,
		RequestedOn:        now,
	}
	if err := tx.Approvals().Create(ctx, &approval); err != nil {
		return approval, classify(op, err, "failed to save authorization approval")
	}
	return approval, nil
}

// mayDecide allows the addressed approver, or anyone presenting the
// approval's token, to answer it. The requester never may.
func mayDecide(op string, approval AuthorizationApproval, auth Authorization, actorID, token string) error {
	if actorID == auth.MemberID {
		return fail(op, ErrForbidden, "you cannot decide your own authorization request")
	}
	if actorID == approval.ApproverID {
		return nil
	}
	if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(approval.AuthorizationToken)) == 1 {
		return nil
	}
	return fail(op, ErrForbidden, "approval is addressed to another approver")
}

// closeWindow backdates expires_on and ends the granted role, if any. A
// window that already closed earlier is left as it is.
func (s *Service) closeWindow(ctx context.Context, op string, tx Tx, auth *Authorization, now time.Time) error {
	expires := now.Add(-s.cfg.ExpireBackdate)
	if auth.ExpiresOn == nil || expires.Before(*auth.ExpiresOn) {
		auth.ExpiresOn = &expires
	}
	if auth.GrantedMemberRole == "" {
		return nil
	}
	if err := tx.Roles().End(ctx, auth.GrantedMemberRole, now.Add(-s.cfg.RoleEndBackdate)); err != nil {
		return classify(op, err, "failed to remove role from member")
	}
	auth.GrantedMemberRole = ""
	return nil
}

func (s *Service) statusNotice(ctx context.Context, op string, tx Tx, activity Activity, auth Authorization, actorID string) (StatusChangeNotice, error) {
	member, err := tx.Members().Find(ctx, auth.MemberID)
	if err != nil {
		return StatusChangeNotice{}, lookupFailure(op, err, "member")
	}
	notice := StatusChangeNotice{
		ActivityID:   activity.ID,
		ActivityName: activity.Name,
		MemberID:     member.ID,
		MemberName:   member.DisplayName,
		MemberEmail:  member.Email,
		ActorID:      actorID,
		Status:       auth.Status,
	}
	if actor, err := tx.Members().Find(ctx, actorID); err == nil {
		notice.ActorName = actor.DisplayName
	} else if !errors.Is(err, ErrNotFound) {
		return notice, classify(op, err, "failed to load actor")
	}
	return notice, nil
}

// finish classifies, logs and observes the outcome of an operation.
func (s *Service) finish(op string, started time.Time, err error) error {
	var werr *Error
	if err != nil {
		werr = classify(op, err, "transaction failed")
		attrs := []any{
			"event", "authorization_operation_failed",
			"op", op,
			"kind", werr.Kind.Error(),
			"reason", werr.Reason,
		}
		if werr.cause != nil {
			attrs = append(attrs, "error", werr.cause.Error())
		}
		if errors.Is(werr, ErrPrecondition) || errors.Is(werr, ErrNotFound) || errors.Is(werr, ErrForbidden) {
			s.logger.Info("authorization operation refused", attrs...)
		} else {
			s.logger.Error("authorization operation failed", attrs...)
		}
	}
	if s.observe != nil {
		if werr != nil {
			s.observe(op, werr, time.Since(started))
		} else {
			s.observe(op, nil, time.Since(started))
		}
	}
	if werr != nil {
		return werr
	}
	return nil
}

func lookupFailure(op string, err error, what string) error {
	if errors.Is(err, ErrNotFound) {
		return fail(op, ErrNotFound, what+" not found")
	}
	return classify(op, err, "failed to load "+what)
}

func notifyFailure(op string, err error, reason string) error {
	return &Error{Op: op, Kind: ErrNotification, Reason: reason, cause: err}
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
