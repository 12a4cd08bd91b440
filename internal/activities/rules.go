package activities

// RequiredApprovals returns how many accepted approvals an authorization
// needs before it can be granted. Counts below one are treated as one.
func RequiredApprovals(isRenewal bool, activity Activity) int {
	n := activity.NumRequiredAuthorizors
	if isRenewal {
		n = activity.NumRequiredRenewers
	}
	if n < 1 {
		return 1
	}
	return n
}

// NeedsMoreApprovals reports whether the authorization must be forwarded to
// another approver instead of being granted.
func NeedsMoreApprovals(required, accepted int) bool {
	return required > 1 && accepted < required
}

// Decision is the outcome of evaluating an authorization after an approval.
type Decision int

const (
	DecisionForward Decision = iota
	DecisionGrant
)

func (d Decision) String() string {
	switch d {
	case DecisionForward:
		return "forward"
	case DecisionGrant:
		return "grant"
	default:
		return "unknown"
	}
}

// Evaluate combines RequiredApprovals and NeedsMoreApprovals.
func Evaluate(isRenewal bool, activity Activity, accepted int) (Decision, int) {
	required := RequiredApprovals(isRenewal, activity)
	if NeedsMoreApprovals(required, accepted) {
		return DecisionForward, required
	}
	return DecisionGrant, required
}

// nextApprovalCount increments count without exceeding required.
func nextApprovalCount(count, required int) int {
	count++
	if count > required {
		return required
	}
	return count
}

// CanTransition reports whether an authorization may move from one status
// to another through an explicit workflow action.
func CanTransition(from, to Status) bool {
	switch to {
	case StatusPending:
		return from.Open()
	case StatusApproved, StatusRejected, StatusRetracted:
		return from.Open()
	case StatusRevoked:
		return from.Open() || from == StatusApproved
	case StatusExpired:
		return from == StatusApproved
	default:
		return false
	}
}
