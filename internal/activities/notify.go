package activities

import "context"

// ApprovalRequestNotice asks an approver to decide on a request.
type ApprovalRequestNotice struct {
	ActivityID    string
	ActivityName  string
	RequesterID   string
	RequesterName string
	ApproverID    string
	ApproverName  string
	ApproverEmail string
	Token         string
}

// StatusChangeNotice tells a member their authorization changed state.
type StatusChangeNotice struct {
	ActivityID       string
	ActivityName     string
	MemberID         string
	MemberName       string
	MemberEmail      string
	ActorID          string
	ActorName        string
	Status           Status
	NextApproverID   string
	NextApproverName string
}

// RetractionNotice tells an approver a request they held was withdrawn.
type RetractionNotice struct {
	ActivityID    string
	ActivityName  string
	RequesterID   string
	RequesterName string
	ApproverID    string
	ApproverName  string
	ApproverEmail string
}

// Notifier delivers workflow notices. Delivery channel is up to the
// implementation.
type Notifier interface {
	SendApprovalRequest(ctx context.Context, n ApprovalRequestNotice) error
	SendStatusChange(ctx context.Context, n StatusChangeNotice) error
	SendRetraction(ctx context.Context, n RetractionNotice) error
}
