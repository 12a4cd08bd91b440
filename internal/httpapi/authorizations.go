package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"kmp.org/internal/activities"
	"kmp.org/internal/audit"
	"kmp.org/internal/auth"
	"kmp.org/internal/ids"
	"kmp.org/internal/obs"
	"kmp.org/internal/stream"
)

var errBodyRequired = errors.New("request body is required")

type requestAuthorizationRequest struct {
	ActivityID string `json:"activity_id"`
	ApproverID string `json:"approver_id"`
	IsRenewal  bool   `json:"is_renewal"`
}

type approveRequest struct {
	NextApproverID string `json:"next_approver_id"`
	Token          string `json:"token"`
}

type denyRequest struct {
	Reason string `json:"reason"`
	Token  string `json:"token"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type listAuthorizationsResponse struct {
	Items []activities.Authorization `json:"items"`
}

type listApprovalsResponse struct {
	Items []activities.PendingApproval `json:"items"`
}

func (a *API) requestAuthorization(w http.ResponseWriter, r *http.Request) {
	actor, ok := actingMember(w, r)
	if !ok {
		return
	}
	var req requestAuthorizationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	created, err := a.svc.Request(r.Context(), activities.RequestInput{
		RequesterID: actor,
		ActivityID:  req.ActivityID,
		ApproverID:  req.ApproverID,
		IsRenewal:   req.IsRenewal,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.record(r, audit.Entry{Event: "authorization.request", ApproverID: req.ApproverID, Renewal: req.IsRenewal}, created)
	w.Header().Set("Location", fmt.Sprintf("/v1/authorizations/%s", created.ID))
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getAuthorization(w http.ResponseWriter, r *http.Request) {
	id, ok := recordID(w, r, "authorization")
	if !ok {
		return
	}
	found, err := a.svc.Authorization(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (a *API) memberAuthorizations(w http.ResponseWriter, r *http.Request) {
	list, err := a.svc.MemberAuthorizations(r.Context(), r.PathValue("id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []activities.Authorization{}
	}
	writeJSON(w, http.StatusOK, listAuthorizationsResponse{Items: list})
}

func (a *API) revokeAuthorization(w http.ResponseWriter, r *http.Request) {
	actor, ok := actingMember(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r, "authorization")
	if !ok {
		return
	}
	var req reasonRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	revoked, err := a.svc.Revoke(r.Context(), activities.RevokeInput{
		AuthorizationID: id,
		RevokerID:       actor,
		Reason:          req.Reason,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.record(r, audit.Entry{Event: "authorization.revoke", Reason: req.Reason}, revoked)
	writeJSON(w, http.StatusOK, revoked)
}

func (a *API) retractAuthorization(w http.ResponseWriter, r *http.Request) {
	actor, ok := actingMember(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r, "authorization")
	if !ok {
		return
	}
	retracted, err := a.svc.Retract(r.Context(), activities.RetractInput{
		AuthorizationID: id,
		RequesterID:     actor,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.record(r, audit.Entry{Event: "authorization.retract"}, retracted)
	writeJSON(w, http.StatusOK, retracted)
}

func (a *API) approve(w http.ResponseWriter, r *http.Request) {
	actor, ok := actingMember(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r, "approval")
	if !ok {
		return
	}
	var req approveRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := a.svc.Approve(r.Context(), activities.ApproveInput{
		ApprovalID:     id,
		ApproverID:     actor,
		NextApproverID: req.NextApproverID,
		Token:          req.Token,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.record(r, audit.Entry{Event: "approval.approve", ApprovalID: id, NextApproverID: req.NextApproverID}, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (a *API) deny(w http.ResponseWriter, r *http.Request) {
	actor, ok := actingMember(w, r)
	if !ok {
		return
	}
	id, ok := recordID(w, r, "approval")
	if !ok {
		return
	}
	var req denyRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	denied, err := a.svc.Deny(r.Context(), activities.DenyInput{
		ApprovalID: id,
		ApproverID: actor,
		Token:      req.Token,
		Reason:     req.Reason,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	a.record(r, audit.Entry{Event: "approval.deny", ApprovalID: id, Reason: req.Reason}, denied)
	writeJSON(w, http.StatusOK, denied)
}

// pendingApprovals lists the caller's own approval queue.
func (a *API) pendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor, ok := actingMember(w, r)
	if !ok {
		return
	}
	if r.PathValue("id") != actor {
		writeError(w, r, http.StatusForbidden, activities.ErrForbidden.Error())
		return
	}
	list, err := a.svc.PendingApprovals(r.Context(), actor)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []activities.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, listApprovalsResponse{Items: list})
}

// approvalByToken resolves the token from an approval request notice.
func (a *API) approvalByToken(w http.ResponseWriter, r *http.Request) {
	if _, ok := actingMember(w, r); !ok {
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	found, err := a.svc.ApprovalByToken(r.Context(), token)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

// record writes the audit entry for a committed change and publishes it to
// live subscribers.
func (a *API) record(r *http.Request, entry audit.Entry, subject activities.Authorization) {
	entry.AuthorizationID = subject.ID
	entry.MemberID = subject.MemberID
	entry.ActivityID = subject.ActivityID
	entry.Status = string(subject.Status)
	if err := audit.Record(r.Context(), entry); err != nil {
		obs.Logger().ErrorContext(r.Context(), "audit record failed", "event", entry.Event, "error", err)
	}

	if a.events != nil {
		actor, _ := auth.MemberIDFromContext(r.Context())
		a.events.Publish(stream.Event{
			Type:            entry.Event,
			AuthorizationID: subject.ID,
			MemberID:        subject.MemberID,
			ActivityID:      subject.ActivityID,
			Status:          subject.Status,
			ActorID:         actor,
		})
	}
}

// recordID returns the {id} path value when it is a well-formed record id and
// answers 404 otherwise.
func recordID(w http.ResponseWriter, r *http.Request, what string) (string, bool) {
	id := r.PathValue("id")
	if !ids.Valid(id) {
		writeError(w, r, http.StatusNotFound, what+" not found")
		return "", false
	}
	return id, true
}

func actingMember(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.MemberIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		return "", false
	}
	return id, true
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, activities.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, activities.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, activities.ErrPrecondition):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, activities.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errBodyRequired
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, dst any) error {
	err := decodeJSON(r, dst)
	if errors.Is(err, errBodyRequired) {
		return nil
	}
	return err
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
