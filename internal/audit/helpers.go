package audit

import (
	"github.com/google/uuid"
)

// Хелперы-конструкторы событий. Держим словарь формирования событий в одном
// месте, чтобы сервисы не собирали map[string]interface{} руками и не
// расходились в именах полей Detail.

func (r *Recorder) LogAccessDenied(principalID, notebookID, reason string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    principalID,
		Action:   ActionAccessDenied,
		Resource: notebookID,
		Detail:   map[string]interface{}{"reason": reason},
	})
}

func (r *Recorder) LogClearanceGrant(actor, principalID, orgID, label string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionClearanceGrant,
		Resource: principalID,
		Detail:   map[string]interface{}{"org_id": orgID, "max_label": label},
	})
}

func (r *Recorder) LogClearanceRevoke(actor, principalID, orgID string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionClearanceRevoke,
		Resource: principalID,
		Detail:   map[string]interface{}{"org_id": orgID},
	})
}

func (r *Recorder) LogClearanceFlushAll(actor string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionClearanceFlushAll,
		Resource: "clearance-cache",
	})
}

func (r *Recorder) LogSubscriptionCreated(actor, subscriptionID, subscriberID, sourceID string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionSubCreate,
		Resource: subscriptionID,
		Detail: map[string]interface{}{
			"subscriber_notebook_id": subscriberID,
			"source_notebook_id":     sourceID,
		},
	})
}

func (r *Recorder) LogSubscriptionRejected(actor, subscriberID, sourceID, reason string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionSubRejected,
		Resource: subscriberID,
		Detail: map[string]interface{}{
			"source_notebook_id": sourceID,
			"reason":             reason,
		},
	})
}

func (r *Recorder) LogSubscriptionDeleted(actor, subscriptionID string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionSubDelete,
		Resource: subscriptionID,
	})
}

func (r *Recorder) LogSubscriptionSuspended(subscriptionID, reason string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Action:   ActionSubSuspended,
		Resource: subscriptionID,
		Detail:   map[string]interface{}{"reason": reason},
	})
}

func (r *Recorder) LogSyncResult(subscriptionID string, ok bool, detail map[string]interface{}) {
	action := ActionSyncOK
	if !ok {
		action = ActionSyncFailed
	}
	r.Log(Event{
		ID:       uuid.NewString(),
		Action:   action,
		Resource: subscriptionID,
		Detail:   detail,
	})
}

func (r *Recorder) LogExport(actor, notebookID string, since, through int64) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionExport,
		Resource: notebookID,
		Detail:   map[string]interface{}{"since": since, "through": through},
	})
}

func (r *Recorder) LogImport(actor, subscriptionID string, entries int, through int64) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionImport,
		Resource: subscriptionID,
		Origin:   OriginImport,
		Detail:   map[string]interface{}{"entries": entries, "through": through},
	})
}

func (r *Recorder) LogImportRejected(actor, sourceID, reason string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionImportRejected,
		Resource: sourceID,
		Origin:   OriginImport,
		Detail:   map[string]interface{}{"reason": reason},
	})
}

func (r *Recorder) LogLabelChange(actor, notebookID, oldLabel, newLabel string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionLabelChange,
		Resource: notebookID,
		Detail:   map[string]interface{}{"old": oldLabel, "new": newLabel},
	})
}

func (r *Recorder) LogGroupEdgeAdd(actor, parentID, childID string) {
	r.Log(Event{
		ID:       uuid.NewString(),
		Actor:    actor,
		Action:   ActionGroupEdgeAdd,
		Resource: parentID,
		Detail:   map[string]interface{}{"child_group_id": childID},
	})
}
