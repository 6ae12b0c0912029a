package service

import (
	"docuflow/internal/apperror"
	"docuflow/internal/model"
)

// Action is a workflow operation a user can request on a document.
type Action string

const (
	ActionEdit         Action = "edit"
	ActionSendToReview Action = "send_to_review"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionNewVersion   Action = "new_version"
	ActionRevoke       Action = "revoke"
	ActionDelete       Action = "delete"
)

// transition is one row of the workflow table. Admin is never implied:
// it is allowed only where it is listed in roles.
type transition struct {
	from  []model.DocumentStatus
	roles model.RoleSet
	// owner lets the document's creator act whatever their role.
	owner bool
	// to is empty for Delete, which removes the document.
	to      model.DocumentStatus
	history model.HistoryAction

	deniedMsg string
	// stateKind is returned when the document is not in one of from.
	stateKind apperror.Kind
	stateMsg  string
}

var reviewers = model.NewRoleSet(model.RoleReviewer, model.RoleApprover, model.RoleAdmin)

var workflow = map[Action]transition{
	ActionEdit: {
		from:      []model.DocumentStatus{model.StatusDraft, model.StatusRejected},
		roles:     model.NewRoleSet(model.RoleAdmin),
		owner:     true,
		to:        model.StatusDraft,
		history:   model.HistoryModified,
		deniedMsg: "No tienes permisos para editar este documento.",
		stateKind: apperror.KindForbidden,
		stateMsg:  "Solo se pueden editar documentos en estado Borrador o Rechazado.",
	},
	ActionSendToReview: {
		from:      []model.DocumentStatus{model.StatusDraft},
		roles:     model.NewRoleSet(model.RoleAdmin),
		owner:     true,
		to:        model.StatusInReview,
		history:   model.HistorySentToReview,
		deniedMsg: "Solo el creador puede enviar el documento a revisión.",
		stateKind: apperror.KindIllegalTransition,
		stateMsg:  "Solo se pueden enviar a revisión documentos en estado Borrador.",
	},
	ActionApprove: {
		from:      []model.DocumentStatus{model.StatusInReview},
		roles:     reviewers,
		to:        model.StatusApproved,
		history:   model.HistoryApproved,
		deniedMsg: "No tienes permisos para realizar esta acción.",
		stateKind: apperror.KindIllegalTransition,
		stateMsg:  "Solo se pueden aprobar documentos en revisión.",
	},
	ActionReject: {
		from:      []model.DocumentStatus{model.StatusInReview},
		roles:     reviewers,
		to:        model.StatusRejected,
		history:   model.HistoryRejected,
		deniedMsg: "No tienes permisos para realizar esta acción.",
		stateKind: apperror.KindIllegalTransition,
		stateMsg:  "Solo se pueden rechazar documentos en revisión.",
	},
	ActionNewVersion: {
		from:      []model.DocumentStatus{model.StatusApproved},
		roles:     model.NewRoleSet(model.RoleAdmin),
		owner:     true,
		to:        model.StatusDraft,
		history:   model.HistoryCreated,
		deniedMsg: "No tienes permisos para crear una nueva versión de este documento.",
		stateKind: apperror.KindForbidden,
		stateMsg:  "Solo se puede crear nueva versión de documentos aprobados.",
	},
	ActionRevoke: {
		from:      []model.DocumentStatus{model.StatusApproved},
		roles:     model.NewRoleSet(model.RoleAdmin),
		to:        model.StatusDraft,
		history:   model.HistoryApprovalRevoked,
		deniedMsg: "Solo el administrador puede revocar aprobaciones.",
		stateKind: apperror.KindIllegalTransition,
		stateMsg:  "Solo se pueden revocar documentos aprobados.",
	},
	ActionDelete: {
		from:      []model.DocumentStatus{model.StatusDraft},
		roles:     model.NewRoleSet(model.RoleAdmin),
		owner:     true,
		deniedMsg: "No tienes permisos para eliminar este documento.",
		stateKind: apperror.KindForbidden,
		stateMsg:  "Solo se pueden eliminar documentos en estado Borrador.",
	},
}

// statusActions maps the target status of PATCH /documents/:id/status to an action.
var statusActions = map[model.DocumentStatus]Action{
	model.StatusInReview: ActionSendToReview,
	model.StatusApproved: ActionApprove,
	model.StatusRejected: ActionReject,
}

func (t transition) permits(actor *model.User, doc *model.Document) bool {
	if t.roles.Contains(actor.Role) {
		return true
	}
	return t.owner && doc.IsOwnedBy(actor.ID)
}

func (t transition) acceptsFrom(status model.DocumentStatus) bool {
	for _, s := range t.from {
		if s == status {
			return true
		}
	}
	return false
}

// check validates actor and current state against the table, permission first.
func check(action Action, actor *model.User, doc *model.Document) (transition, error) {
	t, ok := workflow[action]
	if !ok {
		return transition{}, apperror.Newf(apperror.KindIllegalTransition, "acción desconocida %q", action)
	}
	if !t.permits(actor, doc) {
		return t, apperror.Forbidden(t.deniedMsg)
	}
	if !t.acceptsFrom(doc.Status) {
		return t, apperror.New(t.stateKind, t.stateMsg)
	}
	return t, nil
}

// ActionForStatus resolves a requested target status. Unknown strings are a
// validation error; known statuses no action reaches are illegal transitions.
func ActionForStatus(status string) (Action, error) {
	target := model.DocumentStatus(status)
	if !target.Valid() {
		return "", apperror.Validation("Estado inválido.")
	}
	action, ok := statusActions[target]
	if !ok {
		return "", apperror.Newf(apperror.KindIllegalTransition, "no se puede cambiar el estado a %q", status)
	}
	return action, nil
}
