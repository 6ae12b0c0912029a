package service

import (
	"bytes"
	"sync"
	"testing"

	"docuflow/internal/apperror"
	"docuflow/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentLifecycle(t *testing.T) {
	env := newTestEnv(t)

	doc := env.draft(t, "MAN-001")
	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Equal(t, "1.0", doc.Version)
	assert.Equal(t, env.creator.ID, doc.CreatedBy)
	assert.Equal(t, env.creator.FullName, doc.CreatorName)
	assert.True(t, env.fileExists(t, doc.FilePath))
	firstFile := *doc.FilePath

	doc, err := env.workflow.SendToReview(env.ctx, env.creator, doc.ID, "listo")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInReview, doc.Status)

	for _, u := range []*model.User{env.reviewer, env.approver, env.admin} {
		items := env.inbox(t, u.ID)
		require.Len(t, items, 1, u.Username)
		assert.Equal(t, model.NotificationDocumentAssigned, items[0].Type)
		assert.Equal(t, "MAN-001", items[0].DocumentCode)
		assert.Equal(t, 1, env.pusher.count(u.ID))
	}
	assert.Empty(t, env.inbox(t, env.creator.ID))
	assert.Empty(t, env.inbox(t, env.other.ID))

	doc, err = env.workflow.Approve(env.ctx, env.approver, doc.ID, "conforme")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, doc.Status)
	require.NotNil(t, doc.ReviewedBy)
	require.NotNil(t, doc.ApprovedBy)
	assert.Equal(t, env.approver.ID, *doc.ReviewedBy)
	assert.Equal(t, env.approver.ID, *doc.ApprovedBy)
	assert.Equal(t, env.approver.FullName, doc.ApproverName)

	items := env.inbox(t, env.creator.ID)
	require.Len(t, items, 1)
	assert.Equal(t, model.NotificationDocumentApproved, items[0].Type)
	assert.Contains(t, items[0].Message, "\"Manual de MAN-001\"")

	doc, err = env.workflow.NewVersion(env.ctx, env.creator, doc.ID, pdfUpload("v2.pdf"), "ajustes")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Equal(t, "1.1", doc.Version)
	assert.Nil(t, doc.ReviewedBy)
	assert.Nil(t, doc.ApprovedBy)
	require.NotNil(t, doc.FilePath)
	assert.NotEqual(t, firstFile, *doc.FilePath)
	assert.True(t, env.fileExists(t, doc.FilePath))
	assert.True(t, env.fileExists(t, &firstFile), "earlier versions stay referenced by the ledger")

	entries := env.historyOf(t, doc.ID)
	assert.ElementsMatch(t, []model.HistoryAction{
		model.HistoryCreated,
		model.HistorySentToReview,
		model.HistoryApproved,
		model.HistoryCreated,
	}, actionsOf(entries))

	var versioned *HistoryEntryResponse
	for i := range entries {
		if entries[i].Version == "1.1" {
			versioned = &entries[i]
		}
	}
	require.NotNil(t, versioned)
	assert.Equal(t, "Nueva versión 1.1 creada: ajustes", versioned.Comments)
	assert.Equal(t, env.creator.FullName, versioned.UserName)
}

func TestWorkflowRejectsUnauthorizedOrIllegalTransitions(t *testing.T) {
	type step func(t *testing.T, env *testEnv) *DocumentResponse

	draft := func(t *testing.T, env *testEnv) *DocumentResponse { return env.draft(t, "DOC-1") }
	review := func(t *testing.T, env *testEnv) *DocumentResponse { return env.inReview(t, "DOC-1") }
	approved := func(t *testing.T, env *testEnv) *DocumentResponse { return env.approved(t, "DOC-1") }

	tests := []struct {
		name  string
		setup step
		run   func(env *testEnv, id uuid.UUID) error
		want  apperror.Kind
	}{
		{
			name:  "another creator cannot send to review",
			setup: draft,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.SendToReview(env.ctx, env.other, id, "")
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "reviewer cannot send to review",
			setup: draft,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.SendToReview(env.ctx, env.reviewer, id, "")
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "document already in review cannot be sent again",
			setup: review,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.SendToReview(env.ctx, env.creator, id, "")
				return err
			},
			want: apperror.KindIllegalTransition,
		},
		{
			name:  "creator cannot approve",
			setup: review,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.Approve(env.ctx, env.creator, id, "")
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "draft cannot be approved",
			setup: draft,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.Approve(env.ctx, env.reviewer, id, "")
				return err
			},
			want: apperror.KindIllegalTransition,
		},
		{
			name:  "creator cannot reject",
			setup: review,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.Reject(env.ctx, env.creator, id, "")
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "approved document cannot be rejected",
			setup: approved,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.Reject(env.ctx, env.approver, id, "")
				return err
			},
			want: apperror.KindIllegalTransition,
		},
		{
			name:  "another creator cannot edit",
			setup: draft,
			run: func(env *testEnv, id uuid.UUID) error {
				title := "otro"
				_, err := env.workflow.Edit(env.ctx, env.other, id, EditDocumentRequest{Title: &title}, nil)
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "document in review cannot be edited",
			setup: review,
			run: func(env *testEnv, id uuid.UUID) error {
				title := "otro"
				_, err := env.workflow.Edit(env.ctx, env.creator, id, EditDocumentRequest{Title: &title}, nil)
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "approved document cannot be edited",
			setup: approved,
			run: func(env *testEnv, id uuid.UUID) error {
				title := "otro"
				_, err := env.workflow.Edit(env.ctx, env.creator, id, EditDocumentRequest{Title: &title}, nil)
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "new version requires an approved document",
			setup: draft,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.NewVersion(env.ctx, env.creator, id, pdfUpload("v.pdf"), "")
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "reviewer cannot start a new version",
			setup: approved,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.NewVersion(env.ctx, env.reviewer, id, pdfUpload("v.pdf"), "")
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "new version needs a file",
			setup: approved,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.NewVersion(env.ctx, env.creator, id, nil, "")
				return err
			},
			want: apperror.KindValidation,
		},
		{
			name:  "approver cannot revoke",
			setup: approved,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.Revoke(env.ctx, env.approver, id, "motivo")
				return err
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "only approved documents can be revoked",
			setup: draft,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.Revoke(env.ctx, env.admin, id, "motivo")
				return err
			},
			want: apperror.KindIllegalTransition,
		},
		{
			name:  "revoke needs a reason",
			setup: approved,
			run: func(env *testEnv, id uuid.UUID) error {
				_, err := env.workflow.Revoke(env.ctx, env.admin, id, "   ")
				return err
			},
			want: apperror.KindValidation,
		},
		{
			name:  "document in review cannot be deleted",
			setup: review,
			run: func(env *testEnv, id uuid.UUID) error {
				return env.workflow.Delete(env.ctx, env.creator, id)
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "another creator cannot delete",
			setup: draft,
			run: func(env *testEnv, id uuid.UUID) error {
				return env.workflow.Delete(env.ctx, env.other, id)
			},
			want: apperror.KindForbidden,
		},
		{
			name:  "unknown document",
			setup: draft,
			run: func(env *testEnv, _ uuid.UUID) error {
				_, err := env.workflow.SendToReview(env.ctx, env.creator, uuid.New(), "")
				return err
			},
			want: apperror.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			doc := tt.setup(t, env)
			before := env.historyOf(t, doc.ID)

			err := tt.run(env, doc.ID)
			require.Error(t, err)
			assert.Equal(t, tt.want, apperror.KindOf(err), err.Error())

			after, err := env.documents.GetByID(env.ctx, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, doc.Status, after.Document.Status)
			assert.Equal(t, doc.Version, after.Document.Version)
			assert.Len(t, after.History, len(before))
		})
	}
}

func TestAdminActsWhereListed(t *testing.T) {
	env := newTestEnv(t)
	doc := env.draft(t, "ADM-001")

	doc, err := env.workflow.SendToReview(env.ctx, env.admin, doc.ID, "")
	require.NoError(t, err)
	doc, err = env.workflow.Approve(env.ctx, env.admin, doc.ID, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, doc.Status)
}

func TestConcurrentApprovalsCommitOnce(t *testing.T) {
	env := newTestEnv(t)
	doc := env.inReview(t, "RACE-001")

	actors := []*model.User{env.reviewer, env.approver, env.admin}
	errs := make([]error, len(actors))

	var wg sync.WaitGroup
	for i, actor := range actors {
		wg.Add(1)
		go func(i int, actor *model.User) {
			defer wg.Done()
			_, errs[i] = env.workflow.Approve(env.ctx, actor, doc.ID, "")
		}(i, actor)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))
	}
	assert.Equal(t, 1, succeeded)

	approvals := 0
	for _, e := range env.historyOf(t, doc.ID) {
		if e.Action == model.HistoryApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
	assert.Len(t, env.inbox(t, env.creator.ID), 1)
}

func TestFailedLedgerWriteRollsBackTransition(t *testing.T) {
	env := newTestEnv(t)
	workflow := env.workflowWith(failingHistory{env.history}, env.notifications)

	t.Run("approve", func(t *testing.T) {
		doc := env.inReview(t, "ATOM-001")
		before := env.historyOf(t, doc.ID)

		_, err := workflow.Approve(env.ctx, env.approver, doc.ID, "ok")
		require.ErrorIs(t, err, errLedgerDown)

		detail, err := env.documents.GetByID(env.ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusInReview, detail.Document.Status)
		assert.Nil(t, detail.Document.ReviewedBy)
		assert.Nil(t, detail.Document.ApprovedBy)
		assert.Len(t, detail.History, len(before))
		assert.Empty(t, env.inbox(t, env.creator.ID))
	})

	t.Run("new version", func(t *testing.T) {
		doc := env.approved(t, "ATOM-002")
		before := env.historyOf(t, doc.ID)
		files := env.storedFiles(t)

		_, err := workflow.NewVersion(env.ctx, env.creator, doc.ID, pdfUpload("ATOM-002-v2.pdf"), "")
		require.ErrorIs(t, err, errLedgerDown)

		detail, err := env.documents.GetByID(env.ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusApproved, detail.Document.Status)
		assert.Equal(t, "1.0", detail.Document.Version)
		assert.Equal(t, doc.FilePath, detail.Document.FilePath)
		assert.NotNil(t, detail.Document.ApprovedBy)
		assert.Len(t, detail.History, len(before))
		assert.ElementsMatch(t, files, env.storedFiles(t), "the new file is discarded")
		assert.True(t, env.fileExists(t, doc.FilePath))
	})
}

func TestRejectThenEditReturnsToDraft(t *testing.T) {
	env := newTestEnv(t)
	doc := env.rejected(t, "REJ-001")
	assert.Equal(t, model.StatusRejected, doc.Status)
	require.NotNil(t, doc.ReviewedBy)
	assert.Equal(t, env.reviewer.ID, *doc.ReviewedBy)
	assert.Nil(t, doc.ApprovedBy)

	items := env.inbox(t, env.creator.ID)
	require.Len(t, items, 1)
	assert.Equal(t, model.NotificationDocumentRejected, items[0].Type)
	assert.Contains(t, items[0].Message, "Comentarios: faltan firmas")

	oldFile := *doc.FilePath
	title := "  Manual corregido  "
	doc, err := env.workflow.Edit(env.ctx, env.creator, doc.ID, EditDocumentRequest{Title: &title}, pdfUpload("corregido.pdf"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Equal(t, "Manual corregido", doc.Title)
	assert.Equal(t, "Descripción de REJ-001", doc.Description)
	assert.Nil(t, doc.ReviewedBy)
	assert.Equal(t, "1.0", doc.Version)
	assert.True(t, env.fileExists(t, doc.FilePath))
	assert.False(t, env.fileExists(t, &oldFile))

	assert.Contains(t, actionsOf(env.historyOf(t, doc.ID)), model.HistoryModified)
}

func TestEditValidatesFields(t *testing.T) {
	env := newTestEnv(t)
	doc := env.draft(t, "VAL-001")

	empty := ""
	_, err := env.workflow.Edit(env.ctx, env.creator, doc.ID, EditDocumentRequest{Title: &empty}, nil)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	bad := "Novela"
	_, err = env.workflow.Edit(env.ctx, env.creator, doc.ID, EditDocumentRequest{Type: &bad}, nil)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = env.workflow.Edit(env.ctx, env.creator, doc.ID, EditDocumentRequest{}, &Upload{
		Filename: "virus.exe", Size: int64(len(pdfContent)), Content: bytes.NewReader(pdfContent),
	})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	assert.Len(t, env.historyOf(t, doc.ID), 1)
}

func TestRevokeReturnsApprovedToDraft(t *testing.T) {
	env := newTestEnv(t)
	doc := env.approved(t, "REV-001")
	env.notifications.Wait()

	doc, err := env.workflow.Revoke(env.ctx, env.admin, doc.ID, " norma actualizada ")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Equal(t, "1.0", doc.Version)
	assert.Nil(t, doc.ReviewedBy)
	assert.Nil(t, doc.ApprovedBy)

	entries := env.historyOf(t, doc.ID)
	var revoked *HistoryEntryResponse
	for i := range entries {
		if entries[i].Action == model.HistoryApprovalRevoked {
			revoked = &entries[i]
		}
	}
	require.NotNil(t, revoked)
	assert.Equal(t, "Razón: norma actualizada", revoked.Comments)

	var types []model.NotificationType
	for _, n := range env.inbox(t, env.creator.ID) {
		types = append(types, n.Type)
	}
	assert.ElementsMatch(t, []model.NotificationType{
		model.NotificationDocumentApproved,
		model.NotificationApprovalRevoked,
	}, types)
}

func TestChangeStatusMapsTargets(t *testing.T) {
	env := newTestEnv(t)
	doc := env.draft(t, "CS-001")

	_, err := env.workflow.ChangeStatus(env.ctx, env.creator, doc.ID, ChangeStatusRequest{Status: "Publicado"})
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = env.workflow.ChangeStatus(env.ctx, env.creator, doc.ID, ChangeStatusRequest{Status: string(model.StatusDraft)})
	assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))

	_, err = env.workflow.ChangeStatus(env.ctx, env.creator, doc.ID, ChangeStatusRequest{Status: string(model.StatusObsolete)})
	assert.Equal(t, apperror.KindIllegalTransition, apperror.KindOf(err))

	doc, err = env.workflow.ChangeStatus(env.ctx, env.creator, doc.ID, ChangeStatusRequest{Status: string(model.StatusInReview)})
	require.NoError(t, err)
	assert.Equal(t, model.StatusInReview, doc.Status)

	doc, err = env.workflow.ChangeStatus(env.ctx, env.reviewer, doc.ID, ChangeStatusRequest{Status: string(model.StatusRejected), Comments: "no"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, doc.Status)
}

func TestDeleteDraftRemovesDocumentLedgerAndFile(t *testing.T) {
	env := newTestEnv(t)

	// Through review and back so reviewers hold notifications about it.
	doc := env.rejected(t, "DEL-001")
	title := "Borrador final"
	doc, err := env.workflow.Edit(env.ctx, env.creator, doc.ID, EditDocumentRequest{Title: &title}, nil)
	require.NoError(t, err)
	require.Len(t, env.inbox(t, env.reviewer.ID), 1)

	require.NoError(t, env.workflow.Delete(env.ctx, env.creator, doc.ID))

	_, err = env.documents.GetByID(env.ctx, doc.ID)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
	assert.Empty(t, env.historyOf(t, doc.ID))
	assert.False(t, env.fileExists(t, doc.FilePath))

	items := env.inbox(t, env.reviewer.ID)
	require.Len(t, items, 1)
	assert.Nil(t, items[0].DocumentID)

	err = env.workflow.Delete(env.ctx, env.creator, doc.ID)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestActionForStatus(t *testing.T) {
	tests := []struct {
		status string
		want   Action
		kind   apperror.Kind
	}{
		{string(model.StatusInReview), ActionSendToReview, ""},
		{string(model.StatusApproved), ActionApprove, ""},
		{string(model.StatusRejected), ActionReject, ""},
		{string(model.StatusDraft), "", apperror.KindIllegalTransition},
		{string(model.StatusObsolete), "", apperror.KindIllegalTransition},
		{"aprobado", "", apperror.KindValidation},
		{"", "", apperror.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, err := ActionForStatus(tt.status)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, apperror.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
