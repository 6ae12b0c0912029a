package service

import (
	"io"
	"testing"

	"docuflow/internal/apperror"
	"docuflow/internal/model"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDocument(t *testing.T) {
	env := newTestEnv(t)

	doc, err := env.documents.Create(env.ctx, env.creator, CreateDocumentRequest{
		Code:  " PRO-001 ",
		Title: "Procedimiento de compras",
		Type:  string(model.TypeProcedure),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "PRO-001", doc.Code)
	assert.Equal(t, model.StatusDraft, doc.Status)
	assert.Equal(t, model.InitialVersion, doc.Version)
	assert.Nil(t, doc.FilePath)

	entries := env.historyOf(t, doc.ID)
	require.Len(t, entries, 1)
	assert.Equal(t, model.HistoryCreated, entries[0].Action)
	assert.Equal(t, "Documento creado", entries[0].Comments)
	assert.Equal(t, "1.0", entries[0].Version)
}

func TestCreateDocumentRejectsInvalidInput(t *testing.T) {
	env := newTestEnv(t)
	valid := CreateDocumentRequest{Code: "X-1", Title: "T", Type: string(model.TypeManual)}

	tests := []struct {
		name  string
		actor func(env *testEnv) *model.User
		req   func() CreateDocumentRequest
		want  apperror.Kind
	}{
		{"reviewer cannot create", func(e *testEnv) *model.User { return e.reviewer }, func() CreateDocumentRequest { return valid }, apperror.KindForbidden},
		{"approver cannot create", func(e *testEnv) *model.User { return e.approver }, func() CreateDocumentRequest { return valid }, apperror.KindForbidden},
		{"missing code", func(e *testEnv) *model.User { return e.creator }, func() CreateDocumentRequest { r := valid; r.Code = "  "; return r }, apperror.KindValidation},
		{"missing title", func(e *testEnv) *model.User { return e.creator }, func() CreateDocumentRequest { r := valid; r.Title = ""; return r }, apperror.KindValidation},
		{"unknown type", func(e *testEnv) *model.User { return e.creator }, func() CreateDocumentRequest { r := valid; r.Type = "Novela"; return r }, apperror.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.documents.Create(env.ctx, tt.actor(env), tt.req(), nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, apperror.KindOf(err))
		})
	}

	docs, err := env.documents.List(env.ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestCreateDocumentDuplicateCodeDiscardsFile(t *testing.T) {
	env := newTestEnv(t)
	env.draft(t, "DUP-001")

	_, err := env.documents.Create(env.ctx, env.admin, CreateDocumentRequest{
		Code:  "DUP-001",
		Title: "Otro",
		Type:  string(model.TypeOther),
	}, pdfUpload("otro.pdf"))
	require.Error(t, err)
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Equal(t, "El código de documento ya existe.", apperror.MessageOf(err))

	files, err := afero.ReadDir(env.fs, "/")
	require.NoError(t, err)
	assert.Len(t, files, 1)
}

func TestCreateDocumentRejectsBadUpload(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.documents.Create(env.ctx, env.creator, CreateDocumentRequest{
		Code:  "BAD-001",
		Title: "Archivo",
		Type:  string(model.TypeFormat),
	}, &Upload{Filename: "notas.txt", Size: 5, Content: io.LimitReader(nil, 0)})
	require.Error(t, err)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	stats, err := env.documents.Statistics(env.ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestDocumentQueries(t *testing.T) {
	env := newTestEnv(t)
	env.draft(t, "MAN-001")
	env.inReview(t, "MAN-002")
	env.approved(t, "POL-003")
	env.rejected(t, "FOR-004")

	other, err := env.documents.Create(env.ctx, env.other, CreateDocumentRequest{
		Code:        "OTR-100",
		Title:       "Instructivo 100% nuevo",
		Description: "limpieza_de_equipos",
		Type:        string(model.TypeInstruction),
	}, nil)
	require.NoError(t, err)

	all, err := env.documents.List(env.ctx)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	inReview, err := env.documents.ListByStatus(env.ctx, string(model.StatusInReview))
	require.NoError(t, err)
	require.Len(t, inReview, 1)
	assert.Equal(t, "MAN-002", inReview[0].Code)

	_, err = env.documents.ListByStatus(env.ctx, "Pendiente")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	mine, err := env.documents.ListByCreator(env.ctx, env.other.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, other.ID, mine[0].ID)

	found, err := env.documents.Search(env.ctx, "man-00")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	found, err = env.documents.Search(env.ctx, "MANUAL DE pol")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "POL-003", found[0].Code)

	found, err = env.documents.Search(env.ctx, "100%")
	require.NoError(t, err)
	require.Len(t, found, 1, "percent sign is matched literally")

	found, err = env.documents.Search(env.ctx, "de_p")
	require.NoError(t, err)
	assert.Empty(t, found, "underscore is matched literally")

	_, err = env.documents.Search(env.ctx, "   ")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	stats, err := env.documents.Statistics(env.ctx)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatistics{
		Total:      5,
		Borradores: 2,
		EnRevision: 1,
		Aprobados:  1,
		Rechazados: 1,
	}, stats)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t)
	doc := env.draft(t, "DL-001")

	dl, err := env.documents.Download(env.ctx, doc.ID)
	require.NoError(t, err)
	defer dl.Content.Close()

	assert.Equal(t, "DL-001_v1.0.pdf", dl.Filename)
	body, err := io.ReadAll(dl.Content)
	require.NoError(t, err)
	assert.Equal(t, pdfContent, body)

	bare, err := env.documents.Create(env.ctx, env.creator, CreateDocumentRequest{
		Code: "DL-002", Title: "Sin archivo", Type: string(model.TypeOther),
	}, nil)
	require.NoError(t, err)
	_, err = env.documents.Download(env.ctx, bare.ID)
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestGetByIDIncludesHistory(t *testing.T) {
	env := newTestEnv(t)
	doc := env.rejected(t, "GET-001")

	detail, err := env.documents.GetByID(env.ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, detail.Document.ID)
	assert.Equal(t, env.creator.Email, detail.Document.CreatorEmail)
	assert.Equal(t, env.reviewer.FullName, detail.Document.ReviewerName)
	assert.ElementsMatch(t, []model.HistoryAction{
		model.HistoryCreated,
		model.HistorySentToReview,
		model.HistoryRejected,
	}, actionsOf(detail.History))
}
