package form

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veerhq/veer/internal/cache"
	"github.com/veerhq/veer/internal/mail"
	"github.com/veerhq/veer/internal/models"
	"github.com/veerhq/veer/internal/store/storetest"
)

type notification struct {
	userID   int64
	formName string
	fields   []mail.SubmissionField
}

type fakeNotifier struct {
	err  error
	sent []notification
}

func (n *fakeNotifier) NotifySubmission(_ context.Context, userID int64, formName string, fields []mail.SubmissionField) error {
	n.sent = append(n.sent, notification{userID: userID, formName: formName, fields: fields})
	return n.err
}

type fixture struct {
	forms       *storetest.FormStore
	submissions *storetest.SubmissionStore
	notifier    *fakeNotifier
	bus         *cache.MemoryBus
	svc         *Service
}

func newFixture() *fixture {
	f := &fixture{
		forms:       storetest.NewFormStore(),
		submissions: storetest.NewSubmissionStore(),
		notifier:    &fakeNotifier{},
		bus:         cache.NewMemoryBus(),
	}
	f.svc = NewService(f.forms, f.submissions, f.notifier, f.bus)
	return f
}

func (f *fixture) contactForm(t *testing.T) *models.Form {
	t.Helper()
	form, err := f.svc.CreateForm(context.Background(), 7, "Contact", []models.FormField{
		{Name: "email", Label: "Email", Required: true},
		{Name: "message", Label: "Message"},
	})
	require.NoError(t, err)
	return form
}

func TestCreateForm(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	form, err := f.svc.CreateForm(ctx, 7, "  Contact  ", []models.FormField{{Name: " topic "}})
	require.NoError(t, err)
	assert.Equal(t, "Contact", form.Name)
	assert.True(t, form.IsActive)
	assert.Equal(t, []models.FormField{{Name: "topic", Label: "topic"}}, form.Fields)

	_, err = f.svc.CreateForm(ctx, 7, " ", nil)
	assert.ErrorIs(t, err, ErrNameRequired)

	var ferr *FieldError
	_, err = f.svc.CreateForm(ctx, 7, "Dupes", []models.FormField{{Name: "a"}, {Name: "a"}})
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, `Duplicate field name "a"`, ferr.Message)

	_, err = f.svc.CreateForm(ctx, 7, "Reserved", []models.FormField{{Name: "_gotcha"}})
	require.ErrorAs(t, err, &ferr)

	_, err = f.svc.CreateForm(ctx, 7, "Blank", []models.FormField{{Label: "No name"}})
	require.ErrorAs(t, err, &ferr)
}

func TestSubmitStoresBeforeNotifying(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	form := f.contactForm(t)

	res, err := f.svc.Submit(ctx, form.PublicID, map[string]string{
		"message":    "Hi",
		"email":      "ada@example.com",
		"company":    "Analytical",
		"_gotcha":    "",
		"csrf_token": "x",
		"blank":      "  ",
	}, Meta{IPAddress: "203.0.113.9", Referrer: "https://example.com/contact"})
	require.NoError(t, err)
	assert.True(t, res.Notified)

	subs := f.submissions.All()
	require.Len(t, subs, 1)
	sub := subs[0]
	assert.Equal(t, res.Submission.PublicID, sub.PublicID)
	assert.Equal(t, form.ID, sub.FormID)
	assert.Equal(t, int64(7), sub.UserID)
	assert.Equal(t, map[string]string{"email": "ada@example.com", "message": "Hi", "company": "Analytical"}, sub.Data)
	assert.Equal(t, "203.0.113.9", sub.IPAddress)
	assert.Equal(t, "unknown", sub.UserAgent)
	assert.Equal(t, models.SourceWebsite, sub.Source)
	assert.Equal(t, models.SubmissionNew, sub.Status)

	require.Len(t, f.notifier.sent, 1)
	n := f.notifier.sent[0]
	assert.Equal(t, int64(7), n.userID)
	assert.Equal(t, "Contact", n.formName)
	assert.Equal(t, []mail.SubmissionField{
		{Label: "Email", Value: "ada@example.com"},
		{Label: "Message", Value: "Hi"},
		{Label: "company", Value: "Analytical"},
	}, n.fields)

	v, err := f.bus.Version(ctx, cache.FormSubmissionsTag(form.ID))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
}

func TestSubmitNotificationFailureKeepsSubmission(t *testing.T) {
	ctx := context.Background()

	for name, notifyErr := range map[string]error{
		"no active provider": mail.ErrNoActiveProvider,
		"send failure":       &mail.SendError{Kind: mail.KindConnection, Message: "Cannot connect"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture()
			f.notifier.err = notifyErr
			form := f.contactForm(t)

			res, err := f.svc.Submit(ctx, form.PublicID, map[string]string{"email": "ada@example.com"}, Meta{})
			require.NoError(t, err)
			assert.False(t, res.Notified)
			assert.Len(t, f.submissions.All(), 1)
		})
	}
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	form := f.contactForm(t)

	_, err := f.svc.Submit(ctx, uuid.New(), map[string]string{"email": "a@b.co"}, Meta{})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Submit(ctx, form.PublicID, map[string]string{"message": "no email"}, Meta{})
	var missing *MissingFieldsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "Missing required fields: Email", missing.Error())

	open, err := f.svc.CreateForm(ctx, 7, "Open", nil)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, open.PublicID, map[string]string{"_form": "x"}, Meta{})
	assert.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, f.svc.SetActive(ctx, 7, form.PublicID, false))
	_, err = f.svc.Submit(ctx, form.PublicID, map[string]string{"email": "a@b.co"}, Meta{})
	assert.ErrorIs(t, err, ErrInactive)

	assert.Empty(t, f.submissions.All())
	assert.Empty(t, f.notifier.sent)
}

func TestSubmitStoreFailure(t *testing.T) {
	f := newFixture()
	form := f.contactForm(t)
	f.submissions.FailCreate = true

	_, err := f.svc.Submit(context.Background(), form.PublicID, map[string]string{"email": "a@b.co"}, Meta{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Empty(t, f.notifier.sent)
}

func TestOwnerScopedOperations(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	form := f.contactForm(t)

	assert.ErrorIs(t, f.svc.SetActive(ctx, 8, form.PublicID, false), ErrNotFound)
	_, err := f.svc.Submissions(ctx, 8, form.PublicID, 10)
	assert.ErrorIs(t, err, ErrNotFound)

	for _, email := range []string{"a@b.co", "c@d.co", "e@f.co"} {
		_, err := f.svc.Submit(ctx, form.PublicID, map[string]string{"email": email}, Meta{})
		require.NoError(t, err)
	}
	subs, err := f.svc.Submissions(ctx, 7, form.PublicID, 2)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "e@f.co", subs[0].Data["email"])

	forms, err := f.svc.ListForms(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, forms, 1)
}
