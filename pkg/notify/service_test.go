package notify

import (
	"context"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
	"github.com/platinummonkey/galaxyhub/pkg/storage/memory"
)

type world struct {
	store *memory.Store
	alice *models.User // namespace owner
	bob   *models.User // task owner
	carol *models.User // rater
	ns    *models.Namespace
	pns   *models.ProviderNamespace
	repo  *models.Repository
	coll  *models.Collection
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()
	w := &world{store: memory.New()}

	w.alice = &models.User{Username: "alice", IsActive: true}
	w.bob = &models.User{Username: "bob", IsActive: true}
	w.carol = &models.User{Username: "carol", IsActive: true}
	for _, u := range []*models.User{w.alice, w.bob, w.carol} {
		require.NoError(t, w.store.CreateUser(ctx, u))
	}

	w.ns = &models.Namespace{Name: "acme", Active: true, Owners: []int64{w.alice.ID}}
	require.NoError(t, w.store.CreateNamespace(ctx, w.ns))
	gh, err := w.store.GetProviderByName(ctx, models.ProviderGitHub)
	require.NoError(t, err)
	w.pns = &models.ProviderNamespace{Name: "acme-org", ProviderID: gh.ID, NamespaceID: &w.ns.ID}
	require.NoError(t, w.store.CreateProviderNamespace(ctx, w.pns))
	w.repo = &models.Repository{ProviderNamespaceID: w.pns.ID, Name: "nginx"}
	require.NoError(t, w.store.CreateRepository(ctx, w.repo))
	w.coll = &models.Collection{NamespaceID: w.ns.ID, Name: "web"}
	require.NoError(t, w.store.CreateCollection(ctx, w.coll))
	return w
}

func (w *world) inbox(t *testing.T, u *models.User) []*models.Notification {
	t.Helper()
	items, _, err := w.store.ListNotifications(context.Background(), u.ID, models.NewPageRequest(1, 50))
	require.NoError(t, err)
	return items
}

func TestImportFinished_Failure(t *testing.T) {
	w := newWorld(t)
	svc := NewService(w.store)

	task := &models.ImportTask{
		ID: 11, Type: models.TaskTypeRole, State: models.TaskFailed, OwnerID: w.bob.ID,
		NamespaceID: &w.ns.ID, RepositoryID: &w.repo.ID,
		GitHubUser: "acme-org", GitHubRepo: "nginx", Error: "meta/main.yml not found",
	}
	require.NoError(t, svc.ImportFinished(context.Background(), task))

	for _, u := range []*models.User{w.alice, w.bob} {
		inbox := w.inbox(t, u)
		require.Len(t, inbox, 1, u.Username)
		assert.Equal(t, models.NotifyImportFail, inbox[0].Type)
		assert.Equal(t, "Import of acme-org/nginx failed: meta/main.yml not found", inbox[0].Message)
		assert.Equal(t, int64(11), *inbox[0].ImportTaskID)
	}
	assert.Empty(t, w.inbox(t, w.carol))
}

func TestImportFinished_SuccessHonoursPreferences(t *testing.T) {
	w := newWorld(t)
	svc := NewService(w.store)
	ctx := context.Background()

	_, err := svc.UpdatePreferences(ctx, w.alice.ID, map[models.NotificationType]bool{models.NotifyImportSuccess: true})
	require.NoError(t, err)

	task := &models.ImportTask{
		ID: 12, Type: models.TaskTypeCollection, State: models.TaskSuccess, OwnerID: w.alice.ID,
		NamespaceID: &w.ns.ID, ArtifactKey: models.ArtifactKey("acme", "web", "1.0.0"),
	}
	require.NoError(t, svc.ImportFinished(ctx, task))

	inbox := w.inbox(t, w.alice)
	require.Len(t, inbox, 1, "owner and namespace owner are the same user")
	assert.Equal(t, "Import of acme-web-1.0.0.tar.gz succeeded", inbox[0].Message)
	assert.Empty(t, w.inbox(t, w.bob))
}

func TestCollectionPublished(t *testing.T) {
	w := newWorld(t)
	svc := NewService(w.store)
	w.coll.NamespaceName = "acme"

	taskID := int64(3)
	require.NoError(t, svc.CollectionPublished(context.Background(), w.coll,
		&models.CollectionVersion{Version: "1.2.0", ImportTaskID: &taskID}))

	inbox := w.inbox(t, w.alice)
	require.Len(t, inbox, 1)
	assert.Equal(t, models.NotifyNewRelease, inbox[0].Type)
	assert.Equal(t, "acme.web 1.2.0 was published", inbox[0].Message)
	assert.Equal(t, w.coll.ID, *inbox[0].CollectionID)
}

func TestNotify_SkipsUnknownAndDuplicateUsers(t *testing.T) {
	w := newWorld(t)
	svc := NewService(w.store)

	sent, err := svc.Notify(context.Background(), []int64{0, w.bob.ID, w.bob.ID, 999},
		models.Notification{Type: models.NotifyNewContent, Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Len(t, w.inbox(t, w.bob), 1)
}

func TestMarkSeenAndPreferences(t *testing.T) {
	w := newWorld(t)
	svc := NewService(w.store)
	ctx := context.Background()

	_, err := svc.Notify(ctx, []int64{w.bob.ID}, models.Notification{Type: models.NotifySurvey, Message: "first"})
	require.NoError(t, err)
	_, err = svc.Notify(ctx, []int64{w.bob.ID}, models.Notification{Type: models.NotifySurvey, Message: "second"})
	require.NoError(t, err)

	inbox := w.inbox(t, w.bob)
	require.Len(t, inbox, 2)
	require.NoError(t, svc.MarkSeen(ctx, inbox[0], true))
	inbox = w.inbox(t, w.bob)
	assert.Equal(t, "first", inbox[0].Message, "unseen notifications come first")
	assert.True(t, inbox[1].Seen)

	_, err = svc.UpdatePreferences(ctx, w.bob.ID, map[models.NotificationType]bool{"weekly_digest": true})
	assert.True(t, errors.Is(err, errors.NotValid))

	prefs, err := svc.UpdatePreferences(ctx, w.bob.ID, map[models.NotificationType]bool{models.NotifySurvey: false})
	require.NoError(t, err)
	assert.False(t, prefs.Wants(models.NotifySurvey))
	assert.True(t, prefs.Wants(models.NotifyImportFail))

	sent, err := svc.Notify(ctx, []int64{w.bob.ID}, models.Notification{Type: models.NotifySurvey, Message: "muted"})
	require.NoError(t, err)
	assert.Zero(t, sent)
}
