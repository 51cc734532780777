package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

func TestUsers(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(http.MethodGet, "/api/v1/users/?username=alice", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[models.Page[models.User]](t, rec)
	require.Equal(t, int64(1), page.Count)
	assert.Equal(t, e.owner.ID, page.Results[0].ID)

	path := fmt.Sprintf("/api/v1/users/%d/", e.owner.ID)
	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, path, "", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/api/v1/users/9999/", "", nil).Code)

	rec = e.do(http.MethodPut, path, e.otherKey, map[string]string{"full_name": "Mallory"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPut, path, e.ownerKey, map[string]string{"full_name": "Alice Liddell"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "Alice Liddell", decode[models.User](t, rec).FullName)

	rec = e.do(http.MethodPut, path, e.ownerKey, map[string]bool{"is_superuser": true})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPut, fmt.Sprintf("/api/v1/users/%d/", e.other.ID), e.adminKey, map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[models.User](t, rec).IsActive)

	rec = e.do(http.MethodGet, "/api/v1/users/?is_active=false", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[models.Page[models.User]](t, rec).Count)
}

func TestPreferences(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, e.do(http.MethodGet, "/api/v1/me/preferences/", "", nil).Code)

	rec := e.do(http.MethodGet, "/api/v1/me/preferences/", e.ownerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decode[models.NotificationPreferences](t, rec)
	assert.True(t, prefs.Preferences[models.NotifySurvey])
	assert.False(t, prefs.Preferences[models.NotifyImportSuccess])

	rec = e.do(http.MethodPut, "/api/v1/me/preferences/", e.ownerKey, map[string]bool{"survey": false, "import_success": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	prefs = decode[models.NotificationPreferences](t, rec)
	assert.False(t, prefs.Preferences[models.NotifySurvey])
	assert.True(t, prefs.Preferences[models.NotifyImportSuccess])

	rec = e.do(http.MethodPut, "/api/v1/me/preferences/", e.ownerKey, map[string]bool{"carrier_pigeon": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNotifications(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.store.CreateNotification(ctx, &models.Notification{
			UserID: e.owner.ID, Type: models.NotifyImportFail, Message: fmt.Sprintf("import %d failed", i),
		}))
	}
	theirs := &models.Notification{UserID: e.other.ID, Type: models.NotifyImportFail, Message: "not yours"}
	require.NoError(t, e.store.CreateNotification(ctx, theirs))

	rec := e.do(http.MethodGet, "/api/v1/me/notifications/?page_size=2", e.ownerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[models.Page[models.Notification]](t, rec)
	assert.Equal(t, int64(3), page.Count)
	require.Len(t, page.Results, 2)
	require.NotNil(t, page.Next)
	assert.Contains(t, *page.Next, "page=2")
	assert.Nil(t, page.Previous)

	first := page.Results[0]
	path := fmt.Sprintf("/api/v1/me/notifications/%d/", first.ID)
	rec = e.do(http.MethodPut, path, e.ownerKey, map[string]bool{"seen": true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[models.Notification](t, rec).Seen)

	theirPath := fmt.Sprintf("/api/v1/me/notifications/%d/", theirs.ID)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodPut, theirPath, e.ownerKey, map[string]bool{"seen": true}).Code)
	assert.Equal(t, http.StatusForbidden, e.do(http.MethodDelete, theirPath, e.ownerKey, nil).Code)

	assert.Equal(t, http.StatusNoContent, e.do(http.MethodDelete, path, e.ownerKey, nil).Code)

	rec = e.do(http.MethodPost, "/api/v1/me/notifications/clear/", e.ownerKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[map[string]int64](t, rec)["deleted"])

	rec = e.do(http.MethodGet, "/api/v1/me/notifications/", e.otherKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), decode[models.Page[models.Notification]](t, rec).Count)
}
