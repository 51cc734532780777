package access

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/galaxyhub/pkg/models"
)

// OwnershipResolver loads the parents an ownership decision depends on.
// storage.Store satisfies it.
type OwnershipResolver interface {
	GetNamespace(ctx context.Context, id int64) (*models.Namespace, error)
	GetProviderNamespace(ctx context.Context, id int64) (*models.ProviderNamespace, error)
	GetRepository(ctx context.Context, id int64) (*models.Repository, error)
	GetCollection(ctx context.Context, id int64) (*models.Collection, error)
}

func isSuperuser(u *models.User) bool {
	return u != nil && u.IsActive && u.IsSuperuser
}

// BaseAccess lets anyone read, authenticated users add, and only
// superusers change or delete.
type BaseAccess struct{}

func (BaseAccess) CanRead(ctx context.Context, user *models.User, obj interface{}) bool {
	return true
}

func (BaseAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	return user.IsAuthenticated()
}

func (BaseAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	return isSuperuser(user)
}

func (BaseAccess) CanDelete(ctx context.Context, user *models.User, obj interface{}) bool {
	return isSuperuser(user)
}

// SuperuserAccess grants nothing to anyone but superusers.
type SuperuserAccess struct{}

func (SuperuserAccess) CanRead(ctx context.Context, user *models.User, obj interface{}) bool {
	return isSuperuser(user)
}

func (SuperuserAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	return isSuperuser(user)
}

func (SuperuserAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	return isSuperuser(user)
}

func (SuperuserAccess) CanDelete(ctx context.Context, user *models.User, obj interface{}) bool {
	return isSuperuser(user)
}

// ownership answers "does user own X" by walking up to the namespace.
// Lookup failures deny.
type ownership struct {
	resolver OwnershipResolver
}

func (o ownership) ownsNamespace(ctx context.Context, user *models.User, namespaceID int64) bool {
	if !user.IsAuthenticated() || namespaceID == 0 {
		return false
	}
	ns, err := o.resolver.GetNamespace(ctx, namespaceID)
	if err != nil {
		logrus.WithError(err).WithField("namespace_id", namespaceID).Debug("ownership lookup failed")
		return false
	}
	return ns.HasOwner(user.ID)
}

func (o ownership) ownsProviderNamespace(ctx context.Context, user *models.User, pns *models.ProviderNamespace) bool {
	if pns == nil || pns.NamespaceID == nil {
		return false
	}
	return o.ownsNamespace(ctx, user, *pns.NamespaceID)
}

func (o ownership) ownsProviderNamespaceID(ctx context.Context, user *models.User, id int64) bool {
	if !user.IsAuthenticated() {
		return false
	}
	pns, err := o.resolver.GetProviderNamespace(ctx, id)
	if err != nil {
		logrus.WithError(err).WithField("provider_namespace_id", id).Debug("ownership lookup failed")
		return false
	}
	return o.ownsProviderNamespace(ctx, user, pns)
}

func (o ownership) ownsRepository(ctx context.Context, user *models.User, repo *models.Repository) bool {
	if repo == nil || !user.IsAuthenticated() {
		return false
	}
	if repo.HasOwner(user.ID) {
		return true
	}
	return o.ownsProviderNamespaceID(ctx, user, repo.ProviderNamespaceID)
}

func (o ownership) ownsRepositoryID(ctx context.Context, user *models.User, id int64) bool {
	if !user.IsAuthenticated() {
		return false
	}
	repo, err := o.resolver.GetRepository(ctx, id)
	if err != nil {
		logrus.WithError(err).WithField("repository_id", id).Debug("ownership lookup failed")
		return false
	}
	return o.ownsRepository(ctx, user, repo)
}

func (o ownership) ownsCollectionID(ctx context.Context, user *models.User, id int64) bool {
	if !user.IsAuthenticated() {
		return false
	}
	c, err := o.resolver.GetCollection(ctx, id)
	if err != nil {
		logrus.WithError(err).WithField("collection_id", id).Debug("ownership lookup failed")
		return false
	}
	return o.ownsNamespace(ctx, user, c.NamespaceID)
}

// NamespaceAccess: anyone reads, authenticated users create, owners edit,
// superusers delete.
type NamespaceAccess struct {
	BaseAccess
}

func (NamespaceAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	ns, ok := obj.(*models.Namespace)
	return ok && user.IsAuthenticated() && ns.HasOwner(user.ID)
}

// ProviderNamespaceAccess ties provider namespaces to the owners of the
// namespace they are linked to.
type ProviderNamespaceAccess struct {
	BaseAccess
	ownership
}

func (a ProviderNamespaceAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	pns, ok := data.(*models.ProviderNamespace)
	return ok && a.ownsProviderNamespace(ctx, user, pns)
}

func (a ProviderNamespaceAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	pns, ok := obj.(*models.ProviderNamespace)
	if !ok || !a.ownsProviderNamespace(ctx, user, pns) {
		return false
	}
	// Relinking requires ownership of the target namespace too.
	if next, ok := data.(*models.ProviderNamespace); ok && next.NamespaceID != nil &&
		(pns.NamespaceID == nil || *next.NamespaceID != *pns.NamespaceID) {
		return a.ownsNamespace(ctx, user, *next.NamespaceID)
	}
	return true
}

func (a ProviderNamespaceAccess) CanDelete(ctx context.Context, user *models.User, obj interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	pns, ok := obj.(*models.ProviderNamespace)
	return ok && a.ownsProviderNamespace(ctx, user, pns)
}

// RepositoryAccess grants namespace owners and explicit repository owners.
type RepositoryAccess struct {
	BaseAccess
	ownership
}

func (a RepositoryAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	repo, ok := data.(*models.Repository)
	return ok && a.ownsProviderNamespaceID(ctx, user, repo.ProviderNamespaceID)
}

func (a RepositoryAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	repo, ok := obj.(*models.Repository)
	return ok && a.ownsRepository(ctx, user, repo)
}

func (a RepositoryAccess) CanDelete(ctx context.Context, user *models.User, obj interface{}) bool {
	return a.CanChange(ctx, user, obj, nil)
}

// ContentAccess is read-only for everyone but superusers; the importer
// writes content directly.
type ContentAccess struct {
	BaseAccess
}

func (ContentAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	return isSuperuser(user)
}

// CollectionAccess: namespace owners publish and deprecate.
type CollectionAccess struct {
	BaseAccess
	ownership
}

func (a CollectionAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	c, ok := data.(*models.Collection)
	return ok && a.ownsNamespace(ctx, user, c.NamespaceID)
}

func (a CollectionAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	c, ok := obj.(*models.Collection)
	return ok && a.ownsNamespace(ctx, user, c.NamespaceID)
}

// CollectionVersionAccess hides hidden versions from everyone but owners.
type CollectionVersionAccess struct {
	BaseAccess
	ownership
}

func (a CollectionVersionAccess) CanRead(ctx context.Context, user *models.User, obj interface{}) bool {
	v, ok := obj.(*models.CollectionVersion)
	if !ok || !v.Hidden {
		return true
	}
	return isSuperuser(user) || a.ownsCollectionID(ctx, user, v.CollectionID)
}

// CanAdd accepts the parent collection (possibly not yet created, with only
// NamespaceID set) or the new version itself.
func (a CollectionVersionAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	switch d := data.(type) {
	case *models.Collection:
		return a.ownsNamespace(ctx, user, d.NamespaceID)
	case *models.CollectionVersion:
		return a.ownsCollectionID(ctx, user, d.CollectionID)
	default:
		return false
	}
}

func (a CollectionVersionAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	v, ok := obj.(*models.CollectionVersion)
	return ok && a.ownsCollectionID(ctx, user, v.CollectionID)
}

// ImportTaskAccess lets owners of the target repository or namespace start
// imports.
type ImportTaskAccess struct {
	BaseAccess
	ownership
}

func (a ImportTaskAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	task, ok := data.(*models.ImportTask)
	if !ok {
		return false
	}
	if task.RepositoryID != nil {
		return a.ownsRepositoryID(ctx, user, *task.RepositoryID)
	}
	if task.NamespaceID != nil {
		return a.ownsNamespace(ctx, user, *task.NamespaceID)
	}
	return false
}

// SurveyAccess: authors edit their own surveys.
type SurveyAccess struct {
	BaseAccess
}

func (SurveyAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	s, ok := obj.(*models.Survey)
	return ok && user.IsAuthenticated() && s.UserID == user.ID
}

func (a SurveyAccess) CanDelete(ctx context.Context, user *models.User, obj interface{}) bool {
	return isSuperuser(user) || a.CanChange(ctx, user, obj, nil)
}

// OwnedAccess guards per-user records such as notifications and tokens.
// List reads (nil obj) are allowed for authenticated users; handlers
// scope those lists to the caller.
type OwnedAccess struct{}

func ownerOf(obj interface{}) (int64, bool) {
	switch o := obj.(type) {
	case *models.Notification:
		return o.UserID, true
	case *models.APIToken:
		return o.UserID, true
	case *models.NotificationPreferences:
		return o.UserID, true
	default:
		return 0, false
	}
}

func (OwnedAccess) owns(user *models.User, obj interface{}) bool {
	id, ok := ownerOf(obj)
	return ok && user.IsAuthenticated() && id == user.ID
}

func (a OwnedAccess) CanRead(ctx context.Context, user *models.User, obj interface{}) bool {
	if obj == nil {
		return user.IsAuthenticated()
	}
	return a.owns(user, obj)
}

func (OwnedAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	return isSuperuser(user)
}

func (a OwnedAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	return a.owns(user, obj)
}

func (a OwnedAccess) CanDelete(ctx context.Context, user *models.User, obj interface{}) bool {
	return a.owns(user, obj)
}

// UserAccess: users edit themselves; superusers manage accounts.
type UserAccess struct {
	BaseAccess
}

func (UserAccess) CanAdd(ctx context.Context, user *models.User, data interface{}) bool {
	return isSuperuser(user)
}

func (UserAccess) CanChange(ctx context.Context, user *models.User, obj, data interface{}) bool {
	if isSuperuser(user) {
		return true
	}
	u, ok := obj.(*models.User)
	return ok && user.IsAuthenticated() && u.ID == user.ID
}

// RegisterDefaults installs the hub's strategies for every kind.
func RegisterDefaults(r *Registry, resolver OwnershipResolver) {
	o := ownership{resolver: resolver}

	r.Register(KindUser, UserAccess{})
	r.Register(KindNamespace, NamespaceAccess{})
	r.Register(KindProviderNamespace, ProviderNamespaceAccess{ownership: o})
	r.Register(KindRepository, RepositoryAccess{ownership: o})
	r.Register(KindContent, ContentAccess{})
	r.Register(KindCollection, CollectionAccess{ownership: o})
	r.Register(KindCollectionVersion, CollectionVersionAccess{ownership: o})
	r.Register(KindImportTask, ImportTaskAccess{ownership: o})
	r.Register(KindSurvey, SurveyAccess{})
	r.Register(KindNotification, OwnedAccess{})
	r.Register(KindToken, OwnedAccess{})
	r.Register(KindWebhook, SuperuserAccess{})
}
