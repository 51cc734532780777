// Package storage provides the persistence contracts of the hub and the
// filesystem artifact backend.
//
// # Architecture
//
// The metadata store is split into focused interfaces that compose into Store:
//
//   - UserStore: accounts and API tokens
//   - NamespaceStore: namespaces, providers and provider namespaces
//   - RepositoryStore: repositories, repository versions and content
//   - CollectionStore: collections and collection versions
//   - ImportStore: import tasks and their messages
//   - SurveyStore: community surveys and aggregate scores
//   - NotificationStore: notifications and preferences
//
// Two implementations exist. storage/memory keeps everything in process
// and is used for development and handler tests. storage/postgres is the
// production backend on PostgreSQL with an optional Redis read-through
// cache.
//
// Collection tarballs go through ArtifactStore, backed either by the
// local filesystem (FileSystemArtifacts) or by S3 (postgres.S3Artifacts).
//
// # Errors
//
// Implementations classify failures with github.com/juju/errors:
// errors.NotFound for missing rows, errors.AlreadyExists for unique
// violations and errors.NotValid for rejected input. Callers test with
// errors.Is(err, errors.NotFound).
package storage
