// Package models defines the hub's domain types: accounts, namespaces,
// repositories and their content, collections, import tasks, community
// surveys and notifications.
//
// The types carry JSON tags matching the public API and only a handful of
// helpers. Persistence lives in package storage, authorization in package
// access.
package models
