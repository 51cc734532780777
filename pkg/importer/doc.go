// Package importer turns GitHub repositories into roles and uploaded
// tarballs into collection versions.
//
// Every import is an ImportTask that moves from PENDING to RUNNING on a
// worker of a bounded pool and ends SUCCESS or FAILED with the messages the
// run produced:
//
//	task, err := imp.ImportRole(ctx, repo, pns, req, user.ID)
//	// later: GET /api/v1/imports/{task.ID}/
//
// Role imports read meta/main.yml through a RepoSource, lint it and score
// the role at 5 points minus a quarter per warning and one per error.
// Collection imports read MANIFEST.json from the stored tarball, reject
// namespace mismatches and duplicate versions, and move the collection's
// latest version to the highest release.
//
// Finished imports notify owners, update the search index and emit
// import.succeeded, import.failed and collection.published webhook events.
package importer
