// Package webhooks handles hub webhooks in both directions.
//
// # Outbound
//
// Superusers subscribe URLs to hub events:
//
//	import.succeeded, import.failed, collection.published,
//	repository.deleted, namespace.created
//
// Manager.Dispatch queues one delivery per active subscriber on a worker
// pool and returns immediately. Each delivery is a JSON POST signed with
// the subscription secret:
//
//	X-Galaxy-Event:         import.succeeded
//	X-Galaxy-Event-ID:      6f1c...
//	X-Galaxy-Signature-256: sha256=<hex hmac of the body>
//
// Receivers verify with VerifySignature. Slack and Teams incoming webhook
// URLs get a chat message instead of the raw event.
//
// Failed attempts are retried with exponential backoff (1s, 2s, 4s, 8s by
// default, 5 attempts). 4xx replies other than 408 and 429 are final.
// Each webhook has its own token bucket, and every attempt is written to
// the delivery log served at /api/v1/webhooks/{id}/deliveries/.
//
// # Inbound
//
// POST /api/v1/webhooks/github/ accepts GitHub push events signed with
// X-Hub-Signature-256. POST /api/v1/notifications/ accepts Travis CI build
// notifications signed with the Travis RSA key. Either one queues a role
// import when the push or build is on the repository's import branch.
package webhooks
