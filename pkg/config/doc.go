// Package config loads galaxyhub configuration from GALAXY_* environment
// variables with defaults for every setting, then validates it.
//
// Server settings:
//
//	GALAXY_HOST="0.0.0.0"
//	GALAXY_PORT="8080"
//	GALAXY_HEALTH_PORT="9090"
//	GALAXY_REQUEST_TIMEOUT="30s"
//
// Storage settings:
//
//	GALAXY_STORAGE_TYPE="postgres"       # memory, postgres
//	GALAXY_POSTGRES_URL="postgres://galaxy@db/galaxy?sslmode=disable"
//	GALAXY_REDIS_URL="redis://cache:6379/0"
//	GALAXY_ARTIFACT_BACKEND="s3"         # filesystem, s3
//	GALAXY_S3_BUCKET="galaxy-artifacts"
//
// Imports and webhooks:
//
//	GALAXY_GITHUB_TOKEN="ghp_..."
//	GALAXY_IMPORT_WORKERS="4"
//	GALAXY_GITHUB_WEBHOOK_SECRET="..."
//	GALAXY_TRAVIS_PUBLIC_KEY="/etc/galaxy/travis.pem"
//
// Usage:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
