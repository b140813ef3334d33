// Package cmd defines the archiver CLI.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, auth status, capture and schedule endpoints behind
//     JWT role checks. Synchronous triggers run the pipeline inline; enqueue and schedule runs go through the
//     dispatcher.
//   - Pipeline: internal/pipeline renders the URL (browser, http synthesis or mock, chosen once at startup),
//     hashes the bytes, uploads them create-only under a Locked retention policy and records provenance. Failures
//     surface to callers as one generic message; details stay in the logs.
//   - Dispatcher & queue: capture jobs flow through an in-memory queue sized by worker.queue_depth or a Pub/Sub
//     topic/subscription pair, and are fanned out to a fixed worker pool sized by worker.concurrency.
//   - Persistence & fanout: artifacts go to GCS (or memory), records and schedules to Postgres (or memory), and a
//     capture event is published to pubsub.events_topic after every terminal attempt.
//
// Commands:
//   - serve: HTTP API plus workers; drains on SIGINT/SIGTERM.
//   - capture <url>: one-shot capture, prints the result as JSON.
//   - migrate: creates tables and indexes in Postgres.
//   - run-schedules: fires every enabled schedule once, for an external cron trigger.
//
// Configuration comes from an optional --config file, a .env file and ARCHIVER_* environment variables
// (ARCHIVER_STORAGE_BUCKET, ARCHIVER_DB_DSN, ARCHIVER_AUTH_JWKS_URL, ...). PORT overrides server.port.
package cmd
