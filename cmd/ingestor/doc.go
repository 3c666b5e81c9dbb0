// Package main hosts the ingestor entrypoint.
//
// Architecture overview:
//   - Fetch: internal/fetcher/newsapi issues one rate-limited search per job.
//   - Dedup: content hashes (first 16 hex chars of SHA-256 over title|url) are
//     batch-checked against the shared cache before any work and marked after
//     the analytical write succeeds.
//   - Store: every fetched record goes to the raw tier as one JSON object; valid
//     articles go to the normalized tier as Snappy Parquet, one file per source,
//     under year=/month=/day=/source= partitions.
//   - Delivery: jobs arrive over HTTP, from cron schedules, or from a Pub/Sub
//     subscription; an in-memory queue with retries and dead letters serves
//     single-instance deployments.
//
// Quick checklist:
//   - Configure env vars: INGEST_FETCHER_API_KEY, INGEST_DEDUP_URL and
//     INGEST_DEDUP_TOKEN, INGEST_STORAGE_BACKEND with its buckets, and
//     INGEST_DATABASE_DSN when the run ledger should outlive the process.
//   - Run locally: go run ./cmd/ingestor serve --config config.yaml
//   - One-off or backfill: go run ./cmd/ingestor ingest -q bitcoin --at 2026-02-06T14:00:00Z
package main
