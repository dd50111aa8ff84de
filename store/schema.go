package store

// Schema notes:
//   - media.exact_hash is UNIQUE so two concurrent ingests of identical
//     bytes cannot both commit; the loser sees a constraint violation
//     and re-runs dedup.
//   - hash_buckets.media_id is the primary key, which makes bucket
//     inserts naturally idempotent per record via upsert.
//   - hash_buckets rows are removed in the same transaction as their
//     owning media row (ON DELETE CASCADE).
const schema = `
CREATE TABLE IF NOT EXISTS media (
	id           INTEGER PRIMARY KEY,
	exact_hash   TEXT NOT NULL UNIQUE,
	visual_hash  TEXT,
	file_path    TEXT NOT NULL,
	mime_type    TEXT NOT NULL,
	kind         INTEGER NOT NULL DEFAULT 0,
	uploader     TEXT NOT NULL DEFAULT '',
	origin       TEXT NOT NULL DEFAULT '',
	usage_count  INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_media_visual_hash ON media(visual_hash) WHERE visual_hash IS NOT NULL;

CREATE TABLE IF NOT EXISTS hash_buckets (
	media_id     INTEGER PRIMARY KEY,
	bucket_key   TEXT NOT NULL,
	visual_hash  TEXT NOT NULL,
	FOREIGN KEY (media_id) REFERENCES media(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_hash_buckets_key ON hash_buckets(bucket_key);
`
