package store

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    key        TEXT PRIMARY KEY,
    body       TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS archive_items (
    day         TEXT NOT NULL,
    category    TEXT NOT NULL,
    item_id     TEXT NOT NULL,
    sort_time   INTEGER NOT NULL,
    archived_at INTEGER NOT NULL,
    body        TEXT NOT NULL,
    PRIMARY KEY (day, category, item_id)
);

CREATE INDEX IF NOT EXISTS idx_archive_category_archived ON archive_items(category, archived_at);
CREATE INDEX IF NOT EXISTS idx_archive_day ON archive_items(day);

CREATE TABLE IF NOT EXISTS seen_items (
    category TEXT NOT NULL,
    item_id  TEXT NOT NULL,
    seen_at  INTEGER NOT NULL,
    PRIMARY KEY (category, item_id)
);

CREATE INDEX IF NOT EXISTS idx_seen_at ON seen_items(seen_at);
`
