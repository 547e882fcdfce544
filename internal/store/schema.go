package store

const schemaSQL = `
-- Lookup table for the four request lifecycle states.
CREATE TABLE IF NOT EXISTS request_status (
    rs_id INTEGER PRIMARY KEY,
    rs_name TEXT NOT NULL UNIQUE
);

INSERT OR IGNORE INTO request_status (rs_id, rs_name) VALUES
    (1, 'open'), (2, 'running'), (3, 'done'), (4, 'error');

CREATE TABLE IF NOT EXISTS locations (
    l_id INTEGER PRIMARY KEY AUTOINCREMENT,
    l_iso TEXT NOT NULL UNIQUE,
    l_name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS keyword_topics (
    kt_id INTEGER PRIMARY KEY AUTOINCREMENT,
    kt_name TEXT NOT NULL UNIQUE
);

-- A keyword is either a plain query (k_title and kt_id NULL) or a topic
-- reference (both set).
CREATE TABLE IF NOT EXISTS keywords (
    k_id INTEGER PRIMARY KEY AUTOINCREMENT,
    k_q TEXT NOT NULL UNIQUE,
    k_title TEXT,
    kt_id INTEGER REFERENCES keyword_topics(kt_id),
    k_added DATETIME NOT NULL,
    CHECK ((k_title IS NULL) = (kt_id IS NULL))
);

CREATE TABLE IF NOT EXISTS fetchers (
    f_id INTEGER PRIMARY KEY AUTOINCREMENT,
    f_name TEXT NOT NULL,
    f_host TEXT NOT NULL,
    UNIQUE (f_name, f_host)
);

CREATE TABLE IF NOT EXISTS requests (
    r_id INTEGER PRIMARY KEY AUTOINCREMENT,
    r_who TEXT NOT NULL DEFAULT '',
    r_when DATETIME NOT NULL,
    r_use TEXT NOT NULL DEFAULT 'web',
    r_prio INTEGER NOT NULL DEFAULT 0,
    r_geo INTEGER REFERENCES locations(l_id),
    r_tf_start DATETIME NOT NULL,
    r_tf_end DATETIME NOT NULL,
    r_status INTEGER NOT NULL DEFAULT 1 REFERENCES request_status(rs_id),
    r_notbefore DATETIME NOT NULL,
    r_notafter DATETIME NOT NULL,
    r_ts DATETIME,
    r_fetcher INTEGER REFERENCES fetchers(f_id),
    r_note TEXT,
    CHECK (r_tf_start < r_tf_end)
);

CREATE INDEX IF NOT EXISTS idx_requests_claim
    ON requests(r_status, r_prio, r_notafter);

CREATE TABLE IF NOT EXISTS keywords_in_request (
    r_id INTEGER NOT NULL REFERENCES requests(r_id),
    k_id INTEGER NOT NULL REFERENCES keywords(k_id),
    UNIQUE (r_id, k_id)
);

CREATE TABLE IF NOT EXISTS keywords_related (
    r_id INTEGER NOT NULL REFERENCES requests(r_id),
    k_id INTEGER NOT NULL REFERENCES keywords(k_id),
    kr_kw INTEGER NOT NULL REFERENCES keywords(k_id),
    kr_istop BOOLEAN NOT NULL,
    kr_value INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_keywords_related_request
    ON keywords_related(r_id);

-- Sample vectors are JSON integer arrays.
CREATE TABLE IF NOT EXISTS trends_time (
    t_id INTEGER PRIMARY KEY AUTOINCREMENT,
    r_id INTEGER NOT NULL REFERENCES requests(r_id),
    k_id INTEGER NOT NULL REFERENCES keywords(k_id),
    t_v TEXT NOT NULL,
    UNIQUE (r_id, k_id)
);

CREATE TABLE IF NOT EXISTS trends_geo_scopes (
    gs_id INTEGER PRIMARY KEY,
    gs_name TEXT NOT NULL UNIQUE
);

INSERT OR IGNORE INTO trends_geo_scopes (gs_id, gs_name) VALUES
    (1, 'country'), (2, 'states'), (3, 'region'), (4, 'dma');

CREATE TABLE IF NOT EXISTS trends_geo (
    g_id INTEGER PRIMARY KEY AUTOINCREMENT,
    r_id INTEGER NOT NULL REFERENCES requests(r_id),
    l_id INTEGER NOT NULL REFERENCES locations(l_id),
    k_id INTEGER NOT NULL REFERENCES keywords(k_id),
    gs_id INTEGER NOT NULL REFERENCES trends_geo_scopes(gs_id),
    g_v INTEGER NOT NULL,
    UNIQUE (r_id, l_id, k_id)
);

-- Staging table for fetched-but-not-yet-ingested payloads. Acts as a
-- write-ahead log: rows are deleted only after the structured records
-- have been committed.
CREATE TABLE IF NOT EXISTS raw_fetcher_output (
    rfo_id INTEGER PRIMARY KEY AUTOINCREMENT,
    rfo_raw TEXT NOT NULL,
    f_id INTEGER NOT NULL REFERENCES fetchers(f_id),
    r_id INTEGER NOT NULL REFERENCES requests(r_id),
    k_id INTEGER NOT NULL REFERENCES keywords(k_id),
    rfo_ts DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
    tg_id INTEGER PRIMARY KEY AUTOINCREMENT,
    tg_name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS request_tags (
    r_id INTEGER NOT NULL REFERENCES requests(r_id),
    tg_id INTEGER NOT NULL REFERENCES tags(tg_id),
    UNIQUE (r_id, tg_id)
);
`
