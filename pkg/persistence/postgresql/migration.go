package postgresql

// migrations returns the schema migrations keyed by version.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS entities (
				id TEXT NOT NULL,
				kind TEXT NOT NULL,
				status TEXT NOT NULL,
				laboratory_id TEXT NOT NULL,
				name TEXT NOT NULL DEFAULT '',
				metadata JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (kind, id)
			);

			CREATE INDEX IF NOT EXISTS idx_entities_laboratory
				ON entities (kind, laboratory_id);

			CREATE TABLE IF NOT EXISTS transition_records (
				id UUID PRIMARY KEY,
				kind TEXT NOT NULL,
				object_id TEXT NOT NULL,
				from_status TEXT NOT NULL,
				to_status TEXT NOT NULL,
				performed_by TEXT NOT NULL,
				actor_role TEXT NOT NULL,
				comment TEXT NOT NULL DEFAULT '',
				forced BOOLEAN NOT NULL DEFAULT FALSE,
				laboratory_id TEXT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_transition_records_entry
				ON transition_records (kind, object_id, to_status, created_at DESC);

			CREATE TABLE IF NOT EXISTS alert_records (
				id UUID PRIMARY KEY,
				kind TEXT NOT NULL,
				object_id TEXT NOT NULL,
				state TEXT NOT NULL,
				severity TEXT NOT NULL DEFAULT '',
				threshold_seconds BIGINT NOT NULL DEFAULT 0,
				duration_seconds BIGINT NOT NULL DEFAULT 0,
				triggered_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				resolved_at TIMESTAMP WITH TIME ZONE,
				created_by TEXT NOT NULL DEFAULT ''
			);

			CREATE UNIQUE INDEX IF NOT EXISTS uq_alert_records_open
				ON alert_records (kind, object_id, state)
				WHERE resolved_at IS NULL;

			CREATE INDEX IF NOT EXISTS idx_alert_records_object
				ON alert_records (kind, object_id);
		`,
	}
}
