package migrations

func init() {
	Register(Migration{
		Timestamp:   "20260101-000000",
		Description: "Initial schema",
		Up: []string{
			// Jobs - the Job Store (spec.md §5): one row per admitted document,
			// mutated only through the repository's field-scoped Patch.
			`CREATE TABLE IF NOT EXISTS jobs (
				id TEXT PRIMARY KEY,
				tenant_id TEXT NOT NULL,
				type TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',

				blob_key TEXT,
				source_url TEXT,
				pending_upload TEXT,

				file_name TEXT,
				mime_type TEXT,
				file_size INTEGER DEFAULT 0,

				schema_ref TEXT,
				hints TEXT,

				markdown_result TEXT,
				json_result TEXT,

				error_code TEXT,
				error_message TEXT,

				attempts_made INTEGER NOT NULL DEFAULT 0,
				max_attempts INTEGER NOT NULL DEFAULT 3,

				processing_time_ms INTEGER DEFAULT 0,
				page_count INTEGER DEFAULT 0,
				llm_model TEXT,
				token_count INTEGER DEFAULT 0,

				webhook_url TEXT,

				started_at TEXT,
				completed_at TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				deleted_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_tenant_id ON jobs(tenant_id)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
			`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,

			// Webhook deliveries - one row per delivery attempt of a job's
			// terminal event, supplemental to spec.md's required surface.
			`CREATE TABLE IF NOT EXISTS webhook_deliveries (
				id TEXT PRIMARY KEY,
				job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
				event_type TEXT NOT NULL,
				url TEXT NOT NULL,
				payload_json TEXT NOT NULL,
				status_code INTEGER,
				status TEXT NOT NULL DEFAULT 'pending',
				error_message TEXT,
				attempt_number INTEGER NOT NULL DEFAULT 1,
				max_attempts INTEGER NOT NULL DEFAULT 5,
				next_retry_at TEXT,
				created_at TEXT NOT NULL,
				delivered_at TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_job_id ON webhook_deliveries(job_id)`,
			`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_status ON webhook_deliveries(status)`,
		},
	})
}
