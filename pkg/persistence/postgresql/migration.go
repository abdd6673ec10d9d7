package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE automations (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				trigger_type VARCHAR(50) NOT NULL,
				condition JSONB,
				recurrence JSONB,
				steps JSONB NOT NULL DEFAULT '[]',
				active BOOLEAN NOT NULL DEFAULT false,
				runs_started BIGINT NOT NULL DEFAULT 0,
				runs_completed BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_automations_trigger_type ON automations(trigger_type) WHERE active;
			CREATE INDEX idx_automations_tenant_id ON automations(tenant_id);

			CREATE TABLE runs (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				automation_id UUID NOT NULL REFERENCES automations(id),
				entity_id VARCHAR(255) NOT NULL,
				status VARCHAR(20) NOT NULL CHECK (status IN ('RUNNING', 'WAITING', 'COMPLETED', 'FAILED')),
				current_step_index INT NOT NULL DEFAULT 0,
				context JSONB,
				log JSONB NOT NULL DEFAULT '[]',
				due_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			-- The scheduler's due-run query and the recurrence gate lookup.
			CREATE INDEX idx_runs_due ON runs(due_at) WHERE status = 'WAITING';
			CREATE INDEX idx_runs_gate ON runs(automation_id, entity_id, created_at);

			CREATE TABLE entities (
				id VARCHAR(255) NOT NULL,
				tenant_id VARCHAR(255) NOT NULL,
				email VARCHAR(255) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL DEFAULT '',
				fields JSONB NOT NULL DEFAULT '{}',
				PRIMARY KEY (tenant_id, id)
			);
		`,
	}
}
