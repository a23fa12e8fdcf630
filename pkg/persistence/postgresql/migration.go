package postgresql

import "github.com/dukex/automata/pkg/persistence/sqlbase"

func migrations() []sqlbase.Migration {
	return []sqlbase.Migration{
		{Version: 1, Name: "workflows and runs", SQL: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				category VARCHAR(255) NOT NULL DEFAULT '',
				is_template BOOLEAN NOT NULL DEFAULT false,
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused')),
				trigger_type VARCHAR(50) NOT NULL CHECK (trigger_type IN ('manual', 'event', 'webhook', 'schedule')),
				trigger_config JSONB,
				nodes JSON NOT NULL DEFAULT '[]',
				edges JSON NOT NULL DEFAULT '[]',
				error_handling VARCHAR(50) NOT NULL CHECK (error_handling IN ('continue', 'retry', 'halt')),
				max_retries INT NOT NULL DEFAULT 0 CHECK (max_retries >= 0),
				run_count BIGINT NOT NULL DEFAULT 0,
				success_count BIGINT NOT NULL DEFAULT 0,
				error_count BIGINT NOT NULL DEFAULT 0,
				last_run_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflows_trigger_type ON workflows(trigger_type);
			CREATE INDEX idx_workflows_status ON workflows(status);

			CREATE TABLE runs (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id),
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				trigger_type VARCHAR(50) NOT NULL,
				trigger_data JSONB,
				started_at TIMESTAMP WITH TIME ZONE,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_runs_workflow_created ON runs(workflow_id, created_at DESC);
		`},
		{Version: 2, Name: "steps and run aggregations", SQL: `
			CREATE TABLE steps (
				id VARCHAR(255) PRIMARY KEY,
				run_id VARCHAR(255) NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE,
				duration_ms BIGINT NOT NULL DEFAULT 0,
				output JSONB,
				error TEXT NOT NULL DEFAULT '',
				attempt INT NOT NULL CHECK (attempt >= 1),
				sequence INT NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_steps_run ON steps(run_id, started_at, sequence);
			CREATE INDEX idx_steps_run_node ON steps(run_id, node_id, attempt DESC);

			CREATE TABLE run_aggregations (
				run_id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL,
				aggregated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`},
	}
}
