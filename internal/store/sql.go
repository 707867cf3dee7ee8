package store

// schemaDDL creates the event log, command record and processor
// progress tables. Plain CREATE TABLE/FUNCTION DDL, not a migration
// framework — spec §1 explicitly excludes "Flyway-style schema
// migrations" from the core's scope (see DESIGN.md).
const schemaDDL = `
CREATE TABLE IF NOT EXISTS events (
	position     BIGSERIAL PRIMARY KEY,
	tx_id        BIGINT NOT NULL,
	type         TEXT NOT NULL,
	tags         TEXT[] NOT NULL DEFAULT '{}',
	data         BYTEA NOT NULL,
	occurred_at  TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS idx_events_type ON events (type);
CREATE INDEX IF NOT EXISTS idx_events_tags ON events USING GIN (tags);
CREATE INDEX IF NOT EXISTS idx_events_tx_id ON events (tx_id);

CREATE TABLE IF NOT EXISTS commands (
	tx_id         BIGINT NOT NULL,
	command_type  TEXT NOT NULL,
	data          BYTEA,
	metadata      BYTEA,
	occurred_at   TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);

CREATE INDEX IF NOT EXISTS idx_commands_tx_id ON commands (tx_id);

CREATE TABLE IF NOT EXISTS processor_progress (
	processor_id   TEXT PRIMARY KEY,
	last_position  BIGINT NOT NULL DEFAULT 0,
	status         TEXT NOT NULL DEFAULT 'ACTIVE',
	error_count    INT NOT NULL DEFAULT 0,
	last_error     TEXT,
	instance_id    TEXT,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// appendFunctionDDL installs the append-time concurrency guard as a
// single PL/pgSQL function so the EXISTS check, the advisory lock and
// the insert all run inside one statement, in one transaction (spec
// §4.1 Isolation). Grounded on the teacher's append_events_with_condition
// / append_events_batch functions (pkg/dcb/append.go,
// pkg/dcb/store_implementation.go), adapted to the "key=value" tag wire
// form and to raise P0001 on guard violation per spec §4.1/§7.
const appendFunctionDDL = `
CREATE OR REPLACE FUNCTION append_events_with_condition(
	p_types text[],
	p_tags text[],
	p_data bytea[],
	p_condition jsonb
) RETURNS jsonb AS $$
DECLARE
	v_after_position bigint := 0;
	v_guard_query jsonb;
	v_lock_key bigint;
	v_exists boolean;
	v_tx_id bigint := pg_current_xact_id()::text::bigint;
	v_max_position bigint;
	i int;
BEGIN
	IF p_types IS NULL OR array_length(p_types, 1) IS NULL THEN
		RAISE EXCEPTION 'events batch must not be empty' USING ERRCODE = '22023';
	END IF;

	IF p_condition IS NOT NULL THEN
		v_guard_query := p_condition -> 'fail_if_events_match';
		v_after_position := COALESCE((p_condition -> 'after_cursor' ->> 'position')::bigint, 0);

		IF v_guard_query IS NOT NULL AND jsonb_array_length(COALESCE(v_guard_query -> 'items', '[]'::jsonb)) > 0 THEN
			-- Serialize every guarded append on one fixed key, so two appendIf
			-- calls whose guards overlap (identical or not) cannot evaluate
			-- EXISTS concurrently.
			v_lock_key := hashtextextended('append_events_with_condition', 0);
			PERFORM pg_advisory_xact_lock(v_lock_key);

			SELECT EXISTS (
				SELECT 1
				FROM events e
				WHERE e.position > v_after_position
				AND EXISTS (
					SELECT 1
					FROM jsonb_array_elements(v_guard_query -> 'items') AS item
					WHERE (
						jsonb_array_length(COALESCE(item -> 'event_types', '[]'::jsonb)) = 0
						OR e.type = ANY (ARRAY(SELECT jsonb_array_elements_text(item -> 'event_types')))
					)
					AND e.tags @> (
						SELECT COALESCE(array_agg((t ->> 'key') || '=' || (t ->> 'value')), ARRAY[]::text[])
						FROM jsonb_array_elements(COALESCE(item -> 'tags', '[]'::jsonb)) AS t
					)
				)
			) INTO v_exists;

			IF v_exists THEN
				RAISE EXCEPTION 'append condition violated: an event matching the guard query was written after position %', v_after_position
					USING ERRCODE = 'P0001';
			END IF;
		END IF;
	END IF;

	FOR i IN 1 .. array_length(p_types, 1) LOOP
		INSERT INTO events (tx_id, type, tags, data)
		VALUES (v_tx_id, p_types[i], p_tags[i]::text[], p_data[i]);
	END LOOP;

	SELECT max(position) INTO v_max_position FROM events WHERE tx_id = v_tx_id;

	RETURN jsonb_build_object('success', true, 'position', v_max_position, 'tx_id', v_tx_id);
END;
$$ LANGUAGE plpgsql;
`
