package repository

var postgresQueries = statusQueries{
	initPending: `INSERT INTO item_status (source, item_id, state, last_updated)
		VALUES ($1, $2, 'pending', $3)
		ON CONFLICT (source, item_id) DO NOTHING`,

	resetStuck: `UPDATE item_status SET state = 'pending', last_updated = $1
		WHERE source = $2 AND state = $3`,

	pendingIDs: `SELECT item_id FROM item_status
		WHERE source = $1 AND state = 'pending'
		ORDER BY item_id`,

	markProcessing: `UPDATE item_status SET state = 'processing', last_updated = $1
		WHERE source = $2 AND item_id = $3 AND state = 'pending'`,

	markCompleted: `INSERT INTO item_status (source, item_id, state, price_count, last_updated)
		VALUES ($1, $2, 'completed', $3, $4)
		ON CONFLICT (source, item_id) DO UPDATE SET
			state = EXCLUDED.state,
			price_count = EXCLUDED.price_count,
			price_error = NULL,
			price_url = NULL,
			last_updated = EXCLUDED.last_updated`,

	markError: `INSERT INTO item_status (source, item_id, state, price_error, price_url, last_updated)
		VALUES ($1, $2, 'error', $3, $4, $5)
		ON CONFLICT (source, item_id) DO UPDATE SET
			state = EXCLUDED.state,
			price_error = EXCLUDED.price_error,
			price_url = EXCLUDED.price_url,
			last_updated = EXCLUDED.last_updated`,

	selectState: `SELECT state FROM item_status WHERE source = $1 AND item_id = $2 FOR UPDATE`,

	upsertCCU: `INSERT INTO item_status (source, item_id, state, ccu_count, ccu_error, ccu_url, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, item_id) DO UPDATE SET
			state = EXCLUDED.state,
			ccu_count = EXCLUDED.ccu_count,
			ccu_error = EXCLUDED.ccu_error,
			ccu_url = EXCLUDED.ccu_url,
			last_updated = EXCLUDED.last_updated`,

	upsertPrice: `INSERT INTO item_status (source, item_id, state, price_count, price_error, price_url, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source, item_id) DO UPDATE SET
			state = EXCLUDED.state,
			price_count = EXCLUDED.price_count,
			price_error = EXCLUDED.price_error,
			price_url = EXCLUDED.price_url,
			last_updated = EXCLUDED.last_updated`,

	setCurrencies: `UPDATE item_status SET currencies = $1, last_updated = $2
		WHERE source = $3 AND item_id = $4`,

	selectErrored: `SELECT item_id FROM item_status
		WHERE source = $1 AND state LIKE '%error'
		ORDER BY item_id`,

	resetErrored: `UPDATE item_status SET
			state = 'pending',
			ccu_error = NULL,
			price_error = NULL,
			ccu_url = NULL,
			price_url = NULL,
			last_updated = $1
		WHERE source = $2 AND state LIKE '%error'`,

	insertCCU: `INSERT INTO ccu_history (item_id, recorded_at, players, value_type)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (item_id, recorded_at, value_type) DO NOTHING`,

	insertPrice: `INSERT INTO price_history (item_id, recorded_at, price_final, currency_code, currency_symbol, currency_name)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (item_id, recorded_at, currency_code) DO NOTHING`,

	insertErrorLog: `INSERT INTO error_log (id, source, item_id, error_type, message, url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,

	recentErrors: `SELECT id, source, item_id, error_type, message, url, created_at
		FROM error_log
		WHERE source = $1
		ORDER BY created_at DESC
		LIMIT $2`,

	stats: `SELECT state, COUNT(1), COALESCE(SUM(ccu_count), 0), COALESCE(SUM(price_count), 0)
		FROM item_status
		WHERE source = $1
		GROUP BY state`,

	get: `SELECT source, item_id, state, ccu_count, price_count, ccu_error, price_error, ccu_url, price_url, currencies, last_updated
		FROM item_status
		WHERE source = $1 AND item_id = $2`,
}
