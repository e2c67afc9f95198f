package repository

var sqliteQueries = statusQueries{
	initPending: `INSERT OR IGNORE INTO item_status (source, item_id, state, last_updated)
		VALUES (?, ?, 'pending', ?)`,

	resetStuck: `UPDATE item_status SET state = 'pending', last_updated = ?
		WHERE source = ? AND state = ?`,

	pendingIDs: `SELECT item_id FROM item_status
		WHERE source = ? AND state = 'pending'
		ORDER BY item_id`,

	markProcessing: `UPDATE item_status SET state = 'processing', last_updated = ?
		WHERE source = ? AND item_id = ? AND state = 'pending'`,

	markCompleted: `INSERT INTO item_status (source, item_id, state, price_count, last_updated)
		VALUES (?, ?, 'completed', ?, ?)
		ON CONFLICT (source, item_id) DO UPDATE SET
			state = excluded.state,
			price_count = excluded.price_count,
			price_error = NULL,
			price_url = NULL,
			last_updated = excluded.last_updated`,

	markError: `INSERT INTO item_status (source, item_id, state, price_error, price_url, last_updated)
		VALUES (?, ?, 'error', ?, ?, ?)
		ON CONFLICT (source, item_id) DO UPDATE SET
			state = excluded.state,
			price_error = excluded.price_error,
			price_url = excluded.price_url,
			last_updated = excluded.last_updated`,

	// sqlite serializes writers, so no row lock is needed.
	selectState: `SELECT state FROM item_status WHERE source = ? AND item_id = ?`,

	upsertCCU: `INSERT INTO item_status (source, item_id, state, ccu_count, ccu_error, ccu_url, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, item_id) DO UPDATE SET
			state = excluded.state,
			ccu_count = excluded.ccu_count,
			ccu_error = excluded.ccu_error,
			ccu_url = excluded.ccu_url,
			last_updated = excluded.last_updated`,

	upsertPrice: `INSERT INTO item_status (source, item_id, state, price_count, price_error, price_url, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source, item_id) DO UPDATE SET
			state = excluded.state,
			price_count = excluded.price_count,
			price_error = excluded.price_error,
			price_url = excluded.price_url,
			last_updated = excluded.last_updated`,

	setCurrencies: `UPDATE item_status SET currencies = ?, last_updated = ?
		WHERE source = ? AND item_id = ?`,

	selectErrored: `SELECT item_id FROM item_status
		WHERE source = ? AND state LIKE '%error'
		ORDER BY item_id`,

	resetErrored: `UPDATE item_status SET
			state = 'pending',
			ccu_error = NULL,
			price_error = NULL,
			ccu_url = NULL,
			price_url = NULL,
			last_updated = ?
		WHERE source = ? AND state LIKE '%error'`,

	insertCCU: `INSERT OR IGNORE INTO ccu_history (item_id, recorded_at, players, value_type)
		VALUES (?, ?, ?, ?)`,

	insertPrice: `INSERT OR IGNORE INTO price_history (item_id, recorded_at, price_final, currency_code, currency_symbol, currency_name)
		VALUES (?, ?, ?, ?, ?, ?)`,

	insertErrorLog: `INSERT INTO error_log (id, source, item_id, error_type, message, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,

	recentErrors: `SELECT id, source, item_id, error_type, message, url, created_at
		FROM error_log
		WHERE source = ?
		ORDER BY created_at DESC
		LIMIT ?`,

	stats: `SELECT state, COUNT(1), COALESCE(SUM(ccu_count), 0), COALESCE(SUM(price_count), 0)
		FROM item_status
		WHERE source = ?
		GROUP BY state`,

	get: `SELECT source, item_id, state, ccu_count, price_count, ccu_error, price_error, ccu_url, price_url, currencies, last_updated
		FROM item_status
		WHERE source = ? AND item_id = ?`,
}
