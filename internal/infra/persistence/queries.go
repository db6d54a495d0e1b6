package persistence

const ledgerTable = "audit_records"

// Prepared statement names
const (
	stmtHead   = "audit_head"
	stmtInsert = "audit_insert"
	stmtList   = "audit_list"
	stmtCount  = "audit_count"
)

const recordColumns = `sequence_number, recorded_at, previous_hash, entry_hash, chain_hash, data, signature, signature_key_id`

var postgresQueries = map[string]string{
	stmtHead: `
		SELECT ` + recordColumns + `
		FROM audit_records
		ORDER BY sequence_number DESC
		LIMIT 1`,

	stmtInsert: `
		INSERT INTO audit_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,

	stmtList: `
		SELECT ` + recordColumns + `
		FROM audit_records
		WHERE sequence_number >= $1
		ORDER BY sequence_number ASC
		LIMIT $2`,

	stmtCount: `SELECT COUNT(*) FROM audit_records`,
}

var sqliteQueries = map[string]string{
	stmtHead: `
		SELECT ` + recordColumns + `
		FROM audit_records
		ORDER BY sequence_number DESC
		LIMIT 1`,

	stmtInsert: `
		INSERT INTO audit_records (` + recordColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,

	stmtList: `
		SELECT ` + recordColumns + `
		FROM audit_records
		WHERE sequence_number >= ?
		ORDER BY sequence_number ASC
		LIMIT ?`,

	stmtCount: `SELECT COUNT(*) FROM audit_records`,
}

// postgresLimit maps a non-positive limit to LIMIT NULL, which is unbounded.
func postgresLimit(limit int) *int64 {
	if limit <= 0 {
		return nil
	}
	n := int64(limit)
	return &n
}

// sqliteLimit maps a non-positive limit to LIMIT -1, which is unbounded.
func sqliteLimit(limit int) int64 {
	if limit <= 0 {
		return -1
	}
	return int64(limit)
}
