package migrate

import "github.com/marcus/ormsync/internal/driver"

func rawDDL(sql string) driver.RawSQL {
	return driver.RawSQL{Query: sql}
}

func selectSnapshotSQL() driver.RawSQL {
	return driver.RawSQL{Query: "SELECT snapshot_json FROM _migrations WHERE id = ?", Params: []any{"snapshot"}}
}

func upsertSnapshotSQL(snapshotJSON, hash string) driver.RawSQL {
	return driver.RawSQL{
		Query: `INSERT INTO _migrations (id, snapshot_json, snapshot_hash) VALUES (?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET snapshot_json = excluded.snapshot_json, snapshot_hash = excluded.snapshot_hash`,
		Params: []any{"snapshot", snapshotJSON, hash},
	}
}
