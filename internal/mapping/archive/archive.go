// Package archive persists a submap store to a SQLite file so a mapping
// session can be saved and resumed.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/submap.report/internal/mapping"
	"github.com/banshee-data/submap.report/internal/mapping/submap"
)

const schema = `
	CREATE TABLE IF NOT EXISTS submaps (
		submap_id BIGINT PRIMARY KEY,
		pose_rw DOUBLE, pose_rx DOUBLE, pose_ry DOUBLE, pose_rz DOUBLE,
		pose_tx DOUBLE, pose_ty DOUBLE, pose_tz DOUBLE,
		layer BLOB,
		recording_start_ns BIGINT,
		recording_end_ns BIGINT
	);
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT
	);
`

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Save writes every submap in the store to the archive at path, replacing
// any previous contents of the file.
func Save(path string, st *submap.Store) error {
	db, err := open(path)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", path, err)
	}
	defer db.Close()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM submaps"); err != nil {
		return err
	}
	for _, id := range st.IDs() {
		s := st.ByID(id)
		payload, err := s.Layer().MarshalBinary()
		if err != nil {
			return fmt.Errorf("serialize submap %d: %w", id, err)
		}
		pose := s.Pose()
		start, end := s.RecordingSpan()
		_, err = tx.Exec(`INSERT INTO submaps
			(submap_id, pose_rw, pose_rx, pose_ry, pose_rz, pose_tx, pose_ty, pose_tz,
			 layer, recording_start_ns, recording_end_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(id),
			pose.Rotation.Real, pose.Rotation.Imag, pose.Rotation.Jmag, pose.Rotation.Kmag,
			pose.Translation.X, pose.Translation.Y, pose.Translation.Z,
			payload, start.UnixNano(), end.UnixNano())
		if err != nil {
			return fmt.Errorf("store submap %d: %w", id, err)
		}
	}

	active := int64(0)
	if id, ok := st.ActiveID(); ok {
		active = int64(id)
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta (key, value) VALUES
		('active_id', ?), ('saved_at', ?)`,
		fmt.Sprint(active), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

// Load reads an archive and returns its submap records and the active
// submap ID recorded at save time.
func Load(path string) ([]*submap.Submap, submap.ID, error) {
	db, err := open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer db.Close()

	rows, err := db.Query(`SELECT submap_id,
		pose_rw, pose_rx, pose_ry, pose_rz, pose_tx, pose_ty, pose_tz,
		layer, recording_start_ns, recording_end_ns
		FROM submaps ORDER BY submap_id`)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var records []*submap.Submap
	for rows.Next() {
		var (
			id                     int64
			rw, rx, ry, rz         float64
			tx, ty, tz             float64
			payload                []byte
			startNano, endNano     int64
		)
		if err := rows.Scan(&id, &rw, &rx, &ry, &rz, &tx, &ty, &tz,
			&payload, &startNano, &endNano); err != nil {
			return nil, 0, err
		}
		layer, err := submap.UnmarshalLayer(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("submap %d layer: %w", id, err)
		}
		pose := mapping.NewTransform(
			quat.Number{Real: rw, Imag: rx, Jmag: ry, Kmag: rz},
			r3.Vec{X: tx, Y: ty, Z: tz})
		rec := submap.NewSubmap(submap.ID(id), pose, layer)
		rec.StartRecording(time.Unix(0, startNano))
		rec.EndRecording(time.Unix(0, endNano))
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(records) == 0 {
		return nil, 0, fmt.Errorf("archive %s holds no submaps", path)
	}

	var activeStr string
	err = db.QueryRow("SELECT value FROM meta WHERE key = 'active_id'").Scan(&activeStr)
	if err != nil {
		return nil, 0, fmt.Errorf("archive %s missing active submap: %w", path, err)
	}
	var active int64
	if _, err := fmt.Sscan(activeStr, &active); err != nil {
		return nil, 0, fmt.Errorf("bad active submap id %q: %w", activeStr, err)
	}
	return records, submap.ID(active), nil
}
