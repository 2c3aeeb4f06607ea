package env

import (
	"bytes"

	"github.com/nainya/hamsterdb/pkg/herr"
)

// CheckIntegrity walks every database's tree verifying keys are stored
// in ascending order and every record it points at (BLOB or duplicate
// table) actually resolves — the original API's ham_db_check_integrity,
// offered here as a standalone diagnostic rather than something run
// implicitly on every open.
func (env *Environment) CheckIntegrity() error {
	env.mu.Lock()
	defer env.mu.Unlock()

	entries, err := env.loadDirectory()
	if err != nil {
		return err
	}

	for _, e := range entries {
		db := env.newDatabase(e.name, e.root)
		if err := db.checkIntegrityLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) checkIntegrityLocked() error {
	var prev []byte
	var first = true
	var walkErr error

	db.tree.Scan(nil, func(key, raw []byte) bool {
		if !first && bytes.Compare(key, prev) <= 0 {
			walkErr = herr.New("env.CheckIntegrity", herr.CodeIntegrityViolated)
			return false
		}
		first = false
		prev = append(prev[:0], key...)

		if _, err := db.materialize(raw); err != nil {
			walkErr = err
			return false
		}
		return true
	})
	return walkErr
}
