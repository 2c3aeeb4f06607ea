package env

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/nainya/hamsterdb/pkg/herr"
	"github.com/nainya/hamsterdb/pkg/txn"
)

// dirEntry is one named database's directory record: its B-tree root
// page and the flags it was created with. The directory itself is
// stored as a BLOB (env.dirID), the same "small structure riding on the
// page store" technique pkg/blob.DupTable uses for duplicate lists.
type dirEntry struct {
	name  string
	root  uint64
	flags uint32
}

const maxDBNameLen = 255

func encodeDirectory(entries []dirEntry) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(entries)))
	for _, e := range entries {
		rec := make([]byte, 1+len(e.name)+8+4)
		rec[0] = byte(len(e.name))
		copy(rec[1:], e.name)
		binary.LittleEndian.PutUint64(rec[1+len(e.name):], e.root)
		binary.LittleEndian.PutUint32(rec[1+len(e.name)+8:], e.flags)
		buf = append(buf, rec...)
	}
	return buf
}

func decodeDirectory(data []byte) ([]dirEntry, error) {
	if len(data) < 4 {
		return nil, herr.New("env.decodeDirectory", herr.CodeIntegrityViolated)
	}
	count := binary.LittleEndian.Uint32(data[0:4])
	pos := 4
	entries := make([]dirEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos >= len(data) {
			return nil, herr.New("env.decodeDirectory", herr.CodeIntegrityViolated)
		}
		nameLen := int(data[pos])
		pos++
		if pos+nameLen+12 > len(data) {
			return nil, herr.New("env.decodeDirectory", herr.CodeIntegrityViolated)
		}
		name := string(data[pos : pos+nameLen])
		pos += nameLen
		root := binary.LittleEndian.Uint64(data[pos:])
		pos += 8
		flags := binary.LittleEndian.Uint32(data[pos:])
		pos += 4
		entries = append(entries, dirEntry{name: name, root: root, flags: flags})
	}
	return entries, nil
}

func (env *Environment) loadDirectory() ([]dirEntry, error) {
	data, err := env.blobs.Read(env.dirID)
	if err != nil {
		return nil, err
	}
	return decodeDirectory(data)
}

func (env *Environment) saveDirectory(entries []dirEntry) error {
	newID, err := env.blobs.Alloc(encodeDirectory(entries))
	if err != nil {
		return err
	}
	_ = env.blobs.Free(env.dirID)
	env.dirID = newID
	return nil
}

// CreateDatabase creates (and opens) a new named database within the
// environment. Its name must be unique, matching the original API's
// ham_env_create_db's DB_ALREADY_EXISTS check.
func (env *Environment) CreateDatabase(name string) (*Database, error) {
	env.mu.Lock()
	defer env.mu.Unlock()

	start := time.Now()
	db, err := env.createDatabaseLocked(name)
	env.log.LogEnvOperation("create_database", time.Since(start), err)
	env.metrics.RecordEnvOperation("create_database", statusOf(err), time.Since(start))
	return db, err
}

func (env *Environment) createDatabaseLocked(name string) (*Database, error) {
	if len(name) == 0 || len(name) > maxDBNameLen {
		return nil, herr.New("env.CreateDatabase", herr.CodeInvalidParameter)
	}

	entries, err := env.loadDirectory()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.name == name {
			return nil, herr.New("env.CreateDatabase", herr.CodeDatabaseAlreadyExists)
		}
	}

	db := env.newDatabase(name, 0)
	entries = append(entries, dirEntry{name: name, root: 0})
	if err := env.saveDirectory(entries); err != nil {
		return nil, err
	}
	if err := env.writeMeta(); err != nil {
		return nil, err
	}

	env.databases[name] = db
	return db, nil
}

// OpenDatabase opens an existing named database.
func (env *Environment) OpenDatabase(name string) (*Database, error) {
	env.mu.Lock()
	defer env.mu.Unlock()

	if db, ok := env.databases[name]; ok {
		return db, nil
	}

	entries, err := env.loadDirectory()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.name == name {
			db := env.newDatabase(name, e.root)
			env.databases[name] = db
			return db, nil
		}
	}
	return nil, herr.New("env.OpenDatabase", herr.CodeDatabaseNotFound)
}

// RenameDatabase renames an existing database in place; its root page
// and contents are untouched.
func (env *Environment) RenameDatabase(oldName, newName string) error {
	env.mu.Lock()
	defer env.mu.Unlock()

	entries, err := env.loadDirectory()
	if err != nil {
		return err
	}
	found := false
	for i := range entries {
		if entries[i].name == newName {
			return herr.New("env.RenameDatabase", herr.CodeDatabaseAlreadyExists)
		}
		if entries[i].name == oldName {
			entries[i].name = newName
			found = true
		}
	}
	if !found {
		return herr.New("env.RenameDatabase", herr.CodeDatabaseNotFound)
	}

	if err := env.saveDirectory(entries); err != nil {
		return err
	}
	if db, ok := env.databases[oldName]; ok {
		db.name = newName
		env.databases[newName] = db
		delete(env.databases, oldName)
	}
	return env.writeMeta()
}

// EraseDatabase deletes a database and every key it holds. A database
// with an open handle (tracked in env.databases) cannot be erased,
// matching the original API's CURSOR_STILL_OPEN-style guard.
func (env *Environment) EraseDatabase(name string) error {
	env.mu.Lock()
	defer env.mu.Unlock()

	entries, err := env.loadDirectory()
	if err != nil {
		return err
	}
	kept := entries[:0]
	found := false
	var victim dirEntry
	for _, e := range entries {
		if e.name == name {
			found = true
			victim = e
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return herr.New("env.EraseDatabase", herr.CodeDatabaseNotFound)
	}

	db := env.newDatabase(name, victim.root)
	var keys [][]byte
	db.tree.Scan(nil, func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	for _, k := range keys {
		_ = db.freeOldRecord(k)
		db.tree.Delete(k)
	}

	if err := env.saveDirectory(kept); err != nil {
		return err
	}
	delete(env.databases, name)
	return env.writeMeta()
}

// DatabaseNames returns the name of every database currently in the
// environment, sorted — the original API's env_get_database_names.
func (env *Environment) DatabaseNames() ([]string, error) {
	env.mu.Lock()
	defer env.mu.Unlock()

	entries, err := env.loadDirectory()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.name)
	}
	sort.Strings(names)
	return names, nil
}

func (env *Environment) newDatabase(name string, root uint64) *Database {
	db := &Database{env: env, name: name, txns: txn.NewManager()}
	db.txns.OnCommit(func(conflict bool) { env.metrics.RecordTxnOutcome(!conflict, conflict) })
	db.tree.SetRoot(root)
	db.tree.SetCallbacks(
		func(ptr uint64) []byte { return env.pageRead(ptr) },
		func(node []byte) uint64 { return env.pageAlloc(node) },
		func(ptr uint64) { env.pageFree(ptr) },
	)
	db.tree.SetExtKeyCallbacks(
		func(id uint64) []byte { return env.extKeyRead(id) },
		func(key []byte) uint64 { return env.extKeyAlloc(key) },
		func(id uint64) { env.extKeyFree(id) },
	)
	return db
}

// persistRoot writes db's current tree root back into the directory —
// called after every committed mutation, just like kv.go's saveMeta
// captures the tree's root on every Set/Del.
func (env *Environment) persistRoot(db *Database) error {
	entries, err := env.loadDirectory()
	if err != nil {
		return err
	}
	for i := range entries {
		if entries[i].name == db.name {
			entries[i].root = db.tree.GetRoot()
			return env.saveDirectory(entries)
		}
	}
	return herr.New("env.persistRoot", herr.CodeDatabaseNotFound)
}
