package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"

	"coredb/internal/dberrors"
	"coredb/internal/logging"
)

// New creates a checkpoint manager writing under dbPath.
func New(dbPath string) (*Manager, error) {
	return &Manager{checkpointPath: filepath.Join(dbPath, "checkpoint.json")}, nil
}

// Save atomically persists a checkpoint: write-temp, fsync, rename, then
// fsync the containing directory so the rename itself is durable.
func (cm *Manager) Save(lsn uint64, database string, activeTxns []ActiveTxnEntry, now int64) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cp := Checkpoint{
		LSN:        lsn,
		Timestamp:  now,
		Database:   database,
		ActiveTxns: activeTxns,
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return dberrors.Wrap(dberrors.ErrIoError, "marshal checkpoint")
	}

	tempPath := cm.checkpointPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return dberrors.Wrap(dberrors.ErrIoError, "write temp checkpoint")
	}

	tempFile, err := os.OpenFile(tempPath, os.O_RDWR, 0644)
	if err != nil {
		return dberrors.Wrap(dberrors.ErrIoError, "reopen temp checkpoint")
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return dberrors.Wrap(dberrors.ErrIoError, "sync temp checkpoint")
	}
	tempFile.Close()

	if err := os.Rename(tempPath, cm.checkpointPath); err != nil {
		return dberrors.Wrap(dberrors.ErrIoError, "rename checkpoint into place")
	}

	if dir, err := os.Open(filepath.Dir(cm.checkpointPath)); err == nil {
		dir.Sync()
		dir.Close()
	}

	logging.Info("checkpoint.save", "lsn", lsn, "database", database, "activeTxns", len(activeTxns))
	return nil
}

// Load reads the last checkpoint, or a zero-value one (LSN 0, no active
// transactions) if none exists yet or the file is corrupted.
func (cm *Manager) Load() (*Checkpoint, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if _, err := os.Stat(cm.checkpointPath); os.IsNotExist(err) {
		return &Checkpoint{}, nil
	}

	data, err := os.ReadFile(cm.checkpointPath)
	if err != nil {
		return nil, dberrors.Wrap(dberrors.ErrIoError, "read checkpoint")
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		logging.Warn("checkpoint.corrupted", "path", cm.checkpointPath)
		return &Checkpoint{}, nil
	}

	logging.Info("checkpoint.load", "lsn", cp.LSN, "activeTxns", len(cp.ActiveTxns))
	return &cp, nil
}

// Delete removes the checkpoint file, if any.
func (cm *Manager) Delete() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if err := os.Remove(cm.checkpointPath); err != nil && !os.IsNotExist(err) {
		return dberrors.Wrap(dberrors.ErrIoError, "delete checkpoint")
	}
	return nil
}
