// Command coredemo is a small CLI wiring the storage-and-recovery core
// end to end: a buffer pool over a file disk manager, a WAL-writing log
// manager satisfying the pool's write-ahead rule, a persistent hash
// index, a demo tuple page, and startup recovery. It replaces the
// teacher's SQL REPL (bplustree/query_parser/query_executor), which sits
// above this core and is out of scope.
package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"coredb/internal/dberrors"
	"coredb/internal/logging"
	"coredb/pkg/bufferpool"
	"coredb/pkg/checkpoint"
	"coredb/pkg/diskmanager"
	"coredb/pkg/hashindex"
	"coredb/pkg/logmgr"
	"coredb/pkg/logrecord"
	"coredb/pkg/page"
	"coredb/pkg/recovery"
	"coredb/pkg/rid"
	"coredb/pkg/tuplepage"
)

const (
	defaultPoolSize  = 64
	defaultBlockSize = 32
	demoTxnID        = 1
)

// meta persists the two root page ids a fresh store needs to remember
// across restarts: coredemo's own bookkeeping, not part of the core.
type meta struct {
	HashHeaderPageID int64 `json:"hash_header_page_id"`
	TuplePageID      int64 `json:"tuple_page_id"`
}

type store struct {
	dir  string
	dm   diskmanager.DiskManager
	bp   *bufferpool.BufferPool
	lm   *logmgr.LogManager
	ck   *checkpoint.Manager
	hash *hashindex.Table

	tuplePageID int64
	lastLSN     uint64
}

func openStore(dir string) (*store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, dberrors.Wrap(dberrors.ErrIoError, "create store dir %s", dir)
	}

	dm, err := diskmanager.Open(filepath.Join(dir, "data.db"), filepath.Join(dir, "wal.log"), page.Size)
	if err != nil {
		return nil, err
	}

	bp := bufferpool.New(defaultPoolSize, dm)

	rm, err := recovery.New(dm, bp)
	if err != nil {
		return nil, err
	}
	defer rm.Close()

	result, err := rm.Run()
	if err != nil {
		return nil, err
	}
	logging.Info("coredemo.recovery", "recordsRead", result.RecordsRead, "redoApplied", result.RedoApplied, "rolledBack", result.TxnsRolledBack)

	lm := logmgr.New(dm, logmgr.DefaultBufferSize, logmgr.DefaultLogTimeout)
	bp.SetWAL(lm)

	ck, err := checkpoint.New(dir)
	if err != nil {
		return nil, err
	}

	m, _, err := loadOrInitMeta(dir, bp, lm)
	if err != nil {
		return nil, err
	}

	table := hashindex.Open(bp, m.HashHeaderPageID, defaultBlockSize)
	s := &store{dir: dir, dm: dm, bp: bp, lm: lm, ck: ck, hash: table, tuplePageID: m.TuplePageID}
	return s, nil
}

// loadOrInitMeta reads coredemo's metadata file, or bootstraps a fresh
// hash table and demo tuple page (logging a NEWPAGE record for the
// latter) the first time a store is opened.
func loadOrInitMeta(dir string, bp *bufferpool.BufferPool, lm *logmgr.LogManager) (meta, bool, error) {
	metaPath := filepath.Join(dir, "coredemo_meta.json")

	if data, err := os.ReadFile(metaPath); err == nil {
		var m meta
		if err := json.Unmarshal(data, &m); err != nil {
			return meta{}, false, dberrors.Wrap(dberrors.ErrCorruption, "parse %s", metaPath)
		}
		return m, false, nil
	}

	table, err := hashindex.New(bp, defaultBlockSize)
	if err != nil {
		return meta{}, false, err
	}

	tuplePg, err := bp.NewPage()
	if err != nil {
		return meta{}, false, err
	}

	beginLSN, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, demoTxnID, logrecord.InvalidLSN))
	if err != nil {
		return meta{}, false, err
	}
	newPageRec := logrecord.NewNewPageRecord(demoTxnID, uint32(beginLSN), page.Invalid, tuplePg.ID)
	lsn, err := lm.Append(newPageRec)
	if err != nil {
		return meta{}, false, err
	}
	if _, err := lm.Append(logrecord.NewTxnRecord(logrecord.TypeCommit, demoTxnID, uint32(lsn))); err != nil {
		return meta{}, false, err
	}

	tuplepage.Init(tuplePg)
	tuplePg.StampLSN(lsn)
	if err := bp.UnpinPage(tuplePg.ID, true); err != nil {
		return meta{}, false, err
	}

	m := meta{HashHeaderPageID: table.HeaderPageID(), TuplePageID: tuplePg.ID}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return meta{}, false, err
	}
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return meta{}, false, dberrors.Wrap(dberrors.ErrIoError, "write %s", metaPath)
	}
	return m, true, nil
}

// insertTuple appends an INSERT log record then applies it to the demo
// tuple page, mirroring the write-ahead order every real mutation must
// follow: log first, then mutate the page the record describes.
func (s *store) insertTuple(data []byte) (rid.RID, error) {
	pg, err := s.bp.FetchPage(s.tuplePageID)
	if err != nil {
		return rid.RID{}, err
	}
	defer s.bp.UnpinPage(s.tuplePageID, true)

	pg.Lock()
	defer pg.Unlock()

	beginLSN, err := s.lm.Append(logrecord.NewTxnRecord(logrecord.TypeBegin, demoTxnID, logrecord.InvalidLSN))
	if err != nil {
		return rid.RID{}, err
	}

	slot, _ := tuplepage.NextInsertSlot(pg)
	rec := logrecord.NewTupleRecord(logrecord.TypeInsert, demoTxnID, uint32(beginLSN), rid.RID{PageID: s.tuplePageID, Slot: uint32(slot)}, data)
	lsn, err := s.lm.Append(rec)
	if err != nil {
		return rid.RID{}, err
	}

	r, err := tuplepage.Insert(pg, data)
	if err != nil {
		return rid.RID{}, err
	}
	pg.StampLSN(lsn)

	commitLSN, err := s.lm.Append(logrecord.NewTxnRecord(logrecord.TypeCommit, demoTxnID, uint32(lsn)))
	if err != nil {
		return rid.RID{}, err
	}
	s.lastLSN = commitLSN
	return r, nil
}

func (s *store) checkpointNow() error {
	return s.ck.Save(s.lastLSN, s.dir, nil, time.Now().Unix())
}

func (s *store) close() error {
	if _, err := s.bp.FlushAllPages(); err != nil {
		return err
	}
	if err := s.lm.Close(); err != nil {
		return err
	}
	return s.dm.Close()
}
