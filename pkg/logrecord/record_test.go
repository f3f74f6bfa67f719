package logrecord

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coredb/internal/dberrors"
	"coredb/pkg/rid"
)

func roundTrip(t *testing.T, rec *Record, lsn uint32) *Record {
	t.Helper()
	buf := Serialize(rec, lsn)
	assert.Len(t, buf, rec.Size())

	got, consumed, err := Deserialize(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), consumed)
	return got
}

func TestSerializeDeserializeTxnControlRecords(t *testing.T) {
	for _, typ := range []Type{TypeBegin, TypeCommit, TypeAbort} {
		rec := NewTxnRecord(typ, 9, 3)
		got := roundTrip(t, rec, 11)
		assert.Equal(t, typ, got.Type)
		assert.EqualValues(t, 11, got.LSN)
		assert.EqualValues(t, 9, got.TxnID)
		assert.EqualValues(t, 3, got.PrevLSN)
	}
}

func TestSerializeDeserializeTupleRecords(t *testing.T) {
	r := rid.RID{PageID: 4, Slot: 2}
	for _, typ := range []Type{TypeInsert, TypeMarkDelete, TypeApplyDelete, TypeRollbackDelete} {
		rec := NewTupleRecord(typ, 1, InvalidLSN, r, []byte("hello"))
		got := roundTrip(t, rec, 5)
		assert.Equal(t, typ, got.Type)
		assert.Equal(t, r, got.RID)
		assert.Equal(t, []byte("hello"), got.Tuple)
	}
}

func TestSerializeDeserializeUpdateRecord(t *testing.T) {
	r := rid.RID{PageID: 4, Slot: 2}
	rec := NewUpdateRecord(1, InvalidLSN, r, []byte("old"), []byte("new-value"))
	got := roundTrip(t, rec, 6)

	assert.Equal(t, TypeUpdate, got.Type)
	assert.Equal(t, r, got.RID)
	assert.Equal(t, []byte("old"), got.Tuple)
	assert.Equal(t, []byte("new-value"), got.NewTuple)
}

func TestSerializeDeserializeNewPageRecord(t *testing.T) {
	rec := NewNewPageRecord(1, InvalidLSN, -1, 9)
	got := roundTrip(t, rec, 4)

	assert.Equal(t, TypeNewPage, got.Type)
	assert.EqualValues(t, -1, got.PrevPageID)
	assert.EqualValues(t, 9, got.PageID)
}

func TestDeserializeIncompleteRecordForPartialTail(t *testing.T) {
	rec := NewTupleRecord(TypeInsert, 1, InvalidLSN, rid.RID{PageID: 1, Slot: 0}, []byte("payload"))
	full := Serialize(rec, 1)

	_, _, err := Deserialize(full[:HeaderSize+2])
	assert.True(t, errors.Is(err, dberrors.ErrIncompleteRecord))

	_, _, err = Deserialize(full[:HeaderSize-1])
	assert.True(t, errors.Is(err, dberrors.ErrIncompleteRecord))
}

func TestDeserializeCorruptionOnUnknownType(t *testing.T) {
	rec := NewTxnRecord(TypeCommit, 1, InvalidLSN)
	buf := Serialize(rec, 1)
	buf[16] = 0xFF // type field

	_, _, err := Deserialize(buf)
	assert.True(t, errors.Is(err, dberrors.ErrCorruption))
}

func TestDeserializeConsumesOnlyOneRecordFromAConcatenatedBuffer(t *testing.T) {
	rec1 := NewTxnRecord(TypeBegin, 1, InvalidLSN)
	rec2 := NewTxnRecord(TypeCommit, 1, 1)
	buf := append(Serialize(rec1, 1), Serialize(rec2, 2)...)

	got1, n1, err := Deserialize(buf)
	require.NoError(t, err)
	got2, n2, err := Deserialize(buf[n1:])
	require.NoError(t, err)

	assert.Equal(t, TypeBegin, got1.Type)
	assert.Equal(t, TypeCommit, got2.Type)
	assert.Equal(t, len(buf), n1+n2)
}
