package blockstore

import (
	"context"
	"testing"
	"time"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

type fakeKV struct {
	heights map[uint64]txtypes.Hash
	blocks  map[txtypes.Hash][]byte
}

func newFakeKV() *fakeKV {
	return &fakeKV{
		heights: make(map[uint64]txtypes.Hash),
		blocks:  make(map[txtypes.Hash][]byte),
	}
}

func (f *fakeKV) GetBlockTop() (uint64, error)                    { return 0, nil }
func (f *fakeKV) GetStakeAddress() ([]string, error)               { return nil, nil }
func (f *fakeKV) GetBlockHashByTransactionHash(txtypes.Hash) (txtypes.Hash, error) {
	return txtypes.Hash{}, ErrNotFound
}
func (f *fakeKV) GetLatestUtxoByContractAddr(txtypes.Address) (txtypes.Hash, error) {
	return txtypes.Hash{}, ErrNotFound
}
func (f *fakeKV) Get(key []byte) ([]byte, error) { return nil, nil }
func (f *fakeKV) Set(key, value []byte) error    { return nil }

func (f *fakeKV) GetBlockByBlockHash(hash txtypes.Hash) ([]byte, error) {
	raw, ok := f.blocks[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return raw, nil
}

func (f *fakeKV) GetBlockHashByHeight(height uint64) (txtypes.Hash, error) {
	h, ok := f.heights[height]
	if !ok {
		return txtypes.Hash{}, ErrNotFound
	}
	return h, nil
}

func (f *fakeKV) PutBlockByHash(hash txtypes.Hash, raw []byte) error {
	f.blocks[hash] = raw
	return nil
}

var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

func TestPrevHashResolvesImmediately(t *testing.T) {
	kv := newFakeKV()
	want := txtypes.Hash{1, 2, 3}
	kv.heights[10] = want

	s := New(kv)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := s.PrevHash(ctx, 10)
	if err != nil {
		t.Fatalf("PrevHash: %v", err)
	}
	if got != want {
		t.Errorf("got %x, want %x", got, want)
	}
}

func TestPrevHashTimesOutWhenMissing(t *testing.T) {
	kv := newFakeKV()
	s := New(kv)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.PrevHash(ctx, 99); err == nil {
		t.Fatal("expected timeout error for unresolved height")
	}
}

func TestForceSeekEnqueuesHeight(t *testing.T) {
	kv := newFakeKV()
	s := New(kv)
	s.ForceSeek(7)

	select {
	case h := <-s.SeekRequests():
		if h != 7 {
			t.Errorf("got height %d, want 7", h)
		}
	default:
		t.Fatal("expected a queued seek request")
	}
}

func TestAddSeekBlockAndAwaitPersisted(t *testing.T) {
	kv := newFakeKV()
	s := New(kv)
	hash := txtypes.Hash{9, 9}
	raw := []byte("block-bytes")

	if err := s.AddSeekBlock(hash, raw); err != nil {
		t.Fatalf("AddSeekBlock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.AwaitPersisted(ctx, hash, 10*time.Millisecond, 200*time.Millisecond); err != nil {
		t.Fatalf("AwaitPersisted: %v", err)
	}
}

func TestAwaitPersistedTimesOutWhenNeverWritten(t *testing.T) {
	kv := newFakeKV()
	s := New(kv)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.AwaitPersisted(ctx, txtypes.Hash{1}, 10*time.Millisecond, 50*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error for a block never persisted")
	}
}
