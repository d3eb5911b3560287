package txregistry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stuartwdouglas/wildfly-transaction-client/txid"
)

// fakeTransaction is a minimal Transaction stub: enough to drive the
// completion-bit lattice and exercise the registered synchronization.
type fakeTransaction struct {
	xid     txid.SimpleXid
	timeout uint32
	prepare PrepareOutcome
	sync    Synchronization

	mu    sync.Mutex
	calls []string
}

func (f *fakeTransaction) record(name string) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()
}

func (f *fakeTransaction) DoBeforeCompletion(ctx context.Context) error { f.record("before"); return nil }
func (f *fakeTransaction) DoPrepare(ctx context.Context) (PrepareOutcome, error) {
	f.record("prepare")
	return f.prepare, nil
}
func (f *fakeTransaction) DoCommit(ctx context.Context) error         { f.record("commit"); return nil }
func (f *fakeTransaction) DoOnePhaseCommit(ctx context.Context) error { f.record("onephase"); return nil }
func (f *fakeTransaction) DoRollback(ctx context.Context) error       { f.record("rollback"); return nil }
func (f *fakeTransaction) DoForget(ctx context.Context) error         { f.record("forget"); return nil }

func (f *fakeTransaction) Timeout() uint32              { return f.timeout }
func (f *fakeTransaction) Xid() txid.SimpleXid          { return f.xid }
func (f *fakeTransaction) Activated() bool              { return true }
func (f *fakeTransaction) DeferredThrowables() []error  { return nil }
func (f *fakeTransaction) RegisterInterposedSynchronization(sync Synchronization) {
	f.sync = sync
}

// fakeTerminator implements XATerminator purely in terms of a map of
// pre-registered transactions, standing in for a real TM engine's import
// path.
type fakeTerminator struct {
	mu           sync.Mutex
	byKey        map[string]*fakeTransaction
	removed      []txid.SimpleXid
	importCalls  int
}

func newFakeTerminator() *fakeTerminator {
	return &fakeTerminator{byKey: make(map[string]*fakeTransaction)}
}

func keyOf(x txid.SimpleXid) string { return gtidKey(x.WithoutBranch()) }

func (f *fakeTerminator) seed(tx *fakeTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byKey[keyOf(tx.xid)] = tx
}

func (f *fakeTerminator) ImportTransaction(ctx context.Context, xid txid.SimpleXid, timeoutSeconds uint32) (Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.importCalls++
	tx, ok := f.byKey[keyOf(xid)]
	if !ok {
		tx = &fakeTransaction{xid: xid.WithoutBranch(), timeout: timeoutSeconds}
		f.byKey[keyOf(xid)] = tx
	}
	return tx, true, nil
}

func (f *fakeTerminator) GetTransaction(xid txid.SimpleXid) (Transaction, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.byKey[keyOf(xid)]
	return tx, ok
}

func (f *fakeTerminator) RemoveImportedTransaction(gtid txid.SimpleXid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, gtid)
	delete(f.byKey, keyOf(gtid))
}

func (f *fakeTerminator) DoRecover(ctx context.Context, parentName string) ([]txid.SimpleXid, error) {
	return nil, nil
}

func TestFindOrImportIsIdempotentOnGtid(t *testing.T) {
	term := newFakeTerminator()
	reg := NewImportRegistry(term)

	branch1 := txid.New(0x20000, []byte("global-1"), []byte("b1"))
	branch2 := txid.New(0x20000, []byte("global-1"), []byte("b2"))

	out1, err := reg.FindOrImport(context.Background(), branch1, 60, false)
	require.NoError(t, err)
	out2, err := reg.FindOrImport(context.Background(), branch2, 60, false)
	require.NoError(t, err)

	require.Same(t, out1.Entry, out2.Entry)
	require.Equal(t, 1, term.importCalls)
}

func TestImportedEntryEvictedAfterStaleWindowAndAfterCompletion(t *testing.T) {
	term := newFakeTerminator()
	reg := NewImportRegistry(term, WithStaleWindowSeconds(1))

	x := txid.New(0x20000, []byte("global-2"), []byte("b1"))
	tx := &fakeTransaction{xid: x.WithoutBranch(), timeout: 1}
	term.seed(tx)

	out, err := reg.FindOrImport(context.Background(), x, 1, false)
	require.NoError(t, err)
	require.NotNil(t, out.Entry)

	gtid := x.WithoutBranch()
	_, found := reg.FindExisting(x)
	require.True(t, found)

	// Advance the clock past expiration by sweeping with a timestamp 3s in
	// the future (the expiration horizon is tx.timeout(1) + staleWindow(1) =
	// 2s from registration), calling sweepExpired directly as any
	// afterCompletion hook would.
	future := time.Now().Add(3 * time.Second).UnixNano()
	reg.sweepExpired(future)

	_, found = reg.FindExisting(x)
	require.False(t, found)
	require.Equal(t, 0, reg.keys.Len())
	require.Contains(t, term.removed, gtid)
}

func TestCompletionBitsRejectRepeatedPrepareAndRollback(t *testing.T) {
	term := newFakeTerminator()
	reg := NewImportRegistry(term)

	x := txid.New(0x20000, []byte("global-3"), []byte("b1"))
	tx := &fakeTransaction{xid: x.WithoutBranch(), timeout: 60, prepare: PrepareOK}
	term.seed(tx)

	out, err := reg.FindOrImport(context.Background(), x, 60, false)
	require.NoError(t, err)

	vote, err := out.Entry.Prepare(context.Background())
	require.NoError(t, err)
	require.Equal(t, XAOK, vote)

	_, err = out.Entry.Prepare(context.Background())
	require.ErrorIs(t, err, errNotImported)

	err = out.Entry.Rollback(context.Background())
	require.ErrorIs(t, err, errNotImported)
}

func TestPrepareReadOnlyEvictsImmediately(t *testing.T) {
	term := newFakeTerminator()
	reg := NewImportRegistry(term)

	x := txid.New(0x20000, []byte("global-4"), []byte("b1"))
	tx := &fakeTransaction{xid: x.WithoutBranch(), timeout: 60, prepare: PrepareReadOnly}
	term.seed(tx)

	out, err := reg.FindOrImport(context.Background(), x, 60, false)
	require.NoError(t, err)

	vote, err := out.Entry.Prepare(context.Background())
	require.NoError(t, err)
	require.Equal(t, XARDONLY, vote)

	_, found := reg.FindExisting(x)
	require.False(t, found)
}

func TestCommitLocalAndRollbackLocalAlwaysRefuseOnImportedEntry(t *testing.T) {
	term := newFakeTerminator()
	reg := NewImportRegistry(term)

	x := txid.New(0x20000, []byte("global-5"), []byte("b1"))
	tx := &fakeTransaction{xid: x.WithoutBranch(), timeout: 60}
	term.seed(tx)

	out, err := reg.FindOrImport(context.Background(), x, 60, false)
	require.NoError(t, err)

	require.ErrorIs(t, out.Entry.CommitLocal(context.Background()), ErrCommitOnImported)
	require.ErrorIs(t, out.Entry.RollbackLocal(context.Background()), ErrRollbackOnImported)
}

func TestBeginLocalAttachesEntryAndDropLocalRemovesWithoutCompletion(t *testing.T) {
	term := newFakeTerminator()
	reg := NewImportRegistry(term)

	engine := &fakeEngine{beginTx: &fakeTransaction{
		xid:     txid.New(0x20000, []byte("global-6"), nil),
		timeout: 60,
	}}

	tx, entry, err := reg.BeginLocal(context.Background(), engine, 60)
	require.NoError(t, err)
	require.NotNil(t, entry)

	_, found := reg.FindExisting(tx.Xid())
	require.True(t, found)

	reg.DropLocal(tx.Xid().WithoutBranch())

	_, found = reg.FindExisting(tx.Xid())
	require.False(t, found)
}

type fakeEngine struct {
	beginTx *fakeTransaction
}

func (e *fakeEngine) Begin(ctx context.Context, timeoutSeconds uint32) (Transaction, error) {
	e.beginTx.timeout = timeoutSeconds
	return e.beginTx, nil
}
func (e *fakeEngine) Suspend(ctx context.Context) (Transaction, error) { return e.beginTx, nil }
func (e *fakeEngine) Resume(ctx context.Context, tx Transaction) error { return nil }
func (e *fakeEngine) SetTransactionTimeout(seconds uint32)             {}
func (e *fakeEngine) GetTransactionTimeout() uint32                    { return 60 }
