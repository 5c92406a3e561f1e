package file

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/localshare/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager() (*Manager, *mockTimeProvider) {
	clock := newMockTimeProvider()
	return NewManager(ManagerConfig{
		IdleTimeout:  60 * time.Second,
		TimeProvider: clock,
	}), clock
}

func TestAcceptChunkOutOfOrder(t *testing.T) {
	m, _ := newTestManager()

	status, done, err := m.AcceptChunk(testFileID, testSession, "notes.txt", 2, 3, []byte("C"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
	assert.Nil(t, done)

	status, _, err = m.AcceptChunk(testFileID, testSession, "notes.txt", 0, 3, []byte("A"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)

	status, done, err = m.AcceptChunk(testFileID, testSession, "notes.txt", 1, 3, []byte("B"))
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
	require.NotNil(t, done)
	assert.Equal(t, []byte("ABC"), done.Data)
	assert.Equal(t, "notes.txt", done.Name)
	assert.Equal(t, testSession, done.SessionID)

	_, exists := m.Get(testFileID)
	assert.False(t, exists)
	assert.Equal(t, 0, m.Len())
}

func TestAcceptChunkDuplicateKeepsFirst(t *testing.T) {
	m, _ := newTestManager()

	_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 2, []byte("first"))
	require.NoError(t, err)

	status, done, err := m.AcceptChunk(testFileID, testSession, "a", 0, 2, []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, status)
	assert.Nil(t, done)

	_, done, err = m.AcceptChunk(testFileID, testSession, "a", 1, 2, []byte("!"))
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, []byte("first!"), done.Data)
}

func TestAcceptChunkCountConflict(t *testing.T) {
	m, _ := newTestManager()

	_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 3, []byte("x"))
	require.NoError(t, err)

	_, _, err = m.AcceptChunk(testFileID, testSession, "a", 1, 4, []byte("y"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferConflict)
	var conflict *TransferConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, testFileID, conflict.FileID)

	tr, ok := m.Get(testFileID)
	require.True(t, ok)
	chunks, bytes := tr.Progress()
	assert.Equal(t, 1, chunks)
	assert.Equal(t, int64(1), bytes)
	assert.Equal(t, 3, tr.ChunkCount)
}

func TestAcceptChunkConflictBeatsChunkValidation(t *testing.T) {
	tests := []struct {
		name  string
		index int
		count int
		data  []byte
	}{
		{"index valid only for the open count", 2, 2, []byte("y")},
		{"empty data with a different count", 1, 2, nil},
		{"oversized chunk with a different count", 0, 5, make([]byte, limits.MaxChunkSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager()
			_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 3, []byte("x"))
			require.NoError(t, err)

			_, _, err = m.AcceptChunk(testFileID, testSession, "a", tt.index, tt.count, tt.data)
			assert.ErrorIs(t, err, ErrTransferConflict)
			assert.NotErrorIs(t, err, ErrInvalidChunk)

			tr, ok := m.Get(testFileID)
			require.True(t, ok)
			assert.Equal(t, 3, tr.ChunkCount)
		})
	}
}

func TestAcceptChunkOwnerConflictBeatsChunkValidation(t *testing.T) {
	m, _ := newTestManager()
	_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 3, []byte("x"))
	require.NoError(t, err)

	_, _, err = m.AcceptChunk(testFileID, otherSess, "a", 7, 3, nil)
	assert.ErrorIs(t, err, ErrTransferConflict)
}

func TestAcceptChunkInvalidOnOpenTransfer(t *testing.T) {
	m, _ := newTestManager()
	_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 3, []byte("x"))
	require.NoError(t, err)

	_, _, err = m.AcceptChunk(testFileID, testSession, "a", 3, 3, []byte("y"))
	assert.ErrorIs(t, err, ErrInvalidChunk)
	_, _, err = m.AcceptChunk(testFileID, testSession, "a", 1, 3, nil)
	assert.ErrorIs(t, err, ErrInvalidChunk)
}

// permutations returns every ordering of 0..n-1.
func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			next := make([]int, 0, n)
			next = append(next, p[:i]...)
			next = append(next, n-1)
			next = append(next, p[i:]...)
			out = append(out, next)
		}
	}
	return out
}

func TestAcceptChunkEveryArrivalOrder(t *testing.T) {
	chunks := [][]byte{[]byte("al"), []byte("ph"), []byte("ab"), []byte("et")}
	orders := permutations(len(chunks))
	require.Len(t, orders, 24)

	for _, order := range orders {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			m, _ := newTestManager()
			completions := 0
			for i, idx := range order {
				status, done, err := m.AcceptChunk(testFileID, testSession, "abc.txt", idx, len(chunks), chunks[idx])
				require.NoError(t, err)
				if i < len(order)-1 {
					assert.Equal(t, StatusPending, status)
					assert.Nil(t, done)
					continue
				}
				assert.Equal(t, StatusComplete, status)
				require.NotNil(t, done)
				assert.Equal(t, []byte("alphabet"), done.Data)
				completions++
			}
			assert.Equal(t, 1, completions)
			assert.Equal(t, 0, m.Len())
		})
	}
}

func TestAcceptChunkOwnerConflict(t *testing.T) {
	m, _ := newTestManager()

	_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 2, []byte("x"))
	require.NoError(t, err)

	_, _, err = m.AcceptChunk(testFileID, otherSess, "a", 1, 2, []byte("y"))
	assert.ErrorIs(t, err, ErrTransferConflict)

	tr, ok := m.Get(testFileID)
	require.True(t, ok)
	chunks, _ := tr.Progress()
	assert.Equal(t, 1, chunks)
}

func TestAcceptChunkInvalid(t *testing.T) {
	m, _ := newTestManager()

	tests := []struct {
		name   string
		fileID string
		index  int
		count  int
		data   []byte
		want   error
	}{
		{"missing id", "", 0, 1, []byte("x"), ErrInvalidChunk},
		{"zero count", testFileID, 0, 0, []byte("x"), ErrInvalidChunk},
		{"index equals count", testFileID, 3, 3, []byte("x"), ErrInvalidChunk},
		{"negative index", testFileID, -1, 3, []byte("x"), ErrInvalidChunk},
		{"empty chunk of many", testFileID, 0, 2, nil, ErrInvalidChunk},
		{"oversized chunk", testFileID, 0, 1, make([]byte, limits.MaxChunkSize+1), limits.ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.AcceptChunk(tt.fileID, testSession, "a", tt.index, tt.count, tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Equal(t, 0, m.Len())
}

func TestAcceptEmptyFile(t *testing.T) {
	m, _ := newTestManager()

	status, done, err := m.AcceptChunk(testFileID, testSession, "empty.txt", 0, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, status)
	require.NotNil(t, done)
	assert.Empty(t, done.Data)
}

func TestAcceptChunkTransferLimit(t *testing.T) {
	clock := newMockTimeProvider()
	m := NewManager(ManagerConfig{MaxTransferBytes: 4, TimeProvider: clock})

	_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 2, []byte("abc"))
	require.NoError(t, err)
	_, _, err = m.AcceptChunk(testFileID, testSession, "a", 1, 2, []byte("de"))
	assert.ErrorIs(t, err, limits.ErrMessageTooLarge)
}

func TestSweepAbandonsIdleTransfers(t *testing.T) {
	m, clock := newTestManager()

	_, _, err := m.AcceptChunk("stale", testSession, "a", 0, 2, []byte("x"))
	require.NoError(t, err)
	clock.advance(40 * time.Second)
	_, _, err = m.AcceptChunk("fresh", testSession, "b", 0, 2, []byte("y"))
	require.NoError(t, err)
	clock.advance(25 * time.Second)

	abandoned := m.Sweep(clock.Now())
	require.Len(t, abandoned, 1)
	assert.Equal(t, "stale", abandoned[0].FileID)
	assert.Equal(t, AbandonIdle, abandoned[0].Reason)
	assert.Equal(t, 1, abandoned[0].Received)
	assert.Equal(t, 2, abandoned[0].ChunkCount)

	_, ok := m.Get("stale")
	assert.False(t, ok)
	_, ok = m.Get("fresh")
	assert.True(t, ok)

	// A late chunk for the abandoned id starts a new transfer.
	status, _, err := m.AcceptChunk("stale", testSession, "a", 1, 2, []byte("z"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, status)
}

func TestDuplicateDoesNotRefreshIdleTimer(t *testing.T) {
	m, clock := newTestManager()

	_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 2, []byte("x"))
	require.NoError(t, err)
	clock.advance(50 * time.Second)
	_, _, err = m.AcceptChunk(testFileID, testSession, "a", 0, 2, []byte("x"))
	require.NoError(t, err)
	clock.advance(11 * time.Second)

	assert.Len(t, m.Sweep(clock.Now()), 1)
}

func TestAbandonSession(t *testing.T) {
	m, _ := newTestManager()

	for i := 0; i < 3; i++ {
		_, _, err := m.AcceptChunk(fmt.Sprintf("a%d", i), testSession, "a", 0, 2, []byte("x"))
		require.NoError(t, err)
	}
	_, _, err := m.AcceptChunk("b0", otherSess, "b", 0, 2, []byte("x"))
	require.NoError(t, err)

	abandoned := m.AbandonSession(testSession)
	assert.Len(t, abandoned, 3)
	for _, a := range abandoned {
		assert.Equal(t, AbandonDisconnected, a.Reason)
	}
	assert.Equal(t, 1, m.Len())
}

func TestCloseAbandonsEverything(t *testing.T) {
	m, _ := newTestManager()

	_, _, err := m.AcceptChunk(testFileID, testSession, "a", 0, 2, []byte("x"))
	require.NoError(t, err)

	abandoned := m.Close()
	require.Len(t, abandoned, 1)
	assert.Equal(t, AbandonShutdown, abandoned[0].Reason)
	assert.Nil(t, m.Close())

	_, _, err = m.AcceptChunk("late", testSession, "a", 0, 1, []byte("x"))
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestConcurrentTransfersCompleteOnce(t *testing.T) {
	m, _ := newTestManager()
	const files, chunks = 8, 16

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed = make(map[string]int)
	)
	for f := 0; f < files; f++ {
		for c := 0; c < chunks; c++ {
			wg.Add(1)
			go func(f, c int) {
				defer wg.Done()
				id := fmt.Sprintf("file-%d", f)
				// Each chunk is sent twice to exercise duplicate handling.
				for i := 0; i < 2; i++ {
					status, done, err := m.AcceptChunk(id, testSession, id, c, chunks, []byte{byte(c)})
					if err != nil {
						t.Error(err)
						return
					}
					if status == StatusComplete {
						mu.Lock()
						completed[id]++
						mu.Unlock()
						assert.Len(t, done.Data, chunks)
					}
				}
			}(f, c)
		}
	}
	wg.Wait()

	// A duplicate arriving after completion opens a new transfer, so only
	// count completions, not leftovers.
	for f := 0; f < files; f++ {
		assert.GreaterOrEqual(t, completed[fmt.Sprintf("file-%d", f)], 1)
	}
}
