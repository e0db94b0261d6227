package locksweep

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"slotpay/internal/keylock"

	"github.com/stretchr/testify/require"
)

func TestRunOnceSweepsAllMaps(t *testing.T) {
	orderLocks := keylock.New[int64]()
	identityLocks := keylock.New[string]()

	orderLocks.Lock(1)()
	orderLocks.Lock(2)()
	identityLocks.Lock("ada@example.com")()
	held := orderLocks.Lock(3)
	defer held()

	w := NewWorker(map[string]Sweeper{
		"orders":     orderLocks,
		"identities": identityLocks,
	}, time.Minute, 0, slog.New(slog.NewTextHandler(io.Discard, nil)))

	time.Sleep(time.Millisecond)
	require.Equal(t, 3, w.RunOnce())
	require.Equal(t, 1, orderLocks.Len())
	require.Equal(t, 0, identityLocks.Len())
}
