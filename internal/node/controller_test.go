package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kittykatsky/Remittance/internal/config"
	"github.com/kittykatsky/Remittance/internal/ledger"
	"github.com/kittykatsky/Remittance/internal/payout"
	"github.com/kittykatsky/Remittance/internal/storage"
)

const (
	ownerHex = "0x00000000000000000000000000000000000000a0"
	aliceHex = "0x0000000000000000000000000000000000000001"
	carolHex = "0x0000000000000000000000000000000000000003"
)

func TestLedgerParams(t *testing.T) {
	p, err := LedgerParams(config.LedgerConfig{Owner: ownerHex, Fee: "0.002", Decimals: 6})
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), p.Fee)
	assert.Equal(t, ownerHex, p.Owner.String())
	assert.True(t, p.ID.IsZero())

	_, err = LedgerParams(config.LedgerConfig{Owner: "0x12", Fee: "0"})
	assert.Error(t, err)
	_, err = LedgerParams(config.LedgerConfig{Owner: ownerHex, Fee: "0.0000001", Decimals: 6})
	assert.Error(t, err)
}

func testConfig() *config.Config {
	return &config.Config{
		Ledger: config.LedgerConfig{Owner: ownerHex, Fee: "2", Decimals: 0},
		Genesis: config.GenesisConfig{
			Depositor:       aliceHex,
			Releaser:        carolHex,
			Secret:          "s3cret",
			Amount:          "50",
			DurationSeconds: 60,
		},
		Storage:  config.StorageConfig{Backend: storage.BackendMemory},
		REST:     config.RESTConfig{Addr: "127.0.0.1:0", ShutdownTimeout: time.Second},
		Schedule: config.ScheduleConfig{ExpiryReport: 10 * time.Millisecond},
	}
}

func newLedger(t *testing.T, cfg *config.Config, store ledger.Store) *ledger.Ledger {
	t.Helper()
	params, err := LedgerParams(cfg.Ledger)
	require.NoError(t, err)
	l, err := ledger.New(params, store, payout.NewAccounts(zap.NewNop()), nil, zap.NewNop())
	require.NoError(t, err)
	return l
}

func TestFundGenesis(t *testing.T) {
	cfg := testConfig()
	c := NewController(cfg, zap.NewNop())
	g, err := c.genesisPlan(2)
	require.NoError(t, err)
	require.NotNil(t, g)

	store := storage.NewMemory()
	l := newLedger(t, cfg, store)
	require.NoError(t, c.fundGenesis(context.Background(), l, g))

	carol, _ := ledger.ParseAddress(carolHex)
	d, ok := l.Remittance(l.GeneratePuzzle(carol, []byte("s3cret")))
	require.True(t, ok)
	assert.Equal(t, uint64(48), d.Amount)
	assert.Equal(t, uint64(2), l.FeePool())

	// A reloaded ledger is not funded again.
	l = newLedger(t, cfg, store)
	require.NoError(t, c.fundGenesis(context.Background(), l, g))
	assert.Equal(t, uint64(50), l.Held())
}

func TestGenesisPlanDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Genesis = config.GenesisConfig{}
	g, err := NewController(cfg, zap.NewNop()).genesisPlan(0)
	require.NoError(t, err)
	assert.Nil(t, g)
}

func TestGenesisPlanBadAddress(t *testing.T) {
	cfg := testConfig()
	cfg.Genesis.Releaser = "nope"
	_, err := NewController(cfg, zap.NewNop()).genesisPlan(2)
	assert.Error(t, err)
}

// A genesis amount that cannot cover the fee stops the node before any
// ledger is persisted.
func TestGenesisAmountMustExceedFee(t *testing.T) {
	cfg := testConfig()
	cfg.Genesis.Amount = "2"
	_, err := NewController(cfg, zap.NewNop()).genesisPlan(2)
	assert.ErrorIs(t, err, ledger.ErrInsufficientValue)

	cfg.Storage = config.StorageConfig{Backend: storage.BackendBolt, Path: t.TempDir()}
	err = NewController(cfg, zap.NewNop()).Run(context.Background())
	require.ErrorIs(t, err, ledger.ErrInsufficientValue)

	store, err := storage.Open(cfg.Storage, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()
	snap, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestSeedAccounts(t *testing.T) {
	cfg := testConfig()
	cfg.Ledger.Decimals = 2
	cfg.Accounts.Initial = map[string]string{aliceHex: "12.5"}
	accounts := payout.NewAccounts(zap.NewNop())
	require.NoError(t, NewController(cfg, zap.NewNop()).seedAccounts(context.Background(), accounts))

	alice, _ := ledger.ParseAddress(aliceHex)
	assert.Equal(t, uint64(1250), accounts.Balance(alice))

	cfg.Accounts.Initial = map[string]string{"0x12": "1"}
	assert.Error(t, NewController(cfg, zap.NewNop()).seedAccounts(context.Background(), accounts))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := NewController(testConfig(), zap.NewNop())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()

	require.Eventually(t, func() bool { return ctrl.State() == StateServing }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
		assert.Equal(t, StateStopped, ctrl.State())
	case <-time.After(5 * time.Second):
		t.Fatal("controller did not stop")
	}
}

func TestNodeState(t *testing.T) {
	assert.True(t, StateServing.IsReady())
	assert.False(t, StateDraining.IsReady())
	assert.Equal(t, "starting", StateStarting.String())
	assert.Equal(t, "unknown", NodeState(42).String())
}

func TestOpenStoreDoesNotRetryUnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: "postgres", OpenAttempts: 5}
	start := time.Now()
	_, err := NewController(cfg, zap.NewNop()).openStore()
	assert.ErrorIs(t, err, storage.ErrUnknownBackend)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpenStoreRetriesLockedBolt(t *testing.T) {
	cfg := testConfig()
	cfg.Storage = config.StorageConfig{Backend: storage.BackendBolt, Path: t.TempDir(), OpenAttempts: 3}

	held, err := storage.Open(cfg.Storage, zap.NewNop())
	require.NoError(t, err)
	go func() {
		time.Sleep(1500 * time.Millisecond)
		_ = held.Close()
	}()

	store, err := NewController(cfg, zap.NewNop()).openStore()
	require.NoError(t, err)
	require.NoError(t, store.Close())
}
