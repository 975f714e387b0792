package treasuryd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"daotreasury/config"
	"daotreasury/crypto"
	"daotreasury/native/treasury"
	"daotreasury/storage"
)

type fixedPass string

func (p fixedPass) Get() (string, error) { return string(p), nil }

func relativeConfig() config.Config {
	quorum := uint64(50)
	return config.Config{Treasury: config.TreasuryConfig{
		ContributionWindow: config.Duration{Duration: time.Hour},
		VoteWindow:         config.Duration{Duration: 10 * time.Minute},
		QuorumPercent:      &quorum,
	}}
}

func TestResolveParamsKeepsFirstContributionEnd(t *testing.T) {
	cfg := relativeConfig()
	admin := [20]byte{0xAD}
	store := treasury.NewKVStore(storage.NewMemDB())
	first := time.Unix(1_700_000_000, 0).UTC()

	params, err := resolveParams(cfg, store, admin, first)
	require.NoError(t, err)
	require.Equal(t, first.Add(time.Hour), params.ContributionEnd)
	_, err = treasury.Open(store, params, admin)
	require.NoError(t, err)

	later := first.Add(48 * time.Hour)
	again, err := resolveParams(cfg, store, admin, later)
	require.NoError(t, err)
	require.True(t, again.ContributionEnd.Equal(params.ContributionEnd))
	_, err = treasury.Open(store, again, admin)
	require.NoError(t, err)
}

func TestResolveParamsAbsoluteEnd(t *testing.T) {
	cfg := relativeConfig()
	cfg.Treasury.ContributionWindow = config.Duration{}
	cfg.Treasury.ContributionEnd = "2030-01-02T03:04:05Z"
	params, err := resolveParams(cfg, treasury.NewKVStore(storage.NewMemDB()), [20]byte{1}, time.Now())
	require.NoError(t, err)
	require.Equal(t, time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC), params.ContributionEnd)
}

func TestLoadAdminDecryptsKeystore(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "admin.keystore")
	require.NoError(t, crypto.SaveToKeystoreWithStrength(path, key, "pw", crypto.KeystoreLight))

	admin, err := loadAdmin(path, fixedPass("pw"))
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Raw(), admin)

	_, err = loadAdmin(path, fixedPass("wrong"))
	require.Error(t, err)
	_, err = loadAdmin(path, nil)
	require.Error(t, err)
}
