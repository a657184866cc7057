package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/onet/v3/log"
	"golang.org/x/xerrors"
)

func TestMain(m *testing.M) {
	log.MainTest(m)
}

func TestDefault(t *testing.T) {
	c := Default()
	require.Equal(t, []string{"hardhat", "localhost"}, c.DevelopmentChains)
	require.Equal(t, "2000000000000000000", c.SubscriptionFund.String())
	require.Equal(t, "100000000000000", c.Mocks.BaseFee.String())
	require.Equal(t, "1000000000", c.Mocks.GasPriceLink.String())
	require.Equal(t, "100000000000000", c.Mocks.WeiPerUnitLink.String())

	hardhat, err := c.Network(31337)
	require.NoError(t, err)
	require.Equal(t, "hardhat", hardhat.Name)
	require.True(t, c.IsDevelopment(hardhat))
	require.Equal(t, big.NewInt(1e14), hardhat.EntranceFee.Big())
	require.Equal(t, uint32(500000), hardhat.CallbackGasLimit)
	require.Equal(t, uint64(30), hardhat.Interval)
	require.False(t, hardhat.EnableNativePayment)
	require.Equal(t,
		common.HexToHash("0x8077df514608a09f83e4e8d300645594e5d7234665448ba83f51a50f842bd3d9"),
		hardhat.GasLane)

	sepolia, err := c.Network(11155111)
	require.NoError(t, err)
	require.False(t, c.IsDevelopment(sepolia))
	require.Equal(t, common.HexToAddress("0x9DdfaCa8183c41ad55329BdeeD9F6A8d53168B1B"),
		sepolia.VRFCoordinator)
	require.Equal(t,
		"69465728816760727579327628911695068294540564045686150415703701673186929891273",
		sepolia.SubscriptionID.String())
	require.Equal(t, uint64(1), sepolia.Interval)

	_, err = c.Network(1)
	require.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	for in, want := range map[string]string{
		"0.0001 ether": "100000000000000",
		"2 ether":      "2000000000000000000",
		"1.5 gwei":     "1500000000",
		"42":           "42",
		"0x10":         "16",
		"7 WEI":        "7",
	} {
		a, err := ParseAmount(in)
		require.NoError(t, err, in)
		require.Equal(t, want, a.String(), in)
	}
	for _, in := range []string{"", "ether", "1 finney", "0.5 wei", "-1", "-1 ether", "1 2 3"} {
		_, err := ParseAmount(in)
		require.Error(t, err, in)
	}
	require.Equal(t, int64(0), Amount{}.Big().Int64())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse(`
developmentChains = ["hardhat"]

[networks.abc]
entranceFee = "0 ether"
callbackGasLimit = 3000000

[networks.5]
name = "goerli"
entranceFee = "1 wei"
callbackGasLimit = 1
`)
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, xerrors.As(err, &merr))
	// abc: id, name, fee, gas limit, coordinator, subscription;
	// 5: coordinator, subscription; mocks
	require.Len(t, merr.Errors, 9)

	_, err = Parse(`networks = 3`)
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	require.Len(t, c.Networks, 2)

	path := filepath.Join(t.TempDir(), "networks.toml")
	require.NoError(t, os.WriteFile(path, []byte(DefaultTOML+`
[networks.1337]
name = "localhost"
entranceFee = "0.01 ether"
callbackGasLimit = 100000
interval = 5
`), 0600))
	c, err = Load(path)
	require.NoError(t, err)
	local, err := c.Network(1337)
	require.NoError(t, err)
	require.True(t, c.IsDevelopment(local))
	require.Equal(t, big.NewInt(1e16), local.EntranceFee.Big())

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("RAFFLE_DB", "/tmp/x.db")
	t.Setenv("RAFFLE_CHAIN_ID", "11155111")
	t.Setenv("RAFFLE_POLL", "250ms")
	e, err := LoadEnv()
	require.NoError(t, err)
	require.Equal(t, "/tmp/x.db", e.DB)
	require.Equal(t, uint64(11155111), e.ChainID)
	require.Equal(t, 250*time.Millisecond, e.Poll)
	require.Equal(t, 0, e.Debug)

	t.Setenv("RAFFLE_POLL", "soon")
	_, err = LoadEnv()
	require.Error(t, err)
}
