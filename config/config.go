// Package config holds the per-network deployment parameters of the raffle
// and the runtime settings of the command line tool.
package config

import (
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/dedis/raffle/vrf"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/xerrors"
)

// DefaultTOML reproduces the networks the raffle was first deployed on.
const DefaultTOML = `
developmentChains = ["hardhat", "localhost"]
subscriptionFund = "2 ether"

[mocks]
baseFee = "0.0001 ether"
gasPriceLink = "1000000000"
weiPerUnitLink = "0.0001 ether"

[networks.11155111]
name = "sepolia"
vrfCoordinator = "0x9DdfaCa8183c41ad55329BdeeD9F6A8d53168B1B"
subscriptionId = "69465728816760727579327628911695068294540564045686150415703701673186929891273"
entranceFee = "0.0001 ether"
gasLane = "0x787d74caea10b2b357790d5b5247c2f63d1d91572a9846f780606e4d953677ae"
callbackGasLimit = 500000
interval = 1
enableNativePayment = false
fundAmount = "1 ether"

[networks.31337]
name = "hardhat"
entranceFee = "0.0001 ether"
gasLane = "0x8077df514608a09f83e4e8d300645594e5d7234665448ba83f51a50f842bd3d9"
callbackGasLimit = 500000
interval = 30
enableNativePayment = false
`

// Network are the raffle parameters of one chain.
type Network struct {
	Name string `toml:"name"`
	// VRFCoordinator and SubscriptionID are only read on live networks;
	// development chains deploy their own coordinator.
	VRFCoordinator      common.Address `toml:"vrfCoordinator"`
	SubscriptionID      Amount         `toml:"subscriptionId"`
	EntranceFee         Amount         `toml:"entranceFee"`
	GasLane             common.Hash    `toml:"gasLane"`
	CallbackGasLimit    uint32         `toml:"callbackGasLimit"`
	Interval            uint64         `toml:"interval"`
	EnableNativePayment bool           `toml:"enableNativePayment"`
	FundAmount          Amount         `toml:"fundAmount"`
}

// Mocks are the constructor arguments of the mock coordinator.
type Mocks struct {
	BaseFee        Amount `toml:"baseFee"`
	GasPriceLink   Amount `toml:"gasPriceLink"`
	WeiPerUnitLink Amount `toml:"weiPerUnitLink"`
}

type Config struct {
	DevelopmentChains []string            `toml:"developmentChains"`
	SubscriptionFund  Amount              `toml:"subscriptionFund"`
	Mocks             Mocks               `toml:"mocks"`
	Networks          map[string]*Network `toml:"networks"`
}

// Default returns the built-in configuration.
func Default() *Config {
	c, err := Parse(DefaultTOML)
	if err != nil {
		panic("invalid default configuration: " + err.Error())
	}
	return c
}

// Parse decodes and validates a configuration.
func Parse(data string) (*Config, error) {
	c := &Config{}
	if _, err := toml.Decode(data, c); err != nil {
		return nil, xerrors.Errorf("couldn't decode config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads the configuration at path, or returns the default one when
// path is empty.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	c := &Config{}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, xerrors.Errorf("couldn't read config %s: %v", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Network returns the parameters of chainID.
func (c *Config) Network(chainID uint64) (*Network, error) {
	n, ok := c.Networks[strconv.FormatUint(chainID, 10)]
	if !ok {
		return nil, xerrors.Errorf("no configuration for chain %d", chainID)
	}
	return n, nil
}

// IsDevelopment reports whether the network deploys its own mocks.
func (c *Config) IsDevelopment(n *Network) bool {
	for _, name := range c.DevelopmentChains {
		if name == n.Name {
			return true
		}
	}
	return false
}

// Validate returns every problem found in the configuration.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if len(c.Networks) == 0 {
		errs = multierror.Append(errs, xerrors.New("no network configured"))
	}
	for id, n := range c.Networks {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			errs = multierror.Append(errs, xerrors.Errorf("network %q: chain id is not a number", id))
		}
		if n.Name == "" {
			errs = multierror.Append(errs, xerrors.Errorf("network %s: missing name", id))
		}
		if n.EntranceFee.Big().Sign() <= 0 {
			errs = multierror.Append(errs, xerrors.Errorf("network %s: entrance fee must be positive", id))
		}
		if n.CallbackGasLimit == 0 || n.CallbackGasLimit > vrf.MaxCallbackGasLimit {
			errs = multierror.Append(errs, xerrors.Errorf("network %s: callback gas limit %d out of range",
				id, n.CallbackGasLimit))
		}
		if c.IsDevelopment(n) {
			continue
		}
		if n.VRFCoordinator == (common.Address{}) {
			errs = multierror.Append(errs, xerrors.Errorf("network %s: missing coordinator", id))
		}
		if n.SubscriptionID.Int == nil {
			errs = multierror.Append(errs, xerrors.Errorf("network %s: missing subscription id", id))
		}
	}
	if c.Mocks.BaseFee.Int == nil || c.Mocks.GasPriceLink.Int == nil {
		errs = multierror.Append(errs, xerrors.New("mocks: missing fees"))
	}
	return errs.ErrorOrNil()
}
