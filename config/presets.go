package config

import "time"

// DefaultNetwork is used when the config file does not name one.
const DefaultNetwork = "localnet"

// Preset bundles the deployment parameters used for a named network.
type Preset struct {
	ListenAddress      string
	ContributionWindow time.Duration
	VoteWindow         time.Duration
	QuorumPercent      uint64
}

// Presets are the known networks.
var Presets = map[string]Preset{
	"localnet": {
		ListenAddress:      "127.0.0.1:8645",
		ContributionWindow: 24 * time.Hour,
		VoteWindow:         10 * time.Minute,
		QuorumPercent:      50,
	},
	"testnet": {
		ListenAddress:      ":8645",
		ContributionWindow: 14 * 24 * time.Hour,
		VoteWindow:         72 * time.Hour,
		QuorumPercent:      60,
	},
}
