package config

import "github.com/montana-acp/core/version"

// Mainnet returns the default mainnet preset, grounded on the teacher's
// config/presets.go named-preset convention.
func Mainnet() Config {
	return Config{
		Network:                NetworkMainnet,
		ListenPort:             DefaultPort,
		FullNode:               true,
		MinProtocolVersion:     version.MinProtocolVersion,
		MaxInbound:             MaxInbound,
		MinOutboundAntiEclipse: MinOutboundAntiEclipse,
		RateLimits:             MessageClassLimits,
	}
}

// Testnet returns the default testnet preset: same shape, distinct
// network magic and a lower anti-eclipse floor to make small testnets
// practical.
func Testnet() Config {
	cfg := Mainnet()
	cfg.Network = NetworkTestnet
	cfg.MinOutboundAntiEclipse = 2
	return cfg
}
