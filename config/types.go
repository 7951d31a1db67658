package config

// Tier is one row of a stream's duration-multiplier table.
type Tier struct {
	MinDurationDays uint64 `toml:"MinDurationDays"`
	MultiplierBps   uint32 `toml:"MultiplierBps"`
}

// Stream configures one stream instance.
type Stream struct {
	Name                  string `toml:"Name"`
	SizeUnit              string `toml:"SizeUnit"`
	EarlyExitRetentionBps uint32 `toml:"EarlyExitRetentionBps"`
	Tiers                 []Tier `toml:"Tiers"`
}

// Distributor configures the continuous distributor.
type Distributor struct {
	ScoreUnit string `toml:"ScoreUnit"`
}

// Roles lists the genesis role holders as hex addresses.
type Roles struct {
	Admins   []string `toml:"Admins"`
	Updaters []string `toml:"Updaters"`
	Listing  []string `toml:"Listing"`
}

// Allocation mints Amount to Principal at genesis. The principal
// "distributor-pool" targets the distributor escrow account.
type Allocation struct {
	Principal string `toml:"Principal"`
	Amount    string `toml:"Amount"`
}

// Schedule is the shared phase table.
type Schedule struct {
	GenesisTime          string   `toml:"GenesisTime"`
	PhaseDurationSeconds uint64   `toml:"PhaseDurationSeconds"`
	Rates                []string `toml:"Rates"`
}
