// Package chaincfg holds the chain parameters that bind mining, consensus
// and the work/pool protocols together. Defaults mirror the reference
// deployment values; callers may override any of them from a YAML file or
// the SMELLY_CONFIG environment variable via Load.
package chaincfg

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Argon2Params are the fixed PoW parameters. Changing any of these is a
// hard fork: the PoW backend's Digest folds them into every header's proof.
type Argon2Params struct {
	TimeCost    uint32 `mapstructure:"time_cost"`
	MemoryMiB   uint32 `mapstructure:"memory_mib"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

// Params is the full set of chain parameters, loaded once at process start
// and threaded explicitly through every service — no package-level globals.
type Params struct {
	BlockVersion          uint32        `mapstructure:"block_version"`
	TargetBlockTime       time.Duration `mapstructure:"-"`
	TargetBlockTimeSec    int64         `mapstructure:"target_block_time_sec"`
	InitialBlockReward    int64         `mapstructure:"-"` // mites
	HalvingIntervalBlocks uint32        `mapstructure:"halving_interval_blocks"`

	Argon2 Argon2Params `mapstructure:"argon2"`

	CoinbaseMaturity uint32 `mapstructure:"coinbase_maturity"`
	TxsPerBlockCap   int    `mapstructure:"txs_per_block_cap"`
	MempoolMinFee    int64  `mapstructure:"-"` // mites

	BootstrapOnlyBelowHeight uint32 `mapstructure:"bootstrap_coinbase_only_below_height"`

	DifficultyInitial uint64 `mapstructure:"difficulty_initial"`
	DifficultyMin     uint64 `mapstructure:"difficulty_min"`
	DifficultyMax     uint64 `mapstructure:"difficulty_max"`
	RetargetWindow    int    `mapstructure:"retarget_window"`
	RetargetClampLow  float64
	RetargetClampHigh float64

	FairnessPoolRatio       float64 `mapstructure:"fairness_pool_ratio"`
	FairnessEpochLengthMain uint32  `mapstructure:"fairness_epoch_length_main"`
	FairnessEpochLengthDev  uint32  `mapstructure:"fairness_epoch_length_dev"`

	WorkJobTTL time.Duration `mapstructure:"-"`

	TicketWindow          time.Duration `mapstructure:"-"`
	TicketNonceWindowPow2 uint          `mapstructure:"ticket_nonce_window_pow2"`
	TicketNearTargetShift uint          `mapstructure:"ticket_near_target_shift"`

	// MiningAttemptCap bounds a single AssembleAndMine call (default 5,000,000 nonces).
	MiningAttemptCap uint64
	// MiningRefreshEvery is the timestamp-refresh cadence, in nonces. The
	// stop channel is checked before every nonce, not on this cadence.
	MiningRefreshEvery uint64
}

// EpochLength returns the fairness epoch length for the given environment.
func (p *Params) EpochLength(dev bool) uint32 {
	if dev {
		return p.FairnessEpochLengthDev
	}
	return p.FairnessEpochLengthMain
}

// ToMites converts a decimal coin amount to the internal fixed-point
// representation (1 mite = 1e-8 coin). Only used at JSON boundaries.
func ToMites(amount float64) int64 {
	if amount < 0 {
		return -int64(-amount*1e8 + 0.5)
	}
	return int64(amount*1e8 + 0.5)
}

// FromMites converts an internal fixed-point amount back to a decimal coin
// amount for JSON responses.
func FromMites(mites int64) float64 {
	return float64(mites) / 1e8
}

// Default returns the reference deployment parameters.
func Default() *Params {
	p := &Params{
		BlockVersion:             1,
		TargetBlockTimeSec:       60,
		HalvingIntervalBlocks:    210000,
		Argon2:                   Argon2Params{TimeCost: 2, MemoryMiB: 64, Parallelism: 1},
		CoinbaseMaturity:         10,
		TxsPerBlockCap:           200,
		BootstrapOnlyBelowHeight: 200,
		DifficultyInitial:        1,
		DifficultyMin:            1,
		DifficultyMax:            500,
		RetargetWindow:           30,
		RetargetClampLow:         0.85,
		RetargetClampHigh:        1.15,
		FairnessPoolRatio:        0.30,
		FairnessEpochLengthMain:  100,
		FairnessEpochLengthDev:   20,
		TicketNonceWindowPow2:    21,
		TicketNearTargetShift:    12,
		MiningAttemptCap:         5_000_000,
		MiningRefreshEvery:       5000,
	}
	p.InitialBlockReward = ToMites(50.0)
	p.MempoolMinFee = ToMites(1e-5)
	p.TargetBlockTime = time.Duration(p.TargetBlockTimeSec) * time.Second
	p.WorkJobTTL = 5 * time.Minute
	p.TicketWindow = 4 * time.Second
	return p
}

// Load reads chain parameters from a YAML file, falling back to the
// SMELLY_CONFIG environment variable and finally to configs/defaults.yaml.
// Any key absent from the file keeps its Default() value.
func Load(path string) (*Params, error) {
	p := Default()

	cfgPath := path
	if cfgPath == "" {
		cfgPath = os.Getenv("SMELLY_CONFIG")
	}
	if cfgPath == "" {
		cfgPath = "configs/defaults.yaml"
	}
	if _, err := os.Stat(cfgPath); err != nil {
		// No config file on disk: ship the reference defaults, same as the
		// original node when configs/defaults.yaml is missing in dev.
		return p, nil
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	if err := v.UnmarshalKey("chain", p); err != nil {
		return nil, err
	}
	p.TargetBlockTime = time.Duration(p.TargetBlockTimeSec) * time.Second
	if v.IsSet("chain.initial_block_reward") {
		p.InitialBlockReward = ToMites(v.GetFloat64("chain.initial_block_reward"))
	}
	if v.IsSet("chain.mempool_min_fee") {
		p.MempoolMinFee = ToMites(v.GetFloat64("chain.mempool_min_fee"))
	}
	if v.IsSet("chain.retarget_clamp") {
		clamp := v.GetFloatSlice("chain.retarget_clamp")
		if len(clamp) == 2 {
			p.RetargetClampLow, p.RetargetClampHigh = clamp[0], clamp[1]
		}
	}
	if v.IsSet("work.job_ttl_ms") {
		p.WorkJobTTL = time.Duration(v.GetInt64("work.job_ttl_ms")) * time.Millisecond
	}
	if v.IsSet("ticket.window_ms") {
		p.TicketWindow = time.Duration(v.GetInt64("ticket.window_ms")) * time.Millisecond
	}
	return p, nil
}
