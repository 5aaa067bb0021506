// Command maci-coordinator runs the off-chain proving pipeline of a poll: it
// loads a serialized registry, processes every message batch, tallies every
// ballot batch and optionally walks the subsidy grid, writing each batch's
// circuit inputs as a JSON file.
package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/vocdoni/maci-coordinator/core"
	"github.com/vocdoni/maci-coordinator/crypto/babyjub"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/types"
)

// Version is the build version, set at build time with -ldflags.
var Version = "dev"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	log.Init(cfg.Log.Level, cfg.Log.Output)
	log.Infow("starting maci-coordinator", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("Pipeline failed: %v", err)
	}
}

func run(cfg *Config) error {
	data, err := os.ReadFile(cfg.State)
	if err != nil {
		return fmt.Errorf("read registry: %w", err)
	}
	maciState, err := core.MaciStateFromJSON(data)
	if err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}
	poll, err := maciState.Poll(cfg.Poll)
	if err != nil {
		return err
	}
	keypair, err := keypairFromSeed(cfg.KeySeed)
	if err != nil {
		return err
	}
	poll.SetCoordinatorKeypair(keypair)
	if cfg.SaltSeed >= 0 {
		poll.SaltSource = counterSaltSource(cfg.SaltSeed)
		log.Warnw("using deterministic salts, commitments are not hiding",
			"seed", cfg.SaltSeed)
	}
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	for batch := 0; poll.HasUnprocessedMessages(); batch++ {
		inputs, err := poll.ProcessMessages(cfg.Poll)
		if err != nil {
			return fmt.Errorf("process batch %d: %w", batch, err)
		}
		if err := writeInputs(cfg.OutDir, fmt.Sprintf("process_%d.json", batch), inputs); err != nil {
			return err
		}
	}
	for batch := 0; poll.HasUntalliedBallots(); batch++ {
		inputs, err := poll.TallyVotes()
		if err != nil {
			return fmt.Errorf("tally batch %d: %w", batch, err)
		}
		if err := writeInputs(cfg.OutDir, fmt.Sprintf("tally_%d.json", batch), inputs); err != nil {
			return err
		}
	}
	if cfg.Subsidy {
		for batch := 0; poll.HasUnfinishedSubsidyCalculation(); batch++ {
			inputs, err := poll.SubsidyPerBatch()
			if err != nil {
				return fmt.Errorf("subsidy batch %d: %w", batch, err)
			}
			if err := writeInputs(cfg.OutDir, fmt.Sprintf("subsidy_%d.json", batch), inputs); err != nil {
				return err
			}
		}
	}
	log.Infow("pipeline done", "pollId", cfg.Poll, "outdir", cfg.OutDir)
	return nil
}

func keypairFromSeed(seedHex string) (*babyjub.Keypair, error) {
	raw, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode key seed: %w", err)
	}
	seed := sha256.Sum256(raw)
	return babyjub.NewKeypairFromSeed(seed), nil
}

// counterSaltSource yields the deterministic salt sequence seed, seed+1, ...
func counterSaltSource(seed int64) func() *big.Int {
	counter := big.NewInt(seed)
	return func() *big.Int {
		salt := new(big.Int).Mod(counter, types.SNARKFieldSize)
		counter.Add(counter, big.NewInt(1))
		return salt
	}
}

func writeInputs(dir, name string, inputs any) error {
	data, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	log.Debugw("circuit inputs written", "file", path)
	return nil
}
