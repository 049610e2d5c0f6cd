package marketplace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultBinary         = "provider-services"
	DefaultKeyringBackend = "test"
	DefaultChainID        = "akashnet-2"
	DefaultGasPrices      = "0.025uakt"
	DefaultGasAdjustment  = "1.75"

	queryTimeout = 30 * time.Second
	txTimeout    = 120 * time.Second
	probeTimeout = 3 * time.Second

	// Average block interval, used to estimate wallclock creation time
	// from the block height the ledger reports.
	blockInterval = 6 * time.Second
)

// CLIConfig configures the provider-services backed clients.
type CLIConfig struct {
	Binary         string
	WalletName     string
	KeyringBackend string
	ChainID        string
	Nodes          []string
	GasPrices      string
	GasAdjustment  string
}

func (cfg *CLIConfig) withDefaults() CLIConfig {
	out := *cfg
	if out.Binary == "" {
		out.Binary = DefaultBinary
	}
	if out.KeyringBackend == "" {
		out.KeyringBackend = DefaultKeyringBackend
	}
	if out.ChainID == "" {
		out.ChainID = DefaultChainID
	}
	if out.GasPrices == "" {
		out.GasPrices = DefaultGasPrices
	}
	if out.GasAdjustment == "" {
		out.GasAdjustment = DefaultGasAdjustment
	}
	return out
}

// runner executes one external command and returns its output streams.
// Swapped out in tests.
type runner func(ctx context.Context, timeout time.Duration, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out, errbuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &out
	cmd.Stderr = &errbuf

	err := cmd.Run()
	if ctx.Err() != nil {
		err = ctx.Err()
	}
	return out.Bytes(), errbuf.Bytes(), err
}

// CLIClient implements LedgerClient and ProviderClient by driving the
// provider-services binary. The marketplace wire protocol stays opaque; this
// type only builds command lines and decodes their output.
type CLIClient struct {
	cfg  CLIConfig
	node string
	run  runner

	heightOnce sync.Once
	heightBase int64
	heightAt   time.Time
}

func NewCLIClient(cfg CLIConfig) *CLIClient {
	full := cfg.withDefaults()
	node := ""
	if len(full.Nodes) > 0 {
		node = full.Nodes[0]
	}
	return &CLIClient{
		cfg:  full,
		node: node,
		run:  execRunner,
	}
}

// SelectNode probes all configured RPC nodes concurrently and switches to
// the fastest responder. Falls back to the first configured node when every
// probe fails.
func (c *CLIClient) SelectNode(ctx context.Context) string {
	if len(c.cfg.Nodes) < 2 {
		return c.node
	}
	log.Debug("Probing RPC nodes for connectivity and speed")

	type probe struct {
		node    string
		elapsed time.Duration
		err     error
	}

	results := make(chan probe, len(c.cfg.Nodes))
	client := &http.Client{Timeout: probeTimeout}

	var wg sync.WaitGroup
	for _, node := range c.cfg.Nodes {
		wg.Add(1)
		go func(node string) {
			defer wg.Done()
			start := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, node+"/status", nil)
			if err != nil {
				results <- probe{node: node, err: err}
				return
			}
			resp, err := client.Do(req)
			if err != nil {
				results <- probe{node: node, err: err}
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				results <- probe{node: node, err: fmt.Errorf("status %d", resp.StatusCode)}
				return
			}
			results <- probe{node: node, elapsed: time.Since(start)}
		}(node)
	}
	wg.Wait()
	close(results)

	working := make([]probe, 0, len(c.cfg.Nodes))
	for p := range results {
		if p.err == nil {
			working = append(working, p)
		} else {
			log.Debugf("RPC node %s unreachable: %s", p.node, p.err)
		}
	}

	if len(working) == 0 {
		log.Warnf("All RPC nodes failed probing, falling back to %s", c.cfg.Nodes[0])
		c.node = c.cfg.Nodes[0]
		return c.node
	}

	sort.Slice(working, func(i, j int) bool { return working[i].elapsed < working[j].elapsed })
	c.node = working[0].node
	log.Infof("Selected RPC node %s (%s, %d/%d nodes responding)", c.node, working[0].elapsed.Round(time.Millisecond), len(working), len(c.cfg.Nodes))
	return c.node
}

func (c *CLIClient) queryArgs(node string, args ...string) []string {
	out := append([]string{}, args...)
	out = append(out, "--node", node, "--output", "json")
	return out
}

func (c *CLIClient) txArgs(args ...string) []string {
	out := append([]string{}, args...)
	out = append(out,
		"--node", c.node,
		"--keyring-backend", c.cfg.KeyringBackend,
		"--from", c.cfg.WalletName,
		"--chain-id", c.cfg.ChainID,
		"--gas", "auto",
		"--gas-adjustment", c.cfg.GasAdjustment,
		"--gas-prices", c.cfg.GasPrices,
		"--yes",
		"--output", "json",
	)
	return out
}

// providerArgs builds the flag set for commands that talk directly to a
// provider endpoint rather than the ledger.
func (c *CLIClient) providerArgs(lease Lease, args ...string) []string {
	out := append([]string{}, args...)
	out = append(out,
		"--dseq", strconv.FormatUint(lease.DSeq, 10),
		"--gseq", strconv.FormatUint(uint64(lease.GSeq), 10),
		"--oseq", strconv.FormatUint(uint64(lease.OSeq), 10),
		"--provider", lease.Provider,
		"--keyring-backend", c.cfg.KeyringBackend,
		"--from", c.cfg.WalletName,
		"--node", c.node,
		"--auth-type", "mtls",
	)
	return out
}

// query runs a ledger query, failing over to the remaining configured nodes
// when the selected one errors out. A successful failover sticks.
func (c *CLIClient) query(ctx context.Context, args ...string) ([]byte, error) {
	stdout, stderr, err := c.run(ctx, queryTimeout, c.cfg.Binary, c.queryArgs(c.node, args...)...)
	if err == nil {
		return jsonOutput(stdout)
	}

	lastErr := queryError(err, stderr)
	for _, backup := range c.cfg.Nodes {
		if backup == c.node {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warnf("Query failed on %s, trying backup node %s", c.node, backup)
		stdout, stderr, err = c.run(ctx, queryTimeout, c.cfg.Binary, c.queryArgs(backup, args...)...)
		if err == nil {
			c.node = backup
			return jsonOutput(stdout)
		}
		lastErr = queryError(err, stderr)
	}
	return nil, lastErr
}

// tx submits a transaction. A deadline expiring while the command is in
// flight is an ambiguous outcome, surfaced as ErrTxTimeout.
func (c *CLIClient) tx(ctx context.Context, args ...string) (*TxResult, error) {
	stdout, stderr, err := c.run(ctx, txTimeout, c.cfg.Binary, c.txArgs(args...)...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTxTimeout, err)
		}
		return nil, queryError(err, stderr)
	}
	return parseTxResult(stdout)
}

func queryError(err error, stderr []byte) error {
	msg := bytes.TrimSpace(stderr)
	if len(msg) == 0 {
		return err
	}
	return fmt.Errorf("%w: %s", err, msg)
}

// currentHeight caches the chain height once per invocation; heights map to
// wallclock time only approximately and one sample is enough for the recency
// window comparisons this process makes.
func (c *CLIClient) currentHeight(ctx context.Context) int64 {
	c.heightOnce.Do(func() {
		raw, err := c.query(ctx, "query", "block")
		if err != nil {
			log.Debugf("Could not query current block: %s", err)
			return
		}
		c.heightBase = parseBlockHeight(raw)
		c.heightAt = time.Now()
	})
	return c.heightBase
}

// estimateTime converts a block height into approximate wallclock time.
func (c *CLIClient) estimateTime(ctx context.Context, height int64) time.Time {
	base := c.currentHeight(ctx)
	if base == 0 || height == 0 || height > base {
		return time.Time{}
	}
	return c.heightAt.Add(-time.Duration(base-height) * blockInterval)
}
