package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/EdmarFn/metamask-buddy-challenge/pkg/config"
	"github.com/EdmarFn/metamask-buddy-challenge/pkg/models"
)

var (
	checkJSON    bool
	checkDryRun  bool
	checkRestore bool
	checkTimeout time.Duration
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Test the configuration and every network's RPC endpoints",
	Long: `Validate the configuration file, query eth_chainId on every configured RPC
and report mismatches. Networks without a chain id get the observed one
written back to the config (skipped with --dry-run). With --restore the
latest backup replaces the config before the checks run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if checkRestore {
			restored, err := restoreConfig(cfgPath, cmd.OutOrStdout(), checkJSON)
			if err != nil {
				return err
			}
			cfg = restored
		}
		report, err := runCheck(cmd.Context(), &cfg, cfgPath, checkDryRun, checkJSON, cmd.OutOrStdout())
		if checkJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)
		}
		return err
	},
}

func init() {
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "output test results as JSON")
	checkCmd.Flags().BoolVar(&checkDryRun, "dry-run", false, "perform a trial run with no changes made")
	checkCmd.Flags().BoolVar(&checkRestore, "restore", false, "restore the latest config backup before testing")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Second, "per-RPC timeout")
}

// restoreConfig copies the newest backup of path over it and loads the result.
func restoreConfig(path string, out io.Writer, quiet bool) (config.Config, error) {
	if err := config.RestoreLastBackup(path); err != nil {
		return config.Config{}, fmt.Errorf("restore config: %w", err)
	}
	restored, err := config.LoadConfigFromFile(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load restored config: %w", err)
	}
	if !quiet {
		fmt.Fprintf(out, "Restored configuration from the latest backup of %s\n", path)
	}
	return restored, nil
}

// runCheck probes every RPC of cfg and fills in missing chain ids. Progress
// is printed to out unless quiet is set.
func runCheck(ctx context.Context, cfg *config.Config, path string, dryRun, quiet bool, out io.Writer) (models.TestReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	printf := func(format string, a ...any) {
		if !quiet {
			fmt.Fprintf(out, format, a...)
		}
	}

	report := models.TestReport{
		ConfigPath:     path,
		ValidStructure: true,
		DryRun:         dryRun,
	}
	printf("Testing configuration at: %s\n", path)

	if len(cfg.Networks) == 0 {
		report.ValidStructure = false
		report.StructureErrors = append(report.StructureErrors, "No networks found in configuration.")
		printf("No networks found in configuration.\n")
		return report, fmt.Errorf("invalid configuration")
	}
	for i, n := range cfg.Networks {
		if strings.TrimSpace(n.Name) == "" {
			report.StructureErrors = append(report.StructureErrors, fmt.Sprintf("Network at index %d has no name.", i))
		}
		if len(n.RPCURLs) == 0 {
			report.StructureErrors = append(report.StructureErrors, fmt.Sprintf("Network '%s' has no RPC URLs.", n.Name))
		}
		if n.ChainID != "" {
			if _, err := hexutil.DecodeBig(n.ChainID); err != nil {
				report.StructureErrors = append(report.StructureErrors, fmt.Sprintf("Network '%s' has invalid chain id %q.", n.Name, n.ChainID))
			}
		}
	}
	if len(report.StructureErrors) > 0 {
		report.ValidStructure = false
		for _, msg := range report.StructureErrors {
			printf("Error: %s\n", msg)
		}
		return report, fmt.Errorf("invalid configuration")
	}

	report.AccountCount = len(cfg.Accounts)
	report.NetworkCount = len(cfg.Networks)
	printf("Found %d accounts and %d networks.\n", report.AccountCount, report.NetworkCount)

	for i := range cfg.Networks {
		network := &cfg.Networks[i]
		result := checkNetwork(ctx, network, dryRun, printf)
		if result.ChainIDUpdated {
			report.ConfigUpdated = true
		}
		if result.Inconsistent {
			report.InconsistentChains = append(report.InconsistentChains, network.Name)
		}
		report.Chains = append(report.Chains, result)
	}

	if len(report.InconsistentChains) > 0 {
		printf("\nWARNING: Inconsistent RPCs detected!\n")
		printf("The following networks have RPCs returning conflicting chain ids:\n")
		for _, name := range report.InconsistentChains {
			printf(" - %s\n", name)
		}
	}

	if report.ConfigUpdated {
		printf("\nUpdating configuration with fetched chain ids...\n")
		if dryRun {
			printf("Dry run enabled: Configuration NOT saved.\n")
		} else if err := config.SaveConfig(*cfg, path); err != nil {
			report.SaveError = err.Error()
			printf("Failed to save config: %v\n", err)
		} else {
			printf("Configuration saved successfully.\n")
		}
	}
	return report, nil
}

func checkNetwork(ctx context.Context, network *config.NetworkConfig, dryRun bool, printf func(string, ...any)) models.ChainResult {
	result := models.ChainResult{
		Name:          network.Name,
		ConfigChainID: network.ChainID,
	}
	printf("Testing network: %s\n", network.Name)

	var expected *big.Int
	if network.ChainID != "" {
		expected, _ = hexutil.DecodeBig(network.ChainID)
	}

	var observed *big.Int
	for _, url := range network.RPCURLs {
		rpcResult := models.RPCResult{URL: url}
		printf("  RPC: %s ... ", url)

		id, err := probeChainID(ctx, url)
		if err != nil {
			rpcResult.Status = "error"
			rpcResult.Error = err.Error()
			printf("Failed: %v\n", err)
			result.RPCs = append(result.RPCs, rpcResult)
			continue
		}

		rpcResult.Status = "ok"
		rpcResult.ChainID = hexutil.EncodeBig(id)
		printf("OK (chain id: %s)", rpcResult.ChainID)
		if observed == nil {
			observed = id
			result.ObservedChainID = rpcResult.ChainID
		} else if observed.Cmp(id) != 0 {
			printf(" - WARNING: chain id mismatch with previous RPC (%s)", hexutil.EncodeBig(observed))
			result.Inconsistent = true
		}

		switch {
		case expected != nil && expected.Cmp(id) != 0:
			rpcResult.Error = fmt.Sprintf("Mismatch! Expected %s", network.ChainID)
			printf(" - MISMATCH! Expected %s", network.ChainID)
		case expected != nil:
			printf(" - Verified")
		default:
			expected = id
			network.ChainID = rpcResult.ChainID
			result.ChainIDUpdated = true
			printf(" - UPDATED CONFIG")
			if dryRun {
				printf(" (DRY RUN)")
			}
		}
		printf("\n")
		result.RPCs = append(result.RPCs, rpcResult)
	}
	return result
}

func probeChainID(ctx context.Context, url string) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	id, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	return id, nil
}
