package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "edgenode",
	Short: "edgenode DPoS CLI",
	Long:  `Command line interface for a permissioned DPoS edge-device node.`,
}

var (
	configFlag      string
	blockIndexFlag  int64
	startIndexFlag  int64
	endIndexFlag    int64
	txIndexFlag     int
)

func Execute() {
	if len(os.Args) < 2 {
		rootCmd.Help()
		os.Exit(0)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "./config.yaml", "Path to node configuration file")

	var startCmd = &cobra.Command{
		Use:   "start",
		Short: "Start the node: orchestrator duties plus the peer HTTP surface",
		Run:   runStart,
	}
	rootCmd.AddCommand(startCmd)

	var initCmd = &cobra.Command{
		Use:   "init [dir]",
		Short: "Scaffold a default configuration directory",
		Args:  cobra.MaximumNArgs(1),
		Run:   runInit,
	}
	rootCmd.AddCommand(initCmd)

	var chainCmd = &cobra.Command{
		Use:   "chain",
		Short: "Inspect local chain state",
	}
	rootCmd.AddCommand(chainCmd)

	var chainInfoCmd = &cobra.Command{
		Use:   "info",
		Short: "Print chain length and latest block hash",
		Run:   runChainInfo,
	}
	chainCmd.AddCommand(chainInfoCmd)

	var chainBlocksCmd = &cobra.Command{
		Use:   "blocks",
		Short: "Print blocks in a range",
		Run:   runChainBlocks,
	}
	chainBlocksCmd.Flags().Int64Var(&startIndexFlag, "start", 0, "Start index (inclusive)")
	chainBlocksCmd.Flags().Int64Var(&endIndexFlag, "end", -1, "End index (inclusive); -1 means to tail")
	chainCmd.AddCommand(chainBlocksCmd)

	var chainProofCmd = &cobra.Command{
		Use:   "proof",
		Short: "Print a Merkle inclusion proof for a transaction",
		Run:   runChainProof,
	}
	chainProofCmd.Flags().Int64Var(&blockIndexFlag, "block", 0, "Block index")
	chainProofCmd.Flags().IntVar(&txIndexFlag, "tx", 0, "Transaction index within the block")
	chainCmd.AddCommand(chainProofCmd)

	var chainBackupCmd = &cobra.Command{
		Use:   "backup <dest>",
		Short: "Snapshot the node's data directory to a destination path",
		Args:  cobra.ExactArgs(1),
		Run:   runChainBackup,
	}
	chainCmd.AddCommand(chainBackupCmd)
}

func loadStoreReadOnly() (Store, NodeConfig, error) {
	cfg, err := LoadConfig(configFlag)
	if err != nil {
		return nil, cfg, err
	}
	store, err := OpenSQLiteStore(cfg.DataDir + "/edgechain.db")
	return store, cfg, err
}

func runStart(cmd *cobra.Command, args []string) {
	cfg, err := LoadConfig(configFlag)
	if err != nil {
		PrintError("loading config: %v", err)
		os.Exit(1)
	}

	store, err := OpenSQLiteStore(cfg.DataDir + "/edgechain.db")
	if err != nil {
		PrintError("opening store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	cps, err := OpenCheckpointStore(cfg.DataDir + "/checkpoints")
	if err != nil {
		PrintError("opening checkpoint store: %v", err)
		os.Exit(1)
	}
	defer cps.Close()

	liveness := NewLivenessView()
	dpos := NewDPoS(liveness, cps)
	dpos.livenessThreshold = cfg.livenessThreshold()
	dpos.blockTime = cfg.blockTime()

	if err := EnsureGenesis(store, dpos, cfg.InitialStakes); err != nil {
		PrintError("bootstrapping genesis: %v", err)
		os.Exit(1)
	}

	var brokerAddrs []string
	for _, b := range cfg.Brokers {
		brokerAddrs = append(brokerAddrs, b.Address)
	}
	var bus Bus
	if len(brokerAddrs) > 0 {
		wsBusImpl, err := NewWSBus(brokerAddrs, cfg.RetryAttempts)
		if err != nil {
			PrintWarning("pub/sub bus unavailable, running without broadcast: %v", err)
		} else {
			bus = wsBusImpl
			defer bus.Close()
		}
	}

	node := NewNode(cfg, store, dpos, liveness, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := StartAPIServer(store, cfg.Host, cfg.Port); err != nil {
			PrintError("peer HTTP surface stopped: %v", err)
		}
	}()

	go func() {
		if err := node.Run(ctx); err != nil {
			PrintError("orchestrator stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	PrintWarning("stop signal received, shutting down")
	cancel()
	PrintSuccess("node shut down cleanly")
}

func runInit(cmd *cobra.Command, args []string) {
	dir := "./config"
	if len(args) > 0 {
		dir = args[0]
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		PrintError("creating config directory: %v", err)
		os.Exit(1)
	}
	PrintSuccess("created config directory at %s — add a config.yaml before running 'edgenode start'", dir)
}

func runChainBackup(cmd *cobra.Command, args []string) {
	cfg, err := LoadConfig(configFlag)
	if err != nil {
		PrintError("loading config: %v", err)
		os.Exit(1)
	}

	dest := args[0]
	if err := CopyDir(cfg.DataDir, dest); err != nil {
		PrintError("backing up data directory: %v", err)
		os.Exit(1)
	}
	PrintSuccess("backed up %s to %s", cfg.DataDir, dest)
}

func runChainInfo(cmd *cobra.Command, args []string) {
	store, _, err := loadStoreReadOnly()
	if err != nil {
		PrintError("opening store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	length, err := store.ChainLength()
	if err != nil {
		PrintError("reading chain length: %v", err)
		os.Exit(1)
	}
	fmt.Printf("chain_length: %d\n", length)

	latest, found, err := store.LatestBlock()
	if err != nil {
		PrintError("reading latest block: %v", err)
		os.Exit(1)
	}
	if found {
		fmt.Printf("latest_block_hash: %s\n", latest.Hash)
	} else {
		fmt.Println("latest_block_hash: null")
	}
}

func runChainBlocks(cmd *cobra.Command, args []string) {
	store, _, err := loadStoreReadOnly()
	if err != nil {
		PrintError("opening store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	blocks, err := store.GetBlocks(startIndexFlag, endIndexFlag)
	if err != nil {
		PrintError("reading blocks: %v", err)
		os.Exit(1)
	}
	for _, b := range blocks {
		out, _ := json.MarshalIndent(b.ToWire(), "", "  ")
		fmt.Println(string(out))
	}
}

func runChainProof(cmd *cobra.Command, args []string) {
	store, _, err := loadStoreReadOnly()
	if err != nil {
		PrintError("opening store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	block, found, err := store.GetBlock(blockIndexFlag)
	if err != nil {
		PrintError("reading block %d: %v", blockIndexFlag, err)
		os.Exit(1)
	}
	if !found {
		PrintError("block %d not found", blockIndexFlag)
		os.Exit(1)
	}
	if txIndexFlag < 0 || txIndexFlag >= len(block.Transactions) {
		PrintError("transaction index %d out of range for block %d", txIndexFlag, blockIndexFlag)
		os.Exit(1)
	}

	tx := block.Transactions[txIndexFlag]
	proof := block.Proof(txIndexFlag)
	valid := block.VerifyInclusion(tx, proof)

	out, _ := json.MarshalIndent(map[string]interface{}{
		"transaction":  tx,
		"merkle_root":  block.MerkleRoot,
		"proof":        proof,
		"proof_valid":  valid,
	}, "", "  ")
	fmt.Println(string(out))
}
