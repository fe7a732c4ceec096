package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/neo/pkg/admin"
	"github.com/cuemby/neo/pkg/cluster"
	neoconfig "github.com/cuemby/neo/pkg/config"
	"github.com/cuemby/neo/pkg/ids"
	"github.com/cuemby/neo/pkg/log"
	"github.com/cuemby/neo/pkg/master"
	"github.com/cuemby/neo/pkg/network"
	"github.com/cuemby/neo/pkg/proto"
	"github.com/cuemby/neo/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "neo",
	Short: "NEO - distributed transactional object store",
	Long: `NEO is a distributed, fault-tolerant, transactional object store:
masters coordinate a partitioned cluster of storages through raft,
clients read and write objects through an MVCC-consistent two-phase
commit protocol.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("neo version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().StringP("config", "c", "neo.yaml", "Path to the cluster config manifest")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(masterCmd)
	rootCmd.AddCommand(storageCmd)
	rootCmd.AddCommand(adminCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

func loadConfig(cmd *cobra.Command) (neoconfig.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return neoconfig.Load(path)
}

// serve accepts connections on listen forever, handing each one to
// network.NewConnection with handlers, which runs its own read/liveness
// loops; serve itself never blocks past Listen failing.
func serve(listen string, handlers network.HandlerSet, pingDelay, pingTimeout time.Duration) error {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listen, err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			network.NewConnection(conn, handlers, pingDelay, pingTimeout, log.Logger)
		}
	}()
	return nil
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
}

// ---- master ----

var masterCmd = &cobra.Command{
	Use:   "master",
	Short: "Run a NEO master node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		bootstrap, _ := cmd.Flags().GetBool("bootstrap")

		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "./neo-master-data"
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		uuidNum, err := strconv.ParseUint(cfg.UUID, 10, 64)
		if err != nil {
			return fmt.Errorf("master uuid must be numeric: %w", err)
		}
		selfUUID := ids.UUID(uuidNum)
		self := cluster.Node{UUID: selfUUID, Type: proto.NodeTypeMaster, Address: cfg.Listen, State: proto.NodeStateRunning}

		if cfg.RaftBind == "" {
			return fmt.Errorf("config: raft_bind is required for a master node")
		}

		fsm := master.NewFSM(cfg.Partitions, cfg.Replicas)
		elect := &master.Election{
			UUID:     cfg.UUID,
			BindAddr: cfg.RaftBind,
			DataDir:  dataDir,
		}
		if err := elect.Bootstrap(fsm, bootstrap, nil); err != nil {
			return fmt.Errorf("start raft: %w", err)
		}

		dialer := network.Dialer{PingDelay: cfg.PingDelay, PingTimeout: cfg.PingTimeout, Log: log.Logger}
		pool := network.NewPool(dialer, 0)
		coord := master.NewCoordinator(fsm, elect, pool, cfg.Replicas, log.Logger)
		srv := master.NewServer(fsm, elect, coord, pool, cfg.ClusterName, self, log.Logger)

		if err := serve(cfg.Listen, srv.Handlers(), cfg.PingDelay, cfg.PingTimeout); err != nil {
			return err
		}
		log.Logger.Info().Str("listen", cfg.Listen).Str("cluster", cfg.ClusterName).Msg("master listening")

		waitForSignal()
		log.Logger.Info().Msg("master shutting down")
		pool.Close()
		return elect.Shutdown()
	},
}

func init() {
	masterCmd.Flags().Bool("bootstrap", false, "Bootstrap a brand-new single-node raft cluster")
}

// ---- storage ----

var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "Run a NEO storage node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		dataDir := cfg.DataDir
		if dataDir == "" {
			dataDir = "./neo-storage-data"
		}
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}

		uuidNum, err := strconv.ParseUint(cfg.UUID, 10, 64)
		if err != nil {
			return fmt.Errorf("storage uuid must be numeric: %w", err)
		}
		self := cluster.Node{UUID: ids.UUID(uuidNum), Type: proto.NodeTypeStorage, Address: cfg.Listen, State: proto.NodeStateRunning}

		store, err := storage.NewBoltStore(dataDir)
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		locks := storage.NewLocks(cfg.PingTimeout)
		life := storage.NewLifecycle()
		srv := storage.NewServer(store, locks, life, cfg.ClusterName, self, cfg.Partitions, log.Logger)

		if err := serve(cfg.Listen, srv.Handlers(), cfg.PingDelay, cfg.PingTimeout); err != nil {
			return err
		}
		log.Logger.Info().Str("listen", cfg.Listen).Str("cluster", cfg.ClusterName).Msg("storage listening")

		waitForSignal()
		log.Logger.Info().Msg("storage shutting down")
		return store.Close()
	},
}

// ---- admin ----

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Query or administer a running cluster",
}

func adminClient(cmd *cobra.Command) (*admin.Client, *network.Pool, neoconfig.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, neoconfig.Config{}, err
	}
	if len(cfg.MasterNodes) == 0 {
		return nil, nil, neoconfig.Config{}, fmt.Errorf("config has no master_nodes to query")
	}
	pool := network.NewPool(admin.Dialer(log.Logger, cfg.PingDelay, cfg.PingTimeout), 0)
	return admin.New(pool, cfg.MasterNodes[0], 5*time.Second), pool, cfg, nil
}

var adminNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the cluster's known nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, pool, _, err := adminClient(cmd)
		if err != nil {
			return err
		}
		defer pool.Close()

		nodes, err := c.ListNodes()
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-10s %-22s %s\n", "UUID", "TYPE", "ADDRESS", "STATE")
		for _, n := range nodes {
			fmt.Printf("%-20d %-10s %-22s %s\n", n.UUID, n.Type, n.Address, n.State)
		}
		return nil
	},
}

var adminSetNodeStateCmd = &cobra.Command{
	Use:   "set-node-state UUID STATE",
	Short: "Force a node's recorded state (running, down, broken, hidden, pending)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, pool, _, err := adminClient(cmd)
		if err != nil {
			return err
		}
		defer pool.Close()

		uuidNum, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("uuid must be numeric: %w", err)
		}
		state, err := parseNodeState(args[1])
		if err != nil {
			return err
		}
		if err := c.SetNodeState(uuidNum, state); err != nil {
			return err
		}
		fmt.Println("✓ node state updated")
		return nil
	},
}

var adminCheckReplicasCmd = &cobra.Command{
	Use:   "check-replicas PARTITION...",
	Short: "Verify every cell of the given partitions is up-to-date",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, pool, _, err := adminClient(cmd)
		if err != nil {
			return err
		}
		defer pool.Close()

		partitions := make([]uint32, len(args))
		for i, a := range args {
			n, err := strconv.ParseUint(a, 10, 32)
			if err != nil {
				return fmt.Errorf("partition %q is not a number: %w", a, err)
			}
			partitions[i] = uint32(n)
		}
		if err := c.CheckReplicas(partitions); err != nil {
			return err
		}
		fmt.Println("✓ all requested partitions are up-to-date")
		return nil
	},
}

func parseNodeState(s string) (proto.NodeState, error) {
	switch s {
	case "running":
		return proto.NodeStateRunning, nil
	case "down":
		return proto.NodeStateTemporarilyDown, nil
	case "broken":
		return proto.NodeStateBroken, nil
	case "hidden":
		return proto.NodeStateHidden, nil
	case "pending":
		return proto.NodeStatePending, nil
	default:
		return 0, fmt.Errorf("unknown node state %q", s)
	}
}

func init() {
	adminCmd.AddCommand(adminNodesCmd)
	adminCmd.AddCommand(adminSetNodeStateCmd)
	adminCmd.AddCommand(adminCheckReplicasCmd)
}
