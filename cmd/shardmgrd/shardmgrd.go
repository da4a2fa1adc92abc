// Package main provides a standalone tool to drive a shard manager replica
// from the command line: create a PG, propose CREATE/SEAL shards against an
// in-memory replication device, and dump the resulting directory state.
// Modeled on the teacher's cmd/xmeta tool — a small flag-driven utility
// that exercises the core library against one concrete backing, rather
// than a long-running daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/nodestore/shardmgr/internal/config"
	"github.com/nodestore/shardmgr/internal/fakedev"
	"github.com/nodestore/shardmgr/shardmgr"
)

const helpMsg = `Build:
	go install shardmgrd.go

Examples:
	shardmgrd -pg=7 -create=1048576          - create a PG and propose one CREATE for 1 MiB
	shardmgrd -pg=7 -create=1048576 -seal    - create, then immediately seal it
	shardmgrd -pg=7 -create=1048576 -list    - create, then dump the PG's shard list as JSON
	shardmgrd -conf=/etc/shardmgr.yaml -pg=7 -list
`

var flags struct {
	confPath string
	pgID     uint64
	create   int64
	seal     bool
	list     bool
	help     bool
}

func main() {
	flag.StringVar(&flags.confPath, "conf", "", "path to a shard manager YAML config (optional)")
	flag.Uint64Var(&flags.pgID, "pg", 1, "placement group id to operate on")
	flag.Int64Var(&flags.create, "create", 0, "propose a CREATE of this many bytes (0 = skip)")
	flag.BoolVar(&flags.seal, "seal", false, "seal the created shard immediately")
	flag.BoolVar(&flags.list, "list", false, "dump the PG's shard list as JSON after running")
	flag.BoolVar(&flags.help, "h", false, "show usage")
	flag.Parse()

	if flags.help {
		fmt.Print(helpMsg)
		return
	}
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "shardmgrd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	if flags.confPath != "" {
		loaded, err := config.Load(flags.confPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.Apply()

	selector := fakedev.NewChunkSelector()
	store := fakedev.NewSuperblockStore()
	mgr := shardmgr.New(selector, store, cfg.BlockSizeBytes)

	mgr.AddPG(flags.pgID)
	dev := fakedev.NewDevice(cfg.BlockSizeBytes)
	mgr.AttachDevice(flags.pgID, dev)

	ctx := context.Background()
	if flags.create > 0 {
		f, err := mgr.CreateShard(ctx, flags.pgID, flags.create)
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}
		info, err := f.Wait(ctx)
		if err != nil {
			return fmt.Errorf("create: %w", err)
		}
		fmt.Printf("created shard %d in pg %d\n", info.ID, info.PlacementGroup)

		if flags.seal {
			sf, err := mgr.SealShard(ctx, *info)
			if err != nil {
				return fmt.Errorf("seal: %w", err)
			}
			if _, err := sf.Wait(ctx); err != nil {
				return fmt.Errorf("seal: %w", err)
			}
			fmt.Printf("sealed shard %d\n", info.ID)
		}
	}

	if flags.list {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(mgr.Shards(flags.pgID))
	}
	return nil
}
