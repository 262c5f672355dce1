package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/BaSui01/failover/catalog"
	"github.com/BaSui01/failover/config"
	"github.com/BaSui01/failover/internal/database"
)

// =============================================================================
// 🗃️ 提供方目录迁移命令
// =============================================================================
// 目录表结构由 gorm AutoMigrate 管理：up 幂等建表/补列，
// seed 写入禁用状态的示例记录，status 汇报当前目录规模。

// runMigrate 处理 migrate 子命令
func runMigrate(args []string) {
	if len(args) < 1 {
		printMigrateUsage()
		os.Exit(1)
	}

	subcommand := args[0]
	subargs := args[1:]

	switch subcommand {
	case "up":
		runMigrateUp(subargs)
	case "seed":
		runMigrateSeed(subargs)
	case "status":
		runMigrateStatus(subargs)
	case "help", "-h", "--help":
		printMigrateUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown migrate subcommand: %s\n", subcommand)
		printMigrateUsage()
		os.Exit(1)
	}
}

// openStore 加载配置并连接目录存储
func openStore(configPath string) (*catalog.Store, func(), error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := initLogger(cfg.Log)

	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		logger.Sync()
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
		logger.Sync()
	}
	return catalog.NewStore(db, logger.Named("catalog")), cleanup, nil
}

func migrateFlags(name string, args []string) string {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)
	return *configPath
}

func runMigrateUp(args []string) {
	store, cleanup, err := openStore(migrateFlags("migrate up", args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	if err := store.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Catalog tables migrated")
}

func runMigrateSeed(args []string) {
	store, cleanup, err := openStore(migrateFlags("migrate seed", args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := store.Migrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}
	if err := store.SeedExampleData(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Example catalog rows inserted (disabled)")
}

func runMigrateStatus(args []string) {
	store, cleanup, err := openStore(migrateFlags("migrate status", args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	recs, err := store.ListEnabledProviders(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status query failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Enabled catalog providers: %d\n", len(recs))
	for _, rec := range recs {
		fmt.Printf("  %-20s kind=%-14s capability=%-24s rank=%d\n",
			rec.Name, rec.Kind, rec.Capability, rec.Rank)
	}
}

func printMigrateUsage() {
	fmt.Println(`Provider Catalog Migration Commands

Usage:
  failover migrate <subcommand> [options]

Subcommands:
  up        Create or update the catalog tables (gorm AutoMigrate)
  seed      Insert disabled example catalog rows
  status    List enabled catalog providers

Options:
  --config <path>   Path to configuration file (YAML)

Examples:
  failover migrate up
  failover migrate seed --config /etc/failover/config.yaml
  failover migrate status`)
}
