package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/gotomicro/ego/core/elog"

	"github.com/asivery/fusenetmd/api"
	"github.com/asivery/fusenetmd/core"
	"github.com/asivery/fusenetmd/vfs"
)

var (
	configFile = flag.String("config", "", "Configuration file path (JSON format)")
	mountPoint = flag.String("mount", "./mnt", "Mount point directory")
	memDevice  = flag.Bool("mem", false, "Use the in-memory demo deck instead of USB hardware")
	debug      = flag.Bool("debug", false, "Enable verbose debug logging")
	allowOther = flag.Bool("allow-other", false, "Allow other users to access the mount")
	apiAddr    = flag.String("api", "", "Listen address of the HTTP status API (empty disables)")
	recoveryDB = flag.String("recovery-db", "", "Path of the sqlite recovery cache (empty disables)")
	printToken = flag.Bool("print-token", false, "Print an API bearer token and exit")
)

type Config struct {
	MountPoint string `json:"mount_point"`
	AllowOther bool   `json:"allow_other"`
	Debug      bool   `json:"debug"`
	APIAddr    string `json:"api_addr"`
	RecoveryDB string `json:"recovery_db"`
}

func loadConfig() (*Config, error) {
	cfg := &Config{}
	if *configFile != "" {
		data, err := os.ReadFile(*configFile)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	// command line arguments override the configuration file
	mountSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "mount" {
			mountSet = true
		}
	})
	if mountSet || cfg.MountPoint == "" {
		cfg.MountPoint = *mountPoint
	}
	if *allowOther {
		cfg.AllowOther = true
	}
	if *debug {
		cfg.Debug = true
	}
	if *apiAddr != "" {
		cfg.APIAddr = *apiAddr
	}
	if *recoveryDB != "" {
		cfg.RecoveryDB = *recoveryDB
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *printToken {
		token, expires, err := api.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s\n(expires at %d)\n", token, expires)
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	core.Init(&core.CoreConfig{RecoveryDB: cfg.RecoveryDB})

	if !*memDevice {
		// The USB deck driver is an out-of-tree integration; the engine
		// only needs something implementing core.Device.
		fmt.Fprintf(os.Stderr, "No deck driver linked into this build; use -mem for the demo deck\n")
		os.Exit(1)
	}
	dev := core.NewMemDevice()

	var store *core.RecoveryStore
	if core.Conf().RecoveryDB != "" {
		store, err = core.OpenRecoveryStore(core.Conf().RecoveryDB)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open recovery cache: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
	}

	cache, transfer := vfs.NewEngine(dev, store)
	if err := cache.Init(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read the disc: %v\n", err)
		os.Exit(1)
	}

	nfs := vfs.NewNetMDFS(cache, transfer)
	server, err := vfs.Mount(nfs, &vfs.MountOptions{
		MountPoint: cfg.MountPoint,
		AllowOther: cfg.AllowOther,
		Debug:      cfg.Debug,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to mount: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Mounted at %s\n", cfg.MountPoint)

	if cfg.APIAddr != "" {
		go func() {
			if err := api.Run(cfg.APIAddr, cache); err != nil {
				elog.Error("api stopped", elog.Any("err", err))
			}
		}()
	}

	if err := vfs.Serve(server, true); err != nil {
		fmt.Fprintf(os.Stderr, "Serve failed: %v\n", err)
		os.Exit(1)
	}
}
