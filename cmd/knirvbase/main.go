// cmd/knirvbase is the CLI entry point built with Cobra. It only wires
// together a Database and a handful of direct-manipulation commands —
// parsing a query language and serving it over a network protocol is
// somebody else's job.
//
// Usage:
//
//	knirvbase serve --network-id net1 --name "Team Net" --bootstrap host:port,host2:port2
//	knirvbase insert notes '{"id":"n1","text":"hello"}'
//	knirvbase get notes n1
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/knirv/knirvbase/internal/config"
	"github.com/knirv/knirvbase/internal/database"
	"github.com/knirv/knirvbase/internal/types"
	"github.com/spf13/cobra"
)

var (
	dataDir string
	peerID  string
)

func main() {
	root := &cobra.Command{
		Use:   "knirvbase",
		Short: "peer-to-peer replicated document store",
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "", "directory documents are stored under (defaults to the XDG data dir)")
	root.PersistentFlags().StringVar(&peerID, "peer-id", "", "this node's peer id (random if unset)")

	root.AddCommand(serveCmd(), insertCmd(), getCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveDataDir returns --data-dir if set, otherwise
// $XDG_DATA_HOME/knirvbase, falling back to $HOME/.local/share/knirvbase
// when XDG_DATA_HOME is unset, matching the convention most Linux CLI
// tools follow for runtime state.
func resolveDataDir() (string, error) {
	if dataDir != "" {
		return dataDir, nil
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "knirvbase"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "knirvbase"), nil
}

func openDatabase() (*database.Database, error) {
	dir, err := resolveDataDir()
	if err != nil {
		return nil, err
	}
	return database.New(database.Options{BaseDir: dir, PeerID: peerID})
}

func serveCmd() *cobra.Command {
	var networkID, name, networkConfigPath string
	var bootstrap []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run a node, optionally joining a network, until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Shutdown()

			fmt.Printf("peer %s listening\n", db.PeerID())

			cfg := types.NetworkConfig{NetworkID: networkID, Name: name, BootstrapPeers: bootstrap}
			if networkConfigPath != "" {
				cfg, err = config.LoadNetworkConfig(networkConfigPath)
				if err != nil {
					return fmt.Errorf("load network config: %w", err)
				}
			}

			if cfg.NetworkID != "" {
				if len(cfg.BootstrapPeers) == 0 {
					if _, err := db.CreateNetwork(cfg); err != nil {
						return fmt.Errorf("create network: %w", err)
					}
					fmt.Printf("created network %s\n", cfg.NetworkID)
				} else {
					if err := db.JoinNetwork(cfg.NetworkID, cfg.BootstrapPeers); err != nil {
						return fmt.Errorf("join network: %w", err)
					}
					fmt.Printf("joining network %s via %v\n", cfg.NetworkID, cfg.BootstrapPeers)
				}
			}

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit
			fmt.Println("shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&networkID, "network-id", "", "network to create or join")
	cmd.Flags().StringVar(&name, "name", "", "display name when creating a new network")
	cmd.Flags().StringSliceVar(&bootstrap, "bootstrap", nil, "bootstrap peer addresses (host:port); implies join rather than create")
	cmd.Flags().StringVar(&networkConfigPath, "network-config", "", "YAML file describing the network, overriding the flags above")

	return cmd
}

func insertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "insert <collection> <json-document>",
		Short: "insert a document into a collection",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc map[string]any
			if err := json.Unmarshal([]byte(args[1]), &doc); err != nil {
				return fmt.Errorf("parse document: %w", err)
			}

			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Shutdown()

			got, err := db.Collection(args[0]).Insert(doc)
			if err != nil {
				return err
			}
			return printJSON(got)
		},
	}
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <collection> <id>",
		Short: "fetch a document by id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Shutdown()

			doc, err := db.Collection(args[0]).Find(args[1])
			if err != nil {
				return err
			}
			return printJSON(doc)
		},
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
