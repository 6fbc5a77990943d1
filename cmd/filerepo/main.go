// cmd/filerepo is the Cobra-based operator CLI.
//
// Usage:
//
//	filerepo file put <name> <path>     --server http://localhost:8080
//	filerepo file get <name>            --server http://localhost:8080
//	filerepo file delete <name>         --server http://localhost:8080
//	filerepo file list                  --server http://localhost:8080
//	filerepo cluster nodes              --server http://localhost:8080
//	filerepo cluster join <id> <addr>   --server http://localhost:8080
//	filerepo cluster leave <id>         --server http://localhost:8080
//	filerepo cluster lock-status <name> --server http://localhost:8080
//	filerepo group dispatch <request>   --group-addr localhost:9101
//	filerepo group stats                --group-addr localhost:9101
//
// Any "file" subcommand accepts --cluster-addr host:port instead of
// --server, driving the target ActiveCluster node directly over its
// internal/wire peer protocol rather than the HTTP API — useful when
// addressing a node that has no HTTP listener bound, or when testing
// the wire protocol itself:
//
//	filerepo file put c.txt data.txt --cluster-addr localhost:9001
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kduvra/filerepo/internal/apperror"
	"github.com/kduvra/filerepo/internal/client"
	"github.com/kduvra/filerepo/internal/filestore"
	"github.com/kduvra/filerepo/internal/flatgroup"
)

var (
	serverAddr  string
	timeout     time.Duration
	clusterAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "filerepo",
		Short: "CLI client for the replicated file repository",
	}

	root.PersistentFlags().StringVarP(&serverAddr, "server", "s",
		"http://localhost:8080", "filerepod HTTP API address")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"request timeout")

	root.AddCommand(fileCmd(), clusterCmd(), groupCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// ─── file ───────────────────────────────────────────────────────────────────

func fileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file",
		Short: "File operations",
	}
	cmd.PersistentFlags().StringVar(&clusterAddr, "cluster-addr", "",
		"address of an ActiveCluster node's internal/wire peer port; when set, file commands talk directly over the wire protocol instead of --server's HTTP API")
	cmd.AddCommand(filePutCmd(), fileGetCmd(), fileDeleteCmd(), fileListCmd())
	return cmd
}

func filePutCmd() *cobra.Command {
	var mode string
	c := &cobra.Command{
		Use:   "put <name> <local-path>",
		Short: "Upload a local file under name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if clusterAddr != "" {
				if mode != "overwrite" {
					return fmt.Errorf("--cluster-addr only supports overwrite writes (ActiveCluster's OPERATION_COMMIT is always OVERWRITE); got --mode %s", mode)
				}
				wc := client.NewWireClient(clusterAddr, timeout)
				if err := wc.Write(args[0], string(data)); err != nil {
					return err
				}
				fmt.Printf("wrote %q via %s\n", args[0], clusterAddr)
				return nil
			}
			cl := client.New(serverAddr, timeout)
			resp, err := cl.Put(context.Background(), args[0], data, parseWriteMode(mode))
			if err != nil {
				return err
			}
			prettyPrint(resp)
			return nil
		},
	}
	c.Flags().StringVar(&mode, "mode", "overwrite", "append|overwrite|create_new")
	return c
}

func fileGetCmd() *cobra.Command {
	var out string
	c := &cobra.Command{
		Use:   "get <name>",
		Short: "Download a file's content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			if clusterAddr != "" {
				wc := client.NewWireClient(clusterAddr, timeout)
				content, err := wc.Read(args[0])
				if apperror.Is(err, apperror.NotFound) {
					fmt.Printf("file %q not found\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				data = []byte(content)
			} else {
				cl := client.New(serverAddr, timeout)
				d, err := cl.Get(context.Background(), args[0])
				if err == client.ErrNotFound {
					fmt.Printf("file %q not found\n", args[0])
					return nil
				}
				if err != nil {
					return err
				}
				data = d
			}
			if out == "" {
				os.Stdout.Write(data)
				return nil
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	c.Flags().StringVarP(&out, "output", "o", "", "write content to this local path instead of stdout")
	return c
}

func fileDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if clusterAddr != "" {
				wc := client.NewWireClient(clusterAddr, timeout)
				if err := wc.Delete(args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %q via %s\n", args[0], clusterAddr)
				return nil
			}
			cl := client.New(serverAddr, timeout)
			if err := cl.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("deleted %q\n", args[0])
			return nil
		},
	}
}

func fileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every file in the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clusterAddr != "" {
				wc := client.NewWireClient(clusterAddr, timeout)
				names, err := wc.List()
				if err != nil {
					return err
				}
				var list []string
				if names != "" {
					list = strings.Split(names, ",")
				}
				prettyPrint(list)
				return nil
			}
			cl := client.New(serverAddr, timeout)
			files, err := cl.List(context.Background())
			if err != nil {
				return err
			}
			prettyPrint(files)
			return nil
		},
	}
}

func parseWriteMode(s string) filestore.WriteMode {
	switch s {
	case "append":
		return filestore.Append
	case "create_new":
		return filestore.CreateNew
	default:
		return filestore.Overwrite
	}
}

// ─── cluster ────────────────────────────────────────────────────────────────

func clusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "ActiveCluster management commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "nodes",
		Short: "List known ActiveCluster peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := client.New(serverAddr, timeout)
			resp, err := cl.GetRaw(context.Background(), "/cluster/nodes")
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "join <id> <address>",
		Short: "Add a peer to this node's ActiveCluster membership",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := client.New(serverAddr, timeout)
			return cl.PostJSON(context.Background(), "/cluster/join", map[string]string{"id": args[0], "address": args[1]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "leave <id>",
		Short: "Drop a peer from this node's ActiveCluster membership",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := client.New(serverAddr, timeout)
			return cl.PostJSON(context.Background(), "/cluster/leave", map[string]string{"id": args[0]})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "lock-status <resource>",
		Short: "Report the epoch and held flag this node has recorded for a resource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl := client.New(serverAddr, timeout)
			resp, err := cl.GetRaw(context.Background(), "/cluster/lock-status/"+args[0])
			if err != nil {
				return err
			}
			fmt.Println(resp)
			return nil
		},
	})

	return cmd
}

// ─── group ──────────────────────────────────────────────────────────────────

func groupCmd() *cobra.Command {
	var groupAddrs []string
	cmd := &cobra.Command{
		Use:   "group",
		Short: "FlatGroupCoordinator client commands",
	}
	cmd.PersistentFlags().StringSliceVar(&groupAddrs, "group-addr", nil,
		"one or more FlatGroupCoordinator client addresses (failover order)")

	cmd.AddCommand(&cobra.Command{
		Use:   "dispatch <request>",
		Short: "Send a request and print the consensus decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(groupAddrs) == 0 {
				return fmt.Errorf("--group-addr is required")
			}
			fc := flatgroup.NewClient(groupAddrs, timeout, len(groupAddrs))
			decision, outcome := fc.Send(args[0])
			fmt.Printf("%s (%s)\n", decision, outcome)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Send one probe request and print the client-side failover stats for that probe",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(groupAddrs) == 0 {
				return fmt.Errorf("--group-addr is required")
			}
			req := "PING"
			if len(args) == 1 {
				req = args[0]
			}
			fc := flatgroup.NewClient(groupAddrs, timeout, len(groupAddrs))
			fc.Send(req)
			prettyPrint(fc.Stats().Snapshot())
			return nil
		},
	})

	return cmd
}

// ─── helpers ────────────────────────────────────────────────────────────────

func prettyPrint(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}
