package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"drivegate/pkg/auth"
	"drivegate/pkg/config"
	"drivegate/pkg/fuse"
	"drivegate/pkg/gateway"
	"drivegate/pkg/query"
	"drivegate/pkg/rpc"
	"drivegate/pkg/types"
	"drivegate/pkg/utils"
)

func dial(cfg *config.Config) (*rpc.Client, error) {
	tlsConfig, err := auth.ClientConfig(cfg.Client.TLS)
	if err != nil {
		return nil, err
	}
	return rpc.NewClient(cfg.Client.Address, rpc.ClientOptions{
		Origin: cfg.Client.Origin,
		Token:  cfg.Client.Token,
		TLS:    tlsConfig,
		Retry:  rpc.DefaultRetryPolicy,
	})
}

// withClient runs fn with a connected client and the configured call
// timeout.
func withClient(fn func(ctx context.Context, c *rpc.Client) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := dial(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", cfg.Client.Address, err)
	}
	defer c.Close()

	ctx := context.Background()
	if cfg.Client.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Client.Timeout)
		defer cancel()
	}
	return fn(ctx, c)
}

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <url>",
		Short: "Show information about a drive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				info, err := c.GetInfo(ctx, args[0], gateway.InfoOptions{})
				if err != nil {
					return err
				}
				fmt.Println(titleStyle.Render(orUntitled(info.Title)))
				fmt.Println(field("URL", info.URL))
				fmt.Println(field("Version", fmt.Sprint(info.Version)))
				fmt.Println(field("Writable", fmt.Sprint(info.Writable)))
				fmt.Println(field("Peers", fmt.Sprint(info.Peers)))
				if info.Description != "" {
					fmt.Println(field("Description", info.Description))
				}
				if info.Manifest != nil {
					fmt.Println(field("Size", utils.FormatSize(info.Size)))
					fmt.Println(field("Seeding", fmt.Sprint(info.Seeding)))
					if info.ForkOf != "" {
						fmt.Println(field("Fork of", info.ForkOf))
					}
				}
				return nil
			})
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <url>",
		Short: "Show the metadata of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				st, err := c.Stat(ctx, args[0], gateway.StatOptions{})
				if err != nil {
					return err
				}
				fmt.Println(field("Type", string(st.Type)))
				fmt.Println(field("Size", utils.FormatSize(st.Size)))
				fmt.Println(field("Modified", st.Mtime.Format(time.RFC3339)))
				if st.Linkname != "" {
					fmt.Println(field("Target", st.Linkname))
				}
				if st.Mount != nil {
					fmt.Println(field("Mount", st.Mount.Key.URL()))
				}
				for k, v := range st.Metadata {
					fmt.Println(field(k, v))
				}
				return nil
			})
		},
	}
}

func catCmd() *cobra.Command {
	var encoding string

	cmd := &cobra.Command{
		Use:   "cat <url>",
		Short: "Print a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				data, err := c.ReadFile(ctx, args[0], gateway.ReadOptions{Encoding: gateway.Encoding(encoding)})
				if err != nil {
					return err
				}
				_, err = os.Stdout.Write(data)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&encoding, "encoding", string(gateway.EncodingBinary), "output encoding (utf8, base64, hex, binary)")
	return cmd
}

func putCmd() *cobra.Command {
	var metadata map[string]string

	cmd := &cobra.Command{
		Use:   "put <url> [file]",
		Short: "Write a file from a local file or stdin",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 2 {
				data, err = os.ReadFile(args[1])
			} else {
				data, err = io.ReadAll(os.Stdin)
			}
			if err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				return c.WriteFile(ctx, args[0], data, gateway.WriteOptions{
					Encoding: gateway.EncodingBinary,
					Metadata: metadata,
				})
			})
		},
	}

	cmd.Flags().StringToStringVar(&metadata, "meta", nil, "metadata key=value pairs")
	return cmd
}

func lsCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "ls <url>",
		Short: "List a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				entries, err := c.Readdir(ctx, args[0], gateway.ReaddirOptions{Recursive: recursive, IncludeStats: true})
				if err != nil {
					return err
				}
				t := newTable("NAME", "TYPE", "SIZE", "MODIFIED")
				for _, e := range entries {
					kind, size, mtime := "", "", ""
					if e.Stat != nil {
						kind = string(e.Stat.Type)
						size = utils.FormatSize(e.Stat.Size)
						mtime = e.Stat.Mtime.Format(time.DateTime)
					}
					t.Row(e.Name, kind, size, mtime)
				}
				fmt.Println(t.Render())
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list subdirectories too")
	return cmd
}

func mkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <url>",
		Short: "Create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				return c.Mkdir(ctx, args[0], gateway.OpOptions{})
			})
		},
	}
}

func rmCmd() *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "rm <url>",
		Short: "Remove a file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				st, err := c.Stat(ctx, args[0], gateway.StatOptions{})
				if err != nil {
					return err
				}
				switch st.Type {
				case types.EntryDirectory:
					return c.Rmdir(ctx, args[0], gateway.RmdirOptions{Recursive: recursive})
				case types.EntryMount:
					return c.Unmount(ctx, args[0], gateway.OpOptions{})
				}
				return c.Unlink(ctx, args[0], gateway.OpOptions{})
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents")
	return cmd
}

func queryCmd() *cobra.Command {
	var (
		patterns []string
		kind     string
		sortKey  string
		reverse  bool
		offset   int
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "query <url>...",
		Short: "Query one or more drives",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := query.Options{
				Drives:  args,
				Path:    patterns,
				Type:    types.EntryType(kind),
				Sort:    query.SortKey(sortKey),
				Reverse: reverse,
				Offset:  offset,
				Limit:   limit,
			}
			if err := q.Validate(); err != nil {
				return err
			}
			return withClient(func(ctx context.Context, c *rpc.Client) error {
				matches, err := c.Query(ctx, q, gateway.OpOptions{})
				if err != nil {
					return err
				}
				t := newTable("URL", "TYPE", "SIZE", "MODIFIED")
				for _, m := range matches {
					t.Row(m.URL, string(m.Stat.Type), utils.FormatSize(m.Stat.Size), m.Stat.Mtime.Format(time.DateTime))
				}
				fmt.Println(t.Render())
				fmt.Println(mutedStyle.Render(fmt.Sprintf("%d results", len(matches))))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&patterns, "path", "p", nil, "path glob patterns")
	cmd.Flags().StringVar(&kind, "type", "", "entry type (file, directory, symlink, mount)")
	cmd.Flags().StringVar(&sortKey, "sort", string(query.DefaultSort), "sort key (name, mtime, ctime)")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "reverse the order")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results (0 for all)")
	return cmd
}

func mountCmd() *cobra.Command {
	var version uint64

	cmd := &cobra.Command{
		Use:   "mount <url> <mountpoint>",
		Short: "Mount a drive read-only",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.Logging, verbose)
			defer logger.Sync()

			c, err := dial(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			opts := fuse.Options{Debug: verbose, Logger: logger}
			if cmd.Flags().Changed("version") {
				v := types.Version(version)
				opts.Version = &v
			}

			url, err := c.LoadDrive(context.Background(), args[0], gateway.OpOptions{})
			if err != nil {
				return err
			}
			server, err := fuse.Mount(args[1], c, url, opts)
			if err != nil {
				return fmt.Errorf("failed to mount %s: %w", args[1], err)
			}
			logger.Info("Serving mount; unmount to stop", zap.String("mountpoint", args[1]))
			server.Wait()
			return nil
		},
	}

	cmd.Flags().Uint64Var(&version, "version", 0, "mount a historic version")
	return cmd
}

func orUntitled(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(untitled)"
	}
	return s
}
