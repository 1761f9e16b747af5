package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "xfavo",
		Short:         "Import saved X posts from MHTML archives into a local library",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(importCmd())
	root.AddCommand(addCmd())
	root.AddCommand(listCmd())
	root.AddCommand(tagsCmd())
	root.AddCommand(foldersCmd())
	root.AddCommand(folderCmd())
	root.AddCommand(retagCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(feedCmd())

	return root
}

func importCmd() *cobra.Command {
	var (
		opts       importFlags
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import every .mhtml/.mht archive in a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), args[0], opts, jsonOutput)
		},
	}

	opts.register(cmd)
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "concurrent imports (default: from config)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func addCmd() *cobra.Command {
	var opts importFlags

	cmd := &cobra.Command{
		Use:   "add <url>",
		Short: "Bookmark a single post by URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdd(cmd.Context(), args[0], opts)
		},
	}

	opts.register(cmd)
	return cmd
}

func listCmd() *cobra.Command {
	var (
		folder     string
		tags       []string
		sort       string
		offset     int
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), listFlags{
				folder: folder, tags: tags, sort: sort,
				offset: offset, limit: limit, json: jsonOutput,
			})
		},
	}

	cmd.Flags().StringVar(&folder, "folder", "", "only posts in this folder")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "only posts carrying every given tag")
	cmd.Flags().StringVar(&sort, "sort", "desc", "order by posted time (asc or desc)")
	cmd.Flags().IntVar(&offset, "offset", 0, "posts to skip")
	cmd.Flags().IntVar(&limit, "limit", 20, "max posts to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTags(cmd.Context())
		},
	}
}

func foldersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "folders",
		Short: "List folders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFolders(cmd.Context())
		},
	}
}

func folderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Manage folders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFolderCreate(cmd.Context(), args[0])
		},
	})
	return cmd
}

func retagCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retag <post-id> [tags...]",
		Short: "Replace the tags of a post",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRetag(cmd.Context(), args[0], args[1:])
		},
	}
}

func serveCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), port)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "server port (default: from config)")
	return cmd
}

func watchCmd() *cobra.Command {
	var (
		opts     importFlags
		interval string
		feed     bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Import archives dropped into a directory until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd.Context(), args[0], opts, interval, feed)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&interval, "interval", "", "scan interval (default: from config)")
	cmd.Flags().BoolVar(&feed, "feed", false, "also poll configured Nitter feeds")
	return cmd
}

func feedCmd() *cobra.Command {
	var opts importFlags

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Import recent posts of configured accounts from Nitter RSS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeed(cmd.Context(), opts)
		},
	}

	opts.register(cmd)
	return cmd
}

// importFlags are shared by every command that stores posts.
type importFlags struct {
	folder  string
	tags    []string
	workers int
}

func (f *importFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.folder, "folder", "", "put new posts in this folder (created if missing)")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "tag new posts (repeatable)")
}
