package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgallion1/ragingest/internal/chunker"
	"github.com/dgallion1/ragingest/internal/confluence"
	"github.com/dgallion1/ragingest/internal/crawl"
	"github.com/spf13/cobra"
)

func crawlCmd() *cobra.Command {
	var req crawl.Request
	var out string
	var delay time.Duration
	var mergePeers bool

	cmd := &cobra.Command{
		Use:   "crawl <page-url>",
		Short: "Crawl a Confluence page tree and print its text and image chunks as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.URL = args[0]
			if req.Username == "" {
				req.Username = os.Getenv("CONFLUENCE_USERNAME")
			}
			if req.Token == "" {
				req.Token = os.Getenv("CONFLUENCE_API_TOKEN")
			}

			cfg := chunker.DefaultConfig()
			cfg.MergePeers = mergePeers
			log := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
			c := crawl.New(out, cfg, log, confluence.WithMinInterval(delay))

			res, err := c.Crawl(cmd.Context(), req)
			if err != nil {
				return err
			}
			b, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return fmt.Errorf("encode output: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Username, "username", "", "Confluence username (default: $CONFLUENCE_USERNAME)")
	cmd.Flags().StringVar(&req.Token, "token", "", "Confluence API token (default: $CONFLUENCE_API_TOKEN)")
	cmd.Flags().BoolVar(&req.Recursive, "recursive", true, "follow child pages")
	cmd.Flags().IntVar(&req.MaxDepth, "max-depth", -1, "maximum child depth, -1 for unlimited")
	cmd.Flags().StringVarP(&out, "out", "o", "./outputs", "directory for downloaded images")
	cmd.Flags().DurationVar(&delay, "delay", confluence.DefaultMinInterval, "minimum interval between requests")
	cmd.Flags().BoolVar(&mergePeers, "merge-peers", false, "merge sibling blocks into larger chunks")
	return cmd
}
