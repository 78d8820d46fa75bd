package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragctl",
		Short:         "Chunk documents and crawl wiki pages for retrieval indexing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(chunkCmd())
	root.AddCommand(crawlCmd())
	return root
}
