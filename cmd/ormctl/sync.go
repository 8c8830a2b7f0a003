package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/ormsync/internal/mutationlog"
	"github.com/marcus/ormsync/internal/netremote"
	"github.com/marcus/ormsync/internal/ormconfig"
)

var (
	serverURLFlag string
	apiKeyFlag    string
	nodeNameFlag  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push or pull against a sync server",
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push every pending local mutation batch to the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		q := &mutationlog.Queue{Driver: d, NodeID: nodeName()}
		if err := q.EnsureSchema(ctx); err != nil {
			return err
		}

		client := newRemote()
		result, err := q.PushPending(ctx, client)
		if err != nil {
			return err
		}
		fmt.Printf("pushed: %d accepted, %d rejected\n", result.Accepted, len(result.Rejected))
		for _, r := range result.Rejected {
			fmt.Fprintf(os.Stderr, "  rejected %s: %s\n", r.BatchID, r.Reason)
		}
		return nil
	},
}

var syncBulkPullCmd = &cobra.Command{
	Use:   "bulk-pull",
	Short: "Run (or resume) the initial resumable bulk pull from the server",
	Long: `Streams every table's rows from the server as columnar batches,
resuming from each table's recorded _sync_pull_progress cursor so an
interrupted pull picks up where it left off instead of re-fetching or
losing rows.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		d, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer d.Close()

		puller := &mutationlog.BulkPuller{Driver: d}
		if err := puller.EnsureSchema(ctx); err != nil {
			return err
		}
		resumeState, err := puller.ResumeState(ctx)
		if err != nil {
			return err
		}

		if err := newRemote().BulkPull(ctx, resumeState, puller); err != nil {
			return err
		}
		fmt.Println("bulk pull complete")
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server's batch count and sequence cursor",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := newRemote().Status(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("batches:        %d\n", status.BatchCount)
		fmt.Printf("last_server_seq: %d\n", status.LastServerSeq)
		if status.LastBatchTime != "" {
			fmt.Printf("last_batch_time: %s\n", status.LastBatchTime)
		}
		return nil
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Report batches available from the server after a given sequence",
	Long: `Lists the batches the server has applied after --after, without
writing them locally -- applying a pulled batch into the local
database is the embedding host's responsibility (it owns the
table-level apply/undo logic through the generated query builder).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		after, _ := cmd.Flags().GetInt64("after")
		limit, _ := cmd.Flags().GetInt("limit")

		result, err := newRemote().Pull(context.Background(), after, limit)
		if err != nil {
			return err
		}
		fmt.Printf("%d batch(es), last_server_seq=%d, has_more=%v\n", len(result.Batches), result.LastServerSeq, result.HasMore)
		for _, b := range result.Batches {
			fmt.Printf("  %s  %d mutation(s)\n", b.ID, len(b.Mutations))
		}
		return nil
	},
}

func nodeName() string {
	if nodeNameFlag != "" {
		return nodeNameFlag
	}
	if cfg := ormconfig.LoadClientConfig(); cfg.NodeName != "" {
		return cfg.NodeName
	}
	host, _ := os.Hostname()
	return host
}

func newRemote() *netremote.Client {
	cfg := ormconfig.LoadClientConfig()
	url := serverURLFlag
	if url == "" {
		url = cfg.ServerURL
	}
	return netremote.New(url, apiKeyFlag, resolveDBPath())
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.PersistentFlags().StringVar(&serverURLFlag, "server", "", "sync server base URL (default: from client config)")
	syncCmd.PersistentFlags().StringVar(&apiKeyFlag, "api-key", os.Getenv("ORMSYNC_API_KEY"), "bearer token for the sync server")
	syncCmd.PersistentFlags().StringVar(&nodeNameFlag, "node", "", "node identity to report in pushed batches")

	syncPullCmd.Flags().Int64("after", 0, "only report batches applied after this server sequence")
	syncPullCmd.Flags().Int("limit", 1000, "maximum batches to report")

	syncCmd.AddCommand(syncPushCmd, syncPullCmd, syncStatusCmd, syncBulkPullCmd)
}
