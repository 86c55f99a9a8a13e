package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	apiURL  string
	token   string
	timeout time.Duration
}

// NewRootCommand builds the pqe command tree. Output goes to out as
// indented JSON.
func NewRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "pqe",
		Short:         "Ask coverage questions about policy documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.apiURL, "api-url", envOr("API_BASE_URL", "http://localhost:8080"), "base URL of the API")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("API_AUTH_TOKEN"), "bearer token for the API")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 5*time.Minute, "request timeout")

	root.AddCommand(
		runCmd(opts),
		uploadCmd(opts),
		indexCmd(opts),
		statusCmd(opts),
		deleteCmd(opts),
		statsCmd(opts),
		checkCmd(opts),
	)
	return root
}

func runCmd(opts *rootOptions) *cobra.Command {
	var document string
	var questions []string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Answer questions against a document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if document == "" {
				return fmt.Errorf("--document is required")
			}
			if len(questions) == 0 {
				return fmt.Errorf("at least one --question is required")
			}
			client, err := opts.client()
			if err != nil {
				return err
			}
			resp, err := client.Run(cmd.Context(), document, questions)
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVarP(&document, "document", "d", "", "document URL or file:// reference")
	cmd.Flags().StringArrayVarP(&questions, "question", "q", nil, "question to answer (repeatable)")
	return cmd
}

func uploadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload FILE",
		Short: "Upload a local file and print its reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			uploaded, err := client.Upload(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, uploaded)
		},
	}
}

func indexCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "index URL",
		Short: "Register a document for background indexing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			doc, err := client.Register(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	}
}

func statusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status DOCUMENT_ID",
		Short: "Show the indexing status of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			doc, err := client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, doc)
		},
	}
}

func deleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete DOCUMENT_ID",
		Short: "Remove a document's vectors from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			res, err := client.Delete(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func statsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show vector index statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func checkCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the API is reachable and healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			health, err := client.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("api unhealthy: %w", err)
			}
			if health["status"] != "healthy" {
				return fmt.Errorf("api reported status %v", health["status"])
			}
			return printJSON(cmd, health)
		},
	}
}

func (o *rootOptions) client() (*APIClient, error) {
	return NewAPIClient(o.apiURL, o.token, o.timeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
