package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/docvec/internal/models"
	"github.com/xhad/docvec/pkg/retriever"
)

var (
	searchTopK           int
	searchMaxPerDocument int
	searchOffset         int
	searchMinScore       float64
	searchJSON           bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search stored chunks by similarity",
	Long: `Embeds the query and returns the most similar stored chunks, ranked by
cosine similarity.

With the postgres engine results come from an approximate (ivfflat) index
and may differ slightly from an exhaustive ranking.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	addQueryFlags(searchCmd)
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "number of ranked results to skip")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&searchTopK, "limit", "n", 0, "maximum number of results (default from config)")
	cmd.Flags().IntVar(&searchMaxPerDocument, "max-per-doc", -1, "maximum results per document (default from config, 0 for no cap)")
	cmd.Flags().Float64Var(&searchMinScore, "min-score", 0, "drop results scoring below this similarity")
}

func search(ctx context.Context, a *app, query string) ([]models.SearchResult, error) {
	rc := a.cfg.Retriever
	q := retriever.Query{
		TopK:           rc.TopK,
		MaxPerDocument: rc.MaxPerDocument,
		Offset:         searchOffset,
		MinScore:       rc.MinScore,
	}
	if searchTopK > 0 {
		q.TopK = searchTopK
	}
	if searchMaxPerDocument >= 0 {
		q.MaxPerDocument = searchMaxPerDocument
	}
	if searchMinScore != 0 {
		q.MinScore = searchMinScore
	}

	r := retriever.New(a.store, a.embedder, retriever.Config{
		DefaultTopK: rc.TopK,
		OverFetch:   rc.OverFetch,
	})
	return r.SearchText(ctx, query, q)
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := search(ctx, a, args[0])
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, results)
	}
	outputSearchTable(cmd, results)
	return nil
}

func outputSearchJSON(cmd *cobra.Command, results []models.SearchResult) error {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, results []models.SearchResult) {
	if len(results) == 0 {
		cmd.Println("No results found.")
		return
	}

	out := cmd.OutOrStdout()
	heading := color.New(color.FgCyan, color.Bold)
	faint := color.New(color.Faint)

	for _, r := range results {
		title := r.DocumentTitle
		if title == "" {
			title = r.SourceURL
		}

		// Format: [N] Title (Score)
		heading.Fprintf(out, "  [%d] %s (%.3f)\n", r.Rank, title, r.Score)
		faint.Fprintf(out, "      %s #%d, document %d, chunk %d\n", r.SourceURL, r.ChunkIndex, r.DocumentID, r.ChunkID)
		fmt.Fprintf(out, "      %s\n\n", snippet(r.Content, 200))
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
