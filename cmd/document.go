package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var showJSON bool

var showCmd = &cobra.Command{
	Use:   "show [document-id]",
	Short: "Show a stored document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [document-id]...",
	Short: "Delete documents and all of their chunks",
	Long: `Deletes each document together with every chunk it owns.
Deleting an id that does not exist is not an error.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "output as JSON")
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(deleteCmd)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid document id %q", arg)
		}
		ids[i] = id
	}
	return ids, nil
}

func runShow(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	doc, err := a.store.GetDocument(ctx, ids[0])
	if err != nil {
		return err
	}
	chunks, err := a.store.ListChunks(ctx, doc.ID)
	if err != nil {
		return err
	}

	if showJSON {
		data, err := json.MarshalIndent(map[string]any{"document": doc, "chunks": chunks}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal document: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	out := cmd.OutOrStdout()
	color.New(color.FgCyan, color.Bold).Fprintf(out, "Document %d: %s\n", doc.ID, doc.Title)
	fmt.Fprintf(out, "  Source:  %s\n", doc.SourceURL)
	fmt.Fprintf(out, "  Created: %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(out, "  Chunks:  %d\n\n", len(chunks))

	for _, c := range chunks {
		status := color.GreenString("embedded")
		if c.Embedding == nil {
			status = color.YellowString("pending")
		}
		fmt.Fprintf(out, "  #%d (chunk %d, %s) %s\n", c.ChunkIndex, c.ID, status, snippet(c.Content, 80))
	}
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range ids {
		if err := a.store.DeleteDocument(ctx, id); err != nil {
			return fmt.Errorf("failed to delete document %d: %w", id, err)
		}
		color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "✓ Deleted document %d\n", id)
	}
	return nil
}
