package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/docvec/pkg/loader"
	"github.com/xhad/docvec/pkg/pipeline"
	"github.com/xhad/docvec/pkg/processor"
	"github.com/xhad/docvec/pkg/scraper"
)

var (
	ingestCrawl         bool
	ingestMaxDepth      int
	ingestTitle         string
	ingestSkipUnchanged bool
	ingestWorkers       int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path|url]...",
	Short: "Chunk, embed and store documents",
	Long: `Reads each argument as a file, a directory or a web page, splits the text
into chunks, embeds every chunk and stores the document with its chunks.

A document is stored only when all of its chunks were embedded. Embedding
calls are retried with exponential backoff before a document is marked failed.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestCrawl, "crawl", false, "follow same-host links from web pages")
	ingestCmd.Flags().IntVar(&ingestMaxDepth, "max-depth", 0, "maximum link depth when crawling (default from config)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "title for a single ingested document")
	ingestCmd.Flags().BoolVar(&ingestSkipUnchanged, "skip-unchanged", false, "skip documents whose content is already stored")
	ingestCmd.Flags().IntVarP(&ingestWorkers, "workers", "w", 0, "documents ingested in parallel (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	subs, err := collectSubmissions(ctx, cmd, a, args)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("no supported documents found")
	}
	if ingestTitle != "" && len(subs) == 1 {
		subs[0].Title = ingestTitle
	}

	bar := getProgressBar(cmd.ErrOrStderr(), len(subs), "Ingesting documents...")
	pc := a.cfg.Pipeline
	if ingestWorkers > 0 {
		pc.Workers = ingestWorkers
	}
	p := pipeline.New(
		processor.NewWithConfig(processor.ProcessorConfig{
			MaxChunkSize:        a.cfg.Processor.ChunkSize,
			NormalizeWhitespace: a.cfg.Processor.NormalizeWhitespace,
		}),
		a.embedder,
		a.store,
		pipeline.Config{
			MaxAttempts:      pc.MaxAttempts,
			InitialBackoff:   pc.InitialBackoff,
			MaxBackoff:       pc.MaxBackoff,
			EmbedConcurrency: pc.EmbedConcurrency,
			EmbedRate:        pc.EmbedRate,
			Workers:          pc.Workers,
			SkipUnchanged:    pc.SkipUnchanged || ingestSkipUnchanged,
			OnStateChange: func(r pipeline.Result) {
				if r.State.Terminal() {
					bar.Add(1)
				}
			},
		},
	)

	results := p.IngestAll(ctx, subs)
	bar.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())

	return reportIngest(cmd, results)
}

func collectSubmissions(ctx context.Context, cmd *cobra.Command, a *app, args []string) ([]pipeline.Submission, error) {
	var subs []pipeline.Submission

	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			pages, err := scrapePages(ctx, cmd, a, arg)
			if err != nil {
				return nil, err
			}
			for _, page := range pages {
				subs = append(subs, pipeline.Submission{SourceURL: page.URL, Title: page.Title, Content: page.Content})
			}
			continue
		}

		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}

		var docs []loader.Document
		if info.IsDir() {
			docs, err = loader.LoadDir(arg)
		} else {
			var doc loader.Document
			doc, err = loader.Load(arg)
			docs = append(docs, doc)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", arg, err)
		}

		for _, doc := range docs {
			subs = append(subs, pipeline.Submission{SourceURL: doc.Source, Title: doc.Title, Content: doc.Content})
		}
	}

	return subs, nil
}

func scrapePages(ctx context.Context, cmd *cobra.Command, a *app, url string) ([]scraper.Page, error) {
	sc := a.cfg.Scraper
	config := scraper.ScraperConfig{
		BaseURL:           url,
		MaxDepth:          sc.MaxDepth,
		MaxPages:          sc.MaxPages,
		RateLimit:         sc.RateLimit,
		IgnorePatterns:    sc.IgnorePatterns,
		AllowedExtensions: sc.AllowedExtensions,
	}
	if ingestMaxDepth > 0 {
		config.MaxDepth = ingestMaxDepth
	}
	if !ingestCrawl {
		config.MaxPages = 1
	}

	spinner := getSpinner(cmd.ErrOrStderr(), "Fetching "+url)
	config.OnProgress = func(string) { spinner.Add(1) }

	s, err := scraper.NewWithConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scraper: %w", err)
	}

	pages, err := s.Scrape(ctx, url)
	spinner.Finish()
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to scrape %s: %w", url, err)
	}
	return pages, nil
}

func reportIngest(cmd *cobra.Command, results []pipeline.Result) error {
	out := cmd.OutOrStdout()
	ok := color.New(color.FgGreen)
	skipped := color.New(color.FgYellow)
	failed := color.New(color.FgRed)

	var failures int
	for _, r := range results {
		switch {
		case r.State == pipeline.StateFailed:
			failures++
			failed.Fprintf(out, "✗ %s: %v\n", r.SourceURL, r.Err)
		case r.Skipped:
			skipped.Fprintf(out, "- %s unchanged (document %d)\n", r.SourceURL, r.DocumentID)
		default:
			ok.Fprintf(out, "✓ %s -> document %d (%d chunks)\n", r.SourceURL, r.DocumentID, r.Chunks)
		}
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d documents failed", failures, len(results))
	}
	return nil
}
