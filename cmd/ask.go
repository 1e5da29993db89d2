package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/docvec/pkg/llm"
)

var askStream bool

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the stored documents",
	Long: `Retrieves the chunks most similar to the question and asks a chat model
to answer from them, citing the source documents.

Without a question, ask starts an interactive session; type 'exit' to quit.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

func init() {
	addQueryFlags(askCmd)
	askCmd.Flags().BoolVar(&askStream, "stream", true, "print the answer as it is generated")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()

	answerer, err := llm.NewAnswerer(llm.ChatConfig{
		Model:       a.cfg.LLM.Model,
		Temperature: a.cfg.LLM.Temperature,
		MaxTokens:   a.cfg.LLM.MaxTokens,
		BaseURL:     a.cfg.LLM.BaseURL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	if len(args) == 1 {
		return answer(ctx, cmd, a, answerer, args[0])
	}

	// Interactive chat loop with colored output
	out := cmd.OutOrStdout()
	color.New(color.FgCyan).Fprintln(out, "Chat with your knowledge base (type 'exit' to quit)")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	userPrompt := color.New(color.FgGreen)

	for {
		userPrompt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			break
		}

		question := strings.TrimSpace(scanner.Text())
		if strings.ToLower(question) == "exit" {
			break
		}
		if question == "" {
			continue
		}

		if err := answer(ctx, cmd, a, answerer, question); err != nil {
			color.New(color.FgRed).Fprintf(out, "Error: %v\n", err)
		}
	}

	return scanner.Err()
}

func answer(ctx context.Context, cmd *cobra.Command, a *app, answerer *llm.Answerer, question string) error {
	out := cmd.OutOrStdout()
	assistant := color.New(color.FgCyan)

	spinner := getSpinner(cmd.ErrOrStderr(), "Searching documents...")
	hits, err := search(ctx, a, question)
	spinner.Finish()
	fmt.Fprint(cmd.ErrOrStderr(), "\r")
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(hits) == 0 {
		cmd.Println("No relevant documents found.")
		return nil
	}

	var reply llm.Answer
	if askStream {
		assistant.Fprint(out, "\nAssistant: ")
		reply, err = answerer.AnswerStream(ctx, question, hits, func(chunk string) error {
			_, err := fmt.Fprint(out, chunk)
			return err
		})
		fmt.Fprintln(out)
	} else {
		spinner := getSpinner(cmd.ErrOrStderr(), "Generating response...")
		reply, err = answerer.Answer(ctx, question, hits)
		spinner.Finish()
		fmt.Fprint(cmd.ErrOrStderr(), "\r")
		if err == nil {
			assistant.Fprintf(out, "\nAssistant: %s\n", reply.Text)
		}
	}
	if err != nil {
		return err
	}

	if len(reply.Sources) > 0 {
		color.New(color.Faint).Fprintf(out, "\nSources:\n  %s\n", strings.Join(reply.Sources, "\n  "))
	}
	return nil
}
