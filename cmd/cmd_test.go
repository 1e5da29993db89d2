package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docvec/internal/models"
)

// bagOfWords hashes the words of text into a normalized 1024-dim vector, so
// texts sharing words score higher.
func bagOfWords(text string) []float64 {
	v := make([]float64, models.EmbeddingDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool { return !unicode.IsLetter(r) })
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%uint32(len(v))]++
	}
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range v {
			v[i] /= norm
		}
	} else {
		v[0] = 1
	}
	return v
}

func fakeOllama(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
			Input  any    `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		text := req.Prompt
		switch in := req.Input.(type) {
		case string:
			text = in
		case []any:
			if len(in) > 0 {
				text = fmt.Sprint(in[0])
			}
		}

		v := bagOfWords(text)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"embedding": v, "embeddings": [][]float64{v}})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// resetFlags restores every flag of cmd and its subcommands to its default,
// since flag values live in package variables shared by all executions.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(t, c)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(t, rootCmd)

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCmd(t *testing.T) {
	assert.Equal(t, "docvec", rootCmd.Use)

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"ingest", "search", "ask", "show", "delete"} {
		assert.True(t, names[want], "missing command %s", want)
	}

	flag := searchCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "n", flag.Shorthand)
}

func TestSearchRequiresQuery(t *testing.T) {
	_, err := execute(t, "search")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs([]string{"1", "42"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 42}, ids)

	_, err = parseIDs([]string{"abc"})
	assert.Error(t, err)
	_, err = parseIDs([]string{"0"})
	assert.Error(t, err)
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n b\t\tc", 10))
	assert.Equal(t, "héll...", snippet("héllo world", 4))
}

func TestIngestSearchShowDelete(t *testing.T) {
	srv := fakeOllama(t)
	t.Setenv("OLLAMA_BASE_URL", srv.URL)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("OPENAI_API_KEY", "")

	dir := t.TempDir()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "go.txt"),
		[]byte("Goroutines are lightweight threads managed by the Go runtime. Channels let goroutines communicate."), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "cooking.md"),
		[]byte("# Pasta\nBoil water and add salt before the pasta."), 0o644))

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
database:
  engine: sqlite
  sqlite_path: %q
embedder:
  provider: ollama
  model: test-embed
pipeline:
  initial_backoff: 1ms
  max_backoff: 2ms
`, filepath.Join(dir, "docvec.db"))), 0o644))

	out, err := execute(t, "--config", cfgPath, "ingest", docs)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "✓"), out)

	out, err = execute(t, "--config", cfgPath, "ingest", "--skip-unchanged", filepath.Join(docs, "cooking.md"))
	require.NoError(t, err)
	assert.Contains(t, out, "unchanged")

	out, err = execute(t, "--config", cfgPath, "search", "--json", "-n", "1", "goroutines threads")
	require.NoError(t, err)

	var results []models.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results), out)
	require.Len(t, results, 1)
	assert.True(t, strings.HasSuffix(results[0].SourceURL, "/go.txt"), results[0].SourceURL)
	assert.Equal(t, 1, results[0].Rank)
	docID := results[0].DocumentID

	out, err = execute(t, "--config", cfgPath, "show", fmt.Sprint(docID))
	require.NoError(t, err)
	assert.Contains(t, out, "Goroutines are lightweight threads")
	assert.Contains(t, out, "Chunks:  1")

	out, err = execute(t, "--config", cfgPath, "delete", fmt.Sprint(docID))
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("Deleted document %d", docID))

	_, err = execute(t, "--config", cfgPath, "show", fmt.Sprint(docID))
	assert.ErrorContains(t, err, "not found")

	out, err = execute(t, "--config", cfgPath, "search", "--json", "-n", "5", "goroutines threads")
	require.NoError(t, err)
	assert.NotContains(t, out, "go.txt")
	assert.Contains(t, out, "cooking.md")
}

func TestInvalidEngine(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := execute(t, "--engine", "mongo", "show", "1")
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestFlagsResetBetweenRuns(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	_, err := execute(t, "--engine", "mongo", "search", "--json", "--offset", "3", "q")
	require.Error(t, err)
	assert.True(t, searchJSON)

	_, err = execute(t, "search")
	require.Error(t, err)
	assert.Equal(t, "", engine)
	assert.False(t, searchJSON)
	assert.Equal(t, 0, searchOffset)
	assert.Equal(t, -1, searchMaxPerDocument)
	assert.False(t, rootCmd.PersistentFlags().Lookup("engine").Changed)
}
