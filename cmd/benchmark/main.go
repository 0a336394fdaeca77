package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kb/config"
	"kb/internal/bootstrap"
	"kb/internal/logger"
	"kb/internal/usecase"
)

func main() {
	rootDir := flag.String("dir", ".", "Directory holding the kb config and store")
	query := flag.String("q", "", "Query to test")
	topK := flag.Int("k", 10, "Number of results")
	runs := flag.Int("n", 5, "Number of timed search runs")
	flag.Parse()

	if *runs < 1 {
		*runs = 1
	}

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir ./notes -q \"query\"")
		fmt.Println("\nReports:")
		fmt.Println("  1. Embedding service readiness")
		fmt.Println("  2. Semantic similarity of the top results")
		fmt.Println("  3. Search latency over several runs")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*rootDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if !filepath.IsAbs(cfg.Store.Path) {
		cfg.Store.Path = filepath.Join(*rootDir, cfg.Store.Path)
	}

	if cfg.Store.Driver == config.DriverMemory {
		fmt.Fprintln(os.Stderr, "The memory store holds no persisted data to benchmark")
		os.Exit(1)
	}
	st, err := bootstrap.OpenStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()
	gw := bootstrap.NewGateway(cfg)

	health, err := gw.Health(ctx)
	if err != nil || !health.Ready() {
		fmt.Fprintf(os.Stderr, "Embedding service not ready at %s: %v\n", cfg.Embedding.ServerURL, err)
		os.Exit(1)
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SEMANTIC SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Documents: %d, chunks: %d\n", stats.Documents, stats.Chunks)
	fmt.Printf("Store: %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
	fmt.Printf("Device: %s, model: %s\n", health.Device, health.ModelPath)
	fmt.Println()

	retrieve := usecase.NewRetrieveUseCase(st, gw, logger.Discard())

	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println(strings.Repeat("-", 70))

	var (
		total   time.Duration
		results int
		hitsOut []string
		scores  []float64
	)
	for i := 0; i < *runs; i++ {
		start := time.Now()
		hits, err := retrieve.Search(ctx, *query, *topK, nil)
		total += time.Since(start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
			os.Exit(1)
		}
		if i > 0 {
			continue
		}
		results = len(hits)
		for j, h := range hits {
			preview := strings.Join(strings.Fields(h.Content), " ")
			if r := []rune(preview); len(r) > 150 {
				preview = string(r[:150]) + "..."
			}
			hitsOut = append(hitsOut, fmt.Sprintf("%d. [%s %.3f] %s (chunk %d/%d)\n   %s\n",
				j+1, rating(h.SimilarityScore), h.SimilarityScore, filepath.Base(h.SourcePath), h.ChunkIndex+1, h.TotalChunks, preview))
			scores = append(scores, h.SimilarityScore)
		}
	}

	if results == 0 {
		fmt.Println("No results - ingest documents first with 'kb ingest'")
		os.Exit(1)
	}

	fmt.Printf("Top %d semantic matches:\n\n", results)
	for _, line := range hitsOut {
		fmt.Println(line)
	}

	avg := 0.0
	for _, s := range scores {
		avg += s
	}
	avg /= float64(len(scores))

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avg)
	fmt.Printf("  Top-1 similarity:   %.3f\n", scores[0])
	fmt.Printf("  Mean latency:       %s over %d runs\n", total/time.Duration(*runs), *runs)

	if avg > 0.5 {
		fmt.Println("  Status: GOOD - semantic search working well")
	} else if avg > 0.3 {
		fmt.Println("  Status: OK - results are somewhat related")
	} else {
		fmt.Println("  Status: POOR - check the embedding model or re-ingest")
	}
}

func rating(score float64) string {
	switch {
	case score > 0.7:
		return "HIGH"
	case score > 0.5:
		return "GOOD"
	case score > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}
