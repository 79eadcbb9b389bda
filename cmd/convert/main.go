// Command convert turns the IMDB CSV export into the catalog JSON snapshot.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/WessleyAI/smartflix/engine/catalog"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	in := flag.String("in", envOr("CATALOG_CSV", "data/imdb_movies.csv"), "IMDB CSV export")
	out := flag.String("out", envOr("CATALOG_PATH", "data/movies.json"), "catalog JSON snapshot to write")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	n, err := convert(*in, *out)
	if err != nil {
		logger.Error("convert failed", "error", err)
		os.Exit(1)
	}
	logger.Info("catalog written", "in", *in, "out", *out, "movies", n)
}

func convert(inPath, outPath string) (int, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", inPath, err)
	}
	defer in.Close()

	movies, err := catalog.ConvertCSV(in, nil)
	if err != nil {
		return 0, err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", outPath, err)
	}
	if err := catalog.WriteJSON(out, movies); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", outPath, err)
	}
	return len(movies), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
