package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/ragtrust/internal/dataset"
	"github.com/ppiankov/ragtrust/internal/logger"
	"github.com/ppiankov/ragtrust/internal/worker"
	"github.com/spf13/cobra"
)

var (
	fetchTimeout time.Duration
	userAgent    string
	maxBytes     int64
	ignoreRobots bool
	urlsFile     string
	corpusOut    string
	fetchRate    float64
)

// corpusCmd groups corpus utilities
var corpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Build evaluation corpora",
}

var corpusFetchCmd = &cobra.Command{
	Use:   "fetch [url...]",
	Short: "Fetch web pages into a wiki-pages corpus file",
	Long: `Fetch downloads pages, extracts their readable text and writes one
wiki-pages JSONL record per page, split into sentences. The output loads
like the FEVER dump, so it can back 'ragtrust query --corpus'.

robots.txt is respected and requests are rate limited per host.

Example:
  ragtrust corpus fetch https://en.wikipedia.org/wiki/Paris --out wiki/web.jsonl
  ragtrust corpus fetch --urls urls.txt --out wiki/web.jsonl --rate 0.5`,
	RunE: runCorpusFetch,
}

func init() {
	rootCmd.AddCommand(corpusCmd)
	corpusCmd.AddCommand(corpusFetchCmd)

	corpusFetchCmd.Flags().DurationVar(&fetchTimeout, "timeout", 30*time.Second, "timeout per page")
	corpusFetchCmd.Flags().StringVar(&userAgent, "ua", "RAGTrust/0.1 (+https://github.com/ppiankov/ragtrust)", "HTTP User-Agent")
	corpusFetchCmd.Flags().Int64Var(&maxBytes, "max-bytes", 2_000_000, "max response bytes to read")
	corpusFetchCmd.Flags().BoolVar(&ignoreRobots, "ignore-robots", false, "do not consult robots.txt")
	corpusFetchCmd.Flags().StringVar(&urlsFile, "urls", "", "file with one URL per line")
	corpusFetchCmd.Flags().StringVar(&corpusOut, "out", "wiki/web.jsonl", "output JSONL file")
	corpusFetchCmd.Flags().Float64Var(&fetchRate, "rate", 1, "requests per second per host")
}

func runCorpusFetch(cmd *cobra.Command, args []string) error {
	urls := append([]string(nil), args...)
	if urlsFile != "" {
		more, err := readURLs(urlsFile)
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("no URLs given")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	fetcher := dataset.NewFetcher(fetchTimeout, userAgent, maxBytes, !ignoreRobots,
		cfg.Providers.HTTPProxy, cfg.Providers.HTTPSProxy, cfg.Providers.NoProxy).
		WithLimiter(worker.NewLimiter(fetchRate, 1))

	ctx := context.Background()
	var pages []dataset.WikiPage
	failures := 0
	for _, u := range urls {
		result, err := fetcher.FetchWithRetry(ctx, u)
		if err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", u, err)
			continue
		}
		page, err := dataset.PageFromHTML(result)
		if err != nil {
			failures++
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", u, err)
			continue
		}
		pages = append(pages, page)
		fmt.Fprintf(os.Stderr, "✓ %s (%s)\n", page.ID, u)
		logger.Debug("%s: %d bytes, status %d", result.FinalURL, len(result.HTML), result.StatusCode)
	}

	if len(pages) == 0 {
		return fmt.Errorf("all %d fetches failed", failures)
	}
	if err := dataset.WritePages(corpusOut, pages); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Pages:     %d\n", len(pages))
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failures)
	fmt.Fprintf(os.Stderr, "  Output:    %s\n", corpusOut)
	return nil
}

// readURLs reads one URL per line, skipping blanks and # comments
func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan url file: %w", err)
	}
	return urls, nil
}
