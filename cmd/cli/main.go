package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/expense-ingest/internal/app"
	"github.com/dvloznov/expense-ingest/internal/config"
	"github.com/dvloznov/expense-ingest/internal/domain"
	"github.com/dvloznov/expense-ingest/internal/logger"
	"github.com/dvloznov/expense-ingest/internal/pipeline"
	"github.com/rs/zerolog"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})

	switch os.Args[1] {
	case "import-csv":
		runImportCSV(cfg, log)
	case "upload-invoice":
		runUploadInvoice(cfg, log)
	case "reprocess":
		runReprocess(cfg, log)
	case "inspect-batch":
		runInspectBatch(cfg, log)
	case "sweep-stale":
		runSweepStale(cfg, log)
	case "seed-categories":
		runSeedCategories(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Expense Ingest CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  import-csv       Import a bank statement CSV")
	fmt.Println("  upload-invoice   Run the invoice pipeline on a local image or PDF")
	fmt.Println("  reprocess        Run extraction for an invoice left in PROCESSING")
	fmt.Println("  inspect-batch    Show an import batch and its transactions")
	fmt.Println("  sweep-stale      Fail batches and invoices stuck in PROCESSING")
	fmt.Println("  seed-categories  Insert the default category taxonomy")
	fmt.Println("  help             Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func openRepositories(ctx context.Context, cfg *config.Config, log zerolog.Logger) *app.Repositories {
	repos, err := app.OpenRepositories(ctx, cfg.Store, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open repositories")
	}
	return repos
}

func runImportCSV(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("import-csv", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to the CSV file")
	userID := fs.String("user", "", "Owning user ID")
	fs.Parse(os.Args[2:])

	if *filePath == "" || *userID == "" {
		log.Fatal().Msg("Usage: cli import-csv -file PATH -user ID")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	f, err := os.Open(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open file")
	}
	defer f.Close()

	repos := openRepositories(ctx, cfg, log)
	defer repos.Close()

	batch, err := app.NewImporter(cfg, repos, log).ImportBankTransactions(ctx, f, filepath.Base(*filePath), *userID)
	if batch != nil {
		printBatch(batch)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Import failed")
	}
}

func runUploadInvoice(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("upload-invoice", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to the invoice image or PDF")
	userID := fs.String("user", "", "Owning user ID")
	contentType := fs.String("content-type", "", "MIME type (detected when empty)")
	fs.Parse(os.Args[2:])

	if *filePath == "" || *userID == "" {
		log.Fatal().Msg("Usage: cli upload-invoice -file PATH -user ID")
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repos := openRepositories(ctx, cfg, log)
	defer repos.Close()

	processor, err := app.NewProcessor(ctx, cfg, repos, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create invoice processor")
	}

	inv, err := processor.UploadAndProcessInvoice(ctx, pipeline.Upload{
		FileName:    filepath.Base(*filePath),
		ContentType: *contentType,
		Data:        data,
	}, *userID)
	if inv != nil {
		printInvoice(inv)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Invoice processing failed")
	}
}

func runReprocess(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("reprocess", flag.ExitOnError)
	invoiceID := fs.String("invoice-id", "", "Invoice ID to process")
	batchID := fs.String("batch-id", "", "Import batch ID of the upload (optional)")
	fs.Parse(os.Args[2:])

	if *invoiceID == "" {
		log.Fatal().Msg("Error: -invoice-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repos := openRepositories(ctx, cfg, log)
	defer repos.Close()

	processor, err := app.NewProcessor(ctx, cfg, repos, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create invoice processor")
	}

	inv, err := processor.ProcessStored(ctx, *invoiceID, *batchID)
	if inv != nil {
		printInvoice(inv)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Reprocess failed")
	}
}

func runInspectBatch(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect-batch", flag.ExitOnError)
	batchID := fs.String("batch-id", "", "Import batch ID to inspect")
	fs.Parse(os.Args[2:])

	if *batchID == "" {
		log.Fatal().Msg("Error: -batch-id is required")
	}

	ctx := logger.WithContext(context.Background(), log)

	repos := openRepositories(ctx, cfg, log)
	defer repos.Close()

	batch, err := repos.Batches.GetBatch(ctx, *batchID)
	if errors.Is(err, domain.ErrNotFound) {
		log.Fatal().Msg("Batch not found")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get batch")
	}
	printBatch(batch)

	txs, err := repos.Batches.ListTransactions(ctx, batch.ID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	fmt.Printf("\n=== Transactions (%d) ===\n", len(txs))
	for i, tx := range txs {
		fmt.Printf("\n%d. %s\n", i+1, tx.Description)
		fmt.Printf("   Date:     %s\n", tx.Date.Format("2006-01-02"))
		fmt.Printf("   Amount:   %s %s %s\n", tx.Type, tx.Amount.StringFixed(2), tx.Currency)
		if tx.Balance != nil {
			fmt.Printf("   Balance:  %s\n", tx.Balance.StringFixed(2))
		}
	}
	fmt.Println()
}

func runSweepStale(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("sweep-stale", flag.ExitOnError)
	staleAfter := fs.Duration("stale-after", cfg.Sweep.StaleAfter, "Age after which PROCESSING records are failed")
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	repos := openRepositories(ctx, cfg, log)
	defer repos.Close()

	sweepCfg := cfg.Sweep
	sweepCfg.StaleAfter = *staleAfter
	sweeper, closeRedis, err := app.NewSweeper(ctx, sweepCfg, repos, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create stale sweep")
	}
	defer closeRedis()

	res, err := sweeper.RunOnce(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Sweep failed")
	}
	if res.Skipped {
		fmt.Println("Another sweep holds the lock; nothing done.")
		return
	}
	fmt.Printf("Failed %d stale batch(es) and %d stale invoice(s).\n", res.Batches, res.Invoices)
}

func runSeedCategories(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("seed-categories", flag.ExitOnError)
	fs.Parse(os.Args[2:])

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repos := openRepositories(ctx, cfg, log)
	defer repos.Close()

	cats := domain.DefaultCategories()
	n, err := repos.Categories.Seed(ctx, cats)
	if err != nil {
		log.Fatal().Err(err).Msg("Seeding categories failed")
	}
	fmt.Printf("Inserted %d of %d default categories.\n", n, len(cats))
}

func printBatch(b *domain.ImportBatch) {
	fmt.Println("\n=== Import Batch ===")
	fmt.Printf("ID:         %s\n", b.ID)
	fmt.Printf("File:       %s\n", b.FileName)
	fmt.Printf("Source:     %s\n", b.Source)
	fmt.Printf("Status:     %s\n", b.Status)
	fmt.Printf("Records:    %d total, %d ok, %d failed\n", b.TotalRecords, b.SuccessfulRecords, b.FailedRecords)
	if b.ErrorLog != nil {
		fmt.Printf("Errors:\n%s\n", *b.ErrorLog)
	}
}

func printInvoice(inv *domain.Invoice) {
	fmt.Println("\n=== Invoice ===")
	fmt.Printf("ID:         %s\n", inv.ID)
	fmt.Printf("Status:     %s\n", inv.Status)
	fmt.Printf("Vendor:     %s\n", inv.VendorName)
	if inv.TotalAmount != nil {
		fmt.Printf("Total:      %s %s\n", inv.TotalAmount.StringFixed(2), inv.Currency)
	}
	if inv.Confidence != nil {
		fmt.Printf("Confidence: %s\n", inv.Confidence.String())
	}
	for i, li := range inv.LineItems {
		fmt.Printf("  %d. %s  %s x %s = %s\n", i+1, li.Description, li.Quantity, li.UnitPrice.StringFixed(2), li.TotalPrice.StringFixed(2))
	}
	if msg, ok := inv.ExtractedData["error"].(string); ok {
		fmt.Printf("Error:      %s\n", msg)
	}
}
