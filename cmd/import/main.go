// Command import loads access codes into a plan, one code per line, from a
// file or stdin. Blank lines are skipped and codes already stored are
// reported as duplicates, so a partially failed run can simply be repeated.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"lodge-codevault/internal/application"
	"lodge-codevault/internal/config"
	"lodge-codevault/internal/domain/model"
	"lodge-codevault/internal/infra/logging"
	"lodge-codevault/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode")
	file := flag.String("file", "-", "file with one code per line, - for stdin")
	planName := flag.String("plan", "", "plan name")
	sizing := flag.Int("sizing", 0, "devices (device plans) or days (tv plans)")
	price := flag.Int64("price", 0, "plan price in minor units")
	kind := flag.String("kind", string(model.PlanKindDevice), "plan kind: device|tv")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	in, closeIn, err := openInput(*file)
	if err != nil {
		log.Fatalf("input: %v", err)
	}
	defer closeIn()

	vault, err := application.Build(ctx, cfg, logger, application.Options{})
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer vault.Close()

	spec := usecase.PlanSpec{PlanName: *planName, Sizing: *sizing, Price: *price, Kind: model.PlanKind(*kind)}
	total, err := importCodes(ctx, vault.UseCase, spec, in, usecase.MaxBatchSize)
	fmt.Printf("plan=%s added=%d duplicates=%d blank=%d\n", total.PlanID, total.Added, total.Duplicates, total.Blank)
	if err != nil {
		log.Fatalf("import stopped: %v", err)
	}
}

func openInput(path string) (io.Reader, func(), error) {
	if path == "-" || path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// importCodes sends lines in chunks of at most chunk codes and sums the
// per-chunk results. Line numbers in errors refer to the whole input.
func importCodes(ctx context.Context, uc usecase.CodeUseCase, spec usecase.PlanSpec, r io.Reader, chunk int) (usecase.BatchResult, error) {
	var total usecase.BatchResult
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	lines := make([]string, 0, chunk)
	offset := 0
	flush := func() error {
		if len(lines) == 0 {
			return nil
		}
		res, err := uc.AddCodes(ctx, usecase.BatchInput{PlanSpec: spec, Codes: lines})
		if res != nil {
			total.PlanID = res.PlanID
			total.Added += res.Added
			total.Duplicates += res.Duplicates
			total.Blank += res.Blank
		}
		if err != nil {
			return fmt.Errorf("chunk starting at line %d: %w", offset+1, err)
		}
		offset += len(lines)
		lines = lines[:0]
		return nil
	}

	for sc.Scan() {
		lines = append(lines, sc.Text())
		if len(lines) == chunk {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	return total, flush()
}
