package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"indicator-engine/internal/model"
	sqlitestore "indicator-engine/internal/store/sqlite"
)

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Load daily quotes from CSV files (date,open,high,low,close[,volume])",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "security",
				Aliases: []string{"s"},
				Usage:   "Security `ID` for every file; defaults to each file's base name",
			},
		},
		Action: importAction,
	}
}

func importAction(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		return errors.New("no CSV files given")
	}
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	a := &app{cfg: cfg, log: log}
	if err := a.openSQLite(); err != nil {
		return err
	}
	defer a.Close()

	barCh := make(chan sqlitestore.SecurityBar, 1024)
	done := make(chan int, 1)
	go func() { done <- a.writer.Run(ctx, barCh) }()

	var readErr error
	read := 0
	for _, path := range files {
		id := cmd.String("security")
		if id == "" {
			id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		n, err := readCSV(ctx, path, id, barCh)
		read += n
		if err != nil {
			readErr = fmt.Errorf("%s: %w", path, err)
			break
		}
		log.Info("read quotes", zap.String("file", path), zap.String("security", id), zap.Int("bars", n))
	}
	close(barCh)
	written := <-done

	fmt.Fprintf(os.Stderr, "imported %d of %d bars\n", written, read)
	if readErr != nil {
		return readErr
	}
	if written != read {
		return fmt.Errorf("%d bars not written", read-written)
	}
	return nil
}

// readCSV streams the rows of one file to out. A header row is skipped when
// its first cell is not a date.
func readCSV(ctx context.Context, path, securityID string, out chan<- sqlitestore.SecurityBar) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	n := 0
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if line == 1 {
			if _, err := model.ParseDate(rec[0]); err != nil {
				continue
			}
		}
		bar, err := parseRow(rec)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		select {
		case out <- sqlitestore.SecurityBar{SecurityID: securityID, Bar: bar}:
			n++
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

func parseRow(rec []string) (model.PriceBar, error) {
	var b model.PriceBar
	if len(rec) < 5 {
		return b, fmt.Errorf("want at least 5 columns, got %d", len(rec))
	}
	d, err := model.ParseDate(rec[0])
	if err != nil {
		return b, err
	}
	b.Date = d
	for i, dst := range []*decimal.Decimal{&b.Open, &b.High, &b.Low, &b.Close} {
		v, err := decimal.NewFromString(rec[i+1])
		if err != nil {
			return b, fmt.Errorf("column %d: %w", i+2, err)
		}
		*dst = v
	}
	if len(rec) > 5 && rec[5] != "" {
		vol, err := strconv.ParseFloat(rec[5], 64)
		if err != nil {
			return b, fmt.Errorf("volume: %w", err)
		}
		b.Volume = int64(vol)
	}
	if b.High.LessThan(b.Low) {
		return b, fmt.Errorf("high %s below low %s", b.High, b.Low)
	}
	return b, nil
}
