// Command fitforpdf is the terminal client for the conversion funnel:
// upload a spreadsheet, watch progress, save the PDF.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/fitforpdf/fitforpdf-web/pkg/checkout"
	"github.com/fitforpdf/fitforpdf-web/pkg/convert"
	zlog "github.com/fitforpdf/fitforpdf-web/pkg/convert/logger/zerolog"
	"github.com/fitforpdf/fitforpdf-web/pkg/quota"
)

func main() {
	app := &cli.App{
		Name:  "fitforpdf",
		Usage: "convert spreadsheets to print-ready PDFs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "funnel server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"FITFORPDF_SERVER"},
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "convert",
				Usage:     "convert a spreadsheet to PDF",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mode", Value: "normal", Usage: "render mode: normal, optimized or compact"},
					&cli.StringFlag{Name: "out", Value: ".", Usage: "output directory"},
					&cli.BoolFlag{Name: "no-branding", Usage: "drop the FitForPDF footer branding"},
					&cli.BoolFlag{Name: "truncate-long-text", Usage: "shorten overflowing cell text"},
					&cli.BoolFlag{Name: "download-anyway", Usage: "save the PDF even on a WARN/FAIL verdict"},
				},
				Action: runConvert,
			},
			{
				Name:   "quota",
				Usage:  "show the current export allowance",
				Action: runQuota,
			},
			{
				Name:  "sample",
				Usage: "convert the premium sample spreadsheet",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Value: ".", Usage: "output directory"},
				},
				Action: runSample,
			},
			{
				Name:      "buy-credits",
				Usage:     "get a checkout link for a credit pack",
				ArgsUsage: "<pack>",
				Action:    runBuyCredits,
			},
			{
				Name:   "go-pro",
				Usage:  "get a checkout link for the pro plan",
				Action: runGoPro,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newClient(c *cli.Context, outDir string) (*convert.Client, *quota.State, error) {
	level := zerolog.WarnLevel
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	state := quota.NewState(c.String("server"), nil)

	opts := convert.DefaultOptions()
	opts.IncludeBranding = !c.Bool("no-branding")
	opts.TruncateLongText = c.Bool("truncate-long-text")

	client, err := convert.NewClient(convert.Config{
		BaseURL:    c.String("server"),
		Quota:      state,
		Downloader: convert.DirDownloader{Dir: outDir},
		Options:    opts,
		Logger:     zlog.NewLogger(logger),
	})
	if err != nil {
		return nil, nil, err
	}
	return client, state, nil
}

func runConvert(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: fitforpdf convert <file>", 2)
	}
	path := c.Args().First()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	mode := convert.Mode(c.String("mode"))
	switch mode {
	case convert.ModeNormal, convert.ModeOptimized, convert.ModeCompact:
	default:
		return cli.Exit(fmt.Sprintf("unknown mode %q", mode), 2)
	}

	client, state, err := newClient(c, c.String("out"))
	if err != nil {
		return err
	}
	state.Sync(c.Context)

	return runSubmission(c.Context, client, state, convert.SourceFile{
		Name: filepath.Base(path),
		Data: data,
	}, mode, c.Bool("download-anyway"))
}

func runSubmission(
	ctx context.Context, client *convert.Client, state *quota.State,
	file convert.SourceFile, mode convert.Mode, downloadAnyway bool,
) error {
	watchCtx, cancelWatch := context.WithCancel(ctx)
	go client.Progress().Watch(watchCtx, func(step convert.Step) {
		fmt.Printf("\r[%3d%%] %-12s", step.Percent, step.Label)
	})

	err := client.Submit(ctx, file, mode)
	cancelWatch()
	fmt.Println()

	if err != nil {
		if errors.Is(err, convert.ErrQuotaLocked) {
			fmt.Println(state.Message())
			return cli.Exit("quota exhausted", 1)
		}
		return err
	}

	return reportResult(client, state, downloadAnyway)
}

func reportResult(client *convert.Client, state *quota.State, downloadAnyway bool) error {
	result := client.Result()

	if result.Notice != "" {
		fmt.Println(result.Notice)
	}

	switch {
	case result.Oversized != nil:
		fmt.Println("This document is too large for a direct export.")
		for _, rec := range result.Oversized.Recommendations {
			switch rec {
			case convert.RecommendRetryCompact:
				fmt.Println("  - retry with --mode compact")
			case convert.RecommendReduceScope:
				fmt.Println("  - reduce the sheet's scope and try again")
			}
		}
		return cli.Exit("", 1)

	case result.State == convert.StateResultOK:
		fmt.Printf("saved %s\n", result.Filename)

	case result.State == convert.StateResultWarn, result.State == convert.StateResultFail:
		fmt.Printf("verdict %s:\n", result.Verdict.Verdict)
		for _, reason := range result.Reasons {
			fmt.Println("  -", reason)
		}
		if downloadAnyway {
			if err := client.DownloadAnyway(); err != nil {
				return err
			}
			fmt.Printf("saved %s\n", result.Filename)
		} else {
			fmt.Println("re-run with --download-anyway to save it, or try --mode optimized")
		}

	case result.Err != "":
		return cli.Exit(result.Err, 1)

	default:
		// Quota exhaustion surfaced mid-flow.
		if msg := state.Message(); msg != "" {
			fmt.Println(msg)
			return cli.Exit("", 1)
		}
	}

	fmt.Println(state.String())
	return nil
}

func runQuota(c *cli.Context) error {
	state := quota.NewState(c.String("server"), nil)
	state.Sync(c.Context)
	fmt.Println(state.String())
	return nil
}

func runSample(c *cli.Context) error {
	client, state, err := newClient(c, c.String("out"))
	if err != nil {
		return err
	}
	state.Sync(c.Context)

	if err := client.TrySample(c.Context); err != nil {
		return err
	}
	return reportResult(client, state, false)
}

func runBuyCredits(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: fitforpdf buy-credits <pack>", 2)
	}
	client := checkout.NewClient(c.String("server"), nil)
	url, err := client.BuyCredits(c.Context, c.Args().First())
	if errors.Is(err, checkout.ErrComingSoon) {
		fmt.Println("Credit packs are coming soon.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}

func runGoPro(c *cli.Context) error {
	client := checkout.NewClient(c.String("server"), nil)
	url, err := client.GoPro(c.Context)
	if errors.Is(err, checkout.ErrComingSoon) {
		fmt.Println("The Pro plan is coming soon.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Println(url)
	return nil
}
