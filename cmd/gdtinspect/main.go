package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/osvaldoandrade/gdtrelay/internal/client"
	"github.com/osvaldoandrade/gdtrelay/pkg/domain"
	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:5000"

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
	tty   bool
}

type profile struct {
	BaseURL        string `yaml:"baseUrl"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
	DownloadDir    string `yaml:"downloadDir,omitempty"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

type options struct {
	baseURL     string
	profileName string
	timeout     time.Duration
	downloadDir string
}

func newUI() *ui {
	tty := isTerminal(int(os.Stdout.Fd()))
	if !tty {
		color.NoColor = true
	}
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
		tty:   tty,
	}
}

func (u *ui) risk(class string) func(a ...any) string {
	switch class {
	case "risk-low":
		return u.ok
	case "risk-medium":
		return u.warn
	case "risk-high":
		return u.err
	}
	return u.dim
}

func (u *ui) spin(suffix string) func() {
	if !u.tty {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	s.Suffix = " " + suffix
	s.Start()
	return s.Stop
}

func main() {
	opts := &options{
		baseURL:     getenv("GDTRELAY_BASE_URL", defaultBaseURL),
		profileName: getenv("GDTRELAY_PROFILE", ""),
		timeout:     10 * time.Minute,
	}
	ui := newUI()

	root := &cobra.Command{
		Use:   "gdtinspect",
		Short: "GD&T inspection CLI",
		Long:  "Upload engineering drawings to a gdtrelay server and fetch the inspection reports.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&opts.baseURL, "base-url", opts.baseURL, "Base URL of the relay")
	root.PersistentFlags().StringVar(&opts.profileName, "profile", opts.profileName, "Config profile")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", opts.timeout, "Request timeout")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		active := resolveProfileName(opts.profileName, cfg)
		prof := cfg.Profiles[active]

		flags := cmd.Flags()
		if !flags.Changed("base-url") {
			if v := strings.TrimSpace(os.Getenv("GDTRELAY_BASE_URL")); v != "" {
				opts.baseURL = v
			} else if prof.BaseURL != "" {
				opts.baseURL = prof.BaseURL
			}
		}
		if !flags.Changed("timeout") && prof.TimeoutSeconds > 0 {
			opts.timeout = time.Duration(prof.TimeoutSeconds) * time.Second
		}
		opts.downloadDir = prof.DownloadDir
		if opts.profileName == "" {
			opts.profileName = active
		}
		return nil
	}

	root.AddCommand(initCmd(opts, ui))
	root.AddCommand(inspectCmd(opts, ui))
	root.AddCommand(downloadCmd(opts, ui))
	root.AddCommand(showCmd(opts, ui))
	root.AddCommand(historyCmd(opts, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func initCmd(opts *options, ui *ui) *cobra.Command {
	var (
		baseURL     string
		downloadDir string
		timeoutSec  int
		noPrompt    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			active := resolveProfileName(opts.profileName, cfg)
			prof := cfg.Profiles[active]

			baseURL = firstNonEmpty(baseURL, prof.BaseURL, defaultBaseURL)
			downloadDir = firstNonEmpty(downloadDir, prof.DownloadDir, ".")
			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				baseURL = prompt(reader, "Relay base URL", baseURL)
				downloadDir = prompt(reader, "Download directory", downloadDir)
			}

			prof.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
			prof.DownloadDir = strings.TrimSpace(downloadDir)
			if timeoutSec > 0 {
				prof.TimeoutSeconds = timeoutSec
			}
			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[active] = prof
			if cfg.CurrentProfile == "" || cmd.Flags().Changed("profile") {
				cfg.CurrentProfile = active
			}
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), active, cfgPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "", "Relay base URL")
	cmd.Flags().StringVar(&downloadDir, "download-dir", "", "Where reports are saved")
	cmd.Flags().IntVar(&timeoutSec, "timeout-seconds", 0, "Request timeout in seconds")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Do not prompt")
	return cmd
}

func inspectCmd(opts *options, ui *ui) *cobra.Command {
	var (
		download bool
		outDir   string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:     "inspect <drawing.pdf>",
		Short:   "Upload a drawing and print its inspection summary",
		Example: "gdtinspect inspect part_42.pdf --download",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := client.New(opts.baseURL, opts.timeout)
			session := client.NewSession(c)
			f, err := session.Select(args[0])
			if err != nil {
				return err
			}
			if !strings.EqualFold(filepath.Ext(f.Name), ".pdf") {
				fmt.Println(ui.warn("[WARN]"), f.Name, "does not look like a PDF")
			}
			fmt.Printf("%s %s %s\n", ui.info("[FILE]"), f.Name, ui.dim(client.FormatSize(f.Size)))

			stop := ui.spin("Analyzing drawing...")
			res, err := session.Submit(ctx)
			stop()
			if err != nil {
				return describeFailure(err, ui)
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printSummary(client.NewSummaryView(res, c.BaseURL()), res.InspectionID, ui)

			if download {
				name := strings.TrimPrefix(res.ExcelDownloadURL, "/inspect/download/")
				return fetchArtifact(ctx, c, name, firstNonEmpty(outDir, opts.downloadDir, "."), ui)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&download, "download", false, "Download the report after a successful inspection")
	cmd.Flags().StringVar(&outDir, "out", "", "Directory for the downloaded report")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw response")
	return cmd
}

func downloadCmd(opts *options, ui *ui) *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:     "download <report.xlsx>",
		Short:   "Download an inspection report",
		Example: "gdtinspect download report_42.xlsx --out ./reports",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.baseURL, opts.timeout)
			return fetchArtifact(cmd.Context(), c, args[0], firstNonEmpty(outDir, opts.downloadDir, "."), ui)
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory")
	return cmd
}

func showCmd(opts *options, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "show <inspection-id>",
		Short: "Show a past inspection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.baseURL, opts.timeout)
			stop := ui.spin("Fetching inspection...")
			rec, err := c.Inspection(cmd.Context(), args[0])
			stop()
			if err != nil {
				return err
			}
			fmt.Printf("%s %s  %s  %s\n", ui.title(rec.ID), statusLabel(string(rec.Status), ui), rec.OriginalName, ui.dim(client.FormatSize(rec.Size)))
			fmt.Printf("  created   %s\n", rec.CreatedAt.Format(time.RFC3339))
			if rec.CompletedAt != nil {
				fmt.Printf("  completed %s (%d ms)\n", rec.CompletedAt.Format(time.RFC3339), rec.DurationMs)
			}
			fmt.Printf("  expires   %s\n", rec.ExpiresAt.Format(time.RFC3339))
			if rec.Error != "" {
				fmt.Printf("  %s %s (%s)\n", ui.err("error"), rec.Error, rec.ErrorKind)
			}
			if rec.ArtifactName != "" {
				fmt.Printf("  report    %s  %s\n", rec.ArtifactName, ui.dim(strings.Join(rec.ArtifactSheets, ", ")))
			}
			if rec.Summary != nil && rec.ArtifactName != "" {
				fmt.Println()
				resp := &domain.InspectResponse{
					Status:           "success",
					Summary:          rec.Summary,
					ExcelDownloadURL: domain.DownloadURL(rec.ArtifactName),
					InspectionID:     rec.ID,
				}
				printSummary(client.NewSummaryView(resp, c.BaseURL()), rec.ID, ui)
			}
			return nil
		},
	}
}

func historyCmd(opts *options, ui *ui) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent inspections",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(opts.baseURL, opts.timeout)
			stop := ui.spin("Fetching inspections...")
			recs, err := c.Inspections(cmd.Context(), limit)
			stop()
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println(ui.dim("no inspections"))
				return nil
			}
			for _, r := range recs {
				compliance := "-"
				if r.Summary != nil {
					compliance = fmt.Sprintf("%.1f%%", r.Summary.CompliancePercent)
				}
				fmt.Printf("%s  %-10s  %-7s  %s  %s\n",
					ui.dim(r.CreatedAt.Format("2006-01-02 15:04")),
					statusLabel(string(r.Status), ui),
					compliance,
					r.ID,
					r.OriginalName,
				)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of inspections to list")
	return cmd
}
