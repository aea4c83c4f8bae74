package main

import (
	"fmt"
	"os"
	"runtime"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"spelld/internal/diag"
	"spelld/internal/settings"
	"spelld/internal/speller"
	"spelld/internal/speller/dictcache"
)

var checkCmd = &cobra.Command{
	Use:          "check [flags] <file...>",
	Short:        "Spell check files and print unknown words",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runCheck,
}

func init() {
	checkCmd.Flags().StringSlice("config", nil, "additional settings files (TOML) merged in order")
	checkCmd.Flags().StringSlice("words", nil, "extra known words")
	checkCmd.Flags().String("language", "plaintext", "language id to report to the analyzer")
	checkCmd.Flags().Int("jobs", 0, "max parallel workers (0=auto)")
	checkCmd.Flags().Int("limit", 0, "max diagnostics per file (0=settings value)")
}

type fileResult struct {
	path  string
	diags []diag.Diagnostic
	err   error
}

func runCheck(cmd *cobra.Command, args []string) error {
	configFiles, _ := cmd.Flags().GetStringSlice("config")
	extraWords, _ := cmd.Flags().GetStringSlice("words")
	languageID, _ := cmd.Flags().GetString("language")
	jobs, _ := cmd.Flags().GetInt("jobs")
	limit, _ := cmd.Flags().GetInt("limit")
	colorMode, _ := cmd.Flags().GetString("color")
	setupColor(colorMode)

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	resolver := settings.NewResolver(cwd)
	st, err := resolver.Resolve("", configFiles)
	if err != nil {
		return err
	}
	// A batch run is an explicit request; the enabled gate only applies to
	// the editor session.
	st.Enabled = true
	st.Words = append(st.Words, extraWords...)
	if limit > 0 {
		st.CheckLimit = limit
	}

	cache, err := dictcache.Open("spelld")
	if err != nil {
		cache = nil
	}
	checker := speller.NewChecker(speller.CheckerOptions{Cache: cache})

	if jobs <= 0 {
		jobs = runtime.NumCPU()
	}
	results := make([]fileResult, len(args))
	var g errgroup.Group
	g.SetLimit(jobs)
	for i, path := range args {
		g.Go(func() error {
			content, err := os.ReadFile(path)
			if err != nil {
				results[i] = fileResult{path: path, err: err}
				return nil
			}
			diags, err := checker.Check(string(content), languageID, st)
			results[i] = fileResult{path: path, diags: diags, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	total := 0
	failures := 0
	out := cmd.OutOrStdout()
	for _, res := range results {
		if res.err != nil {
			failures++
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", res.path, res.err)
			continue
		}
		sort.SliceStable(res.diags, func(a, b int) bool {
			da, db := res.diags[a].Range.Start, res.diags[b].Range.Start
			if da.Line != db.Line {
				return da.Line < db.Line
			}
			return da.Character < db.Character
		})
		for _, d := range res.diags {
			total++
			fmt.Fprintf(out, "%s: %s\n",
				locationColor.Sprintf("%s:%d:%d", res.path, d.Range.Start.Line+1, d.Range.Start.Character+1),
				messageColor.Sprint(d.Message))
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d file(s) could not be checked", failures)
	}
	if total > 0 {
		return fmt.Errorf("found %d unknown word(s)", total)
	}
	return nil
}

var (
	locationColor = color.New(color.FgCyan)
	messageColor  = color.New(color.FgRed, color.Bold)
)

func setupColor(mode string) {
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	default:
		color.NoColor = !isTerminal(os.Stdout)
	}
}
