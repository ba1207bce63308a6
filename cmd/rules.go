// Package cmd provides command-line interface commands for Watchtower.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"watchtower/bootstrap"
	"watchtower/core"
	"watchtower/correlation"
	"watchtower/service"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for rules commands
var (
	outputJSON bool
	configFile string
	actor      string
	noColor    bool
	quiet      bool
)

const (
	maxImportFileSize = 10 * 1024 * 1024
	defaultTimeout    = 5 * time.Minute
)

// validateFilePath rejects paths that escape the working directory,
// including URL-encoded traversal sequences.
func validateFilePath(filename string) error {
	decoded, err := url.QueryUnescape(filename)
	if err != nil {
		decoded = filename
	}

	if strings.Contains(decoded, "..") || strings.Contains(filename, "..") {
		return fmt.Errorf("path traversal detected: '..' not allowed in file path")
	}

	absPath, err := filepath.Abs(filepath.Clean(decoded))
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if absPath != workDir && !strings.HasPrefix(absPath, workDir+string(filepath.Separator)) {
		return fmt.Errorf("path escapes current directory")
	}

	return nil
}

// NewRulesCmd creates the root rules command with all subcommands.
func NewRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage correlation rules",
		Long: `Manage correlation rules stored by the Watchtower server.

Rule files are JSON or YAML, either a bare list of rules or a document with a
top-level "rules" list. The format is picked from the file extension.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		SilenceUsage: true,
	}

	rulesCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rulesCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: ./config.yaml)")
	rulesCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "Actor recorded in the audit trail")
	rulesCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rulesCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")

	rulesCmd.AddCommand(newListCmd())
	rulesCmd.AddCommand(newShowCmd())
	rulesCmd.AddCommand(newImportCmd())
	rulesCmd.AddCommand(newExportCmd())
	rulesCmd.AddCommand(newValidateCmd())
	rulesCmd.AddCommand(newEnableCmd())
	rulesCmd.AddCommand(newDisableCmd())
	rulesCmd.AddCommand(newDeleteCmd())

	return rulesCmd
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

// newListCmd creates the 'list' subcommand
func newListCmd() *cobra.Command {
	var enabledOnly bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List correlation rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			siem, cleanup, err := initSIEM(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rules, err := siem.ListRules(ctx, enabledOnly)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			if outputJSON {
				return outputAsJSON(rules)
			}
			renderRulesTable(rules)
			return nil
		},
	}

	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "Only show enabled rules")
	return cmd
}

// newShowCmd creates the 'show' subcommand
func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <rule-id>",
		Short: "Show a rule definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			siem, cleanup, err := initSIEM(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rule, err := siem.GetRule(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to get rule: %w", err)
			}

			if outputJSON {
				return outputAsJSON(rule)
			}
			renderRuleDetails(rule)
			return nil
		},
	}
}

// newImportCmd creates the 'import' subcommand
func newImportCmd() *cobra.Command {
	var showProgress bool

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import rules from a JSON or YAML file",
		Long:  "Create or update rules from a file. Rules whose id already exists are updated; each rule succeeds or fails on its own.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRuleFile(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			siem, cleanup, err := initSIEM(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			var s *spinner.Spinner
			if showProgress && !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = fmt.Sprintf(" Importing %d rules...", len(rules))
				s.Start()
			}

			result, err := siem.ImportRules(ctx, rules, actor)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("failed to import rules: %w", err)
			}

			if outputJSON {
				return outputAsJSON(result)
			}
			renderImportResult(result)
			if len(result.Failed) > 0 {
				return fmt.Errorf("%d of %d rules failed to import", len(result.Failed), len(rules))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showProgress, "progress", true, "Show progress spinner")
	return cmd
}

// newExportCmd creates the 'export' subcommand
func newExportCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Export rules to a JSON or YAML file",
		Long:  "Export all rules. Without a file the rules are written to stdout in --format.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			siem, cleanup, err := initSIEM(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rules, err := siem.ListRules(ctx, false)
			if err != nil {
				return fmt.Errorf("failed to list rules: %w", err)
			}

			ruleFormat := core.RuleFormatFor(format)
			if len(args) > 0 && !cmd.Flags().Changed("format") {
				ruleFormat = core.RuleFormatFor(args[0])
			}
			data, err := core.MarshalRules(rules, ruleFormat)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				fmt.Print(string(data))
				return nil
			}

			filename := args[0]
			if err := validateFilePath(filename); err != nil {
				return fmt.Errorf("invalid file path: %w", err)
			}
			if err := os.WriteFile(filename, data, 0o644); err != nil {
				return fmt.Errorf("failed to write file: %w", err)
			}
			if !quiet {
				successColor.Printf("✓ Exported %d rules to %s\n", len(rules), filename)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(core.RuleFormatYAML), "Output format (json, yaml)")
	return cmd
}

// newValidateCmd creates the 'validate' subcommand. It needs no database.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a rule file without importing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rules, err := loadRuleFile(args[0])
			if err != nil {
				return err
			}

			problems := validateRules(rules, core.NewPatternMatcher(0, 0))
			if outputJSON {
				if err := outputAsJSON(map[string]interface{}{"rules": len(rules), "problems": problems}); err != nil {
					return err
				}
			} else {
				for _, p := range problems {
					errorColor.Printf("✗ %s\n", p)
				}
				if len(problems) == 0 && !quiet {
					successColor.Printf("✓ %d rules are valid\n", len(rules))
				}
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d of %d rules are invalid", len(problems), len(rules))
			}
			return nil
		},
	}
}

func newEnableCmd() *cobra.Command {
	return newToggleCmd("enable", "Enable a rule", true)
}

func newDisableCmd() *cobra.Command {
	return newToggleCmd("disable", "Disable a rule", false)
}

func newToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <rule-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			siem, cleanup, err := initSIEM(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			rule, err := siem.SetRuleEnabled(ctx, args[0], enabled, actor)
			if err != nil {
				return fmt.Errorf("failed to %s rule: %w", use, err)
			}

			if outputJSON {
				return outputAsJSON(rule)
			}
			if !quiet {
				successColor.Printf("✓ Rule %sd: %s\n", use, rule.Name)
			}
			return nil
		},
	}
}

// newDeleteCmd creates the 'delete' subcommand
func newDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:     "delete <rule-id>",
		Aliases: []string{"rm", "remove"},
		Short:   "Delete a rule",
		Long:    "Delete a rule. Alerts it already raised are kept.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()

			siem, cleanup, err := initSIEM(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			ruleID := args[0]
			rule, err := siem.GetRule(ctx, ruleID)
			if err != nil {
				return fmt.Errorf("failed to get rule: %w", err)
			}

			if !force {
				fmt.Printf("Are you sure you want to delete rule '%s' (ID: %s)? [y/N]: ", rule.Name, ruleID)
				var response string
				if _, err := fmt.Scanln(&response); err != nil {
					if err.Error() == "unexpected newline" || err.Error() == "EOF" {
						fmt.Println("\nDeletion cancelled")
						return nil
					}
					return fmt.Errorf("failed to read confirmation: %w", err)
				}
				if r := strings.ToLower(response); r != "y" && r != "yes" {
					fmt.Println("Deletion cancelled")
					return nil
				}
			}

			if err := siem.DeleteRule(ctx, ruleID, actor); err != nil {
				return fmt.Errorf("failed to delete rule: %w", err)
			}
			if !quiet {
				successColor.Printf("✓ Rule deleted successfully: %s\n", rule.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

// loadRuleFile reads and schema-checks a rule file
func loadRuleFile(filename string) ([]core.CorrelationRule, error) {
	if err := validateFilePath(filename); err != nil {
		return nil, fmt.Errorf("invalid file path: %w", err)
	}

	info, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.Size() > maxImportFileSize {
		return nil, fmt.Errorf("file too large: maximum size is %d bytes (%d MB), got %d bytes",
			maxImportFileSize, maxImportFileSize/(1024*1024), info.Size())
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	rules, err := core.ParseRules(data, core.RuleFormatFor(filename))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return rules, nil
}

// validateRules runs the checks the server applies before storing a rule
func validateRules(rules []core.CorrelationRule, m *core.PatternMatcher) []string {
	var problems []string
	for i := range rules {
		if err := rules[i].Validate(m); err != nil {
			name := rules[i].Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			var verr *core.ValidationError
			if errors.As(err, &verr) {
				problems = append(problems, fmt.Sprintf("rule %s: %s %s", name, verr.Field, verr.Message))
				continue
			}
			problems = append(problems, fmt.Sprintf("rule %s: %v", name, err))
		}
	}
	return problems
}

// initSIEM opens the configured storage and wires a service around it.
// Rule changes made here reach a running server on its next cache reload.
func initSIEM(ctx context.Context) (*service.SIEM, func(), error) {
	cfg, err := bootstrap.InitConfig(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger, sugar, err := bootstrap.InitLogger("error", "console")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	sc, err := bootstrap.InitStorage(ctx, cfg, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	matcher := core.NewPatternMatcher(cfg.Correlation.RegexTimeout, cfg.Correlation.PatternCacheSize)
	engine := correlation.NewEngine(sc.Rules, sc.Events, sc.Alerts, sc.Locker, matcher,
		correlation.Config{Timeout: cfg.Correlation.Timeout}, nil, sugar)

	siem := service.New(service.Deps{
		Events:     sc.Events,
		Alerts:     sc.Alerts,
		Incidents:  sc.Incidents,
		Rules:      sc.Rules,
		Audit:      sc.Audit,
		Correlator: engine,
		RuleCache:  engine.Rules(),
		Matcher:    matcher,
		Logger:     sugar,
	})

	cleanup := func() {
		sc.Close(sugar)
		_ = logger.Sync()
	}
	return siem, cleanup, nil
}

func outputAsJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
