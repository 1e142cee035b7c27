package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"boxstore/internal/app"
	"boxstore/internal/box"
	"boxstore/internal/config"
	"boxstore/internal/housekeeping"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// exitError carries a specific process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func readConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

// newApp reads the config and creates a BoxApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "CreateAccount", "Check").
func newApp(cmd *cobra.Command, operation string, quiet bool) (*app.BoxApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}
	a, err := app.NewBoxApp(cmd.Context(), cfg, operation, app.Options{
		Passphrase: func() (string, error) { return promptPassphrase("Passphrase: ") },
		Quiet:      quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func promptPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// newPassphrase prompts for a new passphrase twice.
func newPassphrase() (string, error) {
	passphrase, err := promptPassphrase("New passphrase: ")
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	confirm, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if passphrase != confirm {
		return "", fmt.Errorf("passphrases do not match")
	}
	if passphrase == "" {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	return passphrase, nil
}

// parseAccountID reads an account ID in hex, with or without a 0x prefix.
func parseAccountID(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid account ID %q: want a hex number", s)
	}
	return uint32(id), nil
}

func formatTime(t box.Time) string {
	if t == 0 {
		return "-"
	}
	return t.Go().UTC().Format("2006-01-02 15:04:05")
}

var rootCmd = &cobra.Command{
	Use:          "boxstore",
	Short:        "Box store server administration",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and the account registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		serverID := uuid.New().String()
		cfg := config.NewConfig(serverID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		if err := app.InitDatabase(cfg); err != nil {
			return err
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Server ID: %s\n", serverID)
		fmt.Printf("Base Dir:  %s\n", defaults.BaseDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Server ID:  %s\n", cfg.ServerID)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Lock Dir:   %s\n", cfg.LockDir)
		fmt.Printf("Blob Store: %s (block size %d, compress %t, encrypt %t)\n",
			cfg.BlobStore.Type, cfg.BlobStore.BlockSize, cfg.BlobStore.Compress, cfg.BlobStore.Encrypt)
		fmt.Printf("Database:   %s\n", cfg.Database.Type)
		fmt.Printf("Spool:      %s\n", cfg.Spool.Type)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage blob store encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}

		passphrase, err := newPassphrase()
		if err != nil {
			return err
		}

		if err := app.InitKeys(cfg, passphrase); err != nil {
			return err
		}
		fmt.Printf("Keys written to %s and %s\n", cfg.Encryption.PublicKeyPath, cfg.Encryption.PrivateKeyPath)
		if key, err := app.PublicKey(cfg); err == nil {
			fmt.Printf("Public key: %s\n", key)
		}
		return nil
	},
}

var keysPasswdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change the passphrase protecting the private key",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}

		current, err := promptPassphrase("Current passphrase: ")
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		passphrase, err := newPassphrase()
		if err != nil {
			return err
		}
		if err := app.ChangeKeyPassphrase(cfg, current, passphrase); err != nil {
			return err
		}
		fmt.Println("Passphrase changed.")
		return nil
	},
}

var keysShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the public key blobs are sealed to",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		key, err := app.PublicKey(cfg)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check ACCOUNT",
	Short: "Check an account store for errors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fix, _ := cmd.Flags().GetBool("fix")
		quiet, _ := cmd.Flags().GetBool("quiet")

		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "Check", quiet)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Check(cmd.Context(), id, fix)
		var lockErr *box.AccountLockError
		if errors.As(err, &lockErr) {
			return &exitError{code: 2, msg: lockErr.Error()}
		}
		if err != nil {
			return err
		}

		switch {
		case res.ErrorsFound == 0:
			fmt.Println("No errors found.")
		case fix:
			fmt.Printf("Fixed %d error(s).\n", res.ErrorsFound)
		default:
			fmt.Printf("Found %d error(s); run with --fix to repair.\n", res.ErrorsFound)
			return &exitError{code: 1, msg: fmt.Sprintf("account %08x has %d error(s)", id, res.ErrorsFound)}
		}
		if res.LostAndFound != 0 {
			fmt.Printf("Unattached objects were moved to directory %d.\n", res.LostAndFound)
		}
		return nil
	},
}

// housekeep command
var housekeepCmd = &cobra.Command{
	Use:   "housekeep [ACCOUNT]",
	Short: "Remove old and deleted versions to reclaim space",
	Long:  "Housekeep one account, or every account when none is given. Accounts in use are skipped.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var flags housekeeping.Flags
		for name, f := range map[string]housekeeping.Flags{
			"remove-deleted":     housekeeping.RemoveDeleted,
			"remove-old":         housekeeping.RemoveOldVersions,
			"disable-auto-clean": housekeeping.DisableAutoClean,
			"fix-snapshot":       housekeeping.FixForSnapshotMode,
			"purge-empty-dirs":   housekeeping.ForceDeleteEmptyDirectories,
			"force":              housekeeping.Force,
		} {
			if on, _ := cmd.Flags().GetBool(name); on {
				flags |= f
			}
		}

		a, err := newApp(cmd, "Housekeep", false)
		if err != nil {
			return err
		}
		defer a.Close()

		var stop atomic.Bool
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigs)
		go func() {
			if _, ok := <-sigs; ok {
				stop.Store(true)
			}
		}()
		interrupt := stop.Load

		var results []app.HousekeepResult
		if len(args) == 1 {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}
			res, err := a.Housekeep(cmd.Context(), id, flags, interrupt)
			if err != nil {
				return err
			}
			results = append(results, app.HousekeepResult{AccountID: id, Result: res})
		} else {
			if results, err = a.HousekeepAll(cmd.Context(), flags, interrupt); err != nil {
				return err
			}
		}

		for _, r := range results {
			switch {
			case r.Locked:
				fmt.Printf("%08x  in use, skipped\n", r.AccountID)
			case r.Result.Skipped:
				fmt.Printf("%08x  disabled, skipped\n", r.AccountID)
			default:
				res := r.Result
				fmt.Printf("%08x  files deleted %d, directories deleted %d, %s freed",
					r.AccountID, res.FilesDeleted, res.DirectoriesDeleted, app.FormatSize(res.BlocksFreed, a.BlockSize()))
				if res.Interrupted {
					fmt.Print(" (interrupted)")
				}
				fmt.Println()
			}
		}
		return nil
	},
}

// backups command
var backupsCmd = &cobra.Command{
	Use:   "backups ACCOUNT",
	Short: "List the sessions recorded for an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "Backups", false)
		if err != nil {
			return err
		}
		defer a.Close()

		sessions, err := a.Backups(cmd.Context(), id)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  +%d files (%d blocks)  -%d files (%d blocks)  +%d/-%d dirs\n",
				formatTime(s.StartTime), formatTime(s.EndTime),
				s.AddedFiles, s.AddedFileBlocks, s.DeletedFiles, s.DeletedFileBlocks,
				s.AddedDirs, s.DeletedDirs)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View admin operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp(cmd, "GetHistory", false)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No admin operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	keysCmd.AddCommand(keysInitCmd)
	keysCmd.AddCommand(keysPasswdCmd)
	keysCmd.AddCommand(keysShowCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().Bool("fix", false, "Repair the errors found")
	checkCmd.Flags().BoolP("quiet", "q", false, "Only write findings to the log file")
	rootCmd.AddCommand(housekeepCmd)
	housekeepCmd.Flags().Bool("remove-deleted", false, "Remove every deleted file version")
	housekeepCmd.Flags().Bool("remove-old", false, "Remove every old file version")
	housekeepCmd.Flags().Bool("disable-auto-clean", false, "Do not delete to get under the soft limit")
	housekeepCmd.Flags().Bool("fix-snapshot", false, "Record delete times needed by snapshot retention")
	housekeepCmd.Flags().Bool("purge-empty-dirs", false, "Remove empty directories the client has not deleted")
	housekeepCmd.Flags().Bool("force", false, "Housekeep disabled accounts too")
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
}
