package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"boxstore/internal/app"

	"github.com/spf13/cobra"
)

// account command
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd, "ListAccounts", false)
		if err != nil {
			return err
		}
		defer a.Close()

		accts, err := a.ListAccounts(cmd.Context())
		if err != nil {
			return err
		}
		if len(accts) == 0 {
			fmt.Println("No accounts.")
			return nil
		}
		for _, acct := range accts {
			fmt.Printf("%08x  %-20s  %s\n", acct.ID, acct.Name, acct.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var accountCreateCmd = &cobra.Command{
	Use:   "create ACCOUNT NAME SOFTLIMIT HARDLIMIT",
	Short: "Create an account",
	Long:  "Create an account. ACCOUNT is a hex ID, or 0 to pick the next free one. Limits take a B (blocks), M or G suffix.",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "CreateAccount", false)
		if err != nil {
			return err
		}
		defer a.Close()

		soft, hard, err := parseLimits(a, args[2], args[3])
		if err != nil {
			return err
		}
		info, err := a.CreateAccount(cmd.Context(), id, args[1], soft, hard)
		if err != nil {
			return err
		}
		fmt.Printf("Account %08x created.\n", info.AccountID)
		return nil
	},
}

var accountDeleteCmd = &cobra.Command{
	Use:   "delete ACCOUNT",
	Short: "Delete an account and all its stored data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		if !yes {
			fmt.Printf("Really delete account %08x and all its data? Type 'yes' to confirm: ", id)
			line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
			if strings.TrimSpace(line) != "yes" {
				return fmt.Errorf("deletion cancelled")
			}
		}

		a, err := newApp(cmd, "DeleteAccount", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DeleteAccount(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Account %08x deleted.\n", id)
		return nil
	},
}

var accountInfoCmd = &cobra.Command{
	Use:   "info ACCOUNT",
	Short: "Show account usage and settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "Info", false)
		if err != nil {
			return err
		}
		defer a.Close()

		ai, err := a.Info(cmd.Context(), id)
		if err != nil {
			return err
		}
		info, bs := ai.Info, ai.BlockSize
		size := func(label string, blocks int64) {
			fmt.Printf("%-22s %-32s %s\n", label+":", app.FormatSize(blocks, bs), app.Percent(blocks, info.BlocksHardLimit))
		}

		fmt.Printf("%-22s %08x\n", "Account ID:", info.AccountID)
		fmt.Printf("%-22s %s\n", "Account name:", info.AccountName)
		fmt.Printf("%-22s %s\n", "Store prefix:", ai.Account.StorePrefix)
		fmt.Printf("%-22s %s\n", "Created:", ai.Account.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("%-22s %t\n", "Enabled:", info.Enabled)
		fmt.Printf("%-22s %d\n", "Last object ID:", info.LastObjectIDUsed)
		fmt.Printf("%-22s %d\n", "Client store marker:", info.ClientStoreMarker)
		size("Used", info.BlocksUsed)
		size("Current files", info.BlocksInCurrentFiles)
		size("Old files", info.BlocksInOldFiles)
		size("Deleted files", info.BlocksInDeletedFiles)
		size("Directories", info.BlocksInDirectories)
		size("Soft limit", info.BlocksSoftLimit)
		size("Hard limit", info.BlocksHardLimit)
		fmt.Printf("%-22s %d current, %d old, %d deleted\n", "Files:", info.NumCurrentFiles, info.NumOldFiles, info.NumDeletedFiles)
		fmt.Printf("%-22s %d (%d deleted)\n", "Directories:", info.NumDirectories, len(info.DeletedDirectories))
		if info.VersionCountLimit == 0 {
			fmt.Printf("%-22s unlimited\n", "Version limit:")
		} else {
			fmt.Printf("%-22s %d\n", "Version limit:", info.VersionCountLimit)
		}
		fmt.Printf("%-22s %t\n", "Snapshot mode:", info.IsSnapshotMode())
		return nil
	},
}

var accountEnabledCmd = &cobra.Command{
	Use:   "enabled ACCOUNT yes|no",
	Short: "Enable or disable logins to an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		var enabled bool
		switch strings.ToLower(args[1]) {
		case "yes", "on", "true":
			enabled = true
		case "no", "off", "false":
		default:
			return fmt.Errorf("invalid value %q: want yes or no", args[1])
		}

		a, err := newApp(cmd, "SetEnabled", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetEnabled(cmd.Context(), id, enabled); err != nil {
			return err
		}
		fmt.Printf("Account %08x enabled: %t\n", id, enabled)
		return nil
	},
}

var accountSetLimitCmd = &cobra.Command{
	Use:   "setlimit ACCOUNT SOFTLIMIT HARDLIMIT",
	Short: "Change the storage limits of an account",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "SetLimits", false)
		if err != nil {
			return err
		}
		defer a.Close()

		soft, hard, err := parseLimits(a, args[1], args[2])
		if err != nil {
			return err
		}
		if err := a.SetLimits(cmd.Context(), id, soft, hard); err != nil {
			return err
		}
		fmt.Printf("Limits of %08x set to %s soft, %s hard.\n", id,
			app.FormatSize(soft, a.BlockSize()), app.FormatSize(hard, a.BlockSize()))
		return nil
	},
}

var accountSetOptionsCmd = &cobra.Command{
	Use:   "setoptions ACCOUNT",
	Short: "Change the version retention of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}

		var opts app.AccountOptions
		if cmd.Flags().Changed("versions") {
			v, _ := cmd.Flags().GetUint32("versions")
			opts.VersionCountLimit = &v
		}
		if cmd.Flags().Changed("snapshot") {
			s, _ := cmd.Flags().GetBool("snapshot")
			opts.Snapshot = &s
		}
		if opts.VersionCountLimit == nil && opts.Snapshot == nil {
			return fmt.Errorf("nothing to change: pass --versions or --snapshot")
		}

		a, err := newApp(cmd, "SetOptions", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetOptions(cmd.Context(), id, opts); err != nil {
			return err
		}
		fmt.Printf("Options of %08x updated.\n", id)
		return nil
	},
}

var accountNameCmd = &cobra.Command{
	Use:   "name ACCOUNT NAME",
	Short: "Rename an account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "SetName", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.SetName(cmd.Context(), id, args[1]); err != nil {
			return err
		}
		fmt.Printf("Account %08x renamed to %s.\n", id, args[1])
		return nil
	},
}

var accountDiscardUploadCmd = &cobra.Command{
	Use:   "discard-upload ACCOUNT",
	Short: "Discard the partial upload kept for resuming",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseAccountID(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(cmd, "DiscardUpload", false)
		if err != nil {
			return err
		}
		defer a.Close()

		found, err := a.DiscardUpload(cmd.Context(), id)
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("Account %08x has no partial upload.\n", id)
			return nil
		}
		fmt.Printf("Partial upload of %08x discarded.\n", id)
		return nil
	},
}

func parseLimits(a *app.BoxApp, softArg, hardArg string) (int64, int64, error) {
	soft, err := app.ParseSize(softArg, a.BlockSize())
	if err != nil {
		return 0, 0, fmt.Errorf("soft limit: %w", err)
	}
	hard, err := app.ParseSize(hardArg, a.BlockSize())
	if err != nil {
		return 0, 0, fmt.Errorf("hard limit: %w", err)
	}
	return soft, hard, nil
}

func init() {
	accountCmd.AddCommand(accountListCmd)
	accountCmd.AddCommand(accountCreateCmd)
	accountCmd.AddCommand(accountDeleteCmd)
	accountDeleteCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
	accountCmd.AddCommand(accountInfoCmd)
	accountCmd.AddCommand(accountEnabledCmd)
	accountCmd.AddCommand(accountSetLimitCmd)
	accountCmd.AddCommand(accountSetOptionsCmd)
	accountSetOptionsCmd.Flags().Uint32("versions", 0, "Versions of each file to keep, 0 for unlimited")
	accountSetOptionsCmd.Flags().Bool("snapshot", false, "Retain versions by backup time instead of count")
	accountCmd.AddCommand(accountNameCmd)
	accountCmd.AddCommand(accountDiscardUploadCmd)
}
