package tiffincli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tiffinledger/tiffin/internal/apiapp"
	"github.com/tiffinledger/tiffin/internal/ledger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func (c *cli) billsCommand() *cobra.Command {
	bills := &cobra.Command{
		Use:   "bills",
		Short: "Bill maintenance",
	}
	var month string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Snapshot bills for every customer with deliveries in a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := ledger.MonthOf(time.Now()).Prev()
			if month != "" {
				parsed, err := ledger.ParseMonth(month)
				if err != nil {
					return fmt.Errorf("--month: %w", err)
				}
				target = parsed
			}
			store, err := c.openStore(dataDirFromEnv())
			if err != nil {
				return err
			}
			defer store.Close()

			count, err := apiapp.NewService(store, c.logger).GenerateBills(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %d bills for %s\n", count, target)
			return nil
		},
	}
	generate.Flags().StringVar(&month, "month", "", "month to bill as YYYY-MM (default: previous month)")
	bills.AddCommand(generate)
	return bills
}

func (c *cli) backupCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write an xz-compressed backup of the document store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				out = "tiffin-" + time.Now().UTC().Format("20060102-150405") + ".bak.xz"
			}
			store, err := c.openStore(dataDirFromEnv())
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
			if err != nil {
				return fmt.Errorf("create backup file: %w", err)
			}
			if err := store.Backup(f); err != nil {
				_ = f.Close()
				_ = os.Remove(out)
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			c.logger.Info("backup written", zap.String("path", out))
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "backup file to create")
	return cmd
}

func (c *cli) restoreCommand() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Load a backup into the document store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if in == "" {
				return errors.New("--in is required")
			}
			f, err := os.Open(in)
			if err != nil {
				return fmt.Errorf("open backup file: %w", err)
			}
			defer f.Close()

			store, err := c.openStore(dataDirFromEnv())
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Restore(f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", in)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "", "backup file to load")
	return cmd
}

// menuFile is the YAML layout accepted by menu import:
//
//	monday:
//	  breakfast: Poha
//	  lunch: Dal rice
//	  dinner: Roti sabzi
type menuFile map[string]apiapp.MenuDay

func (c *cli) menuCommand() *cobra.Command {
	menu := &cobra.Command{
		Use:   "menu",
		Short: "Vendor menu maintenance",
	}
	var (
		vendorEmail string
		file        string
	)
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Replace a vendor's weekly menu from a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(vendorEmail) == "" || file == "" {
				return errors.New("--vendor and --file are required")
			}
			raw, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var parsed menuFile
			if err := yaml.Unmarshal(raw, &parsed); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}

			store, err := c.openStore(dataDirFromEnv())
			if err != nil {
				return err
			}
			defer store.Close()

			service := apiapp.NewService(store, c.logger)
			vendorID, err := service.FindVendorByEmail(cmd.Context(), vendorEmail)
			if err != nil {
				return fmt.Errorf("find vendor %s: %w", vendorEmail, err)
			}
			saved, err := service.SaveMenu(cmd.Context(), vendorID, apiapp.WeeklyMenu(parsed))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d menu days for %s\n", len(saved), vendorEmail)
			return nil
		},
	}
	importCmd.Flags().StringVar(&vendorEmail, "vendor", "", "vendor login email")
	importCmd.Flags().StringVar(&file, "file", "", "YAML menu file")
	menu.AddCommand(importCmd)
	return menu
}
