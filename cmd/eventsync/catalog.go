package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Catalog commands
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the contract catalog",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load the catalog and compile every schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		index, err := loadIndex(cmd, cfg)
		if err != nil {
			return err
		}

		fmt.Printf("%-8s %-32s %-8s %s\n", "KIND", "SUBJECT", "SCOPED", "TYPE")
		for _, c := range index.Contracts() {
			fmt.Printf("%-8s %-32s %-8v %s\n", c.Kind(), c.Pattern(), c.SupportsScopedSuffix, c.PayloadType)
		}
		fmt.Printf("\n✓ %d contracts loaded\n", index.Len())
		return nil
	},
}

var catalogMatchCmd = &cobra.Command{
	Use:   "match SUBJECT",
	Short: "Show the contract a subject resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		index, err := loadIndex(cmd, cfg)
		if err != nil {
			return err
		}

		c, ok := index.Find(args[0])
		if !ok {
			return fmt.Errorf("no contract for subject %s", args[0])
		}
		fmt.Printf("Subject:  %s\n", args[0])
		fmt.Printf("Contract: %s (%s)\n", c.Pattern(), c.Kind())
		fmt.Printf("Type:     %s\n", c.PayloadType)
		return nil
	},
}

var catalogValidateCmd = &cobra.Command{
	Use:   "validate SUBJECT FILE",
	Short: "Validate a JSON payload file against the contract for a subject",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		index, err := loadIndex(cmd, cfg)
		if err != nil {
			return err
		}

		payload, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
		if err := index.Validate(args[0], payload); err != nil {
			return err
		}
		fmt.Printf("✓ payload is valid for %s\n", args[0])
		return nil
	},
}

func init() {
	catalogCmd.PersistentFlags().String("catalog", "", "Path to the contract catalog")

	catalogCmd.AddCommand(catalogCheckCmd)
	catalogCmd.AddCommand(catalogMatchCmd)
	catalogCmd.AddCommand(catalogValidateCmd)
}
