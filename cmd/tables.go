package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newTablesCmd() *cobra.Command {
	var pgURL string
	cmd := &cobra.Command{
		Use:   "tables",
		Short: "List source tables available for transfer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tables, err := appInstance.Backend().ListTables(cmd.Context(), pgURL)
			if err != nil {
				return fmt.Errorf("list tables: %w", err)
			}
			for _, t := range tables {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pgURL, "pg-url", "", "PostgreSQL connection URL (backend default when empty)")
	return cmd
}

func newColumnsCmd() *cobra.Command {
	var pgURL string
	cmd := &cobra.Command{
		Use:   "columns TABLE",
		Short: "List the columns of a source table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cols, err := appInstance.Backend().ListColumns(cmd.Context(), args[0], pgURL)
			if err != nil {
				return fmt.Errorf("list columns: %w", err)
			}
			table := newTable(cmd.OutOrStdout(), "COLUMN", "TYPE")
			for _, c := range cols {
				table.Append([]string{c.Name, c.DataType})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&pgURL, "pg-url", "", "PostgreSQL connection URL (backend default when empty)")
	return cmd
}

func newTestConnectionCmd() *cobra.Command {
	var pgURL, chURL string
	cmd := &cobra.Command{
		Use:   "test-connection",
		Short: "Check that the backend can reach PostgreSQL and ClickHouse",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Backend().TestConnection(cmd.Context(), pgURL, chURL)
			if err != nil {
				return fmt.Errorf("test connection: %w", err)
			}
			table := newTable(cmd.OutOrStdout(), "DATABASE", "OK", "ERROR")
			table.Append([]string{"postgresql", strconv.FormatBool(res.PostgreSQL.Success), res.PostgreSQL.Error})
			table.Append([]string{"clickhouse", strconv.FormatBool(res.ClickHouse.Success), res.ClickHouse.Error})
			table.Render()
			if !res.PostgreSQL.Success || !res.ClickHouse.Success {
				return fmt.Errorf("connection test failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pgURL, "pg-url", "", "PostgreSQL connection URL (backend default when empty)")
	cmd.Flags().StringVar(&chURL, "ch-url", "", "ClickHouse connection URL (backend default when empty)")
	return cmd
}
