package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const (
	appName    = "gridcat"
	appVersion = "0.1.0"
)

var (
	flagConfig   string
	flagTable    string
	flagPageSize int

	rootCmd = &cobra.Command{
		Use:   appName + " <file|dsn>",
		Short: "Browse tabular data page by page",
		Long: `gridcat opens SQLite databases, delimited files, spreadsheets and
database DSNs (mysql://, postgres://, mongodb://) and browses them through a
sortable, filterable, paginated view.`,
		Args: cobra.ExactArgs(1),
		RunE: runBrowse,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s\n", appName, appVersion)
		},
	}
)

func init() {
	rootCmd.Flags().StringVarP(&flagConfig, "config", "c", "", "Path to yaml config file")
	rootCmd.Flags().StringVarP(&flagTable, "table", "t", "", "Table/sheet to open (default: first)")
	rootCmd.Flags().IntVarP(&flagPageSize, "page-size", "s", 0, "Rows per page (default from config)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(convertCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
