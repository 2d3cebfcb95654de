package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ternarybob/reportree/internal/common"
	"github.com/ternarybob/reportree/internal/metrics"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Reportree version %s\n", common.GetFullVersion())
	},
}

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "List the metrics a report request can name",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(strings.Join(metrics.Names(), "\n"))
	},
}
