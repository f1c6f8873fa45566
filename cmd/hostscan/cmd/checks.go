package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/psantana5/hostscan/internal/checks"
	"github.com/psantana5/hostscan/pkg/models"
)

var (
	checksTier   string
	checksOutput string
)

var checksCmd = &cobra.Command{
	Use:   "checks",
	Short: "List registered checks and the tier that first runs them",
	RunE:  runChecks,
}

func init() {
	rootCmd.AddCommand(checksCmd)

	checksCmd.Flags().StringVar(&checksTier, "tier", "", "only list checks run by this tier")
	checksCmd.Flags().StringVarP(&checksOutput, "output", "o", "table", "output format: table or json")
}

type checkRow struct {
	ID          string      `json:"id"`
	Category    string      `json:"category"`
	Tier        models.Tier `json:"tier"`
	Description string      `json:"description"`
}

func runChecks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	registry, err := checks.NewRegistry(checks.Builtin(nil, cfg.Query.Timeout), cfg.Membership())
	if err != nil {
		return fmt.Errorf("invalid check configuration: %w", err)
	}

	var ids []string
	if checksTier != "" {
		tier, err := tierOrDefault(checksTier, cfg.Tier())
		if err != nil {
			return err
		}
		if ids, err = registry.GetChecks(tier); err != nil {
			return err
		}
	} else {
		for _, c := range registry.All() {
			if _, ok := registry.TierOf(c.ID); ok {
				ids = append(ids, c.ID)
			}
		}
	}

	rows := make([]checkRow, 0, len(ids))
	for _, id := range ids {
		c, _ := registry.Resolve(id)
		tier, _ := registry.TierOf(id)
		rows = append(rows, checkRow{ID: c.ID, Category: c.Category, Tier: tier, Description: c.Description})
	}

	if checksOutput == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Category", "Tier", "Description")
	for _, r := range rows {
		table.Append([]string{r.ID, r.Category, string(r.Tier), r.Description})
	}
	table.Render()
	fmt.Printf("\n%d checks\n", len(rows))
	return nil
}
