package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/PaulFidika/orgkit/entitlements"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Print the effective plan table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		cat, err := cfg.Catalog()
		if err != nil {
			return err
		}
		return printPlans(cmd.OutOrStdout(), cat)
	},
}

func printPlans(w io.Writer, cat *entitlements.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLAN\tPROJECTS\tSTORAGE\tTEAM\tINVITE\tADVANCED\tEXPORT\tSUPPORT")
	for _, id := range cat.Plans() {
		f, err := cat.Lookup(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%t\t%t\t%s\n",
			id, count(f.MaxProjects), size(f.MaxStorageBytes), count(f.MaxTeamMembers),
			f.CanInviteMembers, f.CanUseAdvancedFeatures, f.CanExportData, f.SupportLevel)
	}
	return tw.Flush()
}

func count(v int64) string {
	if v == entitlements.Unlimited {
		return "unlimited"
	}
	return humanize.Comma(v)
}

func size(v int64) string {
	if v == entitlements.Unlimited {
		return "unlimited"
	}
	return humanize.IBytes(uint64(v))
}
