package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
)

func newSscdCommand(a *app) *cobra.Command {
	sscdCmd := &cobra.Command{
		Use:   "sscd",
		Short: "Inspect signing backends",
	}

	var active bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List enabled SSCDs, or with --active the ones holding keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []*models.SscdInfo
			if active {
				var err error
				infos, err = a.runtime.Service.ListActiveSscds(cmd.Context())
				if err != nil {
					return err
				}
			} else {
				for _, s := range a.runtime.Service.ListEnabledSscds() {
					infos = append(infos, s.Info())
				}
			}
			return printSscds(cmd, infos)
		},
	}
	listCmd.Flags().BoolVar(&active, "active", false, "Only list SSCDs that hold at least one key")

	sscdCmd.AddCommand(listCmd)
	return sscdCmd
}

func printSscds(cmd *cobra.Command, infos []*models.SscdInfo) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTYPE\tCOUNTRY\tPROVIDER\tKEYGEN\tALGORITHMS")
	for _, info := range infos {
		algs := make([]string, 0, len(info.SupportedAlgorithms))
		for _, alg := range info.SupportedAlgorithms {
			algs = append(algs, alg.String())
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
			info.ID(), info.Name, info.Type, info.Country, info.Provider,
			info.KeygenSupported, strings.Join(algs, ","))
	}
	return w.Flush()
}
