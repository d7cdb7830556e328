package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLinkCommand(a *app) *cobra.Command {
	linkCmd := &cobra.Command{
		Use:   "link",
		Short: "Enroll with MUSAP Link and manage relying parties",
	}

	var url, pushToken string
	enrollCmd := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll this instance with MUSAP Link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = a.runtime.Config.Link.URL
			}
			if pushToken == "" {
				pushToken = a.runtime.Config.Link.PushToken
			}
			link, err := a.runtime.Service.Enroll(cmd.Context(), url, pushToken)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Enrolled with %s as %s\n", link.URL, link.MusapID)
			return nil
		},
	}
	enrollCmd.Flags().StringVar(&url, "url", "", "Link URL (defaults to link.url)")
	enrollCmd.Flags().StringVar(&pushToken, "push-token", "", "Push notification token")

	coupleCmd := &cobra.Command{
		Use:   "couple <coupling-code>",
		Short: "Couple a relying party with a coupling code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rp, err := a.runtime.Service.Couple(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Coupled %s (link id %s)\n", rp.Name, rp.LinkID)
			return nil
		},
	}

	var handle bool
	pollCmd := &cobra.Command{
		Use:   "poll",
		Short: "Fetch one pending signature request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := a.runtime.Service.Poll(cmd.Context())
			if err != nil {
				return err
			}
			if req == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "No pending requests")
				return nil
			}
			if !handle {
				return printJSON(cmd.OutOrStdout(), req)
			}
			result, err := a.runtime.Service.HandleSignatureRequest(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Handled %s request %s with key %s\n",
				req.Payload.RequestedMode(), req.TransID, result.Key.KeyAlias)
			return nil
		},
	}
	pollCmd.Flags().BoolVar(&handle, "handle", false, "Answer the request instead of printing it")

	linkCmd.AddCommand(enrollCmd, coupleCmd, pollCmd, newRelyingPartyCommand(a))
	return linkCmd
}

func newRelyingPartyCommand(a *app) *cobra.Command {
	rpCmd := &cobra.Command{
		Use:   "rp",
		Short: "Manage coupled relying parties",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List coupled relying parties",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rps, err := a.runtime.Service.ListRelyingParties(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "LINK ID\tNAME")
			for _, rp := range rps {
				fmt.Fprintf(w, "%s\t%s\n", rp.LinkID, rp.Name)
			}
			return w.Flush()
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <link-id>",
		Short: "Forget a relying party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := a.runtime.Service.RemoveRelyingParty(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no relying party with link id %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed relying party %s\n", args[0])
			return nil
		},
	}

	rpCmd.AddCommand(listCmd, removeCmd)
	return rpCmd
}
