package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/methics/musap-ios-sub000/internal/domain/models"
)

func newKeyCommand(a *app) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "key",
		Short: "Manage keys",
	}
	keyCmd.AddCommand(
		newKeyListCommand(a),
		newKeyGenerateCommand(a),
		newKeyRemoveCommand(a),
		newKeyUpdateCommand(a),
		newKeyExportCommand(a),
		newKeyImportCommand(a),
	)
	return keyCmd
}

func newKeyListCommand(a *app) *cobra.Command {
	var req models.KeySearchReq
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := a.runtime.Service.ListKeys(cmd.Context(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), keys)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALIAS\tKEY ID\tSSCD\tALGORITHM\tSTATE\tCREATED")
			for _, k := range keys {
				state := k.State
				if state == "" {
					state = models.KeyStateActive
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					k.KeyAlias, k.KeyID(), k.SscdID(), k.Algorithm, state,
					k.CreatedDate.Format("2006-01-02T15:04:05Z"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&req.SscdType, "sscd-type", "", "Only keys held by SSCDs of this type")
	cmd.Flags().StringVar(&req.SscdID, "sscd-id", "", "Only keys held by this SSCD")
	cmd.Flags().StringVar(&req.KeyAlias, "alias", "", "Only the key with this alias")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print full key records as JSON")
	return cmd
}

func newKeyGenerateCommand(a *app) *cobra.Command {
	var sscdID, algorithm, did string
	var attrs []string
	cmd := &cobra.Command{
		Use:   "generate <alias>",
		Short: "Generate a key on an enabled SSCD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.runtime.Service.GetSscd(sscdID)
			if err != nil {
				return err
			}
			alg, err := models.ParseKeyAlgorithm(algorithm)
			if err != nil {
				return err
			}
			attributes, err := parseAttributes(attrs)
			if err != nil {
				return err
			}

			key, err := a.runtime.Service.GenerateKey(cmd.Context(), backend, models.KeyGenReq{
				KeyAlias:   args[0],
				DID:        did,
				Algorithm:  alg,
				Attributes: attributes,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated key %s (id %s)\n%s\n", key.KeyAlias, key.KeyID(), key.KeyURI)
			return nil
		},
	}
	cmd.Flags().StringVar(&sscdID, "sscd", "software", "Id of the SSCD to generate on")
	cmd.Flags().StringVar(&algorithm, "algorithm", models.ECCP256R1.String(), "Key algorithm, e.g. EC/secp256r1/256 or RSA/2048")
	cmd.Flags().StringVar(&did, "did", "", "Decentralized identifier of the key")
	cmd.Flags().StringArrayVar(&attrs, "attr", nil, "Key attribute as name=value (repeatable)")
	return cmd
}

func newKeyRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <alias>",
		Short: "Remove a key from the metadata store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := a.runtime.Service.RemoveKey(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no key with alias %q", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed key %s\n", args[0])
			return nil
		},
	}
}

func newKeyUpdateCommand(a *app) *cobra.Command {
	var set, unset []string
	cmd := &cobra.Command{
		Use:   "update <alias>",
		Short: "Update key metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := a.runtime.Service.GetKeyByAlias(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			req := models.UpdateKeyReq{Key: key}
			flags := cmd.Flags()
			if flags.Changed("alias") {
				v, _ := flags.GetString("alias")
				req.Alias = &v
			}
			if flags.Changed("did") {
				v, _ := flags.GetString("did")
				req.DID = &v
			}
			if flags.Changed("state") {
				v, _ := flags.GetString("state")
				req.State = &v
			}
			attributes, err := parseAttributes(set)
			if err != nil {
				return err
			}
			for _, attr := range attributes {
				value := attr.Value
				req.Attributes = append(req.Attributes, models.UpdateAttribute{Name: attr.Name, Value: &value})
			}
			for _, name := range unset {
				req.Attributes = append(req.Attributes, models.UpdateAttribute{Name: name})
			}

			changed, err := a.runtime.Service.UpdateKey(cmd.Context(), req)
			if err != nil {
				return err
			}
			if changed {
				fmt.Fprintf(cmd.OutOrStdout(), "Updated key %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Key %s unchanged\n", args[0])
			}
			return nil
		},
	}
	cmd.Flags().String("alias", "", "New alias")
	cmd.Flags().String("did", "", "New DID")
	cmd.Flags().String("state", "", "New lifecycle state (active, revoked, blocked)")
	cmd.Flags().StringArrayVar(&set, "set", nil, "Set attribute name=value (repeatable)")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "Remove attribute (repeatable)")
	return cmd
}

func newKeyExportCommand(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all keys and SSCDs as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := a.runtime.Service.Export(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err = cmd.OutOrStdout().Write(append(doc, '\n'))
				return err
			}
			return os.WriteFile(out, doc, 0o600)
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}

func newKeyImportCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import keys and SSCDs from an export document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if err := a.runtime.Service.Import(cmd.Context(), doc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %s\n", args[0])
			return nil
		},
	}
}

// parseAttributes parses name=value pairs.
func parseAttributes(pairs []string) ([]models.KeyAttribute, error) {
	out := make([]models.KeyAttribute, 0, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid attribute %q, want name=value", p)
		}
		out = append(out, models.KeyAttribute{Name: name, Value: value})
	}
	return out, nil
}
