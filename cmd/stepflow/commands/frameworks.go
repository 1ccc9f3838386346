package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newFrameworksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frameworks",
		Short: "Manage framework definitions",
		Long: `Inspect and manage the JSON framework definitions stored in the
frameworks directory.`,
	}

	cmd.AddCommand(newFrameworksListCommand())
	cmd.AddCommand(newFrameworksShowCommand())
	cmd.AddCommand(newFrameworksDeleteCommand())

	return cmd
}

func newFrameworksListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known frameworks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			service, err := app.openFrameworks()
			if err != nil {
				return err
			}

			names, err := service.GetAllFrameworkNames(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				data, err := json.MarshalIndent(names, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stdout, string(data))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME")
			for id, name := range names {
				fmt.Fprintf(w, "%s\t%s\n", id, name)
			}
			return w.Flush()
		},
	}
}

func newFrameworksShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <framework-id>",
		Short: "Show a framework definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			service, err := app.openFrameworks()
			if err != nil {
				return err
			}

			fw, err := service.ReadFramework(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(fw, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
}

func newFrameworksDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <framework-id>",
		Short: "Delete a framework definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			service, err := app.openFrameworks()
			if err != nil {
				return err
			}

			if err := service.DeleteFramework(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "deleted %s\n", args[0])
			return nil
		},
	}
}
