package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stepflow/stepflow/pkg/contextstore"
)

func newContextCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "context",
		Short: "Access the encrypted context store",
		Long: `Read and write the encrypted key/value context store shared by
framework runs. Values are stored as JSON and the whole store is
encrypted at rest; the key file configured as context_key_path holds
the secret the encryption key is derived from.`,
	}

	cmd.AddCommand(newContextGetCommand())
	cmd.AddCommand(newContextSetCommand())
	cmd.AddCommand(newContextDeleteCommand())
	cmd.AddCommand(newContextKeysCommand())

	return cmd
}

// openContextStore opens the store with paths resolved from the config.
func openContextStore(app *app) (*contextstore.Store, error) {
	if err := os.MkdirAll(app.cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return contextstore.New(
		app.cfg.ResolvePath(app.cfg.ContextStorePath),
		app.cfg.ResolvePath(app.cfg.ContextKeyPath),
	)
}

func newContextGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Read a value from the context store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			store, err := openContextStore(app)
			if err != nil {
				return err
			}

			var value any
			if err := store.Get(args[0], &value); err != nil {
				return err
			}

			data, err := json.MarshalIndent(value, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
}

func newContextSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a value to the context store",
		Long: `Store a value under a key. The value is parsed as JSON when
possible and stored as a plain string otherwise.`,
		Example: `  stepflow context set region '"eu-west-1"'
  stepflow context set replicas 3
  stepflow context set database '{"host": "db1", "port": 5432}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			store, err := openContextStore(app)
			if err != nil {
				return err
			}

			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				value = args[1]
			}

			return store.Set(args[0], value)
		},
	}
}

func newContextDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a key from the context store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			store, err := openContextStore(app)
			if err != nil {
				return err
			}

			return store.Delete(args[0])
		},
	}
}

func newContextKeysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List keys in the context store",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp()
			if err != nil {
				return err
			}
			defer app.close()

			store, err := openContextStore(app)
			if err != nil {
				return err
			}

			keys, err := store.Keys()
			if err != nil {
				return err
			}
			for _, key := range keys {
				fmt.Fprintln(os.Stdout, key)
			}
			return nil
		},
	}
}
