// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "IDBROKER"

// cli carries what every command shares: the layered config and a logger.
type cli struct {
	v      *viper.Viper
	logger hclog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: hclog.NewNullLogger()}
	var cfgFile, envFile string
	root := &cobra.Command{
		Use:   "idbroker",
		Short: "Inspect OIDC tokens and evaluate group to role rules",
		Long: `idbroker inspects OIDC tokens, evaluates group to role mapping rules and
refreshes tokens against an OIDC provider.

Settings are read from flags, then IDBROKER_* environment variables (a .env
file is loaded first), then idbroker.yaml.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd, cfgFile, envFile)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./idbroker.yaml)")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read; empty skips it")
	pf.String("log-level", "warn", "log level: trace, debug, info, warn, error")
	_ = c.v.BindPFlag("log_level", pf.Lookup("log-level"))

	root.AddCommand(
		c.decodeCmd(),
		c.groupsCmd(),
		c.rulesCmd(),
		c.refreshCmd(),
	)
	return root
}

func (c *cli) init(cmd *cobra.Command, cfgFile, envFile string) error {
	const op = "cli.init"
	if envFile != "" {
		// existing environment variables win over the file
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: unable to load %s: %w", op, envFile, err)
		}
	}
	c.v.SetEnvPrefix(envPrefix)
	c.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	c.v.AutomaticEnv()

	if cfgFile != "" {
		c.v.SetConfigFile(cfgFile)
	} else {
		c.v.SetConfigName("idbroker")
		c.v.SetConfigType("yaml")
		c.v.AddConfigPath(".")
	}
	if err := c.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("%s: unable to read config: %w", op, err)
		}
	}

	c.logger = hclog.New(&hclog.LoggerOptions{
		Name:   "idbroker",
		Level:  hclog.LevelFromString(c.v.GetString("log_level")),
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// readToken returns the token given as the only argument, or read from stdin
// when there's no argument or it's "-".
func readToken(cmd *cobra.Command, args []string) (string, error) {
	const op = "readToken"
	if len(args) > 0 && args[0] != "-" {
		return strings.TrimSpace(args[0]), nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("%s: unable to read token from stdin: %w", op, err)
	}
	tk := strings.TrimSpace(string(b))
	if tk == "" {
		return "", fmt.Errorf("%s: no token given", op)
	}
	return tk, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
