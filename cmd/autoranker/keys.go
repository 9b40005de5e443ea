// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/blinklabs-io/autoranker/keystore"
	"github.com/spf13/cobra"
)

func keysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage curator key packs",
	}
	cmd.AddCommand(keysGenerateCommand())
	cmd.AddCommand(keysListCommand())
	return cmd
}

func keysGenerateCommand() *cobra.Command {
	var count int
	var output string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a key pack of fresh accounts",
		Run: func(cmd *cobra.Command, args []string) {
			if output == "" {
				output = configFromCmd(cmd).KeysFile
			}
			if output == "" {
				slog.Error("output path required (via --output or keysFile config)")
				os.Exit(1)
			}
			if _, err := os.Stat(output); err == nil {
				slog.Error(fmt.Sprintf("refusing to overwrite existing key file %s", output))
				os.Exit(1)
			}
			accounts, err := keystore.GenerateKeyPack(count)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			if err := keystore.WriteKeyPack(output, accounts); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			for _, acct := range accounts {
				fmt.Println(acct.Address().Hex())
			}
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 10, "number of accounts")
	cmd.Flags().StringVarP(&output, "output", "o", "", "key pack path (defaults to keysFile)")
	return cmd
}

func keysListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the addresses of the configured curator and treasury keys",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := configFromCmd(cmd)
			ks := keystore.NewKeyStore(keystore.KeyStoreConfig{
				KeysFile:        cfg.KeysFile,
				TreasuryKeyFile: cfg.TreasuryKeyFile,
			})
			if err := ks.Load(); err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			if treasury, err := ks.Treasury(); err == nil {
				fmt.Printf("treasury %s\n", treasury.Address().Hex())
			}
			for _, acct := range ks.Accounts() {
				fmt.Printf("curator  %s\n", acct.Address().Hex())
			}
		},
	}
}
