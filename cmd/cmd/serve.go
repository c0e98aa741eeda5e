/*
Copyright © 2025 Your Name

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"intelbrief/internal/analyst"
	"intelbrief/internal/cards"
	"intelbrief/internal/config"
	"intelbrief/internal/ingest"
	"intelbrief/internal/normalize"
	"intelbrief/internal/server"
	"intelbrief/internal/store"
	"intelbrief/internal/syncer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start the intelligence API. Reads refresh stored articles from the
upstream feed at most once per calendar day and serve one memoized AI
verdict per article URL.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		assembler, st, err := buildPipeline(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		return server.New(cfg.Server, assembler, st).Run()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// buildPipeline assembles the full stack from configuration: store engine,
// upstream ingest client, normalizer, sync gate, analyst, card assembler.
func buildPipeline(cfg *config.Config) (*cards.Assembler, store.Store, error) {
	st, err := store.Open(cfg.Database, cfg.App.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}

	an, err := analyst.New(cfg.AI)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("configuring analyst: %w", err)
	}

	normalizer := normalize.New()
	sy := syncer.New(st, ingest.NewClient(cfg.Ingest), normalizer)
	assembler := cards.New(sy, st, an, normalizer, cfg.CategorySet())
	return assembler, st, nil
}
