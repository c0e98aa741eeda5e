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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"intelbrief/internal/ingest"
	"intelbrief/internal/normalize"
	"intelbrief/internal/store"
	"intelbrief/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch the upstream feed and refresh all categories now",
	Long: `Force an upstream fetch and upsert for every configured category,
ignoring the daily freshness gate. Useful for cron or for warming a fresh
database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Database, cfg.App.DataDir)
		if err != nil {
			return fmt.Errorf("opening store: %w", err)
		}
		defer st.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		sy := syncer.New(st, ingest.NewClient(cfg.Ingest), normalize.New())
		if err := sy.Refresh(ctx, cfg.CategorySet()); err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		fmt.Println("sync complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
