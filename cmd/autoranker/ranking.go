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
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"os"
	"sort"
	"time"

	"github.com/blinklabs-io/autoranker/database/models"
	"github.com/blinklabs-io/autoranker/internal/service"
	"github.com/ethereum/go-ethereum/params"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

type rankingRow struct {
	id   uint64
	name string
	rank *big.Int
}

// formatEther renders a wei amount in ether with four decimals
func formatEther(wei *big.Int) string {
	if wei == nil {
		return "-"
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(params.Ether))
	return f.Text('f', 4)
}

func rankingCommand() *cobra.Command {
	var history bool
	var itemID uint64
	cmd := &cobra.Command{
		Use:   "ranking",
		Short: "Show ledger ranks ordered from highest to lowest",
		Run: func(cmd *cobra.Command, args []string) {
			runWithDriver(cmd, func(ctx context.Context, loaded *service.Loaded, _ *slog.Logger) error {
				if history {
					if itemID == 0 {
						return errors.New("--history needs --item")
					}
					changes, err := loaded.Driver.RankHistory(itemID)
					if err != nil {
						return err
					}
					return renderHistory(os.Stdout, changes)
				}
				ids, ranks, err := loaded.Gateway.ListItemsWithRank(ctx)
				if err != nil {
					return err
				}
				names := make(map[uint64]string)
				for _, item := range loaded.Driver.Store().Items() {
					names[item.ID] = item.Name
				}
				rows := make([]rankingRow, 0, len(ids))
				for i, id := range ids {
					rows = append(rows, rankingRow{id: id, name: names[id], rank: ranks[i]})
				}
				sortRanking(rows)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "ID", "Name", "Rank (ether)"})
				tw.SetColumnConfigs([]table.ColumnConfig{
					{Number: 4, Align: text.AlignRight},
				})
				for i, row := range rows {
					tw.AppendRow(table.Row{i + 1, row.id, row.name, formatEther(row.rank)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "show the recorded rank changes of one item")
	cmd.Flags().Uint64Var(&itemID, "item", 0, "item id for --history")
	return cmd
}

// renderHistory prints rank changes oldest first with the signed delta
func renderHistory(w io.Writer, changes []models.RankChange) error {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Observed", "Old (ether)", "New (ether)", "Change"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})
	for _, change := range changes {
		oldRank, err := models.ParseAmount(change.OldRank)
		if err != nil {
			return err
		}
		newRank, err := models.ParseAmount(change.NewRank)
		if err != nil {
			return err
		}
		delta := "-"
		if oldRank != nil && newRank != nil {
			diff := new(big.Int).Sub(newRank, oldRank)
			delta = formatEther(diff)
			if diff.Sign() > 0 {
				delta = "+" + delta
			}
		}
		tw.AppendRow(table.Row{
			change.ObservedAt.UTC().Format(time.RFC3339),
			formatEther(oldRank),
			formatEther(newRank),
			delta,
		})
	}
	tw.Render()
	return nil
}

// sortRanking orders by rank descending, then id ascending
func sortRanking(rows []rankingRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		cmp := rows[i].rank.Cmp(rows[j].rank)
		if cmp != 0 {
			return cmp > 0
		}
		return rows[i].id < rows[j].id
	})
}
