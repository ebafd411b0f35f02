/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

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
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/notargets/goamr/loadbalance"
	"github.com/notargets/goamr/mesh"
)

// PartitionCmd represents the partition command
var PartitionCmd = &cobra.Command{
	Use:   "partition",
	Short: "Assign blocks to ranks and report the partition quality",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			fileName string
			nranks   int
		)
		if fileName, err = cmd.Flags().GetString("inputConditionsFile"); err != nil {
			return
		}
		if nranks, err = cmd.Flags().GetInt("ranks"); err != nil {
			return
		}
		return Partition(os.Stdout, fileName, nranks)
	},
}

func init() {
	rootCmd.AddCommand(PartitionCmd)
	PartitionCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML or TOML problem file")
	PartitionCmd.Flags().IntP("ranks", "n", 0, "number of ranks, overrides NumRanks of the problem file")
}

// Partition balances the initial mesh of a problem file over nranks and prints
// the rank of every block followed by the communication summary
func Partition(w io.Writer, fileName string, nranks int) (err error) {
	var (
		m     *mesh.Mesh
		ranks []int
		pa    *loadbalance.PartitionAnalysis
	)
	if m, nranks, err = loadMesh(fileName, nranks); err != nil {
		return
	}
	costs := make([]float64, len(m.Blocks))
	for gid, b := range m.Blocks {
		costs[gid] = b.Cost
	}
	if ranks, err = loadbalance.Balance(costs, nranks); err != nil {
		return
	}
	m.SetRanks(ranks)
	if err = m.BuildTopology(); err != nil {
		return
	}
	if pa, err = loadbalance.AnalyzePartition(m, ranks, nranks); err != nil {
		return
	}
	for gid, b := range m.Blocks {
		fmt.Fprintf(w, "%6d %-16s rank %d\n", gid, b.Loc, ranks[gid])
	}
	fmt.Fprintf(w, "Ranks: %d  Blocks: %d\n", nranks, len(m.Blocks))
	fmt.Fprintf(w, "Load: min %.4g avg %.4g max %.4g imbalance %.2f%%\n",
		pa.MinLoad, pa.AvgLoad, pa.MaxLoad, 100*pa.Imbalance)
	fmt.Fprintf(w, "Cut relations: %d  Ghost values sent between ranks: %.0f\n",
		pa.CutRelations, pa.CommVolume)
	pa.Log()
	return
}

// loadMesh builds the initial mesh of a problem file. A positive nranks
// replaces the rank count of the file.
func loadMesh(fileName string, nranks int) (m *mesh.Mesh, n int, err error) {
	var cfg mesh.MeshConfig
	ip, err := readProblem(fileName)
	if err != nil {
		return
	}
	if cfg, err = ip.MeshConfig(); err != nil {
		return
	}
	if m, err = mesh.NewMesh(cfg); err != nil {
		return
	}
	if n = nranks; n < 1 {
		n = m.Config.NumRanks
	}
	return
}
