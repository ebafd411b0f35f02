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

	"github.com/notargets/goamr/mesh"
)

// NeighborsCmd represents the neighbors command
var NeighborsCmd = &cobra.Command{
	Use:   "neighbors",
	Short: "Print the neighbor relations of every block of a problem's initial mesh",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			fileName string
			gid      int
		)
		if fileName, err = cmd.Flags().GetString("inputConditionsFile"); err != nil {
			return
		}
		if gid, err = cmd.Flags().GetInt("block"); err != nil {
			return
		}
		return Neighbors(os.Stdout, fileName, gid)
	},
}

func init() {
	rootCmd.AddCommand(NeighborsCmd)
	NeighborsCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML or TOML problem file")
	NeighborsCmd.Flags().IntP("block", "b", -1, "only print relations of this block")
}

// Neighbors writes the relations filling the ghosts of each block, or of the
// block gid alone when it is not negative
func Neighbors(w io.Writer, fileName string, gid int) (err error) {
	var m *mesh.Mesh
	if m, _, err = loadMesh(fileName, 0); err != nil {
		return
	}
	if err = m.BuildTopology(); err != nil {
		return
	}
	if gid >= len(m.Blocks) {
		return fmt.Errorf("block %d out of range, mesh has %d blocks", gid, len(m.Blocks))
	}
	for _, b := range m.Blocks {
		if gid >= 0 && b.GID != gid {
			continue
		}
		fmt.Fprintf(w, "Block %d %s level %d, %d neighbors\n",
			b.GID, b.Loc, b.Loc.Level, len(m.Incoming[b.GID]))
		for _, id := range m.Incoming[b.GID] {
			fmt.Fprintf(w, "\t%s\n", m.Relations[id])
		}
	}
	return
}
