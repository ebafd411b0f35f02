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
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	perf "github.com/hodgesds/perf-utils"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/notargets/goamr/InputParameters"
	"github.com/notargets/goamr/bvals"
	"github.com/notargets/goamr/driver"
	"github.com/notargets/goamr/mesh"
)

var exampleFile = `
########################################
Title: "Refined corner"
Dim: 2
RootBlocks: [4, 4, 1]
BlockCells: [8, 8, 1]
NGhost: 2
DomainMax: [1, 1, 1]
MaxLevel: 2
Boundaries: {InnerX1: periodic, OuterX1: periodic, InnerX2: reflecting, OuterX2: reflecting}
Fields: [{Name: rho, Kind: scalar}, {Name: mx, Kind: vector1}, {Name: my, Kind: vector2}]
Refine: [{Level: 0, LX: [1, 1, 0]}]
NumRanks: 2
NumThreads: 2
NumStages: 2
Dt: 0.0001
FinalTime: 0.01
LoadBalanceInterval: 5
########################################
`

type RunOptions struct {
	ProblemFile string
	RestartIn   string
	RestartOut  string
	Perf        bool
}

// RunCmd represents the run command
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Advance the demo diffusion problem on an adaptive block mesh",
	Long: `Builds the mesh described by a YAML or TOML problem file, places a
Gaussian pulse in the first variable and smooths it with an explicit
diffusion kernel, exchanging ghost zones between blocks at every stage.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		ro := &RunOptions{}
		if ro.ProblemFile, err = cmd.Flags().GetString("inputConditionsFile"); err != nil {
			return
		}
		ro.RestartIn, _ = cmd.Flags().GetString("restart")
		ro.RestartOut, _ = cmd.Flags().GetString("write-restart")
		ro.Perf, _ = cmd.Flags().GetBool("perf")
		stop, err := startServices()
		if err != nil {
			return
		}
		defer stop()
		return Run(cmd.Context(), ro)
	},
}

func init() {
	rootCmd.AddCommand(RunCmd)
	RunCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML or TOML problem file")
	RunCmd.Flags().StringP("restart", "r", "", "resume from a restart file")
	RunCmd.Flags().StringP("write-restart", "w", "", "write a restart file when the run ends")
	RunCmd.Flags().Bool("perf", false, "count CPU instructions of the run with perf events")
}

// readProblem loads the problem file named by fileName
func readProblem(fileName string) (ip *InputParameters.InputParameters, err error) {
	if len(fileName) == 0 {
		fmt.Printf("Example File:%s\n", exampleFile)
		return nil, fmt.Errorf("must supply a problem file (-I, --inputConditionsFile)")
	}
	var data []byte
	if data, err = os.ReadFile(fileName); err != nil {
		return
	}
	ip = &InputParameters.InputParameters{}
	if err = ip.ParseFile(fileName, data); err != nil {
		return nil, fmt.Errorf("%s: %w", fileName, err)
	}
	return
}

func Run(ctx context.Context, ro *RunOptions) (err error) {
	var (
		ip   *InputParameters.InputParameters
		mcfg mesh.MeshConfig
		m    *mesh.Mesh
		d    *driver.Driver
		t0   float64
		c0   int
	)
	if ip, err = readProblem(ro.ProblemFile); err != nil {
		return
	}
	ip.Print()
	if mcfg, err = ip.MeshConfig(); err != nil {
		return
	}
	if ro.RestartIn != "" {
		var f *os.File
		if f, err = os.Open(ro.RestartIn); err != nil {
			return
		}
		m, t0, c0, err = mesh.ReadRestart(f, mcfg)
		f.Close()
		if err != nil {
			return
		}
		log.Info().Str("file", ro.RestartIn).Float64("time", t0).Int("cycle", c0).
			Msg("resuming from restart")
	} else {
		if m, err = mesh.NewMesh(mcfg); err != nil {
			return
		}
		center, width := ip.Pulse()
		driver.InitGaussian(m, center, width)
	}
	dcfg := ip.DriverConfig()
	dcfg.UserBoundaries = userBoundaries(mcfg)
	diffusivity := ip.Diffusivity
	if diffusivity == 0 {
		diffusivity = 1
	}
	if d, err = driver.NewDriver(m, dcfg, driver.SmoothingKernel(mcfg.Dim, dcfg.NumStages, diffusivity)); err != nil {
		return
	}
	d.Time, d.Cycle = t0, c0
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()
	run := func() error { return d.Run(ctx) }
	if ro.Perf {
		err = countInstructions(run)
	} else {
		err = run()
	}
	if err != nil {
		return
	}
	log.Info().Float64("max", d.MaxAbs(0)).Msg("pulse amplitude")
	if ro.RestartOut != "" {
		var f *os.File
		if f, err = os.Create(ro.RestartOut); err != nil {
			return
		}
		if err = mesh.WriteRestart(f, m, d.Time, d.Cycle); err != nil {
			f.Close()
			return
		}
		if err = f.Close(); err != nil {
			return
		}
		log.Info().Str("file", ro.RestartOut).Msg("wrote restart")
	}
	return
}

// countInstructions runs fn under a perf instruction counter. When perf events
// are unavailable fn runs uncounted.
func countInstructions(fn func() error) (err error) {
	var ran bool
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	pv, perr := perf.CPUInstructions(func() error {
		ran = true
		err = fn()
		return err
	})
	switch {
	case !ran:
		log.Warn().Err(perr).Msg("perf events unavailable, running without counters")
		return fn()
	case err != nil:
		return
	case perr != nil:
		log.Warn().Err(perr).Msg("reading perf counters")
	default:
		log.Info().Uint64("instructions", pv.Value).Msg("perf counters")
	}
	return
}

// userBoundaries holds the demo's user boundary: a zero Dirichlet value in
// every ghost cell of faces marked user
func userBoundaries(cfg mesh.MeshConfig) (fns map[mesh.BoundaryFace]bvals.BoundaryFunc) {
	fns = make(map[mesh.BoundaryFace]bvals.BoundaryFunc)
	for f := mesh.BoundaryFace(0); f < mesh.NumFaces; f++ {
		if cfg.Boundaries[f] == mesh.BoundaryUser {
			fns[f] = zeroGhosts
		}
	}
	return
}

func zeroGhosts(b *mesh.Block, face mesh.BoundaryFace, _ float64) error {
	var (
		fa     = b.Fields
		d      = face.Dim()
		lo, hi [3]int
	)
	for dd := 0; dd < 3; dd++ {
		lo[dd], hi[dd] = 0, fa.N[dd]-1
	}
	if face.Side() < 0 {
		hi[d] = fa.IS(d) - 1
	} else {
		lo[d] = fa.IE(d) + 1
	}
	for n := 0; n < fa.NVar; n++ {
		for k := lo[2]; k <= hi[2]; k++ {
			for j := lo[1]; j <= hi[1]; j++ {
				for i := lo[0]; i <= hi[0]; i++ {
					fa.Set(n, k, j, i, 0)
				}
			}
		}
	}
	return nil
}
