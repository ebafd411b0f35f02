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
	"net/http"
	"os"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/profile"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/notargets/goamr/metrics"
	"github.com/notargets/goamr/utils"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "goamr",
	Short: "Block-structured adaptive mesh with ghost exchange and task scheduling",
	Long: `goamr builds a tree of mesh blocks from a problem file, distributes them
over ranks and advances them in stages, exchanging ghost zones between
neighboring blocks at every stage.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("goamr failed")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.goamr.yaml)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("profile", "", "write a pprof profile: cpu or mem")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	for _, name := range []string{"log-level", "profile", "metrics-addr"} {
		if err := viper.BindPFlag(name, pf.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".goamr")
	}
	viper.SetEnvPrefix("goamr")
	viper.AutomaticEnv()
	utils.InitLogger("goamr", viper.GetString("log-level"))
	if err := viper.ReadInConfig(); err == nil {
		// Levels from the config file apply once it is read
		utils.InitLogger("goamr", viper.GetString("log-level"))
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("using config file")
	}
}

// startServices starts the profiler and the metrics endpoint selected on the
// command line. The returned function stops them.
func startServices() (stop func(), err error) {
	var (
		prof interface{ Stop() }
		srv  *http.Server
	)
	switch mode := viper.GetString("profile"); mode {
	case "":
	case "cpu":
		prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	case "mem":
		prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	default:
		return nil, fmt.Errorf("unknown profile mode %q, want cpu or mem", mode)
	}
	if addr := viper.GetString("metrics-addr"); addr != "" {
		srv = metrics.Serve(addr)
	}
	stop = func() {
		if prof != nil {
			prof.Stop()
		}
		if srv != nil {
			_ = srv.Close()
		}
	}
	return
}
