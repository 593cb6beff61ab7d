// Copyright 2025 Antfly, Inc.
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
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/antflydb/glmocr"
	"github.com/antflydb/glmocr/lib/model"
	"github.com/antflydb/glmocr/lib/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	Version string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "glmocr",
	Short: "Recognize text, formulas and tables in images with GLM-OCR",
	Long: `Serve the GLM-OCR demo or recognize single images from the command line.

Examples:
  # Run the demo server
  glmocr run

  # Recognize a formula
  glmocr recognize formula.png --task Formula

  # List the recognition tasks
  glmocr tasks`,
	// Default behavior when no subcommand is provided: run the server
	RunE: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.Version = Version
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file path (e.g. glmocr.yaml)")
	rootCmd.PersistentFlags().
		String("log-level", "info", "set the logging level (e.g. debug, info, warn, error)")
	rootCmd.PersistentFlags().
		String("log-style", "terminal", "set the logging output style (terminal, json, noop); defaults to json in Kubernetes")
	rootCmd.PersistentFlags().
		String("model-url", glmocr.DefaultModelURL, "base URL of the OpenAI-compatible model service")

	// Bind to viper
	mustBindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	mustBindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log.style", rootCmd.PersistentFlags().Lookup("log-style"))
	mustBindPFlag("model.url", rootCmd.PersistentFlags().Lookup("model-url"))

	// Default values
	defaults := glmocr.DefaultConfig()
	viper.SetDefault("api_url", defaults.ApiUrl)
	viper.SetDefault("health_port", 4200)
	viper.SetDefault("log.level", "info")
	// Default to JSON logging in Kubernetes for structured log aggregation
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		viper.SetDefault("log.style", "json")
	} else {
		viper.SetDefault("log.style", "logfmt")
	}
	viper.SetDefault("model.url", defaults.Model.URL)
	viper.SetDefault("model.name", model.DefaultModelName)
	viper.SetDefault("model.max_new_tokens", defaults.Model.MaxNewTokens)
	viper.SetDefault("model.timeout", defaults.Model.Timeout)
	viper.SetDefault("max_concurrent_requests", defaults.MaxConcurrentRequests)
	viper.SetDefault("max_queue_size", defaults.MaxQueueSize)
	viper.SetDefault("cache_ttl", defaults.CacheTTL)
	viper.SetDefault("max_upload_bytes", defaults.MaxUploadBytes)
	viper.SetDefault("examples_dir", defaults.ExamplesDir)
	viper.SetDefault("examples", defaults.Examples)
	viper.SetDefault("temp_dir", defaults.TempDir)
	viper.SetDefault("allow_html", defaults.AllowHTML)
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag %q: %v", key, err))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			fmt.Fprintf(os.Stderr, "Config file not found: %s\n", cfgFile)
			os.Exit(1)
		}

		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Search the data directory, then the working directory
		viper.AddConfigPath(paths.DefaultDataDir())
		viper.AddConfigPath(".")
		viper.SetConfigName("glmocr")
	}

	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("GLMOCR")                           // GLMOCR_ prefix for env vars
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // Replace . with _ in env var names
	viper.AutomaticEnv()                                   // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	} else if cfgFile != "" {
		// Only error if user explicitly specified a config file
		fmt.Fprintf(os.Stderr, "Error reading config file [%s]: %v\n", viper.ConfigFileUsed(), err)
		os.Exit(1)
	}
}

// configFromViper builds the server config from flags, env and config file.
func configFromViper() glmocr.Config {
	return glmocr.Config{
		ApiUrl:                viper.GetString("api_url"),
		Model:                 modelConfigFromViper(),
		MaxConcurrentRequests: viper.GetInt("max_concurrent_requests"),
		MaxQueueSize:          viper.GetInt("max_queue_size"),
		RequestTimeout:        viper.GetString("request_timeout"),
		CacheTTL:              viper.GetString("cache_ttl"),
		MaxUploadBytes:        viper.GetInt64("max_upload_bytes"),
		ExamplesDir:           viper.GetString("examples_dir"),
		Examples:              viper.GetStringSlice("examples"),
		TempDir:               viper.GetString("temp_dir"),
		AllowHTML:             viper.GetBool("allow_html"),
	}
}

func modelConfigFromViper() glmocr.ModelConfig {
	return glmocr.ModelConfig{
		URL:           viper.GetString("model.url"),
		Name:          viper.GetString("model.name"),
		APIKey:        viper.GetString("model.api_key"),
		MaxNewTokens:  viper.GetInt("model.max_new_tokens"),
		Timeout:       viper.GetString("model.timeout"),
		TokenizerRepo: viper.GetString("model.tokenizer_repo"),
		HFToken:       viper.GetString("model.hf_token"),
	}
}
