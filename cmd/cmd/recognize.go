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
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/antflydb/glmocr"
	"github.com/antflydb/glmocr/lib/paths"
	"github.com/antflydb/glmocr/lib/preprocess"
	"github.com/antflydb/glmocr/lib/recognition"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var recognizeCmd = &cobra.Command{
	Use:   "recognize <image>",
	Short: "Recognize a single image",
	Long: `Send one image to the model service and print the recognized text.

Examples:
  # Plain text
  glmocr recognize scan.jpg

  # A table, as markdown or HTML
  glmocr recognize invoice.png --task Table`,
	Args: cobra.ExactArgs(1),
	RunE: runRecognize,
}

func init() {
	rootCmd.AddCommand(recognizeCmd)

	recognizeCmd.Flags().String("task", string(recognition.DefaultTask), "recognition task (Text, Formula, Table)")
}

func runRecognize(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	taskName, _ := cmd.Flags().GetString("task")
	task, err := recognition.ParseTask(taskName)
	if err != nil {
		return err
	}

	logger := newLogger()
	defer func() {
		_ = logger.Sync()
	}()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}
	src, err := preprocess.Decode(data)
	if err != nil {
		return err
	}

	mcfg := modelConfigFromViper()
	m, err := glmocr.NewModel(mcfg, logger.Named("model"))
	if err != nil {
		return err
	}
	defer func() {
		_ = m.Close()
	}()

	tempDir := viper.GetString("temp_dir")
	if err := paths.EnsureDir(tempDir); err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}

	r, err := recognition.NewRecognizer(recognition.Config{
		Model:        m,
		MaxNewTokens: mcfg.MaxNewTokens,
		TempDir:      tempDir,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	logger.Debug("Recognizing image",
		zap.String("path", args[0]),
		zap.String("task", task.String()),
		zap.String("format", src.Format))

	text, err := r.Recognize(ctx, src, string(task))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
	return err
}
