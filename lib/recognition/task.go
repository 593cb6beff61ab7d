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

package recognition

import (
	"fmt"
	"strings"
)

// Task is a recognition mode. Its value is the label shown in the form.
type Task string

const (
	// TaskText transcribes plain text.
	TaskText Task = "Text"
	// TaskFormula transcribes a mathematical formula (LaTeX).
	TaskFormula Task = "Formula"
	// TaskTable transcribes a table.
	TaskTable Task = "Table"
)

// DefaultTask is selected when no task, or an unknown one, is given.
const DefaultTask = TaskText

// NoImageMessage is returned instead of a transcription when no image was supplied.
const NoImageMessage = "Please upload an image first"

// taskPrompts is the fixed task to instruction table.
var taskPrompts = [...]struct {
	task   Task
	prompt string
}{
	{TaskText, "Text Recognition:"},
	{TaskFormula, "Formula Recognition:"},
	{TaskTable, "Table Recognition:"},
}

// DefaultPrompt is the instruction used for the default task.
var DefaultPrompt = TaskText.Prompt()

// Tasks returns the tasks in display order.
func Tasks() []Task {
	out := make([]Task, len(taskPrompts))
	for i, tp := range taskPrompts {
		out[i] = tp.task
	}
	return out
}

// Prompt returns the instruction sent to the model for the task. Unknown
// tasks get the default instruction.
func (t Task) Prompt() string {
	for _, tp := range taskPrompts {
		if tp.task == t {
			return tp.prompt
		}
	}
	return taskPrompts[0].prompt
}

// ID returns the lower-case identifier used by the API ("text", "formula", "table").
func (t Task) ID() string {
	return strings.ToLower(string(t))
}

// String returns the display label.
func (t Task) String() string {
	return string(t)
}

// PromptFor looks up the instruction for a task label, falling back to the
// default instruction for empty or unknown labels.
func PromptFor(task string) string {
	return Resolve(task).Prompt()
}

// Resolve maps a display label or a lower-case identifier to a task. Unknown
// names resolve to DefaultTask.
func Resolve(name string) Task {
	t, err := ParseTask(name)
	if err != nil {
		return DefaultTask
	}
	return t
}

// ParseTask converts a display label ("Formula") or identifier ("formula")
// into a Task.
func ParseTask(name string) (Task, error) {
	for _, tp := range taskPrompts {
		if name == string(tp.task) || name == tp.task.ID() {
			return tp.task, nil
		}
	}
	return "", fmt.Errorf("unknown recognition task: %q", name)
}
