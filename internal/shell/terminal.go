package shell

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
)

// ErrAborted is returned by [LineEditor.Prompt] when the user presses ^C.
var ErrAborted = liner.ErrPromptAborted

// LineEditor is a line-editing console with persistent history.
type LineEditor struct {
	state   *liner.State
	history string
}

// OpenTerminal takes over the process terminal. History is loaded from
// historyPath if it exists; empty disables history.
func OpenTerminal(historyPath string, complete func(string) []string) *LineEditor {
	t := &LineEditor{state: liner.NewLiner(), history: historyPath}
	t.state.SetCtrlCAborts(true)

	if complete != nil {
		t.state.SetCompleter(complete)
	}

	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			_, _ = t.state.ReadHistory(f)
			_ = f.Close()
		}
	}

	return t
}

// Prompt reads one line. Non-blank lines are added to history. io.EOF
// means ^D on an empty line.
func (t *LineEditor) Prompt(prompt string) (string, error) {
	line, err := t.state.Prompt(prompt)
	if err != nil {
		return "", err
	}

	if strings.TrimSpace(line) != "" {
		t.state.AppendHistory(line)
	}

	return line, nil
}

// PasswordPrompt reads a line without echo.
func (t *LineEditor) PasswordPrompt(prompt string) (string, error) {
	return t.state.PasswordPrompt(prompt)
}

// Close saves history and restores the terminal.
func (t *LineEditor) Close() error {
	var errs []error

	if t.history != "" {
		errs = append(errs, saveHistory(t.history, t.state))
	}

	errs = append(errs, t.state.Close())

	return errors.Join(errs...)
}

// saveHistory replaces path atomically.
func saveHistory(path string, h interface{ WriteHistory(io.Writer) (int, error) }) error {
	var buf bytes.Buffer

	_, err := h.WriteHistory(&buf)
	if err != nil {
		return fmt.Errorf("write history: %w", err)
	}

	err = atomic.WriteFile(path, &buf)
	if err != nil {
		return fmt.Errorf("save history: %w", err)
	}

	return nil
}

// LineTerminal reads lines from a plain stream, for consoles that are not
// a TTY. Prompts are written to out; password input is echoed by whatever
// feeds the stream.
type LineTerminal struct {
	in  *bufio.Scanner
	out io.Writer
}

// NewLineTerminal returns a terminal reading from in.
func NewLineTerminal(in io.Reader, out io.Writer) *LineTerminal {
	return &LineTerminal{in: bufio.NewScanner(in), out: out}
}

// Prompt writes prompt and returns the next line without its newline.
// It returns io.EOF at the end of input.
func (t *LineTerminal) Prompt(prompt string) (string, error) {
	_, _ = io.WriteString(t.out, prompt)

	if !t.in.Scan() {
		err := t.in.Err()
		if err == nil {
			err = io.EOF
		}

		return "", err
	}

	return strings.TrimSuffix(t.in.Text(), "\r"), nil
}

// PasswordPrompt is Prompt followed by a newline, since the input was not
// echoed back.
func (t *LineTerminal) PasswordPrompt(prompt string) (string, error) {
	line, err := t.Prompt(prompt)
	_, _ = io.WriteString(t.out, "\n")

	return line, err
}
