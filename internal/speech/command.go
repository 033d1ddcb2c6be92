package speech

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// langPlaceholder in a command argument is replaced by the configured locale.
const langPlaceholder = "{lang}"

// CommandSynthesizer speaks by running an external program with the text as
// its last argument, e.g. espeak-ng or say. Cancelling the context kills it.
type CommandSynthesizer struct {
	path string
	args []string
}

// NewCommandSynthesizer resolves argv[0] on PATH. It returns ErrUnavailable
// when argv is empty or the program is not installed.
func NewCommandSynthesizer(argv []string, lang string) (*CommandSynthesizer, error) {
	path, args, err := resolve(argv, lang)
	if err != nil {
		return nil, err
	}
	return &CommandSynthesizer{path: path, args: args}, nil
}

func (s *CommandSynthesizer) Speak(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	args := append(append([]string(nil), s.args...), text)
	cmd := exec.CommandContext(ctx, s.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("synthesizer failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// CommandRecognizer captures one utterance by running an external program
// that records audio and prints the final transcript on stdout.
type CommandRecognizer struct {
	path string
	args []string
}

// NewCommandRecognizer resolves argv[0] on PATH. It returns ErrUnavailable
// when argv is empty or the program is not installed.
func NewCommandRecognizer(argv []string, lang string) (*CommandRecognizer, error) {
	path, args, err := resolve(argv, lang)
	if err != nil {
		return nil, err
	}
	return &CommandRecognizer{path: path, args: args}, nil
}

func (r *CommandRecognizer) Listen(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.path, r.args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = "capture command failed"
		}
		return "", &EngineError{Detail: detail, Err: err}
	}

	transcript := strings.Join(strings.Fields(stdout.String()), " ")
	if transcript == "" {
		return "", ErrNoSpeech
	}
	return transcript, nil
}

func resolve(argv []string, lang string) (string, []string, error) {
	if len(argv) == 0 || argv[0] == "" {
		return "", nil, ErrUnavailable
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return "", nil, fmt.Errorf("%w: %s not found", ErrUnavailable, argv[0])
	}
	args := make([]string, 0, len(argv)-1)
	for _, a := range argv[1:] {
		args = append(args, strings.ReplaceAll(a, langPlaceholder, lang))
	}
	return path, args, nil
}
