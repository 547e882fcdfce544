package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// Timeout is the hard wall-clock ceiling for a single fetch.
const Timeout = 60 * time.Second

// responseErrorExit is the subprocess convention for a structured
// upstream error: the payload on stdout is {"error":{code,msg}}.
const responseErrorExit = 5

// run spawns the command, optionally piping stdin, collects stdout and
// enforces the timeout. All transports funnel through here.
func run(ctx context.Context, argv []string, stdin []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == responseErrorExit {
		var payload struct {
			Error struct {
				Code int    `json:"code"`
				Msg  string `json:"msg"`
			} `json:"error"`
		}
		if jsonErr := json.Unmarshal(stdout.Bytes(), &payload); jsonErr != nil {
			return nil, &FatalError{
				Stdout: stdout.String(),
				Stderr: stderr.String(),
				Err:    fmt.Errorf("exit %d with unparseable error payload: %w", responseErrorExit, jsonErr),
			}
		}
		return nil, &ResponseError{Code: payload.Error.Code, Msg: payload.Error.Msg}
	}

	slog.Error("Fetcher subprocess failed",
		"argv0", argv[0], "error", err,
		"stdout", stdout.String(), "stderr", stderr.String())

	return nil, &FatalError{Stdout: stdout.String(), Stderr: stderr.String(), Err: err}
}
