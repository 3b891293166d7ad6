package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"biowatch/internal/apperr"
)

// spawnModelProcess launches one model server subprocess via the host's
// configured model runtime executable. The concrete model runtime and its
// launch contract are a host/deployment concern outside this repository's
// scope (spec §4.I non-goals): BIOWATCH_MODEL_RUNTIME names the executable,
// invoked with the model id, environment id, port, and shutdown token as
// positional arguments.
func spawnModelProcess(ctx context.Context, modelRef, envRef string, port int, token string, options map[string]interface{}) (*exec.Cmd, error) {
	runtime := os.Getenv("BIOWATCH_MODEL_RUNTIME")
	if runtime == "" {
		return nil, apperr.New(apperr.KindIOFailure, "BIOWATCH_MODEL_RUNTIME is not set")
	}

	cmd := exec.CommandContext(ctx, runtime, modelRef, envRef, strconv.Itoa(port), token)
	cmd.Env = append(os.Environ(), fmt.Sprintf("BIOWATCH_MODEL_PORT=%d", port), "BIOWATCH_SHUTDOWN_TOKEN="+token)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// New process group so killProcessTree can SIGKILL the runtime's own
	// forked workers without affecting this daemon's own group.
	setProcAttrNewGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, apperr.Wrap(apperr.KindIOFailure, err, "start model runtime %s", runtime)
	}
	return cmd, nil
}
