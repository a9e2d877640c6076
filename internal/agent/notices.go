package agent

import (
	"errors"
	"fmt"

	"github.com/test-prof/autopilot/internal/action"
	"github.com/test-prof/autopilot/internal/forge"
	"github.com/test-prof/autopilot/internal/notify"
	"github.com/test-prof/autopilot/internal/workspace"
)

const truncationObservation = "Observation: This doesn't look like a full file, you must provide a full version"

func initialTurn(code string) string {
	return "Optimize this test file:\n\n " + code
}

func observationTurn(output string) string {
	return "Observation:\n\n" + output
}

func startNotice(path string) string {
	return notify.BotPrefix + fmt.Sprintf("I'm on it! Let me first collect some profiles for `%s`.", path)
}

func baselineNotice(path, output string) string {
	return notify.BotPrefix + fmt.Sprintf("Okay, here is the baseline information for `%s`:\n\n```sh\n%s\n```", path, output)
}

func runNotice(rationale, output string) string {
	return notify.BotPrefix + fmt.Sprintf("%s\n\nHere are the results of running an updated version:\n\n```sh\n%s\n```", rationale, output)
}

func budgetNotice(budget int) string {
	return notify.BotPrefix + fmt.Sprintf("Reached the max number of refactoring runs (%d). Stopping here.", budget)
}

func doneNotice(response string) string {
	return notify.BotPrefix + "We're done here!\n\n" + response
}

func baselineFailure(commandLine, output string) string {
	return notify.AlarmPrefix + fmt.Sprintf("Failed to run `%s`:\n\n```sh\n%s\n```", commandLine, output)
}

// failureNotice is the single message a fatal error produces.
func failureNotice(err *Error) string {
	var (
		unsupported *action.UnsupportedError
		baseline    *baselineError
		missing     *workspace.TargetMissingError
		outside     *workspace.OutsideError
	)
	switch {
	case errors.As(err, &unsupported):
		return notify.AlarmPrefix + "Unknown action: " + unsupported.Kind
	case errors.Is(err, errRepeatedTruncation):
		return notify.AlarmPrefix + "Failed to receive an updated test file from LLM"
	case errors.As(err, &baseline):
		return baselineFailure(baseline.CommandLine, baseline.Output)
	case errors.As(err, &missing):
		return notify.AlarmPrefix + "File does not exist: " + missing.Path
	case errors.As(err, &outside):
		return notify.AlarmPrefix + "File is outside the project: " + outside.Path
	case forge.IsConflict(err):
		return notify.AlarmPrefix + "The branch changed while I was publishing a new version, so I stopped. Please restart me once it settles."
	default:
		return notify.AlarmPrefix + "Something went wrong: " + err.Err.Error()
	}
}
