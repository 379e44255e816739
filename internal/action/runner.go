package action

import (
	"github.com/antirek/lsyncd/internal/inlet"
	"github.com/antirek/lsyncd/internal/sync"
)

// RunnerAction builds an action that delegates every eligible delay to an
// external script instead of the built-in rsync action, for "-runner PATH".
// The script is invoked once per eligible delay as:
//
//	PATH EVENT-TYPE SOURCE-PATH TARGET-PATH
//
// where SOURCE-PATH and TARGET-PATH are the absolute source- and
// target-side paths for the delay's primary path (the source and target
// roots themselves for a Blanket delay, which asks the script to reconcile
// the whole tree).
func RunnerAction(path string) func(*inlet.Inlet) error {
	return func(in *inlet.Inlet) error {
		args := []string{in.Etype().String(), in.SourcePath(), in.TargetPath()}
		_, err := in.Spawn(path, args, "")
		return err
	}
}

// RunnerInit invokes the external script once at startup with a synthetic
// "Blanket" event, the way the built-in actions request their own initial
// full reconciliation.
func RunnerInit(path string) func(*inlet.Inlet) error {
	return func(in *inlet.Inlet) error {
		in.CreateBlanketEvent()
		return nil
	}
}

// RunnerCollect treats any nonzero exit from the external script as
// retryable, the conservative default absent any script-specific exit-code
// convention to interpret.
func RunnerCollect(agent sync.Agent, exitCode int) sync.CollectResult {
	if exitCode == 0 {
		return sync.CollectDone
	}
	return sync.CollectAgain
}
