package td3

import (
	"fmt"

	"github.com/samuelfneumann/gopolgrad/network"
)

// actorCritic groups a deterministic policy with its twin action
// value functions. The online and target networks of a TD3 agent are
// each held as an actorCritic; the two always have structurally
// identical networks and never share weight tensors.
type actorCritic struct {
	policy network.NeuralNet
	qfunc1 network.NeuralNet
	qfunc2 network.NeuralNet
}

// set sets the weights of the actorCritic to be equal to those of
// source.
func (a *actorCritic) set(source *actorCritic) error {
	if err := a.policy.Set(source.policy); err != nil {
		return fmt.Errorf("set: could not set policy weights: %v", err)
	}
	if err := a.qfunc1.Set(source.qfunc1); err != nil {
		return fmt.Errorf("set: could not set first value function "+
			"weights: %v", err)
	}
	if err := a.qfunc2.Set(source.qfunc2); err != nil {
		return fmt.Errorf("set: could not set second value function "+
			"weights: %v", err)
	}
	return nil
}

// polyak moves the weights of the actorCritic towards those of
// source, setting each target weight w to
// tau * w + (1 - tau) * sourceW.
func (a *actorCritic) polyak(source *actorCritic, tau float64) error {
	if err := a.policy.Polyak(source.policy, tau); err != nil {
		return fmt.Errorf("polyak: could not update policy weights: %v", err)
	}
	if err := a.qfunc1.Polyak(source.qfunc1, tau); err != nil {
		return fmt.Errorf("polyak: could not update first value function "+
			"weights: %v", err)
	}
	if err := a.qfunc2.Polyak(source.qfunc2, tau); err != nil {
		return fmt.Errorf("polyak: could not update second value function "+
			"weights: %v", err)
	}
	return nil
}
