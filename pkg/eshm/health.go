package eshm

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"
)

// LivenessCheck adapts the handle's remote-alive signal to a healthcheck
// probe, for mounting on a health endpoint:
//
//	health := healthcheck.NewHandler()
//	health.AddLivenessCheck("eshm-peer", h.LivenessCheck())
func (h *Handle) LivenessCheck() healthcheck.Check {
	return func() error {
		alive, err := h.CheckRemoteAlive()
		if err != nil {
			return err
		}
		if !alive {
			return fmt.Errorf("remote endpoint on %s is stale", h.shmName)
		}
		return nil
	}
}
