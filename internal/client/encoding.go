package client

import (
	"fmt"

	"go.uber.org/zap"

	"framelink/internal/core/domain"
	"framelink/internal/wire"
)

// modeController negotiates the wire encoding. A request does not
// change local state; the mirror flips only on the peer's
// acknowledgement. Frames sent in the old mode during the switch
// window still decode correctly because every frame carries its own
// mode tag.
type modeController struct {
	log       *zap.SugaredLogger
	send      func(msgType string, payload interface{}) error
	requested domain.EncodingMode // awaiting ack; empty when settled
}

func newModeController(log *zap.SugaredLogger, send func(string, interface{}) error) *modeController {
	return &modeController{log: log, send: send}
}

func (m *modeController) request(mode domain.EncodingMode) error {
	if !mode.Valid() {
		return fmt.Errorf("unknown encoding mode %q", mode)
	}
	if err := m.send(wire.TypeSetEncodingMode, wire.SetEncodingModePayload{Mode: mode}); err != nil {
		return err
	}
	m.requested = mode
	m.log.Infow("encoding mode change requested", "mode", mode)
	return nil
}

// handleChanged applies the peer's acknowledgement and returns the
// now-active mode.
func (m *modeController) handleChanged(mode domain.EncodingMode) domain.EncodingMode {
	if m.requested != "" && m.requested != mode {
		m.log.Warnw("peer settled on a different encoding mode",
			"requested", m.requested, "effective", mode)
	}
	m.requested = ""
	return mode
}
