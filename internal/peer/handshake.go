package peer

import (
	"context"

	"github.com/looplab/fsm"
)

// Handshake states.
const (
	StateDisconnected    = "disconnected"
	StateVersionSent     = "version_sent"
	StateVersionReceived = "version_received"
	StateVerackExchanged = "verack_exchanged"
	StateReady           = "ready"
)

// Handshake events.
const (
	EventSendVersion = "send_version"
	EventRecvVersion = "recv_version"
	EventRecvVerack  = "recv_verack"
	EventReady       = "ready"
	EventDisconnect  = "disconnect"
)

// newHandshakeFSM builds the connection state machine. Outbound peers go
// Disconnected → VersionSent → VersionReceived → VerackExchanged → Ready.
// Inbound peers skip VersionSent: the remote version moves them straight
// from Disconnected to VersionReceived.
func newHandshakeFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: EventSendVersion, Src: []string{StateDisconnected}, Dst: StateVersionSent},
			{Name: EventRecvVersion, Src: []string{StateDisconnected, StateVersionSent}, Dst: StateVersionReceived},
			{Name: EventRecvVerack, Src: []string{StateVersionReceived}, Dst: StateVerackExchanged},
			{Name: EventReady, Src: []string{StateVerackExchanged}, Dst: StateReady},
			{
				Name: EventDisconnect,
				Src: []string{
					StateVersionSent,
					StateVersionReceived,
					StateVerackExchanged,
					StateReady,
				},
				Dst: StateDisconnected,
			},
		},
		fsm.Callbacks{},
	)
}

// fire moves the handshake along, turning a refused transition into a
// ProtocolError.
func fire(ctx context.Context, f *fsm.FSM, event string) error {
	if err := f.Event(ctx, event); err != nil {
		return protocolErr(err, "%s not allowed in state %s", event, f.Current())
	}
	return nil
}
