package bridge

import "github.com/ocx/bridge/internal/transport"

// Hooks is the optional policy interface consulted at every decision
// point in the bridge. NoopHooks implements it as the all-permit default;
// callers needing only some callbacks can embed NoopHooks and override
// the rest.
type Hooks interface {
	SocketClosed(sock transport.Socket)
	SendOrPub(sock transport.Socket, send bool, address string, body any) bool
	PreRegister(sock transport.Socket, address string) bool
	PostRegister(sock transport.Socket, address string)
	Unregister(sock transport.Socket, address string) bool
	ApplySendAuthRules(metadataSet []map[string]any, address string, body any) bool
	ApplyReceiveAuthRules(frame map[string]any, authMetadata map[string]any) bool
}

// NoopHooks is the default Hooks: every boolean callback accepts, every
// void callback is a no-op.
type NoopHooks struct{}

func (NoopHooks) SocketClosed(transport.Socket)                                        {}
func (NoopHooks) SendOrPub(transport.Socket, bool, string, any) bool                    { return true }
func (NoopHooks) PreRegister(transport.Socket, string) bool                             { return true }
func (NoopHooks) PostRegister(transport.Socket, string)                                 {}
func (NoopHooks) Unregister(transport.Socket, string) bool                              { return true }
func (NoopHooks) ApplySendAuthRules(metadataSet []map[string]any, addr string, b any) bool { return true }
func (NoopHooks) ApplyReceiveAuthRules(frame map[string]any, meta map[string]any) bool   { return true }

var _ Hooks = NoopHooks{}
