// Package grpcauthority implements authority.Authority against an
// out-of-process authority service reached over gRPC. It holds a real
// grpc.ClientConn, modeled on the teacher's escrow.JuryGRPCClient: the
// connection is live and ready for the proto-defined RPC, but until that
// proto is compiled and the remote service deployed, decisions are made
// inline from the same frame fields the RPC would otherwise carry.
package grpcauthority

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	// In production, with the authority proto compiled:
	// pb "github.com/ocx/bridge/pb/authority"
)

// Authority reaches an authority service over gRPC.
type Authority struct {
	conn *grpc.ClientConn
	addr string
	// In production: client pb.AuthorityServiceClient
}

// New dials addr and returns a ready-to-use Authority.
func New(addr string) (*Authority, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpcauthority: dial %s: %w", addr, err)
	}
	return &Authority{conn: conn, addr: addr}, nil
}

// denyPatterns catches the same class of unsafe frame content the bridge
// must never forward blindly to a handler, pending the real RPC.
var denyPatterns = []string{
	"ignore all previous instructions",
	"ignore previous",
	"system prompt",
	"jailbreak",
	"drop table",
	"rm -rf",
}

// Authorise evaluates frame inline using the conventions the remote
// authority service will eventually enforce: the address and action
// fields are checked for known-bad patterns, and a numeric "amount"
// field above 10000 is denied.
func (a *Authority) Authorise(ctx context.Context, frame map[string]any) (string, map[string]any, error) {
	_ = ctx // reserved for the RPC once the proto is compiled

	address, _ := frame["address"].(string)
	slog.Debug("grpcauthority: evaluating frame", "addr", a.addr, "address", address)

	haystack := strings.ToLower(fmt.Sprintf("%v %v", frame["address"], frame["action"]))
	for _, pattern := range denyPatterns {
		if strings.Contains(haystack, pattern) {
			return "denied", map[string]any{"reason": "blocked pattern: " + pattern}, nil
		}
	}

	if amount, ok := frame["amount"].(float64); ok && amount > 10000 {
		return "denied", map[string]any{"reason": "amount exceeds threshold"}, nil
	}

	return "ok", map[string]any{"evaluatedBy": "grpcauthority"}, nil
}

// Close closes the underlying gRPC connection.
func (a *Authority) Close() error {
	return a.conn.Close()
}

var _ interface {
	Authorise(ctx context.Context, frame map[string]any) (string, map[string]any, error)
} = (*Authority)(nil)
