// Package ops is the operation façade used by the tool layer. Each
// operation is a typed wrapper that packages its arguments as
// {method, params} and hands them to a transport: the plugin socket
// ([SocketConnector]) or a DevTools debugging endpoint ([CDPConnector]).
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/koltyakov/plugbridge/internal/domain"
)

// ErrInvalidArgument is returned before any I/O when a required argument is
// missing.
var ErrInvalidArgument = errors.New("invalid argument")

// Connector is implemented by every transport. Callers pick one with
// [Select] and never branch on which one they got.
type Connector interface {
	Name() string
	Available(ctx context.Context) bool

	UpdateVariable(ctx context.Context, p UpdateVariableParams) (json.RawMessage, error)
	CreateVariable(ctx context.Context, p CreateVariableParams) (json.RawMessage, error)
	DeleteVariable(ctx context.Context, variableID string) (json.RawMessage, error)
	RenameVariable(ctx context.Context, variableID, newName string) (json.RawMessage, error)
	CreateVariableCollection(ctx context.Context, p CreateCollectionParams) (json.RawMessage, error)
	DeleteVariableCollection(ctx context.Context, collectionID string) (json.RawMessage, error)
	SetVariableDescription(ctx context.Context, variableID, description string) (json.RawMessage, error)

	ExecuteCode(ctx context.Context, code string, timeout time.Duration) (json.RawMessage, error)

	ResizeNode(ctx context.Context, p ResizeNodeParams) (json.RawMessage, error)
	MoveNode(ctx context.Context, nodeID string, x, y float64) (json.RawMessage, error)
	SetNodeFills(ctx context.Context, nodeID string, fills []Paint) (json.RawMessage, error)
	SetNodeStrokes(ctx context.Context, p SetStrokesParams) (json.RawMessage, error)
	SetTextContent(ctx context.Context, p SetTextParams) (json.RawMessage, error)
	CloneNode(ctx context.Context, nodeID string) (json.RawMessage, error)
	DeleteNode(ctx context.Context, nodeID string) (json.RawMessage, error)
	RenameNode(ctx context.Context, nodeID, newName string) (json.RawMessage, error)
	CreateChildNode(ctx context.Context, p CreateChildParams) (json.RawMessage, error)

	InstantiateComponent(ctx context.Context, p InstantiateParams) (json.RawMessage, error)
	SetInstanceProperties(ctx context.Context, nodeID string, properties map[string]any) (json.RawMessage, error)

	GetVariables(ctx context.Context) (json.RawMessage, error)
	GetComponent(ctx context.Context, nodeID string) (json.RawMessage, error)
	GetSelection(ctx context.Context) (json.RawMessage, error)
	CaptureScreenshot(ctx context.Context, p ScreenshotParams) (Screenshot, error)
}

// Select returns the first connector that reports itself available, in the
// order given. Pass the socket connector first to prefer it.
func Select(ctx context.Context, connectors ...Connector) (Connector, error) {
	for _, c := range connectors {
		if c == nil {
			continue
		}
		if c.Available(ctx) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no connector available", domain.ErrTransportUnavailable)
}
