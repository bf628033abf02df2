package ops

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// executeCodeMargin is added to the user-supplied execution timeout so the
// plugin's own timeout error wins over the transport's.
const executeCodeMargin = 2 * time.Second

// invokeFunc sends one method call over a transport. A zero timeout means
// the transport's default.
type invokeFunc func(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error)

// operations implements the typed half of [Connector] on top of an
// invokeFunc. Transports embed it.
type operations struct {
	invoke invokeFunc
}

func required(name, v string) error {
	if v == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, name)
	}
	return nil
}

func (o operations) UpdateVariable(ctx context.Context, p UpdateVariableParams) (json.RawMessage, error) {
	if err := required("variableId", p.VariableID); err != nil {
		return nil, err
	}
	if err := required("modeId", p.ModeID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodUpdateVariable, p, 0)
}

func (o operations) CreateVariable(ctx context.Context, p CreateVariableParams) (json.RawMessage, error) {
	if err := required("name", p.Name); err != nil {
		return nil, err
	}
	if err := required("collectionId", p.CollectionID); err != nil {
		return nil, err
	}
	if err := required("resolvedType", p.ResolvedType); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodCreateVariable, p, 0)
}

func (o operations) DeleteVariable(ctx context.Context, variableID string) (json.RawMessage, error) {
	if err := required("variableId", variableID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodDeleteVariable, map[string]any{"variableId": variableID}, 0)
}

func (o operations) RenameVariable(ctx context.Context, variableID, newName string) (json.RawMessage, error) {
	if err := required("variableId", variableID); err != nil {
		return nil, err
	}
	if err := required("newName", newName); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodRenameVariable, map[string]any{"variableId": variableID, "newName": newName}, 0)
}

func (o operations) CreateVariableCollection(ctx context.Context, p CreateCollectionParams) (json.RawMessage, error) {
	if err := required("name", p.Name); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodCreateVariableCollection, p, 0)
}

func (o operations) DeleteVariableCollection(ctx context.Context, collectionID string) (json.RawMessage, error) {
	if err := required("collectionId", collectionID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodDeleteVariableCollection, map[string]any{"collectionId": collectionID}, 0)
}

func (o operations) SetVariableDescription(ctx context.Context, variableID, description string) (json.RawMessage, error) {
	if err := required("variableId", variableID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodSetVariableDescription, map[string]any{"variableId": variableID, "description": description}, 0)
}

// ExecuteCode runs code inside the plugin. A zero timeout leaves the
// plugin's own default in place.
func (o operations) ExecuteCode(ctx context.Context, code string, timeout time.Duration) (json.RawMessage, error) {
	if err := required("code", code); err != nil {
		return nil, err
	}
	params := map[string]any{"code": code}
	var callTimeout time.Duration
	if timeout > 0 {
		params["timeout"] = timeout.Milliseconds()
		callTimeout = timeout + executeCodeMargin
	}
	return o.invoke(ctx, MethodExecuteCode, params, callTimeout)
}

func (o operations) ResizeNode(ctx context.Context, p ResizeNodeParams) (json.RawMessage, error) {
	if err := required("nodeId", p.NodeID); err != nil {
		return nil, err
	}
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("%w: width and height must be positive", ErrInvalidArgument)
	}
	return o.invoke(ctx, MethodResizeNode, p, 0)
}

func (o operations) MoveNode(ctx context.Context, nodeID string, x, y float64) (json.RawMessage, error) {
	if err := required("nodeId", nodeID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodMoveNode, map[string]any{"nodeId": nodeID, "x": x, "y": y}, 0)
}

func (o operations) SetNodeFills(ctx context.Context, nodeID string, fills []Paint) (json.RawMessage, error) {
	if err := required("nodeId", nodeID); err != nil {
		return nil, err
	}
	if fills == nil {
		fills = []Paint{}
	}
	return o.invoke(ctx, MethodSetNodeFills, map[string]any{"nodeId": nodeID, "fills": fills}, 0)
}

func (o operations) SetNodeStrokes(ctx context.Context, p SetStrokesParams) (json.RawMessage, error) {
	if err := required("nodeId", p.NodeID); err != nil {
		return nil, err
	}
	if p.Strokes == nil {
		p.Strokes = []Paint{}
	}
	return o.invoke(ctx, MethodSetNodeStrokes, p, 0)
}

func (o operations) SetTextContent(ctx context.Context, p SetTextParams) (json.RawMessage, error) {
	if err := required("nodeId", p.NodeID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodSetTextContent, p, 0)
}

func (o operations) CloneNode(ctx context.Context, nodeID string) (json.RawMessage, error) {
	if err := required("nodeId", nodeID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodCloneNode, map[string]any{"nodeId": nodeID}, 0)
}

func (o operations) DeleteNode(ctx context.Context, nodeID string) (json.RawMessage, error) {
	if err := required("nodeId", nodeID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodDeleteNode, map[string]any{"nodeId": nodeID}, 0)
}

func (o operations) RenameNode(ctx context.Context, nodeID, newName string) (json.RawMessage, error) {
	if err := required("nodeId", nodeID); err != nil {
		return nil, err
	}
	if err := required("newName", newName); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodRenameNode, map[string]any{"nodeId": nodeID, "newName": newName}, 0)
}

func (o operations) CreateChildNode(ctx context.Context, p CreateChildParams) (json.RawMessage, error) {
	if err := required("parentId", p.ParentID); err != nil {
		return nil, err
	}
	if err := required("nodeType", p.NodeType); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodCreateChildNode, p, 0)
}

func (o operations) InstantiateComponent(ctx context.Context, p InstantiateParams) (json.RawMessage, error) {
	if p.ComponentKey == "" && p.NodeID == "" {
		return nil, fmt.Errorf("%w: componentKey or nodeId is required", ErrInvalidArgument)
	}
	return o.invoke(ctx, MethodInstantiateComponent, p, 0)
}

func (o operations) SetInstanceProperties(ctx context.Context, nodeID string, properties map[string]any) (json.RawMessage, error) {
	if err := required("nodeId", nodeID); err != nil {
		return nil, err
	}
	if len(properties) == 0 {
		return nil, fmt.Errorf("%w: properties are required", ErrInvalidArgument)
	}
	return o.invoke(ctx, MethodSetInstanceProperties, map[string]any{"nodeId": nodeID, "properties": properties}, 0)
}

func (o operations) GetVariables(ctx context.Context) (json.RawMessage, error) {
	return o.invoke(ctx, MethodGetVariables, nil, 0)
}

func (o operations) GetComponent(ctx context.Context, nodeID string) (json.RawMessage, error) {
	if err := required("nodeId", nodeID); err != nil {
		return nil, err
	}
	return o.invoke(ctx, MethodGetComponent, map[string]any{"nodeId": nodeID}, 0)
}

func (o operations) GetSelection(ctx context.Context) (json.RawMessage, error) {
	return o.invoke(ctx, MethodGetSelection, nil, 0)
}

func (o operations) CaptureScreenshot(ctx context.Context, p ScreenshotParams) (Screenshot, error) {
	raw, err := o.invoke(ctx, MethodCaptureScreenshot, p, 0)
	if err != nil {
		return Screenshot{}, err
	}
	return decodeScreenshot(raw)
}
