package ops

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Plugin method names understood by the host-side dispatcher.
const (
	MethodUpdateVariable           = "UPDATE_VARIABLE"
	MethodCreateVariable           = "CREATE_VARIABLE"
	MethodDeleteVariable           = "DELETE_VARIABLE"
	MethodRenameVariable           = "RENAME_VARIABLE"
	MethodCreateVariableCollection = "CREATE_VARIABLE_COLLECTION"
	MethodDeleteVariableCollection = "DELETE_VARIABLE_COLLECTION"
	MethodSetVariableDescription   = "SET_VARIABLE_DESCRIPTION"
	MethodExecuteCode              = "EXECUTE_CODE"
	MethodResizeNode               = "RESIZE_NODE"
	MethodMoveNode                 = "MOVE_NODE"
	MethodSetNodeFills             = "SET_NODE_FILLS"
	MethodSetNodeStrokes           = "SET_NODE_STROKES"
	MethodSetTextContent           = "SET_TEXT_CONTENT"
	MethodCloneNode                = "CLONE_NODE"
	MethodDeleteNode               = "DELETE_NODE"
	MethodRenameNode               = "RENAME_NODE"
	MethodCreateChildNode          = "CREATE_CHILD_NODE"
	MethodInstantiateComponent     = "INSTANTIATE_COMPONENT"
	MethodSetInstanceProperties    = "SET_INSTANCE_PROPERTIES"
	MethodGetVariables             = "GET_VARIABLES_DATA"
	MethodGetComponent             = "GET_COMPONENT"
	MethodGetSelection             = "GET_SELECTION"
	MethodCaptureScreenshot        = "CAPTURE_SCREENSHOT"
)

type UpdateVariableParams struct {
	VariableID string `json:"variableId"`
	ModeID     string `json:"modeId"`
	Value      any    `json:"value"`
}

type CreateVariableParams struct {
	Name         string         `json:"name"`
	CollectionID string         `json:"collectionId"`
	ResolvedType string         `json:"resolvedType"`
	Description  string         `json:"description,omitempty"`
	ValuesByMode map[string]any `json:"valuesByMode,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
}

type CreateCollectionParams struct {
	Name            string   `json:"name"`
	InitialModeName string   `json:"initialModeName,omitempty"`
	AdditionalModes []string `json:"additionalModes,omitempty"`
}

type ResizeNodeParams struct {
	NodeID          string  `json:"nodeId"`
	Width           float64 `json:"width"`
	Height          float64 `json:"height"`
	WithConstraints bool    `json:"withConstraints"`
}

// Paint is a solid paint. Color is a hex string such as "#FF0000".
type Paint struct {
	Type    string   `json:"type"`
	Color   string   `json:"color"`
	Opacity *float64 `json:"opacity,omitempty"`
}

type SetStrokesParams struct {
	NodeID       string   `json:"nodeId"`
	Strokes      []Paint  `json:"strokes"`
	StrokeWeight *float64 `json:"strokeWeight,omitempty"`
}

type SetTextParams struct {
	NodeID   string  `json:"nodeId"`
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize,omitempty"`
}

type CreateChildParams struct {
	ParentID   string         `json:"parentId"`
	NodeType   string         `json:"nodeType"`
	Properties map[string]any `json:"properties,omitempty"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// InstantiateParams identifies the component by key (library component) or
// by node id (local component). One of them is required.
type InstantiateParams struct {
	ComponentKey string            `json:"componentKey,omitempty"`
	NodeID       string            `json:"nodeId,omitempty"`
	ParentID     string            `json:"parentId,omitempty"`
	Position     *Point            `json:"position,omitempty"`
	Variant      map[string]string `json:"variant,omitempty"`
	Overrides    map[string]any    `json:"overrides,omitempty"`
}

type ScreenshotParams struct {
	NodeID string  `json:"nodeId,omitempty"`
	Format string  `json:"format,omitempty"`
	Scale  float64 `json:"scale,omitempty"`
}

// Screenshot is an image rendered by the plugin, base64-encoded.
type Screenshot struct {
	Base64 string  `json:"base64"`
	Format string  `json:"format"`
	Scale  float64 `json:"scale"`
}

// Bytes decodes the image payload.
func (s Screenshot) Bytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(s.Base64)
}

// decodeScreenshot accepts both {"image": {...}} and a bare image object.
func decodeScreenshot(raw json.RawMessage) (Screenshot, error) {
	var wrapped struct {
		Image *Screenshot `json:"image"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return Screenshot{}, fmt.Errorf("decode screenshot: %w", err)
	}
	if wrapped.Image != nil {
		return *wrapped.Image, nil
	}
	var shot Screenshot
	if err := json.Unmarshal(raw, &shot); err != nil {
		return Screenshot{}, fmt.Errorf("decode screenshot: %w", err)
	}
	if shot.Base64 == "" {
		return Screenshot{}, fmt.Errorf("decode screenshot: empty image")
	}
	return shot, nil
}
