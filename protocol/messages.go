// Package protocol implements the wire codec for the legacy Apollo
// graphql-ws subprotocol: message types, frame shape, and JSON framing.
package protocol

import "github.com/graphql-go/graphql/gqlerrors"

// Subprotocol is the WebSocket subprotocol name this module negotiates
// during the upgrade handshake.
// https://github.com/apollographql/subscriptions-transport-ws/blob/master/PROTOCOL.md
const Subprotocol = "graphql-ws"

// MessageType identifies the kind of frame carried over the socket.
type MessageType string

const (
	// client -> server
	MsgConnectionInit      MessageType = "connection_init"
	MsgStart               MessageType = "start"
	MsgStop                MessageType = "stop"
	MsgConnectionTerminate MessageType = "connection_terminate"

	// server -> client
	MsgConnectionAck   MessageType = "connection_ack"
	MsgConnectionKA    MessageType = "connection_ka"
	MsgConnectionError MessageType = "connection_error"
	MsgData            MessageType = "data"
	MsgError           MessageType = "error"
	MsgComplete        MessageType = "complete"
)

// OperationMessage is the envelope every graphql-ws frame uses, in both
// directions.
type OperationMessage struct {
	ID      string      `json:"id,omitempty"`
	Type    MessageType `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// StartPayload is the payload of a client "start" message.
type StartPayload struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
	OperationName string                 `json:"operationName,omitempty"`
}

// ExecutionResult is the payload of a "data" message: a GraphQL response.
type ExecutionResult struct {
	Errors     gqlerrors.FormattedErrors `json:"errors,omitempty"`
	Data       interface{}               `json:"data,omitempty"`
	Extensions map[string]interface{}    `json:"extensions,omitempty"`
}

// ErrorStyle controls how a single error payload is shaped on the wire.
type ErrorStyle string

const (
	// ErrorStyleLegacy emits a bare error object as the payload.
	ErrorStyleLegacy ErrorStyle = "legacy"
	// ErrorStyleCompliant wraps the error in {"errors": [...]} per the
	// GraphQL-over-HTTP response shape.
	ErrorStyleCompliant ErrorStyle = "compliant"
)

// QueryType distinguishes the two request-shape dialects the handshake
// path can select.
type QueryType string

const (
	QueryTypeHasura QueryType = "hasura"
	QueryTypeRelay  QueryType = "relay"
)

// FormatError shapes a single error message per the connection's error
// style. Compliant wraps it in an "errors" array; Legacy returns the
// bare object. Either way the result is suitable as an OperationMessage
// payload.
func FormatError(style ErrorStyle, message string) interface{} {
	body := map[string]interface{}{"message": message}
	if style == ErrorStyleCompliant {
		return map[string]interface{}{
			"errors": []interface{}{body},
		}
	}
	return body
}
