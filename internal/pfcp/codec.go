package pfcp

import (
	"fmt"

	"github.com/wmnsk/go-pfcp/ie"
	"github.com/wmnsk/go-pfcp/message"
)

// Encode serializes a PFCP message to bytes.
func Encode(msg message.Message) ([]byte, error) {
	b := make([]byte, msg.MarshalLen())
	if err := msg.MarshalTo(b); err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", MessageTypeName(msg.MessageType()), err)
	}
	return b, nil
}

// Decode parses raw bytes into a PFCP message.
func Decode(data []byte) (message.Message, error) {
	msg, err := message.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PFCP message: %w", err)
	}
	return msg, nil
}

// ResponseCause returns the Cause of a response message.
func ResponseCause(msg message.Message) (uint8, error) {
	var c *ie.IE
	switch m := msg.(type) {
	case *message.AssociationSetupResponse:
		c = m.Cause
	case *message.SessionEstablishmentResponse:
		c = m.Cause
	case *message.SessionModificationResponse:
		c = m.Cause
	case *message.SessionDeletionResponse:
		c = m.Cause
	default:
		return 0, fmt.Errorf("%s carries no cause", MessageTypeName(msg.MessageType()))
	}
	if c == nil {
		return 0, fmt.Errorf("no Cause IE in %s", MessageTypeName(msg.MessageType()))
	}
	return c.Cause()
}

// RemoteSEID extracts the user-plane SEID from a Session Establishment Response.
func RemoteSEID(msg *message.SessionEstablishmentResponse) (uint64, error) {
	if msg.UPFSEID == nil {
		return 0, fmt.Errorf("no UP F-SEID in Session Establishment Response")
	}
	fseid, err := msg.UPFSEID.FSEID()
	if err != nil {
		return 0, fmt.Errorf("failed to parse UP F-SEID: %w", err)
	}
	return fseid.SEID, nil
}

// CauseName returns a readable name for the causes a user plane commonly sends.
func CauseName(cause uint8) string {
	switch cause {
	case ie.CauseRequestAccepted:
		return "RequestAccepted"
	case ie.CauseRequestRejected:
		return "RequestRejected"
	case ie.CauseSessionContextNotFound:
		return "SessionContextNotFound"
	case ie.CauseMandatoryIEMissing:
		return "MandatoryIEMissing"
	case ie.CauseNoResourcesAvailable:
		return "NoResourcesAvailable"
	case ie.CauseRuleCreationModificationFailure:
		return "RuleCreationModificationFailure"
	default:
		return fmt.Sprintf("Cause(%d)", cause)
	}
}

// MessageTypeName returns a human-readable name for a PFCP message type.
func MessageTypeName(msgType uint8) string {
	switch msgType {
	case message.MsgTypeHeartbeatRequest:
		return "HeartbeatRequest"
	case message.MsgTypeHeartbeatResponse:
		return "HeartbeatResponse"
	case message.MsgTypeAssociationSetupRequest:
		return "AssociationSetupRequest"
	case message.MsgTypeAssociationSetupResponse:
		return "AssociationSetupResponse"
	case message.MsgTypeSessionEstablishmentRequest:
		return "SessionEstablishmentRequest"
	case message.MsgTypeSessionEstablishmentResponse:
		return "SessionEstablishmentResponse"
	case message.MsgTypeSessionModificationRequest:
		return "SessionModificationRequest"
	case message.MsgTypeSessionModificationResponse:
		return "SessionModificationResponse"
	case message.MsgTypeSessionDeletionRequest:
		return "SessionDeletionRequest"
	case message.MsgTypeSessionDeletionResponse:
		return "SessionDeletionResponse"
	default:
		return fmt.Sprintf("Unknown(%d)", msgType)
	}
}
