package protocol

import (
	"fmt"
	"strconv"
	"time"
)

// Payload is the typed form of an envelope. Each kind has exactly one
// payload type.
type Payload interface {
	Kind() Kind
	Fields() []string
}

// Encode turns a typed payload into an envelope.
func Encode(p Payload) Envelope {
	return New(p.Kind(), p.Fields()...)
}

// ConnectRequest is the handshake a client must send first.
type ConnectRequest struct {
	Nickname string
}

// ConnectionAccepted answers a handshake with the assigned identity and
// the identities of the peers already online.
type ConnectionAccepted struct {
	Identity string
	Peers    []string
}

// NewUserOnline announces a freshly registered peer.
type NewUserOnline struct {
	Identity string
}

// UserOffline announces a peer that left.
type UserOffline struct {
	Identity string
}

// Message is a routed text message. Timestamp is carried verbatim.
type Message struct {
	Sender    string
	Recipient string
	Body      string
	Timestamp string
}

// MessageNotDelivered tells a sender its recipient was offline and the
// message was queued.
type MessageNotDelivered struct {
	Recipient string
	Body      string
}

// AddContact asks to add Contact to User's contact book.
type AddContact struct {
	User    string
	Contact string
}

// ContactAdded answers AddContact.
type ContactAdded struct {
	Contact string
	Online  bool
}

// RequestOnlineUsers asks for the list of registered identities.
type RequestOnlineUsers struct{}

// OnlineUsers answers RequestOnlineUsers.
type OnlineUsers struct {
	Identities []string
}

// ChangeStatus asks to change the sender's presence status.
type ChangeStatus struct {
	Status string
}

// StatusChanged announces a peer's new presence status.
type StatusChanged struct {
	Identity string
	Status   string
}

// Ping is a client heartbeat.
type Ping struct{}

// Pong answers Ping.
type Pong struct{}

// DisconnectRequest asks the server to close the connection gracefully.
type DisconnectRequest struct{}

// ServerShuttingDown is sent to every client before a forced shutdown.
type ServerShuttingDown struct{}

// Kind methods tie each payload to the envelope kind it travels as.
func (ConnectRequest) Kind() Kind { return KindConnectRequest }
func (ConnectionAccepted) Kind() Kind { return KindConnectionAccepted }
func (NewUserOnline) Kind() Kind { return KindNewUserOnline }
func (UserOffline) Kind() Kind { return KindUserOffline }
func (Message) Kind() Kind { return KindMessage }
func (MessageNotDelivered) Kind() Kind { return KindMessageNotDelivered }
func (AddContact) Kind() Kind { return KindAddContact }
func (ContactAdded) Kind() Kind { return KindContactAdded }
func (RequestOnlineUsers) Kind() Kind { return KindRequestOnlineUsers }
func (OnlineUsers) Kind() Kind { return KindOnlineUsers }
func (ChangeStatus) Kind() Kind { return KindChangeStatus }
func (StatusChanged) Kind() Kind { return KindStatusChanged }
func (Ping) Kind() Kind { return KindPing }
func (Pong) Kind() Kind { return KindPong }
func (DisconnectRequest) Kind() Kind { return KindDisconnectRequest }
func (ServerShuttingDown) Kind() Kind { return KindServerShuttingDown }

// Fields methods list each payload's values in wire order.
func (p ConnectRequest) Fields() []string { return []string{p.Nickname} }

func (p ConnectionAccepted) Fields() []string {
	return append([]string{p.Identity}, p.Peers...)
}

func (p NewUserOnline) Fields() []string { return []string{p.Identity} }
func (p UserOffline) Fields() []string { return []string{p.Identity} }

func (p Message) Fields() []string {
	return []string{p.Sender, p.Recipient, p.Body, p.Timestamp}
}

func (p MessageNotDelivered) Fields() []string { return []string{p.Recipient, p.Body} }
func (p AddContact) Fields() []string { return []string{p.User, p.Contact} }

func (p ContactAdded) Fields() []string {
	return []string{p.Contact, strconv.FormatBool(p.Online)}
}

func (RequestOnlineUsers) Fields() []string { return nil }

func (p OnlineUsers) Fields() []string {
	return append([]string(nil), p.Identities...)
}

func (p ChangeStatus) Fields() []string { return []string{p.Status} }
func (p StatusChanged) Fields() []string { return []string{p.Identity, p.Status} }
func (Ping) Fields() []string { return nil }
func (Pong) Fields() []string { return nil }
func (DisconnectRequest) Fields() []string { return nil }
func (ServerShuttingDown) Fields() []string { return nil }

// Now returns the default message timestamp: Unix time in milliseconds.
var Now = func() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// Decode returns the typed payload carried by the envelope. It fails with
// ErrUnknownKind for kinds outside the protocol and ErrMalformed when the
// envelope is missing fields its kind requires. Extra fields are ignored.
func (e Envelope) Decode() (Payload, error) {
	want, ok := minFields[e.kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(e.kind))
	}
	if len(e.fields) < want {
		return nil, fmt.Errorf("%w: %s needs %d fields, got %d", ErrMalformed, e.kind, want, len(e.fields))
	}

	f := e.fields
	switch e.kind {
	case KindConnectRequest:
		return ConnectRequest{Nickname: f[0]}, nil
	case KindConnectionAccepted:
		return ConnectionAccepted{Identity: f[0], Peers: append([]string{}, f[1:]...)}, nil
	case KindNewUserOnline:
		return NewUserOnline{Identity: f[0]}, nil
	case KindUserOffline:
		return UserOffline{Identity: f[0]}, nil
	case KindMessage:
		ts := ""
		if len(f) > 3 {
			ts = f[3]
		}
		if ts == "" {
			ts = Now()
		}
		return Message{Sender: f[0], Recipient: f[1], Body: f[2], Timestamp: ts}, nil
	case KindMessageNotDelivered:
		return MessageNotDelivered{Recipient: f[0], Body: f[1]}, nil
	case KindAddContact:
		return AddContact{User: f[0], Contact: f[1]}, nil
	case KindContactAdded:
		online, err := strconv.ParseBool(f[1])
		if err != nil {
			return nil, fmt.Errorf("%w: %s online flag %q", ErrMalformed, e.kind, f[1])
		}
		return ContactAdded{Contact: f[0], Online: online}, nil
	case KindRequestOnlineUsers:
		return RequestOnlineUsers{}, nil
	case KindOnlineUsers:
		return OnlineUsers{Identities: append([]string{}, f...)}, nil
	case KindChangeStatus:
		return ChangeStatus{Status: f[0]}, nil
	case KindStatusChanged:
		return StatusChanged{Identity: f[0], Status: f[1]}, nil
	case KindPing:
		return Ping{}, nil
	case KindPong:
		return Pong{}, nil
	case KindDisconnectRequest:
		return DisconnectRequest{}, nil
	case KindServerShuttingDown:
		return ServerShuttingDown{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, string(e.kind))
}
