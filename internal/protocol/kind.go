// Package protocol defines the envelope exchanged between relay clients and
// the server, the closed set of command kinds, and the JSON wire codec.
package protocol

// Kind tags an envelope with the command it carries.
type Kind string

// Command kinds understood by the relay.
const (
	KindConnectRequest      Kind = "CONNECT_REQUEST"
	KindConnectionAccepted  Kind = "CONNECTION_ACCEPTED"
	KindNewUserOnline       Kind = "NEW_USER_ONLINE"
	KindUserOffline         Kind = "USER_OFFLINE"
	KindMessage             Kind = "MESSAGE"
	KindMessageNotDelivered Kind = "MESSAGE_NOT_DELIVERED"
	KindAddContact          Kind = "ADD_CONTACT"
	KindContactAdded        Kind = "CONTACT_ADDED"
	KindRequestOnlineUsers  Kind = "REQUEST_ONLINE_USERS"
	KindOnlineUsers         Kind = "ONLINE_USERS"
	KindChangeStatus        Kind = "CHANGE_STATUS"
	KindStatusChanged       Kind = "STATUS_CHANGED"
	KindPing                Kind = "PING"
	KindPong                Kind = "PONG"
	KindDisconnectRequest   Kind = "DISCONNECT_REQUEST"
	KindServerShuttingDown  Kind = "SERVER_SHUTTING_DOWN"
)

// minFields is the number of fields each kind needs to decode.
var minFields = map[Kind]int{
	KindConnectRequest:      1,
	KindConnectionAccepted:  1,
	KindNewUserOnline:       1,
	KindUserOffline:         1,
	KindMessage:             3,
	KindMessageNotDelivered: 2,
	KindAddContact:          2,
	KindContactAdded:        2,
	KindRequestOnlineUsers:  0,
	KindOnlineUsers:         0,
	KindChangeStatus:        1,
	KindStatusChanged:       2,
	KindPing:                0,
	KindPong:                0,
	KindDisconnectRequest:   0,
	KindServerShuttingDown:  0,
}

// Known reports whether k is one of the defined command kinds.
func (k Kind) Known() bool {
	_, ok := minFields[k]
	return ok
}

// FromClient reports whether clients are allowed to send k to the server.
func (k Kind) FromClient() bool {
	switch k {
	case KindConnectRequest, KindMessage, KindAddContact, KindRequestOnlineUsers,
		KindChangeStatus, KindPing, KindDisconnectRequest:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}
