// Package def holds the wire types, sizes and error kinds shared by every
// QSMP package: codec, record, kschedule, kex, connstate, conntable and
// server all import def instead of redeclaring these constants.
package def

import "time"

// Flag identifies the kind of a packet on the wire.
type Flag uint8

const (
	FlagNone Flag = iota
	FlagAnnounce
	FlagConnectRequest
	FlagConnectResponse
	FlagExchangeRequest
	FlagExchangeResponse
	FlagEstablishRequest
	FlagEstablishResponse
	FlagEncryptedMessage
	FlagConnectionTerminate
	FlagKeepAlive
	FlagErrorCondition
)

func (f Flag) String() string {
	switch f {
	case FlagNone:
		return "none"
	case FlagAnnounce:
		return "announce"
	case FlagConnectRequest:
		return "connect_request"
	case FlagConnectResponse:
		return "connect_response"
	case FlagExchangeRequest:
		return "exchange_request"
	case FlagExchangeResponse:
		return "exchange_response"
	case FlagEstablishRequest:
		return "establish_request"
	case FlagEstablishResponse:
		return "establish_response"
	case FlagEncryptedMessage:
		return "encrypted_message"
	case FlagConnectionTerminate:
		return "connection_terminate"
	case FlagKeepAlive:
		return "keep_alive"
	case FlagErrorCondition:
		return "error_condition"
	default:
		return "unknown"
	}
}

// KexFlag tracks the handshake stage of one connection.
type KexFlag uint8

const (
	KexNone KexFlag = iota
	KexConnect
	KexExchange
	KexEstablish
	KexSession
	KexError
)

// Wire layout sizes, all from the protocol's design-level constants.
const (
	HeaderSize  = 21 // flag(1) + sequence(8) + utc(8) + msg_length(4)
	KeyIDSize   = 16
	STokenSize  = 32
	PKCodeSize  = 32
	TagBytes    = 16
	MacKeySize  = 32

	ConnectionsInit = 256
	ConnectionsMax  = 8192
	ServerPort      = 2201
	ConnectionMTU   = 65535

	KeepaliveWindow = 120 * time.Second
	HandshakeSkew   = 30 * time.Second
)

// DefaultConfigString is compared byte-for-byte during the handshake; a
// mismatch aborts with ErrUnknownProtocol. Format:
// "qsmp_<kem>_<sig>_<cipher>_<xof>".
const DefaultConfigString = "qsmp_mlkem768_dilithium2_xchacha20poly1305_shake256"

// QSMPError enumerates the error kinds from the error-handling design.
type QSMPError int

const (
	ErrNone QSMPError = iota
	ErrAcceptFail
	ErrListenerFail
	ErrConnectionFailure
	ErrChannelDown
	ErrAuthenticationFailure
	ErrDecryptionFailure
	ErrPacketUnsequenced
	ErrPacketExpired
	ErrPacketTimeInvalid
	ErrUnknownProtocol
	ErrKeyNotRecognized
	ErrExpiredKey
	ErrMemoryAllocation
	ErrHostsExceeded
)

func (e QSMPError) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrAcceptFail:
		return "accept_fail"
	case ErrListenerFail:
		return "listener_fail"
	case ErrConnectionFailure:
		return "connection_failure"
	case ErrChannelDown:
		return "channel_down"
	case ErrAuthenticationFailure:
		return "authentication_failure"
	case ErrDecryptionFailure:
		return "decryption_failure"
	case ErrPacketUnsequenced:
		return "packet_unsequenced"
	case ErrPacketExpired:
		return "packet_expired"
	case ErrPacketTimeInvalid:
		return "packet_time_invalid"
	case ErrUnknownProtocol:
		return "unknown_protocol"
	case ErrKeyNotRecognized:
		return "key_not_recognized"
	case ErrExpiredKey:
		return "expired_key"
	case ErrMemoryAllocation:
		return "memory_allocation"
	case ErrHostsExceeded:
		return "hosts_exceeded"
	default:
		return "unknown_error"
	}
}

// Error adapts QSMPError to the error interface so it can be returned and
// wrapped with github.com/pkg/errors like any other error value.
func (e QSMPError) Error() string { return e.String() }

// Packet is one wire record: a Header plus its payload.
type Packet struct {
	Flag      Flag
	Sequence  uint64
	UTC       uint64
	MsgLength uint32
	Payload   []byte
}
