package packet

import "fmt"

// Opcode is the one-byte message tag that follows the frame length.
type Opcode byte

// Login phase.
const (
	LoginRequest      Opcode = 0x01
	LoginResponse     Opcode = 0x02
	RealmListRequest  Opcode = 0x03
	RealmListResponse Opcode = 0x04
)

// World phase.
const (
	WorldHandshake Opcode = 0x10
	WorldWelcome   Opcode = 0x11
	Disconnect     Opcode = 0x12
)

// World operations. GetHealth is reserved and has no handler.
const (
	Ping      Opcode = 0x20
	Pong      Opcode = 0x21
	SetState  Opcode = 0x22
	GetHealth Opcode = 0x23

	UpdatePlayerPosition          Opcode = 0x24
	QueryConnectedPlayers         Opcode = 0x25
	QueryConnectedPlayersResponse Opcode = 0x26
	WorldShutdown                 Opcode = 0x27
)

// Error is reserved for a future error reply.
const Error Opcode = 0xFF

var opcodeNames = map[Opcode]string{
	LoginRequest:                  "LoginRequest",
	LoginResponse:                 "LoginResponse",
	RealmListRequest:              "RealmListRequest",
	RealmListResponse:             "RealmListResponse",
	WorldHandshake:                "WorldHandshake",
	WorldWelcome:                  "WorldWelcome",
	Disconnect:                    "Disconnect",
	Ping:                          "Ping",
	Pong:                          "Pong",
	SetState:                      "SetState",
	GetHealth:                     "GetHealth",
	UpdatePlayerPosition:          "UpdatePlayerPosition",
	QueryConnectedPlayers:         "QueryConnectedPlayers",
	QueryConnectedPlayersResponse: "QueryConnectedPlayersResponse",
	WorldShutdown:                 "WorldShutdown",
	Error:                         "Error",
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("Opcode(0x%02X)", byte(op))
}
