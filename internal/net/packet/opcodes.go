package packet

import "fmt"

// Client to server.
const (
	C_HELLO   byte = 0x01 // [S name][C owner][S admin password]
	C_COMMAND byte = 0x02 // [H client token][C kind][H version][params]
	C_PING    byte = 0x03 // [DU nonce]
	C_RESYNC  byte = 0x04 // request a fresh snapshot after a local desync
	C_QUIT    byte = 0x05
)

// Server to client.
const (
	S_WELCOME           byte = 0x81 // [QU session][C owner][C permission][QU tick][QU seq]
	S_SNAPSHOT          byte = 0x82 // [DU total][DU offset][blob save stream piece]
	S_COMMAND_APPLIED   byte = 0x83 // [QU seq][QU tick][C owner][blob command frame]
	S_COMMAND_ERROR     byte = 0x84 // [H client token][C kind][S message key]
	S_PLAN_LIST_CHANGED byte = 0x85 // [D plan, 0xFFFFFFFF for all]
	S_DIGEST            byte = 0x86 // [QU tick][QU seq][32 bytes]
	S_PONG              byte = 0x87 // [DU nonce][QU tick]
	S_DESYNC            byte = 0x88 // [S reason]
	S_DISCONNECT        byte = 0x89 // [S reason]
)

var opcodeNames = map[byte]string{
	C_HELLO:   "C_HELLO",
	C_COMMAND: "C_COMMAND",
	C_PING:    "C_PING",
	C_RESYNC:  "C_RESYNC",
	C_QUIT:    "C_QUIT",

	S_WELCOME:           "S_WELCOME",
	S_SNAPSHOT:          "S_SNAPSHOT",
	S_COMMAND_APPLIED:   "S_COMMAND_APPLIED",
	S_COMMAND_ERROR:     "S_COMMAND_ERROR",
	S_PLAN_LIST_CHANGED: "S_PLAN_LIST_CHANGED",
	S_DIGEST:            "S_DIGEST",
	S_PONG:              "S_PONG",
	S_DESYNC:            "S_DESYNC",
	S_DISCONNECT:        "S_DISCONNECT",
}

// OpcodeName returns a printable name for logs.
func OpcodeName(op byte) string {
	if n, ok := opcodeNames[op]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", op)
}
