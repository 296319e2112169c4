// Package record defines the captured request record and its single-line
// capture log rendering:
//
//	epoch_seconds,PROTO{4|6},peer_address,peer_port,"payload"
//
// The payload is the first line a peer sent, bounded and trimmed. Inside the
// quotes a double quote is doubled, a backslash is written as \\, and control
// bytes or invalid UTF-8 are written as \xNN, so a record is always exactly
// one line of text and Parse can read it back.
package record
